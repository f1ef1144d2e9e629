package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"diffstudio/internal/registry"
	"diffstudio/internal/studio"
)

func newFamiliesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List model families, their task buckets and footprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			reg, err := registry.LoadDir(cfg.WeightsDir)
			if err != nil {
				return err
			}
			return renderFamilies(cmd.OutOrStdout(), reg, cfg.Family)
		},
	}
}

func renderFamilies(w io.Writer, reg *registry.Registry, active string) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "FAMILY", "POLICY", "LOW VRAM", "BUCKETS", "EST. SIZE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, name := range studio.FamilyNames() {
		fam, err := studio.NewFamily(name, studio.FamilyOptions{Registry: reg})
		if err != nil {
			return err
		}
		var buckets []string
		var est int64
		for _, b := range fam.Buckets() {
			var tasks []string
			for _, t := range fam.TasksIn(b) {
				tasks = append(tasks, t.String())
			}
			buckets = append(buckets, fmt.Sprintf("%s(%s)", b, strings.Join(tasks, ",")))
			est = max(est, fam.Estimate(b))
		}
		mark := ""
		if name == active {
			mark = "*"
		}
		table.Append([]string{mark, name, fam.Policy.String(), fmt.Sprint(fam.LowVRAM),
			strings.Join(buckets, " "), humanize.IBytes(uint64(est))})
	}
	table.Render()
	return nil
}
