package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"diffstudio/internal/manager"
	"diffstudio/internal/studio"
)

// fileSaver writes every image as <out>/<task>/<request id>-<n>.png.
type fileSaver struct {
	dir  string
	next map[string]int
}

func (s *fileSaver) Save(_ context.Context, res studio.Result, imgs []image.Image) ([]string, error) {
	dir := filepath.Join(s.dir, res.Task.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if s.next == nil {
		s.next = make(map[string]int)
	}
	paths := make([]string, 0, len(imgs))
	for _, img := range imgs {
		n := s.next[res.RequestID]
		s.next[res.RequestID] = n + 1
		p := filepath.Join(dir, fmt.Sprintf("%s-%d.png", res.RequestID, n))
		if err := writePNG(p, img); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// parseParamFlags turns repeated key=value flags into the parameter map.
// Values that parse as JSON (numbers, booleans, arrays) keep their type;
// everything else is a string. A value starting with @ is read from a file
// and base64-encoded, for images.
func parseParamFlags(kvs []string, m map[string]any) error {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("--param %q: want key=value", kv)
		}
		if strings.HasPrefix(v, "@") {
			img, err := readImageFile(v[1:])
			if err != nil {
				return err
			}
			m[k] = img
			continue
		}
		var typed any
		if err := json.Unmarshal([]byte(v), &typed); err == nil {
			m[k] = typed
		} else {
			m[k] = v
		}
	}
	return nil
}

func readImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func newGenerateCmd(f *rootFlags) *cobra.Command {
	var (
		prompt     string
		params     []string
		paramsFile string
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "generate <task>",
		Short: "Run one generation and write PNG files",
		Example: `  diffstudio generate t2i --prompt "a red ball" --param input_seed=42 --param w=512 --param h=512
  diffstudio generate inpaint --param init_image=@photo.png --param image_mask=@mask.png --param region=mask`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := manager.ParseTaskKind(args[0])
			if err != nil {
				return err
			}
			m := map[string]any{}
			if paramsFile != "" {
				raw, err := os.ReadFile(paramsFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &m); err != nil {
					return fmt.Errorf("parse %s: %w", paramsFile, err)
				}
			}
			if err := parseParamFlags(params, m); err != nil {
				return err
			}
			if prompt != "" {
				m["prompt"] = prompt
			}
			p, err := studio.ParseParams(m)
			if err != nil {
				return err
			}

			cfg, err := f.load()
			if err != nil {
				return err
			}
			log, closer := newLogger(cfg, cmd.ErrOrStderr())
			defer closer.Close()
			a, err := newApp(cfg, log, studioOptions{saver: &fileSaver{dir: outDir}})
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			res, err := a.studio.Generate(cmd.Context(), task, p)
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res, a.pool.Peak())
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Parameter key=value (repeatable; @file loads an image)")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "JSON file with the parameter map")
	cmd.Flags().StringVar(&outDir, "out", "outputs", "Output directory")
	return cmd
}

func renderResult(w io.Writer, res studio.Result, peak int64) {
	fmt.Fprintf(w, "request %s  task %s  family %s  seed %d  took %s  peak %s\n",
		res.RequestID, res.Task, res.Family, res.Seed, res.Duration.Round(1e6), humanize.IBytes(uint64(peak)))
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "SIZE", "FILE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for i, img := range res.Images {
		b := img.Bounds()
		path := ""
		if i < len(res.Paths) {
			path = res.Paths[i]
		}
		table.Append([]string{fmt.Sprint(i), fmt.Sprintf("%dx%d", b.Dx(), b.Dy()), path})
	}
	table.Render()
}
