package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"diffstudio/internal/config"
)

// rootFlags are the persistent flags shared by every subcommand. Flags win
// over environment variables, which win over the config file.
type rootFlags struct {
	configPath string
	family     string
	weightsDir string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "diffstudio",
		Short:         "VRAM-aware diffusion image generation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&f.family, "family", "", "Model family (see `diffstudio families`)")
	pf.StringVar(&f.weightsDir, "weights-dir", "", "Directory with <family>/<component> weight files")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&f.logFile, "log-file", "", "Also write JSON logs to this file (rotated)")

	root.AddCommand(newServeCmd(f), newGenerateCmd(f), newFamiliesCmd(f))
	return root
}

// load resolves the effective configuration.
func (f *rootFlags) load() (config.Config, error) {
	cfg := config.Defaults()
	if f.configPath != "" {
		fileCfg, err := config.Load(f.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Merge(cfg, fileCfg)
	}
	envCfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		return cfg, err
	}
	cfg = config.Merge(cfg, envCfg)
	cfg = config.Merge(cfg, config.Config{
		Family:     f.family,
		WeightsDir: f.weightsDir,
		LogLevel:   f.logLevel,
		LogFile:    f.logFile,
	})
	return cfg, cfg.Validate()
}

// newLogger writes human-readable logs to stderr and, with a log file, JSON
// lines to a rotated file.
func newLogger(cfg config.Config, stderr io.Writer) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	console := zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}
	if cfg.LogFile == "" {
		return zerolog.New(console).Level(level).With().Timestamp().Logger(), nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	w := zerolog.MultiLevelWriter(console, file)
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
