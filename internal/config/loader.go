package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override (DIFFSTUDIO_FAMILY, ...).
const EnvPrefix = "DIFFSTUDIO_"

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// Family selects the model family served by this process.
	Family     string `json:"family" yaml:"family" toml:"family"`
	WeightsDir string `json:"weights_dir" yaml:"weights_dir" toml:"weights_dir"`
	// Device names the accelerator (cuda, cpu).
	Device       string `json:"device" yaml:"device" toml:"device"`
	VRAMBudgetMB int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	// MinibatchSize caps images per denoiser load in low-VRAM families.
	MinibatchSize int    `json:"minibatch_size" yaml:"minibatch_size" toml:"minibatch_size"`
	Precision     string `json:"precision" yaml:"precision" toml:"precision"`
	MaxQueueDepth int    `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int    `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	// HistoryDB is the sqlite file recording generations; empty disables history.
	HistoryDB       string   `json:"history_db" yaml:"history_db" toml:"history_db"`
	LogLevel        string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile         string   `json:"log_file" yaml:"log_file" toml:"log_file"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	InferTimeoutSec int      `json:"infer_timeout_sec" yaml:"infer_timeout_sec" toml:"infer_timeout_sec"`
	// MaxBodyMB caps /generate request bodies; base64 images count against it.
	MaxBodyMB int `json:"max_body_mb" yaml:"max_body_mb" toml:"max_body_mb"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:          ":18080",
		Family:        "kd31-lowvram",
		WeightsDir:    "~/diffstudio/weights",
		Device:        "cuda",
		MinibatchSize: 1,
		Precision:     "float16",
		MaxQueueDepth: 8,
		MaxWaitMS:     30000,
		LogLevel:      "info",
		MaxBodyMB:     64,
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Merge returns base with every non-zero field of over applied on top.
func Merge(base, over Config) Config {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	num := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	str(&base.Addr, over.Addr)
	str(&base.Family, over.Family)
	str(&base.WeightsDir, over.WeightsDir)
	str(&base.Device, over.Device)
	num(&base.VRAMBudgetMB, over.VRAMBudgetMB)
	num(&base.MinibatchSize, over.MinibatchSize)
	str(&base.Precision, over.Precision)
	num(&base.MaxQueueDepth, over.MaxQueueDepth)
	num(&base.MaxWaitMS, over.MaxWaitMS)
	str(&base.HistoryDB, over.HistoryDB)
	str(&base.LogLevel, over.LogLevel)
	str(&base.LogFile, over.LogFile)
	if len(over.CORSOrigins) > 0 {
		base.CORSOrigins = over.CORSOrigins
	}
	num(&base.InferTimeoutSec, over.InferTimeoutSec)
	num(&base.MaxBodyMB, over.MaxBodyMB)
	return base
}

// FromEnv reads DIFFSTUDIO_* overrides through getenv (os.Getenv in production).
func FromEnv(getenv func(string) string) (Config, error) {
	var cfg Config
	get := func(k string) string { return strings.TrimSpace(getenv(EnvPrefix + k)) }
	atoi := func(k string, dst *int) error {
		v := get(k)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
		}
		*dst = n
		return nil
	}
	cfg.Addr = get("ADDR")
	cfg.Family = get("FAMILY")
	cfg.WeightsDir = get("WEIGHTS_DIR")
	cfg.Device = get("DEVICE")
	cfg.Precision = get("PRECISION")
	cfg.HistoryDB = get("HISTORY_DB")
	cfg.LogLevel = get("LOG_LEVEL")
	cfg.LogFile = get("LOG_FILE")
	if v := get("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = SplitCSV(v)
	}
	for k, dst := range map[string]*int{
		"VRAM_BUDGET_MB":    &cfg.VRAMBudgetMB,
		"MINIBATCH_SIZE":    &cfg.MinibatchSize,
		"MAX_QUEUE_DEPTH":   &cfg.MaxQueueDepth,
		"MAX_WAIT_MS":       &cfg.MaxWaitMS,
		"INFER_TIMEOUT_SEC": &cfg.InferTimeoutSec,
		"MAX_BODY_MB":       &cfg.MaxBodyMB,
	} {
		if err := atoi(k, dst); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Family == "":
		return fmt.Errorf("family is required")
	case c.VRAMBudgetMB < 0:
		return fmt.Errorf("vram_budget_mb must not be negative")
	case c.MinibatchSize < 0:
		return fmt.Errorf("minibatch_size must not be negative")
	case c.MaxBodyMB < 0:
		return fmt.Errorf("max_body_mb must not be negative")
	case c.MaxQueueDepth < 0 || c.MaxWaitMS < 0 || c.InferTimeoutSec < 0:
		return fmt.Errorf("queue and timeout settings must not be negative")
	}
	return nil
}
