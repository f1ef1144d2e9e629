package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nfamily: kd21\nweights_dir: /tmp\nvram_budget_mb: 123\nminibatch_size: 4\ncors_origins: [\"http://a\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Family != "kd21" || cfg.WeightsDir != "/tmp" || cfg.VRAMBudgetMB != 123 || cfg.MinibatchSize != 4 || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","family":"kd2","precision":"float32","max_wait_ms":500}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Family != "kd2" || cfg.Precision != "float32" || cfg.MaxWaitMS != 500 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nfamily=\"diffusers21\"\nhistory_db=\"/x/h.db\"\ninfer_timeout_sec=9\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Family != "diffusers21" || cfg.HistoryDB != "/x/h.db" || cfg.InferTimeoutSec != 9 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	bad := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "family": }`)
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestMergeAndEnv(t *testing.T) {
	env := map[string]string{
		"DIFFSTUDIO_FAMILY":         "kd21",
		"DIFFSTUDIO_VRAM_BUDGET_MB": "4096",
		"DIFFSTUDIO_CORS_ORIGINS":   "http://a, http://b ,",
		"DIFFSTUDIO_MAX_BODY_MB":    "16",
	}
	over, err := FromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	got := Merge(Defaults(), over)
	want := Defaults()
	want.Family = "kd21"
	want.VRAMBudgetMB = 4096
	want.CORSOrigins = []string{"http://a", "http://b"}
	want.MaxBodyMB = 16
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merged config (-want +got):\n%s", diff)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	neg := got
	neg.MaxBodyMB = -1
	if err := neg.Validate(); err == nil {
		t.Fatalf("negative max_body_mb accepted")
	}

	env["DIFFSTUDIO_MAX_WAIT_MS"] = "soon"
	if _, err := FromEnv(func(k string) string { return env[k] }); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":              nil,
		" , ,":          nil,
		"a":             {"a"},
		" a, b ,,c ":    {"a", "b", "c"},
		"http://x:1,y ": {"http://x:1", "y"},
	}
	for in, want := range cases {
		if diff := cmp.Diff(want, SplitCSV(in)); diff != "" {
			t.Fatalf("SplitCSV(%q) (-want +got):\n%s", in, diff)
		}
	}
}
