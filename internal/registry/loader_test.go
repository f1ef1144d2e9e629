package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWeights(t *testing.T, dir, rel string, size int) {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadDir_IndexesFamilyComponents(t *testing.T) {
	dir := t.TempDir()
	writeWeights(t, dir, "kd31/unet.safetensors", 300)
	writeWeights(t, dir, "kd31/movq.PT", 20)
	writeWeights(t, dir, "kd31/readme.txt", 5)
	writeWeights(t, dir, "stray.ckpt", 5)
	r, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	list := r.List()
	if len(list) != 2 || list[0].ID != "kd31/movq" || list[1].ID != "kd31/unet" {
		t.Fatalf("unexpected entries: %+v", list)
	}
	w, ok := r.Lookup("kd31", "unet")
	if !ok || w.SizeBytes != 300 || filepath.Base(w.Path) != "unet.safetensors" {
		t.Fatalf("lookup: %+v %v", w, ok)
	}
	if _, ok := r.Lookup("kd21", "unet"); ok {
		t.Fatalf("unexpected hit for other family")
	}
}

func TestLoadDir_MissingDirIsEmpty(t *testing.T) {
	r, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestLoadDir_ExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "diffstudio-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	writeWeights(t, hTmp, "kd2/encoder.bin", 1)
	r, err := LoadDir("~/" + filepath.Base(hTmp))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if _, ok := r.Lookup("kd2", "encoder"); !ok {
		t.Fatalf("entry not found under expanded home: %+v", r.List())
	}
}
