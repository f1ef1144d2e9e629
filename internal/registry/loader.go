package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"diffstudio/pkg/types"
)

// weightExts are the file extensions recognised as component weights.
var weightExts = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
	".bin":         true,
}

// Registry indexes component weight files by family and component.
type Registry struct {
	dir     string
	entries map[string]types.Weights
}

// LoadDir scans dir/<family>/<component>.<ext> and builds a registry. Files
// directly under dir and unknown extensions are ignored. A missing directory
// yields an empty registry so families without weights on disk can still run
// on the reference backend.
func LoadDir(dir string) (*Registry, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	r := &Registry{dir: abs, entries: make(map[string]types.Weights)}
	families, err := os.ReadDir(abs)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	for _, fam := range families {
		if !fam.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(abs, fam.Name()))
		if err != nil {
			return nil, fmt.Errorf("read family dir %s: %w", fam.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if !weightExts[ext] {
				continue
			}
			info, err := f.Info()
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
			}
			comp := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			w := types.Weights{
				ID:        fam.Name() + "/" + comp,
				Family:    fam.Name(),
				Component: comp,
				Path:      filepath.Join(abs, fam.Name(), f.Name()),
				SizeBytes: info.Size(),
			}
			r.entries[w.ID] = w
		}
	}
	return r, nil
}

// Dir returns the absolute weights directory.
func (r *Registry) Dir() string { return r.dir }

// Lookup returns the weights of family/component.
func (r *Registry) Lookup(family, component string) (types.Weights, bool) {
	if r == nil {
		return types.Weights{}, false
	}
	w, ok := r.entries[family+"/"+component]
	return w, ok
}

// List returns all entries sorted by ID.
func (r *Registry) List() []types.Weights {
	if r == nil {
		return nil
	}
	out := make([]types.Weights, 0, len(r.entries))
	for _, w := range r.entries {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
