// Package pipeline runs encode, denoise and decode against model components
// that are loaded on demand. In low-VRAM mode every component is evicted
// before the next one loads, so only one heavyweight category is ever
// resident on the accelerator.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"diffstudio/internal/device"
)

// Loader returns a ready module. Weights location and format are closed over
// by whoever builds the loader; the pipeline never parses checkpoints.
type Loader[T any] func(ctx context.Context) (T, error)

// Offloader is implemented by modules that hold accelerator memory of their
// own. Offload moves the weights to host memory; it is called before the
// handle drops its reference.
type Offloader interface {
	Offload(ctx context.Context) error
}

// Env carries the shared device resources a handle schedules against.
type Env struct {
	Pool      *device.Pool
	Reclaimer device.Reclaimer
	Log       zerolog.Logger
}

// Handle owns one lazily loaded component. The orchestrator only calls
// Load and Unload; it never touches the module's placement directly.
type Handle[T any] struct {
	name  string
	bytes int64
	load  Loader[T]
	env   Env

	mu     sync.Mutex
	mod    T
	loaded bool
	loads  int
}

// NewHandle wraps a loader. bytes is the residency estimate reserved in the
// pool while the module is loaded.
func NewHandle[T any](name string, bytes int64, load Loader[T], env Env) *Handle[T] {
	return &Handle[T]{name: name, bytes: bytes, load: load, env: env}
}

// Name returns the handle's owner name in the device pool.
func (h *Handle[T]) Name() string { return h.name }

// Loaded reports whether the module is currently resident.
func (h *Handle[T]) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Loads returns how many times the loader has been invoked.
func (h *Handle[T]) Loads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}

// Load returns the resident module, invoking the loader if needed.
func (h *Handle[T]) Load(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return h.mod, nil
	}
	var zero T
	if h.env.Pool != nil {
		h.env.Pool.Report("loading " + h.name)
		if err := h.env.Pool.Reserve(h.name, h.bytes); err != nil {
			return zero, err
		}
	}
	start := time.Now()
	h.loads++
	mod, err := h.load(ctx)
	if err != nil {
		if h.env.Pool != nil {
			h.env.Pool.Release(h.name)
		}
		h.env.Log.Warn().Str("component", h.name).Err(err).Msg("component load failed")
		return zero, fmt.Errorf("load %s: %w", h.name, err)
	}
	h.mod, h.loaded = mod, true
	h.env.Log.Debug().Str("event", "stage_load").Str("component", h.name).
		Dur("dur", time.Since(start)).Msg("component loaded")
	if h.env.Pool != nil {
		h.env.Pool.Report("loaded " + h.name)
	}
	return mod, nil
}

// Unload moves the module to host memory, drops the reference and reclaims
// device memory. Unloading a handle that is not loaded is a no-op. The
// reference is dropped even when Offload fails.
func (h *Handle[T]) Unload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil
	}
	var offErr error
	if o, ok := any(h.mod).(Offloader); ok {
		offErr = o.Offload(ctx)
	}
	var zero T
	h.mod, h.loaded = zero, false
	if h.env.Pool != nil {
		h.env.Pool.Release(h.name)
	}
	var recErr error
	if h.env.Reclaimer != nil {
		recErr = h.env.Reclaimer.Reclaim(ctx)
	}
	h.env.Log.Debug().Str("event", "stage_unload").Str("component", h.name).Msg("component unloaded")
	if h.env.Pool != nil {
		h.env.Pool.Report("unloaded " + h.name)
	}
	if offErr != nil {
		return fmt.Errorf("offload %s: %w", h.name, offErr)
	}
	if recErr != nil {
		return fmt.Errorf("reclaim after %s: %w", h.name, recErr)
	}
	return nil
}
