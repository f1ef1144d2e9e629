package device

import (
	"context"
	"runtime"
	"runtime/debug"
)

// Reclaimer releases an accelerator's cached memory after a component was
// evicted. Calls are synchronous; the next load must not start before
// Reclaim returns.
type Reclaimer interface {
	Reclaim(ctx context.Context) error
}

// ReclaimFunc adapts a function to Reclaimer.
type ReclaimFunc func(ctx context.Context) error

func (f ReclaimFunc) Reclaim(ctx context.Context) error { return f(ctx) }

// GCReclaimer forces a Go garbage collection, returns freed heap to the OS
// and then calls the backend hook (the accelerator's empty-cache call), if any.
type GCReclaimer struct {
	Device string
	Hook   func(ctx context.Context) error
}

func (r GCReclaimer) Reclaim(ctx context.Context) error {
	runtime.GC()
	debug.FreeOSMemory()
	reclaimsTotal.WithLabelValues(deviceLabel(r.Device)).Inc()
	if r.Hook != nil {
		return r.Hook(ctx)
	}
	return nil
}

func deviceLabel(s string) string {
	if s == "" {
		return "cpu"
	}
	return s
}
