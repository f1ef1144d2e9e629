// Package device models the accelerator memory pool the orchestrator
// schedules against, and the reclaimer invoked after every eviction.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// ErrOutOfMemory is returned when a reservation does not fit the pool.
// Backends should wrap it when the accelerator itself reports exhaustion.
var ErrOutOfMemory = errors.New("device: out of memory")

// IsOutOfMemory reports whether err is a resource exhaustion failure.
func IsOutOfMemory(err error) bool { return errors.Is(err, ErrOutOfMemory) }

// Pool tracks bytes resident on one accelerator, keyed by owner
// (a component handle name). Capacity 0 means unlimited.
type Pool struct {
	mu       sync.Mutex
	name     string
	capacity int64
	resident map[string]int64
	used     int64
	peak     int64
	log      zerolog.Logger
}

// NewPool creates an empty pool for the named device.
func NewPool(name string, capacityBytes int64, log zerolog.Logger) *Pool {
	if name == "" {
		name = "cpu"
	}
	return &Pool{name: name, capacity: capacityBytes, resident: make(map[string]int64), log: log}
}

// Name returns the device name (e.g. "cuda", "cpu").
func (p *Pool) Name() string { return p.name }

// Reserve marks bytes as resident for owner. Reserving for an owner that is
// already resident replaces its previous reservation.
func (p *Pool) Reserve(owner string, bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.used - p.resident[owner] + bytes
	if p.capacity > 0 && next > p.capacity {
		return fmt.Errorf("%w: %s needs %s, %s of %s in use on %s", ErrOutOfMemory, owner,
			humanize.IBytes(uint64(bytes)), humanize.IBytes(uint64(p.used)), humanize.IBytes(uint64(p.capacity)), p.name)
	}
	p.resident[owner] = bytes
	p.used = next
	if p.used > p.peak {
		p.peak = p.used
	}
	residentBytes.WithLabelValues(p.name).Set(float64(p.used))
	return nil
}

// Release drops owner's reservation. Releasing an unknown owner is a no-op.
func (p *Pool) Release(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.resident[owner]; ok {
		p.used -= b
		delete(p.resident, owner)
	}
	residentBytes.WithLabelValues(p.name).Set(float64(p.used))
}

// Used returns the bytes currently reserved.
func (p *Pool) Used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Peak returns the high-water mark of reserved bytes.
func (p *Pool) Peak() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Capacity returns the configured capacity in bytes (0 = unlimited).
func (p *Pool) Capacity() int64 { return p.capacity }

// Residents returns the sorted owners currently holding memory.
func (p *Pool) Residents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.resident))
	for k := range p.resident {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Report logs current usage at debug level, tagged with a stage label.
func (p *Pool) Report(stage string) {
	p.mu.Lock()
	used, peak, capacity := p.used, p.peak, p.capacity
	p.mu.Unlock()
	ev := p.log.Debug().Str("device", p.name).Str("stage", stage).
		Str("reserved", humanize.IBytes(uint64(used))).
		Str("peak", humanize.IBytes(uint64(peak)))
	if capacity > 0 {
		ev = ev.Str("total", humanize.IBytes(uint64(capacity))).Int64("reserved_pct", used*100/capacity)
	}
	ev.Msg("vram usage")
}
