package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"diffstudio/internal/device"
)

// Manager caches one pipeline per bucket of a single model family.
type Manager struct {
	// prepMu serializes Prepare, Evict and Flush: the Unloaded ↔ Resident
	// transitions of every slot form one critical section.
	prepMu sync.Mutex
	// mu guards slots and lastErr for readers (Status) while a build runs.
	mu      sync.RWMutex
	slots   map[Bucket]*slot
	lastErr string

	family    *Family
	pool      *device.Pool
	publisher EventPublisher
	log       zerolog.Logger

	maxQueueDepth int
	maxWait       time.Duration
	genCh         chan struct{} // size 1: single in-flight generation
	queueCh       chan struct{} // buffered: queue slots
	draining      atomic.Bool
	// closed is set once Close holds the in-flight slot for good.
	closed atomic.Bool

	loadsTotal     atomic.Uint64
	evictionsTotal atomic.Uint64
	startTime      time.Time
}

// Family returns the family this manager serves.
func (m *Manager) Family() *Family { return m.family }

// State returns the state of bucket's slot.
func (m *Manager) State(b Bucket) SlotState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.slots[b]; ok {
		return s.state
	}
	return StateUnloaded
}

// Resident returns the buckets currently holding a pipeline, in bucket order.
func (m *Manager) Resident() []Bucket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bucket
	for _, b := range m.family.Buckets() {
		if m.slots[b].state == StateResident {
			out = append(out, b)
		}
	}
	return out
}

// Ready reports whether the manager accepts work.
func (m *Manager) Ready() bool { return !m.draining.Load() }

// Close stops admitting new work, waits up to the max wait for the in-flight
// generation and flushes every bucket. Close takes the in-flight slot before
// flushing and keeps it, so no run can overlap the flush or start after it.
// If the running generation does not finish in time nothing is flushed and
// an error is returned; Close may be called again.
func (m *Manager) Close(ctx context.Context) error {
	m.draining.Store(true)
	m.publisher.Publish(Event{Name: "close_start", Family: m.family.Name})
	if !m.closed.Load() {
		timer := time.NewTimer(m.maxWait)
		defer timer.Stop()
		select {
		case m.genCh <- struct{}{}:
			m.closed.Store(true)
		case <-timer.C:
			m.publisher.Publish(Event{Name: "close_timeout", Family: m.family.Name,
				Fields: map[string]any{"inflight": len(m.genCh), "queue": len(m.queueCh)}})
			return fmt.Errorf("manager: close %s: generation still running after %s", m.family.Name, m.maxWait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Flush(ctx)
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	if err == nil {
		m.lastErr = ""
	} else {
		m.lastErr = err.Error()
	}
	m.mu.Unlock()
}
