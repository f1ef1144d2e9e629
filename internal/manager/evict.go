package manager

import (
	"context"
	"errors"
	"sort"
	"time"
)

// evictConflicting frees what must go before bucket is constructed.
// Caller holds prepMu.
func (m *Manager) evictConflicting(ctx context.Context, bucket Bucket) error {
	if m.family.Policy == EvictAll {
		return m.flushLocked(ctx, "switch")
	}
	return m.evictUntilFits(ctx, bucket)
}

// evictUntilFits evicts least recently used resident buckets other than
// target until the target's estimate fits the device pool.
func (m *Manager) evictUntilFits(ctx context.Context, target Bucket) error {
	if m.pool == nil || m.pool.Capacity() <= 0 {
		return nil
	}
	need := m.family.estimate(target)
	for m.pool.Used()+need > m.pool.Capacity() {
		victim, ok := m.lruResident(target)
		if !ok {
			// Nothing left to evict; the load itself reports out-of-memory.
			return nil
		}
		if err := m.evictLocked(ctx, victim, "budget"); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) lruResident(except Bucket) (Bucket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cands []*slot
	for b, s := range m.slots {
		if b != except && s.state == StateResident {
			cands = append(cands, s)
		}
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].lastUsed.Before(cands[j].lastUsed) })
	return cands[0].bucket, true
}

// Evict releases bucket's pipeline if it is resident.
func (m *Manager) Evict(ctx context.Context, bucket Bucket) error {
	m.prepMu.Lock()
	defer m.prepMu.Unlock()
	return m.evictLocked(ctx, bucket, "explicit")
}

// Flush releases every resident bucket.
func (m *Manager) Flush(ctx context.Context) error {
	m.prepMu.Lock()
	defer m.prepMu.Unlock()
	return m.flushLocked(ctx, "flush")
}

// Invalidate drops bucket after a failed run so the next Prepare rebuilds it.
func (m *Manager) Invalidate(ctx context.Context, bucket Bucket) {
	m.prepMu.Lock()
	defer m.prepMu.Unlock()
	if err := m.evictLocked(ctx, bucket, "invalidate"); err != nil {
		m.log.Warn().Err(err).Str("bucket", string(bucket)).Msg("invalidate")
	}
}

func (m *Manager) flushLocked(ctx context.Context, reason string) error {
	var errs []error
	for _, b := range m.family.Buckets() {
		if err := m.evictLocked(ctx, b, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// evictLocked moves bucket to Unloaded. The slot is Unloaded afterwards even
// if Release fails; the error is still reported. Caller holds prepMu.
func (m *Manager) evictLocked(ctx context.Context, bucket Bucket, reason string) error {
	m.mu.Lock()
	s, ok := m.slots[bucket]
	if !ok || s.state != StateResident {
		m.mu.Unlock()
		return nil
	}
	pipe := s.pipe
	s.pipe = nil
	s.state = StateUnloaded
	m.mu.Unlock()

	start := time.Now()
	err := pipe.Release(ctx)
	m.evictionsTotal.Add(1)
	evictionsTotal.WithLabelValues(m.family.Name, string(bucket), reason).Inc()
	fields := map[string]any{"reason": reason, "dur_ms": time.Since(start).Milliseconds()}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.emit(Event{Name: "evict", Bucket: bucket, Fields: fields})
	return err
}
