package manager

import (
	"context"
	"time"
)

// Prepare returns the resident pipeline for task, constructing it on a miss.
//
// A hit returns the bucket's pipeline unchanged without invoking the builder.
// On a miss every conflicting bucket is evicted (all resident buckets under
// EvictAll; least recently used ones as the device budget requires under
// EvictBucketLocal) before the builder runs. A builder failure leaves the
// bucket Unloaded.
func (m *Manager) Prepare(ctx context.Context, task TaskKind) (Pipeline, error) {
	bucket, ok := m.family.BucketFor(task)
	if !ok {
		err := ErrUnsupportedTask(m.family.Name, task)
		prepareTotal.WithLabelValues(m.family.Name, "unsupported").Inc()
		m.emit(Event{Name: "prepare_unsupported", Fields: map[string]any{"task": task.String()}})
		return nil, err
	}

	m.prepMu.Lock()
	defer m.prepMu.Unlock()

	m.mu.Lock()
	s := m.slots[bucket]
	if s.state == StateResident {
		s.lastUsed = time.Now()
		pipe := s.pipe
		m.mu.Unlock()
		prepareTotal.WithLabelValues(m.family.Name, "hit").Inc()
		m.log.Debug().Str("event", "prepare_hit").Str("bucket", string(bucket)).Str("task", task.String()).Msg("manager")
		return pipe, nil
	}
	m.mu.Unlock()

	prepareTotal.WithLabelValues(m.family.Name, "miss").Inc()
	m.emit(Event{Name: "prepare_start", Bucket: bucket, Fields: map[string]any{"task": task.String()}})

	if err := m.evictConflicting(ctx, bucket); err != nil {
		m.setErr(err)
		return nil, err
	}

	m.mu.Lock()
	s.state = StateLoading
	m.mu.Unlock()

	start := time.Now()
	pipe, err := m.family.Build(ctx, bucket)
	if err == nil && pipe == nil {
		err = errNilPipeline
	}
	if err != nil {
		if pipe != nil {
			// Partially constructed: release whatever it grabbed.
			if rerr := pipe.Release(ctx); rerr != nil {
				m.log.Warn().Err(rerr).Str("bucket", string(bucket)).Msg("release partial pipeline")
			}
		}
		m.mu.Lock()
		s.state = StateUnloaded
		s.pipe = nil
		m.mu.Unlock()
		cerr := constructionError{bucket: bucket, err: err}
		m.setErr(cerr)
		prepareTotal.WithLabelValues(m.family.Name, "error").Inc()
		m.emit(Event{Name: "build_fail", Bucket: bucket, Fields: map[string]any{"error": err.Error()}})
		return nil, cerr
	}

	dur := time.Since(start)
	buildDuration.WithLabelValues(m.family.Name, string(bucket)).Observe(dur.Seconds())
	m.mu.Lock()
	s.state = StateResident
	s.pipe = pipe
	s.lastUsed = time.Now()
	s.builds++
	m.lastErr = ""
	m.mu.Unlock()
	m.loadsTotal.Add(1)
	m.emit(Event{Name: "build_ready", Bucket: bucket, Fields: map[string]any{"dur_ms": dur.Milliseconds()}})
	return pipe, nil
}
