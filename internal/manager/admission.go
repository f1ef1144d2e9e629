package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	// If draining, reject new work to allow graceful shutdown
	if m.draining.Load() {
		return func() {}, tooBusyError{family: m.family.Name}
	}
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	start := time.Now()

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case m.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{family: m.family.Name}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-m.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case m.genCh <- struct{}{}:
		acquired = true
		queueWait.WithLabelValues(m.family.Name).Observe(time.Since(start).Seconds())
		return func() { <-m.genCh; <-m.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{family: m.family.Name}
	}
}

// Do admits one generation, prepares the pipeline for task and calls fn with
// it while holding the in-flight slot. If fn fails the bucket is invalidated:
// a failed run leaves its pipeline unloaded, so the slot must not stay
// Resident and the next request rebuilds it under the eviction policy.
func (m *Manager) Do(ctx context.Context, task TaskKind, fn func(ctx context.Context, p Pipeline) error) error {
	// Unsupported tasks are rejected before queueing.
	bucket, ok := m.family.BucketFor(task)
	if !ok {
		_, err := m.Prepare(ctx, task)
		return err
	}
	release, err := m.beginGeneration(ctx)
	if err != nil {
		if IsTooBusy(err) {
			m.emit(Event{Name: "admission_busy", Bucket: bucket})
		}
		return err
	}
	defer release()

	p, err := m.Prepare(ctx, task)
	if err != nil {
		return err
	}
	if err := fn(ctx, p); err != nil {
		m.setErr(err)
		m.Invalidate(context.WithoutCancel(ctx), bucket)
		return err
	}
	return nil
}
