package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"diffstudio/internal/device"
	"diffstudio/internal/pipeline"
)

func TestBeginGeneration_QueueTimeout(t *testing.T) {
	l := newLab()
	m, err := New(Config{Family: localFamily(t, l), MaxQueueDepth: 1, MaxWait: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	rel, err := m.beginGeneration(context.Background())
	if err != nil {
		t.Fatalf("beginGeneration first: %v", err)
	}
	defer rel()
	// Second should time out on the queue slot (depth=1)
	_, err = m.beginGeneration(context.Background())
	if err == nil || !IsTooBusy(err) {
		t.Fatalf("expected tooBusyError, got %v", err)
	}
}

func TestBeginGeneration_GenTimeout(t *testing.T) {
	l := newLab()
	m, err := New(Config{Family: localFamily(t, l), MaxQueueDepth: 2, MaxWait: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	m.genCh <- struct{}{}
	_, err = m.beginGeneration(context.Background())
	if err == nil || !IsTooBusy(err) {
		t.Fatalf("expected tooBusyError on gen wait, got %v", err)
	}
	if len(m.queueCh) != 0 {
		t.Fatalf("queue slot leaked")
	}
}

func TestBeginGeneration_CanceledContext(t *testing.T) {
	l := newLab()
	m := newTestManager(t, localFamily(t, l), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.beginGeneration(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
}

func TestDo_SerializesGenerations(t *testing.T) {
	l := newLab()
	m, err := New(Config{Family: localFamily(t, l), MaxQueueDepth: 4, MaxWait: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	inside := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Do(context.Background(), Text2Img, func(context.Context, Pipeline) error {
			close(inside)
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}()
	<-inside
	if m.Status().Inflight != 1 {
		t.Fatalf("expected one in-flight generation")
	}
	start := time.Now()
	if err := m.Do(context.Background(), Img2Img, func(context.Context, Pipeline) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("second generation did not wait for the first")
	}
	<-done
}

func TestDo_OutOfMemoryInvalidatesBucket(t *testing.T) {
	l := newLab()
	m := newTestManager(t, localFamily(t, l), nil)
	err := m.Do(testCtx(t), Text2Img, func(ctx context.Context, p Pipeline) error {
		return fmt.Errorf("denoise: %w", device.ErrOutOfMemory)
	})
	if !device.IsOutOfMemory(err) {
		t.Fatalf("want OOM, got %v", err)
	}
	if m.State("t2i") != StateUnloaded || l.live() != 0 {
		t.Fatalf("bucket should be unloaded after OOM: %s live=%d", m.State("t2i"), l.live())
	}
}

func TestDo_RunFailureInvalidatesBucket(t *testing.T) {
	l := newLab()
	m := newTestManager(t, localFamily(t, l), nil)
	if err := m.Do(testCtx(t), Img2Img, func(context.Context, Pipeline) error { return nil }); err != nil {
		t.Fatal(err)
	}
	err := m.Do(testCtx(t), Text2Img, func(ctx context.Context, p Pipeline) error {
		l.runErr = errors.New("bad input")
		_, err := p.Run(ctx, pipeline.Request{})
		return err
	})
	if err == nil || device.IsOutOfMemory(err) {
		t.Fatalf("want plain run failure, got %v", err)
	}
	if m.State("t2i") != StateUnloaded {
		t.Fatalf("t2i state=%s after failed run", m.State("t2i"))
	}
	// Other buckets are untouched.
	if m.State("i2i") != StateResident || l.live() != 1 {
		t.Fatalf("i2i state=%s live=%d", m.State("i2i"), l.live())
	}
	if st := m.Status(); st.LastError == "" {
		t.Fatalf("last error not recorded")
	}

	l.runErr = nil
	if err := m.Do(testCtx(t), Text2Img, func(context.Context, Pipeline) error { return nil }); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	builds := l.builds["t2i"]
	l.mu.Unlock()
	if builds != 2 || m.State("t2i") != StateResident {
		t.Fatalf("t2i builds=%d state=%s, want a rebuild", builds, m.State("t2i"))
	}
}

func TestDo_UnsupportedTaskSkipsQueue(t *testing.T) {
	l := newLab()
	f, _ := NewFamily("t2i-only", EvictBucketLocal, l.build, Route{Text2Img, "t2i"})
	m := newTestManager(t, f, nil)
	m.genCh <- struct{}{} // a generation is in flight
	called := false
	err := m.Do(testCtx(t), Outpainting, func(context.Context, Pipeline) error { called = true; return nil })
	if !IsInvalidTask(err) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestClose_FlushesAndRejects(t *testing.T) {
	l := newLab()
	pub := NewMemoryPublisher()
	m := newTestManager(t, legacyFamily(t, l), pub)
	if _, err := m.Prepare(testCtx(t), Inpainting); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(testCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.live() != 0 || m.Ready() {
		t.Fatalf("live=%d ready=%v", l.live(), m.Ready())
	}
	err := m.Do(testCtx(t), Text2Img, func(context.Context, Pipeline) error { return nil })
	if !IsTooBusy(err) {
		t.Fatalf("want too busy after close, got %v", err)
	}
	if !contains(pub.Names(), "close_start") || !contains(pub.Names(), "evict") {
		t.Fatalf("events=%v", pub.Names())
	}
}

func TestClose_WaitsForRunningGeneration(t *testing.T) {
	l := newLab()
	pub := NewMemoryPublisher()
	m := newTestManager(t, legacyFamily(t, l), pub)
	inside := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Do(context.Background(), Text2Img, func(context.Context, Pipeline) error {
			close(inside)
			<-unblock
			return nil
		})
	}()
	<-inside

	// MaxWait is 50ms; the generation is still running when it expires.
	if err := m.Close(testCtx(t)); err == nil {
		t.Fatalf("Close should fail while a generation runs")
	}
	if m.State("generation") != StateResident || l.live() != 1 {
		t.Fatalf("pipeline flushed under a running generation: state=%s live=%d", m.State("generation"), l.live())
	}
	if !contains(pub.Names(), "close_timeout") {
		t.Fatalf("events=%v", pub.Names())
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("Do: %v", err)
	}
	if err := m.Close(testCtx(t)); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if l.live() != 0 || m.State("generation") != StateUnloaded {
		t.Fatalf("live=%d state=%s after close", l.live(), m.State("generation"))
	}
	if st := m.Status(); st.Inflight != 0 {
		t.Fatalf("inflight=%d after close", st.Inflight)
	}
	// Close holds the in-flight slot: nothing runs afterwards.
	if err := m.Do(testCtx(t), Text2Img, func(context.Context, Pipeline) error { return nil }); !IsTooBusy(err) {
		t.Fatalf("want too busy after close, got %v", err)
	}
	if err := m.Close(testCtx(t)); err != nil {
		t.Fatalf("repeated Close: %v", err)
	}
}

func TestStatus_ReportsSlots(t *testing.T) {
	l := newLab()
	m := newTestManager(t, localFamily(t, l), nil)
	if _, err := m.Prepare(testCtx(t), Img2Img); err != nil {
		t.Fatal(err)
	}
	st := m.Status()
	if st.Family != "local" || st.Policy != "bucket-local" || len(st.Slots) != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}
	for _, s := range st.Slots {
		want := "unloaded"
		if s.Bucket == "i2i" {
			want = "resident"
		}
		if s.State != want {
			t.Fatalf("slot %s state=%s want %s", s.Bucket, s.State, want)
		}
	}
	if st.LoadsTotal != 1 {
		t.Fatalf("loads=%d", st.LoadsTotal)
	}
}
