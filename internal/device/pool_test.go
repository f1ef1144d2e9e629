package device

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestPoolReserveRelease(t *testing.T) {
	p := NewPool("cuda", 100, zerolog.Nop())
	if err := p.Reserve("encoder", 60); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := p.Reserve("denoiser", 50); err == nil || !IsOutOfMemory(err) {
		t.Fatalf("expected out of memory, got %v", err)
	}
	p.Release("encoder")
	if err := p.Reserve("denoiser", 50); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if p.Used() != 50 || p.Peak() != 60 {
		t.Fatalf("used=%d peak=%d", p.Used(), p.Peak())
	}
	if got := p.Residents(); len(got) != 1 || got[0] != "denoiser" {
		t.Fatalf("residents=%v", got)
	}
	p.Release("unknown")
	p.Report("test")
}

func TestPoolReserveReplacesOwner(t *testing.T) {
	p := NewPool("", 0, zerolog.Nop())
	_ = p.Reserve("a", 10)
	_ = p.Reserve("a", 30)
	if p.Used() != 30 {
		t.Fatalf("expected replacement, used=%d", p.Used())
	}
	if p.Name() != "cpu" {
		t.Fatalf("default name %q", p.Name())
	}
}

func TestGCReclaimerCallsHook(t *testing.T) {
	called := 0
	r := GCReclaimer{Device: "cuda", Hook: func(context.Context) error { called++; return nil }}
	if err := r.Reclaim(context.Background()); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if called != 1 {
		t.Fatalf("hook called %d times", called)
	}
	boom := errors.New("boom")
	f := ReclaimFunc(func(context.Context) error { return boom })
	if err := f.Reclaim(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
