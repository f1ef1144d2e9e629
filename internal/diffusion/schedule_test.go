package diffusion

import (
	"errors"
	"testing"
)

func TestCosineScheduleMonotone(t *testing.T) {
	s, err := NewSchedule("cosine", DefaultTrainSteps)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if s.Len() != DefaultTrainSteps {
		t.Fatalf("len=%d", s.Len())
	}
	for i := 1; i < s.Len(); i++ {
		if s.AlphasCumprod[i] >= s.AlphasCumprod[i-1] {
			t.Fatalf("alphas_cumprod not decreasing at %d", i)
		}
	}
	for i, b := range s.Betas {
		if b <= 0 || b > 0.999 {
			t.Fatalf("beta[%d]=%v out of range", i, b)
		}
	}
}

func TestUnknownSchedule(t *testing.T) {
	if _, err := NewSchedule("sigmoid", 10); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestTimestepsStride(t *testing.T) {
	got, err := Timesteps(1000, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{999, 749, 499, 249}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if _, err := Timesteps(1000, 0, false); err == nil {
		t.Fatalf("expected error for zero steps")
	}
}

func TestTimestepsGan(t *testing.T) {
	got, _ := Timesteps(1000, 50, true)
	if len(got) != 4 || got[0] != 979 || got[3] != 229 {
		t.Fatalf("unexpected gan timesteps %v", got)
	}
	got[0] = 1
	again, _ := Timesteps(1000, 50, true)
	if again[0] != 979 {
		t.Fatalf("gan timesteps must not be shared")
	}
}

func TestTruncateForStrength(t *testing.T) {
	times, _ := Timesteps(1000, 10, false)
	if got := TruncateForStrength(times, 1000, 1); len(got) != len(times) {
		t.Fatalf("strength 1 should keep all, got %d", len(got))
	}
	half := TruncateForStrength(times, 1000, 0.5)
	if len(half) == 0 || half[0] > 499 {
		t.Fatalf("strength 0.5 kept %v", half)
	}
	if got := TruncateForStrength(times, 1000, 0); got != nil {
		t.Fatalf("strength 0 should keep nothing, got %v", got)
	}
}

func TestParseSampler(t *testing.T) {
	cases := map[string]Mode{
		"":             {Name: "default", Eta: 1},
		"p_sampler":    {Name: "p_sampler", Eta: 1, EtaFixed: true},
		"ddim_sampler": {Name: "ddim_sampler", Eta: 0, EtaFixed: true},
		"gan":          {Name: "gan", Gan: true, EtaFixed: true},
	}
	for in, want := range cases {
		got, err := ParseSampler(in)
		if err != nil || got != want {
			t.Fatalf("ParseSampler(%q)=%+v,%v want %+v", in, got, err, want)
		}
	}
	if _, err := ParseSampler("euler"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}
