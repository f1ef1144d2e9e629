// Package diffusion implements the reverse diffusion process: named noise
// schedules, timestep selection and the classifier-free guidance sampling loop.
package diffusion

import (
	"errors"
	"fmt"
	"math"
)

// DefaultTrainSteps is the length of the training-time timestep range.
const DefaultTrainSteps = 1000

var (
	// ErrNumericDivergence is returned when the loop produced non-finite values.
	ErrNumericDivergence = errors.New("diffusion: sampler produced non-finite values")
	// ErrInvalidSchedule is returned for unknown schedule names or bad step counts.
	ErrInvalidSchedule = errors.New("diffusion: invalid schedule")
)

// Schedule holds the per-timestep variance table. It is immutable once built
// and shared read-only by every step of a run.
type Schedule struct {
	Name          string
	Betas         []float64
	AlphasCumprod []float64
}

// NamedBetas returns the beta sequence for a schedule name.
func NamedBetas(name string, timesteps int) ([]float64, error) {
	if timesteps <= 0 {
		return nil, fmt.Errorf("%w: %d timesteps", ErrInvalidSchedule, timesteps)
	}
	betas := make([]float64, timesteps)
	switch name {
	case "linear":
		scale := 1000.0 / float64(timesteps)
		start, end := scale*0.0001, scale*0.02
		for i := range betas {
			if timesteps == 1 {
				betas[i] = start
				continue
			}
			betas[i] = start + (end-start)*float64(i)/float64(timesteps-1)
		}
	case "cosine", "":
		alphaBar := func(t float64) float64 {
			c := math.Cos((t + 0.008) / 1.008 * math.Pi / 2)
			return c * c
		}
		for i := range betas {
			t1 := float64(i) / float64(timesteps)
			t2 := float64(i+1) / float64(timesteps)
			betas[i] = math.Min(1-alphaBar(t2)/alphaBar(t1), 0.999)
		}
	default:
		return nil, fmt.Errorf("%w: unknown schedule %q", ErrInvalidSchedule, name)
	}
	return betas, nil
}

// NewSchedule builds the cumulative alpha table for a named schedule.
func NewSchedule(name string, timesteps int) (*Schedule, error) {
	betas, err := NamedBetas(name, timesteps)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "cosine"
	}
	ac := make([]float64, len(betas))
	prod := 1.0
	for i, b := range betas {
		prod *= 1 - b
		ac[i] = prod
	}
	return &Schedule{Name: name, Betas: betas, AlphasCumprod: ac}, nil
}

// Len returns the number of training timesteps.
func (s *Schedule) Len() int { return len(s.Betas) }

// alphaBar returns the cumulative alpha at t, clamped into range.
func (s *Schedule) alphaBar(t int) float64 {
	if t < 0 {
		t = 0
	}
	if t >= len(s.AlphasCumprod) {
		t = len(s.AlphasCumprod) - 1
	}
	return s.AlphasCumprod[t]
}
