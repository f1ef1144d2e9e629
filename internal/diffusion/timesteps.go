package diffusion

import (
	"fmt"
	"strings"
)

// ganTimesteps is the distilled short schedule used by "gan" mode.
var ganTimesteps = []int{979, 729, 479, 229}

// Timesteps returns the strictly decreasing timesteps visited for a run of
// the given number of steps over a schedule of trainSteps entries.
func Timesteps(trainSteps, steps int, gan bool) ([]int, error) {
	if gan {
		return append([]int(nil), ganTimesteps...), nil
	}
	if steps <= 0 || steps > trainSteps {
		return nil, fmt.Errorf("%w: %d steps over %d timesteps", ErrInvalidSchedule, steps, trainSteps)
	}
	stride := trainSteps / steps
	var out []int
	for t := trainSteps - 1; t > 0; t -= stride {
		out = append(out, t)
	}
	return out, nil
}

// TruncateForStrength drops the noisiest timesteps so that an image-to-image
// run only denoises the fraction strength of the schedule. strength 1 keeps
// everything; strength 0 keeps nothing.
func TruncateForStrength(times []int, trainSteps int, strength float64) []int {
	if strength >= 1 {
		return times
	}
	if strength <= 0 {
		return nil
	}
	limit := int(strength * float64(trainSteps-1))
	for i, t := range times {
		if t <= limit {
			return times[i:]
		}
	}
	return nil
}

// Mode selects the reverse-process update.
type Mode struct {
	Name string
	// Eta scales the injected noise; 0 is deterministic DDIM, 1 is ancestral.
	Eta float64
	// Gan uses the distilled schedule and x0 re-noising.
	Gan bool
	// EtaFixed means the sampler name dictates eta and request eta is ignored.
	EtaFixed bool
}

// ParseSampler maps a user-facing sampler name to a Mode.
func ParseSampler(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return Mode{Name: "default", Eta: 1}, nil
	case "p_sampler", "ddpm":
		return Mode{Name: "p_sampler", Eta: 1, EtaFixed: true}, nil
	case "ddim_sampler", "ddim":
		return Mode{Name: "ddim_sampler", Eta: 0, EtaFixed: true}, nil
	case "gan", "flash":
		return Mode{Name: "gan", Gan: true, EtaFixed: true}, nil
	default:
		return Mode{}, fmt.Errorf("%w: unsupported sampler %q", ErrInvalidSchedule, name)
	}
}
