package pipeline

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"

	"diffstudio/internal/diffusion"
)

// ErrInvalidRequest is returned for requests that fail validation before any
// component is loaded.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// WeightedCondition is one entry of a mix request: either a text or an image,
// contributing Weight to the combined embedding.
type WeightedCondition struct {
	Text   string
	Image  image.Image
	Weight float64
}

// Request is one executor run. It is not modified by the executor.
type Request struct {
	Prompt         string
	NegativePrompt string
	// Mix replaces Prompt when non-empty.
	Mix []WeightedCondition

	ImagesNum int
	BatchSize int
	Width     int
	Height    int

	Steps         int
	GuidanceScale float64
	Sampler       string
	Eta           float64

	// InitImage starts denoising from a noised latent of this image.
	InitImage image.Image
	// Strength is the fraction of the schedule denoised for InitImage (1 = all).
	Strength float64
	// Mask marks the region to repaint (white) for inpainting. Requires InitImage.
	Mask image.Image

	Rand     *rand.Rand
	Progress func(step, total int)
}

// Validate checks r against a model geometry without loading anything:
// downscale is the latent factor and trainSteps the schedule length. It
// covers everything Run rejects before its first stage.
func (r *Request) Validate(downscale, trainSteps int) error {
	if err := r.validate(downscale); err != nil {
		return err
	}
	mode, err := diffusion.ParseSampler(r.Sampler)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if _, err := diffusion.Timesteps(trainSteps, r.Steps, mode.Gan); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

func (r *Request) validate(downscale int) error {
	switch {
	case r.Rand == nil:
		return fmt.Errorf("%w: missing random source", ErrInvalidRequest)
	case r.ImagesNum <= 0:
		return fmt.Errorf("%w: images_num must be positive, got %d", ErrInvalidRequest, r.ImagesNum)
	case r.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidRequest, r.BatchSize)
	case r.Width <= 0 || r.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidRequest, r.Width, r.Height)
	case r.Width%downscale != 0 || r.Height%downscale != 0:
		return fmt.Errorf("%w: size %dx%d is not a multiple of %d", ErrInvalidRequest, r.Width, r.Height, downscale)
	case r.Mask != nil && r.InitImage == nil:
		return fmt.Errorf("%w: mask without init image", ErrInvalidRequest)
	case r.InitImage != nil && (r.Strength < 0 || r.Strength > 1):
		return fmt.Errorf("%w: strength %v outside [0,1]", ErrInvalidRequest, r.Strength)
	}
	for i, c := range r.Mix {
		if c.Text == "" && c.Image == nil {
			return fmt.Errorf("%w: mix entry %d is empty", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Minibatches splits total images into runs of at most size, dropping an
// empty remainder: 10 by 4 gives [4 4 2].
func Minibatches(total, size int) []int {
	if total <= 0 || size <= 0 {
		return nil
	}
	out := make([]int, 0, total/size+1)
	for ; total >= size; total -= size {
		out = append(out, size)
	}
	if total > 0 {
		out = append(out, total)
	}
	return out
}
