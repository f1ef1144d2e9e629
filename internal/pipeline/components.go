package pipeline

import (
	"context"

	"diffstudio/internal/diffusion"
	"diffstudio/internal/tensor"
)

// Embedding is an encoder output: a 1×n×d context and its 1×n attention mask.
type Embedding struct {
	Context *tensor.Tensor
	Mask    *tensor.Tensor
}

// Encoder turns prompts and reference images into conditioning embeddings.
type Encoder interface {
	EncodeText(ctx context.Context, prompt string) (Embedding, error)
	EncodeImage(ctx context.Context, pixels *tensor.Tensor) (Embedding, error)
}

// Autoencoder maps between pixel space (B×3×H×W in [-1,1]) and latents.
type Autoencoder interface {
	Encode(ctx context.Context, pixels *tensor.Tensor) (*tensor.Tensor, error)
	Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error)
}

// Components are the three heavyweight stages of a pipeline.
type Components struct {
	Encoder     *Handle[Encoder]
	Denoiser    *Handle[diffusion.Denoiser]
	Autoencoder *Handle[Autoencoder]
}

// unloadAll evicts every component, returning the first error.
func (c Components) unloadAll(ctx context.Context) error {
	var first error
	for _, u := range []func(context.Context) error{c.Encoder.Unload, c.Denoiser.Unload, c.Autoencoder.Unload} {
		if err := u(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
