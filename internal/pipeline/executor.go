package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"diffstudio/internal/device"
	"diffstudio/internal/diffusion"
	"diffstudio/internal/tensor"
)

// ErrGenerationFailed wraps any stage failure. The underlying cause stays
// reachable through errors.Is / errors.As.
var ErrGenerationFailed = errors.New("generation failed")

// Config describes the model geometry and residency policy of an Executor.
type Config struct {
	Sampler *diffusion.Sampler
	// LowVRAM evicts each component right after its stage.
	LowVRAM bool
	// LatentChannels and Downscale give the latent shape B×C×H/f×W/f.
	LatentChannels int
	Downscale      int
	// NullEmbedding is the learned unconditional token (1×d).
	NullEmbedding *tensor.Tensor
	// DecodeChunk caps how many latents the decoder sees per call. Zero decodes a minibatch at once.
	DecodeChunk int
	Pool        *device.Pool
	Log         zerolog.Logger
}

// Output is the result of one executor run.
type Output struct {
	Images []*image.NRGBA
	// Pixels is the concatenated B×3×H×W output in [0,1].
	Pixels *tensor.Tensor
}

// conditioning is the request-scoped encoder output.
type conditioning struct {
	context, mask       *tensor.Tensor
	negContext, negMask *tensor.Tensor
}

// Executor runs encode, denoise and decode over a set of components.
type Executor struct {
	cfg   Config
	comps Components
	log   zerolog.Logger
}

// NewExecutor validates the configuration.
func NewExecutor(comps Components, cfg Config) (*Executor, error) {
	if comps.Encoder == nil || comps.Denoiser == nil || comps.Autoencoder == nil {
		return nil, fmt.Errorf("pipeline: encoder, denoiser and autoencoder handles are required")
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("pipeline: sampler is required")
	}
	if cfg.LatentChannels <= 0 {
		cfg.LatentChannels = 4
	}
	if cfg.Downscale <= 0 {
		cfg.Downscale = 8
	}
	return &Executor{cfg: cfg, comps: comps, log: cfg.Log}, nil
}

// LowVRAM reports whether the executor evicts after every stage.
func (e *Executor) LowVRAM() bool { return e.cfg.LowVRAM }

// Components returns the handles the executor drives.
func (e *Executor) Components() Components { return e.comps }

// Release unloads every component. Used when the owning cache slot is evicted.
func (e *Executor) Release(ctx context.Context) error {
	return e.comps.unloadAll(ctx)
}

// Run executes one request. On failure every resident component is unloaded
// (best effort) and no partial output is returned.
func (e *Executor) Run(ctx context.Context, req Request) (Output, error) {
	start := time.Now()
	out, stage, err := e.run(ctx, req)
	if err != nil {
		if uerr := e.comps.unloadAll(ctx); uerr != nil {
			e.log.Warn().Err(uerr).Msg("cleanup after failed run")
		}
		e.log.Error().Str("stage", stage).Err(err).Msg("generation failed")
		return Output{}, fmt.Errorf("%w: %s: %w", ErrGenerationFailed, stage, err)
	}
	e.log.Info().Int("images", len(out.Images)).Dur("dur", time.Since(start)).
		Bool("low_vram", e.cfg.LowVRAM).Msg("generation done")
	return out, nil
}

func (e *Executor) run(ctx context.Context, req Request) (Output, string, error) {
	trainSteps := e.cfg.Sampler.Schedule().Len()
	if err := req.Validate(e.cfg.Downscale, trainSteps); err != nil {
		return Output{}, "validate", err
	}
	mode, _ := diffusion.ParseSampler(req.Sampler)
	eta := req.Eta
	if mode.EtaFixed {
		eta = mode.Eta
	}
	times, _ := diffusion.Timesteps(trainSteps, req.Steps, mode.Gan)

	cond, err := e.encode(ctx, req)
	if err != nil {
		return Output{}, "encode", err
	}

	var initLatent, extra *tensor.Tensor
	if req.InitImage != nil {
		initLatent, extra, err = e.encodeInit(ctx, req)
		if err != nil {
			return Output{}, "encode_image", err
		}
		if extra == nil {
			times = diffusion.TruncateForStrength(times, trainSteps, req.Strength)
		} else {
			// Inpainting starts from noise; the source reaches the denoiser through extra channels.
			initLatent = nil
		}
	}

	latents, err := e.denoise(ctx, req, cond, times, eta, mode.Gan, initLatent, extra)
	if err != nil {
		return Output{}, "denoise", err
	}

	pixels, err := e.decode(ctx, latents)
	if err != nil {
		return Output{}, "decode", err
	}
	normalize(pixels)
	return Output{Images: tensorToImages(pixels), Pixels: pixels}, "", nil
}

// stageDone evicts a component in low-VRAM mode.
func stageDone[T any](ctx context.Context, e *Executor, h *Handle[T]) error {
	if !e.cfg.LowVRAM {
		return nil
	}
	return h.Unload(ctx)
}

func (e *Executor) encode(ctx context.Context, req Request) (conditioning, error) {
	enc, err := e.comps.Encoder.Load(ctx)
	if err != nil {
		return conditioning{}, err
	}
	var c conditioning
	var emb Embedding
	if len(req.Mix) > 0 {
		emb, err = e.encodeMix(ctx, enc, req)
	} else {
		emb, err = enc.EncodeText(ctx, req.Prompt)
	}
	if err != nil {
		return conditioning{}, err
	}
	c.context, c.mask = emb.Context, emb.Mask
	if req.NegativePrompt != "" {
		neg, err := enc.EncodeText(ctx, req.NegativePrompt)
		if err != nil {
			return conditioning{}, err
		}
		c.negContext, c.negMask = neg.Context, neg.Mask
	}
	return c, stageDone(ctx, e, e.comps.Encoder)
}

// encodeMix combines weighted embeddings: context is the weight-normalised
// sum, the mask attends wherever any entry attends.
func (e *Executor) encodeMix(ctx context.Context, enc Encoder, req Request) (Embedding, error) {
	var total float64
	for _, m := range req.Mix {
		total += m.Weight
	}
	if total <= 0 {
		return Embedding{}, fmt.Errorf("%w: mix weights sum to %v", ErrInvalidRequest, total)
	}
	var acc []float64
	var out Embedding
	for i, m := range req.Mix {
		var emb Embedding
		var err error
		if m.Image != nil {
			emb, err = enc.EncodeImage(ctx, imageToTensor(m.Image, req.Width, req.Height))
		} else {
			emb, err = enc.EncodeText(ctx, m.Text)
		}
		if err != nil {
			return Embedding{}, fmt.Errorf("mix entry %d: %w", i, err)
		}
		if acc == nil {
			acc = make([]float64, emb.Context.Len())
			out.Context = tensor.New(emb.Context.Shape...)
			out.Mask = tensor.New(emb.Mask.Shape...)
		} else if !tensor.SameShape(emb.Context, out.Context) || !tensor.SameShape(emb.Mask, out.Mask) {
			return Embedding{}, fmt.Errorf("mix entry %d: embedding shape %v differs from %v", i, emb.Context.Shape, out.Context.Shape)
		}
		w := m.Weight / total
		for j, v := range emb.Context.Data {
			acc[j] += w * float64(v)
		}
		for j, v := range emb.Mask.Data {
			if v > out.Mask.Data[j] {
				out.Mask.Data[j] = v
			}
		}
	}
	for j, v := range acc {
		out.Context.Data[j] = float32(v)
	}
	return out, nil
}

// encodeInit encodes the init image and, for inpainting, builds the extra
// channels: the latent-resolution mask followed by the masked image latent.
func (e *Executor) encodeInit(ctx context.Context, req Request) (initLatent, extra *tensor.Tensor, err error) {
	ae, err := e.comps.Autoencoder.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	pixels := imageToTensor(req.InitImage, req.Width, req.Height)
	if initLatent, err = ae.Encode(ctx, pixels); err != nil {
		return nil, nil, err
	}
	if req.Mask != nil {
		hole := maskPixels(req.Mask, req.Width, req.Height)
		masked := pixels.Clone()
		plane := req.Width * req.Height
		for c := 0; c < 3; c++ {
			for i := 0; i < plane; i++ {
				masked.Data[c*plane+i] *= 1 - hole.Data[i]
			}
		}
		maskedLatent, err := ae.Encode(ctx, masked)
		if err != nil {
			return nil, nil, err
		}
		extra = concatChannels(maskToLatent(req.Mask, req.Width, req.Height, e.cfg.Downscale), maskedLatent)
	}
	return initLatent, extra, stageDone(ctx, e, e.comps.Autoencoder)
}

func (e *Executor) denoise(ctx context.Context, req Request, cond conditioning, times []int, eta float64, gan bool,
	initLatent, extra *tensor.Tensor) ([]*tensor.Tensor, error) {

	lh, lw := req.Height/e.cfg.Downscale, req.Width/e.cfg.Downscale
	var latents []*tensor.Tensor
	for _, mb := range Minibatches(req.ImagesNum, req.BatchSize) {
		opts := diffusion.LoopOptions{
			Shape:         []int{mb, e.cfg.LatentChannels, lh, lw},
			Times:         times,
			NullEmbedding: e.cfg.NullEmbedding,
			GuidanceScale: req.GuidanceScale,
			Eta:           eta,
			Gan:           gan,
			Rand:          req.Rand,
			Progress:      req.Progress,
		}
		var err error
		if opts.Context, err = tensor.Repeat(cond.context, mb); err != nil {
			return nil, err
		}
		if opts.ContextMask, err = tensor.Repeat(cond.mask, mb); err != nil {
			return nil, err
		}
		if cond.negContext != nil {
			if opts.NegativeContext, err = tensor.Repeat(cond.negContext, mb); err != nil {
				return nil, err
			}
			if opts.NegativeContextMask, err = tensor.Repeat(cond.negMask, mb); err != nil {
				return nil, err
			}
		}
		if initLatent != nil {
			if opts.Init, err = tensor.Repeat(initLatent, mb); err != nil {
				return nil, err
			}
		}
		if extra != nil {
			if opts.Extra, err = tensor.Repeat(extra, mb); err != nil {
				return nil, err
			}
		}

		den, err := e.comps.Denoiser.Load(ctx)
		if err != nil {
			return nil, err
		}
		lat, err := e.cfg.Sampler.PSampleLoop(ctx, den, opts)
		if err != nil {
			return nil, err
		}
		latents = append(latents, lat)
		if err := stageDone(ctx, e, e.comps.Denoiser); err != nil {
			return nil, err
		}
	}
	return latents, nil
}

func (e *Executor) decode(ctx context.Context, latents []*tensor.Tensor) (*tensor.Tensor, error) {
	ae, err := e.comps.Autoencoder.Load(ctx)
	if err != nil {
		return nil, err
	}
	var parts []*tensor.Tensor
	for _, lat := range latents {
		chunk := e.cfg.DecodeChunk
		if chunk <= 0 {
			chunk = lat.Batch()
		}
		for _, piece := range lat.Split(chunk) {
			px, err := ae.Decode(ctx, piece)
			if err != nil {
				return nil, err
			}
			parts = append(parts, px)
		}
	}
	pixels, err := tensor.Concat(parts...)
	if err != nil {
		return nil, err
	}
	if !pixels.AllFinite() {
		return nil, diffusion.ErrNumericDivergence
	}
	return pixels, stageDone(ctx, e, e.comps.Autoencoder)
}
