package studio

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"diffstudio/internal/backend/synthetic"
	"diffstudio/internal/device"
	"diffstudio/internal/diffusion"
	"diffstudio/internal/manager"
	"diffstudio/internal/pipeline"
	"diffstudio/internal/registry"
	"diffstudio/internal/tensor"
)

const (
	mib = int64(1) << 20
	gib = int64(1) << 30
)

// FamilyOptions are the shared resources every family builder closes over.
type FamilyOptions struct {
	Pool      *device.Pool
	Reclaimer device.Reclaimer
	Registry  *registry.Registry
	Precision tensor.Precision
	// DecodeChunk caps latents per decoder call. Zero decodes a minibatch at once.
	DecodeChunk int
	// RequireWeights fails construction when a component has no weights file.
	RequireWeights bool
	Log            zerolog.Logger
}

// familySpec is the static description of one model family.
type familySpec struct {
	description string
	policy      manager.EvictionPolicy
	lowVRAM     bool
	schedule    string
	percentile  float64
	// sizes are residency estimates used when the registry has no file.
	sizes  map[string]int64
	routes []manager.Route
}

var familySpecs = map[string]familySpec{
	"kd2": {
		description: "Kandinsky 2.0: one text2img pipeline and one inpainting pipeline, never both resident",
		policy:      manager.EvictAll,
		schedule:    "linear",
		sizes:       map[string]int64{"encoder": 2 * gib, "denoiser": 5 * gib / 2, "autoencoder": 320 * mib},
		routes: []manager.Route{
			{Task: manager.Text2Img, Bucket: "text2img"},
			{Task: manager.Img2Img, Bucket: "text2img"},
			{Task: manager.Mix, Bucket: "text2img"},
			{Task: manager.Inpainting, Bucket: "inpainting"},
			{Task: manager.Outpainting, Bucket: "inpainting"},
		},
	},
	"kd21": {
		description: "Kandinsky 2.1: generation and inpainting pipelines, flushed on every switch",
		policy:      manager.EvictAll,
		schedule:    "linear",
		sizes:       map[string]int64{"encoder": 2 * gib, "denoiser": 5 * gib / 2, "autoencoder": 320 * mib},
		routes: []manager.Route{
			{Task: manager.Text2Img, Bucket: "generation"},
			{Task: manager.Img2Img, Bucket: "generation"},
			{Task: manager.Mix, Bucket: "generation"},
			{Task: manager.Inpainting, Bucket: "inpaint"},
			{Task: manager.Outpainting, Bucket: "inpaint"},
		},
	},
	"diffusers21": {
		description: "Kandinsky 2.1 via per-task pipelines; buckets stay resident until the device budget needs room",
		policy:      manager.EvictBucketLocal,
		schedule:    "linear",
		sizes:       map[string]int64{"encoder": 2 * gib, "denoiser": 5 * gib / 2, "autoencoder": 320 * mib},
		routes: []manager.Route{
			{Task: manager.Text2Img, Bucket: "t2i"},
			{Task: manager.Mix, Bucket: "t2i"},
			{Task: manager.Img2Img, Bucket: "i2i"},
			{Task: manager.Inpainting, Bucket: "inpaint"},
			{Task: manager.Outpainting, Bucket: "inpaint"},
		},
	},
	"kd31-lowvram": {
		description: "Kandinsky 3.1 staged for low-VRAM devices: one component resident at a time",
		policy:      manager.EvictAll,
		lowVRAM:     true,
		schedule:    "cosine",
		percentile:  0.95,
		sizes:       map[string]int64{"encoder": 9 * gib / 2, "denoiser": 12 * gib, "autoencoder": 280 * mib},
		routes:      []manager.Route{{Task: manager.Text2Img, Bucket: "t2i"}},
	},
	"diffusers30": {
		description: "Kandinsky 3.0 text2img only",
		policy:      manager.EvictAll,
		schedule:    "cosine",
		percentile:  0.95,
		sizes:       map[string]int64{"encoder": 9 * gib / 2, "denoiser": 12 * gib, "autoencoder": 280 * mib},
		routes:      []manager.Route{{Task: manager.Text2Img, Bucket: "t2i"}},
	},
}

// FamilyNames lists the known families, sorted.
func FamilyNames() []string {
	out := make([]string, 0, len(familySpecs))
	for name := range familySpecs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewFamily returns the named family wired to the reference backend.
func NewFamily(name string, opts FamilyOptions) (*manager.Family, error) {
	spec, ok := familySpecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown family %q (known: %v)", name, FamilyNames())
	}
	if opts.Pool == nil {
		opts.Pool = device.NewPool("cpu", 0, opts.Log)
	}
	b := &familyBuilder{name: name, spec: spec, opts: opts}
	fam, err := manager.NewFamily(name, spec.policy, b.build, spec.routes...)
	if err != nil {
		return nil, err
	}
	fam.Description = spec.description
	fam.LowVRAM = spec.lowVRAM
	fam.Estimate = b.estimate
	fam.Validate = func(req pipeline.Request) error {
		return req.Validate(synthetic.Downscale, diffusion.DefaultTrainSteps)
	}
	return fam, nil
}

type familyBuilder struct {
	name string
	spec familySpec
	opts FamilyOptions
}

var componentNames = []string{"encoder", "denoiser", "autoencoder"}

// size returns the residency estimate of a component: the weights file size
// when registered, the family default otherwise.
func (b *familyBuilder) size(component string) int64 {
	if w, ok := b.opts.Registry.Lookup(b.name, component); ok && w.SizeBytes > 0 {
		return w.SizeBytes
	}
	return b.spec.sizes[component]
}

// estimate is the device footprint of a bucket's pipeline. Low-VRAM
// pipelines hold one component at a time.
func (b *familyBuilder) estimate(manager.Bucket) int64 {
	var total, largest int64
	for _, c := range componentNames {
		s := b.size(c)
		total += s
		largest = max(largest, s)
	}
	if b.spec.lowVRAM {
		return largest
	}
	return total
}

// checkWeights stats the registered file of component. It is a no-op for
// components without a registry entry unless weights are required.
func (b *familyBuilder) checkWeights(component string) error {
	w, ok := b.opts.Registry.Lookup(b.name, component)
	if !ok {
		if b.opts.RequireWeights {
			return fmt.Errorf("no weights for %s/%s", b.name, component)
		}
		return nil
	}
	if _, err := os.Stat(w.Path); err != nil {
		return fmt.Errorf("weights %s: %w", w.ID, err)
	}
	return nil
}

func (b *familyBuilder) build(ctx context.Context, bucket manager.Bucket) (manager.Pipeline, error) {
	for _, c := range componentNames {
		if err := b.checkWeights(c); err != nil {
			return nil, err
		}
	}
	log := b.opts.Log.With().Str("family", b.name).Str("bucket", string(bucket)).Logger()
	sampler, err := diffusion.NewSampler(diffusion.SamplerConfig{
		Schedule:   b.spec.schedule,
		Percentile: b.spec.percentile,
		Precision:  b.opts.Precision,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	reclaimer := b.opts.Reclaimer
	if reclaimer == nil {
		reclaimer = device.GCReclaimer{Device: b.opts.Pool.Name()}
	}
	env := pipeline.Env{Pool: b.opts.Pool, Reclaimer: reclaimer, Log: log}
	owner := func(c string) string { return b.name + "/" + string(bucket) + "/" + c }

	comps := pipeline.Components{
		Encoder: pipeline.NewHandle(owner("encoder"), b.size("encoder"), func(context.Context) (pipeline.Encoder, error) {
			if err := b.checkWeights("encoder"); err != nil {
				return nil, err
			}
			return synthetic.NewEncoder(), nil
		}, env),
		Denoiser: pipeline.NewHandle(owner("denoiser"), b.size("denoiser"), func(context.Context) (diffusion.Denoiser, error) {
			if err := b.checkWeights("denoiser"); err != nil {
				return nil, err
			}
			return synthetic.NewDenoiser(sampler.Schedule()), nil
		}, env),
		Autoencoder: pipeline.NewHandle(owner("autoencoder"), b.size("autoencoder"), func(context.Context) (pipeline.Autoencoder, error) {
			if err := b.checkWeights("autoencoder"); err != nil {
				return nil, err
			}
			return synthetic.NewAutoencoder(), nil
		}, env),
	}
	exec, err := pipeline.NewExecutor(comps, pipeline.Config{
		Sampler:        sampler,
		LowVRAM:        b.spec.lowVRAM,
		LatentChannels: synthetic.LatentChannels,
		Downscale:      synthetic.Downscale,
		NullEmbedding:  synthetic.NullEmbedding(),
		DecodeChunk:    b.opts.DecodeChunk,
		Pool:           b.opts.Pool,
		Log:            log,
	})
	if err != nil {
		return nil, err
	}
	// Families that keep their pipeline resident load it during construction
	// so that out-of-memory surfaces as a construction failure.
	if !b.spec.lowVRAM {
		if _, err := comps.Encoder.Load(ctx); err != nil {
			return nil, err
		}
		if _, err := comps.Denoiser.Load(ctx); err != nil {
			_ = exec.Release(ctx)
			return nil, err
		}
		if _, err := comps.Autoencoder.Load(ctx); err != nil {
			_ = exec.Release(ctx)
			return nil, err
		}
	}
	return exec, nil
}
