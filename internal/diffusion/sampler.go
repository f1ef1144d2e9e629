package diffusion

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"diffstudio/internal/tensor"
)

// Denoiser predicts the noise present in X at the given per-item timesteps.
type Denoiser interface {
	Predict(ctx context.Context, in DenoiseInput) (*tensor.Tensor, error)
}

// DenoiseInput is one forward pass worth of inputs. All tensors share the batch size of X.
type DenoiseInput struct {
	X           *tensor.Tensor // B×C×H×W latent
	Timesteps   []int          // one per batch item
	Context     *tensor.Tensor // B×n×d
	ContextMask *tensor.Tensor // B×n, 1 = attend
	// Extra carries additional conditioning channels (inpainting mask and
	// masked-image latent). Nil for plain generation.
	Extra *tensor.Tensor
}

// LoopOptions describes one PSampleLoop invocation.
type LoopOptions struct {
	Shape       []int // B×C×H×W
	Times       []int // strictly decreasing
	Context     *tensor.Tensor
	ContextMask *tensor.Tensor
	// NullEmbedding is the learned unconditional token (length d). With no
	// negative context it forms the unconditional branch.
	NullEmbedding       *tensor.Tensor
	GuidanceScale       float64
	NegativeContext     *tensor.Tensor
	NegativeContextMask *tensor.Tensor
	Eta                 float64
	Gan                 bool
	// Init is the starting latent for image-to-image; it is noised to Times[0].
	Init  *tensor.Tensor
	Extra *tensor.Tensor
	Rand  *rand.Rand
	// Progress, when set, is called after every step.
	Progress func(step, total int)
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Schedule   string
	TrainSteps int
	// Percentile drives dynamic thresholding of the x0 prediction. Zero means
	// plain clipping to [-1, 1].
	Percentile float64
	Precision  tensor.Precision
	Logger     zerolog.Logger
}

// Sampler runs the reverse diffusion loop over a fixed schedule.
type Sampler struct {
	schedule   *Schedule
	percentile float64
	precision  tensor.Precision
	log        zerolog.Logger
}

// NewSampler builds the schedule once; the Sampler is then safe for sequential reuse.
func NewSampler(cfg SamplerConfig) (*Sampler, error) {
	if cfg.TrainSteps <= 0 {
		cfg.TrainSteps = DefaultTrainSteps
	}
	sched, err := NewSchedule(cfg.Schedule, cfg.TrainSteps)
	if err != nil {
		return nil, err
	}
	return &Sampler{schedule: sched, percentile: cfg.Percentile, precision: cfg.Precision, log: cfg.Logger}, nil
}

// Schedule returns the sampler's noise schedule.
func (s *Sampler) Schedule() *Schedule { return s.schedule }

// guided reports whether the loop needs an unconditional branch.
func (o *LoopOptions) guided() bool {
	if o.GuidanceScale == 1 {
		return false
	}
	return o.NegativeContext != nil || o.NullEmbedding != nil
}

// PSampleLoop denoises from pure noise (or a noised Init) through every
// timestep in opts.Times and returns the final latent. The latent and all
// update arithmetic stay in float64; only denoiser inputs and outputs pass
// through the configured storage precision. The loop cannot be cancelled
// part-way: ctx is forwarded to the denoiser only.
func (s *Sampler) PSampleLoop(ctx context.Context, den Denoiser, opts LoopOptions) (*tensor.Tensor, error) {
	if len(opts.Shape) != 4 {
		return nil, fmt.Errorf("diffusion: latent shape must be B×C×H×W, got %v", opts.Shape)
	}
	if opts.Rand == nil {
		return nil, fmt.Errorf("diffusion: loop requires a seeded random source")
	}
	for i := 1; i < len(opts.Times); i++ {
		if opts.Times[i] >= opts.Times[i-1] {
			return nil, fmt.Errorf("%w: timesteps not strictly decreasing at %d", ErrInvalidSchedule, i)
		}
	}
	batch := opts.Shape[0]
	n := tensor.Numel(opts.Shape)

	var uncond, uncondMask *tensor.Tensor
	if opts.guided() {
		var err error
		uncond, uncondMask, err = s.unconditional(opts)
		if err != nil {
			return nil, err
		}
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = opts.Rand.NormFloat64()
	}
	if opts.Init != nil {
		if opts.Init.Len() != n {
			return nil, fmt.Errorf("diffusion: init latent has %d values, want %d", opts.Init.Len(), n)
		}
		if len(opts.Times) > 0 {
			ab := s.schedule.alphaBar(opts.Times[0])
			init := tensor.Widen(opts.Init)
			floats.Scale(math.Sqrt(1-ab), x)
			floats.AddScaled(x, math.Sqrt(ab), init)
		} else {
			x = tensor.Widen(opts.Init)
		}
	}

	eps := make([]float64, n)
	x0 := make([]float64, n)
	noise := make([]float64, n)
	total := len(opts.Times)
	for i, t := range opts.Times {
		prevT := 0
		if i+1 < total {
			prevT = opts.Times[i+1]
		}
		if err := s.predict(ctx, den, opts, x, t, batch, uncond, uncondMask, eps); err != nil {
			return nil, fmt.Errorf("step %d (t=%d): %w", i, t, err)
		}
		s.step(x, eps, x0, noise, t, prevT, batch, opts)
		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}

	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNumericDivergence
		}
	}
	s.log.Debug().Int("steps", total).Float64("guidance", opts.GuidanceScale).Bool("gan", opts.Gan).Msg("sample loop done")
	return s.precision.Store(x, opts.Shape...), nil
}

// predict runs the denoiser once and writes the (guided) noise estimate into eps.
func (s *Sampler) predict(ctx context.Context, den Denoiser, opts LoopOptions, x []float64, t, batch int,
	uncond, uncondMask *tensor.Tensor, eps []float64) error {

	xs := s.precision.Store(x, opts.Shape...)
	in := DenoiseInput{X: xs, Timesteps: fill(t, batch), Context: opts.Context, ContextMask: opts.ContextMask, Extra: opts.Extra}
	if uncond == nil {
		out, err := den.Predict(ctx, in)
		if err != nil {
			return err
		}
		if out.Len() != len(eps) {
			return fmt.Errorf("diffusion: denoiser returned %d values, want %d", out.Len(), len(eps))
		}
		for i, v := range out.Data {
			eps[i] = float64(v)
		}
		return nil
	}

	// Conditional and unconditional branches share one forward pass of 2B.
	var err error
	in.X, err = tensor.Concat(xs, xs)
	if err != nil {
		return err
	}
	in.Timesteps = fill(t, 2*batch)
	if in.Context, err = tensor.Concat(opts.Context, uncond); err != nil {
		return err
	}
	if in.ContextMask, err = tensor.Concat(opts.ContextMask, uncondMask); err != nil {
		return err
	}
	if opts.Extra != nil {
		if in.Extra, err = tensor.Concat(opts.Extra, opts.Extra); err != nil {
			return err
		}
	}
	out, err := den.Predict(ctx, in)
	if err != nil {
		return err
	}
	if out.Len() != 2*len(eps) {
		return fmt.Errorf("diffusion: denoiser returned %d values, want %d", out.Len(), 2*len(eps))
	}
	cond := tensor.Widen(out.Slice(0, batch))
	unc := tensor.Widen(out.Slice(batch, 2*batch))
	// eps = uncond + g*(cond - uncond)
	floats.SubTo(eps, cond, unc)
	floats.AddScaledTo(eps, unc, opts.GuidanceScale, eps)
	return nil
}

// step advances x from timestep t to prevT in place.
func (s *Sampler) step(x, eps, x0, noise []float64, t, prevT, batch int, opts LoopOptions) {
	ab := s.schedule.alphaBar(t)
	abPrev := s.schedule.alphaBar(prevT)
	sqrtAB, sqrtOneMinusAB := math.Sqrt(ab), math.Sqrt(1-ab)

	for i := range x {
		x0[i] = (x[i] - sqrtOneMinusAB*eps[i]) / sqrtAB
	}
	s.threshold(x0, batch)
	// Re-derive the noise consistent with the thresholded x0.
	for i := range x {
		eps[i] = (x[i] - sqrtAB*x0[i]) / sqrtOneMinusAB
	}

	if opts.Gan {
		if prevT <= 0 {
			copy(x, x0)
			return
		}
		s.drawNoise(noise, opts.Rand)
		a, b := math.Sqrt(abPrev), math.Sqrt(1-abPrev)
		for i := range x {
			x[i] = a*x0[i] + b*noise[i]
		}
		return
	}

	sigma := 0.0
	if opts.Eta > 0 && ab < abPrev {
		sigma = opts.Eta * math.Sqrt((1-abPrev)/(1-ab)*(1-ab/abPrev))
	}
	dirCoef := math.Sqrt(math.Max(0, 1-abPrev-sigma*sigma))
	sqrtABPrev := math.Sqrt(abPrev)
	if sigma > 0 {
		s.drawNoise(noise, opts.Rand)
	}
	for i := range x {
		v := sqrtABPrev*x0[i] + dirCoef*eps[i]
		if sigma > 0 {
			v += sigma * noise[i]
		}
		x[i] = v
	}
}

func (s *Sampler) drawNoise(dst []float64, r *rand.Rand) {
	for i := range dst {
		dst[i] = r.NormFloat64()
	}
}

// threshold applies dynamic thresholding per batch item: values are clipped
// to the percentile of |x0| (at least 1) and rescaled into [-1, 1].
func (s *Sampler) threshold(x0 []float64, batch int) {
	if batch <= 0 {
		return
	}
	item := len(x0) / batch
	abs := make([]float64, item)
	for b := 0; b < batch; b++ {
		v := x0[b*item : (b+1)*item]
		q := 1.0
		if s.percentile > 0 {
			for i, e := range v {
				abs[i] = math.Abs(e)
			}
			sort.Float64s(abs)
			q = math.Max(stat.Quantile(s.percentile, stat.LinInterp, abs, nil), 1)
		}
		for i, e := range v {
			v[i] = math.Max(-q, math.Min(q, e)) / q
		}
	}
}

// unconditional builds the unconditional branch: the negative context when
// given, otherwise a context whose first token is the null embedding and
// whose mask attends to that token only.
func (s *Sampler) unconditional(opts LoopOptions) (*tensor.Tensor, *tensor.Tensor, error) {
	if opts.NegativeContext != nil {
		if !tensor.SameShape(opts.NegativeContext, opts.Context) {
			return nil, nil, fmt.Errorf("diffusion: negative context shape %v differs from context %v",
				opts.NegativeContext.Shape, opts.Context.Shape)
		}
		mask := opts.NegativeContextMask
		if mask == nil {
			mask = opts.ContextMask
		}
		return opts.NegativeContext, mask, nil
	}
	c := opts.Context
	if c == nil || len(c.Shape) != 3 {
		return nil, nil, fmt.Errorf("diffusion: context must be B×n×d for guidance")
	}
	b, n, d := c.Shape[0], c.Shape[1], c.Shape[2]
	if opts.NullEmbedding.Len() != d {
		return nil, nil, fmt.Errorf("diffusion: null embedding has %d values, context width is %d", opts.NullEmbedding.Len(), d)
	}
	ctx := tensor.New(b, n, d)
	mask := tensor.New(b, n)
	for i := 0; i < b; i++ {
		copy(ctx.Data[i*n*d:i*n*d+d], opts.NullEmbedding.Data)
		mask.Data[i*n] = 1
	}
	return ctx, mask, nil
}

func fill(t, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = t
	}
	return out
}
