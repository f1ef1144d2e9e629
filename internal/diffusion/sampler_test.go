package diffusion

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffstudio/internal/tensor"
)

// linearDenoiser predicts eps = 0.5*x + mean(context row) for every item.
type linearDenoiser struct {
	calls   int
	batches []int
}

func (d *linearDenoiser) Predict(_ context.Context, in DenoiseInput) (*tensor.Tensor, error) {
	d.calls++
	d.batches = append(d.batches, in.X.Batch())
	out := tensor.New(in.X.Shape...)
	item := in.X.Len() / in.X.Batch()
	ctxItem := in.Context.Len() / in.Context.Batch()
	for b := 0; b < in.X.Batch(); b++ {
		var sum float64
		for _, v := range in.Context.Data[b*ctxItem : (b+1)*ctxItem] {
			sum += float64(v)
		}
		mean := sum / float64(ctxItem)
		for i := b * item; i < (b+1)*item; i++ {
			out.Data[i] = float32(0.5*float64(in.X.Data[i]) + mean)
		}
	}
	return out, nil
}

func testContext(batch int, fill float32) (*tensor.Tensor, *tensor.Tensor) {
	c := tensor.New(batch, 3, 4)
	for i := range c.Data {
		c.Data[i] = fill
	}
	m := tensor.New(batch, 3)
	for i := range m.Data {
		m.Data[i] = 1
	}
	return c, m
}

func newTestSampler(t *testing.T, p tensor.Precision) *Sampler {
	t.Helper()
	s, err := NewSampler(SamplerConfig{Schedule: "cosine", Percentile: 0.99, Precision: p})
	require.NoError(t, err)
	return s
}

func loopOptions(seed uint64, g float64) LoopOptions {
	c, m := testContext(2, 0.25)
	times, _ := Timesteps(DefaultTrainSteps, 20, false)
	null := tensor.New(1, 4)
	return LoopOptions{
		Shape:         []int{2, 4, 8, 8},
		Times:         times,
		Context:       c,
		ContextMask:   m,
		NullEmbedding: null,
		GuidanceScale: g,
		Eta:           1,
		Rand:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func TestPSampleLoopDeterministic(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	a, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, loopOptions(42, 3))
	require.NoError(t, err)
	b, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, loopOptions(42, 3))
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	c, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, loopOptions(43, 3))
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestPSampleLoopGuidanceOneSkipsUnconditional(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	guided := &linearDenoiser{}
	opts := loopOptions(7, 1)
	out1, err := s.PSampleLoop(context.Background(), guided, opts)
	require.NoError(t, err)
	for _, b := range guided.batches {
		assert.Equal(t, 2, b, "guidance 1 must run the conditional branch only")
	}

	// Same run without any unconditional branch available.
	plain := &linearDenoiser{}
	opts2 := loopOptions(7, 1)
	opts2.NullEmbedding = nil
	out2, err := s.PSampleLoop(context.Background(), plain, opts2)
	require.NoError(t, err)
	assert.Equal(t, out1.Data, out2.Data)

	// No unconditional branch at all: the scale has nothing to act on.
	opts3 := loopOptions(7, 5)
	opts3.NullEmbedding = nil
	out3, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, opts3)
	require.NoError(t, err)
	assert.Equal(t, out1.Data, out3.Data)
}

func TestPSampleLoopBatchesGuidedPass(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	d := &linearDenoiser{}
	opts := loopOptions(1, 4)
	_, err := s.PSampleLoop(context.Background(), d, opts)
	require.NoError(t, err)
	assert.Equal(t, len(opts.Times), d.calls)
	for _, b := range d.batches {
		assert.Equal(t, 4, b)
	}
}

func TestPSampleLoopNegativeContextChangesResult(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	base, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, loopOptions(5, 3))
	require.NoError(t, err)

	opts := loopOptions(5, 3)
	opts.NegativeContext, opts.NegativeContextMask = testContext(2, -0.5)
	neg, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, opts)
	require.NoError(t, err)
	assert.NotEqual(t, base.Data, neg.Data)
}

func TestPSampleLoopHalfPrecisionStaysClose(t *testing.T) {
	full := newTestSampler(t, tensor.Float32)
	half := newTestSampler(t, tensor.Float16)
	times := []int{600, 450, 300, 150}
	opts := loopOptions(9, 1)
	opts.Eta, opts.Times = 0, times
	a, err := full.PSampleLoop(context.Background(), &linearDenoiser{}, opts)
	require.NoError(t, err)
	opts = loopOptions(9, 1)
	opts.Eta, opts.Times = 0, times
	b, err := half.PSampleLoop(context.Background(), &linearDenoiser{}, opts)
	require.NoError(t, err)
	require.Equal(t, a.Len(), b.Len())
	for i := range a.Data {
		assert.InDelta(t, a.Data[i], b.Data[i], 0.05)
	}
}

func TestPSampleLoopGanMode(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	d := &linearDenoiser{}
	opts := loopOptions(3, 1)
	opts.Times, _ = Timesteps(DefaultTrainSteps, 0, true)
	opts.Gan = true
	out, err := s.PSampleLoop(context.Background(), d, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, d.calls)
	// The last gan step returns the thresholded x0 directly.
	for _, v := range out.Data {
		assert.LessOrEqual(t, math.Abs(float64(v)), 1.0+1e-6)
	}
}

func TestPSampleLoopRejectsIncreasingTimesteps(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	opts := loopOptions(1, 1)
	opts.Times = []int{10, 20}
	_, err := s.PSampleLoop(context.Background(), &linearDenoiser{}, opts)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

type nanDenoiser struct{}

func (nanDenoiser) Predict(_ context.Context, in DenoiseInput) (*tensor.Tensor, error) {
	out := tensor.New(in.X.Shape...)
	for i := range out.Data {
		out.Data[i] = float32(math.NaN())
	}
	return out, nil
}

func TestPSampleLoopReportsDivergence(t *testing.T) {
	s := newTestSampler(t, tensor.Float32)
	_, err := s.PSampleLoop(context.Background(), nanDenoiser{}, loopOptions(1, 1))
	assert.ErrorIs(t, err, ErrNumericDivergence)
}

func TestThresholdClipsToUnitRange(t *testing.T) {
	s := &Sampler{percentile: 0.5}
	x := []float64{-4, -2, 0.5, 3, 0.1, 0.2, 0.3, 8}
	s.threshold(x, 2)
	for _, v := range x {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
	// Second item: |x| = 0.1,0.2,0.3,8 -> median 0.25, floored to 1, so small values pass through.
	assert.InDelta(t, 0.1, x[4], 1e-12)
	assert.InDelta(t, 1.0, x[7], 1e-12)
}
