// Package synthetic is a deterministic reference backend. It implements the
// encoder, denoiser and autoencoder contracts with closed-form math so the
// service, the CLI and the tests run without neural network kernels.
//
// The denoiser is an oracle: it knows the clean latent a prompt "means"
// (derived from the context embedding) and returns the exact noise that
// separates the current latent from it at the given timestep.
package synthetic

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"diffstudio/internal/diffusion"
	"diffstudio/internal/pipeline"
	"diffstudio/internal/tensor"
)

// Geometry of the synthetic models.
const (
	Tokens         = 8
	Dim            = 16
	LatentChannels = 4
	Downscale      = 8
)

// offloads counts Offload calls across all synthetic modules.
var offloads atomic.Int64

// Offloads returns the number of host transfers performed so far.
func Offloads() int64 { return offloads.Load() }

type module struct{}

func (module) Offload(context.Context) error {
	offloads.Add(1)
	return nil
}

// Encoder hashes words into token embeddings.
type Encoder struct{ module }

// NewEncoder returns an encoder.
func NewEncoder() *Encoder { return &Encoder{} }

func tokenVector(word string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(word))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, seed>>7|1))
	v := make([]float32, Dim)
	for i := range v {
		v[i] = float32(r.Float64()*2 - 1)
	}
	return v
}

// EncodeText maps up to Tokens words to embeddings. The empty prompt still
// attends to one (zero) token.
func (e *Encoder) EncodeText(_ context.Context, prompt string) (pipeline.Embedding, error) {
	ctx := tensor.New(1, Tokens, Dim)
	mask := tensor.New(1, Tokens)
	mask.Data[0] = 1
	for i, w := range strings.Fields(strings.ToLower(prompt)) {
		if i == Tokens {
			break
		}
		copy(ctx.Data[i*Dim:(i+1)*Dim], tokenVector(w))
		mask.Data[i] = 1
	}
	return pipeline.Embedding{Context: ctx, Mask: mask}, nil
}

// EncodeImage summarises channel means of Tokens horizontal bands.
func (e *Encoder) EncodeImage(_ context.Context, px *tensor.Tensor) (pipeline.Embedding, error) {
	c, h, w := px.Shape[1], px.Shape[2], px.Shape[3]
	ctx := tensor.New(1, Tokens, Dim)
	mask := tensor.New(1, Tokens)
	band := (h + Tokens - 1) / Tokens
	for tok := 0; tok < Tokens; tok++ {
		y0, y1 := tok*band, min((tok+1)*band, h)
		if y0 >= y1 {
			continue
		}
		mask.Data[tok] = 1
		for ch := 0; ch < c && ch < Dim; ch++ {
			var sum float64
			for y := y0; y < y1; y++ {
				for x := 0; x < w; x++ {
					sum += float64(px.Data[ch*h*w+y*w+x])
				}
			}
			ctx.Data[tok*Dim+ch] = float32(sum / float64((y1-y0)*w))
		}
	}
	return pipeline.Embedding{Context: ctx, Mask: mask}, nil
}

// Denoiser predicts noise against the clean latent implied by the context.
type Denoiser struct {
	module
	sched *diffusion.Schedule
}

// NewDenoiser returns a denoiser bound to the sampler's schedule.
func NewDenoiser(sched *diffusion.Schedule) *Denoiser { return &Denoiser{sched: sched} }

// Predict implements diffusion.Denoiser.
func (d *Denoiser) Predict(_ context.Context, in diffusion.DenoiseInput) (*tensor.Tensor, error) {
	b, c, h, w := in.X.Shape[0], in.X.Shape[1], in.X.Shape[2], in.X.Shape[3]
	out := tensor.New(in.X.Shape...)
	plane := h * w
	for n := 0; n < b; n++ {
		t := in.Timesteps[n]
		ab := d.sched.AlphasCumprod[max(0, min(t, len(d.sched.AlphasCumprod)-1))]
		sa, s1 := math.Sqrt(ab), math.Sqrt(1-ab)
		bias := contextBias(in.Context, in.ContextMask, n, c)
		for ch := 0; ch < c; ch++ {
			for i := 0; i < plane; i++ {
				y, x := i/w, i%w
				target := math.Tanh(bias[ch] + 0.5*math.Sin(float64(x+1)*bias[(ch+1)%c]+float64(y)*0.3))
				if in.Extra != nil {
					target = inpaintTarget(in.Extra, n, ch, i, plane, target)
				}
				idx := n*c*plane + ch*plane + i
				out.Data[idx] = float32((float64(in.X.Data[idx]) - sa*target) / s1)
			}
		}
	}
	return out, nil
}

// inpaintTarget keeps the masked image latent outside the hole.
func inpaintTarget(extra *tensor.Tensor, n, ch, i, plane int, target float64) float64 {
	ec := extra.Shape[1]
	base := n * ec * plane
	hole := float64(extra.Data[base+i])
	if ch+1 >= ec {
		return target
	}
	known := float64(extra.Data[base+(ch+1)*plane+i])
	return hole*target + (1-hole)*known
}

// contextBias averages attended tokens into one value per latent channel.
func contextBias(ctx, mask *tensor.Tensor, n, channels int) []float64 {
	tokens, dim := ctx.Shape[1], ctx.Shape[2]
	out := make([]float64, channels)
	var count float64
	for tok := 0; tok < tokens; tok++ {
		if mask.Data[n*tokens+tok] == 0 {
			continue
		}
		count++
		row := ctx.Data[(n*tokens+tok)*dim : (n*tokens+tok+1)*dim]
		for j, v := range row {
			out[j%channels] += float64(v)
		}
	}
	if count > 0 {
		for i := range out {
			out[i] /= count
		}
	}
	return out
}

// Autoencoder average-pools pixels into latents and upsamples back.
type Autoencoder struct{ module }

// NewAutoencoder returns an autoencoder.
func NewAutoencoder() *Autoencoder { return &Autoencoder{} }

// Encode maps B×3×H×W pixels to B×4×H/8×W/8; the fourth channel is luminance.
func (a *Autoencoder) Encode(_ context.Context, px *tensor.Tensor) (*tensor.Tensor, error) {
	b, h, w := px.Shape[0], px.Shape[2], px.Shape[3]
	lh, lw := h/Downscale, w/Downscale
	out := tensor.New(b, LatentChannels, lh, lw)
	area := float32(Downscale * Downscale)
	for n := 0; n < b; n++ {
		for ch := 0; ch < 3; ch++ {
			src := px.Data[(n*3+ch)*h*w:]
			dst := out.Data[(n*LatentChannels+ch)*lh*lw:]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					dst[(y/Downscale)*lw+x/Downscale] += src[y*w+x] / area
				}
			}
		}
		lum := out.Data[(n*LatentChannels+3)*lh*lw:]
		for i := 0; i < lh*lw; i++ {
			var s float32
			for ch := 0; ch < 3; ch++ {
				s += out.Data[(n*LatentChannels+ch)*lh*lw+i]
			}
			lum[i] = s / 3
		}
	}
	return out, nil
}

// Decode upsamples the first three latent channels to B×3×H×W.
func (a *Autoencoder) Decode(_ context.Context, lat *tensor.Tensor) (*tensor.Tensor, error) {
	b, c, lh, lw := lat.Shape[0], lat.Shape[1], lat.Shape[2], lat.Shape[3]
	h, w := lh*Downscale, lw*Downscale
	out := tensor.New(b, 3, h, w)
	for n := 0; n < b; n++ {
		for ch := 0; ch < 3 && ch < c; ch++ {
			src := lat.Data[(n*c+ch)*lh*lw:]
			dst := out.Data[(n*3+ch)*h*w:]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					dst[y*w+x] = src[(y/Downscale)*lw+x/Downscale]
				}
			}
		}
	}
	return out, nil
}

// NullEmbedding is the unconditional token.
func NullEmbedding() *tensor.Tensor { return tensor.New(1, Dim) }
