package pipeline

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"diffstudio/internal/tensor"
)

// imageToTensor resizes img to w×h and returns a 1×3×h×w tensor in [-1,1].
func imageToTensor(img image.Image, w, h int) *tensor.Tensor {
	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)
	out := tensor.New(1, 3, h, w)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := rgba.PixOffset(x, y)
			i := y*w + x
			for c := 0; c < 3; c++ {
				out.Data[c*plane+i] = float32(rgba.Pix[o+c])/127.5 - 1
			}
		}
	}
	return out
}

// maskToLatent resizes a mask to the latent grid and returns a 1×1×lh×lw
// tensor with 1 where the area is to be repainted. Each latent cell is the
// mean coverage of its pixel block.
func maskToLatent(mask image.Image, w, h, downscale int) *tensor.Tensor {
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(gray, gray.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	lw, lh := w/downscale, h/downscale
	out := tensor.New(1, 1, lh, lw)
	block := float32(downscale * downscale)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray.GrayAt(x, y).Y >= 128 {
				out.Data[(y/downscale)*lw+x/downscale] += 1 / block
			}
		}
	}
	return out
}

// maskPixels returns a 1×1×h×w binary tensor of the mask at pixel resolution.
func maskPixels(mask image.Image, w, h int) *tensor.Tensor {
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(gray, gray.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	out := tensor.New(1, 1, h, w)
	for i, v := range gray.Pix {
		if v >= 128 {
			out.Data[i] = 1
		}
	}
	return out
}

// tensorToImages converts a B×3×H×W tensor in [0,1] to images.
func tensorToImages(t *tensor.Tensor) []*image.NRGBA {
	b, h, w := t.Shape[0], t.Shape[2], t.Shape[3]
	plane := w * h
	out := make([]*image.NRGBA, 0, b)
	for n := 0; n < b; n++ {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		base := n * 3 * plane
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				img.SetNRGBA(x, y, color.NRGBA{
					R: toByte(t.Data[base+i]),
					G: toByte(t.Data[base+plane+i]),
					B: toByte(t.Data[base+2*plane+i]),
					A: 255,
				})
			}
		}
		out = append(out, img)
	}
	return out
}

func toByte(v float32) uint8 {
	f := v*255 + 0.5
	if f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(f)
}

// normalize maps decoder output from [-1,1] to [0,1] with clipping, in place.
func normalize(t *tensor.Tensor) {
	for i, v := range t.Data {
		v = (v + 1) / 2
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		t.Data[i] = v
	}
}

// concatChannels joins two B×C×H×W tensors with equal B, H, W along C.
func concatChannels(a, b *tensor.Tensor) *tensor.Tensor {
	n, ca, cb := a.Shape[0], a.Shape[1], b.Shape[1]
	plane := a.Shape[2] * a.Shape[3]
	out := tensor.New(n, ca+cb, a.Shape[2], a.Shape[3])
	for i := 0; i < n; i++ {
		dst := out.Data[i*(ca+cb)*plane:]
		copy(dst, a.Data[i*ca*plane:(i+1)*ca*plane])
		copy(dst[ca*plane:], b.Data[i*cb*plane:(i+1)*cb*plane])
	}
	return out
}
