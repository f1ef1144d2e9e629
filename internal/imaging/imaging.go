// Package imaging builds inpainting and outpainting inputs and composites
// results back into the source image. It works on image.Image values; file
// formats are handled by callers.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Multiple is the granularity output sizes are rounded to.
const Multiple = 64

// ErrInvalidInput is returned for unusable images, masks or offsets.
var ErrInvalidInput = errors.New("imaging: invalid input")

// Region selects where inpainted pixels are kept.
type Region string

const (
	// RegionWhole keeps the whole generated image.
	RegionWhole Region = "whole"
	// RegionMask composites generated pixels into the source inside the mask only.
	RegionMask Region = "mask"
)

// Target selects what the mask marks for repainting.
type Target string

const (
	TargetOnlyMask   Target = "only mask"
	TargetAllButMask Target = "all but mask"
)

// RoundToNearest rounds v to the nearest positive multiple of m.
func RoundToNearest(v, m int) int {
	r := ((v + m/2) / m) * m
	if r < m {
		return m
	}
	return r
}

// Resize scales img to w×h.
func Resize(img image.Image, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

// resizeMask scales a mask to w×h and binarises it at half intensity.
func resizeMask(mask image.Image, w, h int, invert bool) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(out, out.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	for i, v := range out.Pix {
		on := v >= 128
		if invert {
			on = !on
		}
		if on {
			out.Pix[i] = 255
		} else {
			out.Pix[i] = 0
		}
	}
	return out
}

// InpaintTargets resizes the source and its mask to the output size. With
// TargetAllButMask the mask is inverted so everything outside the drawn
// region is repainted.
func InpaintTargets(src, mask image.Image, w, h int, target Target) (*image.NRGBA, *image.Gray, error) {
	if src == nil || mask == nil {
		return nil, nil, fmt.Errorf("%w: inpainting needs an image and a mask", ErrInvalidInput)
	}
	if w <= 0 || h <= 0 {
		return nil, nil, fmt.Errorf("%w: output size %dx%d", ErrInvalidInput, w, h)
	}
	switch target {
	case "", TargetOnlyMask, TargetAllButMask:
	default:
		return nil, nil, fmt.Errorf("%w: unknown inpaint target %q", ErrInvalidInput, target)
	}
	return Resize(src, w, h), resizeMask(mask, w, h, target == TargetAllButMask), nil
}

// InferSize returns the source dimensions rounded to Multiple.
func InferSize(src image.Image) (int, int) {
	b := src.Bounds()
	return RoundToNearest(b.Dx(), Multiple), RoundToNearest(b.Dy(), Multiple)
}

// Composite returns the source (scaled to the generated size) with generated
// pixels copied in wherever mask is set.
func Composite(src, generated image.Image, mask *image.Gray) *image.NRGBA {
	gb := generated.Bounds()
	out := Resize(src, gb.Dx(), gb.Dy())
	m := mask
	if mb := mask.Bounds(); mb.Dx() != gb.Dx() || mb.Dy() != gb.Dy() {
		m = resizeMask(mask, gb.Dx(), gb.Dy(), false)
	}
	// Gray reads as opaque through At; reinterpret its bytes as alpha coverage.
	alpha := &image.Alpha{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect}
	draw.DrawMask(out, out.Bounds(), generated, gb.Min, alpha, alpha.Rect.Min, draw.Over)
	return out
}

// CompositeAll composites every generated image concurrently, preserving order.
func CompositeAll(ctx context.Context, src image.Image, generated []image.Image, mask *image.Gray) ([]image.Image, error) {
	out := make([]image.Image, len(generated))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, img := range generated {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = Composite(src, img, mask)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Offset is the outpainting extension in pixels on each side.
type Offset struct {
	Left, Right, Top, Bottom int
}

// ParseOffset accepts [left, right, top, bottom].
func ParseOffset(v []int) (*Offset, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if len(v) != 4 {
		return nil, fmt.Errorf("%w: offset needs 4 values, got %d", ErrInvalidInput, len(v))
	}
	for _, x := range v {
		if x < 0 {
			return nil, fmt.Errorf("%w: negative offset %v", ErrInvalidInput, v)
		}
	}
	return &Offset{Left: v[0], Right: v[1], Top: v[2], Bottom: v[3]}, nil
}

// OutpaintTargets builds the canvas and mask for outpainting.
//
// With an offset the source is placed at (Left, Top) on a canvas extended by
// the offset; with inferSize that canvas is rounded to Multiple, otherwise it
// is scaled to w×h. Without an offset the source is fitted inside a w×h
// canvas, centred. The mask is white wherever the canvas is not covered by
// the source. The returned size is the canvas size.
func OutpaintTargets(src image.Image, off *Offset, inferSize bool, w, h int) (*image.NRGBA, *image.Gray, int, int, error) {
	if src == nil {
		return nil, nil, 0, 0, fmt.Errorf("%w: outpainting needs an image", ErrInvalidInput)
	}
	sb := src.Bounds()
	var canvasW, canvasH int
	var place image.Rectangle
	if off != nil {
		canvasW, canvasH = sb.Dx()+off.Left+off.Right, sb.Dy()+off.Top+off.Bottom
		place = image.Rect(off.Left, off.Top, off.Left+sb.Dx(), off.Top+sb.Dy())
	} else {
		if w <= 0 || h <= 0 {
			return nil, nil, 0, 0, fmt.Errorf("%w: output size %dx%d", ErrInvalidInput, w, h)
		}
		canvasW, canvasH = w, h
		sw, sh := sb.Dx(), sb.Dy()
		if sw > w || sh > h {
			scale := min(float64(w)/float64(sw), float64(h)/float64(sh))
			sw, sh = max(1, int(float64(sw)*scale)), max(1, int(float64(sh)*scale))
		}
		x0, y0 := (w-sw)/2, (h-sh)/2
		place = image.Rect(x0, y0, x0+sw, y0+sh)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.CatmullRom.Scale(canvas, place, src, sb, draw.Src, nil)
	mask := image.NewGray(canvas.Bounds())
	draw.Draw(mask, mask.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)
	draw.Draw(mask, place, image.NewUniform(color.Gray{Y: 0}), image.Point{}, draw.Src)

	if off == nil {
		return canvas, mask, canvasW, canvasH, nil
	}
	outW, outH := w, h
	if inferSize || outW <= 0 || outH <= 0 {
		outW, outH = RoundToNearest(canvasW, Multiple), RoundToNearest(canvasH, Multiple)
	}
	if outW == canvasW && outH == canvasH {
		return canvas, mask, outW, outH, nil
	}
	return Resize(canvas, outW, outH), resizeMask(mask, outW, outH, false), outW, outH, nil
}
