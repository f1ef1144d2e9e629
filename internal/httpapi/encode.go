package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/sync/errgroup"
)

// encodePNGs encodes images as base64 PNG concurrently, preserving order.
func encodePNGs(ctx context.Context, imgs []image.Image) ([]string, error) {
	out := make([]string, len(imgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	for i, img := range imgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := enc.Encode(&buf, img); err != nil {
				return fmt.Errorf("encode image %d: %w", i, err)
			}
			out[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
