package pdl

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func probeImage(in *probeInput) (string, bool) {
	_, kind, err := image.DecodeConfig(bytes.NewReader(in.data))
	if err != nil {
		return "", false
	}
	return "image (" + kind + ")", true
}

// countImage returns the number of frames. Only GIF holds more than one.
func countImage(ctx context.Context, d *Document) (Result, error) {
	_, kind, err := image.DecodeConfig(bytes.NewReader(d.data))
	if err != nil {
		return Result{}, err
	}
	if kind != "gif" {
		return Result{Pages: 1}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	g, err := gif.DecodeAll(bytes.NewReader(d.data))
	if err != nil {
		return Result{}, err
	}
	return Result{Pages: len(g.Image)}, nil
}
