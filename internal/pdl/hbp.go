package pdl

import (
	"bytes"
	"context"
)

const hbpFormFeed = "@G\x00\x00\x01\xff@F"

func probeHBP(in *probeInput) (string, bool) {
	return "", bytes.Contains(in.first, []byte("@PJL ENTER LANGUAGE = HBP\n"))
}

// countHBP counts form feed sequences. Raster blocks are not skipped.
func countHBP(ctx context.Context, d *Document) (Result, error) {
	return countMarkers(ctx, d.data, []byte(hbpFormFeed))
}

// countMarkers counts the non-overlapping occurrences of marker.
func countMarkers(ctx context.Context, data, marker []byte) (Result, error) {
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		i := bytes.Index(data, marker)
		if i < 0 {
			return Result{Pages: pages}, nil
		}
		pages++
		data = data[i+len(marker):]
	}
}
