package pdl

import (
	"bytes"
	"context"
)

func probePNMASCII(in *probeInput) (string, bool) {
	fields := bytes.Fields(in.first)
	if len(fields) == 0 {
		return "", false
	}
	switch string(fields[0]) {
	case "P1", "P2", "P3":
		return "", true
	}
	return "", false
}

// countPNMASCII counts the tokens equal to the first two bytes of the
// stream, normally the magic number of the first image. A CMYK map written
// by the pksm device holds four images per page.
func countPNMASCII(ctx context.Context, d *Document) (Result, error) {
	magic := d.data[:2]
	tick := ticker{ctx: ctx}
	pages, lineNo, divisor := 0, 0, 1
	for line := range lines(d.data) {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		lineNo++
		if lineNo == 2 && bytes.Contains(line, []byte("device=pksm")) {
			divisor = 4
		}
		for _, f := range bytes.Fields(line) {
			if bytes.Equal(f, magic) {
				pages++
			}
		}
	}
	if pages%divisor == 0 {
		pages /= divisor
	}
	return Result{Pages: pages}, nil
}
