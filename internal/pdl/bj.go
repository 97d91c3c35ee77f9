package pdl

import (
	"bytes"
	"context"
)

// Set Initial Condition commands, one per page.
var bjPageHeaders = []string{
	"\x1b[K\x02\x00\x00\x0f",
	"\x1b[K\x02\x00\x00\x24",
	"\x1b[K\x02\x00\x04\x24",
}

func probeBJ(in *probeInput) (string, bool) {
	return "", bytes.HasPrefix(in.first, []byte("\x1b[K\x02\x00"))
}

func countBJ(ctx context.Context, d *Document) (Result, error) {
	buf := buffer(d.data)
	tick := ticker{ctx: ctx}
	pages := 0
	for pos := 0; pos < len(buf); pos++ {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		if buf[pos] != escape {
			continue
		}
		for _, h := range bjPageHeaders {
			if buf.hasPrefixAt(pos, h) {
				pages++
				pos += len(h) - 1
				break
			}
		}
	}
	return Result{Pages: pages}, nil
}
