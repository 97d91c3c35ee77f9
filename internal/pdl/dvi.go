package pdl

import (
	"context"
	"encoding/binary"
)

const (
	dviPre      = 0xf7
	dviPost     = 0xf8
	dviTrailer  = 0xdf
	dviPagesPos = 27
)

func probeDVI(in *probeInput) (string, bool) {
	ok := len(in.first) > 0 && in.first[0] == dviPre &&
		len(in.last) > 0 && in.last[len(in.last)-1] == dviTrailer
	return "", ok
}

// countDVI follows the post_post trailer back to the postamble, which
// holds the total page count. An inconsistent trailer counts no pages.
func countDVI(_ context.Context, d *Document) (Result, error) {
	buf := buffer(d.data)
	pos := len(buf) - 1
	for pos >= 0 && buf[pos] == dviTrailer {
		pos--
	}
	id, ok1 := buf.at(pos)
	version, ok2 := buf.at(1)
	if !ok1 || !ok2 || id != version {
		return Result{}, nil
	}
	post, ok := buf.u32(pos-4, binary.BigEndian)
	if !ok {
		return Result{}, nil
	}
	if c, ok := buf.at(int(post)); !ok || c != dviPost {
		return Result{}, nil
	}
	pages, ok := buf.u16(int(post)+dviPagesPos, binary.BigEndian)
	if !ok {
		return Result{}, nil
	}
	return Result{Pages: int(pages)}, nil
}
