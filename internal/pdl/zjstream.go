package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

const (
	zjChunkHeaderSize = 16
	zjStartPage       = 2
	zjEndPage         = 3
)

var errInvalidZjStream = errors.New("not valid ZjStream data")

func probeZjStream(in *probeInput) (string, bool) {
	switch {
	case bytes.HasPrefix(in.first, []byte("ZJZJ")):
		return "Zenographics ZjStream (little endian)", true
	case bytes.HasPrefix(in.first, []byte("JZJZ")):
		return "Zenographics ZjStream (big endian)", true
	}
	return "", false
}

// countZjStream returns the larger of the start page and end page chunk
// counts.
func countZjStream(ctx context.Context, d *Document) (Result, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if bytes.HasPrefix(d.data, []byte("JZJZ")) {
		order = binary.BigEndian
	}
	buf := buffer(d.data)
	tick := ticker{ctx: ctx}
	starts, ends := 0, 0
	for pos := 4; pos < len(buf); {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		h, ok := buf.slice(pos, pos+zjChunkHeaderSize)
		if !ok {
			return Result{}, fmt.Errorf("%w: truncated chunk header at offset %d", errInvalidZjStream, pos)
		}
		size := order.Uint32(h)
		if size < zjChunkHeaderSize {
			return Result{}, fmt.Errorf("%w: chunk size too small at offset %d", errInvalidZjStream, pos)
		}
		switch order.Uint32(h[4:]) {
		case zjStartPage:
			starts++
		case zjEndPage:
			ends++
		}
		pos += int(size)
	}
	slog.Debug("ZjStream pages", "start", starts, "end", ends)
	return Result{Pages: max(starts, ends)}, nil
}
