package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
)

const (
	cfaxHeaderSize     = 20
	cfaxPageHeaderSize = 17

	cfaxExtendedRecord = 0x00
	cfaxMaxShortRecord = 216
	cfaxPageHeader     = 254
	cfaxUserInfo       = 255
)

var errInvalidCfax = errors.New("invalid Structured Fax data")

func probeStructuredFax(in *probeInput) (string, bool) {
	return "", bytes.HasPrefix(in.first, []byte("Sfff"))
}

func countStructuredFax(ctx context.Context, d *Document) (Result, error) {
	buf := buffer(d.data)
	le := binary.LittleEndian
	if len(buf) < cfaxHeaderSize {
		return Result{}, errInvalidCfax
	}
	docPages := int(le.Uint16(buf[8:]))
	pos := int(le.Uint16(buf[10:]))

	tick := ticker{ctx: ctx}
	pages := 0
walk:
	for {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		id, ok := buf.at(pos)
		if !ok {
			break
		}
		pos++
		switch {
		case id >= 1 && id <= cfaxMaxShortRecord:
			pos += int(id)
		case id == cfaxUserInfo:
			n, ok := buf.at(pos)
			if !ok {
				break walk
			}
			pos += 1 + int(n)
		case id == cfaxExtendedRecord:
			if _, ok := buf.at(pos); !ok {
				break walk
			}
			n, ok := buf.u16(pos, le)
			if !ok {
				return Result{}, errInvalidCfax
			}
			pos += 2 + int(n)
		case id == cfaxPageHeader:
			if _, ok := buf.at(pos); !ok {
				break walk
			}
			h, ok := buf.slice(pos, pos+cfaxPageHeaderSize)
			if !ok {
				return Result{}, errInvalidCfax
			}
			if h[0] == 0 { // end of document
				break walk
			}
			vres := h[1]
			next := le.Uint32(h[13:])
			pages++
			if next == 1 || vres == 255 {
				break walk
			}
			pos += cfaxPageHeaderSize + int(next)
		}
	}
	slog.Debug("Structured Fax pages", "header", docPages, "counted", pages)
	return Result{Pages: max(docPages, pages)}, nil
}
