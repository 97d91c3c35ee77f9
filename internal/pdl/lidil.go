package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
)

const (
	lidilHeaderSize  = 10
	lidilFrameSync   = '$'
	lidilCommand     = 0
	lidilLoadPage    = 1
	lidilEjectPage   = 2
	lidilBeginMarker = "$\x01\x00\x00\x07"
	// A Sync Complete packet followed by a Reset packet.
	lidilEndMarker = "$\x00\x10\x00\x08\x00\x00\x00\x00\x00\xff\xff\xff\xff\xff$" +
		"$\x00\x10\x00\x06\x00\x00\x00\x00\x00\xff\xff\xff\xff\xff$"
)

var errInvalidLIDIL = errors.New("not valid Hewlett-Packard LIDIL data")

func probeLIDIL(in *probeInput) (string, bool) {
	ok := bytes.HasPrefix(in.first, []byte(lidilBeginMarker)) &&
		bytes.HasSuffix(in.last, []byte(lidilEndMarker))
	return "", ok
}

// countLIDIL returns the larger of the page load and page eject counts, as
// a page may be loaded and then ejected by hand.
func countLIDIL(ctx context.Context, d *Document) (Result, error) {
	buf := buffer(d.data)
	tick := ticker{ctx: ctx}
	loads, ejects := 0, 0
	for pos := 0; ; {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		h, ok := buf.slice(pos, pos+lidilHeaderSize)
		if !ok {
			break
		}
		if h[0] != lidilFrameSync {
			return Result{}, errInvalidLIDIL
		}
		cmdLength := int(binary.BigEndian.Uint16(h[1:]))
		packetType, command := h[4], h[5]
		dataLength := int(binary.BigEndian.Uint16(h[8:]))
		if packetType == lidilCommand {
			switch command {
			case lidilLoadPage:
				loads++
			case lidilEjectPage:
				ejects++
			}
		}
		if cmdLength+dataLength <= 0 {
			return Result{}, errInvalidLIDIL
		}
		pos += cmdLength + dataLength
	}
	slog.Debug("LIDIL pages", "load", loads, "eject", ejects)
	return Result{Pages: max(loads, ejects)}, nil
}
