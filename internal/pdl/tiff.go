package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
)

const (
	tiffLittleEndian = "II*\x00"
	tiffBigEndian    = "MM\x00*"

	maxTIFFDirectories = 65536
)

var (
	errNotTIFF     = errors.New("unknown TIFF byte order")
	errInvalidTIFF = errors.New("truncated TIFF image file directory")
)

func probeTIFF(in *probeInput) (string, bool) {
	ok := bytes.HasPrefix(in.first, []byte(tiffLittleEndian)) || bytes.HasPrefix(in.first, []byte(tiffBigEndian))
	return "", ok
}

// TIFFDirectories walks the chain of image file directories and returns
// the byte order and the offset of each directory. The walk stops at an
// offset past the end of data, a revisited offset, or after 65536
// directories. A directory cut off before its next pointer is an error.
func TIFFDirectories(data []byte) (binary.ByteOrder, []uint32, error) {
	return tiffDirectories(context.Background(), data)
}

func tiffDirectories(ctx context.Context, data []byte) (binary.ByteOrder, []uint32, error) {
	var order binary.ByteOrder
	switch {
	case bytes.HasPrefix(data, []byte(tiffLittleEndian)):
		order = binary.LittleEndian
	case bytes.HasPrefix(data, []byte(tiffBigEndian)):
		order = binary.BigEndian
	default:
		return nil, nil, errNotTIFF
	}

	buf := buffer(data)
	tick := ticker{ctx: ctx}
	seen := make(map[uint32]bool)
	var dirs []uint32
	next, ok := buf.u32(4, order)
	for ok && next != 0 && !seen[next] && len(dirs) < maxTIFFDirectories {
		if err := tick.tick(); err != nil {
			return nil, nil, err
		}
		entries, inRange := buf.u16(int(next), order)
		if !inRange {
			break
		}
		seen[next] = true
		dirs = append(dirs, next)
		next, ok = buf.u32(int(next)+2+int(entries)*12, order)
		if !ok {
			return nil, nil, errInvalidTIFF
		}
	}
	return order, dirs, nil
}

func countTIFF(ctx context.Context, d *Document) (Result, error) {
	_, dirs, err := tiffDirectories(ctx, d.data)
	if err != nil {
		return Result{}, err
	}
	return Result{Pages: len(dirs)}, nil
}
