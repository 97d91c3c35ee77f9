package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"iter"
)

// buffer is a bounds-checked view of the job. Every accessor reports
// whether the requested range lies within the data; a false result is the
// end-of-stream signal for the byte walkers, never a parse error.
type buffer []byte

func (b buffer) at(pos int) (byte, bool) {
	if pos < 0 || pos >= len(b) {
		return 0, false
	}
	return b[pos], true
}

func (b buffer) slice(start, end int) ([]byte, bool) {
	if start < 0 || end < start || end > len(b) {
		return nil, false
	}
	return b[start:end], true
}

// clip returns b[start:end] with both bounds clamped to the data.
func (b buffer) clip(start, end int) []byte {
	start = max(0, min(start, len(b)))
	end = max(start, min(end, len(b)))
	return b[start:end]
}

func (b buffer) u16(pos int, order binary.ByteOrder) (uint16, bool) {
	s, ok := b.slice(pos, pos+2)
	if !ok {
		return 0, false
	}
	return order.Uint16(s), true
}

func (b buffer) u32(pos int, order binary.ByteOrder) (uint32, bool) {
	s, ok := b.slice(pos, pos+4)
	if !ok {
		return 0, false
	}
	return order.Uint32(s), true
}

// readUint reads an unsigned integer of size 1, 2 or 4.
func (b buffer) readUint(pos, size int, order binary.ByteOrder) (int, bool) {
	switch size {
	case 1:
		v, ok := b.at(pos)
		return int(v), ok
	case 2:
		v, ok := b.u16(pos, order)
		return int(v), ok
	case 4:
		v, ok := b.u32(pos, order)
		return int(v), ok
	}
	return 0, false
}

func (b buffer) hasPrefixAt(pos int, prefix string) bool {
	s, ok := b.slice(pos, pos+len(prefix))
	return ok && string(s) == prefix
}

// --------------------------------------------------------------------------
// Cancellation
// --------------------------------------------------------------------------

const tickInterval = 4096

// ticker polls a context every tickInterval iterations of a scan loop.
type ticker struct {
	ctx context.Context
	n   int
}

func (t *ticker) tick() error {
	t.n++
	if t.n%tickInterval == 0 {
		return t.ctx.Err()
	}
	return nil
}

// --------------------------------------------------------------------------
// Tag tables
// --------------------------------------------------------------------------

type tagKind uint8

const (
	tagIgnore tagKind = iota
	tagSkip           // advance by a fixed number of bytes
	tagInvoke         // call the handler, which returns the bytes to skip
)

type tagAction[H ~uint8] struct {
	kind    tagKind
	skip    int
	handler H
}

// tagTable maps the byte at the scan position to its action.
type tagTable[H ~uint8] [256]tagAction[H]

func (t *tagTable[H]) setSkip(tag byte, n int) {
	t[tag] = tagAction[H]{kind: tagSkip, skip: n}
}

func (t *tagTable[H]) setHandler(tag byte, h H) {
	t[tag] = tagAction[H]{kind: tagInvoke, handler: h}
}

// --------------------------------------------------------------------------
// Lines
// --------------------------------------------------------------------------

// lines yields the lines of data without their terminators. "\r\n", "\r"
// and "\n" all end a line.
func lines(data []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for len(data) > 0 {
			i := bytes.IndexAny(data, "\r\n")
			if i < 0 {
				yield(data)
				return
			}
			n := i + 1
			if data[i] == '\r' && n < len(data) && data[n] == '\n' {
				n++
			}
			if !yield(data[:i]) {
				return
			}
			data = data[n:]
		}
	}
}
