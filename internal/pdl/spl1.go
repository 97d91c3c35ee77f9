package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
)

const spl1BitmapStart = "$PJL BITMAP START\r\n"

func probeSPL1(in *probeInput) (string, bool) {
	head := in.first[:min(len(in.first), 128)]
	ok := bytes.Contains(head, []byte("\x1b"+uel)) &&
		bytes.Contains(in.first, []byte("$PJL ")) &&
		(bytes.Contains(in.first, []byte("LANGUAGE=SMART")) || bytes.Contains(in.first, []byte("LANGUAGE = SMART")))
	return "", ok
}

func isSPL1Escape(c byte) bool { return c == escape || c == '$' }

type spl1Scanner struct {
	buf      buffer
	tick     ticker
	pos      int
	pages    int
	isBitmap bool
	escaped  map[int][]string
}

// escape consumes the job language block starting at s.pos. A block that
// ends by announcing a bitmap allows the raster records that follow.
func (s *spl1Scanner) escape() error {
	s.isBitmap = false
	start := s.pos + 1
	if s.buf.hasPrefixAt(start, uel) {
		start += 9
	}
	end, err := scanJobLanguage(s.buf, start, "\x1b\x00")
	if err != nil {
		return err
	}
	data := string(s.buf[s.pos:end])
	s.escaped[s.pages] = append(s.escaped[s.pages], data)
	if len(data) >= len(spl1BitmapStart) && data[len(data)-len(spl1BitmapStart):] == spl1BitmapStart {
		s.isBitmap = true
	}
	slog.Debug("SPL1 escaped data", "page", s.pages, "data", data)
	s.pos = end
	return nil
}

func (s *spl1Scanner) run() error {
	for {
		if err := s.tick.tick(); err != nil {
			return err
		}
		tag, ok := s.buf.at(s.pos)
		if !ok {
			return nil
		}
		if isSPL1Escape(tag) {
			if err := s.escape(); err != nil {
				return err
			}
			continue
		}
		if !s.isBitmap {
			return errors.New("SPL1 is incompletely recognized, parsing aborted")
		}
		offset, ok1 := s.buf.u32(s.pos, binary.BigEndian)
		seq, ok2 := s.buf.u16(s.pos+4, binary.BigEndian)
		if !ok1 || !ok2 {
			return io.EOF
		}
		if seq == 0 { // sequence numbers restart on each page
			s.pages++
		}
		s.pos += 4 + int(offset)
	}
}

func countSPL1(ctx context.Context, d *Document) (Result, error) {
	s := &spl1Scanner{
		buf:     buffer(d.data),
		tick:    ticker{ctx: ctx},
		escaped: make(map[int][]string),
	}
	if err := s.run(); err != nil && !errors.Is(err, io.EOF) {
		return Result{}, err
	}
	return Result{Pages: s.pages}, nil
}
