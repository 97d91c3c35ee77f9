package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"maps"
	"strings"

	"github.com/OpenPrinting/go-mfp/util/optional"
)

// QPDL shares the PCLXL media tables and adds a few sizes.
var qpdlMediaSizes = func() map[int]string {
	m := make(map[int]string)
	for k, v := range xlMediaSizes {
		if k <= 18 {
			m[k] = v
		}
	}
	maps.Copy(m, map[int]string{21: "Custom", 23: "C6", 24: "Folio"})
	return m
}()

var qpdlMediaSources = map[int]string{
	0: "Default",
	1: "Auto",
	2: "Manual",
	3: "MultiPurpose",
	4: "UpperCassette",
	5: "LowerCassette",
	6: "EnvelopeTray",
	7: "ThirdCassette",
}

func probeQPDL(in *probeInput) (string, bool) {
	head := in.first[:min(len(in.first), 128)]
	ok := bytes.Contains(head, []byte("\x1b"+uel)) &&
		(bytes.Contains(in.first, []byte("LANGUAGE=QPDL")) || bytes.Contains(in.first, []byte("LANGUAGE = QPDL")))
	return "", ok
}

type qpdlHandler uint8

const (
	qpdlBeginPage qpdlHandler = iota
	qpdlEndPage
	qpdlMaybeEOF
	qpdlBeginBand
	qpdlEscape
)

var qpdlTags = func() *tagTable[qpdlHandler] {
	t := new(tagTable[qpdlHandler])
	t.setHandler(0x00, qpdlBeginPage)
	t.setHandler(0x01, qpdlEndPage)
	t.setHandler(0x09, qpdlMaybeEOF)
	t.setHandler(0x0c, qpdlBeginBand)
	t.setHandler(0x1b, qpdlEscape)
	return t
}()

type qpdlScanner struct {
	buf  buffer
	tick ticker

	pageCount int
	pages     map[int]*pageRecord
	escaped   map[int][]string
}

var qpdlOrder = binary.BigEndian

func (s *qpdlScanner) call(h qpdlHandler, next int) (int, error) {
	switch h {
	case qpdlBeginPage:
		s.pageCount++
		copies, ok1 := s.buf.u16(next+1, qpdlOrder)
		size, ok2 := s.buf.at(next + 3)
		source, ok3 := s.buf.at(next + 8)
		duplex, ok4 := s.buf.u16(next+10, qpdlOrder)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return 0, io.EOF
		}
		rec := &pageRecord{
			copies:      int(copies),
			mediaType:   "Plain",
			mediaSize:   lookupName(qpdlMediaSizes, int(size)),
			mediaSource: lookupName(qpdlMediaSources, int(source)),
			orientation: "Default",
		}
		if duplex != 0 {
			rec.duplex = optional.New(duplexOn)
		}
		s.pages[s.pageCount] = rec
		return 16, nil
	case qpdlEndPage:
		copies, ok := s.buf.u16(next, qpdlOrder)
		if !ok {
			return 0, io.EOF
		}
		if page, ok := s.pages[s.pageCount]; ok && int(copies) != page.copies {
			slog.Debug("QPDL copies differ between page start and end", "begin", page.copies, "end", copies)
		}
		return 2, nil
	case qpdlMaybeEOF:
		if s.buf.hasPrefixAt(next, "\x1b"+uel) {
			return 9, nil
		}
	case qpdlBeginBand:
		n, ok := s.buf.u32(next+6, qpdlOrder)
		if !ok {
			return 0, io.EOF
		}
		return int(n) + 10, nil
	case qpdlEscape:
		if !s.buf.hasPrefixAt(next, uel) {
			return 0, nil
		}
		end, err := scanJobLanguage(s.buf, next+9, "\x0c\x00\x1b")
		if err != nil {
			return 0, err
		}
		s.escaped[s.pageCount] = append(s.escaped[s.pageCount], string(s.buf[next:end]))
		return end - next, nil
	}
	return 0, nil
}

func (s *qpdlScanner) run() error {
	for pos := 0; ; {
		if err := s.tick.tick(); err != nil {
			return err
		}
		tag, ok := s.buf.at(pos)
		if !ok {
			return nil
		}
		pos++
		a := qpdlTags[tag]
		if a.kind != tagInvoke {
			continue
		}
		n, err := s.call(a.handler, pos)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		pos += n
	}
}

func countQPDL(ctx context.Context, d *Document) (Result, error) {
	s := &qpdlScanner{
		buf:  buffer(d.data),
		tick: ticker{ctx: ctx},
		pages: map[int]*pageRecord{0: {
			copies:      1,
			mediaType:   "Plain",
			mediaSize:   "Default",
			mediaSource: "Default",
			orientation: "Default",
		}},
		escaped: make(map[int][]string),
	}
	if err := s.run(); err != nil {
		return Result{}, err
	}

	total := s.pageCount
	setups := make([]PageSetup, 0, s.pageCount)
	r := newJobResolver(false)
	for pnum := 1; pnum <= s.pageCount; pnum++ {
		page, ok := s.pages[pnum]
		if !ok {
			page, ok = s.pages[1]
		}
		if !ok {
			page = &pageRecord{copies: 1, mediaType: "Plain", mediaSize: "Default", mediaSource: "Default", orientation: "Default"}
		}
		jl, ok := s.escaped[pnum]
		if !ok {
			jl = s.escaped[0]
		}
		setup := r.resolve(*page, strings.Join(jl, ""))
		setup.ColorMode = "BW"
		total += setup.Copies - 1
		setups = append(setups, setup)
		logSetup(d.name, pnum, setup)
	}
	return Result{Pages: total, Setups: setups}, nil
}
