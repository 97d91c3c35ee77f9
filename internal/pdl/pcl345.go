package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"

	"github.com/OpenPrinting/go-mfp/util/optional"
)

const (
	nul        = 0x00
	lineFeed   = 0x0a
	formFeed   = 0x0c
	escape     = 0x1b
	asciiLimit = 0x80
)

// Canon ImageRunner jobs start with this prefix.
const imageRunnerMarker = "\xcd\xca"

var pclMediaSizes = map[int]string{ // ESC&l#A
	0:   "Default",
	1:   "Executive",
	2:   "Letter",
	3:   "Legal",
	6:   "Ledger",
	25:  "A5",
	26:  "A4",
	27:  "A3",
	45:  "JB5",
	46:  "JB4",
	71:  "HagakiPostcard",
	72:  "OufukuHagakiPostcard",
	80:  "MonarchEnvelope",
	81:  "COM10Envelope",
	90:  "DLEnvelope",
	91:  "C5Envelope",
	100: "B5Envelope",
	101: "Custom",
}

var pclMediaSources = map[int]string{ // ESC&l#H
	0: "Default",
	1: "Main",
	2: "Manual",
	3: "ManualEnvelope",
	4: "Alternate",
	5: "OptionalLarge",
	6: "EnvelopeFeeder",
	7: "Auto",
	8: "Tray1",
}

var pclOrientations = map[int]string{ // ESC&l#O
	0: "Portrait",
	1: "Landscape",
	2: "ReversePortrait",
	3: "ReverseLandscape",
}

var pclMediaTypes = map[int]string{ // ESC&l#M
	0: "Plain",
	1: "Bond",
	2: "Special",
	3: "Glossy",
	4: "Transparent",
}

func probePCL345(in *probeInput) (string, bool) {
	pos := 0
	for pos < len(in.first) && in.first[pos] == nul {
		pos++
	}
	if pos == len(in.first) {
		return "", false
	}
	b := in.first[pos:]
	has := func(prefix string) bool { return bytes.HasPrefix(b, []byte(prefix)) }
	contains := func(s string) bool { return bytes.Contains(b, []byte(s)) }
	ok := has("\x1bE\x1b") ||
		has("\x1b%1BBPIN;") ||
		(pos == 11000 && has("\x1b")) ||
		(has("\x1b*rbC") && !bytes.HasSuffix(in.last, []byte("\f\x1b@"))) ||
		has("\x1b*rB\x1b") ||
		has("\x1b%8\x1b") ||
		contains("\x1b%-12345X") ||
		contains("@PJL ENTER LANGUAGE=PCL\n\r\x1b") ||
		(has(imageRunnerMarker) && contains("\x1bE\x1b"))
	return "", ok
}

// --------------------------------------------------------------------------
// Tag tables
// --------------------------------------------------------------------------

type pclHandler uint8

const (
	pclNewLine pclHandler = iota
	pclEndPage
	pclEscape
	pclImageRunner
	pclEscPercent
	pclEscAmp
	pclEscStar
	pclEscLeftPar
	pclEscRightPar
	pclReset
	pclAmpA      // duplex backside
	pclAmpL      // page attributes
	pclAmpP      // transparent data
	pclStarB     // raster data
	pclStarR     // raster graphics start/end
	pclConsume   // parameters without side effects
	pclSkipW     // ###W data blocks
)

var (
	pclTopTags      = newPCLTopTags()
	pclEscTags      = newPCLTags(map[byte]pclHandler{'%': pclEscPercent, '*': pclEscStar, '&': pclEscAmp, '(': pclEscLeftPar, ')': pclEscRightPar, 'E': pclReset})
	pclAmpTags      = newPCLTags(map[byte]pclHandler{'a': pclAmpA, 'l': pclAmpL, 'p': pclAmpP, 'b': pclSkipW, 'n': pclSkipW, 'u': pclConsume})
	pclStarTags     = newPCLTags(map[byte]pclHandler{'b': pclStarB, 'r': pclStarR, 'o': pclConsume, 'p': pclConsume, 't': pclConsume, 'c': pclSkipW, 'g': pclSkipW, 'i': pclSkipW, 'l': pclSkipW, 'm': pclSkipW, 'v': pclSkipW})
	pclLeftParTags  = newPCLTags(map[byte]pclHandler{'s': pclSkipW, 'f': pclSkipW})
	pclRightParTags = newPCLTags(map[byte]pclHandler{'s': pclSkipW})
)

func newPCLTopTags() *tagTable[pclHandler] {
	t := newPCLTags(map[byte]pclHandler{
		lineFeed:             pclNewLine,
		formFeed:             pclEndPage,
		escape:               pclEscape,
		imageRunnerMarker[0]: pclImageRunner,
	})
	t.setSkip(asciiLimit, 1)
	return t
}

func newPCLTags(handlers map[byte]pclHandler) *tagTable[pclHandler] {
	t := new(tagTable[pclHandler])
	for tag, h := range handlers {
		t.setHandler(tag, h)
	}
	return t
}

// --------------------------------------------------------------------------
// Scanner
// --------------------------------------------------------------------------

type pclPage struct {
	pageRecord
	lines int
}

type pclScanner struct {
	buf  buffer
	pos  int
	tick ticker

	pages     map[int]*pclPage
	pageCount int
	resets    int
	hpgl2     bool

	backsides    []int
	copies       []int
	sources      []string
	sizes        []string
	orientations []string
	mediaTypes   []string
	linesPerPage optional.Val[int]
	startGfx     []int
	endGfx       int
}

// pclParam is a numeric parameter and the character that terminated it.
type pclParam struct {
	value int
	set   bool // at least one digit was read
	end   byte // 0 when a control byte ended the parameter
}

func (s *pclScanner) readByte() (byte, error) {
	c, ok := s.buf.at(s.pos)
	if !ok {
		return 0, io.EOF
	}
	s.pos++
	return c, nil
}

func (s *pclScanner) skip(n int) {
	if n > 0 {
		s.pos += n
	}
}

func (s *pclScanner) page() *pclPage {
	p, ok := s.pages[s.pageCount]
	if !ok {
		p = &pclPage{pageRecord: newPCLPageRecord(), lines: 1}
		s.pages[s.pageCount] = p
	}
	return p
}

func newPCLPageRecord() pageRecord {
	return pageRecord{
		copies:      1,
		mediaSource: "Main",
		mediaSize:   "Default",
		mediaType:   "Plain",
		orientation: "Portrait",
	}
}

func (s *pclScanner) param() (pclParam, error) {
	sign := 1
	var p pclParam
	for {
		c, err := s.readByte()
		if err != nil {
			return pclParam{}, err
		}
		switch {
		case c == nul || c == escape || c == formFeed || c == asciiLimit:
			s.pos--
			return pclParam{}, nil
		case c == '-':
			sign = -1
		case c >= '0' && c <= '9':
			if p.value < 1<<40 {
				p.value = p.value*10 + int(c-'0')
			}
			p.set = true
		default:
			p.value *= sign
			p.end = c
			return p, nil
		}
	}
}

func (s *pclScanner) dispatch(t *tagTable[pclHandler]) error {
	c, err := s.readByte()
	if err != nil {
		return err
	}
	switch a := t[c]; a.kind {
	case tagSkip:
		s.skip(a.skip)
	case tagInvoke:
		return s.call(a.handler)
	}
	return nil
}

func (s *pclScanner) call(h pclHandler) error {
	switch h {
	case pclNewLine:
		s.newLine()
	case pclEndPage:
		if !s.hpgl2 {
			s.pageCount++
		}
	case pclEscape:
		return s.dispatch(pclEscTags)
	case pclImageRunner:
		return s.imageRunner()
	case pclEscPercent:
		return s.escPercent()
	case pclEscAmp:
		return s.dispatch(pclAmpTags)
	case pclEscStar:
		return s.dispatch(pclStarTags)
	case pclEscLeftPar:
		return s.dispatch(pclLeftParTags)
	case pclEscRightPar:
		return s.dispatch(pclRightParTags)
	case pclReset:
		s.resets++
	case pclAmpA:
		return s.ampA()
	case pclAmpL:
		return s.ampL()
	case pclAmpP:
		return s.skipParams('X')
	case pclStarB:
		return s.starB()
	case pclStarR:
		return s.starR()
	case pclConsume:
		return s.skipParams(0)
	case pclSkipW:
		return s.skipParams('W')
	}
	return nil
}

func (s *pclScanner) newLine() {
	if s.hpgl2 {
		return
	}
	p := s.page()
	p.lines++
	if s.linesPerPage != nil && p.lines > optional.Get(s.linesPerPage) {
		s.pageCount++
	}
}

func (s *pclScanner) escPercent() error {
	if s.buf.hasPrefixAt(s.pos, "-12345X") {
		s.pos += 7
		start := s.pos
		quotes := 0
		c, err := s.readByte()
		if err != nil {
			return err
		}
		for (c < asciiLimit || quotes%2 == 1) && c != formFeed && c != escape && c != nul {
			if c == '"' {
				quotes++
			}
			if c, err = s.readByte(); err != nil {
				return err
			}
		}
		s.page().escaped = string(s.buf[start : s.pos-1])
		s.pos--
		return nil
	}
	for {
		p, err := s.param()
		if err != nil {
			return err
		}
		switch p.end {
		case 'B':
			s.hpgl2 = true
			for {
				c, ok := s.buf.at(s.pos)
				if !ok {
					return io.EOF
				}
				if c == escape {
					break
				}
				s.pos++
			}
			s.pos--
			return nil
		case 'A':
			s.hpgl2 = false
			return nil
		case 0:
			return nil
		}
	}
}

func (s *pclScanner) ampL() error {
	for {
		p, err := s.param()
		if err != nil || !p.set {
			return err
		}
		switch p.end {
		case 'h', 'H':
			v := lookupName(pclMediaSources, p.value)
			s.sources = append(s.sources, v)
			s.page().mediaSource = v
		case 'a', 'A':
			v := lookupName(pclMediaSizes, p.value)
			s.sizes = append(s.sizes, v)
			s.page().mediaSize = v
		case 'o', 'O':
			v := lookupName(pclOrientations, p.value)
			s.orientations = append(s.orientations, v)
			s.page().orientation = v
		case 'm', 'M':
			v := lookupName(pclMediaTypes, p.value)
			s.mediaTypes = append(s.mediaTypes, v)
			s.page().mediaType = v
		case 'X':
			s.copies = append(s.copies, p.value)
			s.page().copies = p.value
		case 'F':
			s.linesPerPage = optional.New(p.value)
		}
	}
}

func (s *pclScanner) ampA() error {
	for {
		p, err := s.param()
		if err != nil || !p.set {
			return err
		}
		if p.end == 'G' {
			s.backsides = append(s.backsides, p.value)
			if p.value != 0 {
				s.page().duplex = optional.New(duplexOn)
			} else {
				s.page().duplex = nil
			}
		}
	}
}

func (s *pclScanner) starB() error {
	for {
		p, err := s.param()
		if err != nil || (!p.set && p.end == 0) {
			return err
		}
		switch p.end {
		case 'V', 'W', 'v', 'w':
			s.skip(p.value)
		}
	}
}

func (s *pclScanner) starR() error {
	for {
		p, err := s.param()
		if err != nil {
			return err
		}
		if !p.set {
			if p.end == 0 {
				return nil
			}
			if (p.end == 'B' || p.end == 'C') && len(s.startGfx) > 0 {
				s.endGfx++
			}
			continue
		}
		if p.end == 'A' && p.value >= 0 && p.value <= 3 {
			s.startGfx = append(s.startGfx, p.value)
		}
	}
}

// skipParams reads parameters until one has no value, skipping the data
// announced by a parameter ending in end.
func (s *pclScanner) skipParams(end byte) error {
	for {
		p, err := s.param()
		if err != nil || !p.set {
			return err
		}
		if end != 0 && p.end == end {
			s.skip(p.value)
		}
	}
}

func (s *pclScanner) imageRunner() error {
	tag, err := s.readByte()
	if err != nil {
		return err
	}
	if tag != imageRunnerMarker[1] {
		s.pos--
		return nil
	}
	length, ok := s.buf.u16(s.pos+6, binary.BigEndian)
	if !ok {
		return io.EOF
	}
	codop := s.buf.hasPrefixAt(s.pos, "\x10\x02")
	s.pos += 18
	if !codop {
		s.pos += int(length)
	}
	return nil
}

func (s *pclScanner) run() error {
	for {
		if err := s.tick.tick(); err != nil {
			return err
		}
		if err := s.dispatch(pclTopTags); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// --------------------------------------------------------------------------
// Page count adjustment
// --------------------------------------------------------------------------

// pclTally summarizes the signals collected by a PCL3/4/5 scan.
type pclTally struct {
	pages          int
	resets         int
	backsides      int
	orientations   int
	sizes          int
	defaultSources int
	otherSources   int
	startGfx       int
	endGfx         int
	imageRunner    bool
	linesPerPage   bool
}

// pclRule adjusts the form feed count when match holds.
type pclRule struct {
	name  string
	match func(t pclTally) bool
	apply func(t pclTally) int
}

// pclRules are tried in order; the first match wins.
var pclRules = []pclRule{
	{
		name:  "imagerunner",
		match: func(t pclTally) bool { return t.imageRunner },
		apply: func(t pclTally) int { return t.pages + 1 },
	},
	{
		name:  "incomplete last page",
		match: func(t pclTally) bool { return t.linesPerPage },
		apply: func(t pclTally) int { return t.pages + 1 },
	},
	{
		name:  "no raster graphics",
		match: func(t pclTally) bool { return t.startGfx == 0 && t.endGfx == 0 },
		apply: func(t pclTally) int {
			if t.resets%2 == 0 {
				return t.pages
			}
			return applyPCLRules(pclOddResetRules, t)
		},
	},
	{
		name: "single non default source",
		match: func(t pclTally) bool {
			return t.pages > 1 && t.resets == 2 && t.defaultSources == 0 && t.otherSources == 1
		},
		apply: func(t pclTally) int { return t.pages - 1 },
	},
}

// pclOddResetRules refine "no raster graphics" when the reset count is odd.
var pclOddResetRules = []pclRule{
	{
		name:  "backsides",
		match: func(t pclTally) bool { return t.pages == 0 && t.orientations < t.backsides },
		apply: func(t pclTally) int { return t.backsides },
	},
	{
		name:  "one more orientation",
		match: func(t pclTally) bool { return t.orientations == t.pages+1 },
		apply: func(t pclTally) int { return t.pages + 1 },
	},
	{
		name:  "one less orientation",
		match: func(t pclTally) bool { return t.pages > 1 && t.orientations == t.pages-1 },
		apply: func(t pclTally) int { return t.pages - 1 },
	},
}

func applyPCLRules(rules []pclRule, t pclTally) int {
	for _, r := range rules {
		if r.match(t) {
			slog.Debug("PCL page count adjusted", "rule", r.name, "pages", t.pages)
			return r.apply(t)
		}
	}
	return t.pages
}

// pageCount settles the number of pages before copies are applied.
func (t pclTally) pageCount() int {
	n := applyPCLRules(pclRules, t)
	for _, v := range []int{n, t.defaultSources, t.sizes, t.orientations, t.resets} {
		if v != 0 {
			n = v
			break
		}
	}
	if n == 0 && t.resets == t.startGfx {
		n = t.resets
	}
	return n
}

func (s *pclScanner) tally() pclTally {
	t := pclTally{
		pages:        s.pageCount,
		resets:       s.resets,
		backsides:    len(s.backsides),
		orientations: len(s.orientations),
		sizes:        len(s.sizes),
		startGfx:     len(s.startGfx),
		endGfx:       s.endGfx,
		imageRunner:  s.buf.hasPrefixAt(0, imageRunnerMarker),
		linesPerPage: s.linesPerPage != nil,
	}
	for _, src := range s.sources {
		if src == "Default" {
			t.defaultSources++
		}
	}
	t.otherSources = len(s.sources) - t.defaultSources
	return t
}

func countPCL345(ctx context.Context, d *Document) (Result, error) {
	s := &pclScanner{
		buf:   buffer(d.data),
		tick:  ticker{ctx: ctx},
		pages: make(map[int]*pclPage),
	}
	if err := s.run(); err != nil {
		return Result{}, err
	}

	t := s.tally()
	slog.Debug("PCL3/4/5 scan",
		"formfeeds", t.pages, "resets", t.resets, "copies", s.copies,
		"mediatypes", s.mediaTypes, "mediasizes", s.sizes, "mediasources", s.sources,
		"orientations", s.orientations, "startgfx", t.startGfx, "endgfx", t.endGfx,
		"backsides", s.backsides, "imagerunner", t.imageRunner)

	n := t.pageCount()
	total := n
	setups := make([]PageSetup, 0, n)
	r := newJobResolver(true)
	for pnum := range n {
		page := s.pages[pnum]
		if page == nil {
			page = s.pages[pnum-1]
		}
		if page == nil {
			page = s.pages[0]
		}
		rec := newPCLPageRecord()
		if page != nil {
			rec = page.pageRecord
		}
		setup := r.resolve(rec, rec.escaped)
		setup.ColorMode = "BW"
		total += setup.Copies - 1
		setups = append(setups, setup)
		logSetup("PCL3/4/5", pnum, setup)
	}
	return Result{Pages: total, Setups: setups}, nil
}
