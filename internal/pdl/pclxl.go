package pdl

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/OpenPrinting/go-mfp/util/optional"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	xlBanner        = " HP-PCL XL;"
	xlBrotherBanner = " BROTHER XL2HB;"
	xlBrotherHB     = " BROTHER XLHB;"
	uel             = "%-12345X" // Universal Exit Language, after ESC

	// Canon ImageRunner blocks hidden in real32 arrays.
	xlImageRunnerMarker1 = "\xcd\xca\x10\x00"
	xlImageRunnerMarker2 = "\xcd\xca\x10\x02"

	// Kyocera Prescribe blocks are searched for their EXIT; within this
	// many bytes.
	prescribeLimit = 1024
)

var xlMediaSizes = map[int]string{
	0:  "Letter",
	1:  "Legal",
	2:  "A4",
	3:  "Executive",
	4:  "Ledger",
	5:  "A3",
	6:  "COM10Envelope",
	7:  "MonarchEnvelope",
	8:  "C5Envelope",
	9:  "DLEnvelope",
	10: "JB4",
	11: "JB5",
	12: "B5",
	14: "JPostcard",
	15: "JDoublePostcard",
	16: "A5",
	17: "A6",
	18: "JB6",
	19: "JIS8K",
	20: "JIS16K",
	21: "JISExec",
	96: "Default",
}

var xlMediaSources = newXLMediaSources()

func newXLMediaSources() map[int]string {
	m := map[int]string{
		0: "Default",
		1: "Auto",
		2: "Manual",
		3: "MultiPurpose",
		4: "UpperCassette",
		5: "LowerCassette",
		6: "EnvelopeTray",
		7: "ThirdCassette",
	}
	for i := 8; i < 256; i++ {
		m[i] = fmt.Sprintf("ExternalTray%03d", i-7)
	}
	return m
}

var xlOrientations = map[int]string{
	0: "Portrait",
	1: "Landscape",
	2: "ReversePortrait",
	3: "ReverseLandscape",
	4: "Default",
}

// Offsets back from a 0x46 operator to the value of each sub-function.
var xlX46Offsets = map[byte]int{
	0x91: 5,
	0x92: 5,
	0x93: 3,
	0x94: 3,
	0x95: 5,
	0x96: 2,
	0x97: 2,
	0x98: 2,
}

func probePCLXL(in *probeInput) (string, bool) {
	head := in.first[:min(len(in.first), 128)]
	hasUEL := bytes.Contains(head, []byte("\x1b"+uel))
	contains := func(s string) bool { return bytes.Contains(in.first, []byte(s)) }
	switch {
	case hasUEL && contains(xlBanner) && (contains("LANGUAGE=PCLXL") || contains("LANGUAGE = PCLXL")):
		return "", true
	case bytes.HasPrefix(in.first, []byte(imageRunnerMarker)) && contains(xlBanner):
		return "", true
	case hasUEL && contains("BROTHER XL2HB;"):
		return "XL2HB", true
	}
	return "", false
}

// xlByteOrder finds the stream header and returns the byte order selected
// by the binding byte in front of it.
func xlByteOrder(data []byte) (binary.ByteOrder, error) {
	for line := range bytes.Lines(data) {
		pos := bytes.Index(line, []byte(xlBanner))
		if pos == -1 {
			pos = bytes.Index(line, []byte(xlBrotherBanner))
		}
		if pos == -1 {
			continue
		}
		if pos == 0 {
			return nil, errors.New("missing endianness marker at start")
		}
		switch line[pos-1] {
		case 0x29:
			return binary.LittleEndian, nil
		case 0x28:
			return binary.BigEndian, nil
		default:
			return nil, fmt.Errorf("unknown endianness marker 0x%02x at start", line[pos-1])
		}
	}
	return nil, errors.New("no PCLXL stream header found")
}

// --------------------------------------------------------------------------
// Tag table
// --------------------------------------------------------------------------

type xlHandler uint8

const (
	xlEscape xlHandler = iota
	xlPrescribe
	xlBigEndian
	xlLittleEndian
	xlClass3x31
	xlBeginPage
	xlEndPage
	xlClass3x46
	xlSetColorSpace
	xlReserved
	xlArray8
	xlArray16
	xlArray32
	xlEmbeddedData
	xlEmbeddedDataSmall
)

var xlTags = newXLTags()

func newXLTags() *tagTable[xlHandler] {
	t := new(tagTable[xlHandler])
	t.setHandler(0x1b, xlEscape)
	t.setHandler(0x21, xlPrescribe) // '!' is not a PCLXL operator
	t.setHandler(0x28, xlBigEndian)
	t.setHandler(0x29, xlLittleEndian)
	t.setHandler(0x31, xlClass3x31)
	t.setHandler(0x43, xlBeginPage)
	t.setHandler(0x44, xlEndPage)
	t.setHandler(0x46, xlClass3x46)
	t.setHandler(0x6a, xlSetColorSpace)

	reserved := []byte{
		0x45, 0x4a, 0x4b, 0x4c, 0x4d, 0x4e, 0x56, 0x57, 0x59, 0x5a,
		0x87, 0x88, 0x89, 0x8a, 0x8b, 0x8c, 0x8d, 0x8e, 0x8f, 0x90,
		0x9a, 0x9c, 0xa4, 0xa5, 0xa6, 0xa7, 0xaa, 0xab, 0xac, 0xad,
		0xae, 0xaf, 0xb7, 0xba, 0xbb, 0xbc, 0xbd, 0xbe, 0xc6, 0xc7,
		0xce, 0xcf, 0xfc, 0xfd, 0xfe, 0xff,
	}
	for c := 0xd6; c <= 0xdf; c++ {
		reserved = append(reserved, byte(c))
	}
	for c := 0xe6; c <= 0xf7; c++ {
		reserved = append(reserved, byte(c))
	}
	for _, c := range reserved {
		t.setHandler(c, xlReserved)
	}

	fixed := map[byte]int{
		0xc0: 1, // ubyte
		0xc1: 2, // uint16
		0xc2: 4, // uint32
		0xc3: 2, // sint16
		0xc4: 4, // sint32
		0xc5: 4, // real32
		0xd0: 2, // ubyte_xy
		0xd1: 4, // uint16_xy
		0xd2: 8, // uint32_xy
		0xd3: 4, // sint16_xy
		0xd4: 8, // sint32_xy
		0xd5: 8, // real32_xy
		0xe0: 4, // ubyte_box
		0xe1: 8,
		0xe2: 16,
		0xe3: 8,
		0xe4: 16,
		0xe5: 16,
		0xf8: 1, // attr_ubyte
		0xf9: 2, // attr_uint16
	}
	for c, n := range fixed {
		t.setSkip(c, n)
	}

	t.setHandler(0xc8, xlArray8)  // ubyte_array
	t.setHandler(0xc9, xlArray16) // uint16_array
	t.setHandler(0xca, xlArray32) // uint32_array
	t.setHandler(0xcb, xlArray16) // sint16_array
	t.setHandler(0xcc, xlArray32) // sint32_array
	t.setHandler(0xcd, xlArray32) // real32_array, and Canon ImageRunner
	t.setHandler(0xfa, xlEmbeddedData)
	t.setHandler(0xfb, xlEmbeddedDataSmall)
	return t
}

// --------------------------------------------------------------------------
// Scanner
// --------------------------------------------------------------------------

type xlScanner struct {
	buf   buffer
	order binary.ByteOrder
	tick  ticker

	pageCount int
	pages     map[int]*pageRecord
	escaped   map[int][]string // job language blocks, keyed by the page they precede
	prescribe map[int][]string
	color     bool
}

func newXLPageRecord() *pageRecord {
	return &pageRecord{
		copies:      1,
		mediaType:   "Plain",
		mediaSize:   "Default",
		mediaSource: "Main",
		orientation: "Portrait",
	}
}

// length returns the number of bytes following tag at next that belong to
// it.
func (s *xlScanner) length(tag byte, next int) (int, error) {
	switch a := xlTags[tag]; a.kind {
	case tagSkip:
		return a.skip, nil
	case tagInvoke:
		return s.call(a.handler, next)
	}
	return 0, nil
}

func (s *xlScanner) call(h xlHandler, next int) (int, error) {
	switch h {
	case xlEscape:
		return s.escape(next)
	case xlPrescribe:
		return s.skipPrescribe(next)
	case xlBigEndian:
		s.order = binary.BigEndian
		return s.skipBanner(next)
	case xlLittleEndian:
		s.order = binary.LittleEndian
		return s.skipBanner(next)
	case xlClass3x31:
		return s.x31(next)
	case xlBeginPage:
		return 0, s.beginPage(next)
	case xlEndPage:
		s.endPage(next)
	case xlClass3x46:
		return s.x46(next)
	case xlSetColorSpace:
		if s.buf.hasPrefixAt(next-4, "\x02\xf8\x03") { // RGB
			s.color = true
		}
	case xlReserved:
		slog.Debug("byte out of the PCLXL Protocol Class 2.0 Specification", "offset", next-1)
	case xlArray8:
		return s.array(next, 1)
	case xlArray16:
		return s.array(next, 2)
	case xlArray32:
		return s.array32(next)
	case xlEmbeddedData:
		n, ok := s.buf.u32(next, s.order)
		if !ok {
			return 0, io.EOF
		}
		return 4 + int(n), nil
	case xlEmbeddedDataSmall:
		n, ok := s.buf.at(next)
		if !ok {
			return 0, io.EOF
		}
		return 1 + int(n), nil
	}
	return 0, nil
}

func (s *xlScanner) skipBanner(next int) (int, error) {
	if next == 0 || !(s.buf.hasPrefixAt(next, xlBanner) ||
		s.buf.hasPrefixAt(next, xlBrotherHB) ||
		s.buf.hasPrefixAt(next, xlBrotherBanner)) {
		return 0, nil
	}
	i := bytes.IndexByte(s.buf[next:], '\n')
	if i < 0 {
		return 0, io.EOF
	}
	return i + 1, nil
}

// escape captures the job language text following a UEL.
func (s *xlScanner) escape(next int) (int, error) {
	if !s.buf.hasPrefixAt(next, uel) {
		return 0, nil
	}
	end, err := scanJobLanguage(s.buf, next+9, "\x0c\x00\x1b")
	if err != nil {
		return 0, err
	}
	s.escaped[s.pageCount] = append(s.escaped[s.pageCount], string(s.buf[next:end]))
	slog.Debug("escaped data", "page", s.pageCount, "data", string(s.buf[next:end]))
	return end - next, nil
}

// scanJobLanguage returns the offset of the first byte at or after pos that
// is in endmarks, or that is not ASCII outside double quotes.
func scanJobLanguage(buf buffer, pos int, endmarks string) (int, error) {
	quotes := 0
	for {
		c, ok := buf.at(pos)
		if !ok {
			return 0, io.EOF
		}
		if strings.IndexByte(endmarks, c) >= 0 || (c >= asciiLimit && quotes%2 == 0) {
			return pos, nil
		}
		if c == '"' {
			quotes++
		}
		pos++
	}
}

func (s *xlScanner) skipPrescribe(next int) (int, error) {
	pos := next - 1
	if !s.buf.hasPrefixAt(pos, "!R!") {
		return 0, nil
	}
	for pos-next < prescribeLimit {
		c, ok := s.buf.at(pos)
		if !ok {
			return 0, io.EOF
		}
		if c == ';' && s.buf.hasPrefixAt(pos-4, "EXIT") {
			pos++
			cmds := string(s.buf[next-1 : pos])
			s.prescribe[s.pageCount] = append(s.prescribe[s.pageCount], cmds)
			slog.Debug("Prescribe commands", "page", s.pageCount, "data", cmds)
			break
		}
		pos++
	}
	return pos - next, nil
}

func (s *xlScanner) x31(next int) (int, error) {
	v, ok := s.buf.at(next)
	if !ok {
		return 0, io.EOF
	}
	if v != 0x90 {
		return 0, nil
	}
	n, ok := s.buf.u32(next+1, s.order)
	if !ok {
		return 0, io.EOF
	}
	return int(n) + 5, nil
}

// x46 walks back over the attributes of an undocumented class 3.0
// operator. Sub-function 0x92 announces a block to skip.
func (s *xlScanner) x46(next int) (int, error) {
	pos := next - 3
	val, ok := s.buf.at(pos)
	for ok && val == 0xf8 {
		funcID, _ := s.buf.at(pos + 1)
		offset, known := xlX46Offsets[funcID]
		if !known {
			slog.Debug("unexpected subfunction for undocumented tag 0x46", "subfunction", funcID, "offset", next)
			break
		}
		pos -= offset
		tag, inRange := s.buf.at(pos)
		if !inRange {
			break
		}
		size, err := s.length(tag, pos+1)
		if err != nil {
			return 0, err
		}
		if funcID == 0x92 {
			if size != 1 && size != 2 && size != 4 {
				return 0, fmt.Errorf("error on size %d at %x", size, pos+1)
			}
			v, ok := s.buf.readUint(pos+1, size, s.order)
			if !ok {
				return 0, io.EOF
			}
			return v, nil
		}
		val, ok = s.buf.at(pos)
	}
	return 0, nil
}

func (s *xlScanner) array(next, size int) (int, error) {
	dataType, ok := s.buf.at(next)
	if !ok {
		return 0, io.EOF
	}
	n, err := s.length(dataType, next+1)
	if err != nil {
		return 0, err
	}
	if n != 1 && n != 2 && n != 4 {
		return 0, fmt.Errorf("error on array size at %x", next)
	}
	count, ok := s.buf.readUint(next+1, n, s.order)
	if !ok {
		return 0, io.EOF
	}
	return 1 + n + size*count, nil
}

func (s *xlScanner) array32(next int) (int, error) {
	irTag, _ := s.buf.slice(next-1, next+3)
	if string(irTag) != xlImageRunnerMarker1 && string(irTag) != xlImageRunnerMarker2 {
		return s.array(next, 4)
	}
	length, ok := s.buf.u16(next+7, binary.BigEndian)
	if !ok {
		return 0, io.EOF
	}
	skip := 19
	if string(irTag) != xlImageRunnerMarker2 {
		skip += int(length)
	}
	return skip, nil
}

// beginPage starts a page and walks back over the attributes that precede
// the operator to find its media settings.
func (s *xlScanner) beginPage(next int) error {
	s.pageCount++
	rec := newXLPageRecord()

	b := s.buf
	pos := next - 2
scan:
	for pos > 0 {
		switch val := b[pos]; val {
		case 0x44, 0x48, 0x41: // EndPage, OpenDataSource, BeginSession
			break scan
		case 0x26: // MediaSource
			v, ok := b.at(pos - 2)
			if !ok {
				break scan
			}
			rec.mediaSource = lookupName(xlMediaSources, int(v))
			pos -= 4
		case 0x25: // MediaSize
			for pos > 0 && b[pos] != 0xc0 {
				pos--
			}
			if pos > 0 {
				if b[pos-1] == 0xc8 {
					n, _ := b.at(pos + 1)
					rec.mediaSize = cases.Title(language.Und).String(string(b.clip(pos+2, pos+2+int(n))))
					pos--
				} else {
					v, _ := b.at(pos + 1)
					rec.mediaSize = lookupName(xlMediaSizes, int(v))
				}
				pos--
			}
		case 0x28: // Orientation
			v, ok := b.at(pos - 2)
			if !ok {
				break scan
			}
			rec.orientation = lookupName(xlOrientations, int(v))
			pos -= 4
		case 0x27: // MediaType
			savePos := pos
			pos--
			found := false
			start, size := 0, 0
			for pos > 0 {
				val := b[pos]
				pos--
				if val != 0xc8 {
					continue
				}
				lengthTag, _ := b.at(pos + 2)
				a := xlTags[lengthTag]
				n := 0
				if a.kind == tagSkip {
					n = a.skip
				}
				switch n {
				case 1:
					start = pos + 4
				case 2:
					start = pos + 5
				case 4:
					start = pos + 7
				default:
					return fmt.Errorf("error on size at %d: %d", pos+2, n)
				}
				size, found = b.readUint(pos+3, n, s.order)
				break
			}
			if found {
				rec.mediaType = string(b.clip(start, start+size))
			} else {
				slog.Debug("PCLXL media type not found", "offset", savePos)
			}
		case 0x34:
			rec.duplex = optional.New(duplexOff)
			pos -= 2
		case 0x35, 0x36:
			rec.duplex = optional.New(duplexOn)
			pos -= 2
		default:
			pos--
		}
	}
	s.pages[s.pageCount] = rec
	return nil
}

func (s *xlScanner) endPage(next int) {
	if !s.buf.hasPrefixAt(next-3, "\xf8\x31") { // PageCopies
		return
	}
	n, ok := s.buf.u16(next-5, s.order)
	if !ok {
		return
	}
	if page, ok := s.pages[s.pageCount]; ok {
		page.copies = int(n)
	} else {
		slog.Debug("PCLXL file looks corrupted", "offset", next)
	}
}

func (s *xlScanner) run() error {
	for pos := 0; ; {
		if err := s.tick.tick(); err != nil {
			return err
		}
		tag, ok := s.buf.at(pos)
		if !ok {
			return nil
		}
		pos++
		n, err := s.length(tag, pos)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		pos += n
	}
}

func countPCLXL(ctx context.Context, d *Document) (Result, error) {
	order, err := xlByteOrder(d.data)
	if err != nil {
		return Result{}, err
	}
	defaultPage := newXLPageRecord()
	defaultPage.orientation = "Default"
	defaultPage.mediaSource = "Default"
	s := &xlScanner{
		buf:       buffer(d.data),
		order:     order,
		tick:      ticker{ctx: ctx},
		pages:     map[int]*pageRecord{0: defaultPage},
		escaped:   make(map[int][]string),
		prescribe: make(map[int][]string),
	}
	if err := s.run(); err != nil {
		return Result{}, err
	}

	colorMode := "BW"
	if s.color {
		colorMode = "Color"
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
			page = newXLPageRecord()
		}
		jl, ok := s.escaped[pnum]
		if !ok {
			jl = s.escaped[0]
		}
		setup := r.resolve(*page, strings.Join(jl, ""))
		setup.ColorMode = colorMode
		total += setup.Copies - 1
		setups = append(setups, setup)
		logSetup(d.name, pnum, setup)
	}
	return Result{Pages: total, Setups: setups, Color: s.color}, nil
}
