package pdl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
)

func probePostScript(in *probeInput) (string, bool) {
	b := in.first
	head := b[:min(len(b), 128)]
	has := func(prefix string) bool { return bytes.HasPrefix(b, []byte(prefix)) }
	contains := func(s string) bool { return bytes.Contains(b, []byte(s)) }
	ok := has("%!") ||
		has("\x04%!") ||
		has("\x1b%-12345X%!PS") ||
		(bytes.Contains(head, []byte("\x1b"+uel)) &&
			(contains("LANGUAGE=POSTSCRIPT") || contains("LANGUAGE = POSTSCRIPT") || contains("LANGUAGE = Postscript"))) ||
		contains("%!PS-Adobe")
	return "", ok
}

// psCopyIdioms are the line prefixes announcing a copy count, with the
// field holding it.
var psCopyIdioms = []struct {
	prefix string
	field  func(line string) string
}{
	{"%%Requirements: numcopies(", func(line string) string {
		_, rest, _ := strings.Cut(line, "(")
		v, _, _ := strings.Cut(rest, ")")
		return v
	}},
	{"%%BeginNonPPDFeature: NumCopies ", fieldAt(2)},
	{"1 dict dup /NumCopies ", fieldAt(4)},              // mozilla, kprinter
	{"{ pop 1 dict dup /NumCopies ", fieldAt(6)},        // firefox, cups
	{"/#copies ", fieldAt(1)},
	{"%RBINumCopies: ", fieldAt(1)},
}

// The copy count of this idiom is on the previous line, after two
// characters.
const psPreviousLineCopies = "/languagelevel where{pop languagelevel}{1}ifelse 2 ge{1 dict dup/NumCopies"

func fieldAt(i int) func(string) string {
	return func(line string) string {
		fields := strings.Fields(line)
		if i >= len(fields) {
			return ""
		}
		return fields[i]
	}
}

type psScan struct {
	pages    int
	copies   map[int]int // page number to copies, page 0 precedes the first page
	notTrust bool
}

func (s *psScan) maxCopies() int {
	m := 1
	for _, c := range s.copies {
		m = max(m, c)
	}
	return m
}

func (s *psScan) raise(n int) {
	if n > s.copies[s.pages] {
		s.copies[s.pages] = n
	}
}

// scanDSC counts pages from the document structuring comments.
func scanDSC(ctx context.Context, data []byte) (psScan, error) {
	s := psScan{copies: map[int]int{0: 1}}
	tick := ticker{ctx: ctx}
	var oldPageNum *int
	var previous string
	prescribe := false
	acrobat := false
	pagesComment := 0

	for raw := range lines(data) {
		if err := tick.tick(); err != nil {
			return s, err
		}
		line := strings.TrimSpace(string(raw))
		switch {
		case !prescribe && !acrobat && strings.HasPrefix(line, "%%BeginResource: procset pdf"):
			// Let ghostscript count, but keep extracting copies.
			s.notTrust = true
		case strings.HasPrefix(line, "%ADOPrintSettings: L"):
			acrobat = true
		case strings.HasPrefix(line, "!R!"):
			prescribe = true
		case strings.HasPrefix(line, "%%Pages: "):
			if n, err := strconv.Atoi(fieldAt(1)(line)); err == nil {
				pagesComment = max(pagesComment, n)
			}
		case strings.HasPrefix(line, "%%Page: ") || strings.HasPrefix(line, "(%%[Page: "):
			// Handles "%%Page: x x" and "%%Page: (x-y) z" in N-up mode. The
			// label is sometimes an EPS file name.
			head, _, _ := strings.Cut(line, "]")
			fields := strings.Fields(head)
			if len(fields) == 0 {
				break
			}
			n, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil || (oldPageNum != nil && *oldPageNum == n) {
				break
			}
			oldPageNum = &n
			s.pages++
			s.copies[s.pages] = s.copies[s.pages-1]
		case strings.HasPrefix(line, psPreviousLineCopies):
			if len(previous) >= 2 {
				if n, err := strconv.Atoi(strings.TrimSpace(previous[2:])); err == nil {
					s.raise(n)
				}
			}
		default:
			for _, idiom := range psCopyIdioms {
				if strings.HasPrefix(line, idiom.prefix) {
					if n, err := strconv.Atoi(strings.TrimSpace(idiom.field(line))); err == nil {
						s.raise(n)
					}
					break
				}
			}
		}
		previous = line
	}

	if s.pages == 0 && pagesComment > 0 {
		s.pages = pagesComment
	}
	return s, nil
}

func (s *psScan) total() int {
	total := s.pages
	for pnum := 1; pnum <= s.pages; pnum++ {
		copies, ok := s.copies[pnum]
		if !ok {
			copies, ok = s.copies[1]
		}
		if !ok {
			copies = s.copies[0]
		}
		total += copies - 1
	}
	return total
}

// countWithGhostscript renders through the bbox device, which prints one
// bounding box per page.
func countWithGhostscript(ctx context.Context, d *Document, copies int) (int, error) {
	out, err := d.opts.tools().CombinedOutput(ctx, "gs",
		"-sDEVICE=bbox", "-dPARANOIDSAFER", "-dNOPAUSE", "-dBATCH", "-dQUIET", d.path)
	if err != nil {
		return 0, err
	}
	pages := 0
	for line := range lines(out) {
		if bytes.Contains(line, []byte("%%HiResBoundingBox:")) {
			pages++
		}
	}
	slog.Debug("ghostscript page count", "pages", pages, "copies", copies)
	return pages * copies, nil
}

func countPostScript(ctx context.Context, d *Document) (Result, error) {
	s, err := scanDSC(ctx, d.data)
	if err != nil {
		return Result{}, err
	}
	pages := s.total()
	slog.Debug("DSC page count", "pages", pages, "trusted", !s.notTrust)
	if !s.notTrust && pages != 0 {
		return Result{Pages: pages}, nil
	}

	gsPages, err := countWithGhostscript(ctx, d, s.maxCopies())
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Result{}, err
		}
		slog.Debug("ghostscript fallback failed", "err", err)
		return Result{Pages: pages}, nil
	}
	return Result{Pages: max(pages, gsPages)}, nil
}
