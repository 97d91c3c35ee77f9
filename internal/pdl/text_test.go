package pdl

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/unicode"

	"github.com/mzyy94/pkpgcounter/internal/extern"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// --------------------------------------------------------------------------
// PostScript
// --------------------------------------------------------------------------

func TestCountPostScript_CopyExpansion(t *testing.T) {
	data := "%!PS-Adobe-3.0\n" +
		"%%Pages: 2\n" +
		"%%Page: 1 1\n" +
		"showpage\n" +
		"%%Page: 2 2\n" +
		"%%BeginNonPPDFeature: NumCopies 3\n" +
		"showpage\n" +
		"%%EOF\n"
	res := countBytes(t, []byte(data), Options{})
	if res.Pages != 4 {
		t.Errorf("Pages = %d, want 4", res.Pages)
	}
}

func TestScanDSC(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		pages int
		trust bool
	}{
		{
			name:  "pages comment only",
			data:  "%!PS\n%%Pages: 3\n",
			pages: 3,
			trust: true,
		},
		{
			name:  "repeated page number",
			data:  "%!PS\n%%Page: 1 1\n%%Page: 1 1\n%%Page: 2 2\n",
			pages: 2,
			trust: true,
		},
		{
			name:  "n-up label",
			data:  "%!PS\n%%Page: (1-2) 1\n%%Page: (3-4) 2\n",
			pages: 2,
			trust: true,
		},
		{
			name:  "non integer label",
			data:  "%!PS\n%%Page: cover.eps\n%%Page: 1 1\n",
			pages: 1,
			trust: true,
		},
		{
			name:  "requirements copies",
			data:  "%!PS\n%%Requirements: numcopies(2)\n%%Page: 1 1\n",
			pages: 2,
			trust: true,
		},
		{
			name:  "previous line copies",
			data:  "%!PS\n%%Page: 1 1\n%%4\n/languagelevel where{pop languagelevel}{1}ifelse 2 ge{1 dict dup/NumCopies exch\n",
			pages: 4,
			trust: true,
		},
		{
			name:  "mozilla copies",
			data:  "%!PS\n%%Page: 1 1\n1 dict dup /NumCopies 2 put setpagedevice\n",
			pages: 2,
			trust: true,
		},
		{
			name:  "cups copies",
			data:  "%!PS\n%%Page: 1 1\n{ pop 1 dict dup /NumCopies 3 put setpagedevice } if\n",
			pages: 3,
			trust: true,
		},
		{
			name:  "malformed copies ignored",
			data:  "%!PS\n%%Page: 1 1\n/#copies many def\n",
			pages: 1,
			trust: true,
		},
		{
			name:  "pdf procset",
			data:  "%!PS\n%%BeginResource: procset pdf\n%%Page: 1 1\n",
			pages: 1,
			trust: false,
		},
		{
			name:  "pdf procset after acrobat marker",
			data:  "%!PS\n%ADOPrintSettings: L2\n%%BeginResource: procset pdf\n%%Page: 1 1\n",
			pages: 1,
			trust: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := scanDSC(context.Background(), []byte(tt.data))
			if err != nil {
				t.Fatalf("scanDSC: %v", err)
			}
			if got := s.total(); got != tt.pages {
				t.Errorf("total() = %d, want %d", got, tt.pages)
			}
			if s.notTrust == tt.trust {
				t.Errorf("notTrust = %v, want %v", s.notTrust, !tt.trust)
			}
		})
	}
}

func TestCountPostScript_GhostscriptFallback(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "gs", `for i in 1 2 3; do echo "%%BoundingBox: 0 0 1 1"; echo "%%HiResBoundingBox: 0 0 1 1"; done`)
	t.Setenv("PATH", dir)

	data := "%!PS-Adobe-3.0\n%%BeginResource: procset pdf\n%%Page: 1 1\n"
	res := countBytes(t, []byte(data), Options{Tools: &extern.Runner{}})
	if res.Pages != 3 {
		t.Errorf("Pages = %d, want 3", res.Pages)
	}
}

func TestCountPostScript_GhostscriptMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	data := "%!PS-Adobe-3.0\n%%BeginResource: procset pdf\n%%Page: 1 1\n"
	res := countBytes(t, []byte(data), Options{})
	if res.Pages != 1 {
		t.Errorf("Pages = %d, want 1", res.Pages)
	}
}

// --------------------------------------------------------------------------
// PDF
// --------------------------------------------------------------------------

func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := range pages {
		pdf.AddPage()
		pdf.Cell(40, 10, strings.Repeat("x", i+1))
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatalf("fpdf output: %v", err)
	}
	return buf.Bytes()
}

func TestCountPDF_Generated(t *testing.T) {
	for _, n := range []int{1, 3, 12} {
		res := countBytes(t, buildPDF(t, n), Options{})
		if res.Format != PDF {
			t.Fatalf("Format = %v, want pdf", res.Format)
		}
		if res.Pages != n {
			t.Errorf("Pages = %d, want %d", res.Pages, n)
		}
	}
}

func TestCountPDFObjects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{
			name: "higher generation wins",
			data: "%PDF-1.4\n1 0 obj <</Type/Page>> endobj\n1 1 obj <</Type/Page/MediaBox[0 0 10 10]>> endobj\n",
			want: 1,
		},
		{
			name: "higher generation first",
			data: "%PDF-1.4\n1 1 obj <</Type/Page/MediaBox[0 0 10 10]>> endobj\n1 0 obj <</Type/Page>> endobj\n",
			want: 1,
		},
		{
			name: "pages node not counted",
			data: "%PDF-1.4\n1 0 obj <</Type /Pages /Kids [2 0 R]>> endobj\n2 0 obj <</Type /Page /Parent 1 0 R>> endobj\n",
			want: 1,
		},
		{
			name: "empty placeholder",
			data: "%PDF-1.4\n1 0 obj\n<< \n/Type /Page \n>> \nendobj\n2 0 obj <</Type/Page>> endobj\n",
			want: 1,
		},
		{
			name: "empty placeholder with blank line and CRLF",
			data: "%PDF-1.4\r\n1 0 obj\r\n<< \r\n/Type /Page \r\n\r\n>> \r\nendobj\r\n2 0 obj <</Type/Page>> endobj\r\n3 0 obj <</Type/Page>> endobj\r\n",
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := countPDFObjects(context.Background(), []byte(tt.data))
			if err != nil {
				t.Fatalf("countPDFObjects: %v", err)
			}
			if got != tt.want {
				t.Errorf("countPDFObjects = %d, want %d", got, tt.want)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Plain text
// --------------------------------------------------------------------------

func TestCountPlainText(t *testing.T) {
	tests := []struct {
		name string
		data string
		opts Options
		want int
	}{
		{"single line", "hello\n", Options{}, 1},
		{"66 lines", strings.Repeat("line\n", 66), Options{}, 1},
		{"67 lines", strings.Repeat("line\n", 67), Options{}, 2},
		{"form feeds", "one\ntwo\fthree\n\f\n", Options{}, 3},
		{"carriage returns", strings.Repeat("line\r", 67), Options{}, 2},
		{"custom page length", strings.Repeat("line\n", 11), Options{LinesPerPage: 5}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := countBytes(t, []byte(tt.data), tt.opts)
			if res.Format != PlainText {
				t.Fatalf("Format = %v, want plain", res.Format)
			}
			if res.Pages != tt.want {
				t.Errorf("Pages = %d, want %d", res.Pages, tt.want)
			}
		})
	}
}

func TestDecodeText_UTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.String("héllo\nwörld\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := string(decodeText([]byte(data))); got != "héllo\nwörld\n" {
		t.Errorf("decodeText = %q, want %q", got, "héllo\nwörld\n")
	}
	if got := string(decodeText([]byte("plain\n"))); got != "plain\n" {
		t.Errorf("decodeText(ascii) = %q, want unchanged", got)
	}
}

// --------------------------------------------------------------------------
// Images
// --------------------------------------------------------------------------

func TestCountPNMASCII(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"two images", "P2\n2 1\n255\n0 0\nP2\n2 1\n255\n0 0\n", 2},
		{"cmyk map", "P1\n# device=pksm\n1 1 0\nP1\n1 1 0\nP1\n1 1 0\nP1 1 1 0\n", 1},
		{"cmyk map not divisible", "P1\n# device=pksm\n1 1 0\nP1\n1 1 0\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := countBytes(t, []byte(tt.data), Options{})
			if res.Format != PNMASCII {
				t.Fatalf("Format = %v, want pnmascii", res.Format)
			}
			if res.Pages != tt.want {
				t.Errorf("Pages = %d, want %d", res.Pages, tt.want)
			}
		})
	}
}

func TestCountImage(t *testing.T) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png: %v", err)
	}
	res := countBytes(t, pngBuf.Bytes(), Options{})
	if res.Format != Image || res.Name != "image (png)" {
		t.Errorf("Format = %v %q, want image (png)", res.Format, res.Name)
	}
	if res.Pages != 1 {
		t.Errorf("png Pages = %d, want 1", res.Pages)
	}

	palette := color.Palette{color.Black, color.White}
	anim := &gif.GIF{}
	for range 3 {
		anim.Image = append(anim.Image, image.NewPaletted(image.Rect(0, 0, 2, 2), palette))
		anim.Delay = append(anim.Delay, 10)
	}
	var gifBuf bytes.Buffer
	if err := gif.EncodeAll(&gifBuf, anim); err != nil {
		t.Fatalf("gif: %v", err)
	}
	res = countBytes(t, gifBuf.Bytes(), Options{})
	if res.Pages != 3 {
		t.Errorf("gif Pages = %d, want 3", res.Pages)
	}
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

func buildODF(t *testing.T, meta, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"mimetype":    "application/vnd.oasis.opendocument.text",
		"meta.xml":    meta,
		"content.xml": content,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

const (
	odfMetaHeader    = `<office:document-meta xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:meta="urn:oasis:names:tc:opendocument:xmlns:meta:1.0"><office:meta>`
	odfMetaFooter    = `</office:meta></office:document-meta>`
	odfContentHeader = `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:draw="urn:oasis:names:tc:opendocument:xmlns:drawing:1.0"><office:body>`
	odfContentFooter = `</office:body></office:document-content>`
)

func TestCountOpenDocument(t *testing.T) {
	text := buildODF(t,
		odfMetaHeader+`<meta:document-statistic meta:page-count="5" meta:word-count="100"/>`+odfMetaFooter,
		odfContentHeader+odfContentFooter)
	res := countBytes(t, text, Options{})
	if res.Format != OpenDocument {
		t.Fatalf("Format = %v, want opendocument", res.Format)
	}
	if res.Pages != 5 {
		t.Errorf("text Pages = %d, want 5", res.Pages)
	}

	slides := buildODF(t,
		odfMetaHeader+odfMetaFooter,
		odfContentHeader+`<office:presentation><draw:page draw:name="1"/><draw:page draw:name="2"/><draw:page draw:name="3"/></office:presentation>`+odfContentFooter)
	res = countBytes(t, slides, Options{})
	if res.Pages != 3 {
		t.Errorf("presentation Pages = %d, want 3", res.Pages)
	}
}

func TestProbeOpenDocument_RequiresBothMembers(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for range 2 {
		w, err := zw.Create("content.xml")
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write([]byte(odfContentHeader + odfContentFooter))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	data := buf.Bytes()
	if _, ok := probeOpenDocument(&probeInput{first: data, data: data}); ok {
		t.Error("probeOpenDocument(two content.xml, no meta.xml) = true, want false")
	}

	odf := buildODF(t, odfMetaHeader+odfMetaFooter, odfContentHeader+odfContentFooter)
	if _, ok := probeOpenDocument(&probeInput{first: odf, data: odf}); !ok {
		t.Error("probeOpenDocument(meta.xml and content.xml) = false, want true")
	}
}

func TestCountOpenDocument_Spreadsheet(t *testing.T) {
	sheet := buildODF(t, odfMetaHeader+odfMetaFooter, odfContentHeader+`<office:spreadsheet/>`+odfContentFooter)
	_, err := Count(context.Background(), bytes.NewReader(sheet), "sheet.ods", Options{})
	var pe *FormatParseError
	if !errors.As(err, &pe) || !errors.Is(err, ErrSpreadsheetUnsupported) {
		t.Errorf("Count error = %v, want FormatParseError wrapping ErrSpreadsheetUnsupported", err)
	}
}

func TestCountMSLegacy(t *testing.T) {
	data := append([]byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"), []byte("\nbody\n")...)
	res := countBytes(t, data, Options{})
	if res.Format != MSLegacy || res.Pages != 0 {
		t.Errorf("Count = %v %d pages, want mslegacy with 0 pages", res.Format, res.Pages)
	}

	word := make([]byte, 2200)
	copy(word[msWordDocOffset:], "MSWordDoc")
	word[0] = '\n'
	if d := detectBytes(t, word); d.Format() != MSLegacy {
		t.Errorf("Format = %v, want mslegacy", d.Format())
	}
}
