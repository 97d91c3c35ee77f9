package pdl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// countBytes counts data through a non-file reader, which exercises the
// temporary copy.
func countBytes(t *testing.T, data []byte, opts Options) Result {
	t.Helper()
	res, err := Count(context.Background(), bytes.NewReader(data), "test", opts)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return res
}

func detectBytes(t *testing.T, data []byte) *Document {
	t.Helper()
	d, err := Open(context.Background(), bytes.NewReader(data), "test", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_EmptyInput(t *testing.T) {
	_, err := Open(context.Background(), bytes.NewReader(nil), "empty", Options{})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Open(empty) error = %v, want ErrEmptyInput", err)
	}
}

func TestOpen_UnsupportedFormat(t *testing.T) {
	_, err := Open(context.Background(), strings.NewReader("no line break here"), "blob", Options{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Open error = %v, want ErrUnsupportedFormat", err)
	}
	var ufe *UnsupportedFormatError
	if !errors.As(err, &ufe) || ufe.Name != "blob" {
		t.Errorf("Open error = %#v, want *UnsupportedFormatError for blob", err)
	}
}

func TestOpen_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, strings.NewReader("%!PS\n"), "test", Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Open error = %v, want context.Canceled", err)
	}
}

func TestOpen_TemporaryCopyRemoved(t *testing.T) {
	d, err := Open(context.Background(), strings.NewReader("line one\nline two\n"), "test", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := d.Path()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("temporary copy missing: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Stat after Close error = %v, want not exist", err)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.ps")
	data := "%!PS-Adobe-3.0\n%%Page: 1 1\nshowpage\n%%Page: 2 2\nshowpage\n%%EOF\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := OpenFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer d.Close()

	if d.Path() != path {
		t.Errorf("Path = %q, want %q", d.Path(), path)
	}
	if d.Format() != PostScript {
		t.Errorf("Format = %v, want %v", d.Format(), PostScript)
	}
	if d.Size() != len(data) {
		t.Errorf("Size = %d, want %d", d.Size(), len(data))
	}
	res, err := d.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if res.Pages != 2 {
		t.Errorf("Pages = %d, want 2", res.Pages)
	}
	if res.Name != "PostScript" {
		t.Errorf("Name = %q, want PostScript", res.Name)
	}
}

func TestCount_ParseErrorWrapped(t *testing.T) {
	// A chunk size smaller than its header.
	data := append([]byte("ZJZJ"), make([]byte, 16)...)
	_, err := Count(context.Background(), bytes.NewReader(data), "test", Options{})
	var pe *FormatParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Count error = %v, want *FormatParseError", err)
	}
	if pe.Format != "Zenographics ZjStream (little endian)" {
		t.Errorf("Format = %q, want the little endian ZjStream name", pe.Format)
	}
}

func TestFormats_ProbeOrder(t *testing.T) {
	formats := Formats()
	if len(formats) != len(registry) {
		t.Fatalf("len(Formats) = %d, want %d", len(formats), len(registry))
	}
	if formats[0].Format != PostScript || formats[len(formats)-1].Format != PlainText {
		t.Errorf("Formats = %v ... %v, want PostScript first and plain text last", formats[0].ID, formats[len(formats)-1].ID)
	}
	seen := make(map[string]bool)
	for _, f := range formats {
		if seen[f.ID] {
			t.Errorf("duplicate format id %q", f.ID)
		}
		seen[f.ID] = true
		if got := f.Format.String(); got != f.ID {
			t.Errorf("%v.String() = %q, want %q", f.Format, got, f.ID)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Format
	}{
		{"postscript", "%!PS-Adobe-3.0\n", PostScript},
		{"postscript over pdf", "%!PS-Adobe-3.0\n%PDF-1.4\n", PostScript},
		{"postscript over tiff tail", "%!PS-Adobe-3.0\nII*\x00\x08\x00\x00\x00", PostScript},
		{"postscript marker after tiff magic", "II*\x00\x08\x00\x00\x00%!PS-Adobe-3.0\n", PostScript},
		{"pclxl over pcl reset", "\x1b%-12345X@PJL ENTER LANGUAGE=PCLXL\n) HP-PCL XL;2;0\n\x1bE", PCLXL},
		{"pjl postscript", "\x1b%-12345X@PJL ENTER LANGUAGE = POSTSCRIPT\n", PostScript},
		{"pdf", "%PDF-1.4\n", PDF},
		{"pjl pdf", "\x1b%-12345X@PJL ENTER LANGUAGE=pdf\n", PDF},
		{"qpdl", "\x1b%-12345X@PJL ENTER LANGUAGE = QPDL\n", QPDL},
		{"spl1", "\x1b%-12345X$PJL ENTER LANGUAGE = SMART\n", SPL1},
		{"tiff", "II*\x00\x08\x00\x00\x00", TIFF},
		{"structured fax", "Sfff", StructuredFax},
		{"zjstream", "JZJZ", ZjStream},
		{"hbp", "@PJL ENTER LANGUAGE = HBP\n", BrotherHBP},
		{"pcl", "\x1bE\x1b&l26A", PCL345},
		{"pcl after nul padding", "\x00\x00\x1bE\x1b", PCL345},
		{"escp2", "\x1b@\x1b(G", ESCP2},
		{"escpages03", "\x1b\x01@EJL\n@EJL EN LA=ESC/PAGES03\n", ESCPageS03},
		{"bj", "\x1b[K\x02\x00\x00\x0f", CanonBJ},
		{"pnm", "P1\n1 1\n0\n", PNMASCII},
		{"ms word", "\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1\n", MSLegacy},
		{"plain", "hello\nworld\n", PlainText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := detectBytes(t, []byte(tt.data))
			if d.Format() != tt.want {
				t.Errorf("Format = %v, want %v", d.Format(), tt.want)
			}
		})
	}
}
