package pdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mzyy94/pkpgcounter/internal/extern"
)

const (
	firstBlockSize = 16 * 1024
	lastBlockSize  = 256

	// DefaultLinesPerPage is the plain text page length.
	DefaultLinesPerPage = 66
)

// Options tunes counting.
type Options struct {
	LinesPerPage int            // plain text page length, DefaultLinesPerPage when zero
	Tools        *extern.Runner // external programs, a zero Runner when nil
}

func (o Options) linesPerPage() int {
	if o.LinesPerPage <= 0 {
		return DefaultLinesPerPage
	}
	return o.LinesPerPage
}

func (o Options) tools() *extern.Runner {
	if o.Tools == nil {
		return &extern.Runner{}
	}
	return o.Tools
}

// PageSetup describes how one logical page is printed.
type PageSetup struct {
	Copies      int    `json:"copies"`
	MediaType   string `json:"mediaType"`
	Paper       string `json:"paper"`
	Orientation string `json:"orientation"`
	Source      string `json:"source"`
	Duplex      string `json:"duplex"`
	ColorMode   string `json:"colorMode"`
}

// Result is the outcome of counting one document.
type Result struct {
	Format Format      `json:"-"`
	Name   string      `json:"format"`
	Pages  int         `json:"pages"`
	Setups []PageSetup `json:"setups,omitempty"` // PCL families only
	Color  bool        `json:"color,omitempty"`  // PCL-XL only
}

// Document is a print job whose format has been detected. Its bytes stay
// available until Close.
type Document struct {
	format Format
	name   string
	source string
	data   []byte
	first  []byte
	last   []byte
	path   string
	opts   Options
	count  func(ctx context.Context, d *Document) (Result, error)

	release []func() error
}

// Open detects the format of the job read from r. Inputs that are not
// regular files are first copied to a temporary file. The caller must
// Close the returned Document.
func Open(ctx context.Context, r io.Reader, name string, opts Options) (*Document, error) {
	d := &Document{source: name, opts: opts}
	if err := d.load(r); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.detect(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// OpenFile opens the named file. The name "-" reads standard input.
func OpenFile(ctx context.Context, name string, opts Options) (*Document, error) {
	if name == "-" {
		return Open(ctx, os.Stdin, name, opts)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Open(ctx, f, name, opts)
}

// Count is a one-shot Open, Count and Close.
func Count(ctx context.Context, r io.Reader, name string, opts Options) (Result, error) {
	d, err := Open(ctx, r, name, opts)
	if err != nil {
		return Result{}, err
	}
	defer d.Close()
	return d.Count(ctx)
}

func (d *Document) Format() Format { return d.format }

// Name is the human readable format name, which may be more specific than
// the format's descriptor name.
func (d *Document) Name() string { return d.name }

// Path is an on-disk copy of the job usable by external programs.
func (d *Document) Path() string { return d.path }

// Size returns the job length in bytes.
func (d *Document) Size() int { return len(d.data) }

// Bytes returns the job data. It must not be modified or retained after
// Close.
func (d *Document) Bytes() []byte { return d.data }

// Count computes the number of printed pages.
func (d *Document) Count(ctx context.Context) (Result, error) {
	res, err := d.count(ctx, d)
	if err != nil {
		return Result{}, wrapCountError(d.name, err)
	}
	res.Format = d.format
	res.Name = d.name
	slog.Debug("counted", "file", d.source, "format", d.name, "pages", res.Pages)
	return res, nil
}

// Close releases the mapping and removes any temporary copy.
func (d *Document) Close() error {
	var errs []error
	for i := len(d.release) - 1; i >= 0; i-- {
		errs = append(errs, d.release[i]())
	}
	d.release = nil
	d.data, d.first, d.last = nil, nil, nil
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Loading and detection
// --------------------------------------------------------------------------

func (d *Document) load(r io.Reader) error {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
			d.path = f.Name()
			return d.mapFile(f, info.Size())
		}
	}

	tmp, err := os.CreateTemp("", "pkpgcounter-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	d.path = tmp.Name()
	d.release = append(d.release, func() error { return os.Remove(tmp.Name()) })
	defer tmp.Close()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("copy input: %w", err)
	}
	return d.mapFile(tmp, n)
}

func (d *Document) mapFile(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	data, unmap, err := mapFile(f, size)
	if err != nil {
		slog.Debug("mmap failed, reading into memory", "file", d.source, "err", err)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		data, err = io.ReadAll(f)
		if err != nil {
			return err
		}
		unmap = nil
	}
	d.data = data
	if unmap != nil {
		d.release = append(d.release, unmap)
	}
	return nil
}

func (d *Document) detect(ctx context.Context) error {
	if len(d.data) == 0 {
		return ErrEmptyInput
	}
	d.first = d.data[:min(len(d.data), firstBlockSize)]
	if len(d.data) >= lastBlockSize {
		d.last = d.data[len(d.data)-lastBlockSize:]
	}

	in := &probeInput{first: d.first, last: d.last, data: d.data}
	for _, e := range registry {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, ok := e.probe(in)
		if !ok {
			continue
		}
		if name == "" {
			name = e.Name
		}
		d.format = e.Format
		d.name = name
		d.count = e.count
		slog.Debug("format detected", "file", d.source, "format", name)
		return nil
	}
	return &UnsupportedFormatError{Name: d.source}
}
