package inkcoverage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mzyy94/pkpgcounter/internal/extern"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

const (
	MinResolution     = 72
	MaxResolution     = 1200
	DefaultResolution = 72
)

// ErrNoConverter is returned for formats that cannot be rasterized.
var ErrNoConverter = errors.New("no converter to TIFF for this format")

const gsTIFF = "gs -sDEVICE=tiff24nc -dPARANOIDSAFER -dNOPAUSE -dBATCH -dQUIET -r{dpi} -sOutputFile={out}"

// converter is a shell pipeline writing a multipage 24 bit TIFF. {in},
// {out} and {dpi} are substituted before it runs.
type converter struct {
	tool    string
	cmdline string
}

var converters = map[pdl.Format][]converter{
	pdl.PostScript: {
		{"gs", gsTIFF + " {in}"},
	},
	pdl.PDF: {
		{"gs", gsTIFF + " {in}"},
	},
	pdl.PCL345: {
		{"pcl6", "pcl6 -sDEVICE=pdfwrite -r{dpi} -dPARANOIDSAFER -dNOPAUSE -dBATCH -dQUIET -sOutputFile=- {in} | " + gsTIFF + " -"},
		{"pcl6", "pcl6 -sDEVICE=pswrite -r{dpi} -dPARANOIDSAFER -dNOPAUSE -dBATCH -dQUIET -sOutputFile=- {in} | " + gsTIFF + " -"},
	},
	pdl.DVI: {
		{"dvips", "dvips -q -o - {in} | " + gsTIFF + " -"},
	},
	pdl.PlainText: {
		{"enscript", "enscript --quiet --portrait --no-header --columns 1 --output - {in} | " + gsTIFF + " -"},
		{"a2ps", "a2ps --borders 0 --quiet --portrait --no-header --columns 1 --output - {in} | " + gsTIFF + " -"},
	},
}

func init() {
	converters[pdl.PCLXL] = converters[pdl.PCL345]
}

func (c converter) command(in, out string, dpi int) string {
	return strings.NewReplacer(
		"{in}", extern.Quote(in),
		"{out}", extern.Quote(out),
		"{dpi}", fmt.Sprint(dpi),
	).Replace(c.cmdline)
}

// Options tunes Compute.
type Options struct {
	Colorspace Colorspace
	Resolution int            // DefaultResolution when zero
	Tools      *extern.Runner // a zero Runner when nil
}

// Compute returns the coverage of every page of doc, in page order. TIFF
// and raster images are measured directly, other formats are converted to
// TIFF first.
func Compute(ctx context.Context, doc *pdl.Document, opts Options) ([]Page, error) {
	if _, ok := colorspaceNames[opts.Colorspace]; !ok {
		return nil, fmt.Errorf("unknown colorspace %d", int(opts.Colorspace))
	}
	dpi := opts.Resolution
	if dpi == 0 {
		dpi = DefaultResolution
	}
	if dpi < MinResolution || dpi > MaxResolution {
		return nil, fmt.Errorf("resolution %d out of range [%d, %d]", dpi, MinResolution, MaxResolution)
	}

	switch doc.Format() {
	case pdl.TIFF:
		return measureTIFF(ctx, doc.Bytes(), opts.Colorspace)
	case pdl.Image:
		return measureImage(ctx, doc.Bytes(), opts.Colorspace)
	}

	convs, ok := converters[doc.Format()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", doc.Name(), ErrNoConverter)
	}
	tools := opts.Tools
	if tools == nil {
		tools = &extern.Runner{}
	}
	if err := tools.Require("gs"); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "pkpgcounter-tiff-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "pages.tiff")

	var errs []error
	for _, conv := range convs {
		if err := tools.Require(conv.tool); err != nil {
			errs = append(errs, err)
			continue
		}
		err := tools.Pipeline(ctx, conv.tool, conv.command(doc.Path(), out, dpi))
		if err == nil {
			data, rerr := os.ReadFile(out)
			switch {
			case rerr != nil:
				err = &extern.Error{Tool: conv.tool, Err: rerr}
			case len(data) == 0:
				err = &extern.Error{Tool: conv.tool, Err: extern.ErrEmptyOutput}
			default:
				return measureTIFF(ctx, data, opts.Colorspace)
			}
		}
		if ctx.Err() != nil {
			return nil, err
		}
		slog.Debug("conversion to TIFF failed", "format", doc.Name(), "tool", conv.tool, "err", err)
		errs = append(errs, err)
	}
	return nil, errs[len(errs)-1]
}

func measureImage(ctx context.Context, data []byte, c Colorspace) ([]Page, error) {
	_, kind, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if kind == "gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		pages := make([]Page, 0, len(g.Image))
		for _, frame := range g.Image {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pages = append(pages, Measure(frame, c))
		}
		return pages, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return []Page{Measure(img, c)}, nil
}
