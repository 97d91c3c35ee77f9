package analyzer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/mzyy94/pkpgcounter/internal/inkcoverage"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

// Version is the release reported by the binaries.
const Version = "3.51"

// Options configures an analysis run.
type Options struct {
	Count pdl.Options

	// Coverage switches from page counting to ink coverage when set.
	Coverage *inkcoverage.Options

	// Jobs bounds the number of files analyzed at once. Values below 1
	// mean one.
	Jobs int
}

// FileReport is the outcome for one input.
type FileReport struct {
	Name     string             `json:"name"`
	Result   pdl.Result         `json:"result"`
	Coverage []inkcoverage.Page `json:"coverage,omitempty"`
	Err      error              `json:"-"`
}

// Pages is the number of pages the file contributes to the total.
func (f FileReport) Pages() int {
	if f.Err != nil {
		return 0
	}
	if f.Coverage != nil {
		return len(f.Coverage)
	}
	return f.Result.Pages
}

// Report holds the per-file outcomes in input order.
type Report struct {
	Files []FileReport `json:"files"`
	Total int          `json:"total"`
}

// Err returns every per-file failure, or nil.
func (r Report) Err() error {
	var result *multierror.Error
	for _, f := range r.Files {
		if f.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", f.Name, f.Err))
		}
	}
	return result.ErrorOrNil()
}

// Errors lists the per-file failures in input order.
func (r Report) Errors() []error {
	if err := r.Err(); err != nil {
		return err.(*multierror.Error).WrappedErrors()
	}
	return nil
}

// Analyze counts (or measures) every named file. A failing file never
// stops the others. The name "-" reads standard input; repeats of it are
// dropped since standard input can only be read once.
func Analyze(ctx context.Context, names []string, opts Options) Report {
	names = dropRepeatedStdin(names)
	files := make([]FileReport, len(names))
	var g errgroup.Group
	g.SetLimit(max(opts.Jobs, 1))
	for i, name := range names {
		g.Go(func() error {
			files[i] = analyzeFile(ctx, name, opts)
			return nil
		})
	}
	g.Wait()

	report := Report{Files: files}
	for _, f := range files {
		report.Total += f.Pages()
	}
	return report
}

func dropRepeatedStdin(names []string) []string {
	out := make([]string, 0, len(names))
	stdin := false
	for _, name := range names {
		if name == "-" {
			if stdin {
				continue
			}
			stdin = true
		}
		out = append(out, name)
	}
	return out
}

func analyzeFile(ctx context.Context, name string, opts Options) FileReport {
	if err := ctx.Err(); err != nil {
		return FileReport{Name: name, Err: err}
	}
	doc, err := pdl.OpenFile(ctx, name, opts.Count)
	if err != nil {
		return FileReport{Name: name, Err: err}
	}
	defer doc.Close()
	return analyzeDocument(ctx, name, doc, opts)
}

// AnalyzeReader analyzes a single job read from r.
func AnalyzeReader(ctx context.Context, r io.Reader, name string, opts Options) FileReport {
	doc, err := pdl.Open(ctx, r, name, opts.Count)
	if err != nil {
		return FileReport{Name: name, Err: err}
	}
	defer doc.Close()
	return analyzeDocument(ctx, name, doc, opts)
}

func analyzeDocument(ctx context.Context, name string, doc *pdl.Document, opts Options) FileReport {
	report := FileReport{Name: name}
	if opts.Coverage != nil {
		pages, err := inkcoverage.Compute(ctx, doc, *opts.Coverage)
		report.Result = pdl.Result{Format: doc.Format(), Name: doc.Name(), Pages: len(pages)}
		report.Coverage, report.Err = pages, err
		if err == nil && pages == nil {
			report.Coverage = []inkcoverage.Page{}
		}
	} else {
		report.Result, report.Err = doc.Count(ctx)
	}
	if report.Err != nil {
		slog.Debug("analysis failed", "file", name, "format", doc.Name(), "err", report.Err)
	}
	return report
}
