package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mzyy94/pkpgcounter/internal/analyzer"
	"github.com/mzyy94/pkpgcounter/internal/extern"
	"github.com/mzyy94/pkpgcounter/internal/inkcoverage"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	stdinIsTerminal := term.IsTerminal(int(os.Stdin.Fd()))
	os.Exit(run(ctx, os.Args[1:], stdinIsTerminal, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdinIsTerminal bool, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pkpgcounter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	debug := fs.Bool("debug", false, "log diagnostics to stderr")
	colorspace := fs.String("colorspace", "", "compute ink coverage in `space` (bw, rgb, cmy, cmyk or gc) instead of counting pages")
	resolution := fs.Int("resolution", inkcoverage.DefaultResolution, "raster resolution in dpi for ink coverage, 72 to 1200")
	linesPerPage := fs.Int("lines-per-page", pdl.DefaultLinesPerPage, "plain text page length")
	jobs := fs.Int("jobs", 1, "number of files analyzed at once")
	timeout := fs.Duration("timeout", extern.DefaultTimeout, "limit for each external tool run")
	showVersion := fs.Bool("version", false, "print the version and exit")
	listFormats := fs.Bool("list-formats", false, "list the supported formats and exit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: pkpgcounter [options] file1 file2 ... fileN")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	switch {
	case *showVersion:
		fmt.Fprintln(stdout, analyzer.Version)
		return 0
	case *listFormats:
		for _, d := range pdl.Formats() {
			fmt.Fprintf(stdout, "%-14s %s\n", d.ID, d.Name)
		}
		return 0
	}

	if *resolution < inkcoverage.MinResolution || *resolution > inkcoverage.MaxResolution {
		fmt.Fprintf(stderr, "ERROR: resolution must be between %d and %d\n", inkcoverage.MinResolution, inkcoverage.MaxResolution)
		return 2
	}
	tools := &extern.Runner{Timeout: *timeout}
	opts := analyzer.Options{
		Count: pdl.Options{LinesPerPage: *linesPerPage, Tools: tools},
		Jobs:  *jobs,
	}
	if *colorspace != "" {
		cs, err := inkcoverage.ParseColorspace(*colorspace)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 2
		}
		opts.Coverage = &inkcoverage.Options{Colorspace: cs, Resolution: *resolution, Tools: tools}
	}

	names := fs.Args()
	if len(names) == 0 || (!stdinIsTerminal && !slices.Contains(names, "-")) {
		names = append(names, "-")
	}

	start := time.Now()
	report := analyzer.Analyze(ctx, names, opts)
	for _, err := range report.Errors() {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
	}
	if opts.Coverage != nil {
		for _, f := range report.Files {
			for _, page := range f.Coverage {
				fmt.Fprintln(stdout, page)
			}
		}
	} else {
		fmt.Fprintln(stdout, report.Total)
	}
	slog.Debug("done", "files", len(names), "total", report.Total, "elapsed", time.Since(start).Round(time.Millisecond))
	return 0
}
