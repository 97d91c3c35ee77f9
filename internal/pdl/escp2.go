package pdl

import (
	"bytes"
	"context"
	"log/slog"
)

func probeESCP2(in *probeInput) (string, bool) {
	for _, prefix := range []string{"\x1b@", "\x1b*", "\n\x1b@", "\x00\x00\x00\x1b\x01@EJL"} {
		if bytes.HasPrefix(in.first, []byte(prefix)) {
			return "", true
		}
	}
	return "", false
}

// escp2Markers are the page separators emitted by the usual drivers.
type escp2Markers struct {
	reset     int // ESC @, twice per page with Gimp-Print
	formFeed  int // CR FF ESC or CR LF FF ESC
	stcolor   int // ESC @ FF, once per page plus one
	escDriver int // FF ESC @
}

func countESCP2Markers(data []byte) escp2Markers {
	count := func(s string) int { return bytes.Count(data, []byte(s)) }
	return escp2Markers{
		reset:     count("\x1b@"),
		formFeed:  max(count("\r\f\x1b"), count("\r\n\f\x1b")),
		stcolor:   count("\x1b@\f"),
		escDriver: count("\f\x1b@"),
	}
}

func (m escp2Markers) pages() int {
	switch {
	case m.formFeed > 0:
		return m.formFeed
	case m.stcolor > 1:
		return m.stcolor - 1
	case m.escDriver > 0:
		return m.escDriver
	}
	return m.reset / 2
}

func countESCP2(ctx context.Context, d *Document) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m := countESCP2Markers(d.data)
	slog.Debug("ESC/P2 markers", "reset", m.reset, "formfeed", m.formFeed, "stcolor", m.stcolor, "escp", m.escDriver)
	return Result{Pages: m.pages()}, nil
}
