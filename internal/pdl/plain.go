package pdl

import (
	"bytes"
	"context"

	"golang.org/x/text/encoding/unicode"
)

func probePlainText(in *probeInput) (string, bool) {
	first := decodeText(in.first)
	for _, sep := range []string{"\r\n", "\r", "\n"} {
		if bytes.Contains(first, []byte(sep)) {
			return "", true
		}
	}
	return "", false
}

// decodeText converts UTF-16 text marked by a byte order mark to UTF-8.
// Anything else is returned unchanged.
func decodeText(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("\xff\xfe")) && !bytes.HasPrefix(data, []byte("\xfe\xff")) {
		return data
	}
	dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	out, err := dec.Bytes(data)
	if err != nil {
		return data
	}
	return out
}

// countPlainText breaks pages on form feeds and after every linesPerPage
// lines. The line that overflows a page is not carried to the next one.
func countPlainText(ctx context.Context, d *Document) (Result, error) {
	pageSize := d.opts.linesPerPage()
	tick := ticker{ctx: ctx}
	pages, lineCount := 0, 0
	for line := range lines(decodeText(d.data)) {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		lineCount++
		if lineCount > pageSize {
			pages++
			lineCount = 0
		} else if n := bytes.Count(line, []byte("\f")); n > 0 {
			pages += n
			lineCount = 0
		}
	}
	return Result{Pages: pages + 1}, nil
}
