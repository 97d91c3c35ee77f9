package pdl

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

const (
	odfMetaNS    = "urn:oasis:names:tc:opendocument:xmlns:meta:1.0"
	odfDrawingNS = "urn:oasis:names:tc:opendocument:xmlns:drawing:1.0"
)

func probeOpenDocument(in *probeInput) (string, bool) {
	if !bytes.HasPrefix(in.first, []byte("PK")) {
		return "", false
	}
	zr, err := zip.NewReader(bytes.NewReader(in.data), int64(len(in.data)))
	if err != nil {
		return "", false
	}
	var content, meta bool
	for _, f := range zr.File {
		switch f.Name {
		case "content.xml":
			content = true
		case "meta.xml":
			meta = true
		}
	}
	return "", content && meta
}

func readZipMember(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func inNamespace(n xml.Name, space, prefix string) bool {
	return n.Space == space || n.Space == prefix
}

// odfPageCount returns the meta:page-count statistic of a text document.
func odfPageCount(meta []byte) (int, bool) {
	dec := xml.NewDecoder(bytes.NewReader(meta))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, a := range start.Attr {
			if a.Name.Local == "page-count" && inNamespace(a.Name, odfMetaNS, "meta") {
				n, err := strconv.Atoi(strings.TrimSpace(a.Value))
				return n, err == nil
			}
		}
	}
}

// odfDrawPages counts the draw:page elements of a presentation.
func odfDrawPages(ctx context.Context, content []byte) (int, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	tick := ticker{ctx: ctx}
	pages := 0
	for {
		if err := tick.tick(); err != nil {
			return 0, err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return pages, nil
		}
		if err != nil {
			return 0, err
		}
		if start, ok := tok.(xml.StartElement); ok &&
			start.Name.Local == "page" && inNamespace(start.Name, odfDrawingNS, "draw") {
			pages++
		}
	}
}

func countOpenDocument(ctx context.Context, d *Document) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
	if err != nil {
		return Result{}, err
	}
	meta, err := readZipMember(zr, "meta.xml")
	if err != nil {
		return Result{}, err
	}
	if n, ok := odfPageCount(meta); ok {
		return Result{Pages: n}, nil
	}
	content, err := readZipMember(zr, "content.xml")
	if err != nil {
		return Result{}, err
	}
	pages, err := odfDrawPages(ctx, content)
	if err != nil {
		return Result{}, err
	}
	if pages == 0 {
		return Result{}, ErrSpreadsheetUnsupported
	}
	return Result{Pages: pages}, nil
}
