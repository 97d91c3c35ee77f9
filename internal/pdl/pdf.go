package pdl

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func probePDF(in *probeInput) (string, bool) {
	b := in.first
	head := b[:min(len(b), 128)]
	ok := bytes.HasPrefix(b, []byte("%PDF-")) ||
		bytes.HasPrefix(b, []byte("\x1b%-12345X%PDF-")) ||
		(bytes.Contains(head, []byte("\x1b"+uel)) && bytes.Contains(bytes.ToUpper(b), []byte("LANGUAGE=PDF"))) ||
		bytes.Contains(b, []byte("%PDF-"))
	return "", ok
}

var (
	pdfObject     = regexp.MustCompile(`(?s)(?:\A|\s)(\d+)\s+(\d+)\s+(obj\s*.+?\s*?endobj)`)
	pdfPageMarker = regexp.MustCompile(`/Type\s*/Page[/>\s]`)

	// Placeholders left for pages marked for replacement.
	pdfEmptyPages = [][]byte{
		[]byte("obj\n<< \n/Type /Page \n>> \nendobj"),
		[]byte("obj\n<< \n/Type /Page \n\n>> \nendobj"),
	}
)

type pdfObj struct {
	minor   int
	content []byte
}

// scanPDFObjects keeps, for each object number, the object with the highest
// generation. Later objects win ties.
func scanPDFObjects(ctx context.Context, data []byte) (map[int]pdfObj, error) {
	objects := make(map[int]pdfObj)
	tick := ticker{ctx: ctx}
	for _, m := range pdfObject.FindAllSubmatchIndex(data, -1) {
		if err := tick.tick(); err != nil {
			return nil, err
		}
		major, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		minor, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		if prev, ok := objects[major]; ok && minor < prev.minor {
			continue
		}
		objects[major] = pdfObj{minor: minor, content: data[m[6]:m[7]]}
	}
	return objects, nil
}

func countPDFObjects(ctx context.Context, data []byte) (int, error) {
	objects, err := scanPDFObjects(ctx, data)
	if err != nil {
		return 0, err
	}
	pages := 0
	for major, obj := range objects {
		n := len(pdfPageMarker.FindAllIndex(obj.content, -1))
		if n == 0 {
			continue
		}
		content := bytes.ReplaceAll(obj.content, []byte("\r\n"), []byte("\n"))
		content = bytes.ReplaceAll(content, []byte("\r"), []byte("\n"))
		empty := 0
		for _, p := range pdfEmptyPages {
			empty += bytes.Count(content, p)
		}
		if empty > 0 {
			slog.Debug("PDF empty page placeholder", "object", major, "generation", obj.minor)
		}
		pages += n - empty
	}
	return pages, nil
}

var disablePDFConfigDir sync.Once

// countPDFPageTree asks pdfcpu for the page tree count. Used when every page
// object is hidden in a compressed object stream.
func countPDFPageTree(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("pdfcpu: %v", r)
		}
	}()
	disablePDFConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}

func countPDF(ctx context.Context, d *Document) (Result, error) {
	pages, err := countPDFObjects(ctx, d.data)
	if err != nil {
		return Result{}, err
	}
	if pages == 0 {
		n, err := countPDFPageTree(d.data)
		if err != nil {
			slog.Debug("PDF page tree unreadable", "err", err)
		} else {
			pages = n
		}
	}
	return Result{Pages: pages}, nil
}
