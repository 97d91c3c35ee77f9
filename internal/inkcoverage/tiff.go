package inkcoverage

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/image/tiff"

	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

// pageReader presents a multipage TIFF as a single page one by rewriting
// the first directory offset in the header.
type pageReader struct {
	data   []byte
	header [8]byte
}

func (r *pageReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if off < int64(len(r.header)) {
		copy(p[:n], r.header[off:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func measureTIFF(ctx context.Context, data []byte, c Colorspace) ([]Page, error) {
	order, dirs, err := pdl.TIFFDirectories(data)
	if err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(dirs))
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := &pageReader{data: data}
		copy(r.header[:], data[:4])
		order.PutUint32(r.header[4:], dir)
		img, err := tiff.Decode(io.NewSectionReader(r, 0, int64(len(data))))
		if err != nil {
			return nil, fmt.Errorf("TIFF page %d: %w", i+1, err)
		}
		pages = append(pages, Measure(img, c))
	}
	return pages, nil
}
