package pdl

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mzyy94/pkpgcounter/internal/pjl"
)

const (
	escPageS03Marker = "=ESC/PAGES03\n"
	escPageS03EJL    = "\x1b\x01@EJL"
	escPageS03Block  = 0x1d
	escPageS03End    = "eps{I"
)

var errInvalidESCPageS03 = errors.New("invalid ESC/PageS03 file")

func probeESCPageS03(in *probeInput) (string, bool) {
	ok := bytes.HasPrefix(in.first, []byte(escPageS03EJL)) &&
		bytes.Contains(in.first, []byte(escPageS03Marker))
	return "", ok
}

// countESCPageS03 skips the length prefixed blocks up to the trailing EJL
// block, whose PAGES variable holds the page count.
func countESCPageS03(ctx context.Context, d *Document) (Result, error) {
	buf := buffer(d.data)
	pos := bytes.Index(buf, []byte(escPageS03Marker))
	if pos < 0 {
		return Result{}, errInvalidESCPageS03
	}
	pos += len(escPageS03Marker)
	if c, ok := buf.at(pos); !ok || c != escPageS03Block {
		return Result{}, errInvalidESCPageS03
	}

	tick := ticker{ctx: ctx}
	for {
		if err := tick.tick(); err != nil {
			return Result{}, err
		}
		c, ok := buf.at(pos)
		if !ok {
			return Result{Pages: 0}, nil
		}
		if c == escPageS03Block {
			skip := 0
			for {
				pos++
				c, ok := buf.at(pos)
				if !ok {
					return Result{Pages: 0}, nil
				}
				if c < '0' || c > '9' {
					break
				}
				skip = skip*10 + int(c-'0')
			}
			if buf.hasPrefixAt(pos, escPageS03End) {
				pos += skip + len(escPageS03End)
			}
			continue
		}
		if buf.hasPrefixAt(pos, escPageS03EJL) {
			return Result{Pages: escPageS03Pages(string(buf[pos:]))}, nil
		}
		pos++
	}
}

func escPageS03Pages(ejl string) int {
	v, ok := pjl.ParseEJL(ejl).Environment.Get("PAGES")
	if !ok {
		v = "1"
	}
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = v[1 : len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
