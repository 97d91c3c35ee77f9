package pdl

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/OpenPrinting/go-mfp/util/optional"

	"github.com/mzyy94/pkpgcounter/internal/pjl"
)

const (
	duplexOn  = "Duplex"
	duplexOff = "Simplex"
)

// pageRecord holds the attributes collected for one page of a PCL family
// job before job language defaults are applied.
type pageRecord struct {
	copies      int
	mediaType   string
	mediaSize   string
	mediaSource string
	orientation string
	duplex      optional.Val[string] // nil unless the page selects a mode
	escaped     string               // job language text captured on this page
}

// lookupName returns table[v], or v in decimal when it is not listed.
func lookupName(table map[int]string, v int) string {
	if name, ok := table[v]; ok {
		return name
	}
	return fmt.Sprint(v)
}

// jobResolver carries job language defaults from one page to the next and
// turns page records into PageSetups.
type jobResolver struct {
	// pageDuplexWithoutJL honours the page's duplex mode when the page
	// has no job language text (PCL3/4/5).
	pageDuplexWithoutJL bool

	defaultCopies int
	defaultDuplex string
	defaultPaper  string
	oldCopies     int
	oldDuplex     string
	oldPaper      string
}

func newJobResolver(pageDuplexWithoutJL bool) *jobResolver {
	return &jobResolver{
		pageDuplexWithoutJL: pageDuplexWithoutJL,
		defaultCopies:       1,
		defaultDuplex:       duplexOff,
		oldCopies:           -1,
	}
}

func (r *jobResolver) previousCopies() int {
	if r.oldCopies == -1 {
		return r.defaultCopies
	}
	return r.oldCopies
}

func (r *jobResolver) previousDuplex() string {
	if r.oldDuplex == "" {
		return r.defaultDuplex
	}
	return r.oldDuplex
}

func (r *jobResolver) previousPaper() string {
	if r.oldPaper == "" {
		return r.defaultPaper
	}
	return r.oldPaper
}

// jobCount returns a copy count set in vars, preferring QTY over COPIES.
// Values that are missing, malformed or negative report false.
func jobCount(vars pjl.Vars, qtyWins bool) (int, bool) {
	copies, hasCopies := vars.Int("COPIES")
	hasCopies = hasCopies && copies > -1
	qty, hasQty := vars.Int("QTY")
	hasQty = hasQty && qty > -1
	switch {
	case qtyWins && hasQty:
		return qty, true
	case hasCopies:
		return copies, true
	case hasQty:
		return qty, true
	}
	return 0, false
}

func onOff(v string) string {
	if strings.ToUpper(v) == "ON" {
		return duplexOn
	}
	return duplexOff
}

// resolve applies the job language text in effect for page and returns the
// page's setup. The returned Copies is the number of times the page prints.
func (r *jobResolver) resolve(page pageRecord, jlText string) PageSetup {
	var copies int
	var duplex, paper string

	if jlText != "" {
		job := pjl.Parse(jlText)
		// Default scope: QTY overrides COPIES. Environment scope: COPIES
		// wins over QTY.
		if n, ok := jobCount(job.Default, true); ok {
			r.defaultCopies = n
		}
		if n, ok := jobCount(job.Environment, false); ok {
			copies = n
		} else {
			copies = r.previousCopies()
		}

		if page.duplex != nil {
			duplex = optional.Get(page.duplex)
		} else {
			if v, _ := job.Default.Get("DUPLEX"); v != "" {
				r.defaultDuplex = onOff(v)
			}
			if v, _ := job.Environment.Get("DUPLEX"); v != "" {
				duplex = onOff(v)
			} else {
				duplex = r.previousDuplex()
			}
		}

		if v, _ := job.Default.Get("PAPER"); v != "" {
			r.defaultPaper = v
		}
		if v, _ := job.Environment.Get("PAPER"); v != "" {
			paper = v
		} else {
			paper = r.previousPaper()
		}
	} else {
		copies = r.previousCopies()
		switch {
		case !r.pageDuplexWithoutJL:
			duplex = r.oldDuplex
		case page.duplex != nil:
			duplex = optional.Get(page.duplex)
		default:
			duplex = r.previousDuplex()
		}
		paper = r.oldPaper
		if paper == "" {
			paper = page.mediaSize
		}
	}

	if page.mediaSize != "Default" {
		paper = page.mediaSize
	}
	if duplex == "" {
		duplex = r.previousDuplex()
	}
	r.oldCopies = copies
	r.oldDuplex = duplex
	r.oldPaper = paper

	return PageSetup{
		Copies:      max(copies, page.copies),
		MediaType:   page.mediaType,
		Paper:       paper,
		Orientation: page.orientation,
		Source:      page.mediaSource,
		Duplex:      duplex,
	}
}

func logSetup(format string, pnum int, s PageSetup) {
	slog.Debug("page setup", "format", format, "page", pnum,
		"setup", fmt.Sprintf("%d*%s*%s*%s*%s*%s*%s", s.Copies, s.MediaType, s.Paper, s.Orientation, s.Source, s.Duplex, s.ColorMode))
}
