package pdl

import "context"

// Format identifies a page description language. Values are declared in
// probe order.
type Format int

const (
	FormatUnknown Format = iota
	PostScript
	PCLXL
	PDF
	QPDL
	SPL1
	DVI
	TIFF
	StructuredFax
	ZjStream
	OpenDocument
	BrotherHBP
	LIDIL
	PCL345
	ESCP2
	ESCPageS03
	CanonBJ
	PNMASCII
	Image
	MSLegacy
	PlainText
)

// Descriptor describes a supported format.
type Descriptor struct {
	Format Format   `json:"-"`
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Tools  []string `json:"tools,omitempty"` // needed to rasterize for ink coverage
}

func (f Format) String() string {
	for _, e := range registry {
		if e.Format == f {
			return e.ID
		}
	}
	return "unknown"
}

// Descriptor returns the static description of f.
func (f Format) Descriptor() (Descriptor, bool) {
	for _, e := range registry {
		if e.Format == f {
			return e.Descriptor, true
		}
	}
	return Descriptor{}, false
}

// Formats returns every supported format in probe order.
func Formats() []Descriptor {
	out := make([]Descriptor, len(registry))
	for i, e := range registry {
		out[i] = e.Descriptor
	}
	return out
}

// --------------------------------------------------------------------------
// Probe registry
// --------------------------------------------------------------------------

type probeInput struct {
	first []byte // at most firstBlockSize bytes from offset 0
	last  []byte // the final lastBlockSize bytes, empty for shorter inputs
	data  []byte // the whole input
}

type entry struct {
	Descriptor
	// probe reports whether the input is in this format. A non-empty
	// name overrides the descriptor's name for this input.
	probe func(in *probeInput) (name string, ok bool)
	count func(ctx context.Context, d *Document) (Result, error)
}

// The order is significant: several formats share byte prefixes, so the
// more specific ones must be tried first.
var registry = []entry{
	{
		Descriptor: Descriptor{Format: PostScript, ID: "postscript", Name: "PostScript", Tools: []string{"gs"}},
		probe:      probePostScript,
		count:      countPostScript,
	},
	{
		Descriptor: Descriptor{Format: PCLXL, ID: "pclxl", Name: "PCLXL (aka PCL6)", Tools: []string{"pcl6", "gs"}},
		probe:      probePCLXL,
		count:      countPCLXL,
	},
	{
		Descriptor: Descriptor{Format: PDF, ID: "pdf", Name: "PDF", Tools: []string{"gs"}},
		probe:      probePDF,
		count:      countPDF,
	},
	{
		Descriptor: Descriptor{Format: QPDL, ID: "qpdl", Name: "QPDL (aka SPL2)"},
		probe:      probeQPDL,
		count:      countQPDL,
	},
	{
		Descriptor: Descriptor{Format: SPL1, ID: "spl1", Name: "SPL1 (aka GDI)"},
		probe:      probeSPL1,
		count:      countSPL1,
	},
	{
		Descriptor: Descriptor{Format: DVI, ID: "dvi", Name: "DVI", Tools: []string{"dvips", "gs"}},
		probe:      probeDVI,
		count:      countDVI,
	},
	{
		Descriptor: Descriptor{Format: TIFF, ID: "tiff", Name: "TIFF"},
		probe:      probeTIFF,
		count:      countTIFF,
	},
	{
		Descriptor: Descriptor{Format: StructuredFax, ID: "cfax", Name: "Structured Fax"},
		probe:      probeStructuredFax,
		count:      countStructuredFax,
	},
	{
		Descriptor: Descriptor{Format: ZjStream, ID: "zjstream", Name: "Zenographics ZjStream"},
		probe:      probeZjStream,
		count:      countZjStream,
	},
	{
		Descriptor: Descriptor{Format: OpenDocument, ID: "opendocument", Name: "OpenDocument"},
		probe:      probeOpenDocument,
		count:      countOpenDocument,
	},
	{
		Descriptor: Descriptor{Format: BrotherHBP, ID: "hbp", Name: "Brother HBP"},
		probe:      probeHBP,
		count:      countHBP,
	},
	{
		Descriptor: Descriptor{Format: LIDIL, ID: "lidil", Name: "Hewlett-Packard LIDIL"},
		probe:      probeLIDIL,
		count:      countLIDIL,
	},
	{
		Descriptor: Descriptor{Format: PCL345, ID: "pcl345", Name: "PCL3/4/5", Tools: []string{"pcl6", "gs"}},
		probe:      probePCL345,
		count:      countPCL345,
	},
	{
		Descriptor: Descriptor{Format: ESCP2, ID: "escp2", Name: "ESC/P2"},
		probe:      probeESCP2,
		count:      countESCP2,
	},
	{
		Descriptor: Descriptor{Format: ESCPageS03, ID: "escpages03", Name: "ESC/PageS03"},
		probe:      probeESCPageS03,
		count:      countESCPageS03,
	},
	{
		Descriptor: Descriptor{Format: CanonBJ, ID: "bj", Name: "Canon BJ/BJC"},
		probe:      probeBJ,
		count:      countBJ,
	},
	{
		Descriptor: Descriptor{Format: PNMASCII, ID: "pnmascii", Name: "PNM (ascii)"},
		probe:      probePNMASCII,
		count:      countPNMASCII,
	},
	{
		Descriptor: Descriptor{Format: Image, ID: "image", Name: "image"},
		probe:      probeImage,
		count:      countImage,
	},
	{
		Descriptor: Descriptor{Format: MSLegacy, ID: "mslegacy", Name: "MS legacy document"},
		probe:      probeMSLegacy,
		count:      countMSLegacy,
	},
	{
		Descriptor: Descriptor{Format: PlainText, ID: "plain", Name: "plain text", Tools: []string{"a2ps | enscript", "gs"}},
		probe:      probePlainText,
		count:      countPlainText,
	},
}
