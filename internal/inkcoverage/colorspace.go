package inkcoverage

import (
	"fmt"
	"image"
	"strings"
)

// Colorspace selects the channels coverage is reported for.
type Colorspace int

const (
	BW Colorspace = iota + 1
	RGB
	CMY
	CMYK
	GC // gray versus color
)

var colorspaceNames = map[Colorspace]string{
	BW:   "BW",
	RGB:  "RGB",
	CMY:  "CMY",
	CMYK: "CMYK",
	GC:   "GC",
}

var colorspaceChannels = map[Colorspace][]string{
	BW:   {"B"},
	RGB:  {"R", "G", "B"},
	CMY:  {"C", "M", "Y"},
	CMYK: {"C", "M", "Y", "K"},
	GC:   {"G", "C"},
}

func (c Colorspace) String() string {
	if name, ok := colorspaceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Colorspace(%d)", int(c))
}

// Channels returns the channel names in reporting order.
func (c Colorspace) Channels() []string {
	return colorspaceChannels[c]
}

// Colorspaces lists every colorspace.
func Colorspaces() []Colorspace {
	return []Colorspace{BW, RGB, CMY, CMYK, GC}
}

// ParseColorspace accepts a colorspace name in any case.
func ParseColorspace(s string) (Colorspace, error) {
	for c, name := range colorspaceNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown colorspace %q", s)
}

func (c Colorspace) MarshalText() ([]byte, error) {
	if _, ok := colorspaceNames[c]; !ok {
		return nil, fmt.Errorf("unknown colorspace %d", int(c))
	}
	return []byte(strings.ToLower(c.String())), nil
}

func (c *Colorspace) UnmarshalText(b []byte) error {
	v, err := ParseColorspace(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// --------------------------------------------------------------------------
// Coverage
// --------------------------------------------------------------------------

// Channel is the percentage of a page covered by one ink channel.
type Channel struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
}

// Page holds the coverage of one page, channels in colorspace order.
type Page []Channel

// String formats the page as tab separated "C : 12.345678%" fields.
func (p Page) String() string {
	fields := make([]string, len(p))
	for i, ch := range p {
		fields[i] = fmt.Sprintf("%s : %9.6f%%", ch.Name, ch.Percent)
	}
	return strings.Join(fields, "\t")
}

// Measure computes the coverage of img in colorspace c.
func Measure(img image.Image, c Colorspace) Page {
	b := img.Bounds()
	pixels := float64(b.Dx() * b.Dy())
	if pixels == 0 {
		return c.page(make([]float64, len(c.Channels())))
	}

	// Sums of 8 bit channel values.
	var red, green, blue, gray, cyan, magenta, yellow, black float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r32, g32, b32, _ := img.At(x, y).RGBA()
			r, g, bl := r32>>8, g32>>8, b32>>8
			switch c {
			case BW:
				gray += float64((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
			case RGB, CMY:
				red += float64(r)
				green += float64(g)
				blue += float64(bl)
			case CMYK:
				k := 255 - max(r, g, bl)
				black += float64(k)
				cyan += float64(255 - r - k)
				magenta += float64(255 - g - k)
				yellow += float64(255 - bl - k)
			case GC:
				if r != g || g != bl {
					return c.page([]float64{0, 100})
				}
			}
		}
	}

	percent := func(sum float64) float64 { return 100 * (sum / 255) / pixels }
	switch c {
	case BW:
		return c.page([]float64{100 - percent(gray)})
	case RGB:
		return c.page([]float64{percent(red), percent(green), percent(blue)})
	case CMY:
		return c.page([]float64{100 - percent(red), 100 - percent(green), 100 - percent(blue)})
	case CMYK:
		return c.page([]float64{percent(cyan), percent(magenta), percent(yellow), percent(black)})
	case GC:
		return c.page([]float64{100, 0})
	}
	return nil
}

func (c Colorspace) page(values []float64) Page {
	p := make(Page, len(values))
	for i, name := range c.Channels() {
		p[i] = Channel{Name: name, Percent: values[i]}
	}
	return p
}
