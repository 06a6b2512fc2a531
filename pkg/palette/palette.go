// Package palette builds the per-term color palettes used by the point
// overlay. Palette index 0 is reserved for the default color; annotation
// terms map to indices 1..n.
package palette

import (
	"image/color"
	"strconv"
)

// Term is one annotation term with its display color ("#rrggbb").
type Term struct {
	TermID string
	Color  string
}

// Palette is a compact color table plus the term-id lookup that assigns
// palette indices to points.
type Palette struct {
	Colors []color.RGBA
	Index  map[string]uint16
}

// Default is the palette entry used for points without a term.
var Default = color.RGBA{R: 211, G: 211, B: 211, A: 255}

// Categorical fallback colors, used when a term carries no parseable color.
var Categorical = []color.RGBA{
	{31, 119, 180, 255},  // Blue
	{255, 127, 14, 255},  // Orange
	{44, 160, 44, 255},   // Green
	{214, 39, 40, 255},   // Red
	{148, 103, 189, 255}, // Purple
	{140, 86, 75, 255},   // Brown
	{227, 119, 194, 255}, // Pink
	{127, 127, 127, 255}, // Gray
	{188, 189, 34, 255},  // Olive
	{23, 190, 207, 255},  // Cyan
}

// BuildTermPalette assigns one palette slot per distinct term id, keeping
// the first color seen for a term and ignoring later duplicates.
func BuildTermPalette(terms []Term) *Palette {
	p := &Palette{
		Colors: []color.RGBA{Default},
		Index:  make(map[string]uint16, len(terms)),
	}
	for _, t := range terms {
		if t.TermID == "" {
			continue
		}
		if _, seen := p.Index[t.TermID]; seen {
			continue
		}
		idx := uint16(len(p.Colors))
		c, ok := ParseHexColor(t.Color)
		if !ok {
			c = Categorical[int(idx-1)%len(Categorical)]
		}
		p.Colors = append(p.Colors, c)
		p.Index[t.TermID] = idx
	}
	return p
}

// At returns the color for a palette index, defaulting out-of-range
// indices to slot 0.
func (p *Palette) At(i int) color.RGBA {
	if i < 0 || i >= len(p.Colors) {
		return p.Colors[0]
	}
	return p.Colors[i]
}

// RGBA flattens the palette into the [r,g,b,a,...] byte layout the drawing
// backend uploads as its palette texture.
func (p *Palette) RGBA() []uint8 {
	out := make([]uint8, 0, len(p.Colors)*4)
	for _, c := range p.Colors {
		out = append(out, c.R, c.G, c.B, c.A)
	}
	return out
}

// ParseHexColor parses "#rrggbb" (case-insensitive, '#' optional).
func ParseHexColor(s string) (color.RGBA, bool) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, true
}
