package fontbuild

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/postscript/funit"
	"seehuhn.de/go/postscript/type1"
	"seehuhn.de/go/sfnt"
	"seehuhn.de/go/sfnt/cff"
	"seehuhn.de/go/sfnt/cmap"
	"seehuhn.de/go/sfnt/glyph"
	"seehuhn.de/go/sfnt/os2"

	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

// SFNTSerializer writes requests as CFF-flavoured OpenType fonts
type SFNTSerializer struct{}

// NewSFNTSerializer creates an OpenType serializer
func NewSFNTSerializer() *SFNTSerializer {
	return &SFNTSerializer{}
}

// Serialize implements Serializer
func (s *SFNTSerializer) Serialize(ctx context.Context, req *Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	font, err := s.Font(req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := font.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write font: %w", err)
	}
	return buf.Bytes(), nil
}

// Font converts a request into an in-memory sfnt font
func (s *SFNTSerializer) Font(req *Request) (*sfnt.Font, error) {
	m := req.Metrics
	if m.UnitsPerEm <= 0 {
		return nil, fmt.Errorf("invalid units per em: %d", m.UnitsPerEm)
	}
	if len(req.Glyphs) == 0 || req.Glyphs[0].Name != NotdefName {
		return nil, fmt.Errorf("first glyph must be %s", NotdefName)
	}

	outlines := &cff.Outlines{
		Private: []*type1.PrivateDict{
			{
				BlueValues: []funit.Int16{
					-10, 0,
					funit.Int16(m.XHeight), funit.Int16(m.XHeight + 10),
					funit.Int16(m.CapHeight), funit.Int16(m.CapHeight + 10),
				},
				BlueScale: 0.039625,
				BlueShift: 7,
				BlueFuzz:  1,
				StdHW:     40,
				StdVW:     40,
			},
		},
		FDSelect: func(glyph.ID) int { return 0 },
	}

	sub := cmap.Format4{}
	for i, g := range req.Glyphs {
		outlines.Glyphs = append(outlines.Glyphs, cffGlyph(g))
		if g.Unicode > 0 && g.Unicode <= 0xFFFF {
			sub[uint16(g.Unicode)] = glyph.ID(i)
		}
	}
	encoded := sub.Encode(0)

	style := strings.ToLower(req.StyleName)
	bold := strings.Contains(style, "bold")
	italic := strings.Contains(style, "italic") || strings.Contains(style, "oblique")
	weight := os2.WeightNormal
	if bold {
		weight = os2.WeightBold
	}

	upm := float64(m.UnitsPerEm)
	font := &sfnt.Font{
		FamilyName:         req.FamilyName,
		Ascent:             funit.Int16(m.Ascender),
		Descent:            funit.Int16(m.Descender),
		LineGap:            0,
		CapHeight:          funit.Int16(m.CapHeight),
		XHeight:            funit.Int16(m.XHeight),
		UnderlinePosition:  funit.Float64(-m.UnitsPerEm / 10),
		UnderlineThickness: funit.Float64(m.UnitsPerEm / 20),
		Outlines:           outlines,
		Width:              os2.WidthNormal,
		Weight:             weight,
		IsRegular:          !bold && !italic,
		IsBold:             bold,
		IsItalic:           italic,
		PermUse:            os2.PermInstall,
		UnitsPerEm:         uint16(m.UnitsPerEm),
		FontMatrix:         matrix.Matrix{1 / upm, 0, 0, 1 / upm, 0, 0},
		CMapTable: cmap.Table{
			{PlatformID: 0, EncodingID: 3}: encoded,
			{PlatformID: 3, EncodingID: 1}: encoded,
		},
	}
	return font, nil
}

// cffGlyph draws each rectangle as a closed four-sided contour starting at
// its top-left corner
func cffGlyph(g Glyph) *cff.Glyph {
	width := 0.0
	var rects []tracer.Rect
	if g.Outline != nil {
		width = float64(g.Outline.AdvanceWidth)
		rects = g.Outline.Rects
	}

	out := cff.NewGlyph(g.Name, width)
	for _, r := range rects {
		out.MoveTo(r.XMin, r.YMax)
		out.LineTo(r.XMax, r.YMax)
		out.LineTo(r.XMax, r.YMin)
		out.LineTo(r.XMin, r.YMin)
		out.LineTo(r.XMin, r.YMax)
	}
	return out
}
