/**
 * Preview Renderer
 *
 * Rasterizes sample text from a font build request so a build can be
 * checked without installing the font. Glyph outlines are axis-aligned
 * rectangles, so every contour is a closed four-point path.
 */

package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/adverant/nexus/glyphforge-worker/internal/fontbuild"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

const (
	DefaultText        = "AaBbCc123!@#"
	DefaultPixelsPerEm = 64
)

// Renderer draws text with the glyphs of a request
type Renderer struct {
	PixelsPerEm int
	// Padding is the blank margin around the text, in pixels
	Padding int
}

// NewRenderer returns a renderer at 64 px/em with an 8 px margin
func NewRenderer() *Renderer {
	return &Renderer{PixelsPerEm: DefaultPixelsPerEm, Padding: 8}
}

// Render draws text as black ink on white paper. Characters without a
// glyph are drawn as .notdef.
func (r *Renderer) Render(req *fontbuild.Request, text string) (*image.Gray, error) {
	m := req.Metrics
	if m.UnitsPerEm <= 0 || r.PixelsPerEm <= 0 {
		return nil, fmt.Errorf("invalid preview scale: %d px/em at %d units/em", r.PixelsPerEm, m.UnitsPerEm)
	}

	byRune := make(map[rune]*tracer.Outline, len(req.Glyphs))
	var notdef *tracer.Outline
	for _, g := range req.Glyphs {
		if g.Name == fontbuild.NotdefName {
			notdef = g.Outline
			continue
		}
		byRune[g.Unicode] = g.Outline
	}
	if notdef == nil {
		notdef = fontbuild.NotdefOutline(m)
	}

	var line []*tracer.Outline
	advance := 0
	for _, c := range text {
		o, ok := byRune[c]
		if !ok || o == nil {
			o = notdef
		}
		line = append(line, o)
		advance += o.AdvanceWidth
	}

	k := float64(r.PixelsPerEm) / float64(m.UnitsPerEm)
	pad := r.Padding
	w := int(float64(advance)*k+0.5) + 2*pad
	h := int(float64(m.EmHeight())*k+0.5) + 2*pad
	if w <= 2*pad {
		w = 2*pad + 1
	}

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Src
	penX := 0.0
	for _, o := range line {
		for _, rect := range o.Rects {
			x0 := float32(float64(pad) + (penX+rect.XMin)*k)
			x1 := float32(float64(pad) + (penX+rect.XMax)*k)
			y0 := float32(float64(pad) + (float64(m.Ascender)-rect.YMax)*k)
			y1 := float32(float64(pad) + (float64(m.Ascender)-rect.YMin)*k)
			z.MoveTo(x0, y0)
			z.LineTo(x1, y0)
			z.LineTo(x1, y1)
			z.LineTo(x0, y1)
			z.ClosePath()
		}
		penX += float64(o.AdvanceWidth)
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	out := image.NewGray(mask.Bounds())
	for i, a := range mask.Pix {
		out.Pix[i] = 0xff - a
	}
	return out, nil
}

// RenderPNG renders text and encodes it as PNG
func (r *Renderer) RenderPNG(req *fontbuild.Request, text string) ([]byte, error) {
	img, err := r.Render(req, text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
