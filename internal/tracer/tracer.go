/**
 * Glyph Tracer
 *
 * Converts a binarized working raster into an outline made of axis-aligned
 * rectangles, one per horizontal ink run of at least two pixels, one scaled
 * pixel tall. The ink bounding box is scaled to 80% of the em box (height)
 * or advance width (width), whichever is tighter, and centred in both axes.
 */

package tracer

import (
	"math"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// MinRunLength suppresses single-pixel noise
const MinRunLength = 2

// Coverage is the share of the em box or advance the ink box may occupy
const Coverage = 0.8

// Rect is one axis-aligned contour in font design units (y up)
type Rect struct {
	XMin float64 `json:"xMin"`
	YMin float64 `json:"yMin"`
	XMax float64 `json:"xMax"`
	YMax float64 `json:"yMax"`
}

// Outline is the traced vector form of one glyph
type Outline struct {
	AdvanceWidth int    `json:"advanceWidth"`
	Rects        []Rect `json:"rects"`
}

// Bounds is the union of all rectangles; ok is false for an empty outline
func (o *Outline) Bounds() (r Rect, ok bool) {
	for i, c := range o.Rects {
		if i == 0 {
			r = c
			continue
		}
		r.XMin = math.Min(r.XMin, c.XMin)
		r.YMin = math.Min(r.YMin, c.YMin)
		r.XMax = math.Max(r.XMax, c.XMax)
		r.YMax = math.Max(r.YMax, c.YMax)
	}
	return r, len(o.Rects) > 0
}

// BoxOutline is a single rectangle outline, used for .notdef
func BoxOutline(advance int, r Rect) *Outline {
	return &Outline{AdvanceWidth: advance, Rects: []Rect{r}}
}

// Trace builds the outline for mask using metrics m. A mask without ink is
// rejected as degenerate geometry.
func Trace(mask *raster.Mask, m Metrics) (*Outline, error) {
	minX, minY, maxX, maxY, ok := inkBounds(mask)
	if !ok {
		return nil, errors.NewDegenerateGeometryError("glyph raster without ink", mask.Width, mask.Height)
	}

	width := float64(maxX - minX + 1)
	height := float64(maxY - minY + 1)
	scale := math.Min(
		Coverage*float64(m.EmHeight())/height,
		Coverage*float64(m.AdvanceWidth)/width,
	)
	xOffset := (float64(m.AdvanceWidth) - width*scale) / 2
	yOffset := (float64(m.EmHeight()) - height*scale) / 2
	asc := float64(m.Ascender)

	out := &Outline{AdvanceWidth: m.AdvanceWidth}
	for y := minY; y <= maxY; y++ {
		top := asc - (float64(y-minY)*scale + yOffset)
		emit := func(start, end int) {
			if end-start < MinRunLength {
				return
			}
			out.Rects = append(out.Rects, Rect{
				XMin: float64(start-minX)*scale + xOffset,
				XMax: float64(end-minX)*scale + xOffset,
				YMin: top - scale,
				YMax: top,
			})
		}

		start := -1
		for x := minX; x <= maxX; x++ {
			ink := mask.At(x, y)
			switch {
			case ink && start < 0:
				start = x
			case !ink && start >= 0:
				emit(start, x)
				start = -1
			}
		}
		if start >= 0 {
			emit(start, maxX+1)
		}
	}
	return out, nil
}

func inkBounds(mask *raster.Mask) (minX, minY, maxX, maxY int, ok bool) {
	minX, minY = mask.Width, mask.Height
	maxX, maxY = -1, -1
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if !mask.At(x, y) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	return minX, minY, maxX, maxY, maxX >= 0
}
