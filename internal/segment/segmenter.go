/**
 * Line Segmenter
 *
 * Splits one recognized text line into candidate character boxes by trying
 * several binarization thresholds and keeping the one that yields the most
 * plausible components. Touching glyphs and ligatures can be mis-segmented;
 * that is a known limitation of the "most components wins" rule.
 */

package segment

import (
	"image"
	"sort"

	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// DefaultThresholds are tried in order; earlier entries win ties
var DefaultThresholds = []float64{150, 180, 210}

// DefaultMinAreaFraction drops components smaller than 1% of the line crop
const DefaultMinAreaFraction = 0.01

// Segmenter configures line segmentation
type Segmenter struct {
	Thresholds      []float64
	MinAreaFraction float64
}

// Result is the outcome for one line
type Result struct {
	Line      image.Rectangle
	Threshold float64
	// Boxes are in whole-image coordinates, sorted by Min.X
	Boxes []image.Rectangle
	// Candidates is the surviving component count per tried threshold
	Candidates map[float64]int
}

// NewSegmenter returns a segmenter with the fixed production settings
func NewSegmenter() *Segmenter {
	return &Segmenter{
		Thresholds:      DefaultThresholds,
		MinAreaFraction: DefaultMinAreaFraction,
	}
}

// Segment splits line (in img coordinates) into character boxes
func (s *Segmenter) Segment(img image.Image, line image.Rectangle) Result {
	line = line.Intersect(img.Bounds())
	res := Result{
		Line:       line,
		Candidates: make(map[float64]int, len(s.Thresholds)),
	}
	if line.Empty() {
		return res
	}

	minArea := float64(line.Dx()*line.Dy()) * s.MinAreaFraction

	var best []raster.Component
	chosen := false
	for _, t := range s.Thresholds {
		mask := raster.Binarize(img, line, t)
		var kept []raster.Component
		for _, c := range raster.Label(mask) {
			if float64(c.Area) < minArea {
				continue
			}
			kept = append(kept, c)
		}
		res.Candidates[t] = len(kept)

		if !chosen || len(kept) > len(best) {
			best = kept
			res.Threshold = t
			chosen = true
		}
	}

	sort.SliceStable(best, func(i, j int) bool {
		return best[i].Box.Min.X < best[j].Box.Min.X
	})

	res.Boxes = make([]image.Rectangle, 0, len(best))
	for _, c := range best {
		res.Boxes = append(res.Boxes, c.Box.Add(line.Min))
	}
	return res
}
