package tracer

import (
	"image"

	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// Prepared is a working raster ready for tracing
type Prepared struct {
	Mask      *raster.Mask
	Threshold float64
}

// Prepare adaptively binarizes an already-rendered working raster
func Prepare(working image.Image) Prepared {
	mask, t := raster.AdaptiveBinarize(working)
	return Prepared{Mask: mask, Threshold: t}
}

// PrepareRegion renders box of src onto the working canvas and binarizes it
func PrepareRegion(src image.Image, box image.Rectangle) (Prepared, error) {
	working, _, err := raster.WorkingCanvas.Render(src, box)
	if err != nil {
		return Prepared{}, err
	}
	return Prepare(working), nil
}
