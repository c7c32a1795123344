package tracer

import (
	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// FeatureGrid is the side of the coverage grid; vectors have FeatureGrid² dims
const FeatureGrid = 16

// FeatureDims is the length of a feature vector
const FeatureDims = FeatureGrid * FeatureGrid

// Features summarises a glyph mask as the ink coverage of each cell of a
// 16x16 grid laid over its ink bounding box. Vectors of the same glyph shape
// at different sizes or positions point the same way, so they compare well
// under cosine similarity.
func Features(mask *raster.Mask) ([]float32, error) {
	minX, minY, maxX, maxY, ok := inkBounds(mask)
	if !ok {
		return nil, errors.NewDegenerateGeometryError("glyph raster without ink", mask.Width, mask.Height)
	}
	w := maxX - minX + 1
	h := maxY - minY + 1

	var ink, total [FeatureDims]float32
	for y := minY; y <= maxY; y++ {
		gy := (y - minY) * FeatureGrid / h
		for x := minX; x <= maxX; x++ {
			gx := (x - minX) * FeatureGrid / w
			cell := gy*FeatureGrid + gx
			total[cell]++
			if mask.At(x, y) {
				ink[cell]++
			}
		}
	}

	vec := make([]float32, FeatureDims)
	for i := range vec {
		if total[i] > 0 {
			vec[i] = ink[i] / total[i]
		}
	}
	return vec, nil
}
