package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Canvas describes a fixed-size white square that a source region is scaled
// into, uniformly and centred.
type Canvas struct {
	Size int
	// Fill is the fraction of Size the longer side of the region occupies
	Fill         float64
	Interpolator draw.Interpolator
	// Contrast and Brightness are applied to the source pixels before
	// scaling; zero means unchanged.
	Contrast   float64
	Brightness float64
}

var (
	// RecognitionCanvas is what the recognizer sees for one fragment
	RecognitionCanvas = Canvas{
		Size:         64,
		Fill:         0.9,
		Interpolator: draw.ApproxBiLinear,
	}

	// WorkingCanvas is the tracing raster for one fragment or composed character
	WorkingCanvas = Canvas{
		Size:         300,
		Fill:         0.9,
		Interpolator: draw.CatmullRom,
		Contrast:     1.6,
		Brightness:   1.05,
	}
)

// Placement records where a region landed on a canvas
type Placement struct {
	Scale float64
	Dst   image.Rectangle
}

// Render crops region out of src and draws it onto a new white canvas.
// A region with no area after clipping to src is rejected.
func (c Canvas) Render(src image.Image, region image.Rectangle) (*image.RGBA, Placement, error) {
	clipped := region.Intersect(src.Bounds())
	w, h := clipped.Dx(), clipped.Dy()
	if w <= 0 || h <= 0 {
		return nil, Placement{}, fmt.Errorf("cannot render empty region %v", region)
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	target := float64(c.Size) * c.Fill
	scale := math.Min(target/float64(w), target/float64(h))
	sw, sh := float64(w)*scale, float64(h)*scale
	x0 := (float64(c.Size) - sw) / 2
	y0 := (float64(c.Size) - sh) / 2
	dr := image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x0+sw)), int(math.Round(y0+sh)),
	)
	if dr.Empty() {
		dr.Max = dr.Min.Add(image.Pt(1, 1))
	}

	var source image.Image = src
	sr := clipped
	if c.Contrast != 0 || c.Brightness != 0 {
		source = Adjust(Crop(src, clipped), c.Contrast, c.Brightness)
		sr = source.Bounds()
	}

	interp := c.Interpolator
	if interp == nil {
		interp = draw.ApproxBiLinear
	}
	interp.Scale(dst, dr, source, sr, draw.Over, nil)

	return dst, Placement{Scale: scale, Dst: dr}, nil
}

// Crop copies region of src into a new RGBA image anchored at the origin
func Crop(src image.Image, region image.Rectangle) *image.RGBA {
	region = region.Intersect(src.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(dst, dst.Bounds(), src, region.Min, draw.Src)
	return dst
}

// Adjust applies contrast then brightness in place, per channel, clamped to
// 0..255. Alpha is untouched.
func Adjust(img *image.RGBA, contrast, brightness float64) *image.RGBA {
	if contrast == 0 {
		contrast = 1
	}
	if brightness == 0 {
		brightness = 1
	}
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		f := (float64(v)/255-0.5)*contrast + 0.5
		f = clamp01(f) * brightness
		lut[v] = uint8(math.Round(clamp01(f) * 255))
	}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
	return img
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// MaskImage renders a mask as black ink on white paper
func MaskImage(m *Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, b := range m.Bits {
		if b == 1 {
			img.Pix[i] = 0
		} else {
			img.Pix[i] = 0xff
		}
	}
	return img
}

// Flatten composites img over white paper into an opaque RGBA anchored at
// the origin. Uploaded photos are flattened once so transparent pixels read
// as paper everywhere downstream.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
