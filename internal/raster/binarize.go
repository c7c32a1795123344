/**
 * Raster primitives for glyph extraction
 *
 * Binary masks, fixed-threshold and adaptive binarization, connected
 * component labelling and canvas rendering. Every function here is a pure
 * function of its inputs; the source image is never written to.
 */

package raster

import (
	"image"
	"image/color"
)

// Mask is a binary raster where 1 marks an ink cell
type Mask struct {
	Width  int
	Height int
	Bits   []uint8
}

// NewMask allocates an all-paper mask
func NewMask(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]uint8, width*height),
	}
}

// At reports whether (x, y) is ink. Out-of-range cells are paper.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x] == 1
}

// Set marks (x, y) as ink or paper
func (m *Mask) Set(x, y int, ink bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	if ink {
		m.Bits[y*m.Width+x] = 1
	} else {
		m.Bits[y*m.Width+x] = 0
	}
}

// InkCount returns the number of ink cells
func (m *Mask) InkCount() int {
	n := 0
	for _, b := range m.Bits {
		n += int(b)
	}
	return n
}

// Luma returns 0.299R + 0.587G + 0.114B on the 0..255 scale
func Luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// Brightness returns the channel mean (R+G+B)/3 on the 0..255 scale
func Brightness(r, g, b uint8) float64 {
	return (float64(r) + float64(g) + float64(b)) / 3
}

// Binarize converts region of img into a mask: a cell is ink iff its luma is
// below threshold. The region is clipped to the image bounds; the mask is
// indexed from the region's top-left corner.
func Binarize(img image.Image, region image.Rectangle, threshold float64) *Mask {
	region = region.Intersect(img.Bounds())
	m := NewMask(region.Dx(), region.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, b := RGB8(img, region.Min.X+x, region.Min.Y+y)
			if Luma(r, g, b) < threshold {
				m.Bits[y*m.Width+x] = 1
			}
		}
	}
	return m
}

// AdaptiveThreshold returns clamp(mean brightness × 0.85, 160, 220) over img
func AdaptiveThreshold(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 160
	}
	var total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl := RGB8(img, x, y)
			total += Brightness(r, g, bl)
		}
	}
	mean := total / float64(b.Dx()*b.Dy())
	t := mean * 0.85
	if t < 160 {
		t = 160
	}
	if t > 220 {
		t = 220
	}
	return t
}

// AdaptiveBinarize thresholds the whole image at AdaptiveThreshold using
// channel-mean brightness. It returns the mask and the threshold used.
func AdaptiveBinarize(img image.Image) (*Mask, float64) {
	t := AdaptiveThreshold(img)
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, bl := RGB8(img, b.Min.X+x, b.Min.Y+y)
			if Brightness(r, g, bl) < t {
				m.Bits[y*m.Width+x] = 1
			}
		}
	}
	return m, t
}

// RGB8 returns the non-premultiplied 8-bit colour channels at (x, y)
func RGB8(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch src := img.(type) {
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	case *image.RGBA:
		i := src.PixOffset(x, y)
		a := src.Pix[i+3]
		if a == 0xff {
			return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		}
	case *image.Gray:
		v := src.Pix[src.PixOffset(x, y)]
		return v, v, v
	}
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.G, c.B
}
