package tracer

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

func rectRaster(w, h int, ink image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{0xff, 0xff, 0xff, 0xff}
			if image.Pt(x, y).In(ink) {
				c = color.RGBA{0, 0, 0, 0xff}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestTraceRectangleRoundTrip(t *testing.T) {
	img := rectRaster(100, 100, image.Rect(30, 20, 70, 80))
	p := Prepare(img)
	m := DefaultMetrics()

	out, err := Trace(p.Mask, m)
	if err != nil {
		t.Fatal(err)
	}
	if out.AdvanceWidth != 800 {
		t.Errorf("advance = %d, want 800", out.AdvanceWidth)
	}
	if len(out.Rects) != 60 {
		t.Fatalf("rects = %d, want one per row (60)", len(out.Rects))
	}

	b, ok := out.Bounds()
	if !ok {
		t.Fatal("empty bounds")
	}
	// scale = min(0.8*1000/60, 0.8*800/40) = 13.333, ink box 533.33 x 800
	want := Rect{XMin: 400 - 800.0/3, YMin: -100, XMax: 400 + 800.0/3, YMax: 700}
	if !near(b.XMin, want.XMin) || !near(b.XMax, want.XMax) || !near(b.YMin, want.YMin) || !near(b.YMax, want.YMax) {
		t.Fatalf("bounds = %+v, want %+v", b, want)
	}

	// centred in the advance and between descender and ascender
	if cx := (b.XMin + b.XMax) / 2; !near(cx, float64(m.AdvanceWidth)/2) {
		t.Errorf("horizontal centre = %v", cx)
	}
	if cy := (b.YMin + b.YMax) / 2; !near(cy, float64(m.Ascender+m.Descender)/2) {
		t.Errorf("vertical centre = %v", cy)
	}

	for i, r := range out.Rects {
		if !near(r.YMax-r.YMin, 40.0/3) {
			t.Fatalf("rect %d height = %v, want one scaled pixel", i, r.YMax-r.YMin)
		}
	}
}

func TestTraceIdempotent(t *testing.T) {
	img := rectRaster(300, 300, image.Rect(40, 60, 200, 250))
	p := Prepare(img)

	first, err := Trace(p.Mask, DefaultMetrics())
	if err != nil {
		t.Fatal(err)
	}
	second, err := Trace(p.Mask, DefaultMetrics())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("traces differ (-first +second):\n%s", diff)
	}
}

func TestTraceSkipsSinglePixelRuns(t *testing.T) {
	mask := raster.NewMask(10, 3)
	mask.Set(0, 0, true) // isolated, still part of the ink box
	for x := 2; x < 6; x++ {
		mask.Set(x, 1, true)
	}
	mask.Set(8, 2, true)

	out, err := Trace(mask, DefaultMetrics())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Rects) != 1 {
		t.Fatalf("rects = %+v, want only the 4-pixel run", out.Rects)
	}

	// ink box is 9 wide x 3 tall, so width limits: scale = 640/9
	scale := 640.0 / 9
	xOffset := (800 - 9*scale) / 2
	r := out.Rects[0]
	if !near(r.XMin, 2*scale+xOffset) || !near(r.XMax, 6*scale+xOffset) {
		t.Fatalf("run spans %v..%v", r.XMin, r.XMax)
	}
}

func TestTraceSplitsRowRuns(t *testing.T) {
	mask := raster.NewMask(10, 1)
	for _, x := range []int{0, 1, 2, 5, 6, 8, 9} {
		mask.Set(x, 0, true)
	}
	out, err := Trace(mask, DefaultMetrics())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Rects) != 3 {
		t.Fatalf("rects = %d, want 3", len(out.Rects))
	}
}

func TestTraceRejectsBlankRaster(t *testing.T) {
	_, err := Trace(raster.NewMask(300, 300), DefaultMetrics())
	if errors.CodeOf(err) != errors.ErrorDegenerateGeometry {
		t.Fatalf("error = %v, want degenerate geometry", err)
	}
}

func TestPrepareRegionUsesWorkingCanvas(t *testing.T) {
	src := rectRaster(200, 200, image.Rect(50, 50, 80, 110))
	p, err := PrepareRegion(src, image.Rect(50, 50, 80, 110))
	if err != nil {
		t.Fatal(err)
	}
	if p.Mask.Width != 300 || p.Mask.Height != 300 {
		t.Fatalf("mask = %dx%d, want 300x300", p.Mask.Width, p.Mask.Height)
	}
	if p.Threshold < 160 || p.Threshold > 220 {
		t.Fatalf("threshold %v outside clamp", p.Threshold)
	}
	if p.Mask.InkCount() == 0 {
		t.Fatal("no ink after preparation")
	}
}

func lShape(size int) *raster.Mask {
	m := raster.NewMask(size+4, size+4)
	bar := size / 4
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x < bar || y >= size-bar {
				m.Set(x+2, y+2, true)
			}
		}
	}
	return m
}

func TestFeaturesScaleInvariant(t *testing.T) {
	small, err := Features(lShape(16))
	if err != nil {
		t.Fatal(err)
	}
	large, err := Features(lShape(64))
	if err != nil {
		t.Fatal(err)
	}
	if len(small) != FeatureDims {
		t.Fatalf("dims = %d, want %d", len(small), FeatureDims)
	}
	if diff := cmp.Diff(small, large); diff != "" {
		t.Fatalf("features differ with scale (-small +large):\n%s", diff)
	}
}

func TestFeaturesRejectBlank(t *testing.T) {
	if _, err := Features(raster.NewMask(16, 16)); err == nil {
		t.Fatal("expected error for blank mask")
	}
}
