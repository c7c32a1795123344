package segment

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fill(img *image.RGBA, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{v, v, v, 0xff})
		}
	}
}

func page(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(img, img.Bounds(), 0xff)
	return img
}

func TestSegmentPicksThresholdWithMostComponents(t *testing.T) {
	img := page(300, 100)
	line := image.Rect(20, 10, 220, 50) // 200x40, min area 80

	// dark glyphs, written out of order to exercise sorting
	fill(img, image.Rect(150, 15, 165, 45), 40)
	fill(img, image.Rect(30, 15, 45, 45), 40)
	fill(img, image.Rect(90, 15, 105, 45), 40)
	// faint strokes only visible at the highest threshold
	fill(img, image.Rect(60, 15, 75, 45), 195)
	fill(img, image.Rect(120, 15, 135, 45), 195)
	// specks below 1% of the crop
	fill(img, image.Rect(200, 20, 203, 23), 0)

	res := NewSegmenter().Segment(img, line)

	if res.Threshold != 210 {
		t.Fatalf("threshold = %v, want 210 (candidates %v)", res.Threshold, res.Candidates)
	}
	wantCandidates := map[float64]int{150: 3, 180: 3, 210: 5}
	if diff := cmp.Diff(wantCandidates, res.Candidates); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}

	want := []image.Rectangle{
		image.Rect(30, 15, 45, 45),
		image.Rect(60, 15, 75, 45),
		image.Rect(90, 15, 105, 45),
		image.Rect(120, 15, 135, 45),
		image.Rect(150, 15, 165, 45),
	}
	if diff := cmp.Diff(want, res.Boxes); diff != "" {
		t.Fatalf("boxes (-want +got):\n%s", diff)
	}
}

func TestSegmentTieKeepsFirstThreshold(t *testing.T) {
	img := page(100, 40)
	fill(img, image.Rect(10, 5, 20, 35), 0)
	fill(img, image.Rect(40, 5, 50, 35), 0)

	res := NewSegmenter().Segment(img, img.Bounds())
	if res.Threshold != 150 {
		t.Fatalf("threshold = %v, want first tried 150", res.Threshold)
	}
	if len(res.Boxes) != 2 {
		t.Fatalf("boxes = %v", res.Boxes)
	}
}

func TestSegmentTranslatesToImageCoordinates(t *testing.T) {
	img := page(400, 200)
	fill(img, image.Rect(310, 120, 330, 160), 0)

	res := NewSegmenter().Segment(img, image.Rect(300, 100, 380, 180))
	want := []image.Rectangle{image.Rect(310, 120, 330, 160)}
	if diff := cmp.Diff(want, res.Boxes); diff != "" {
		t.Fatalf("boxes (-want +got):\n%s", diff)
	}
}

func TestSegmentAreaAtFloorSurvives(t *testing.T) {
	img := page(100, 10) // crop area 1000, min area 10
	fill(img, image.Rect(5, 2, 10, 4), 0)  // area 10, kept
	fill(img, image.Rect(50, 2, 53, 5), 0) // area 9, dropped

	res := NewSegmenter().Segment(img, img.Bounds())
	want := []image.Rectangle{image.Rect(5, 2, 10, 4)}
	if diff := cmp.Diff(want, res.Boxes); diff != "" {
		t.Fatalf("boxes (-want +got):\n%s", diff)
	}
}

func TestSegmentEmptyLine(t *testing.T) {
	img := page(10, 10)
	res := NewSegmenter().Segment(img, image.Rect(50, 50, 60, 60))
	if len(res.Boxes) != 0 {
		t.Fatalf("boxes = %v", res.Boxes)
	}
}
