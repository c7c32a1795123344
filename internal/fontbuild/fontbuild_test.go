package fontbuild

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"seehuhn.de/go/sfnt"
	"seehuhn.de/go/sfnt/glyph"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

func testAssembler() *Assembler {
	return NewAssembler(&AssemblerConfig{
		FamilyName: "TestFamily",
		Logger:     logging.NewLoggerTo(io.Discard, "test"),
	})
}

func square(x float64) *tracer.Outline {
	return tracer.BoxOutline(800, tracer.Rect{XMin: x, YMin: 0, XMax: x + 200, YMax: 500})
}

func entry(id, label string, o *tracer.Outline) Entry {
	return Entry{EntityID: id, Label: fragments.NewLabel(label), Outline: o}
}

func glyphNames(req *Request) []string {
	var out []string
	for _, g := range req.Glyphs {
		out = append(out, g.Name)
	}
	return out
}

func TestAssembleDefaultsAndOrder(t *testing.T) {
	req, skipped, err := testAssembler().Assemble("job-1", []Entry{
		entry("1", "B", square(100)),
		entry("2", "a", square(200)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped = %+v", skipped)
	}
	want := []string{".notdef", "space", "uni0042", "uni0061"}
	if diff := cmp.Diff(want, glyphNames(req)); diff != "" {
		t.Fatalf("glyphs (-want +got):\n%s", diff)
	}
	if req.FamilyName != "TestFamily" || req.StyleName != DefaultStyleName {
		t.Errorf("names = %q %q", req.FamilyName, req.StyleName)
	}
	if req.Glyphs[1].Unicode != 32 || len(req.Glyphs[1].Outline.Rects) != 0 {
		t.Errorf("space glyph = %+v", req.Glyphs[1])
	}
	notdef, _ := req.Glyphs[0].Outline.Bounds()
	if notdef != (tracer.Rect{XMin: 0, YMin: 0, XMax: 100, YMax: 800}) {
		t.Errorf(".notdef box = %+v", notdef)
	}
	for _, g := range req.Glyphs {
		if g.Outline.AdvanceWidth != 800 {
			t.Errorf("%s advance = %d", g.Name, g.Outline.AdvanceWidth)
		}
	}
}

func TestAssembleFirstOccurrenceWins(t *testing.T) {
	first := square(100)
	req, skipped, err := testAssembler().Assemble("job-1", []Entry{
		entry("1", "x", first),
		entry("2", "x", square(300)),
		entry("3", "xy", square(400)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.RealGlyphs() != 1 {
		t.Fatalf("real glyphs = %d, want 1", req.RealGlyphs())
	}
	if req.Glyphs[2].Outline != first {
		t.Error("later duplicate replaced the first glyph")
	}
	if len(skipped) != 2 {
		t.Fatalf("skipped = %+v, want 2 entries", skipped)
	}
}

func TestAssembleSkipsUnusable(t *testing.T) {
	_, skipped, err := testAssembler().Assemble("job-1", []Entry{
		entry("1", "", square(100)),
		entry("2", "k", nil),
		entry("3", "😀", square(100)),
	})
	if errors.CodeOf(err) != errors.ErrorAssemblyFailed {
		t.Fatalf("error = %v, want assembly failed", err)
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped = %+v", skipped)
	}
}

func TestAssembleRequiresRealGlyph(t *testing.T) {
	_, _, err := testAssembler().Assemble("job-1", nil)
	if errors.CodeOf(err) != errors.ErrorAssemblyFailed {
		t.Fatalf("error = %v, want assembly failed", err)
	}
}

func TestGlyphName(t *testing.T) {
	tests := map[rune]string{
		'A':    "uni0041",
		'!':    "uni0021",
		'é':    "uni00E9",
		0x4E2D: "uni4E2D",
	}
	for r, want := range tests {
		if got := GlyphName(r); got != want {
			t.Errorf("GlyphName(%q) = %q, want %q", r, got, want)
		}
	}
}

func TestSFNTSerializerRoundTrip(t *testing.T) {
	req, _, err := testAssembler().Assemble("job-1", []Entry{
		entry("1", "A", square(100)),
		entry("2", "7", square(300)),
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := NewSFNTSerializer().Serialize(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	font, err := sfnt.Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("serialized font does not parse: %v", err)
	}

	if font.FamilyName != "TestFamily" {
		t.Errorf("family = %q", font.FamilyName)
	}
	if font.UnitsPerEm != 1000 {
		t.Errorf("units per em = %d", font.UnitsPerEm)
	}
	if font.NumGlyphs() != 4 {
		t.Fatalf("glyph count = %d, want 4", font.NumGlyphs())
	}

	sub, err := font.CMapTable.GetBest()
	if err != nil {
		t.Fatal(err)
	}
	for r, want := range map[rune]glyph.ID{' ': 1, 'A': 2, '7': 3} {
		if got := sub.Lookup(r); got != want {
			t.Errorf("cmap %q -> %d, want %d", r, got, want)
		}
	}
	if name := font.GlyphName(2); name != "uni0041" {
		t.Errorf("glyph 2 name = %q", name)
	}
}

func TestSerializeHonoursCancellation(t *testing.T) {
	req, _, err := testAssembler().Assemble("job-1", []Entry{entry("1", "A", square(100))})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSFNTSerializer().Serialize(ctx, req); err == nil {
		t.Fatal("expected context error")
	}
}
