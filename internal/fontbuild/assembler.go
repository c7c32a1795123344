/**
 * Font Build Request Assembler
 *
 * Collects the fixed .notdef and space glyphs plus one traced glyph per
 * distinct code point, first occurrence wins, and hands the result to a
 * Serializer. Assembly never touches the fragment store.
 */

package fontbuild

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

const (
	DefaultFamilyName = "CustomFont"
	DefaultStyleName  = "Regular"

	NotdefName = ".notdef"
	SpaceName  = "space"

	// notdefWidth is the width of the .notdef placeholder box
	notdefWidth = 100
)

// Glyph is one entry of a build request
type Glyph struct {
	Name string
	// Unicode is the mapped code point; zero for .notdef
	Unicode rune
	Outline *tracer.Outline
}

// Request is everything a serializer needs to produce a font
type Request struct {
	FamilyName string
	StyleName  string
	Metrics    tracer.Metrics
	Glyphs     []Glyph
}

// RealGlyphs counts glyphs beyond .notdef and space
func (r *Request) RealGlyphs() int {
	n := 0
	for _, g := range r.Glyphs {
		if g.Name != NotdefName && g.Name != SpaceName {
			n++
		}
	}
	return n
}

// Serializer packages a request into binary font bytes
type Serializer interface {
	Serialize(ctx context.Context, req *Request) ([]byte, error)
}

// Entry is a traced glyph candidate in store order
type Entry struct {
	EntityID string
	Label    fragments.Label
	Outline  *tracer.Outline
}

// Skipped records an entry that did not make it into the request
type Skipped struct {
	EntityID string
	Label    string
	Reason   string
}

// Assembler builds requests for one family
type Assembler struct {
	familyName string
	styleName  string
	metrics    tracer.Metrics
	logger     *logging.Logger
}

// AssemblerConfig holds assembler configuration
type AssemblerConfig struct {
	FamilyName string
	StyleName  string
	Metrics    *tracer.Metrics
	Logger     *logging.Logger
}

// NewAssembler creates an assembler, filling defaults
func NewAssembler(cfg *AssemblerConfig) *Assembler {
	if cfg == nil {
		cfg = &AssemblerConfig{}
	}
	a := &Assembler{
		familyName: cfg.FamilyName,
		styleName:  cfg.StyleName,
		metrics:    tracer.DefaultMetrics(),
		logger:     cfg.Logger,
	}
	if a.familyName == "" {
		a.familyName = DefaultFamilyName
	}
	if a.styleName == "" {
		a.styleName = DefaultStyleName
	}
	if cfg.Metrics != nil {
		a.metrics = *cfg.Metrics
	}
	if a.logger == nil {
		a.logger = logging.NewLogger("FontAssembler")
	}
	return a
}

// Assemble builds a request from entries. It fails with ASSEMBLY_FAILED when
// no entry yields a real glyph.
func (a *Assembler) Assemble(jobID string, entries []Entry) (*Request, []Skipped, error) {
	m := a.metrics
	req := &Request{
		FamilyName: a.familyName,
		StyleName:  a.styleName,
		Metrics:    m,
		Glyphs: []Glyph{
			{
				Name:    NotdefName,
				Outline: NotdefOutline(m),
			},
			{
				Name:    SpaceName,
				Unicode: ' ',
				Outline: &tracer.Outline{AdvanceWidth: m.AdvanceWidth},
			},
		},
	}

	var skipped []Skipped
	seen := map[rune]string{' ': SpaceName}
	for _, e := range entries {
		skip := func(reason string) {
			skipped = append(skipped, Skipped{EntityID: e.EntityID, Label: e.Label.String(), Reason: reason})
		}

		r, ok := e.Label.First()
		switch {
		case !ok:
			skip("no label")
			continue
		case e.Outline == nil:
			skip("no outline")
			continue
		case r > 0xFFFF:
			skip("code point outside the basic multilingual plane")
			continue
		}
		if prev, dup := seen[r]; dup {
			skip("duplicate of " + prev)
			continue
		}
		if !e.Label.Single() {
			a.logger.Warn("multi-character label mapped to its first character",
				"job", jobID, "label", e.Label.String())
		}

		name := GlyphName(r)
		seen[r] = name
		req.Glyphs = append(req.Glyphs, Glyph{
			Name:    name,
			Unicode: r,
			Outline: e.Outline,
		})
	}

	if req.RealGlyphs() == 0 {
		return nil, skipped, errors.NewAssemblyFailedError(jobID,
			fmt.Sprintf("no character glyphs to build (%d candidates skipped)", len(skipped)))
	}
	return req, skipped, nil
}

// GlyphName is the uniXXXX name for r
func GlyphName(r rune) string {
	return fmt.Sprintf("uni%04X", r)
}

// NotdefOutline is the placeholder box for .notdef
func NotdefOutline(m tracer.Metrics) *tracer.Outline {
	return tracer.BoxOutline(m.AdvanceWidth, tracer.Rect{
		XMin: 0,
		YMin: 0,
		XMax: notdefWidth,
		YMax: float64(m.Ascender),
	})
}
