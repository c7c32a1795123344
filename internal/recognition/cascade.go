/**
 * Recognition Cascade
 *
 * Resolves one fragment to a single character:
 * 1. Broad whitelist, once per mode; every returned character is a vote
 * 2. Plurality vote, earliest-seen wins ties
 * 3. Character at the same index of the whole-line text
 * 4. Digits-only, then symbols-only, single character mode
 *
 * Engine failures and timeouts are non-votes. Invocations are sequential.
 */

package recognition

import (
	"context"
	"image"
	"time"

	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// Source records which step of the cascade produced a label
type Source string

const (
	SourceNone     Source = "none"
	SourceVote     Source = "vote"
	SourceLineText Source = "line_text"
	SourceDigits   Source = "digits"
	SourceSymbols  Source = "symbols"
)

// DefaultModes is the fixed invocation order for the voting step
var DefaultModes = []Mode{ModeLine, ModeWord, ModeChar}

// DefaultCallTimeout bounds a single engine invocation
const DefaultCallTimeout = 10 * time.Second

// Resolution is the cascade outcome for one fragment
type Resolution struct {
	// Label is empty when unresolved
	Label    string
	Source   Source
	Votes    []rune
	Calls    int
	Failures int
}

// Resolved reports whether a label was found
func (r Resolution) Resolved() bool {
	return r.Label != ""
}

// CascadeConfig holds cascade configuration
type CascadeConfig struct {
	Modes       []Mode
	CallTimeout time.Duration
	Logger      *logging.Logger
}

// Cascade runs the fallback recognition sequence against an Engine
type Cascade struct {
	engine      Engine
	modes       []Mode
	callTimeout time.Duration
	logger      *logging.Logger
}

// NewCascade creates a cascade over engine
func NewCascade(engine Engine, cfg *CascadeConfig) *Cascade {
	if cfg == nil {
		cfg = &CascadeConfig{}
	}
	c := &Cascade{
		engine:      engine,
		modes:       cfg.Modes,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger,
	}
	if len(c.modes) == 0 {
		c.modes = DefaultModes
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	if c.logger == nil {
		c.logger = logging.NewLogger("RecognitionCascade")
	}
	return c
}

// ResolveRegion renders box of src onto the recognition canvas and resolves
// it. lineText is the whitespace-free text of the enclosing line and index
// the fragment's position within that line.
func (c *Cascade) ResolveRegion(ctx context.Context, src image.Image, box image.Rectangle, lineText []rune, index int) (Resolution, error) {
	canvas, _, err := raster.RecognitionCanvas.Render(src, box)
	if err != nil {
		return Resolution{Source: SourceNone}, err
	}
	return c.Resolve(ctx, canvas, lineText, index), nil
}

// Resolve runs the cascade on an already-rendered canvas
func (c *Cascade) Resolve(ctx context.Context, canvas image.Image, lineText []rune, index int) Resolution {
	res := Resolution{Source: SourceNone}

	for _, mode := range c.modes {
		if ctx.Err() != nil {
			return res
		}
		text, ok := c.call(ctx, &res, canvas, BroadWhitelist, mode)
		if !ok {
			continue
		}
		res.Votes = append(res.Votes, BroadWhitelist.Filter(text)...)
	}

	if r, ok := plurality(res.Votes); ok {
		res.Label = string(r)
		res.Source = SourceVote
	}

	if unresolved(res.Label) && index >= 0 && index < len(lineText) {
		res.Label = string(lineText[index])
		res.Source = SourceLineText
	}

	for _, wl := range []Whitelist{DigitWhitelist, SymbolWhitelist} {
		if !unresolved(res.Label) || ctx.Err() != nil {
			break
		}
		text, ok := c.call(ctx, &res, canvas, wl, ModeChar)
		if !ok {
			continue
		}
		if chars := wl.Filter(text); len(chars) > 0 {
			res.Label = string(chars[0])
			if wl.Name == DigitWhitelist.Name {
				res.Source = SourceDigits
			} else {
				res.Source = SourceSymbols
			}
		}
	}

	// A voted "?" no fallback confirmed means the engine could not read it
	if res.Label == "" || (res.Label == Unknown && res.Source == SourceVote) {
		res.Label = ""
		res.Source = SourceNone
	}
	return res
}

// call performs one bounded engine invocation. Failures are logged and
// reported as !ok, never returned.
func (c *Cascade) call(ctx context.Context, res *Resolution, canvas image.Image, wl Whitelist, mode Mode) (string, bool) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	res.Calls++
	text, err := c.engine.Recognize(callCtx, canvas, wl.Chars, mode)
	if err != nil {
		res.Failures++
		c.logger.Debug("recognizer call failed, counted as no vote",
			"whitelist", wl.Name, "mode", mode, "error", err)
		return "", false
	}
	return text, true
}

func unresolved(label string) bool {
	return label == "" || label == Unknown
}

// plurality returns the most frequent rune; ties go to the earliest seen
func plurality(votes []rune) (rune, bool) {
	if len(votes) == 0 {
		return 0, false
	}
	counts := make(map[rune]int, len(votes))
	order := make([]rune, 0, len(votes))
	for _, v := range votes {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best, true
}
