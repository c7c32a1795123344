/**
 * Recognition Types - contract with the text-recognition engine
 *
 * The engine is an external capability. The cascade only relies on the
 * Engine interface, so Tesseract can be swapped or faked in tests.
 */

package recognition

import (
	"context"
	"image"
	"strings"
	"unicode"
)

// Mode selects how the engine segments the supplied raster
type Mode int

const (
	ModeLine Mode = iota
	ModeWord
	ModeChar
)

func (m Mode) String() string {
	switch m {
	case ModeLine:
		return "line"
	case ModeWord:
		return "word"
	case ModeChar:
		return "char"
	}
	return "unknown"
}

// Unknown is the engine's "could not read this" sentinel
const Unknown = "?"

// Whitelist constrains the characters the engine may return
type Whitelist struct {
	Name  string
	Chars string
}

var (
	BroadWhitelist = Whitelist{
		Name:  "broad",
		Chars: "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+[]{};:'\",.<>/?\\|~`",
	}
	DigitWhitelist = Whitelist{
		Name:  "digits",
		Chars: "0123456789",
	}
	SymbolWhitelist = Whitelist{
		Name:  "symbols",
		Chars: "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|~`",
	}
)

// Contains reports whether r is allowed by the whitelist
func (w Whitelist) Contains(r rune) bool {
	return strings.ContainsRune(w.Chars, r)
}

// Filter strips whitespace and anything outside the whitelist
func (w Whitelist) Filter(text string) []rune {
	var out []rune
	for _, r := range text {
		if unicode.IsSpace(r) || !w.Contains(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// TextRegion is a recognized line or word with its box in page coordinates
type TextRegion struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
}

// Page is a whole-image recognition result
type Page struct {
	Text  string
	Lines []TextRegion
	Words []TextRegion
}

// Engine is the external recognizer
type Engine interface {
	// Recognize reads img constrained to whitelist (empty means none)
	Recognize(ctx context.Context, img image.Image, whitelist string, mode Mode) (string, error)
	// RecognizePage reads a whole image and reports line and word regions
	RecognizePage(ctx context.Context, img image.Image) (*Page, error)
}

// StripSpace removes all whitespace from s
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
