package fragments

import (
	"strings"
	"unicode"
)

// DefaultSpecialLabels are glyphs commonly split into several strokes by
// segmentation. When one side of a composition carries one of them, that
// label wins outright.
const DefaultSpecialLabels = "?!ij"

// Label is the character assigned to an entity. It normally names one
// logical character; a composition of two unrelated labels yields a label
// of arity 2 or more, which callers can detect instead of guessing from
// string length.
type Label struct {
	chars []rune
}

// NewLabel builds a label from s with whitespace removed
func NewLabel(s string) Label {
	var chars []rune
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		chars = append(chars, r)
	}
	return Label{chars: chars}
}

// Empty reports an unresolved label
func (l Label) Empty() bool {
	return len(l.chars) == 0
}

// Arity is the number of characters the label names
func (l Label) Arity() int {
	return len(l.chars)
}

// Single reports whether the label names exactly one character
func (l Label) Single() bool {
	return len(l.chars) == 1
}

// First returns the leading character, used as the glyph's code point
func (l Label) First() (rune, bool) {
	if len(l.chars) == 0 {
		return 0, false
	}
	return l.chars[0], true
}

// Contains reports whether other occurs inside l
func (l Label) Contains(other Label) bool {
	return strings.Contains(l.String(), other.String())
}

// Concat appends other to l
func (l Label) Concat(other Label) Label {
	chars := make([]rune, 0, len(l.chars)+len(other.chars))
	chars = append(chars, l.chars...)
	chars = append(chars, other.chars...)
	return Label{chars: chars}
}

func (l Label) String() string {
	return string(l.chars)
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(text []byte) error {
	*l = NewLabel(string(text))
	return nil
}

// SpecialSet is the configurable allow-list consulted by composition
type SpecialSet struct {
	chars string
}

// NewSpecialSet builds an allow-list from every character of chars
func NewSpecialSet(chars string) SpecialSet {
	return SpecialSet{chars: chars}
}

// Has reports whether l is a single character on the allow-list
func (s SpecialSet) Has(l Label) bool {
	r, ok := l.First()
	return ok && l.Single() && strings.ContainsRune(s.chars, r)
}

// MergeLabels decides the label of a composition of a (the target) and b.
// A special label on the target wins, then one on b; otherwise the labels
// are joined in left-to-right order of their boxes. When the target is
// already composed, b is not appended again if the target contains it.
func MergeLabels(special SpecialSet, a Label, aComposed bool, aX int, b Label, bX int) Label {
	switch {
	case special.Has(a):
		return a
	case special.Has(b):
		return b
	case b.Empty() || (aComposed && a.Contains(b)):
		return a
	case a.Empty():
		return b
	case bX < aX:
		return b.Concat(a)
	default:
		return a.Concat(b)
	}
}
