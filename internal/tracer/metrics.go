package tracer

// Metrics are the design-grid constants shared by every glyph in one font
type Metrics struct {
	UnitsPerEm   int `json:"unitsPerEm"`
	Ascender     int `json:"ascender"`
	Descender    int `json:"descender"`
	AdvanceWidth int `json:"advanceWidth"`
	XHeight      int `json:"xHeight"`
	CapHeight    int `json:"capHeight"`
}

// DefaultMetrics returns the fixed production metrics
func DefaultMetrics() Metrics {
	return Metrics{
		UnitsPerEm:   1000,
		Ascender:     800,
		Descender:    -200,
		AdvanceWidth: 800,
		XHeight:      500,
		CapHeight:    700,
	}
}

// EmHeight is the distance from descender to ascender
func (m Metrics) EmHeight() int {
	return m.Ascender - m.Descender
}
