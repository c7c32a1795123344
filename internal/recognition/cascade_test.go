package recognition

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
)

type call struct {
	Whitelist string
	Mode      Mode
}

type reply struct {
	text  string
	err   error
	block bool
}

// fakeEngine answers from a script keyed by whitelist and mode
type fakeEngine struct {
	script map[call]reply
	calls  []call
}

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image, whitelist string, mode Mode) (string, error) {
	c := call{Whitelist: whitelist, Mode: mode}
	f.calls = append(f.calls, c)
	r, ok := f.script[c]
	if !ok {
		return "", nil
	}
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (f *fakeEngine) RecognizePage(ctx context.Context, img image.Image) (*Page, error) {
	return &Page{}, nil
}

func newTestCascade(e Engine) *Cascade {
	return NewCascade(e, &CascadeConfig{
		CallTimeout: 20 * time.Millisecond,
		Logger:      logging.NewLoggerTo(io.Discard, "test"),
	})
}

var blank = image.NewRGBA(image.Rect(0, 0, 64, 64))

func broad(m Mode) call { return call{Whitelist: BroadWhitelist.Chars, Mode: m} }

func TestResolvePluralityVote(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeLine): {text: "B"},
		broad(ModeWord): {text: "A"},
		broad(ModeChar): {text: " A\n"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)

	if res.Label != "A" || res.Source != SourceVote {
		t.Fatalf("got %q from %s, want A from vote", res.Label, res.Source)
	}
	if diff := cmp.Diff([]rune{'B', 'A', 'A'}, res.Votes); diff != "" {
		t.Errorf("votes (-want +got):\n%s", diff)
	}
	if len(e.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(e.calls))
	}
}

func TestResolveTieGoesToFirstSeen(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeLine): {text: "xy"},
		broad(ModeWord): {text: "y"},
		broad(ModeChar): {text: "x"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Label != "x" {
		t.Fatalf("label = %q, want x", res.Label)
	}
}

func TestResolveFiltersOutsideWhitelist(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeLine): {text: "é é"},
		broad(ModeWord): {text: "\tk"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Label != "k" {
		t.Fatalf("label = %q, want k", res.Label)
	}
}

func TestResolveFallsBackToLineText(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeLine): {text: "?"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, []rune("Hello"), 1)
	if res.Label != "e" || res.Source != SourceLineText {
		t.Fatalf("got %q from %s, want e from line text", res.Label, res.Source)
	}
	// resolved before the digit and symbol passes
	if len(e.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(e.calls))
	}
}

func TestResolveLineTextIndexOutOfRange(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		{Whitelist: DigitWhitelist.Chars, Mode: ModeChar}: {text: "7"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, []rune("ab"), 5)
	if res.Label != "7" || res.Source != SourceDigits {
		t.Fatalf("got %q from %s, want 7 from digits", res.Label, res.Source)
	}
}

func TestResolveDigitsBeforeSymbols(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		{Whitelist: DigitWhitelist.Chars, Mode: ModeChar}:  {text: "3"},
		{Whitelist: SymbolWhitelist.Chars, Mode: ModeChar}: {text: "#"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Label != "3" {
		t.Fatalf("label = %q, want 3", res.Label)
	}
	for _, c := range e.calls {
		if c.Whitelist == SymbolWhitelist.Chars {
			t.Fatal("symbols pass ran after digits resolved")
		}
	}
}

func TestResolveSymbolsLast(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		{Whitelist: DigitWhitelist.Chars, Mode: ModeChar}:  {text: "?"},
		{Whitelist: SymbolWhitelist.Chars, Mode: ModeChar}: {text: "@"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Label != "@" || res.Source != SourceSymbols {
		t.Fatalf("got %q from %s, want @ from symbols", res.Label, res.Source)
	}
}

func TestResolveUnconfirmedUnknownStaysUnresolved(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeChar): {text: "?"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Resolved() || res.Source != SourceNone {
		t.Fatalf("got %q from %s, want unresolved", res.Label, res.Source)
	}
	if len(e.calls) != 5 {
		t.Errorf("calls = %d, want all 5 passes", len(e.calls))
	}
}

func TestResolveQuestionMarkConfirmedBySymbols(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeChar): {text: "?"},
		{Whitelist: SymbolWhitelist.Chars, Mode: ModeChar}: {text: "?"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Label != Unknown || res.Source != SourceSymbols {
		t.Fatalf("got %q from %s, want ? from symbols", res.Label, res.Source)
	}
}

func TestResolveNothingRecognized(t *testing.T) {
	res := newTestCascade(&fakeEngine{}).Resolve(context.Background(), blank, nil, 0)
	if res.Resolved() || res.Source != SourceNone {
		t.Fatalf("got %+v, want unresolved", res)
	}
}

func TestResolveTimeoutIsNoVote(t *testing.T) {
	e := &fakeEngine{script: map[call]reply{
		broad(ModeLine): {block: true},
		broad(ModeWord): {err: errors.New("engine crashed")},
		broad(ModeChar): {text: "Q"},
	}}
	res := newTestCascade(e).Resolve(context.Background(), blank, nil, 0)
	if res.Label != "Q" {
		t.Fatalf("label = %q, want Q", res.Label)
	}
	if res.Failures != 2 {
		t.Errorf("failures = %d, want 2", res.Failures)
	}
}

func TestResolveStopsOnCancelledJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &fakeEngine{}
	res := newTestCascade(e).Resolve(ctx, blank, []rune("abc"), 0)
	if len(e.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(e.calls))
	}
	if res.Resolved() {
		t.Errorf("label = %q, want unresolved", res.Label)
	}
}

func TestResolveRegionRejectsEmptyBox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	_, err := newTestCascade(&fakeEngine{}).ResolveRegion(context.Background(), src, image.Rect(20, 20, 30, 30), nil, 0)
	if err == nil {
		t.Fatal("expected error for box outside the image")
	}
}
