package processor

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adverant/nexus/glyphforge-worker/internal/clients"
	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/fontbuild"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
	"github.com/adverant/nexus/glyphforge-worker/internal/recognition"
	"github.com/adverant/nexus/glyphforge-worker/internal/storage"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

// fakeEngine reports a fixed page and never reads a single region
type fakeEngine struct {
	page  *recognition.Page
	calls int
}

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image, whitelist string, mode recognition.Mode) (string, error) {
	f.calls++
	return "", nil
}

func (f *fakeEngine) RecognizePage(ctx context.Context, img image.Image) (*recognition.Page, error) {
	return f.page, nil
}

type fakeStorage struct {
	mu        sync.Mutex
	projects  map[string]*storage.Project
	builds    []*storage.FontBuildInput
	updates   []*storage.JobUpdate
	artifacts [][3]string
	matches   []*storage.GlyphMatch
	searches  int
	fragments int
	buildErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{projects: make(map[string]*storage.Project)}
}

func (s *fakeStorage) UpdateJobStatus(ctx context.Context, u *storage.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *fakeStorage) SaveProject(ctx context.Context, p *storage.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *fakeStorage) LoadProject(ctx context.Context, id string) (*storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, stderrors.New("project not found: " + id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStorage) UpdateProjectFragments(ctx context.Context, id string, frags json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments++
	s.projects[id].Fragments = frags
	return nil
}

func (s *fakeStorage) StoreFontBuild(ctx context.Context, in *storage.FontBuildInput) (*storage.FontBuildOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	s.builds = append(s.builds, in)
	return &storage.FontBuildOutput{BuildID: "build-1"}, nil
}

func (s *fakeStorage) SetBuildArtifacts(ctx context.Context, buildID, fontID, previewID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, [3]string{buildID, fontID, previewID})
	return nil
}

func (s *fakeStorage) SearchSimilarGlyphs(ctx context.Context, features []float32, limit int, minScore float32) ([]*storage.GlyphMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	if len(features) != tracer.FeatureDims {
		return nil, stderrors.New("bad dimensions")
	}
	return s.matches, nil
}

type fakeUploader struct {
	names []string
}

func (u *fakeUploader) UploadArtifact(ctx context.Context, req *clients.ArtifactUploadRequest) (*clients.ArtifactUploadResponse, error) {
	u.names = append(u.names, req.Filename)
	resp := &clients.ArtifactUploadResponse{Success: true}
	resp.Artifact.ID = "art-" + req.Filename
	return resp, nil
}

type failingSerializer struct{ err error }

func (f failingSerializer) Serialize(ctx context.Context, req *fontbuild.Request) ([]byte, error) {
	return nil, f.err
}

// twoBlobs is a 200x100 white picture with two solid black 40x60 strokes
func twoBlobs(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for _, r := range []image.Rectangle{image.Rect(20, 20, 60, 80), image.Rect(120, 20, 160, 80)} {
		draw.Draw(img, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func linePage(text string) *recognition.Page {
	return &recognition.Page{
		Text:  text,
		Lines: []recognition.TextRegion{{Text: text, Box: image.Rect(0, 0, 200, 100)}},
		Words: []recognition.TextRegion{{Text: "Hi", Box: image.Rect(10, 10, 170, 90)}},
	}
}

func newTestProcessor(t *testing.T, engine recognition.Engine, store *fakeStorage, mutate func(*ProcessorConfig)) *FontProcessor {
	t.Helper()
	cfg := &ProcessorConfig{
		Storage:     store,
		Engine:      engine,
		MaxFileSize: 1 << 20,
		Logger:      logging.NewLoggerTo(io.Discard, "test"),
	}
	if mutate != nil {
		mutate(cfg)
	}
	p, err := NewFontProcessor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func projectRecords(t *testing.T, p *storage.Project) []fragments.Record {
	t.Helper()
	var records []fragments.Record
	if err := json.Unmarshal(p.Fragments, &records); err != nil {
		t.Fatal(err)
	}
	return records
}

func labels(records []fragments.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Label.String()
	}
	return out
}

func TestSegmentImageLineMode(t *testing.T) {
	store := newFakeStorage()
	engine := &fakeEngine{page: linePage("A B")}
	p := newTestProcessor(t, engine, store, nil)

	res, err := p.SegmentImage(context.Background(), &SegmentRequest{
		JobID:      "job-1",
		ProjectID:  "proj-1",
		FileBuffer: twoBlobs(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fragments != 2 || res.Resolved != 2 || res.Lines != 1 {
		t.Fatalf("result = %+v", res)
	}

	project := store.projects["proj-1"]
	if project.MimeType != "image/png" || project.Width != 200 || project.Height != 100 {
		t.Fatalf("project = %s %dx%d", project.MimeType, project.Width, project.Height)
	}

	records := projectRecords(t, project)
	if diff := cmp.Diff([]string{"A", "B"}, labels(records)); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
	wantParts := [][]image.Rectangle{{image.Rect(20, 20, 60, 80)}, {image.Rect(120, 20, 160, 80)}}
	for i, r := range records {
		if diff := cmp.Diff(wantParts[i], r.Parts); diff != "" {
			t.Errorf("record %d parts (-want +got):\n%s", i, diff)
		}
		if r.Source != string(recognition.SourceLineText) {
			t.Errorf("record %d source = %q", i, r.Source)
		}
	}
	// three voting modes per fragment; line text resolves before digits and symbols
	if engine.calls != 6 {
		t.Errorf("engine calls = %d, want 6", engine.calls)
	}
	if store.searches != 0 {
		t.Errorf("glyph memory consulted %d times with memory disabled", store.searches)
	}
}

func TestSegmentImageWordMode(t *testing.T) {
	store := newFakeStorage()
	engine := &fakeEngine{page: linePage("A B")}
	p := newTestProcessor(t, engine, store, nil)

	res, err := p.SegmentImage(context.Background(), &SegmentRequest{
		JobID:      "job-1",
		ProjectID:  "proj-1",
		FileBuffer: twoBlobs(t),
		Mode:       "word",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fragments != 1 || engine.calls != 0 {
		t.Fatalf("fragments = %d, engine calls = %d", res.Fragments, engine.calls)
	}
	records := projectRecords(t, store.projects["proj-1"])
	if records[0].Label.String() != "Hi" || records[0].Source != SourceWord {
		t.Fatalf("record = %+v", records[0])
	}
}

func TestSegmentImageGlyphMemory(t *testing.T) {
	store := newFakeStorage()
	store.matches = []*storage.GlyphMatch{{Label: "Q", Score: 0.97}}
	p := newTestProcessor(t, &fakeEngine{page: linePage("")}, store, func(c *ProcessorConfig) {
		c.GlyphMatchScore = 0.9
	})

	res, err := p.SegmentImage(context.Background(), &SegmentRequest{JobID: "job-1", ProjectID: "proj-1", FileBuffer: twoBlobs(t)})
	if err != nil {
		t.Fatal(err)
	}
	if res.FromMemory != 2 || res.Resolved != 2 {
		t.Fatalf("result = %+v", res)
	}
	for _, r := range projectRecords(t, store.projects["proj-1"]) {
		if r.Label.String() != "Q" || r.Source != SourceMemory {
			t.Errorf("record = %+v", r)
		}
	}
}

func TestSegmentImageRejectsUnsupportedFormat(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{page: linePage("A")}, newFakeStorage(), nil)
	_, err := p.SegmentImage(context.Background(), &SegmentRequest{
		JobID:      "job-1",
		MimeType:   "application/pdf",
		FileBuffer: []byte("%PDF-1.7 not an image"),
	})
	if errors.CodeOf(err) != errors.ErrorUnsupportedFormat {
		t.Fatalf("err = %v, want UNSUPPORTED_FORMAT", err)
	}
}

func TestSegmentImageRejectsOversizedBuffer(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{page: linePage("A")}, newFakeStorage(), func(c *ProcessorConfig) {
		c.MaxFileSize = 16
	})
	if _, err := p.SegmentImage(context.Background(), &SegmentRequest{JobID: "job-1", FileBuffer: twoBlobs(t)}); err == nil {
		t.Fatal("expected size error")
	}
}

// segmented runs a line-mode segmentation labelling the two strokes A and B
func segmented(t *testing.T, mutate func(*ProcessorConfig)) (*FontProcessor, *fakeStorage, []fragments.Record) {
	t.Helper()
	store := newFakeStorage()
	p := newTestProcessor(t, &fakeEngine{page: linePage("AB")}, store, mutate)
	if _, err := p.SegmentImage(context.Background(), &SegmentRequest{JobID: "seg", ProjectID: "proj-1", FileBuffer: twoBlobs(t)}); err != nil {
		t.Fatal(err)
	}
	return p, store, projectRecords(t, store.projects["proj-1"])
}

func TestBuildFont(t *testing.T) {
	uploader := &fakeUploader{}
	p, store, records := segmented(t, func(c *ProcessorConfig) { c.Artifacts = uploader })

	res, err := p.BuildFont(context.Background(), &BuildRequest{
		JobID:      "build",
		ProjectID:  "proj-1",
		FamilyName: "Hand",
		Commands:   []fragments.Command{fragments.Relabel(records[1].ID, "C")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.BuildID != "build-1" || res.GlyphCount != 4 || len(res.Skipped) != 0 {
		t.Fatalf("result = %+v", res)
	}

	in := store.builds[0]
	if in.FamilyName != "Hand" || in.StyleName != fontbuild.DefaultStyleName {
		t.Errorf("names = %s/%s", in.FamilyName, in.StyleName)
	}
	if len(in.FontData) == 0 || len(in.PreviewPNG) == 0 {
		t.Errorf("font %d bytes, preview %d bytes", len(in.FontData), len(in.PreviewPNG))
	}

	var got []string
	for _, g := range in.Glyphs {
		got = append(got, g.Name+"="+g.Label)
		indexed := len(g.Features) == tracer.FeatureDims
		if wantIndexed := g.Name == "uni0041" || g.Name == "uni0043"; indexed != wantIndexed {
			t.Errorf("%s indexed = %v", g.Name, indexed)
		}
	}
	want := []string{".notdef=", "space= ", "uni0041=A", "uni0043=C"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("glyphs (-want +got):\n%s", diff)
	}

	// edits are persisted for later builds
	if diff := cmp.Diff([]string{"A", "C"}, labels(projectRecords(t, store.projects["proj-1"]))); diff != "" {
		t.Errorf("persisted labels (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"Hand-Regular.otf", "Hand-Regular-preview.png"}, uploader.names); diff != "" {
		t.Errorf("uploads (-want +got):\n%s", diff)
	}
	wantArtifacts := [][3]string{{"build-1", "art-Hand-Regular.otf", "art-Hand-Regular-preview.png"}}
	if diff := cmp.Diff(wantArtifacts, store.artifacts); diff != "" {
		t.Errorf("artifacts (-want +got):\n%s", diff)
	}
}

func TestBuildFontComposeKeepsOneGlyph(t *testing.T) {
	p, store, records := segmented(t, nil)

	res, err := p.BuildFont(context.Background(), &BuildRequest{
		JobID:     "build",
		ProjectID: "proj-1",
		Commands: []fragments.Command{
			fragments.Compose(records[0].ID, records[1].ID),
			fragments.Relabel(records[0].ID, "H"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.GlyphCount != 3 {
		t.Fatalf("glyph count = %d, want 3", res.GlyphCount)
	}
	persisted := projectRecords(t, store.projects["proj-1"])
	if len(persisted) != 1 || len(persisted[0].Parts) != 2 || persisted[0].Label.String() != "H" {
		t.Fatalf("persisted = %+v", persisted)
	}
}

func TestBuildFontFailuresLeaveProjectUntouched(t *testing.T) {
	serializeErr := stderrors.New("cff: too many glyphs")

	tests := []struct {
		name     string
		mutate   func(*ProcessorConfig)
		buildErr error
		commands func([]fragments.Record) []fragments.Command
		wantCode errors.ErrorCode
	}{
		{
			name: "unknown fragment",
			commands: func(r []fragments.Record) []fragments.Command {
				return []fragments.Command{fragments.Relabel(r[0].ID, "Z"), fragments.Delete("missing")}
			},
			wantCode: errors.ErrorFragmentNotFound,
		},
		{
			name: "nothing to build",
			commands: func(r []fragments.Record) []fragments.Command {
				return []fragments.Command{fragments.Relabel(r[0].ID, ""), fragments.Delete(r[1].ID)}
			},
			wantCode: errors.ErrorAssemblyFailed,
		},
		{
			name:   "serializer error",
			mutate: func(c *ProcessorConfig) { c.Serializer = failingSerializer{serializeErr} },
			commands: func(r []fragments.Record) []fragments.Command {
				return []fragments.Command{fragments.Relabel(r[0].ID, "Z")}
			},
			wantCode: errors.ErrorSerializationFailed,
		},
		{
			name:     "build not stored",
			buildErr: stderrors.New("connection reset"),
			commands: func(r []fragments.Record) []fragments.Command {
				return []fragments.Command{fragments.Delete(r[1].ID)}
			},
			wantCode: errors.ErrorStorageFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, records := segmented(t, tt.mutate)
			store.buildErr = tt.buildErr
			before := string(store.projects["proj-1"].Fragments)

			_, err := p.BuildFont(context.Background(), &BuildRequest{
				JobID:     "build",
				ProjectID: "proj-1",
				Commands:  tt.commands(records),
			})
			if errors.CodeOf(err) != tt.wantCode {
				t.Fatalf("err = %v, want %s", err, tt.wantCode)
			}
			if tt.wantCode == errors.ErrorSerializationFailed && !stderrors.Is(err, serializeErr) {
				t.Errorf("serializer error not preserved: %v", err)
			}
			if store.fragments != 0 || len(store.builds) != 0 {
				t.Errorf("side effects: %d fragment updates, %d builds", store.fragments, len(store.builds))
			}
			if got := string(store.projects["proj-1"].Fragments); got != before {
				t.Errorf("project changed:\n%s\n->\n%s", before, got)
			}
		})
	}
}

func TestBuildFontReplaysCommandsAfterStorageFailure(t *testing.T) {
	p, store, records := segmented(t, nil)
	req := &BuildRequest{
		JobID:     "build",
		ProjectID: "proj-1",
		Commands:  []fragments.Command{fragments.Delete(records[1].ID)},
	}

	store.buildErr = stderrors.New("connection reset")
	if _, err := p.BuildFont(context.Background(), req); errors.CodeOf(err) != errors.ErrorStorageFailed {
		t.Fatalf("first attempt err = %v, want %s", err, errors.ErrorStorageFailed)
	}

	store.buildErr = nil
	result, err := p.BuildFont(context.Background(), req)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if result.GlyphCount != 3 {
		t.Errorf("GlyphCount = %d, want 3", result.GlyphCount)
	}
	if store.fragments != 1 {
		t.Errorf("fragment updates = %d, want 1", store.fragments)
	}
	if got := labels(projectRecords(t, store.projects["proj-1"])); !cmp.Equal(got, []string{"A"}) {
		t.Errorf("persisted labels = %v, want [A]", got)
	}
}

func TestUpdateJobStatusExtractsMetadata(t *testing.T) {
	store := newFakeStorage()
	p := newTestProcessor(t, &fakeEngine{}, store, nil)

	err := p.UpdateJobStatus(context.Background(), "job-1", "build-font", "failed", 100, map[string]interface{}{
		"projectId":      "proj-1",
		"processingTime": int64(42),
		"error":          "boom",
		"errorCode":      string(errors.ErrorAssemblyFailed),
	})
	if err != nil {
		t.Fatal(err)
	}
	u := store.updates[0]
	if u.ProjectID != "proj-1" || u.ProcessingTimeMs != 42 || u.ErrorMessage != "boom" || u.ErrorCode != "ASSEMBLY_FAILED" {
		t.Fatalf("update = %+v", u)
	}
}

func TestDetectMimeTypeFromMagicBytes(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{[]byte("GIF89a.."), "image/gif"},
		{[]byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{[]byte{'I', 'I', 0x2A, 0x00}, "image/tiff"},
		{[]byte("BM\x00\x00"), "image/bmp"},
		{[]byte("%PDF-1.4"), "application/pdf"},
		{[]byte("hello"), ""},
		{[]byte("BM"), ""},
	}
	for _, tt := range tests {
		if got := detectMimeTypeFromMagicBytes(tt.data); got != tt.want {
			t.Errorf("detect(%q) = %q, want %q", tt.data, got, tt.want)
		}
	}
}
