package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/adverant/nexus/glyphforge-worker/internal/clients"
	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/fontbuild"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/storage"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

// traced is one entity's outline and shape features
type traced struct {
	entry    fontbuild.Entry
	features []float32
}

// BuildFont applies edits to a project and builds its font. Failures in
// tracing, assembly or serialization leave the persisted project untouched.
func (p *FontProcessor) BuildFont(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	startTime := time.Now()
	log.Printf("[Job %s] Starting font build for project %s", req.JobID, req.ProjectID)

	if req.ProjectID == "" {
		return nil, errors.NewInvalidCommandError("build-font", "project ID is required")
	}

	// Step 1: Restore the fragment store
	log.Printf("[Job %s] Step 1: Loading project", req.JobID)
	project, err := p.storage.LoadProject(ctx, req.ProjectID)
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	img, _, err := decodeImage(req.JobID, project.Image, project.MimeType)
	if err != nil {
		return nil, err
	}

	var records []fragments.Record
	if err := json.Unmarshal(project.Fragments, &records); err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, fmt.Errorf("corrupt fragment store: %w", err))
	}

	store, err := fragments.Restore(img, records, p.storeConfig())
	if err != nil {
		return nil, err
	}

	// Step 2: Apply edit commands as one batch
	if len(req.Commands) > 0 {
		log.Printf("[Job %s] Step 2: Applying %d commands", req.JobID, len(req.Commands))
		if err := store.Apply(req.Commands); err != nil {
			return nil, err
		}
	}

	// Step 3: Trace every entity
	log.Printf("[Job %s] Step 3: Tracing %d entities", req.JobID, store.Len())
	tracedEntities, err := p.traceAll(ctx, req.JobID, store)
	if err != nil {
		return nil, errors.NewProcessingTimeoutError(req.JobID, time.Since(startTime), err)
	}

	// Step 4: Assemble
	familyName := req.FamilyName
	if familyName == "" {
		familyName = p.config.FamilyName
	}
	assembler := fontbuild.NewAssembler(&fontbuild.AssemblerConfig{
		FamilyName: familyName,
		StyleName:  req.StyleName,
		Metrics:    &p.metrics,
		Logger:     p.logger.With("Assembler"),
	})

	entries := make([]fontbuild.Entry, len(tracedEntities))
	for i, t := range tracedEntities {
		entries[i] = t.entry
	}
	fontReq, skipped, err := assembler.Assemble(req.JobID, entries)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		p.logger.Info("glyph skipped", "job", req.JobID, "fragment", s.EntityID, "label", s.Label, "reason", s.Reason)
	}

	// Step 5: Serialize
	log.Printf("[Job %s] Step 5: Serializing %d glyphs", req.JobID, len(fontReq.Glyphs))
	fontData, err := p.serializer.Serialize(ctx, fontReq)
	if err != nil {
		return nil, errors.NewSerializationFailedError(req.JobID, err)
	}

	// Step 6: Preview
	previewText := req.PreviewText
	if previewText == "" {
		previewText = p.config.PreviewText
	}
	previewPNG, err := p.preview.RenderPNG(fontReq, previewText)
	if err != nil {
		p.logger.Warn("preview rendering failed", "job", req.JobID, "error", err.Error())
		previewPNG = nil
	}

	// Step 7: Persist the build, then the edited store. A failed build
	// leaves the project as it was so a retry replays the same commands.
	var edited []byte
	if len(req.Commands) > 0 {
		if edited, err = json.Marshal(store.Records()); err != nil {
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
	}

	glyphs, err := glyphRecords(fontReq, tracedEntities)
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	log.Printf("[Job %s] Step 7: Storing font build (%d bytes)", req.JobID, len(fontData))
	stored, err := p.storage.StoreFontBuild(ctx, &storage.FontBuildInput{
		JobID:      req.JobID,
		ProjectID:  req.ProjectID,
		FamilyName: fontReq.FamilyName,
		StyleName:  fontReq.StyleName,
		FontData:   fontData,
		PreviewPNG: previewPNG,
		Glyphs:     glyphs,
	})
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	if edited != nil {
		if err := p.storage.UpdateProjectFragments(ctx, req.ProjectID, edited); err != nil {
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
	}

	result := &BuildResult{
		BuildID:    stored.BuildID,
		FamilyName: fontReq.FamilyName,
		StyleName:  fontReq.StyleName,
		GlyphCount: len(fontReq.Glyphs),
		Skipped:    skipped,
		FontSize:   len(fontData),
	}

	// Step 8: Upload artifacts (non-fatal)
	if p.artifacts != nil {
		p.uploadArtifacts(ctx, req, result, fontData, previewPNG)
	}

	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	log.Printf("[Job %s] Font build complete: build=%s glyphs=%d skipped=%d in %dms",
		req.JobID, result.BuildID, result.GlyphCount, len(skipped), result.ProcessingTimeMs)

	return result, nil
}

// traceAll traces labelled entities in store order. Unlabelled or blank
// entities are passed on without an outline so the assembler reports them.
// It only fails when ctx is done.
func (p *FontProcessor) traceAll(ctx context.Context, jobID string, store *fragments.Store) ([]traced, error) {
	entities := store.Entities()
	out := make([]traced, 0, len(entities))
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t := traced{entry: fontbuild.Entry{EntityID: e.ID, Label: e.Label}}
		if e.Label.Empty() {
			out = append(out, t)
			continue
		}

		working, err := store.Working(e.ID)
		if err != nil {
			p.logger.Warn("working raster failed", "job", jobID, "fragment", e.ID, "error", err.Error())
			out = append(out, t)
			continue
		}

		prepared := tracer.Prepare(working)
		outline, err := tracer.Trace(prepared.Mask, p.metrics)
		if err != nil {
			p.logger.Warn("fragment not traceable", "job", jobID, "fragment", e.ID,
				"label", e.Label.String(), "code", string(errors.CodeOf(err)))
			out = append(out, t)
			continue
		}
		t.entry.Outline = outline

		if features, err := tracer.Features(prepared.Mask); err == nil {
			t.features = features
		}
		out = append(out, t)
	}
	return out, nil
}

// glyphRecords pairs each assembled glyph with the features of the entity it
// came from. The assembler keeps the first entity per code point, so the
// first traced entity per code point is the source.
func glyphRecords(req *fontbuild.Request, entities []traced) ([]storage.GlyphRecord, error) {
	features := make(map[rune][]float32)
	for _, t := range entities {
		r, ok := t.entry.Label.First()
		if !ok || t.entry.Outline == nil {
			continue
		}
		if _, seen := features[r]; !seen {
			features[r] = t.features
		}
	}

	records := make([]storage.GlyphRecord, 0, len(req.Glyphs))
	for _, g := range req.Glyphs {
		outline, err := json.Marshal(g.Outline)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal outline for %s: %w", g.Name, err)
		}

		rec := storage.GlyphRecord{
			Name:      g.Name,
			CodePoint: g.Unicode,
			Outline:   outline,
		}
		if g.Name != fontbuild.NotdefName {
			rec.Label = string(g.Unicode)
		}
		if g.Name != fontbuild.NotdefName && g.Name != fontbuild.SpaceName {
			rec.Features = features[g.Unicode]
		}
		records = append(records, rec)
	}
	return records, nil
}

// uploadArtifacts stores the font and its preview; failures are logged only
func (p *FontProcessor) uploadArtifacts(ctx context.Context, req *BuildRequest, result *BuildResult, fontData, previewPNG []byte) {
	base := fmt.Sprintf("%s-%s", result.FamilyName, result.StyleName)
	metadata := map[string]interface{}{
		"buildId":    result.BuildID,
		"projectId":  req.ProjectID,
		"glyphCount": result.GlyphCount,
	}

	fontResp, err := p.artifacts.UploadArtifact(ctx, &clients.ArtifactUploadRequest{
		FileBuffer: fontData,
		Filename:   base + ".otf",
		MimeType:   "font/otf",
		SourceID:   req.JobID,
		Metadata:   metadata,
	})
	if err != nil {
		log.Printf("[Job %s] WARNING: Font artifact upload failed: %v", req.JobID, err)
		return
	}
	result.FontArtifactID = fontResp.Artifact.ID
	result.FontURL = fontResp.Artifact.DownloadURL

	if len(previewPNG) > 0 {
		previewResp, err := p.artifacts.UploadArtifact(ctx, &clients.ArtifactUploadRequest{
			FileBuffer: previewPNG,
			Filename:   base + "-preview.png",
			MimeType:   "image/png",
			SourceID:   req.JobID,
			Metadata:   metadata,
		})
		if err != nil {
			log.Printf("[Job %s] WARNING: Preview artifact upload failed: %v", req.JobID, err)
		} else {
			result.PreviewArtifactID = previewResp.Artifact.ID
		}
	}

	if err := p.storage.SetBuildArtifacts(ctx, result.BuildID, result.FontArtifactID, result.PreviewArtifactID); err != nil {
		log.Printf("[Job %s] WARNING: Failed to record artifact IDs: %v", req.JobID, err)
	}
}
