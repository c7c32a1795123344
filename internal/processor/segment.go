package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/glyphforge-worker/internal/config"
	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/recognition"
	"github.com/adverant/nexus/glyphforge-worker/internal/storage"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

// SegmentImage turns an uploaded picture into a persisted project of labelled fragments
func (p *FontProcessor) SegmentImage(ctx context.Context, req *SegmentRequest) (*SegmentResult, error) {
	startTime := time.Now()
	log.Printf("[Job %s] Starting segmentation pipeline", req.JobID)

	mode := req.Mode
	if mode == "" {
		mode = p.config.SegmentationMode
	}
	if mode != config.SegmentationLine && mode != config.SegmentationWord {
		return nil, errors.NewInvalidCommandError("segment-image", fmt.Sprintf("unknown segmentation mode %q", mode))
	}

	// Step 1: Load and decode
	log.Printf("[Job %s] Step 1: Loading file (%d bytes)", req.JobID, req.FileSize)
	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	img, mimeType, err := decodeImage(req.JobID, fileData, req.MimeType)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Decoded %s image %dx%d", req.JobID, mimeType, img.Bounds().Dx(), img.Bounds().Dy())

	// Step 2: Whole-page recognition for line boxes and texts
	log.Printf("[Job %s] Step 2: Recognizing page (mode=%s)", req.JobID, mode)
	page, err := p.engine.RecognizePage(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewProcessingTimeoutError(req.JobID, time.Since(startTime), ctx.Err())
		}
		return nil, errors.NewRecognitionFailedError(req.JobID, "page", err)
	}

	// Step 3: Fragments
	store := fragments.NewStore(img, p.storeConfig())
	result := &SegmentResult{
		Mode:   mode,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}

	log.Printf("[Job %s] Step 3: Building fragments from %d lines, %d words", req.JobID, len(page.Lines), len(page.Words))
	if mode == config.SegmentationWord {
		p.addWords(req.JobID, store, page.Words)
		result.Lines = len(page.Lines)
	} else {
		if err := p.segmentLines(ctx, req.JobID, img, store, page.Lines); err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewProcessingTimeoutError(req.JobID, time.Since(startTime), err)
			}
			return nil, err
		}
		result.Lines = len(page.Lines)
	}

	// Step 4: Glyph memory for whatever the cascade left unresolved
	if p.config.GlyphMatchScore > 0 {
		log.Printf("[Job %s] Step 4: Consulting glyph memory (minScore=%.2f)", req.JobID, p.config.GlyphMatchScore)
		result.FromMemory = p.labelFromMemory(ctx, req.JobID, store)
	}

	// Step 5: Persist project
	projectID := req.ProjectID
	if projectID == "" {
		projectID = uuid.New().String()
	}
	log.Printf("[Job %s] Step 5: Persisting project %s (%d fragments)", req.JobID, projectID, store.Len())

	records, err := json.Marshal(store.Records())
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	project := &storage.Project{
		ID:               projectID,
		JobID:            req.JobID,
		Image:            fileData,
		MimeType:         mimeType,
		Width:            result.Width,
		Height:           result.Height,
		SegmentationMode: mode,
		Fragments:        records,
	}
	if err := p.storage.SaveProject(ctx, project); err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	for _, e := range store.Entities() {
		result.Fragments++
		if !e.Label.Empty() {
			result.Resolved++
		}
	}
	result.ProjectID = projectID
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	log.Printf("[Job %s] Segmentation complete: %d fragments, %d labelled (%d from memory) in %dms",
		req.JobID, result.Fragments, result.Resolved, result.FromMemory, result.ProcessingTimeMs)

	return result, nil
}

// segmentLines splits each recognized line into fragments and labels them
// through the cascade, strictly in line then left-to-right order.
func (p *FontProcessor) segmentLines(ctx context.Context, jobID string, img image.Image, store *fragments.Store, lines []recognition.TextRegion) error {
	for li, line := range lines {
		seg := p.segmenter.Segment(img, line.Box)
		lineText := []rune(recognition.StripSpace(line.Text))

		p.logger.Debug("line segmented",
			"job", jobID, "line", li, "threshold", seg.Threshold, "fragments", len(seg.Boxes))

		for i, box := range seg.Boxes {
			if err := ctx.Err(); err != nil {
				return err
			}

			id, err := store.Add(box, fragments.Label{}, string(recognition.SourceNone))
			if err != nil {
				p.logger.Warn("skipping fragment", "job", jobID, "box", box.String(), "error", err.Error())
				continue
			}

			res, err := p.cascade.ResolveRegion(ctx, img, box, lineText, i)
			if err != nil {
				p.logger.Warn("fragment could not be rendered", "job", jobID, "fragment", id, "error", err.Error())
				continue
			}

			if !store.ApplyRecognition(id, fragments.NewLabel(res.Label), string(res.Source)) {
				p.logger.Debug("discarded recognition for removed fragment", "job", jobID, "fragment", id)
			}
		}
	}
	return nil
}

// addWords creates one fragment per recognized word, labelled with its text
func (p *FontProcessor) addWords(jobID string, store *fragments.Store, words []recognition.TextRegion) {
	for _, w := range words {
		if _, err := store.Add(w.Box, fragments.NewLabel(w.Text), SourceWord); err != nil {
			p.logger.Warn("skipping word", "job", jobID, "text", w.Text, "error", err.Error())
		}
	}
}

// labelFromMemory labels unresolved fragments from the nearest stored glyph.
// A failing search stops the lookup; the fragments simply stay unlabelled.
func (p *FontProcessor) labelFromMemory(ctx context.Context, jobID string, store *fragments.Store) int {
	labelled := 0
	for _, e := range store.Entities() {
		if !e.Label.Empty() {
			continue
		}

		working, err := store.Working(e.ID)
		if err != nil {
			continue
		}
		features, err := tracer.Features(tracer.Prepare(working).Mask)
		if err != nil {
			continue
		}

		matches, err := p.storage.SearchSimilarGlyphs(ctx, features, 1, float32(p.config.GlyphMatchScore))
		if err != nil {
			p.logger.Warn("glyph memory unavailable", "job", jobID, "error", err.Error())
			return labelled
		}
		if len(matches) == 0 {
			continue
		}

		if store.ApplyRecognition(e.ID, fragments.NewLabel(matches[0].Label), SourceMemory) {
			labelled++
		}
	}
	return labelled
}
