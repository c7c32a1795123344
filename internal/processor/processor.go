/**
 * Font Processor for GlyphForge Worker
 *
 * Orchestrates the two job phases:
 * - segment-image: load → whole-page recognition → line segmentation →
 *   recognition cascade → glyph memory → persist project
 * - build-font: restore project → apply edit commands → trace → assemble →
 *   serialize → preview → persist build → upload artifacts
 */

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/adverant/nexus/glyphforge-worker/internal/clients"
	"github.com/adverant/nexus/glyphforge-worker/internal/config"
	"github.com/adverant/nexus/glyphforge-worker/internal/fontbuild"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
	"github.com/adverant/nexus/glyphforge-worker/internal/preview"
	"github.com/adverant/nexus/glyphforge-worker/internal/recognition"
	"github.com/adverant/nexus/glyphforge-worker/internal/segment"
	"github.com/adverant/nexus/glyphforge-worker/internal/storage"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

// SourceMemory marks labels taken from a previously built glyph
const SourceMemory = "memory"

// SourceWord marks labels taken from word-level page recognition
const SourceWord = "word"

// FontProcessorInterface defines the interface for glyph font processing
type FontProcessorInterface interface {
	SegmentImage(ctx context.Context, req *SegmentRequest) (*SegmentResult, error)
	BuildFont(ctx context.Context, req *BuildRequest) (*BuildResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, jobType string, status string, progress int, metadata map[string]interface{}) error
}

// Storage is the persistence the processor needs
type Storage interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	SaveProject(ctx context.Context, project *storage.Project) error
	LoadProject(ctx context.Context, projectID string) (*storage.Project, error)
	UpdateProjectFragments(ctx context.Context, projectID string, fragments json.RawMessage) error
	StoreFontBuild(ctx context.Context, input *storage.FontBuildInput) (*storage.FontBuildOutput, error)
	SetBuildArtifacts(ctx context.Context, buildID, fontArtifactID, previewArtifactID string) error
	SearchSimilarGlyphs(ctx context.Context, features []float32, limit int, minScore float32) ([]*storage.GlyphMatch, error)
}

// ArtifactUploader stores built files permanently
type ArtifactUploader interface {
	UploadArtifact(ctx context.Context, req *clients.ArtifactUploadRequest) (*clients.ArtifactUploadResponse, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Storage Storage
	Engine  recognition.Engine
	// Artifacts is optional; nil disables uploads
	Artifacts  ArtifactUploader
	Serializer fontbuild.Serializer

	MaxFileSize      int64
	CallTimeout      time.Duration
	SegmentationMode string
	SpecialLabels    string
	FamilyName       string
	PreviewText      string
	GlyphMatchScore  float64

	// Renderer overrides the working raster renderer, for tests
	Renderer fragments.Renderer
	Logger   *logging.Logger
}

// SegmentRequest represents a segment-image job
type SegmentRequest struct {
	JobID      string
	ProjectID  string // generated when empty
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	// Mode overrides the configured segmentation mode when set
	Mode string
}

// SegmentResult represents the segment-image outcome
type SegmentResult struct {
	ProjectID        string
	Mode             string
	Width            int
	Height           int
	Lines            int
	Fragments        int
	Resolved         int
	FromMemory       int
	ProcessingTimeMs int64
}

// BuildRequest represents a build-font job
type BuildRequest struct {
	JobID       string
	ProjectID   string
	Commands    []fragments.Command
	FamilyName  string
	StyleName   string
	PreviewText string
}

// BuildResult represents the build-font outcome
type BuildResult struct {
	BuildID           string
	FamilyName        string
	StyleName         string
	GlyphCount        int
	Skipped           []fontbuild.Skipped
	FontSize          int
	FontArtifactID    string
	FontURL           string
	PreviewArtifactID string
	ProcessingTimeMs  int64
}

// FontProcessor runs glyph font jobs
type FontProcessor struct {
	config     *ProcessorConfig
	storage    Storage
	engine     recognition.Engine
	artifacts  ArtifactUploader
	serializer fontbuild.Serializer
	segmenter  *segment.Segmenter
	cascade    *recognition.Cascade
	preview    *preview.Renderer
	metrics    tracer.Metrics
	logger     *logging.Logger
}

// NewFontProcessor creates a new font processor
func NewFontProcessor(cfg *ProcessorConfig) (*FontProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}

	switch cfg.SegmentationMode {
	case "":
		cfg.SegmentationMode = config.SegmentationLine
	case config.SegmentationLine, config.SegmentationWord:
	default:
		return nil, fmt.Errorf("unknown segmentation mode %q", cfg.SegmentationMode)
	}

	if cfg.PreviewText == "" {
		cfg.PreviewText = preview.DefaultText
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("FontProcessor")
	}

	serializer := cfg.Serializer
	if serializer == nil {
		serializer = fontbuild.NewSFNTSerializer()
	}

	if cfg.Artifacts == nil {
		log.Printf("WARNING: Artifact storage not configured. Fonts will only be stored in PostgreSQL.")
	}

	return &FontProcessor{
		config:     cfg,
		storage:    cfg.Storage,
		engine:     cfg.Engine,
		artifacts:  cfg.Artifacts,
		serializer: serializer,
		segmenter:  segment.NewSegmenter(),
		cascade: recognition.NewCascade(cfg.Engine, &recognition.CascadeConfig{
			CallTimeout: cfg.CallTimeout,
			Logger:      logger.With("Cascade"),
		}),
		preview: preview.NewRenderer(),
		metrics: tracer.DefaultMetrics(),
		logger:  logger,
	}, nil
}

// UpdateJobStatus updates job status in database
func (p *FontProcessor) UpdateJobStatus(ctx context.Context, jobID string, jobType string, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		JobType:  jobType,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if projectID, ok := metadata["projectId"].(string); ok {
			update.ProjectID = projectID
		}
		if buildID, ok := metadata["buildId"].(string); ok {
			update.BuildID = buildID
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			update.ErrorMessage = errorMsg
		}
		if code, ok := metadata["errorCode"].(string); ok && code != "" {
			update.ErrorCode = code
		}
	}

	return p.storage.UpdateJobStatus(ctx, update)
}

func (p *FontProcessor) storeConfig() *fragments.StoreConfig {
	return &fragments.StoreConfig{
		SpecialLabels: p.config.SpecialLabels,
		Renderer:      p.config.Renderer,
	}
}
