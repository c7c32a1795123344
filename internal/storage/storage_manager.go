/**
 * Storage Manager for GlyphForge Worker
 *
 * Coordinates storage operations across PostgreSQL (projects, builds) and
 * Qdrant (glyph feature vectors). A font build is written to both systems
 * or to neither.
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// GlyphRecord is one built glyph and its shape features
type GlyphRecord struct {
	Name      string
	Label     string
	CodePoint rune
	Outline   json.RawMessage
	// Features may be nil for glyphs that are not indexed, e.g. space
	Features []float32
}

// FontBuildInput represents input for storing a font build
type FontBuildInput struct {
	JobID      string
	ProjectID  string
	FamilyName string
	StyleName  string
	FontData   []byte
	PreviewPNG []byte
	Glyphs     []GlyphRecord
}

// FontBuildOutput represents a stored font build with all IDs
type FontBuildOutput struct {
	BuildID        string
	QdrantPointIDs []string
	CreatedAt      time.Time
}

// GlyphMatch is a previously built glyph similar to a query shape
type GlyphMatch struct {
	Label     string
	CodePoint rune
	BuildID   string
	Score     float32
}

// NewStorageManager creates a new storage manager
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string, dimensions int) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection, dimensions)
	if err != nil {
		postgres.Close() // Cleanup on failure
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	return &StorageManager{
		postgres: postgres,
		qdrant:   qdrant,
	}, nil
}

// StoreFontBuild atomically stores a font build across PostgreSQL and Qdrant
func (sm *StorageManager) StoreFontBuild(ctx context.Context, input *FontBuildInput) (*FontBuildOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" || input.ProjectID == "" {
		return nil, fmt.Errorf("job ID and project ID are required")
	}

	if len(input.FontData) == 0 {
		return nil, fmt.Errorf("font data is required")
	}

	buildID := uuid.New().String()
	now := time.Now().Unix()

	// Step 1: Store feature vectors in Qdrant first (fails fast if a vector is invalid)
	pointIDs := make([]string, len(input.Glyphs))
	var points []*VectorPoint
	for i, g := range input.Glyphs {
		if len(g.Features) == 0 {
			continue
		}
		pointIDs[i] = uuid.New().String()
		points = append(points, &VectorPoint{
			ID:     pointIDs[i],
			Vector: g.Features,
			Metadata: map[string]interface{}{
				"label":      g.Label,
				"code_point": int64(g.CodePoint),
				"build_id":   buildID,
				"project_id": input.ProjectID,
			},
			Timestamp: now,
		})
	}

	if err := sm.qdrant.UpsertVectors(ctx, points); err != nil {
		return nil, fmt.Errorf("failed to store glyph vectors in Qdrant: %w", err)
	}

	indexed := make([]string, len(points))
	for i, p := range points {
		indexed[i] = p.ID
	}

	// Step 2: Store build and glyph rows in one PostgreSQL transaction
	createdAt, err := sm.insertBuild(ctx, buildID, pointIDs, input)
	if err != nil {
		// Rollback: delete the Qdrant points
		sm.qdrant.DeleteVectors(context.Background(), indexed)
		return nil, fmt.Errorf("failed to store font build in PostgreSQL: %w", err)
	}

	return &FontBuildOutput{
		BuildID:        buildID,
		QdrantPointIDs: indexed,
		CreatedAt:      createdAt,
	}, nil
}

func (sm *StorageManager) insertBuild(ctx context.Context, buildID string, pointIDs []string, input *FontBuildInput) (time.Time, error) {
	tx, err := sm.postgres.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()

	labels := make([]string, len(input.Glyphs))
	for i, g := range input.Glyphs {
		labels[i] = g.Label
	}

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		INSERT INTO glyphforge.font_builds (
			id, project_id, job_id, family_name, style_name,
			labels, font_data, preview_png, created_at
		) VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`,
		buildID,
		input.ProjectID,
		input.JobID,
		input.FamilyName,
		input.StyleName,
		pq.Array(labels),
		input.FontData,
		input.PreviewPNG,
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO glyphforge.glyphs (
			id, build_id, glyph_name, label, code_point, qdrant_point_id, outline
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, NULLIF($6, '')::uuid, $7::jsonb)
	`)
	if err != nil {
		return time.Time{}, err
	}
	defer stmt.Close()

	for i, g := range input.Glyphs {
		outline := g.Outline
		if len(outline) == 0 {
			outline = json.RawMessage("null")
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(),
			buildID,
			g.Name,
			g.Label,
			int64(g.CodePoint),
			pointIDs[i],
			string(sanitizeJSONForPostgres(outline)),
		); err != nil {
			return time.Time{}, fmt.Errorf("glyph %s: %w", g.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	return createdAt, nil
}

// SearchSimilarGlyphs returns indexed glyphs whose features score at least minScore
func (sm *StorageManager) SearchSimilarGlyphs(ctx context.Context, features []float32, limit int, minScore float32) ([]*GlyphMatch, error) {
	points, err := sm.qdrant.SearchVectors(ctx, features, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search glyph vectors: %w", err)
	}
	return glyphMatches(points, minScore), nil
}

// glyphMatches keeps labeled points at or above minScore, in search order
func glyphMatches(points []*VectorPoint, minScore float32) []*GlyphMatch {
	matches := make([]*GlyphMatch, 0, len(points))
	for _, point := range points {
		if point.Score < minScore {
			continue
		}

		label, ok := point.Metadata["label"].(string)
		if !ok || label == "" {
			continue
		}

		m := &GlyphMatch{Label: label, Score: point.Score}
		if cp, ok := point.Metadata["code_point"].(int64); ok {
			m.CodePoint = rune(cp)
		}
		if id, ok := point.Metadata["build_id"].(string); ok {
			m.BuildID = id
		}
		matches = append(matches, m)
	}
	return matches
}

// SaveProject stores a new project
func (sm *StorageManager) SaveProject(ctx context.Context, project *Project) error {
	return sm.postgres.SaveProject(ctx, project)
}

// LoadProject retrieves a project by ID
func (sm *StorageManager) LoadProject(ctx context.Context, projectID string) (*Project, error) {
	return sm.postgres.GetProject(ctx, projectID)
}

// UpdateProjectFragments replaces a project's fragment store
func (sm *StorageManager) UpdateProjectFragments(ctx context.Context, projectID string, fragments json.RawMessage) error {
	return sm.postgres.UpdateProjectFragments(ctx, projectID, fragments)
}

// SetBuildArtifacts records uploaded artifact IDs on a build
func (sm *StorageManager) SetBuildArtifacts(ctx context.Context, buildID, fontArtifactID, previewArtifactID string) error {
	return sm.postgres.SetBuildArtifacts(ctx, buildID, fontArtifactID, previewArtifactID)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
	}

	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
		"qdrant": qdrantStats,
	}, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences PostgreSQL JSONB rejects.
// \u0000 is dropped and other control characters become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
