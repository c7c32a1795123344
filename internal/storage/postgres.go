/**
 * PostgreSQL Client for GlyphForge Worker
 *
 * Handles job status, projects (source image + fragment store), font builds
 * and per-glyph records in the glyphforge schema.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	JobType          string
	Status           string
	Progress         int
	ProjectID        string
	BuildID          string
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// Project is a segmented source image and its persisted fragment store
type Project struct {
	ID               string
	JobID            string
	Image            []byte
	MimeType         string
	Width            int
	Height           int
	SegmentationMode string
	// Fragments is the JSON encoded fragment store, in display order
	Fragments json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// schemaStatements create the glyphforge schema on first start
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS glyphforge`,
	`CREATE TABLE IF NOT EXISTS glyphforge.font_jobs (
		id UUID PRIMARY KEY,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		project_id UUID,
		build_id UUID,
		processing_time_ms BIGINT,
		error_code TEXT,
		error_message TEXT,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS glyphforge.projects (
		id UUID PRIMARY KEY,
		job_id UUID NOT NULL,
		image BYTEA NOT NULL,
		mime_type TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		segmentation_mode TEXT NOT NULL,
		fragments JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS glyphforge.font_builds (
		id UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES glyphforge.projects(id) ON DELETE CASCADE,
		job_id UUID NOT NULL,
		family_name TEXT NOT NULL,
		style_name TEXT NOT NULL,
		labels TEXT[] NOT NULL,
		font_data BYTEA NOT NULL,
		preview_png BYTEA,
		font_artifact_id TEXT,
		preview_artifact_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS glyphforge.glyphs (
		id UUID PRIMARY KEY,
		build_id UUID NOT NULL REFERENCES glyphforge.font_builds(id) ON DELETE CASCADE,
		glyph_name TEXT NOT NULL,
		label TEXT NOT NULL,
		code_point INTEGER NOT NULL,
		qdrant_point_id UUID,
		outline JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS glyphs_build_id_idx ON glyphforge.glyphs (build_id)`,
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the glyphforge tables if they do not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// UpdateJobStatus upserts job status in the database
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	// Upsert so the worker can create the job row if the API has not yet
	query := `
		INSERT INTO glyphforge.font_jobs (
			id, job_type, status, progress, project_id, build_id,
			processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown'), $3, $4,
			CASE WHEN $5 = '' THEN NULL ELSE $5::uuid END,
			CASE WHEN $6 = '' THEN NULL ELSE $6::uuid END,
			NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = GREATEST(EXCLUDED.progress, glyphforge.font_jobs.progress),
			project_id = COALESCE(EXCLUDED.project_id, glyphforge.font_jobs.project_id),
			build_id = COALESCE(EXCLUDED.build_id, glyphforge.font_jobs.build_id),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, glyphforge.font_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = glyphforge.font_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1 - id
		update.JobType,          // $2 - job_type
		update.Status,           // $3 - status
		update.Progress,         // $4 - progress
		update.ProjectID,        // $5 - project_id
		update.BuildID,          // $6 - build_id
		update.ProcessingTimeMs, // $7 - processing_time_ms
		update.ErrorCode,        // $8 - error_code
		update.ErrorMessage,     // $9 - error_message
		string(metadataJSON),    // $10 - metadata
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// SaveProject inserts a new project
func (p *PostgresClient) SaveProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		return fmt.Errorf("project ID is required")
	}
	if len(project.Image) == 0 {
		return fmt.Errorf("project image is required")
	}

	fragments := project.Fragments
	if len(fragments) == 0 {
		fragments = json.RawMessage("[]")
	}

	query := `
		INSERT INTO glyphforge.projects (
			id, job_id, image, mime_type, width, height,
			segmentation_mode, fragments, created_at, updated_at
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8::jsonb, NOW(), NOW())
		RETURNING created_at
	`

	err := p.db.QueryRowContext(
		ctx,
		query,
		project.ID,
		project.JobID,
		project.Image,
		project.MimeType,
		project.Width,
		project.Height,
		project.SegmentationMode,
		string(sanitizeJSONForPostgres(fragments)),
	).Scan(&project.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", project.ID, err)
	}
	project.UpdatedAt = project.CreatedAt
	return nil
}

// GetProject retrieves a project by ID
func (p *PostgresClient) GetProject(ctx context.Context, projectID string) (*Project, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	query := `
		SELECT
			id, job_id, image, mime_type, width, height,
			segmentation_mode, fragments, created_at, updated_at
		FROM glyphforge.projects
		WHERE id = $1::uuid
	`

	var project Project
	var fragments []byte
	err := p.db.QueryRowContext(ctx, query, projectID).Scan(
		&project.ID,
		&project.JobID,
		&project.Image,
		&project.MimeType,
		&project.Width,
		&project.Height,
		&project.SegmentationMode,
		&fragments,
		&project.CreatedAt,
		&project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", projectID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	project.Fragments = json.RawMessage(fragments)
	return &project, nil
}

// UpdateProjectFragments replaces the persisted fragment store
func (p *PostgresClient) UpdateProjectFragments(ctx context.Context, projectID string, fragments json.RawMessage) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE glyphforge.projects
		SET fragments = $2::jsonb, updated_at = NOW()
		WHERE id = $1::uuid
	`, projectID, string(sanitizeJSONForPostgres(fragments)))
	if err != nil {
		return fmt.Errorf("failed to update project fragments: %w", err)
	}

	n, err := result.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("project not found: %s", projectID)
	}
	return nil
}

// SetBuildArtifacts records uploaded artifact IDs on a build
func (p *PostgresClient) SetBuildArtifacts(ctx context.Context, buildID, fontArtifactID, previewArtifactID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE glyphforge.font_builds
		SET font_artifact_id = NULLIF($2, ''), preview_artifact_id = NULLIF($3, '')
		WHERE id = $1::uuid
	`, buildID, fontArtifactID, previewArtifactID)
	if err != nil {
		return fmt.Errorf("failed to record build artifacts: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
