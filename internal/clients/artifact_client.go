/**
 * Artifact Client for GlyphForge Worker
 *
 * Uploads built fonts and their preview images to permanent storage via the
 * FileProcess API, which picks the storage backend by size and returns an
 * artifact ID plus a download URL.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"
)

// SourceService identifies this worker as the artifact creator
const SourceService = "glyphforge-worker"

// ArtifactClient handles communication with the FileProcess API for artifact storage
type ArtifactClient struct {
	baseURL    string
	httpClient *http.Client
}

// ArtifactUploadRequest represents a file upload request
type ArtifactUploadRequest struct {
	FileBuffer []byte                 // File content
	Filename   string                 // e.g. CustomFont-Regular.otf
	MimeType   string                 // font/otf or image/png
	SourceID   string                 // job ID
	TTLDays    int                    // 0 means permanent
	Metadata   map[string]interface{} // buildId, projectId, glyphCount
}

// ArtifactUploadResponse represents the response from uploading an artifact
type ArtifactUploadResponse struct {
	Success  bool   `json:"success"`
	Artifact struct {
		ID             string `json:"id"`
		Filename       string `json:"filename"`
		FileSize       int64  `json:"file_size"`
		MimeType       string `json:"mime_type"`
		StorageBackend string `json:"storage_backend"`
		DownloadURL    string `json:"download_url"`
		CreatedAt      string `json:"created_at"`
		ExpiresAt      string `json:"expires_at,omitempty"`
	} `json:"artifact,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// HealthCheck verifies the FileProcess API is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artifact service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact service health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// UploadArtifact uploads a file to permanent storage
func (c *ArtifactClient) UploadArtifact(ctx context.Context, req *ArtifactUploadRequest) (*ArtifactUploadResponse, error) {
	if len(req.FileBuffer) == 0 {
		return nil, fmt.Errorf("file buffer is required: received empty buffer")
	}

	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required: received empty string")
	}

	if req.SourceID == "" {
		return nil, fmt.Errorf("source_id is required: identifies the job creating this artifact")
	}

	log.Printf("[ArtifactClient] Uploading artifact: filename=%s, size=%d bytes, mimeType=%s, sourceId=%s",
		req.Filename, len(req.FileBuffer), req.MimeType, req.SourceID)

	body, contentType, err := encodeUpload(req)
	if err != nil {
		return nil, err
	}

	// FileProcess API mounts routes at /fileprocess/api/*
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/fileprocess/api/files/upload", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to artifact storage failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact upload failed with HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result ArtifactUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact upload response: %w (raw response: %s)", err, string(respBody))
	}

	if !result.Success {
		return nil, fmt.Errorf("artifact upload returned success=false: %s", result.Error)
	}

	if result.Artifact.ID == "" {
		return nil, fmt.Errorf("artifact upload succeeded but returned empty artifact ID")
	}

	log.Printf("[ArtifactClient] Artifact uploaded successfully: id=%s, storage=%s, duration=%v",
		result.Artifact.ID, result.Artifact.StorageBackend, time.Since(startTime))

	return &result, nil
}

// encodeUpload builds the multipart form for an upload
func encodeUpload(req *ArtifactUploadRequest) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(req.FileBuffer); err != nil {
		return nil, "", fmt.Errorf("failed to write file data to form: %w", err)
	}

	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = 36500 // ~100 years for "permanent" storage
	}

	fields := [][2]string{
		{"source_service", SourceService},
		{"source_id", req.SourceID},
		{"mime_type", req.MimeType},
		{"ttl_days", fmt.Sprintf("%d", ttlDays)},
	}
	if len(req.Metadata) > 0 {
		metadataJSON, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal metadata to JSON: %w", err)
		}
		fields = append(fields, [2]string{"metadata", string(metadataJSON)})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
