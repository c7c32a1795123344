/**
 * Job Payloads and Dispatch for GlyphForge Worker
 *
 * Both queue backends carry the same payload and hand it to a jobRunner,
 * which applies the processing timeout, calls the processor and turns the
 * outcome into job status metadata.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/fragments"
	"github.com/adverant/nexus/glyphforge-worker/internal/processor"
)

// Job types
const (
	TaskSegmentImage = "segment-image"
	TaskBuildFont    = "build-font"
)

const defaultProcessingTimeout = 300000 * time.Millisecond

// JobPayload contains the job data for both job types
type JobPayload struct {
	JobID     string `json:"jobId"`
	ProjectID string `json:"projectId,omitempty"`

	// segment-image
	Filename   string `json:"filename,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	FileBuffer []byte `json:"fileBuffer,omitempty"` // decoded by UnmarshalJSON
	Mode       string `json:"mode,omitempty"`
	AutoBuild  bool   `json:"autoBuild,omitempty"`

	// build-font
	Commands    []fragments.Command `json:"commands,omitempty"`
	FamilyName  string              `json:"familyName,omitempty"`
	StyleName   string              `json:"styleName,omitempty"`
	PreviewText string              `json:"previewText,omitempty"`
}

// UnmarshalJSON implements custom JSON unmarshaling for JobPayload to handle Buffer serialization
// Supports both base64 string format (new) and Node.js Buffer object format (legacy)
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// followUp returns the build-font job scheduled after an autoBuild segmentation
func (p *JobPayload) followUp(projectID string) *JobPayload {
	return &JobPayload{
		JobID:       uuid.New().String(),
		ProjectID:   projectID,
		FamilyName:  p.FamilyName,
		StyleName:   p.StyleName,
		PreviewText: p.PreviewText,
	}
}

// enqueueFunc schedules a job of the given type on the consumer's queue
type enqueueFunc func(ctx context.Context, jobType string, payload *JobPayload) error

// jobRunner executes jobs against the processor
type jobRunner struct {
	processor processor.FontProcessorInterface
	timeout   time.Duration
	enqueue   enqueueFunc
}

func newJobRunner(proc processor.FontProcessorInterface, timeoutMs int64, enqueue enqueueFunc) *jobRunner {
	timeout := defaultProcessingTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &jobRunner{processor: proc, timeout: timeout, enqueue: enqueue}
}

// run executes one job under the processing timeout and returns the
// metadata recorded with the completed status
func (r *jobRunner) run(ctx context.Context, jobType string, p *JobPayload) (map[string]interface{}, error) {
	if p.JobID == "" {
		return nil, errors.NewInvalidCommandError(jobType, "job ID is required")
	}

	log.Printf("[Job %s] Processing timeout set to: %v", p.JobID, r.timeout)
	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		result map[string]interface{}
		err    error
	)
	switch jobType {
	case TaskSegmentImage:
		result, err = r.segment(processCtx, p)
	case TaskBuildFont:
		result, err = r.build(processCtx, p)
	default:
		return nil, errors.NewInvalidCommandError(jobType, "unknown job type")
	}

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && errors.CodeOf(err) != errors.ErrorProcessingTimeout {
			return nil, errors.NewProcessingTimeoutError(p.JobID, r.timeout, err)
		}
		return nil, err
	}
	return result, nil
}

func (r *jobRunner) segment(ctx context.Context, p *JobPayload) (map[string]interface{}, error) {
	log.Printf("[Job %s] Segmenting image: filename=%s, size=%d bytes, mode=%s",
		p.JobID, p.Filename, p.FileSize, p.Mode)

	res, err := r.processor.SegmentImage(ctx, &processor.SegmentRequest{
		JobID:      p.JobID,
		ProjectID:  p.ProjectID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileSize:   p.FileSize,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Mode:       p.Mode,
	})
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"projectId":      res.ProjectID,
		"mode":           res.Mode,
		"lines":          res.Lines,
		"fragments":      res.Fragments,
		"resolved":       res.Resolved,
		"fromMemory":     res.FromMemory,
		"processingTime": res.ProcessingTimeMs,
	}

	if p.AutoBuild && r.enqueue != nil {
		next := p.followUp(res.ProjectID)
		if err := r.enqueue(ctx, TaskBuildFont, next); err != nil {
			log.Printf("[Job %s] WARNING: Failed to schedule font build: %v", p.JobID, err)
		} else {
			log.Printf("[Job %s] Scheduled font build job %s", p.JobID, next.JobID)
			result["buildJobId"] = next.JobID
		}
	}
	return result, nil
}

func (r *jobRunner) build(ctx context.Context, p *JobPayload) (map[string]interface{}, error) {
	log.Printf("[Job %s] Building font: project=%s, commands=%d", p.JobID, p.ProjectID, len(p.Commands))

	res, err := r.processor.BuildFont(ctx, &processor.BuildRequest{
		JobID:       p.JobID,
		ProjectID:   p.ProjectID,
		Commands:    p.Commands,
		FamilyName:  p.FamilyName,
		StyleName:   p.StyleName,
		PreviewText: p.PreviewText,
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"projectId":         p.ProjectID,
		"buildId":           res.BuildID,
		"familyName":        res.FamilyName,
		"styleName":         res.StyleName,
		"glyphCount":        res.GlyphCount,
		"skipped":           len(res.Skipped),
		"fontSize":          res.FontSize,
		"fontArtifactId":    res.FontArtifactID,
		"fontUrl":           res.FontURL,
		"previewArtifactId": res.PreviewArtifactID,
		"processingTime":    res.ProcessingTimeMs,
	}, nil
}

// failureMetadata is the metadata recorded with the failed status
func failureMetadata(err error, duration time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"error":          err.Error(),
		"errorCode":      string(errors.CodeOf(err)),
		"processingTime": duration.Milliseconds(),
	}
}

// retryable reports whether running the same job again could succeed
func retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrorInvalidCommand,
		errors.ErrorUnsupportedFormat,
		errors.ErrorFragmentNotFound,
		errors.ErrorAssemblyFailed,
		errors.ErrorDegenerateGeometry:
		return false
	}
	return true
}
