package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for GlyphForge Worker
 *
 * Structural failures (degenerate geometry, assembly, serialization) abort
 * only the current build. Recognition misses never produce an error.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout  ErrorCode = "PROCESSING_TIMEOUT"
	ErrorRecognitionFailed  ErrorCode = "RECOGNITION_FAILED"
	ErrorUnsupportedFormat  ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorDegenerateGeometry ErrorCode = "DEGENERATE_GEOMETRY"

	// Font build errors
	ErrorAssemblyFailed      ErrorCode = "ASSEMBLY_FAILED"
	ErrorSerializationFailed ErrorCode = "SERIALIZATION_FAILED"

	// Fragment store errors
	ErrorFragmentNotFound ErrorCode = "FRAGMENT_NOT_FOUND"
	ErrorInvalidCommand   ErrorCode = "INVALID_COMMAND"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrorAPICallFailed  ErrorCode = "API_CALL_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the code of the first ProcessingError in err's chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewRecognitionFailedError(jobID string, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("Recognition failed at stage: %s", stage),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"recognition_stage": stage,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewDegenerateGeometryError(subject string, width, height int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDegenerateGeometry,
		Message:   fmt.Sprintf("Degenerate geometry for %s: %dx%d", subject, width, height),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"subject": subject,
			"width":   width,
			"height":  height,
		},
	}
}

func NewAssemblyFailedError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAssemblyFailed,
		Message:   fmt.Sprintf("Font assembly failed: %s", reason),
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewSerializationFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorSerializationFailed,
		Message:   "Font serialization failed",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewFragmentNotFoundError(fragmentID string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFragmentNotFound,
		Message:   fmt.Sprintf("Fragment not found: %s", fragmentID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"fragment_id": fragmentID,
		},
	}
}

func NewInvalidCommandError(op string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidCommand,
		Message:   fmt.Sprintf("Invalid %s command: %s", op, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"op": op,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithJob stamps the job ID onto an error created outside a job context
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	e.JobID = jobID
	return e
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
