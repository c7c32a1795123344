package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/glyphforge-worker/internal/errors"
	"github.com/adverant/nexus/glyphforge-worker/internal/raster"
)

// loadFile loads the image from the request buffer or URL
func (p *FontProcessor) loadFile(ctx context.Context, req *SegmentRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
			return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", len(req.FileBuffer), p.config.MaxFileSize)
		}
		log.Printf("[Job %s] Using file buffer (%d bytes)", req.JobID, len(req.FileBuffer))
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		log.Printf("[Job %s] Downloading file from URL: %s (fileSize=%d)", req.JobID, req.FileURL, req.FileSize)
		fileData, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL, req.FileSize)
		if err != nil {
			return nil, fmt.Errorf("failed to download file: %w", err)
		}
		log.Printf("[Job %s] File downloaded successfully (%d bytes)", req.JobID, len(fileData))
		return fileData, nil
	}

	return nil, fmt.Errorf("no file source provided (buffer or URL)")
}

// downloadFileFromURL downloads a file with exponential backoff between attempts
func (p *FontProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string, expectedSize int64) ([]byte, error) {
	const (
		maxRetries        = 5
		initialBackoffMs  = 1000
		maxBackoffMs      = 32000
		downloadTimeoutMs = 120000
	)

	client := &http.Client{
		Timeout: time.Duration(downloadTimeoutMs) * time.Millisecond,
	}

	backoff := func(attempt int) error {
		backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
		if backoffMs > maxBackoffMs {
			backoffMs = maxBackoffMs
		}
		log.Printf("[Job %s] Retrying in %dms...", jobID, backoffMs)
		select {
		case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry backoff")
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("[Job %s] Download attempt %d/%d from: %s", jobID, attempt, maxRetries, fileURL)

		data, retry, err := p.fetch(ctx, client, fileURL, expectedSize, jobID)
		if err == nil {
			log.Printf("[Job %s] Download successful on attempt %d: %d bytes", jobID, attempt, len(data))
			return data, nil
		}
		if !retry {
			return nil, err
		}

		lastErr = err
		log.Printf("[Job %s] Download attempt %d failed: %v", jobID, attempt, err)
		if attempt < maxRetries {
			if err := backoff(attempt); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr)
}

// fetch performs one download attempt; retry reports whether a failure is transient
func (p *FontProcessor) fetch(ctx context.Context, client *http.Client, fileURL string, expectedSize int64, jobID string) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	contentLength := resp.ContentLength
	if contentLength > 0 && expectedSize > 0 && contentLength != expectedSize {
		log.Printf("[Job %s] WARNING: Content-Length mismatch. Expected=%d, Got=%d",
			jobID, expectedSize, contentLength)
	}

	maxReadBytes := p.config.MaxFileSize
	if maxReadBytes > 0 && contentLength > maxReadBytes {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", contentLength, maxReadBytes)
	}
	if maxReadBytes <= 0 {
		maxReadBytes = 1 << 30
	}

	// Read one byte past the limit to detect oversized bodies without Content-Length
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxReadBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > maxReadBytes {
		return nil, false, fmt.Errorf("file size exceeds maximum: more than %d bytes", maxReadBytes)
	}
	return data, false, nil
}

// detectMimeTypeFromMagicBytes detects the image MIME type from content magic bytes
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	return ""
}

// decodeImage decodes data into an immutable RGBA source image
func decodeImage(jobID string, data []byte, declaredMime string) (*image.RGBA, string, error) {
	mimeType := detectMimeTypeFromMagicBytes(data)
	if mimeType == "" || mimeType == "application/pdf" {
		if mimeType == "" {
			mimeType = declaredMime
		}
		return nil, mimeType, errors.NewUnsupportedFormatError(jobID, mimeType)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, mimeType, fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}

	if b := img.Bounds(); b.Empty() {
		return nil, mimeType, errors.NewDegenerateGeometryError("source image", b.Dx(), b.Dy())
	}
	return raster.Flatten(img), mimeType, nil
}
