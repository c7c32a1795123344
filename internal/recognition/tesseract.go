/**
 * Tesseract Engine
 *
 * Local, offline recognition through gosseract. Each call gets its own
 * client; the cgo call itself cannot be interrupted, so a cancelled context
 * abandons the call and the client is closed when Tesseract returns.
 * An abandoned call keeps running in the background and can overlap the
 * calls made after it.
 */

package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine implements Engine with gosseract
type TesseractEngine struct {
	language string
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
}

// NewTesseractEngine creates a new Tesseract engine
func NewTesseractEngine(cfg *TesseractConfig) (*TesseractEngine, error) {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}

	return &TesseractEngine{
		language: cfg.Language,
	}, nil
}

// Version reports the linked Tesseract version
func (t *TesseractEngine) Version() string {
	return gosseract.Version()
}

var pageSegModes = map[Mode]gosseract.PageSegMode{
	ModeLine: gosseract.PSM_SINGLE_LINE,
	ModeWord: gosseract.PSM_SINGLE_WORD,
	ModeChar: gosseract.PSM_SINGLE_CHAR,
}

// Recognize performs constrained recognition of a single region
func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image, whitelist string, mode Mode) (string, error) {
	psm, ok := pageSegModes[mode]
	if !ok {
		return "", fmt.Errorf("unsupported recognition mode: %v", mode)
	}

	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}

	var text string
	err = t.withClient(ctx, func(client *gosseract.Client) error {
		if err := client.SetPageSegMode(psm); err != nil {
			return fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
		if whitelist != "" {
			if err := client.SetWhitelist(whitelist); err != nil {
				return fmt.Errorf("failed to set whitelist: %w", err)
			}
		}
		if err := client.SetImageFromBytes(data); err != nil {
			return fmt.Errorf("failed to set image: %w", err)
		}
		out, err := client.Text()
		if err != nil {
			return fmt.Errorf("tesseract recognition failed: %w", err)
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// RecognizePage performs unconstrained recognition of a whole image
func (t *TesseractEngine) RecognizePage(ctx context.Context, img image.Image) (*Page, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	err = t.withClient(ctx, func(client *gosseract.Client) error {
		if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
			return fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
		if err := client.SetImageFromBytes(data); err != nil {
			return fmt.Errorf("failed to set image: %w", err)
		}

		text, err := client.Text()
		if err != nil {
			return fmt.Errorf("tesseract recognition failed: %w", err)
		}
		page.Text = text

		lines, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
		if err != nil {
			return fmt.Errorf("failed to read line boxes: %w", err)
		}
		for _, b := range lines {
			page.Lines = append(page.Lines, TextRegion{Text: b.Word, Box: b.Box, Confidence: b.Confidence})
		}

		words, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			return fmt.Errorf("failed to read word boxes: %w", err)
		}
		for _, b := range words {
			page.Words = append(page.Words, TextRegion{Text: b.Word, Box: b.Box, Confidence: b.Confidence})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// withClient runs fn against a fresh client, giving up when ctx ends
func (t *TesseractEngine) withClient(ctx context.Context, fn func(*gosseract.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		client := gosseract.NewClient()
		defer client.Close()

		if err := client.SetLanguage(t.language); err != nil {
			done <- fmt.Errorf("failed to set language %q: %w", t.language, err)
			return
		}
		done <- fn(client)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
