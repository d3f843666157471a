package scanning

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Engine interface using a local Tesseract install
type Tesseract struct {
	languages      []string
	tessdataPrefix string
}

// NewTesseract creates a Tesseract engine. Languages default to Portuguese + English,
// which covers every built-in statement layout.
func NewTesseract(tessdataPrefix string, languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"por", "eng"}
	}
	return &Tesseract{
		languages:      languages,
		tessdataPrefix: tessdataPrefix,
	}
}

// Name returns the engine name
func (t *Tesseract) Name() string {
	return "tesseract"
}

// ExtractText runs Tesseract over one page
// gosseract clients are not safe for concurrent use, so every page gets its own
func (t *Tesseract) ExtractText(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPrefix != "" {
		client.SetTessdataPrefix(t.tessdataPrefix)
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	// Statements are laid out in columns; treat the page as a single block of text
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	return text, nil
}

// Close is a no-op: clients are created per page
func (t *Tesseract) Close() error {
	return nil
}
