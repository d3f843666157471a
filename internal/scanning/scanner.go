package scanning

import (
	"context"
	"errors"
)

// SourceTextLayer marks a Document whose text was read from an embedded PDF text layer
const SourceTextLayer = "text-layer"

var (
	ErrEmptyDocument     = errors.New("document is empty")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrPasswordRequired  = errors.New("document is password protected")
	ErrWrongPassword     = errors.New("document password is incorrect")
	ErrOCRFailed         = errors.New("ocr failed")
)

// Document contains the raw text extracted from an uploaded statement
type Document struct {
	Text     string `json:"text"`
	Pages    int    `json:"pages"`
	Source   string `json:"source"` // SourceTextLayer or the OCR engine name
	// Warnings describes content that was skipped while reading
	Warnings []string `json:"warnings,omitempty"`
}

// Engine turns a single rendered page into text
type Engine interface {
	// Name identifies the engine in Document.Source
	Name() string
	// ExtractText runs OCR over one PNG encoded page
	ExtractText(ctx context.Context, png []byte) (string, error)
	// Close releases any resources held by the engine
	Close() error
}

// Scanner defines the interface for converting a document into text
type Scanner interface {
	// Scan extracts text from a PDF or image. The password is only used for encrypted PDFs.
	Scan(ctx context.Context, data []byte, contentType string, password string) (*Document, error)
	// Close closes the scanner and releases resources
	Close() error
}
