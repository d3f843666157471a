package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// PipelineConfig tunes how documents are turned into text
type PipelineConfig struct {
	// MinTextLayerChars is the number of non-space characters a PDF text layer
	// must contain before OCR is skipped
	MinTextLayerChars int
	// Concurrency bounds how many pages are OCR'd at once
	Concurrency int
	// MaxPages caps how many pages of a scanned PDF are OCR'd
	MaxPages int
}

// DefaultPipelineConfig returns the settings used by the server
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinTextLayerChars: 40,
		Concurrency:       2,
		MaxPages:          20,
	}
}

// Pipeline implements Scanner: PDF decrypt, text layer, then OCR as a fallback
type Pipeline struct {
	engine Engine
	pdf    PDFTools
	cfg    PipelineConfig
}

// NewPipeline creates a Pipeline backed by the given OCR engine
func NewPipeline(engine Engine, cfg PipelineConfig) *Pipeline {
	return NewPipelineWithDeps(engine, DefaultPDFTools{}, cfg)
}

// NewPipelineWithDeps creates a Pipeline with custom PDF tooling for testing
func NewPipelineWithDeps(engine Engine, tools PDFTools, cfg PipelineConfig) *Pipeline {
	defaults := DefaultPipelineConfig()
	if cfg.MinTextLayerChars <= 0 {
		cfg.MinTextLayerChars = defaults.MinTextLayerChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	return &Pipeline{engine: engine, pdf: tools, cfg: cfg}
}

// Scan extracts text from a statement
func (p *Pipeline) Scan(ctx context.Context, data []byte, contentType string, password string) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	mimeType := normalizeContentType(contentType, data)
	if mimeType == mimePDF {
		return p.scanPDF(ctx, data, password)
	}

	pngData, err := toPNG(data, mimeType)
	if err != nil {
		return nil, err
	}

	text, err := p.ocr(ctx, [][]byte{pngData})
	if err != nil {
		return nil, err
	}
	return &Document{Text: text, Pages: 1, Source: p.engine.Name()}, nil
}

func (p *Pipeline) scanPDF(ctx context.Context, data []byte, password string) (*Document, error) {
	if p.pdf.Encrypted(data) {
		decrypted, err := p.pdf.Decrypt(data, password)
		if err != nil {
			return nil, err
		}
		data = decrypted
	}

	pages, err := p.pdf.TextLayer(data)
	if err != nil {
		slog.Debug("PDF text layer unavailable, falling back to OCR", "error", err)
	} else {
		text := strings.Join(pages, "\n\n")
		if countNonSpace(text) >= p.cfg.MinTextLayerChars {
			return &Document{Text: text, Pages: len(pages), Source: SourceTextLayer}, nil
		}
	}

	images, total, err := p.pdf.RenderPages(data, p.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	if len(images) == 0 {
		return nil, ErrEmptyDocument
	}

	text, err := p.ocr(ctx, images)
	if err != nil {
		return nil, err
	}

	doc := &Document{Text: text, Pages: len(images), Source: p.engine.Name()}
	if total > len(images) {
		slog.Warn("Scanned PDF exceeds the page limit", "pages", total, "read", len(images))
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("only the first %d of %d pages were read", len(images), total))
	}
	return doc, nil
}

// ocr runs the engine over every page concurrently and joins the results in page order
func (p *Pipeline) ocr(ctx context.Context, pages [][]byte) (string, error) {
	texts := make([]string, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, page := range pages {
		g.Go(func() error {
			text, err := p.engine.ExtractText(gctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Failed to OCR document",
			"engine", p.engine.Name(),
			"pages", len(pages),
			"error", err,
		)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrOCRFailed, err)
	}

	return strings.Join(texts, "\n\n"), nil
}

// Close closes the underlying engine
func (p *Pipeline) Close() error {
	return p.engine.Close()
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
