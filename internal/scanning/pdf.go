package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// renderDPI is high enough for Tesseract to read 8pt statement print
const renderDPI = 300

// PDFTools groups the PDF operations the pipeline needs
type PDFTools interface {
	// Encrypted reports whether the document carries an encryption dictionary
	Encrypted(data []byte) bool
	// Decrypt returns an unencrypted copy of the document
	Decrypt(data []byte, password string) ([]byte, error)
	// TextLayer returns the embedded text of every page, in page order
	TextLayer(data []byte) ([]string, error)
	// RenderPages renders up to maxPages pages as PNG images and returns the
	// total number of pages in the document
	RenderPages(data []byte, maxPages int) ([][]byte, int, error)
}

var disableConfigDir sync.Once

// pdfConfig returns a pdfcpu configuration that never touches the user's
// config directory
func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	return model.NewDefaultConfiguration()
}

// DefaultPDFTools implements PDFTools with pdfcpu, ledongthuc/pdf and go-fitz
type DefaultPDFTools struct{}

// Encrypted asks pdfcpu whether the document has an encryption dictionary.
// A document that cannot be opened without a user password is encrypted too.
func (DefaultPDFTools) Encrypted(data []byte) bool {
	ctx, err := api.ReadContext(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return errors.Is(err, pdfcpu.ErrWrongPassword)
	}
	return ctx.Encrypt != nil || ctx.E != nil
}

// Decrypt removes the encryption. Documents protected only by an owner
// password open with an empty password.
func (DefaultPDFTools) Decrypt(data []byte, password string) ([]byte, error) {
	out, err := decrypt(data, password)
	if err == nil {
		return out, nil
	}
	if password == "" {
		return nil, fmt.Errorf("%w: %w", ErrPasswordRequired, err)
	}

	// A password supplied for an owner-only document is not needed
	if out, emptyErr := decrypt(data, ""); emptyErr == nil {
		return out, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrWrongPassword, err)
}

func decrypt(data []byte, password string) ([]byte, error) {
	conf := pdfConfig()
	conf.UserPW = password
	conf.OwnerPW = password
	// Classic xref tables keep the output readable by the text layer reader
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false

	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &out, conf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// TextLayer reads the embedded text row by row so statement lines stay intact
func (DefaultPDFTools) TextLayer(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", i, err)
		}

		var b strings.Builder
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
		pages = append(pages, b.String())
	}
	return pages, nil
}

// RenderPages renders PDF pages to PNG for OCR and reports the document's
// page count
func (DefaultPDFTools) RenderPages(data []byte, maxPages int) ([][]byte, int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	n := total
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, renderDPI)
		if err != nil {
			return nil, 0, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pngData, err := encodePNG(img)
		if err != nil {
			return nil, 0, err
		}
		pages = append(pages, pngData)
	}
	return pages, total, nil
}
