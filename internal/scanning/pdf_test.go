package scanning

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// statementPDF builds a single page PDF whose text layer holds the given lines
func statementPDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n")
	for _, l := range lines {
		fmt.Fprintf(&content, "(%s) Tj\n0 -16 Td\n", l)
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
	}

	buf := bytes.NewBufferString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func encryptPDF(data []byte, userPW, ownerPW string) []byte {
	conf := model.NewAESConfiguration(userPW, ownerPW, 256)
	var out bytes.Buffer
	Expect(api.Encrypt(bytes.NewReader(data), &out, conf)).To(Succeed())
	return out.Bytes()
}

var _ = Describe("DefaultPDFTools", func() {
	var (
		tools DefaultPDFTools
		plain []byte
	)

	BeforeEach(func() {
		api.DisableConfigDir()
		plain = statementPDF("Nubank", "Total a pagar R$ 107,20", "05 FEV Padaria R$ 23,90")
	})

	Describe("a plain PDF", func() {
		It("is not encrypted", func() {
			Expect(tools.Encrypted(plain)).To(BeFalse())
		})

		It("is not mistaken for encrypted when the text mentions /Encrypt", func() {
			Expect(tools.Encrypted(statementPDF("see /Encrypt in the manual"))).To(BeFalse())
		})

		It("reads the text layer", func() {
			pages, err := tools.TextLayer(plain)
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			Expect(pages[0]).To(ContainSubstring("Total a pagar R$ 107,20"))
		})

		It("renders up to the page cap and reports the page count", func() {
			images, total, err := tools.RenderPages(plain, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(images).To(HaveLen(1))
			Expect(images[0]).To(HavePrefix("\x89PNG"))
		})
	})

	Describe("a PDF with a user password", func() {
		var encrypted []byte

		BeforeEach(func() {
			encrypted = encryptPDF(plain, "12345", "bank-owner")
		})

		It("is encrypted", func() {
			Expect(tools.Encrypted(encrypted)).To(BeTrue())
		})

		It("decrypts with the user password", func() {
			out, err := tools.Decrypt(encrypted, "12345")
			Expect(err).NotTo(HaveOccurred())
			Expect(tools.Encrypted(out)).To(BeFalse())

			pages, err := tools.TextLayer(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Join(pages, "\n")).To(ContainSubstring("Total a pagar R$ 107,20"))
		})

		It("rejects a wrong password", func() {
			_, err := tools.Decrypt(encrypted, "54321")
			Expect(err).To(MatchError(ErrWrongPassword))
		})

		It("asks for a password when none is given", func() {
			_, err := tools.Decrypt(encrypted, "")
			Expect(err).To(MatchError(ErrPasswordRequired))
		})
	})

	Describe("a PDF with only an owner password", func() {
		var encrypted []byte

		BeforeEach(func() {
			encrypted = encryptPDF(plain, "", "bank-owner")
		})

		It("is encrypted", func() {
			Expect(tools.Encrypted(encrypted)).To(BeTrue())
		})

		It("decrypts without a password", func() {
			out, err := tools.Decrypt(encrypted, "")
			Expect(err).NotTo(HaveOccurred())

			pages, err := tools.TextLayer(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Join(pages, "\n")).To(ContainSubstring("05 FEV Padaria R$ 23,90"))
		})

		It("ignores a password the document does not need", func() {
			_, err := tools.Decrypt(encrypted, "12345")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("the pipeline over a real PDF", func() {
		It("reads an owner-only PDF without a password", func() {
			pipeline := NewPipelineWithDeps(newMockEngine(), DefaultPDFTools{}, PipelineConfig{MinTextLayerChars: 10})
			doc, err := pipeline.Scan(context.Background(), encryptPDF(plain, "", "bank-owner"), "application/pdf", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Source).To(Equal(SourceTextLayer))
			Expect(doc.Text).To(ContainSubstring("Nubank"))
		})

		It("reports a missing password for a user-protected PDF", func() {
			pipeline := NewPipelineWithDeps(newMockEngine(), DefaultPDFTools{}, PipelineConfig{MinTextLayerChars: 10})
			_, err := pipeline.Scan(context.Background(), encryptPDF(plain, "12345", "bank-owner"), "application/pdf", "")
			Expect(err).To(MatchError(ErrPasswordRequired))
		})
	})
})
