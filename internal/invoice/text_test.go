package invoice

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseAmount", func() {
	DescribeTable("parses printed amounts",
		func(input string, expected string) {
			d, err := ParseAmount(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.StringFixed(2)).To(Equal(expected))
		},
		Entry("comma decimal with thousands", "1.234,56", "1234.56"),
		Entry("dot decimal with thousands", "1,234.56", "1234.56"),
		Entry("real symbol", "R$ 23,90", "23.90"),
		Entry("dollar symbol", "$45.99", "45.99"),
		Entry("leading minus before symbol", "-R$ 500,00", "-500.00"),
		Entry("unicode minus", "−R$ 500,00", "-500.00"),
		Entry("minus after symbol", "R$ -12,00", "-12.00"),
		Entry("trailing minus", "23,90-", "-23.90"),
		Entry("CR suffix", "5.75 CR", "-5.75"),
		Entry("parentheses", "(12.00)", "-12.00"),
		Entry("thousands without decimals", "1.234", "1234.00"),
		Entry("single decimal digit", "12,5", "12.50"),
		Entry("plain integer", "70", "70.00"),
	)

	It("rejects text without digits", func() {
		_, err := ParseAmount("R$")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Fold", func() {
	It("lowercases and strips accents", func() {
		Expect(Fold("Itaú TRANSAÇÕES Março")).To(Equal("itau transacoes marco"))
	})
})

var _ = Describe("normalizeLines", func() {
	It("drops blank lines and OCR table noise", func() {
		lines := normalizeLines("| 05/02   PADARIA  23,90 |\r\n\r\n  • item  \n")
		Expect(lines).To(Equal([]string{"05/02 PADARIA 23,90", "item"}))
	})
})

var _ = Describe("inferDate", func() {
	var due time.Time

	BeforeEach(func() {
		due = time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	})

	It("uses the due date's year for earlier months", func() {
		d, ok := inferDate(5, time.January, due)
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)))
	})

	It("moves later months to the previous year", func() {
		d, ok := inferDate(28, time.December, due)
		Expect(ok).To(BeTrue())
		Expect(d.Year()).To(Equal(2023))
	})

	It("rejects impossible dates", func() {
		_, ok := inferDate(31, time.February, due)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("parseMonth", func() {
	DescribeTable("accepts Portuguese and English names",
		func(input string, expected time.Month) {
			m, ok := parseMonth(input)
			Expect(ok).To(BeTrue())
			Expect(m).To(Equal(expected))
		},
		Entry("pt abbreviation", "FEV", time.February),
		Entry("pt full name with accent", "Março", time.March),
		Entry("en full name", "December", time.December),
		Entry("pt dezembro", "dez", time.December),
	)

	It("rejects unknown tokens", func() {
		_, ok := parseMonth("xyz")
		Expect(ok).To(BeFalse())
	})
})
