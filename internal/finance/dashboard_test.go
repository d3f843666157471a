package finance

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Summary", func() {
	var (
		f       *fixture
		summary *Summary
		err     error
	)

	BeforeEach(func() {
		f = newFixture()
		f.importStatement(f.member)
	})

	JustBeforeEach(func() {
		summary, err = f.service.Summary(f.member, day(2024, 2, 1))
	})

	It("totals spending and credits for the month", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Month).To(Equal("2024-02"))
		Expect(summary.TransactionCount).To(Equal(4))
		Expect(summary.Spent.StringFixed(2)).To(Equal("107.20"))
		Expect(summary.Credited.StringFixed(2)).To(Equal("500.00"))
		Expect(summary.Net.StringFixed(2)).To(Equal("-392.80"))
	})

	It("sorts category totals by amount", func() {
		Expect(summary.Categories).To(HaveLen(3))
		Expect(summary.Categories[0].Category).To(Equal("groceries"))
		Expect(summary.Categories[0].Total.StringFixed(2)).To(Equal("91.80"))
		Expect(summary.Categories[0].Count).To(Equal(2))
		Expect(summary.Categories[1].Category).To(Equal("transport"))
		Expect(summary.Categories[2].Category).To(Equal("payments"))
	})

	It("lists invoices that are not yet due", func() {
		Expect(summary.Upcoming).To(HaveLen(1))
		Expect(summary.Upcoming[0].Bank).To(Equal("nubank"))
		Expect(summary.Upcoming[0].DueDate).To(Equal(day(2024, 3, 15)))
	})

	When("the due date has passed", func() {
		BeforeEach(func() {
			f.clock.now = time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)
		})

		It("has no upcoming invoices", func() {
			Expect(summary.Upcoming).To(BeEmpty())
		})
	})

	When("the invoice is due today", func() {
		BeforeEach(func() {
			f.clock.now = time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)
		})

		It("is still upcoming", func() {
			Expect(summary.Upcoming).To(HaveLen(1))
		})
	})

	It("ignores other months", func() {
		other, err := f.service.Summary(f.member, day(2024, 3, 1))
		Expect(err).NotTo(HaveOccurred())
		Expect(other.TransactionCount).To(BeZero())
		Expect(other.Spent.IsZero()).To(BeTrue())
		Expect(other.Categories).To(BeEmpty())
	})

	It("ignores other households", func() {
		other, err := f.service.Summary(f.other, day(2024, 2, 1))
		Expect(err).NotTo(HaveOccurred())
		Expect(other.TransactionCount).To(BeZero())
		Expect(other.Upcoming).To(BeEmpty())
	})
})

var _ = Describe("ParseMonth", func() {
	now := time.Date(2024, 7, 19, 10, 0, 0, 0, time.UTC)

	It("parses YYYY-MM", func() {
		m, err := ParseMonth("2024-02", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(day(2024, 2, 1)))
	})

	It("defaults to the current month", func() {
		m, err := ParseMonth("", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(day(2024, 7, 1)))
	})

	It("rejects other formats", func() {
		_, err := ParseMonth("02/2024", now)
		Expect(err).To(MatchError(ErrInvalidInput))
	})
})
