package finance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryTotal is the net amount of one category in a month
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// UpcomingInvoice is an invoice whose due date has not passed
type UpcomingInvoice struct {
	InvoiceID string          `json:"invoice_id"`
	Bank      string          `json:"bank"`
	DueDate   time.Time       `json:"due_date"`
	Total     decimal.Decimal `json:"total"`
}

// Summary is the dashboard view of one household month
type Summary struct {
	Month            string            `json:"month"`
	Spent            decimal.Decimal   `json:"spent"`
	Credited         decimal.Decimal   `json:"credited"`
	Net              decimal.Decimal   `json:"net"`
	TransactionCount int               `json:"transaction_count"`
	Categories       []CategoryTotal   `json:"categories"`
	Upcoming         []UpcomingInvoice `json:"upcoming"`
}

// ParseMonth parses YYYY-MM. An empty string is the current month of now.
func ParseMonth(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalidInput)
	}
	return t, nil
}

// Summary totals the actor's household transactions dated in month
func (s *Service) Summary(actor *Actor, month time.Time) (*Summary, error) {
	householdID := actor.HouseholdID()
	if householdID == "" {
		return nil, ErrNoHousehold
	}

	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	txns, err := s.ListTransactions(actor, Filter{From: start, To: start.AddDate(0, 1, -1)})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Month:            start.Format("2006-01"),
		Spent:            decimal.Zero,
		Credited:         decimal.Zero,
		TransactionCount: len(txns),
		Categories:       make([]CategoryTotal, 0),
		Upcoming:         make([]UpcomingInvoice, 0),
	}

	byCategory := make(map[string]*CategoryTotal)
	for _, t := range txns {
		if t.Amount.IsNegative() {
			sum.Credited = sum.Credited.Add(t.Amount.Neg())
		} else {
			sum.Spent = sum.Spent.Add(t.Amount)
		}
		ct, ok := byCategory[t.Category]
		if !ok {
			ct = &CategoryTotal{Category: t.Category, Total: decimal.Zero}
			byCategory[t.Category] = ct
		}
		ct.Total = ct.Total.Add(t.Amount)
		ct.Count++
	}
	sum.Net = sum.Spent.Sub(sum.Credited)

	for _, ct := range byCategory {
		sum.Categories = append(sum.Categories, *ct)
	}
	sort.Slice(sum.Categories, func(i, j int) bool {
		a, b := sum.Categories[i], sum.Categories[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Category < b.Category
	})

	invoices, err := s.db.ListInvoices(householdID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	today := startOfDay(s.timeSource.Now())
	for _, rec := range invoices {
		if rec.DueDate.Before(today) {
			continue
		}
		sum.Upcoming = append(sum.Upcoming, UpcomingInvoice{
			InvoiceID: rec.ID,
			Bank:      rec.Bank,
			DueDate:   rec.DueDate,
			Total:     rec.Total,
		})
	}
	sort.Slice(sum.Upcoming, func(i, j int) bool {
		return sum.Upcoming[i].DueDate.Before(sum.Upcoming[j].DueDate)
	})

	return sum, nil
}
