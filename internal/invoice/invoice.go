// Package invoice turns the raw text of a credit card statement into a due
// date, a total and the list of transactions printed on it.
//
// Every supported statement layout is a Parser. Parsers are looked up by
// bank name, or detected from the text, through a Registry.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrDueDateNotFound = errors.New("due date not found")
	ErrTotalNotFound   = errors.New("invoice total not found")
	ErrUnknownBank     = errors.New("unknown bank")
	ErrNoParser        = errors.New("no parser matches the statement")
)

// Invoice is a parsed credit card statement.
type Invoice struct {
	Bank         string          `json:"bank"`
	DueDate      time.Time       `json:"due_date"`
	Total        decimal.Decimal `json:"total"`
	Transactions []Line          `json:"transactions"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Line is a single transaction on a statement. Positive amounts are charges,
// negative amounts are payments and credits.
type Line struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Installment *Installment    `json:"installment,omitempty"`
}

// Installment marks a purchase split across several statements ("parcela 2/10").
type Installment struct {
	Number int `json:"number"`
	Of     int `json:"of"`
}

// Charges returns the sum of positive amounts.
func (inv *Invoice) Charges() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range inv.Transactions {
		if l.Amount.IsPositive() {
			sum = sum.Add(l.Amount)
		}
	}
	return sum
}

// Credits returns the sum of negative amounts as a positive number.
func (inv *Invoice) Credits() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range inv.Transactions {
		if l.Amount.IsNegative() {
			sum = sum.Add(l.Amount.Neg())
		}
	}
	return sum
}

// finish records the warnings shared by every layout. A statement total
// usually carries balances from the previous cycle, so a mismatch against the
// transaction sum is only a warning.
func (inv *Invoice) finish() *Invoice {
	if len(inv.Transactions) == 0 {
		inv.Warnings = append(inv.Warnings, "no transactions found")
		return inv
	}
	if charges := inv.Charges(); !charges.Equal(inv.Total) {
		inv.Warnings = append(inv.Warnings, fmt.Sprintf(
			"transaction charges sum to %s but the invoice total is %s",
			charges.StringFixed(2), inv.Total.StringFixed(2)))
	}
	return inv
}
