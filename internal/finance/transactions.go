package finance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Filter narrows ListTransactions. Zero values match everything; From and To
// are inclusive calendar days.
type Filter struct {
	From      time.Time
	To        time.Time
	Category  string
	InvoiceID string
}

// Match reports whether t passes the filter
func (f Filter) Match(t *Transaction) bool {
	if !f.From.IsZero() && t.Date.Before(startOfDay(f.From)) {
		return false
	}
	if !f.To.IsZero() && !t.Date.Before(startOfDay(f.To).AddDate(0, 0, 1)) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(t.Category, f.Category) {
		return false
	}
	if f.InvoiceID != "" && t.InvoiceID != f.InvoiceID {
		return false
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TransactionInput is a manually entered transaction
type TransactionInput struct {
	Date        time.Time
	Description string
	// Category is chosen by the categorizer when empty
	Category string
	Amount   decimal.Decimal
}

// TransactionUpdate changes the non-nil fields of a transaction
type TransactionUpdate struct {
	Date        *time.Time
	Description *string
	Category    *string
	Amount      *decimal.Decimal
}

// sortTransactions orders by date, newest first. Ties keep a stable order by
// creation time and then ID.
func sortTransactions(txns []*Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		a, b := txns[i], txns[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// CreateTransaction adds a manual transaction to the actor's household
func (s *Service) CreateTransaction(actor *Actor, in TransactionInput) (*Transaction, error) {
	householdID := actor.HouseholdID()
	if householdID == "" {
		return nil, ErrNoHousehold
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = s.categorizer.Categorize(description)
	}

	now := s.timeSource.Now()
	t := &Transaction{
		ID:          s.idGenerator.Generate(),
		HouseholdID: householdID,
		Date:        startOfDay(in.Date),
		Description: description,
		Category:    category,
		Amount:      in.Amount,
		CreatedBy:   actor.User.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveTransaction(t); err != nil {
		return nil, fmt.Errorf("saving transaction: %w", err)
	}
	return t, nil
}

// GetTransaction retrieves a transaction visible to the actor
func (s *Service) GetTransaction(actor *Actor, id string) (*Transaction, error) {
	t, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	if !canAccess(actor, t.HouseholdID) {
		return nil, fmt.Errorf("getting transaction: %w: transaction %s", ErrNotFound, id)
	}
	return t, nil
}

// UpdateTransaction applies the update to a transaction of the actor's household
func (s *Service) UpdateTransaction(actor *Actor, id string, upd TransactionUpdate) (*Transaction, error) {
	t, err := s.GetTransaction(actor, id)
	if err != nil {
		return nil, err
	}

	if upd.Date != nil {
		if upd.Date.IsZero() {
			return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
		}
		t.Date = startOfDay(*upd.Date)
	}
	if upd.Description != nil {
		description := strings.TrimSpace(*upd.Description)
		if description == "" {
			return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
		}
		t.Description = description
	}
	if upd.Category != nil {
		category := strings.TrimSpace(*upd.Category)
		if category == "" {
			category = s.categorizer.Categorize(t.Description)
		}
		t.Category = category
	}
	if upd.Amount != nil {
		t.Amount = *upd.Amount
	}
	t.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveTransaction(t); err != nil {
		return nil, fmt.Errorf("saving transaction: %w", err)
	}
	return t, nil
}

// DeleteTransaction removes a transaction of the actor's household
func (s *Service) DeleteTransaction(actor *Actor, id string) error {
	if _, err := s.GetTransaction(actor, id); err != nil {
		return err
	}
	if err := s.db.DeleteTransaction(id); err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the actor's household transactions, newest first
func (s *Service) ListTransactions(actor *Actor, f Filter) ([]*Transaction, error) {
	householdID := actor.HouseholdID()
	if householdID == "" {
		return nil, ErrNoHousehold
	}
	all, err := s.db.ListTransactions(householdID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	txns := make([]*Transaction, 0, len(all))
	for _, t := range all {
		if f.Match(t) {
			txns = append(txns, t)
		}
	}
	sortTransactions(txns)
	return txns, nil
}
