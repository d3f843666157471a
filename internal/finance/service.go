package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/household-finance/internal/invoice"
	"github.com/zombor/household-finance/internal/scanning"
)

// DefaultImpersonationTTL is how long an impersonation token stays valid
const DefaultImpersonationTTL = time.Hour

// IDGenerator generates unique IDs for stored records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Service implements the household finance operations
type Service struct {
	db               DB
	scanner          scanning.Scanner
	parsers          *invoice.Registry
	categorizer      *Categorizer
	storage          Storage
	idGenerator      IDGenerator
	timeSource       TimeSource
	impersonationTTL time.Duration
}

// NewService creates a new Service with UUIDs and the system clock
func NewService(db DB, scanner scanning.Scanner, parsers *invoice.Registry, categorizer *Categorizer, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, parsers, categorizer, storage, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, parsers *invoice.Registry, categorizer *Categorizer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:               db,
		scanner:          scanner,
		parsers:          parsers,
		categorizer:      categorizer,
		storage:          storage,
		idGenerator:      idGen,
		timeSource:       timeSrc,
		impersonationTTL: DefaultImpersonationTTL,
	}
}

// SetImpersonationTTL changes how long new impersonation sessions last
func (s *Service) SetImpersonationTTL(d time.Duration) {
	if d > 0 {
		s.impersonationTTL = d
	}
}

// Banks lists the statement layouts that can be imported
func (s *Service) Banks() []string {
	return s.parsers.Banks()
}

// Categories lists the category names transactions can be assigned
func (s *Service) Categories() []string {
	return s.categorizer.Categories()
}

// ImportRequest is an uploaded statement
type ImportRequest struct {
	Filename    string
	Data        []byte
	ContentType string
	// Bank selects the layout; empty detects it from the text
	Bank string
	// Password unlocks encrypted PDF statements
	Password string
}

// ImportResult is a stored invoice with the transactions created from it
type ImportResult struct {
	Invoice      *InvoiceRecord `json:"invoice"`
	Transactions []*Transaction `json:"transactions"`
}

// ParsedLine is a statement line with the category it would receive
type ParsedLine struct {
	invoice.Line
	Category string `json:"category"`
}

// ParseResult is the outcome of a dry-run parse
type ParseResult struct {
	Bank         string          `json:"bank"`
	DueDate      time.Time       `json:"due_date"`
	Total        decimal.Decimal `json:"total"`
	Transactions []ParsedLine    `json:"transactions"`
	Warnings     []string        `json:"warnings,omitempty"`
	Source       string          `json:"source"`
	Pages        int             `json:"pages"`
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces      = regexp.MustCompile(`\s+`)
	filenameExt         = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

// sanitizeFilename keeps letters, digits, spaces, hyphens and underscores,
// and truncates long names from banking apps
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !filenameExt.MatchString(ext) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "statement"
	}
	return base + ext
}

// read scans and parses a statement without storing anything
func (s *Service) read(ctx context.Context, req ImportRequest) (*scanning.Document, *invoice.Invoice, error) {
	if len(req.Data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}

	doc, err := s.scanner.Scan(ctx, req.Data, req.ContentType, req.Password)
	if err != nil {
		slog.Error("Failed to scan statement",
			"filename", req.Filename,
			"content_type", req.ContentType,
			"file_size", len(req.Data),
			"error", err,
		)
		return nil, nil, fmt.Errorf("scanning statement: %w", err)
	}

	inv, err := s.parsers.Parse(doc.Text, req.Bank)
	if err != nil {
		slog.Warn("Failed to parse statement",
			"filename", req.Filename,
			"bank", req.Bank,
			"source", doc.Source,
			"error", err,
		)
		return nil, nil, err
	}
	inv.Warnings = append(inv.Warnings, doc.Warnings...)
	for _, w := range inv.Warnings {
		slog.Warn("Statement parsed with warnings", "bank", inv.Bank, "warning", w)
	}
	return doc, inv, nil
}

// ParseInvoice scans and parses a statement and reports what an import would
// create. Nothing is persisted.
func (s *Service) ParseInvoice(ctx context.Context, req ImportRequest) (*ParseResult, error) {
	doc, inv, err := s.read(ctx, req)
	if err != nil {
		return nil, err
	}

	lines := make([]ParsedLine, 0, len(inv.Transactions))
	for _, l := range inv.Transactions {
		lines = append(lines, ParsedLine{Line: l, Category: s.categorizer.Categorize(l.Description)})
	}
	return &ParseResult{
		Bank:         inv.Bank,
		DueDate:      inv.DueDate,
		Total:        inv.Total,
		Transactions: lines,
		Warnings:     inv.Warnings,
		Source:       doc.Source,
		Pages:        doc.Pages,
	}, nil
}

// ImportInvoice stores the statement file, parses it and saves the invoice and
// its categorized transactions for the actor's household
func (s *Service) ImportInvoice(ctx context.Context, actor *Actor, req ImportRequest) (*ImportResult, error) {
	householdID := actor.HouseholdID()
	if householdID == "" {
		return nil, ErrNoHousehold
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(req.Filename)), req.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	doc, inv, err := s.read(ctx, req)
	if err != nil {
		s.discard(savedPath)
		s.audit(actor, "invoice.import_failed", req.Filename, err.Error())
		return nil, err
	}

	rec := &InvoiceRecord{
		ID:          id,
		HouseholdID: householdID,
		Bank:        inv.Bank,
		DueDate:     inv.DueDate,
		Total:       inv.Total,
		Filename:    savedPath,
		ContentType: req.ContentType,
		Source:      doc.Source,
		Pages:       doc.Pages,
		Warnings:    inv.Warnings,
		ImportedBy:  actor.User.ID,
		CreatedAt:   now,
	}

	txns := make([]*Transaction, 0, len(inv.Transactions))
	for _, l := range inv.Transactions {
		t := &Transaction{
			ID:          s.idGenerator.Generate(),
			HouseholdID: householdID,
			InvoiceID:   id,
			Date:        l.Date,
			Description: l.Description,
			Category:    s.categorizer.Categorize(l.Description),
			Amount:      l.Amount,
			Installment: l.Installment,
			CreatedBy:   actor.User.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		txns = append(txns, t)
		rec.TransactionIDs = append(rec.TransactionIDs, t.ID)
	}

	if err := s.db.SaveInvoice(rec, txns); err != nil {
		s.discard(savedPath)
		if errors.Is(err, ErrDuplicateInvoice) {
			s.audit(actor, "invoice.import_failed", req.Filename, err.Error())
			return nil, err
		}
		return nil, fmt.Errorf("saving invoice to database: %w", err)
	}

	slog.Info("Imported invoice",
		"id", id,
		"bank", rec.Bank,
		"due_date", rec.DueDate.Format("2006-01-02"),
		"transactions", len(txns),
		"source", rec.Source,
	)
	s.audit(actor, "invoice.import", id, fmt.Sprintf("%s %d transactions", rec.Bank, len(txns)))

	return &ImportResult{Invoice: rec, Transactions: txns}, nil
}

func (s *Service) discard(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// canAccess allows admins everywhere and members in their own household
func canAccess(actor *Actor, householdID string) bool {
	return actor.IsAdmin() || (householdID != "" && actor.HouseholdID() == householdID)
}

// GetInvoice retrieves an invoice visible to the actor
func (s *Service) GetInvoice(actor *Actor, id string) (*InvoiceRecord, error) {
	rec, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if !canAccess(actor, rec.HouseholdID) {
		return nil, fmt.Errorf("getting invoice: %w: invoice %s", ErrNotFound, id)
	}
	return rec, nil
}

// GetInvoiceWithTransactions retrieves an invoice with its transactions, newest first
func (s *Service) GetInvoiceWithTransactions(actor *Actor, id string) (*InvoiceRecord, []*Transaction, error) {
	rec, err := s.GetInvoice(actor, id)
	if err != nil {
		return nil, nil, err
	}

	txns := make([]*Transaction, 0, len(rec.TransactionIDs))
	for _, tid := range rec.TransactionIDs {
		t, err := s.db.GetTransaction(tid)
		if err != nil {
			return nil, nil, fmt.Errorf("getting transaction %s: %w", tid, err)
		}
		txns = append(txns, t)
	}
	sortTransactions(txns)
	return rec, txns, nil
}

// ListInvoices returns the actor's household invoices, latest due date first
func (s *Service) ListInvoices(actor *Actor) ([]*InvoiceRecord, error) {
	householdID := actor.HouseholdID()
	if householdID == "" {
		return nil, ErrNoHousehold
	}
	recs, err := s.db.ListInvoices(householdID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].DueDate.Equal(recs[j].DueDate) {
			return recs[i].DueDate.After(recs[j].DueDate)
		}
		return recs[i].Bank < recs[j].Bank
	})
	return recs, nil
}

// GetInvoiceFile retrieves the uploaded statement and its content type
func (s *Service) GetInvoiceFile(actor *Actor, id string) ([]byte, string, error) {
	rec, err := s.GetInvoice(actor, id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.storage.Get(rec.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}
	return data, rec.ContentType, nil
}

// DeleteInvoice removes an invoice, its transactions and its file
func (s *Service) DeleteInvoice(actor *Actor, id string) error {
	rec, err := s.GetInvoice(actor, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice from database: %w", err)
	}
	s.discard(rec.Filename)
	s.audit(actor, "invoice.delete", id, rec.Bank)
	return nil
}

// audit records an event. Failures are logged and never fail the operation.
func (s *Service) audit(actor *Actor, action, target, detail string) {
	e := &AuditEvent{
		ID:     s.idGenerator.Generate(),
		Time:   s.timeSource.Now(),
		Action: action,
		Target: target,
		Detail: detail,
	}
	if actor != nil {
		e.ActorID = actor.User.ID
		if actor.Impersonator != nil {
			e.ImpersonatorID = actor.Impersonator.ID
		}
	}
	if err := s.db.AppendAudit(e); err != nil {
		slog.Warn("Failed to record audit event", "action", action, "error", err)
	}
}

// ListAuditEvents returns the most recent audit events
func (s *Service) ListAuditEvents(actor *Actor, limit int) ([]*AuditEvent, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	events, err := s.db.ListAudit(limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return events, nil
}
