package finance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/household-finance/internal/invoice"
)

// Role controls what a user may do
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Household groups the users that share transactions and invoices
type Household struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account that can sign in to the API
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Role         Role      `json:"role"`
	HouseholdID  string    `json:"household_id,omitempty"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public returns a copy of the user without the password hash
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}

// IsActiveAdmin reports whether u is an admin that can sign in
func (u *User) IsActiveAdmin() bool {
	return u.Role == RoleAdmin && !u.Disabled
}

// Transaction is a single charge or credit belonging to a household.
// Positive amounts are money spent, negative amounts are payments and refunds.
type Transaction struct {
	ID          string               `json:"id"`
	HouseholdID string               `json:"household_id"`
	InvoiceID   string               `json:"invoice_id,omitempty"`
	Date        time.Time            `json:"date"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	Amount      decimal.Decimal      `json:"amount"`
	Installment *invoice.Installment `json:"installment,omitempty"`
	CreatedBy   string               `json:"created_by"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// InvoiceRecord is an imported credit card statement
type InvoiceRecord struct {
	ID             string          `json:"id"`
	HouseholdID    string          `json:"household_id"`
	Bank           string          `json:"bank"`
	DueDate        time.Time       `json:"due_date"`
	Total          decimal.Decimal `json:"total"`
	Filename       string          `json:"filename"`
	ContentType    string          `json:"content_type"`
	Source         string          `json:"source"` // text-layer or the OCR engine name
	Pages          int             `json:"pages"`
	TransactionIDs []string        `json:"transaction_ids"`
	Warnings       []string        `json:"warnings,omitempty"`
	ImportedBy     string          `json:"imported_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ImpersonationSession lets an admin act as another user until it expires or ends
type ImpersonationSession struct {
	Token        string     `json:"token"`
	AdminID      string     `json:"admin_id"`
	TargetUserID string     `json:"target_user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session can still be used at now
func (s *ImpersonationSession) Active(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// AuditEvent records a privileged or state-changing action
type AuditEvent struct {
	ID             string    `json:"id"`
	Time           time.Time `json:"time"`
	ActorID        string    `json:"actor_id"`
	ImpersonatorID string    `json:"impersonator_id,omitempty"`
	Action         string    `json:"action"`
	Target         string    `json:"target,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

// Actor is the user a request acts as. Impersonator is set when an admin
// is acting through an impersonation session.
type Actor struct {
	User         *User
	Impersonator *User
}

// HouseholdID returns the household the actor works in
func (a *Actor) HouseholdID() string {
	return a.User.HouseholdID
}

// IsAdmin reports whether the effective user is an admin
func (a *Actor) IsAdmin() bool {
	return a.User.Role == RoleAdmin
}
