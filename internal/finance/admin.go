package finance

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted for new credentials
const MinPasswordLength = 8

var passwordCost = bcrypt.DefaultCost

// NewUser describes an account to create
type NewUser struct {
	Username    string
	Password    string
	Role        Role
	HouseholdID string
}

// UserUpdate changes the non-nil fields of a user
type UserUpdate struct {
	Role        *Role
	HouseholdID *string
	Disabled    *bool
	Password    *string
}

// Metrics is the back-office overview
type Metrics struct {
	Users                int            `json:"users"`
	UsersByRole          map[Role]int   `json:"users_by_role"`
	DisabledUsers        int            `json:"disabled_users"`
	Households           int            `json:"households"`
	Transactions         int            `json:"transactions"`
	Invoices             int            `json:"invoices"`
	ImportsBySource      map[string]int `json:"imports_by_source"`
	FailedImports        int            `json:"failed_imports"`
	ActiveImpersonations int            `json:"active_impersonations"`
}

func requireAdmin(actor *Actor) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) checkHousehold(id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.db.GetHousehold(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: household %s does not exist", ErrInvalidInput, id)
		}
		return fmt.Errorf("getting household: %w", err)
	}
	return nil
}

// createUser skips the permission check so bootstrap can seed the first admin
func (s *Service) createUser(in NewUser) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || strings.ContainsAny(username, ": \t") {
		return nil, fmt.Errorf("%w: invalid username", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if err := s.checkHousehold(in.HouseholdID); err != nil {
		return nil, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	u := &User{
		ID:           s.idGenerator.Generate(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		HouseholdID:  in.HouseholdID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateUser(u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return u, nil
}

// CreateUser creates an account
func (s *Service) CreateUser(actor *Actor, in NewUser) (*User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	u, err := s.createUser(in)
	if err != nil {
		return nil, err
	}
	s.audit(actor, "user.create", u.ID, fmt.Sprintf("%s (%s)", u.Username, u.Role))
	return u.Public(), nil
}

// ListUsers returns every account sorted by username
func (s *Service) ListUsers(actor *Actor) ([]*User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	public := make([]*User, 0, len(users))
	for _, u := range users {
		public = append(public, u.Public())
	}
	return public, nil
}

// GetUser returns an account
func (s *Service) GetUser(actor *Actor, id string) (*User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	u, err := s.db.GetUser(id)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u.Public(), nil
}

// UpdateUser changes role, household, disabled flag or password
func (s *Service) UpdateUser(actor *Actor, id string, upd UserUpdate) (*User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	u, err := s.db.GetUser(id)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	var changes []string
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *upd.Role)
		}
		u.Role = *upd.Role
		changes = append(changes, "role="+string(u.Role))
	}
	if upd.HouseholdID != nil {
		if err := s.checkHousehold(*upd.HouseholdID); err != nil {
			return nil, err
		}
		u.HouseholdID = *upd.HouseholdID
		changes = append(changes, "household="+u.HouseholdID)
	}
	if upd.Disabled != nil {
		u.Disabled = *upd.Disabled
		changes = append(changes, fmt.Sprintf("disabled=%t", u.Disabled))
	}
	if upd.Password != nil {
		hash, err := hashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
		changes = append(changes, "password")
	}

	u.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveUser(u); err != nil {
		if errors.Is(err, ErrLastAdmin) {
			return nil, err
		}
		return nil, fmt.Errorf("saving user: %w", err)
	}
	s.audit(actor, "user.update", u.ID, strings.Join(changes, " "))
	return u.Public(), nil
}

// DeleteUser removes an account
func (s *Service) DeleteUser(actor *Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	u, err := s.db.GetUser(id)
	if err != nil {
		return fmt.Errorf("getting user: %w", err)
	}
	if err := s.db.DeleteUser(id); err != nil {
		if errors.Is(err, ErrLastAdmin) {
			return err
		}
		return fmt.Errorf("deleting user: %w", err)
	}
	s.audit(actor, "user.delete", id, u.Username)
	return nil
}

// CreateHousehold creates a household
func (s *Service) CreateHousehold(actor *Actor, name string) (*Household, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.createHousehold(actor, name)
}

func (s *Service) createHousehold(actor *Actor, name string) (*Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: household name is required", ErrInvalidInput)
	}
	h := &Household{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveHousehold(h); err != nil {
		return nil, fmt.Errorf("saving household: %w", err)
	}
	s.audit(actor, "household.create", h.ID, h.Name)
	return h, nil
}

// ListHouseholds returns every household sorted by name
func (s *Service) ListHouseholds(actor *Actor) ([]*Household, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	hs, err := s.db.ListHouseholds()
	if err != nil {
		return nil, fmt.Errorf("listing households: %w", err)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].Name < hs[j].Name })
	return hs, nil
}

// StartImpersonation issues a token that lets the admin act as target
func (s *Service) StartImpersonation(actor *Actor, targetID string) (*ImpersonationSession, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if actor.Impersonator != nil {
		return nil, fmt.Errorf("%w: already impersonating", ErrForbidden)
	}
	if targetID == actor.User.ID {
		return nil, fmt.Errorf("%w: cannot impersonate yourself", ErrForbidden)
	}

	target, err := s.db.GetUser(targetID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if target.Role == RoleAdmin {
		return nil, fmt.Errorf("%w: cannot impersonate an admin", ErrForbidden)
	}
	if target.Disabled {
		return nil, fmt.Errorf("%w: user is disabled", ErrInvalidInput)
	}

	now := s.timeSource.Now()
	sess := &ImpersonationSession{
		Token:        s.idGenerator.Generate(),
		AdminID:      actor.User.ID,
		TargetUserID: target.ID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.impersonationTTL),
	}
	if err := s.db.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("saving impersonation session: %w", err)
	}
	s.audit(actor, "impersonation.start", target.ID, target.Username)
	return sess, nil
}

// EndImpersonation closes a session started by the same admin
func (s *Service) EndImpersonation(actor *Actor, token string) error {
	admin := actor.User
	if actor.Impersonator != nil {
		admin = actor.Impersonator
	}
	if admin.Role != RoleAdmin {
		return ErrForbidden
	}

	sess, err := s.db.GetSession(token)
	if err != nil {
		return fmt.Errorf("getting impersonation session: %w", err)
	}
	if sess.AdminID != admin.ID {
		return fmt.Errorf("getting impersonation session: %w: session %s", ErrNotFound, token)
	}
	if sess.EndedAt != nil {
		return nil
	}

	now := s.timeSource.Now()
	sess.EndedAt = &now
	if err := s.db.SaveSession(sess); err != nil {
		return fmt.Errorf("saving impersonation session: %w", err)
	}
	s.audit(&Actor{User: admin}, "impersonation.end", sess.TargetUserID, "")
	return nil
}

// Metrics counts the records in the store
func (s *Service) Metrics(actor *Actor) (*Metrics, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	m := &Metrics{
		UsersByRole:     map[Role]int{RoleAdmin: 0, RoleMember: 0},
		ImportsBySource: make(map[string]int),
	}

	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	m.Users = len(users)
	for _, u := range users {
		m.UsersByRole[u.Role]++
		if u.Disabled {
			m.DisabledUsers++
		}
	}

	households, err := s.db.ListHouseholds()
	if err != nil {
		return nil, fmt.Errorf("listing households: %w", err)
	}
	m.Households = len(households)

	txns, err := s.db.ListTransactions("")
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	m.Transactions = len(txns)

	invoices, err := s.db.ListInvoices("")
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	m.Invoices = len(invoices)
	for _, rec := range invoices {
		m.ImportsBySource[rec.Source]++
	}

	events, err := s.db.ListAudit(0)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	for _, e := range events {
		if e.Action == "invoice.import_failed" {
			m.FailedImports++
		}
	}

	sessions, err := s.db.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("listing impersonation sessions: %w", err)
	}
	now := s.timeSource.Now()
	for _, sess := range sessions {
		if sess.Active(now) {
			m.ActiveImpersonations++
		}
	}

	return m, nil
}
