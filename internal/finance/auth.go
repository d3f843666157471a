package finance

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// Authenticate checks a username and password against the user store
func (s *Service) Authenticate(username, password string) (*User, error) {
	u, err := s.db.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if u.Disabled {
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// ResolveActor authenticates the caller and, when an impersonation token is
// given, swaps in the impersonated user
func (s *Service) ResolveActor(username, password, impersonationToken string) (*Actor, error) {
	u, err := s.Authenticate(username, password)
	if err != nil {
		return nil, err
	}
	if impersonationToken == "" {
		return &Actor{User: u}, nil
	}

	if u.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	sess, err := s.db.GetSession(impersonationToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("getting impersonation session: %w", err)
	}
	if sess.AdminID != u.ID || !sess.Active(s.timeSource.Now()) {
		return nil, ErrUnauthorized
	}

	target, err := s.db.GetUser(sess.TargetUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if target.Disabled {
		return nil, ErrUnauthorized
	}
	return &Actor{User: target, Impersonator: u}, nil
}

// BootstrapAdmin creates a household and an admin in it when the store has no
// users yet. It reports whether anything was created.
func (s *Service) BootstrapAdmin(username, password string) (bool, error) {
	users, err := s.db.ListUsers()
	if err != nil {
		return false, fmt.Errorf("listing users: %w", err)
	}
	if len(users) > 0 {
		return false, nil
	}

	h, err := s.createHousehold(nil, "Household")
	if err != nil {
		return false, err
	}
	u, err := s.createUser(NewUser{
		Username:    username,
		Password:    password,
		Role:        RoleAdmin,
		HouseholdID: h.ID,
	})
	if err != nil {
		return false, err
	}
	s.audit(&Actor{User: u}, "user.bootstrap", u.ID, u.Username)
	slog.Info("Created bootstrap admin", "username", u.Username, "household", h.ID)
	return true, nil
}
