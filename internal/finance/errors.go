package finance

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicateInvoice = errors.New("invoice already imported")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrLastAdmin        = errors.New("cannot remove the last active admin")
	ErrNoHousehold      = errors.New("user does not belong to a household")
)
