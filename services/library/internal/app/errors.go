package app

import (
	"errors"
	"fmt"

	"libraryhub/pkg/store"
)

// Error classes. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrStorageDisabled = errors.New("object storage is not configured")
)

var (
	// ErrInvalidCredentials is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = fmt.Errorf("%w: incorrect email or password", ErrUnauthorized)

	ErrEmailTaken         = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrUserSuspended      = fmt.Errorf("%w: user is suspended", ErrConflict)
	ErrCopyUnavailable    = fmt.Errorf("%w: copy is not available", ErrConflict)
	ErrCopyOnLoan         = fmt.Errorf("%w: copy is on loan", ErrConflict)
	ErrInsufficientCopies = fmt.Errorf("%w: not enough available copies", ErrConflict)
	ErrLoanReturned       = fmt.Errorf("%w: loan already returned", ErrConflict)
	ErrLoanChanged        = fmt.Errorf("%w: loan was modified concurrently", ErrConflict)
	ErrRenewalLimit       = fmt.Errorf("%w: renewal limit reached", ErrConflict)
	ErrFinePaid           = fmt.Errorf("%w: fine already paid", ErrConflict)
	ErrReservationClosed  = fmt.Errorf("%w: reservation is no longer open", ErrConflict)
	ErrInUse              = fmt.Errorf("%w: still referenced", ErrConflict)
)

func notFound(what string, id uint) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func inUse(what string) error {
	return fmt.Errorf("%w: %s", ErrInUse, what)
}

// duplicate turns a store uniqueness violation into a Conflict.
func duplicate(err error, what string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: %s already exists", ErrConflict, what)
	}
	return err
}
