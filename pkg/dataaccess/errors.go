package dataaccess

import (
	"errors"
	"fmt"

	"github.com/Jacobbrewer1/warden/pkg/entities"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateActiveTicket is returned when a user already has an active or approved ticket.
	ErrDuplicateActiveTicket = errors.New("user already has an open ticket")

	// ErrInvalidTransition is returned when a ticket transition is not allowed.
	ErrInvalidTransition = errors.New("invalid ticket transition")
)

// InvalidTransitionError describes a refused ticket transition. It matches ErrInvalidTransition.
type InvalidTransitionError struct {
	From   entities.TicketState
	To     entities.TicketState
	Detail string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid ticket transition from %s to %s", e.From, e.To)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StorageError is a failure of the backing database. The operation did not happen and may be
// retried as a whole.
type StorageError struct {
	// Op is the store operation that failed.
	Op string

	// Err is the driver error.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is, or wraps, a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
