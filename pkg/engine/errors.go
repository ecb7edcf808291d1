package engine

import (
	"errors"
	"fmt"
)

// ErrConflict is returned when a safety rule refuses a sanction.
var ErrConflict = errors.New("conflict")

// ValidationError is bad input, refused before anything was persisted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ActionError is a failed executor call. The record or ticket it belongs to is already persisted.
type ActionError struct {
	// Action is the executor action that failed.
	Action string

	GuildID string

	// RecordID is set for sanction actions.
	RecordID int64

	// TicketID is set for ticket actions.
	TicketID int64

	Err error
}

func (e *ActionError) Error() string {
	switch {
	case e.RecordID != 0:
		return fmt.Sprintf("error performing %s for record %d in guild %s: %v", e.Action, e.RecordID, e.GuildID, e.Err)
	case e.TicketID != 0:
		return fmt.Sprintf("error performing %s for ticket %d in guild %s: %v", e.Action, e.TicketID, e.GuildID, e.Err)
	default:
		return fmt.Sprintf("error performing %s in guild %s: %v", e.Action, e.GuildID, e.Err)
	}
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsAction reports whether err is, or wraps, an ActionError.
func IsAction(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
