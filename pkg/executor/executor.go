// Package executor performs the externally visible effects of moderation decisions.
//
// Every call must be idempotent: removing a role the user does not have, or lifting a ban that
// is not in place, succeeds without doing anything. Callers retry freely.
package executor

import (
	"context"
	"errors"
	"time"
)

// ActionExecutor carries out sanctions and ticket side effects on the chat platform.
type ActionExecutor interface {
	ApplyTimeout(ctx context.Context, guildID, userID string, d time.Duration) error
	ApplyBan(ctx context.Context, guildID, userID, reason string) error
	ApplyKick(ctx context.Context, guildID, userID, reason string) error
	ApplyWarnNotice(ctx context.Context, guildID, userID, reason string) error
	ReverseTimeout(ctx context.Context, guildID, userID string) error
	ReverseBan(ctx context.Context, guildID, userID string) error
	AssignRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	TeardownResource(ctx context.Context, externalRef string) error
	Notify(ctx context.Context, userID, message string) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying, for example a missing permission.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
