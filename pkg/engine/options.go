package engine

import (
	"context"
	"time"
)

// Guard is a safety rule checked before a sanction is persisted. Returning an error refuses the
// sanction with ErrConflict.
type Guard func(ctx context.Context, req SanctionRequest) error

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithGuard adds a safety rule, for example refusing to sanction moderators.
func WithGuard(g Guard) Option {
	return func(e *Engine) {
		e.guards = append(e.guards, g)
	}
}

// WithMaxTicketDays caps the length of absence tickets. Zero means no cap.
func WithMaxTicketDays(days int) Option {
	return func(e *Engine) {
		e.maxTicketDays = days
	}
}
