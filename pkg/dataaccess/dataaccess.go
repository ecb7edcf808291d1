package dataaccess

import (
	"context"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/entities"
)

const (
	tableSanctions = "sanctions"
	tableTickets   = "tickets"
	tableGuilds    = "guilds"
)

// SanctionDal is the sanction ledger. It is append only, the single in place change allowed is
// flipping a record's active flag to false.
type SanctionDal interface {
	// Append assigns the next record ID of the guild and persists the record. CreatedAt is set to
	// now when it is zero. Appending an enforced kind supersedes the subject's active record of
	// the same kind, appending a counter kind deactivates the records of the kind it reverses.
	Append(ctx context.Context, rec entities.SanctionRecord) (int64, error)

	// GetSanction gets a record by ID.
	GetSanction(ctx context.Context, guildID string, recordID int64) (*entities.SanctionRecord, error)

	// ActiveRecordsDueBefore returns every active record that expires at or before now, across all
	// guilds, soonest first.
	ActiveRecordsDueBefore(ctx context.Context, now time.Time) ([]entities.SanctionRecord, error)

	// ActiveRecord gets the subject's active record of the given kind.
	ActiveRecord(ctx context.Context, guildID, userID string, kind entities.Kind) (*entities.SanctionRecord, error)

	// History returns every record of the subject in the guild, newest first.
	History(ctx context.Context, guildID, userID string) ([]entities.SanctionRecord, error)

	// MarkInactive flips a record to inactive. Flipping an inactive record is a no-op.
	MarkInactive(ctx context.Context, guildID string, recordID int64) error
}

// TransitionExtra carries the optional data of a ticket transition.
type TransitionExtra struct {
	// RejectionReason is required when moving to rejected.
	RejectionReason string

	// At is the time of the transition. Defaults to now.
	At time.Time
}

// TicketDal is the absence ticket store.
type TicketDal interface {
	// Create creates an active ticket. Fails with ErrDuplicateActiveTicket when the user already
	// has an active or approved ticket in the guild.
	Create(ctx context.Context, guildID, userID string, startAt, endAt time.Time, reason string) (*entities.TicketRecord, error)

	// GetTicket gets a ticket by ID.
	GetTicket(ctx context.Context, guildID string, ticketID int64) (*entities.TicketRecord, error)

	// OpenTicket gets the user's active or approved ticket.
	OpenTicket(ctx context.Context, guildID, userID string) (*entities.TicketRecord, error)

	// ListTickets returns every ticket of the user in the guild, newest first.
	ListTickets(ctx context.Context, guildID, userID string) ([]entities.TicketRecord, error)

	// Transition moves a ticket to a new state. Fails with ErrInvalidTransition when the move is
	// not allowed from the current state.
	Transition(ctx context.Context, guildID string, ticketID int64, next entities.TicketState, extra TransitionExtra) (*entities.TicketRecord, error)

	// SetExternalRef records the host side resource of an open ticket.
	SetExternalRef(ctx context.Context, guildID string, ticketID int64, ref string) (*entities.TicketRecord, error)

	// DueForExpiry returns every active or approved ticket that ends at or before now.
	DueForExpiry(ctx context.Context, now time.Time) ([]entities.TicketRecord, error)
}

// GuildDal stores per guild configuration.
type GuildDal interface {
	// SaveGuild saves a guild.
	SaveGuild(ctx context.Context, guild *entities.Guild) error

	// GetGuildByID gets a guild by ID.
	GetGuildByID(ctx context.Context, id string) (*entities.Guild, error)
}

// Store is the full persistence layer.
type Store interface {
	SanctionDal
	TicketDal
	GuildDal

	// Ping checks the connection to the backing database.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}

// Option configures a store.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock sets the clock used for timestamps the caller did not provide.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.now = now
	}
}

func newStoreOptions(opts []Option) *storeOptions {
	o := &storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func validateTransition(current *entities.TicketRecord, next entities.TicketState, extra TransitionExtra) error {
	if !next.Valid() {
		return &InvalidTransitionError{From: current.State, To: next}
	}
	if !current.State.CanTransition(next) {
		return &InvalidTransitionError{From: current.State, To: next}
	}
	if next == entities.TicketRejected && extra.RejectionReason == "" {
		return &InvalidTransitionError{From: current.State, To: next, Detail: "a rejection reason is required"}
	}
	return nil
}
