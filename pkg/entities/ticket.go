package entities

import (
	"fmt"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
)

// TicketState is the state of an absence ticket.
type TicketState string

const (
	TicketActive   TicketState = "active"
	TicketApproved TicketState = "approved"
	TicketRejected TicketState = "rejected"
	TicketClosed   TicketState = "closed"
	TicketExpired  TicketState = "expired"
)

// OpenTicketStates are the states in which a ticket is still running.
var OpenTicketStates = []TicketState{TicketActive, TicketApproved}

// Valid reports whether s is a known state.
func (s TicketState) Valid() bool {
	switch s {
	case TicketActive, TicketApproved, TicketRejected, TicketClosed, TicketExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s TicketState) Terminal() bool {
	switch s {
	case TicketRejected, TicketClosed, TicketExpired:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a ticket in state s may move to next.
//
//	active   -> approved | rejected | closed | expired
//	approved -> closed | expired
func (s TicketState) CanTransition(next TicketState) bool {
	switch s {
	case TicketActive:
		switch next {
		case TicketApproved, TicketRejected, TicketClosed, TicketExpired:
			return true
		}
	case TicketApproved:
		switch next {
		case TicketClosed, TicketExpired:
			return true
		}
	}
	return false
}

// TicketRecord is a time boxed absence ticket.
type TicketRecord struct {
	// GuildID is the ID of the guild that the ticket is in.
	GuildID string `json:"guild_id" bson:"guild_id" db:"guild_id"`

	// TicketID is the number of the ticket within the guild.
	TicketID int64 `json:"ticket_id" bson:"ticket_id" db:"ticket_id"`

	// SubjectID is the ID of the user that requested the absence.
	SubjectID string `json:"subject_id" bson:"subject_id" db:"subject_id"`

	// Reason is the reason given for the absence.
	Reason string `json:"reason" bson:"reason" db:"reason"`

	// StartAt is the start of the absence.
	StartAt custom.Datetime `json:"start_at" bson:"start_at" db:"start_at"`

	// EndAt is the moment the ticket expires.
	EndAt custom.Datetime `json:"end_at" bson:"end_at" db:"end_at"`

	// State is the state of the ticket.
	State TicketState `json:"state" bson:"state" db:"state"`

	// RejectionReason is set when the ticket is rejected.
	RejectionReason *string `json:"rejection_reason,omitempty" bson:"rejection_reason,omitempty" db:"rejection_reason"`

	// ExternalRef is an opaque handle to a host side resource, e.g. a dedicated channel.
	ExternalRef string `json:"external_ref,omitempty" bson:"external_ref" db:"external_ref"`

	// CreatedAt is the time that the ticket was created.
	CreatedAt custom.Datetime `json:"created_at" bson:"created_at" db:"created_at"`

	// UpdatedAt is the time of the last transition.
	UpdatedAt custom.Datetime `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// Name is the display name of the ticket, for example "3-absence".
func (t *TicketRecord) Name() string {
	return fmt.Sprintf("%d-absence", t.TicketID)
}

// Open reports whether the ticket is still running.
func (t *TicketRecord) Open() bool {
	return !t.State.Terminal()
}

// DueAt reports whether the ticket is open and has reached its end at now.
func (t *TicketRecord) DueAt(now time.Time) bool {
	return t.Open() && !t.EndAt.Time().After(now)
}
