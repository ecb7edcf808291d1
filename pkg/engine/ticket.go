package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/duration"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/Jacobbrewer1/warden/pkg/logging"
)

// CreateTicketRequest is a request for an absence.
type CreateTicketRequest struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`

	// Duration is free text, for example "2 weeks" or "3 jours".
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

// CreateTicket opens an absence ticket starting now. It fails with
// dataaccess.ErrDuplicateActiveTicket when the user already has an open ticket.
func (e *Engine) CreateTicket(ctx context.Context, req CreateTicketRequest) (*entities.TicketRecord, error) {
	if req.GuildID == "" || req.UserID == "" {
		return nil, invalid("", "guild and user are required")
	}

	guild, err := e.Guild(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	if !guild.Ticketing.Enabled {
		return nil, invalid("", "absence tickets are disabled in this guild")
	}

	days, err := duration.ParseDays(req.Duration)
	if err != nil {
		return nil, invalid("duration", "%v", err)
	}
	if e.maxTicketDays > 0 && days > e.maxTicketDays {
		return nil, invalid("duration", "%d days is longer than the %d days allowed", days, e.maxTicketDays)
	}

	start := e.now()
	t, err := e.store.Create(ctx, req.GuildID, req.UserID, start, duration.EndAt(start, days), req.Reason)
	if err != nil {
		return nil, fmt.Errorf("error creating ticket: %w", err)
	}

	ticketTransitions.WithLabelValues(string(t.State)).Inc()
	e.ticketLogger(t).Info("Ticket created", slog.Int("days", days))
	return t, nil
}

// AttachTicketResource records the host side resource of a ticket, so that it is torn down when
// the ticket ends.
func (e *Engine) AttachTicketResource(ctx context.Context, guildID string, ticketID int64, ref string) (*entities.TicketRecord, error) {
	if ref == "" {
		return nil, invalid("external_ref", "is required")
	}

	t, err := e.store.SetExternalRef(ctx, guildID, ticketID, ref)
	if err != nil {
		return nil, fmt.Errorf("error attaching ticket resource: %w", err)
	}
	return t, nil
}

// GetTicket gets a ticket.
func (e *Engine) GetTicket(ctx context.Context, guildID string, ticketID int64) (*entities.TicketRecord, error) {
	t, err := e.store.GetTicket(ctx, guildID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("error getting ticket: %w", err)
	}
	return t, nil
}

// Tickets returns every ticket of a user, newest first.
func (e *Engine) Tickets(ctx context.Context, guildID, userID string) ([]entities.TicketRecord, error) {
	ts, err := e.store.ListTickets(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing tickets: %w", err)
	}
	return ts, nil
}

// DueTickets returns the open tickets that have ended at now.
func (e *Engine) DueTickets(ctx context.Context, now time.Time) ([]entities.TicketRecord, error) {
	ts, err := e.store.DueForExpiry(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("error getting due tickets: %w", err)
	}
	return ts, nil
}

// ApproveTicket gives the user the absence role and approves the ticket.
func (e *Engine) ApproveTicket(ctx context.Context, guildID string, ticketID int64) (*entities.TicketRecord, error) {
	t, guild, err := e.ticketFor(ctx, guildID, ticketID, entities.TicketApproved)
	if err != nil {
		return nil, err
	}

	if role := guild.Ticketing.RoleID; role != "" {
		if err := e.exec.AssignRole(ctx, guildID, t.SubjectID, role); err != nil {
			return nil, e.ticketActionErr(t, executor.ActionAssignRole, err)
		}
	}

	t, err = e.transition(ctx, t, entities.TicketApproved, dataaccess.TransitionExtra{})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, guildID, t.SubjectID, fmt.Sprintf("Your absence %s has been approved until %s.", t.Name(), t.EndAt))
	return t, nil
}

// RejectTicket tears down the ticket resource and rejects the ticket. A reason is required.
func (e *Engine) RejectTicket(ctx context.Context, guildID string, ticketID int64, reason string) (*entities.TicketRecord, error) {
	if reason == "" {
		return nil, invalid("reason", "a rejection needs a reason")
	}

	t, _, err := e.ticketFor(ctx, guildID, ticketID, entities.TicketRejected)
	if err != nil {
		return nil, err
	}

	if err := e.teardown(ctx, t); err != nil {
		return nil, err
	}

	t, err = e.transition(ctx, t, entities.TicketRejected, dataaccess.TransitionExtra{RejectionReason: reason})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, guildID, t.SubjectID, fmt.Sprintf("Your absence %s has been rejected: %s", t.Name(), reason))
	return t, nil
}

// CloseTicket ends a ticket early: the absence role is removed, the resource torn down and the
// ticket closed.
func (e *Engine) CloseTicket(ctx context.Context, guildID string, ticketID int64) (*entities.TicketRecord, error) {
	t, guild, err := e.ticketFor(ctx, guildID, ticketID, entities.TicketClosed)
	if err != nil {
		return nil, err
	}

	if err := e.release(ctx, guild, t); err != nil {
		return nil, err
	}

	t, err = e.transition(ctx, t, entities.TicketClosed, dataaccess.TransitionExtra{})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, guildID, t.SubjectID, fmt.Sprintf("Your absence %s has been closed.", t.Name()))
	return t, nil
}

// ExpireTicket ends a ticket that reached its end. A ticket that is already terminal is left
// alone, so repeating the call is a no-op.
func (e *Engine) ExpireTicket(ctx context.Context, ticket entities.TicketRecord) error {
	t, err := e.store.GetTicket(ctx, ticket.GuildID, ticket.TicketID)
	if err != nil {
		return fmt.Errorf("error getting ticket: %w", err)
	}
	if t.State.Terminal() {
		expiries.WithLabelValues("ticket", "noop").Inc()
		return nil
	}

	guild, err := e.Guild(ctx, t.GuildID)
	if err != nil {
		return err
	}

	if err := e.release(ctx, guild, t); err != nil {
		expiries.WithLabelValues("ticket", "error").Inc()
		return err
	}

	t, err = e.transition(ctx, t, entities.TicketExpired, dataaccess.TransitionExtra{})
	if errors.Is(err, dataaccess.ErrInvalidTransition) {
		// Closed or expired concurrently.
		expiries.WithLabelValues("ticket", "noop").Inc()
		return nil
	} else if err != nil {
		expiries.WithLabelValues("ticket", "error").Inc()
		return err
	}

	expiries.WithLabelValues("ticket", "expired").Inc()
	e.notify(ctx, t.GuildID, t.SubjectID, fmt.Sprintf("Your absence %s has ended. Welcome back!", t.Name()))
	return nil
}

// ForceExpireTicket expires a ticket without removing the role or tearing anything down. It is
// the last resort once the executor has failed too many times.
func (e *Engine) ForceExpireTicket(ctx context.Context, ticket entities.TicketRecord) error {
	_, err := e.store.Transition(ctx, ticket.GuildID, ticket.TicketID, entities.TicketExpired, dataaccess.TransitionExtra{At: e.now()})
	if err != nil && !errors.Is(err, dataaccess.ErrInvalidTransition) {
		return fmt.Errorf("error expiring ticket: %w", err)
	}

	expiries.WithLabelValues("ticket", "forced").Inc()
	e.ticketLogger(&ticket).Error("Ticket force expired without releasing it")
	return nil
}

// ticketFor gets a ticket and checks that it may move to next before any action is taken.
func (e *Engine) ticketFor(ctx context.Context, guildID string, ticketID int64, next entities.TicketState) (*entities.TicketRecord, *entities.Guild, error) {
	t, err := e.GetTicket(ctx, guildID, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !t.State.CanTransition(next) {
		return nil, nil, &dataaccess.InvalidTransitionError{From: t.State, To: next}
	}

	guild, err := e.Guild(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	return t, guild, nil
}

// release removes the absence role and tears down the resource of a ticket.
func (e *Engine) release(ctx context.Context, guild *entities.Guild, t *entities.TicketRecord) error {
	if role := guild.Ticketing.RoleID; role != "" {
		if err := e.exec.RemoveRole(ctx, t.GuildID, t.SubjectID, role); err != nil {
			return e.ticketActionErr(t, executor.ActionRemoveRole, err)
		}
	}
	return e.teardown(ctx, t)
}

func (e *Engine) teardown(ctx context.Context, t *entities.TicketRecord) error {
	if t.ExternalRef == "" {
		return nil
	}
	if err := e.exec.TeardownResource(ctx, t.ExternalRef); err != nil {
		return e.ticketActionErr(t, executor.ActionTeardownResource, err)
	}
	return nil
}

func (e *Engine) transition(ctx context.Context, t *entities.TicketRecord, next entities.TicketState, extra dataaccess.TransitionExtra) (*entities.TicketRecord, error) {
	extra.At = e.now()
	updated, err := e.store.Transition(ctx, t.GuildID, t.TicketID, next, extra)
	if err != nil {
		return nil, fmt.Errorf("error moving ticket to %s: %w", next, err)
	}

	ticketTransitions.WithLabelValues(string(next)).Inc()
	e.ticketLogger(updated).Info("Ticket updated", slog.String("from", string(t.State)))
	return updated, nil
}

func (e *Engine) ticketActionErr(t *entities.TicketRecord, action string, err error) error {
	actionFailures.WithLabelValues(action).Inc()
	return &ActionError{Action: action, GuildID: t.GuildID, TicketID: t.TicketID, Err: err}
}

func (e *Engine) ticketLogger(t *entities.TicketRecord) *slog.Logger {
	return e.l.With(
		slog.String(logging.KeyGuildID, t.GuildID),
		slog.String(logging.KeyUserID, t.SubjectID),
		slog.Int64(logging.KeyTicketID, t.TicketID),
		slog.String("state", string(t.State)),
	)
}
