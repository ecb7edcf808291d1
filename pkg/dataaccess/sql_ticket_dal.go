package dataaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/jmoiron/sqlx"
)

const ticketColumns = `guild_id, ticket_id, subject_id, reason, start_at, end_at, state,
	rejection_reason, external_ref, created_at, updated_at`

func (s *sqlStore) Create(ctx context.Context, guildID, userID string, startAt, endAt time.Time, reason string) (t *entities.TicketRecord, err error) {
	defer s.track("create", tableTickets, &err)()

	now := custom.NewDatetime(s.now())
	t = &entities.TicketRecord{
		GuildID:   guildID,
		SubjectID: userID,
		Reason:    reason,
		StartAt:   custom.NewDatetime(startAt),
		EndAt:     custom.NewDatetime(endAt),
		State:     entities.TicketActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.inTx(ctx, "create", func(tx *sqlx.Tx) error {
		var open int
		if err := tx.GetContext(ctx, &open, tx.Rebind(`SELECT COUNT(*) FROM tickets
			WHERE guild_id = ? AND subject_id = ? AND state IN (?, ?)`),
			append([]any{guildID, userID}, openStatesArgs()...)...); err != nil {
			return storageErr("create", fmt.Errorf("error checking open tickets: %w", err))
		} else if open > 0 {
			return ErrDuplicateActiveTicket
		}

		var next int64
		if err := tx.GetContext(ctx, &next, tx.Rebind(`SELECT COALESCE(MAX(ticket_id), 0) + 1 FROM tickets WHERE guild_id = ?`), guildID); err != nil {
			return storageErr("create", fmt.Errorf("error getting next ticket id: %w", err))
		}
		t.TicketID = next

		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.GuildID, t.TicketID, t.SubjectID, t.Reason, t.StartAt, t.EndAt, t.State,
			t.RejectionReason, t.ExternalRef, t.CreatedAt, t.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				// Lost a race with a concurrent create, the partial index has the final say.
				return ErrDuplicateActiveTicket
			}
			return storageErr("create", fmt.Errorf("error inserting ticket: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqlStore) getTicket(ctx context.Context, q sqlx.QueryerContext, guildID string, ticketID int64) (*entities.TicketRecord, error) {
	t := new(entities.TicketRecord)
	err := sqlx.GetContext(ctx, q, t, s.db.Rebind(`SELECT `+ticketColumns+` FROM tickets
		WHERE guild_id = ? AND ticket_id = ?`), guildID, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr("get_ticket", err)
	}
	return t, nil
}

func (s *sqlStore) GetTicket(ctx context.Context, guildID string, ticketID int64) (t *entities.TicketRecord, err error) {
	defer s.track("get_ticket", tableTickets, &err)()
	return s.getTicket(ctx, s.db, guildID, ticketID)
}

func (s *sqlStore) OpenTicket(ctx context.Context, guildID, userID string) (t *entities.TicketRecord, err error) {
	defer s.track("open_ticket", tableTickets, &err)()

	t = new(entities.TicketRecord)
	err = s.db.GetContext(ctx, t, s.db.Rebind(`SELECT `+ticketColumns+` FROM tickets
		WHERE guild_id = ? AND subject_id = ? AND state IN (?, ?)`),
		append([]any{guildID, userID}, openStatesArgs()...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr("open_ticket", err)
	}
	return t, nil
}

func (s *sqlStore) ListTickets(ctx context.Context, guildID, userID string) (ts []entities.TicketRecord, err error) {
	defer s.track("list_tickets", tableTickets, &err)()

	err = s.db.SelectContext(ctx, &ts, s.db.Rebind(`SELECT `+ticketColumns+` FROM tickets
		WHERE guild_id = ? AND subject_id = ?
		ORDER BY ticket_id DESC`), guildID, userID)
	if err != nil {
		return nil, storageErr("list_tickets", err)
	}
	return ts, nil
}

func (s *sqlStore) Transition(ctx context.Context, guildID string, ticketID int64, next entities.TicketState, extra TransitionExtra) (t *entities.TicketRecord, err error) {
	defer s.track("transition", tableTickets, &err)()

	at := extra.At
	if at.IsZero() {
		at = s.now()
	}

	err = s.inTx(ctx, "transition", func(tx *sqlx.Tx) error {
		current, err := s.getTicket(ctx, tx, guildID, ticketID)
		if err != nil {
			return err
		}
		if err := validateTransition(current, next, extra); err != nil {
			return err
		}

		var rejection *string
		if next == entities.TicketRejected {
			rejection = &extra.RejectionReason
		}
		updatedAt := custom.NewDatetime(at)

		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tickets SET state = ?, rejection_reason = ?, updated_at = ?
			WHERE guild_id = ? AND ticket_id = ? AND state = ?`),
			next, rejection, updatedAt, guildID, ticketID, current.State)
		if err != nil {
			return storageErr("transition", fmt.Errorf("error updating ticket: %w", err))
		}
		if n, err := res.RowsAffected(); err != nil {
			return storageErr("transition", err)
		} else if n == 0 {
			return &InvalidTransitionError{From: current.State, To: next, Detail: "ticket changed concurrently"}
		}

		current.State = next
		current.RejectionReason = rejection
		current.UpdatedAt = updatedAt
		t = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqlStore) SetExternalRef(ctx context.Context, guildID string, ticketID int64, ref string) (t *entities.TicketRecord, err error) {
	defer s.track("set_external_ref", tableTickets, &err)()

	err = s.inTx(ctx, "set_external_ref", func(tx *sqlx.Tx) error {
		current, err := s.getTicket(ctx, tx, guildID, ticketID)
		if err != nil {
			return err
		}
		if !current.Open() {
			return &InvalidTransitionError{From: current.State, To: current.State, Detail: "ticket is closed"}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tickets SET external_ref = ?
			WHERE guild_id = ? AND ticket_id = ?`), ref, guildID, ticketID); err != nil {
			return storageErr("set_external_ref", err)
		}
		current.ExternalRef = ref
		t = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqlStore) DueForExpiry(ctx context.Context, now time.Time) (ts []entities.TicketRecord, err error) {
	defer s.track("due_for_expiry", tableTickets, &err)()

	err = s.db.SelectContext(ctx, &ts, s.db.Rebind(`SELECT `+ticketColumns+` FROM tickets
		WHERE state IN (?, ?) AND end_at <= ?
		ORDER BY end_at, guild_id, ticket_id`), append(openStatesArgs(), now.UnixMilli())...)
	if err != nil {
		return nil, storageErr("due_for_expiry", err)
	}
	return ts, nil
}
