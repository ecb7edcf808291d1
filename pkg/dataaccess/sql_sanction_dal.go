package dataaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/jmoiron/sqlx"
)

const sanctionColumns = `guild_id, record_id, subject_id, issuer_id, kind, reason, severity_tier,
	duration_seconds, expires_at, created_at, active`

// appendAttempts bounds the retries of an append that lost the race for the next record ID.
const appendAttempts = 3

func (s *sqlStore) Append(ctx context.Context, rec entities.SanctionRecord) (id int64, err error) {
	defer s.track("append", tableSanctions, &err)()

	if !rec.Kind.Valid() {
		return 0, fmt.Errorf("invalid sanction kind %q", rec.Kind)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = custom.NewDatetime(s.now())
	}
	rec.Active = rec.Kind.Enforced()

	for attempt := 1; ; attempt++ {
		id, err = s.appendOnce(ctx, rec)
		if err == nil || attempt >= appendAttempts || !isUniqueViolation(err) {
			break
		}
		s.l.Debug("Record ID taken, retrying append", slog.String(logging.KeyGuildID, rec.GuildID), slog.Int("attempt", attempt))
	}
	if err != nil {
		var se *StorageError
		if !errors.As(err, &se) {
			err = storageErr("append", err)
		}
		return 0, err
	}
	return id, nil
}

func (s *sqlStore) appendOnce(ctx context.Context, rec entities.SanctionRecord) (int64, error) {
	err := s.inTx(ctx, "append", func(tx *sqlx.Tx) error {
		var next int64
		if err := tx.GetContext(ctx, &next, tx.Rebind(`SELECT COALESCE(MAX(record_id), 0) + 1 FROM sanctions WHERE guild_id = ?`), rec.GuildID); err != nil {
			return fmt.Errorf("error getting next record id: %w", err)
		}
		rec.RecordID = next

		// Enforced kinds supersede the subject's previous record of the same kind, counter kinds
		// end the records they reverse.
		deactivate := entities.Kind("")
		if rec.Kind.Enforced() {
			deactivate = rec.Kind
		} else if rec.Kind.IsCounter() {
			deactivate, _ = rec.Kind.Reverses()
		}
		if deactivate != "" {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE sanctions SET active = ?
				WHERE guild_id = ? AND subject_id = ? AND kind = ? AND active = ?`),
				false, rec.GuildID, rec.SubjectID, deactivate, true); err != nil {
				return fmt.Errorf("error deactivating previous %s records: %w", deactivate, err)
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO sanctions (`+sanctionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.GuildID, rec.RecordID, rec.SubjectID, rec.IssuerID, rec.Kind, rec.Reason, rec.Tier,
			rec.DurationSeconds, rec.ExpiresAt, rec.CreatedAt, rec.Active); err != nil {
			return fmt.Errorf("error inserting sanction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.RecordID, nil
}

func (s *sqlStore) GetSanction(ctx context.Context, guildID string, recordID int64) (rec *entities.SanctionRecord, err error) {
	defer s.track("get_sanction", tableSanctions, &err)()

	rec = new(entities.SanctionRecord)
	err = s.db.GetContext(ctx, rec, s.db.Rebind(`SELECT `+sanctionColumns+` FROM sanctions
		WHERE guild_id = ? AND record_id = ?`), guildID, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr("get_sanction", err)
	}
	return rec, nil
}

func (s *sqlStore) ActiveRecordsDueBefore(ctx context.Context, now time.Time) (recs []entities.SanctionRecord, err error) {
	defer s.track("active_records_due_before", tableSanctions, &err)()

	err = s.db.SelectContext(ctx, &recs, s.db.Rebind(`SELECT `+sanctionColumns+` FROM sanctions
		WHERE active = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, guild_id, record_id`), true, now.UnixMilli())
	if err != nil {
		return nil, storageErr("active_records_due_before", err)
	}
	return recs, nil
}

func (s *sqlStore) ActiveRecord(ctx context.Context, guildID, userID string, kind entities.Kind) (rec *entities.SanctionRecord, err error) {
	defer s.track("active_record", tableSanctions, &err)()

	rec = new(entities.SanctionRecord)
	err = s.db.GetContext(ctx, rec, s.db.Rebind(`SELECT `+sanctionColumns+` FROM sanctions
		WHERE guild_id = ? AND subject_id = ? AND kind = ? AND active = ?
		ORDER BY record_id DESC LIMIT 1`), guildID, userID, kind, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr("active_record", err)
	}
	return rec, nil
}

func (s *sqlStore) History(ctx context.Context, guildID, userID string) (recs []entities.SanctionRecord, err error) {
	defer s.track("history", tableSanctions, &err)()

	err = s.db.SelectContext(ctx, &recs, s.db.Rebind(`SELECT `+sanctionColumns+` FROM sanctions
		WHERE guild_id = ? AND subject_id = ?
		ORDER BY record_id DESC`), guildID, userID)
	if err != nil {
		return nil, storageErr("history", err)
	}
	return recs, nil
}

func (s *sqlStore) MarkInactive(ctx context.Context, guildID string, recordID int64) (err error) {
	defer s.track("mark_inactive", tableSanctions, &err)()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sanctions SET active = ?
		WHERE guild_id = ? AND record_id = ?`), false, guildID, recordID)
	if err != nil {
		return storageErr("mark_inactive", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark_inactive", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}
