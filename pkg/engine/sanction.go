package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/Jacobbrewer1/warden/pkg/logging"
)

// SanctionRequest is a request to sanction a user.
type SanctionRequest struct {
	GuildID   string `json:"guild_id"`
	SubjectID string `json:"subject_id"`
	IssuerID  string `json:"issuer_id"`

	// Kind is one of warn, timeout, mute, kick or ban.
	Kind   entities.Kind `json:"kind"`
	Reason string        `json:"reason"`

	// Duration is required for timeouts, optional for mutes and bans, and refused for warns and
	// kicks. Zero means none.
	Duration time.Duration `json:"duration"`

	// Tier is set for automated sanctions.
	Tier *entities.Tier `json:"tier,omitempty"`
}

func (r *SanctionRequest) validate() error {
	switch {
	case r.GuildID == "":
		return invalid("guild_id", "is required")
	case r.SubjectID == "":
		return invalid("subject_id", "is required")
	case r.IssuerID == "":
		return invalid("issuer_id", "is required")
	case r.Duration < 0:
		return invalid("duration", "must not be negative")
	case r.Duration > 0 && r.Duration < time.Second:
		return invalid("duration", "must be at least one second")
	}

	switch r.Kind {
	case entities.KindTimeout:
		if r.Duration == 0 {
			return invalid("duration", "a timeout needs a duration")
		}
	case entities.KindWarn, entities.KindKick:
		if r.Duration != 0 {
			return invalid("duration", "a %s cannot have a duration", r.Kind)
		}
	case entities.KindMute, entities.KindBan:
	default:
		return invalid("kind", "%q is not a sanction", r.Kind)
	}
	return nil
}

// Sanction records a sanction and applies it.
//
// The record is persisted before the executor is called and stays in the ledger when the call
// fails. For sanctions with a duration the failure is logged and the expiry sweep puts things
// right, so no error is returned. For the others the record is returned with an *ActionError.
func (e *Engine) Sanction(ctx context.Context, req SanctionRequest) (*entities.SanctionRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.guard(ctx, req); err != nil {
		return nil, err
	}

	guild, err := e.Guild(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	if req.Kind == entities.KindMute && guild.Moderation.MuteRoleID == "" {
		return nil, invalid("kind", "no mute role is configured for this guild")
	}

	now := e.now()
	rec := entities.SanctionRecord{
		GuildID:   req.GuildID,
		SubjectID: req.SubjectID,
		IssuerID:  req.IssuerID,
		Kind:      req.Kind,
		Reason:    req.Reason,
		Tier:      req.Tier,
		CreatedAt: custom.NewDatetime(now),
	}
	if req.Duration > 0 {
		secs := int64(req.Duration / time.Second)
		rec.DurationSeconds = &secs
		rec.ExpiresAt = custom.NewDatetimePtr(now.Add(time.Duration(secs) * time.Second))
	}

	id, err := e.store.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("error appending sanction: %w", err)
	}
	rec.RecordID = id
	rec.Active = rec.Kind.Enforced()
	sanctionsIssued.WithLabelValues(string(rec.Kind)).Inc()

	l := e.l.With(
		slog.String(logging.KeyGuildID, rec.GuildID),
		slog.String(logging.KeyUserID, rec.SubjectID),
		slog.Int64(logging.KeyRecordID, rec.RecordID),
		slog.String(logging.KeyKind, string(rec.Kind)),
	)
	l.Info("Sanction recorded", slog.String("issuer_id", rec.IssuerID))

	action, err := e.apply(ctx, guild, &rec)
	if err == nil {
		return &rec, nil
	}

	actionFailures.WithLabelValues(action).Inc()
	if rec.Duration() > 0 {
		l.Warn("Error applying sanction, it will be reconciled on expiry", slog.String(logging.KeyError, err.Error()))
		return &rec, nil
	}

	l.Error("Error applying sanction", slog.String(logging.KeyError, err.Error()))
	return &rec, &ActionError{Action: action, GuildID: rec.GuildID, RecordID: rec.RecordID, Err: err}
}

func (e *Engine) guard(ctx context.Context, req SanctionRequest) error {
	if req.IssuerID == req.SubjectID {
		return fmt.Errorf("%w: a user cannot sanction themself", ErrConflict)
	}
	for _, g := range e.guards {
		if err := g(ctx, req); err != nil {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return nil
}

// apply carries out a freshly recorded sanction and returns the executor action it used.
func (e *Engine) apply(ctx context.Context, guild *entities.Guild, rec *entities.SanctionRecord) (string, error) {
	switch rec.Kind {
	case entities.KindWarn:
		return executor.ActionApplyWarnNotice, e.exec.ApplyWarnNotice(ctx, rec.GuildID, rec.SubjectID, rec.Reason)
	case entities.KindTimeout:
		return executor.ActionApplyTimeout, e.exec.ApplyTimeout(ctx, rec.GuildID, rec.SubjectID, rec.Duration())
	case entities.KindMute:
		return executor.ActionAssignRole, e.exec.AssignRole(ctx, rec.GuildID, rec.SubjectID, guild.Moderation.MuteRoleID)
	case entities.KindKick:
		return executor.ActionApplyKick, e.exec.ApplyKick(ctx, rec.GuildID, rec.SubjectID, rec.Reason)
	case entities.KindBan:
		return executor.ActionApplyBan, e.exec.ApplyBan(ctx, rec.GuildID, rec.SubjectID, rec.Reason)
	default:
		return "", fmt.Errorf("kind %q cannot be applied", rec.Kind)
	}
}

// lift undoes the effect of an enforced or reversible kind. Warns have nothing to undo.
func (e *Engine) lift(ctx context.Context, guild *entities.Guild, guildID, userID string, kind entities.Kind) (string, error) {
	switch kind {
	case entities.KindWarn:
		return "", nil
	case entities.KindTimeout:
		return executor.ActionReverseTimeout, e.exec.ReverseTimeout(ctx, guildID, userID)
	case entities.KindMute:
		if guild.Moderation.MuteRoleID == "" {
			e.l.Warn("No mute role configured, nothing to remove",
				slog.String(logging.KeyGuildID, guildID),
				slog.String(logging.KeyUserID, userID),
			)
			return "", nil
		}
		return executor.ActionRemoveRole, e.exec.RemoveRole(ctx, guildID, userID, guild.Moderation.MuteRoleID)
	case entities.KindBan:
		return executor.ActionReverseBan, e.exec.ReverseBan(ctx, guildID, userID)
	default:
		return "", fmt.Errorf("kind %q cannot be lifted", kind)
	}
}

// Reverse records the counter of a warn, timeout, mute or ban and lifts it. The counter record
// ends the subject's active records of the original kind.
func (e *Engine) Reverse(ctx context.Context, guildID, subjectID, issuerID string, original entities.Kind, reason string) (*entities.SanctionRecord, error) {
	switch {
	case guildID == "":
		return nil, invalid("guild_id", "is required")
	case subjectID == "":
		return nil, invalid("subject_id", "is required")
	case issuerID == "":
		return nil, invalid("issuer_id", "is required")
	}

	counter, err := original.Counter()
	if err != nil {
		return nil, invalid("kind", "%v", err)
	}

	guild, err := e.Guild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	rec := entities.SanctionRecord{
		GuildID:   guildID,
		SubjectID: subjectID,
		IssuerID:  issuerID,
		Kind:      counter,
		Reason:    reason,
		CreatedAt: custom.NewDatetime(e.now()),
	}
	id, err := e.store.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("error appending %s: %w", counter, err)
	}
	rec.RecordID = id
	sanctionsIssued.WithLabelValues(string(counter)).Inc()

	e.l.Info("Sanction reversed",
		slog.String(logging.KeyGuildID, guildID),
		slog.String(logging.KeyUserID, subjectID),
		slog.Int64(logging.KeyRecordID, id),
		slog.String(logging.KeyKind, string(counter)),
	)

	if action, err := e.lift(ctx, guild, guildID, subjectID, original); err != nil {
		actionFailures.WithLabelValues(action).Inc()
		return &rec, &ActionError{Action: action, GuildID: guildID, RecordID: id, Err: err}
	}
	return &rec, nil
}

// ExpireSanction lifts an expired sanction and marks it inactive. The record is read again
// first, a record that is no longer active is left alone, so repeating the call is a no-op.
func (e *Engine) ExpireSanction(ctx context.Context, rec entities.SanctionRecord) error {
	current, err := e.store.GetSanction(ctx, rec.GuildID, rec.RecordID)
	if err != nil {
		return fmt.Errorf("error getting sanction: %w", err)
	}
	if !current.Active {
		expiries.WithLabelValues("sanction", "noop").Inc()
		return nil
	}

	guild, err := e.Guild(ctx, current.GuildID)
	if err != nil {
		return err
	}

	if action, err := e.lift(ctx, guild, current.GuildID, current.SubjectID, current.Kind); err != nil {
		actionFailures.WithLabelValues(action).Inc()
		expiries.WithLabelValues("sanction", "error").Inc()
		return &ActionError{Action: action, GuildID: current.GuildID, RecordID: current.RecordID, Err: err}
	}

	if err := e.store.MarkInactive(ctx, current.GuildID, current.RecordID); err != nil {
		expiries.WithLabelValues("sanction", "error").Inc()
		return fmt.Errorf("error marking sanction inactive: %w", err)
	}

	expiries.WithLabelValues("sanction", "expired").Inc()
	e.l.Info("Sanction expired",
		slog.String(logging.KeyGuildID, current.GuildID),
		slog.String(logging.KeyUserID, current.SubjectID),
		slog.Int64(logging.KeyRecordID, current.RecordID),
		slog.String(logging.KeyKind, string(current.Kind)),
	)
	return nil
}

// ForceExpireSanction marks a sanction inactive without lifting it. It is the last resort once
// the executor has failed too many times.
func (e *Engine) ForceExpireSanction(ctx context.Context, rec entities.SanctionRecord) error {
	err := e.store.MarkInactive(ctx, rec.GuildID, rec.RecordID)
	if err != nil && !errors.Is(err, dataaccess.ErrNotFound) {
		return fmt.Errorf("error marking sanction inactive: %w", err)
	}

	expiries.WithLabelValues("sanction", "forced").Inc()
	e.l.Error("Sanction force expired without lifting it",
		slog.String(logging.KeyGuildID, rec.GuildID),
		slog.String(logging.KeyUserID, rec.SubjectID),
		slog.Int64(logging.KeyRecordID, rec.RecordID),
		slog.String(logging.KeyKind, string(rec.Kind)),
	)
	return nil
}

// History returns the casier of a user, newest first.
func (e *Engine) History(ctx context.Context, guildID, userID string) ([]entities.SanctionRecord, error) {
	if guildID == "" || userID == "" {
		return nil, invalid("", "guild and user are required")
	}

	recs, err := e.store.History(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting history: %w", err)
	}
	return recs, nil
}

// DueSanctions returns the active sanctions that have expired at now.
func (e *Engine) DueSanctions(ctx context.Context, now time.Time) ([]entities.SanctionRecord, error) {
	recs, err := e.store.ActiveRecordsDueBefore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("error getting due sanctions: %w", err)
	}
	return recs, nil
}
