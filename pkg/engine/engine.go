// Package engine drives sanctions and absence tickets through their lifecycle.
//
// Every operation persists first and acts second: the ledger and ticket store are the source of
// truth, the executor is asked to make the platform match them. Expiry is driven by the scheduler
// and is safe to repeat.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/classifier"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/Jacobbrewer1/warden/pkg/logging"
)

// Engine is the entry point for moderation and ticket operations.
type Engine struct {
	l          *slog.Logger
	store      dataaccess.Store
	classifier *classifier.Classifier
	exec       executor.ActionExecutor

	now           func() time.Time
	guards        []Guard
	maxTicketDays int
}

// New creates an engine.
func New(l *slog.Logger, store dataaccess.Store, cls *classifier.Classifier, exec executor.ActionExecutor, opts ...Option) *Engine {
	e := &Engine{
		l:          l.With(slog.String(logging.KeyComponent, "engine")),
		store:      store,
		classifier: cls,
		exec:       exec,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Guild returns the configuration of a guild. Guilds without a stored configuration get the
// defaults: ticketing enabled, no mute role, no escalation.
func (e *Engine) Guild(ctx context.Context, guildID string) (*entities.Guild, error) {
	g, err := e.store.GetGuildByID(ctx, guildID)
	if errors.Is(err, dataaccess.ErrNotFound) {
		return defaultGuild(guildID), nil
	} else if err != nil {
		return nil, fmt.Errorf("error getting guild config: %w", err)
	}
	return g, nil
}

// ConfigureGuild validates and stores a guild configuration.
func (e *Engine) ConfigureGuild(ctx context.Context, g *entities.Guild) error {
	if g == nil || g.ID == "" {
		return invalid("guild_id", "is required")
	}
	if g.Moderation.EscalationBanPoints < 0 {
		return invalid("escalation_ban_points", "must not be negative")
	}
	if _, err := extraKeywords(g); err != nil {
		return err
	}

	if err := e.store.SaveGuild(ctx, g); err != nil {
		return fmt.Errorf("error saving guild config: %w", err)
	}
	return nil
}

func defaultGuild(id string) *entities.Guild {
	return &entities.Guild{
		ID:        id,
		Ticketing: entities.TicketingConfig{Enabled: true},
	}
}

// extraKeywords converts the guild keyword additions, keyed by tier name, for the classifier.
func extraKeywords(g *entities.Guild) (map[entities.Tier][]string, error) {
	if len(g.Moderation.ExtraKeywords) == 0 {
		return nil, nil
	}

	extra := make(map[entities.Tier][]string, len(g.Moderation.ExtraKeywords))
	for name, words := range g.Moderation.ExtraKeywords {
		t, err := entities.ParseTier(name)
		if err != nil {
			return nil, invalid("extra_keywords", "%v", err)
		}
		extra[t] = append(extra[t], words...)
	}
	return extra, nil
}

// notify tells a user about something. Failures are logged and otherwise ignored.
func (e *Engine) notify(ctx context.Context, guildID, userID, msg string) {
	if err := e.exec.Notify(ctx, userID, msg); err != nil {
		actionFailures.WithLabelValues(executor.ActionNotify).Inc()
		e.l.Warn("Error notifying user",
			slog.String(logging.KeyGuildID, guildID),
			slog.String(logging.KeyUserID, userID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
}
