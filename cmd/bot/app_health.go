package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/bwmarrin/discordgo"
)

// sweepGrace is how late a sweep may be before the scheduler is reported down.
const sweepGrace = time.Minute

func (a *App) healthCheck() Controller {
	checker := health.NewChecker(
		// Set a TTL of 1 second for the results of the checks.
		health.WithCacheDuration(1*time.Second),

		// Set a timeout of 2 seconds for the checks.
		health.WithTimeout(2*time.Second),

		// Monitor the health of the database.
		health.WithCheck(health.Check{
			Name: "database",
			Check: func(ctx context.Context) error {
				if err := a.store.Ping(ctx); err != nil {
					return fmt.Errorf("failed to ping database: %w", err)
				}
				return nil
			},
			Timeout:        2 * time.Second,
			StatusListener: a.statusListener,
		}),

		// Monitor the expiry sweeps.
		health.WithCheck(health.Check{
			Name: "scheduler",
			Check: func(_ context.Context) error {
				return sweepFresh(a.sched.LastSweep(), a.started, a.sched.MaxInterval(), time.Now())
			},
			StatusListener: a.statusListener,
		}),

		// Monitor the health of the Discord API.
		health.WithPeriodicCheck(15*time.Second, 5*time.Second, health.Check{
			Name: "discord_api",
			Check: func(ctx context.Context) error {
				if _, err := a.Session().GatewayBot(discordgo.WithContext(ctx)); err != nil {
					return fmt.Errorf("failed to ping Discord API: %w", err)
				}
				return nil
			},
			Timeout:        3 * time.Second,
			StatusListener: a.statusListener,
		}),
	)

	return Controller(health.NewHandler(checker))
}

func (a *App) statusListener(_ context.Context, name string, state health.CheckState) {
	a.Log().Info("Health check status changed",
		slog.String("name", name),
		slog.String("state", string(state.Status)),
	)
}

// sweepFresh reports an error when no sweep has finished for longer than the longest sweep
// interval plus a grace period. Before the first sweep the start time is used.
func sweepFresh(last, started time.Time, interval time.Duration, now time.Time) error {
	ref := last
	if ref.IsZero() {
		ref = started
	}

	if late := now.Sub(ref); late > interval+sweepGrace {
		if last.IsZero() {
			return fmt.Errorf("no sweep since start %s ago", late.Round(time.Second))
		}
		return fmt.Errorf("last sweep was %s ago", late.Round(time.Second))
	}
	return nil
}
