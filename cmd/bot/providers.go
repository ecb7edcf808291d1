package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jacobbrewer1/warden/cmd/bot/config"
	"github.com/Jacobbrewer1/warden/pkg/classifier"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess/connection"
	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/Jacobbrewer1/warden/pkg/scheduler"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// executorBurst is the number of platform calls allowed at once above the rate.
const executorBurst = 5

// NewStore connects to the configured backend.
func NewStore(ctx context.Context, l *slog.Logger, cfg *config.Config) (dataaccess.Store, func(), error) {
	var store dataaccess.Store

	switch cfg.DatabaseDriver {
	case config.DriverMongo:
		conn := &connection.MongoDB{ConnectionString: cfg.MongoUri}
		client, err := conn.Connect(ctx)
		if err != nil {
			return nil, nil, err
		}

		store, err = dataaccess.NewMongoStore(ctx, l, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("error creating mongo store: %w", err)
		}
	default:
		conn := &connection.SQL{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN}
		db, err := conn.Open(ctx)
		if err != nil {
			return nil, nil, err
		}

		store, err = dataaccess.NewSQLStore(ctx, l, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("error creating sql store: %w", err)
		}
	}

	l.Info("Connected to database", slog.String("driver", cfg.DatabaseDriver))

	cleanup := func() {
		if err := store.Close(context.Background()); err != nil {
			l.Error("Error closing database", slog.String(logging.KeyError, err.Error()))
		}
	}
	return store, cleanup, nil
}

// NewSession creates the Discord session. It is opened by the app.
func NewSession(cfg *config.Config) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	return dg, nil
}

// NewExecutor creates the executor for platform actions. In dry run mode actions are only logged.
func NewExecutor(l *slog.Logger, cfg *config.Config, s *discordgo.Session) executor.ActionExecutor {
	if cfg.DryRun {
		l.Warn("Dry run enabled, platform actions will only be logged")
		return executor.NewRecorder(l)
	}

	return executor.NewReliable(l, executor.NewDiscord(l, s),
		executor.WithRateLimit(rate.Limit(cfg.ExecutorRate), executorBurst),
		executor.WithMaxTries(cfg.ExecutorMaxTries),
	)
}

// NewClassifier creates the classifier from the policy file, or the built in tiers.
func NewClassifier(cfg *config.Config) (*classifier.Classifier, error) {
	return cfg.Classifier()
}

// NewEngine creates the engine.
func NewEngine(l *slog.Logger, cfg *config.Config, store dataaccess.Store, cls *classifier.Classifier, exec executor.ActionExecutor) *engine.Engine {
	opts := []engine.Option{
		engine.WithMaxTicketDays(cfg.MaxTicketDays),
	}
	if cfg.ApplicationId != "" {
		opts = append(opts, engine.WithGuard(protectSelf(cfg.ApplicationId)))
	}
	return engine.New(l, store, cls, exec, opts...)
}

// protectSelf refuses sanctions against the bot.
func protectSelf(appID string) engine.Guard {
	return func(_ context.Context, req engine.SanctionRequest) error {
		if req.SubjectID == appID {
			return fmt.Errorf("%s cannot sanction itself", config.AppName)
		}
		return nil
	}
}

// NewScheduler creates the expiry scheduler.
func NewScheduler(l *slog.Logger, cfg *config.Config, e *engine.Engine) *scheduler.Scheduler {
	return scheduler.New(l, e, scheduler.Config{
		TicketInterval:   cfg.TicketSweepInterval,
		SanctionInterval: cfg.SanctionSweepInterval,
	})
}
