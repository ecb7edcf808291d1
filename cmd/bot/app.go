package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jacobbrewer1/warden/cmd/bot/config"
	"github.com/Jacobbrewer1/warden/cmd/bot/monitoring"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/Jacobbrewer1/warden/pkg/request"
	"github.com/Jacobbrewer1/warden/pkg/scheduler"
	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// PathMetrics is the path for metrics.
	PathMetrics = "/metrics"

	// PathHealth is the path for the health check.
	PathHealth = "/health"

	shutdownTimeout = 10 * time.Second
)

// IApp is the interface for the application.
type IApp interface {
	// Log returns the logger.
	Log() *slog.Logger

	// Session returns the discord session.
	Session() *discordgo.Session

	// Engine returns the moderation engine.
	Engine() *engine.Engine
}

type App struct {
	// is the logger.
	*slog.Logger

	cfg *config.Config

	// r is the router for the application.
	r *mux.Router

	// svr is the server for the application.
	svr *http.Server

	// s is the discord session.
	s *discordgo.Session

	store  dataaccess.Store
	engine *engine.Engine
	sched  *scheduler.Scheduler

	// started is when Run was called.
	started time.Time
}

// NewApp creates a new instance of App.
func NewApp(
	l *slog.Logger,
	cfg *config.Config,
	r *mux.Router,
	s *discordgo.Session,
	store dataaccess.Store,
	e *engine.Engine,
	sched *scheduler.Scheduler,
) *App {
	return &App{
		Logger: l,
		cfg:    cfg,
		r:      r,
		s:      s,
		store:  store,
		engine: e,
		sched:  sched,
	}
}

// Run connects to Discord, starts the scheduler and the monitoring server, and blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.started = time.Now()

	// Default the number of guilds to 0.
	monitoring.TotalDiscordGuilds.Set(0)

	a.RegisterDiscordHandlers()

	// Open websocket.
	if err := a.s.Open(); err != nil {
		return fmt.Errorf("error opening connection to Discord: %w", err)
	}

	// Register slash commands.
	if err := a.registerSlashCommands(); err != nil {
		_ = a.s.Close()
		return fmt.Errorf("error registering slash commands: %w", err)
	}

	a.Info("Bot is now running.", slog.Bool("dry_run", a.cfg.DryRun))

	a.sched.Start(ctx)

	a.generateServer()
	a.setupRoutes()
	a.runServer()

	<-ctx.Done()
	a.Info("Received shutdown signal")
	return a.ShutdownHook()
}

func (a *App) ShutdownHook() error {
	// Reset the total number of guilds to 0.
	monitoring.TotalDiscordGuilds.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.svr != nil {
		if err := a.svr.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down monitoring server: %w", err))
		}
	}

	a.sched.Stop()

	// Close the connection to Discord.
	if err := a.s.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing connection to Discord: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) runServer() {
	go func() {
		a.Info("Starting monitoring server", slog.String("addr", a.svr.Addr))
		if err := a.svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Error("Error starting monitoring server", slog.String(logging.KeyError, err.Error()))
			a.Warn("Monitoring server will not be available")
		}
	}()
}

func (a *App) setupRoutes() {
	// PathMetrics is the path for metrics.
	a.r.HandleFunc(PathMetrics, promhttp.Handler().ServeHTTP).Methods(http.MethodGet)

	// PathHealth is the path for health check.
	a.r.HandleFunc(PathHealth, middlewareHttp(a.Logger, a.healthCheck())).Methods(http.MethodGet)

	newAPI(a.Logger, a.engine, a.sched).register(a.r)

	// NotFoundHandler is the handler for 404.
	a.r.NotFoundHandler = request.NotFoundHandler(a.Logger)

	// MethodNotAllowedHandler is the handler for 405.
	a.r.MethodNotAllowedHandler = request.MethodNotAllowedHandler(a.Logger)
}

func (a *App) generateServer() {
	a.svr = &http.Server{
		Addr:              ":" + a.cfg.MonitoringPort,
		Handler:           a.r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) RegisterDiscordHandlers() {
	a.s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.Info(fmt.Sprintf("Logged in as %s", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	})

	// Count every event by type.
	a.s.AddHandler(func(_ *discordgo.Session, e *discordgo.Event) {
		if e.Type == "" {
			return
		}
		monitoring.TotalDiscordEvents.WithLabelValues(e.Type).Inc()
	})

	// Bot joined guild.
	a.s.AddHandler(guildJoinedHandler(a))

	// Bot left guild.
	a.s.AddHandler(guildLeaveHandler(a))

	// Screen every guild message.
	a.s.AddHandler(messageCreateHandler(a, a.cfg.ApplicationId))

	// Interaction create handler.
	a.s.AddHandler(interactionHandler(a,
		// Slash Controllers
		map[string]commandController{
			setupCmd.Name:    setupCmdController,
			absenceCmd.Name:  absenceCmdController,
			casierCmd.Name:   casierCmdController,
			sanctionCmd.Name: sanctionCmdController,
		},
		// Button Processors
		map[string]componentProcessor{
			ApproveAbsenceButtonID: approveAbsenceButton,
			CloseAbsenceButtonID:   closeAbsenceButton,
		}))
}

func (a *App) registerSlashCommands() error {
	appID := a.cfg.ApplicationId
	if appID == "" {
		appID = a.s.State.User.ID
	}

	// Commands are registered globally, overwriting whatever was registered before.
	cmds := []*discordgo.ApplicationCommand{setupCmd, absenceCmd, casierCmd, sanctionCmd}
	if _, err := a.s.ApplicationCommandBulkOverwrite(appID, "", cmds); err != nil {
		return fmt.Errorf("error overwriting commands: %w", err)
	}
	return nil
}

func (a *App) Log() *slog.Logger {
	return a.Logger
}

func (a *App) Session() *discordgo.Session {
	return a.s
}

func (a *App) Engine() *engine.Engine {
	return a.engine
}
