package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Jacobbrewer1/warden/cmd/bot/monitoring"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/Jacobbrewer1/warden/pkg/request"
	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
)

// commandProcessor is the processor for slash commands.
type commandProcessor func(a IApp, i *discordgo.InteractionCreate) error

// commandController picks the processor for a slash command, usually from its sub command.
type commandController func(a IApp, i *discordgo.InteractionCreate) (commandProcessor, error)

// componentProcessor is the processor for message components. arg is the part of the custom ID
// after the first colon.
type componentProcessor func(a IApp, i *discordgo.InteractionCreate, arg string) error

type Controller func(w http.ResponseWriter, r *http.Request)

func middlewareHttp(l *slog.Logger, handler Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		cw := request.NewClientWriter(w)

		// Recover from any panics that occur in the handler.
		defer func() {
			if rec := recover(); rec != nil {
				l.Error("Panic in handler",
					slog.String(logging.KeyError, fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				request.Encode(l, cw, http.StatusInternalServerError, request.NewMessage(request.ErrInternalServer.Error()))
			}
		}()

		var path string
		route := mux.CurrentRoute(r)
		if route != nil { // The route may be nil if the request is not routed.
			var err error
			path, err = route.GetPathTemplate()
			if err != nil {
				// An error here is only returned if the route does not define a path.
				l.Error("Error getting path template", slog.String(logging.KeyError, err.Error()))
				path = r.URL.Path
			}
		} else {
			path = r.URL.Path
		}

		defer func() {
			// Run after the request has been handled, as the status code will not be available until then.
			monitoring.HttpTotalRequests.WithLabelValues(path, r.Method, fmt.Sprintf("%d", cw.StatusCode())).Inc()
			monitoring.HttpRequestDuration.WithLabelValues(path, r.Method, fmt.Sprintf("%d", cw.StatusCode())).Observe(time.Since(now).Seconds())
		}()

		handler(cw, r)
	}
}

// interactionHandler dispatches slash commands by name and message components by the prefix of
// their custom ID.
func interactionHandler(a IApp, controllers map[string]commandController, components map[string]componentProcessor) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			name := i.ApplicationCommandData().Name
			t := time.Now()
			defer func() {
				monitoring.DiscordCommandDuration.WithLabelValues(name).Observe(time.Since(t).Seconds())
			}()

			controller, ok := controllers[name]
			if !ok {
				a.Log().Error("No controller found for command", slog.String("command", name))
				respond(a, i, fmt.Errorf("unknown command %s", name))
				return
			}

			processor, err := controller(a, i)
			if err != nil {
				a.Log().Error("Error getting processor for command",
					slog.String("command", name),
					slog.String(logging.KeyError, err.Error()))
				respond(a, i, err)
				return
			}

			if err := processor(a, i); err != nil {
				a.Log().Error("Error processing command",
					slog.String("command", name),
					slog.String(logging.KeyGuildID, i.GuildID),
					slog.String(logging.KeyError, err.Error()))
				respond(a, i, err)
			}
		case discordgo.InteractionMessageComponent:
			id, arg, _ := strings.Cut(i.MessageComponentData().CustomID, ":")
			processor, ok := components[id]
			if !ok {
				a.Log().Warn("No processor found for component", slog.String("custom_id", id))
				return
			}

			if err := processor(a, i, arg); err != nil {
				a.Log().Error("Error processing component",
					slog.String("custom_id", id),
					slog.String(logging.KeyGuildID, i.GuildID),
					slog.String(logging.KeyError, err.Error()))
				respond(a, i, err)
			}
		}
	}
}

func respond(a IApp, i *discordgo.InteractionCreate, err error) {
	if err := respondSlashError(a, i, err); err != nil {
		a.Log().Error("Error responding to interaction", slog.String(logging.KeyError, err.Error()))
	}
}
