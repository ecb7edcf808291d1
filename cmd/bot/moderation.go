package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/cmd/bot/monitoring"
	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/bwmarrin/discordgo"
)

// moderationTimeout bounds the screening of a single message, platform actions included.
const moderationTimeout = 30 * time.Second

// messageDeleter is the part of the session used to remove flagged messages.
type messageDeleter interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// messageCreateHandler screens every guild message that was not written by a bot.
func messageCreateHandler(a IApp, appID string) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.Author.ID == appID || m.GuildID == "" || m.Content == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
		defer cancel()

		screenMessage(ctx, a.Log(), a.Engine(), s, m.Message)
	}
}

func screenMessage(ctx context.Context, l *slog.Logger, e *engine.Engine, d messageDeleter, m *discordgo.Message) {
	l = l.With(
		slog.String(logging.KeyGuildID, m.GuildID),
		slog.String(logging.KeyUserID, m.Author.ID),
		slog.String("message_id", m.ID),
	)

	decision, err := e.Moderate(ctx, engine.ModerateRequest{
		GuildID: m.GuildID,
		UserID:  m.Author.ID,
		Text:    m.Content,
	})
	switch {
	case err != nil && engine.IsAction(err) && decision != nil && decision.Record != nil:
		// The sanction is recorded, only the platform action failed.
		l.Warn("Sanction recorded but not applied",
			slog.Int64(logging.KeyRecordID, decision.Record.RecordID),
			slog.String(logging.KeyError, err.Error()),
		)
	case err != nil:
		monitoring.MessagesScreened.WithLabelValues("error").Inc()
		l.Error("Error screening message", slog.String(logging.KeyError, err.Error()))
		return
	}

	if !decision.Matched {
		monitoring.MessagesScreened.WithLabelValues("clean").Inc()
		return
	}
	monitoring.MessagesScreened.WithLabelValues("flagged").Inc()

	if !decision.DeleteSource {
		return
	}

	if err := d.ChannelMessageDelete(m.ChannelID, m.ID, discordgo.WithContext(ctx)); err != nil {
		l.Error("Error deleting flagged message", slog.String(logging.KeyError, err.Error()))
	}
}
