package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/bwmarrin/discordgo"
)

// discordMaxTimeout is the longest timeout Discord accepts.
const discordMaxTimeout = 28 * 24 * time.Hour

// DiscordSession is the part of *discordgo.Session the executor uses.
type DiscordSession interface {
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord performs actions through the Discord REST API.
type Discord struct {
	l *slog.Logger
	s DiscordSession

	// now is the clock used to compute timeout ends.
	now func() time.Time
}

// NewDiscord creates a Discord executor.
func NewDiscord(l *slog.Logger, s DiscordSession) *Discord {
	return &Discord{
		l:   l.With(slog.String(logging.KeyComponent, "discord_executor")),
		s:   s,
		now: time.Now,
	}
}

func (d *Discord) ApplyTimeout(ctx context.Context, guildID, userID string, dur time.Duration) error {
	if dur <= 0 {
		return Permanent(fmt.Errorf("invalid timeout duration %s", dur))
	}

	// Discord refuses longer timeouts. The ledger still holds the real expiry.
	if dur > discordMaxTimeout {
		d.l.Warn("Timeout longer than Discord allows, capping",
			slog.String(logging.KeyGuildID, guildID),
			slog.String(logging.KeyUserID, userID),
			slog.Duration("requested", dur),
		)
		dur = discordMaxTimeout
	}

	until := d.now().Add(dur)
	return classify(d.s.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx)))
}

func (d *Discord) ApplyBan(ctx context.Context, guildID, userID, reason string) error {
	return classify(d.s.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (d *Discord) ApplyKick(ctx context.Context, guildID, userID, reason string) error {
	return ignore(classify(d.s.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))), discordgo.ErrCodeUnknownMember)
}

func (d *Discord) ApplyWarnNotice(ctx context.Context, guildID, userID, reason string) error {
	return d.Notify(ctx, userID, fmt.Sprintf("You have received a warning. Reason: %s", reason))
}

func (d *Discord) ReverseTimeout(ctx context.Context, guildID, userID string) error {
	return ignore(classify(d.s.GuildMemberTimeout(guildID, userID, nil, discordgo.WithContext(ctx))), discordgo.ErrCodeUnknownMember)
}

func (d *Discord) ReverseBan(ctx context.Context, guildID, userID string) error {
	return ignore(classify(d.s.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))), discordgo.ErrCodeUnknownBan)
}

func (d *Discord) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	return classify(d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return ignore(classify(d.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))), discordgo.ErrCodeUnknownMember)
}

func (d *Discord) TeardownResource(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return nil
	}
	_, err := d.s.ChannelDelete(externalRef, discordgo.WithContext(ctx))
	return ignore(classify(err), discordgo.ErrCodeUnknownChannel)
}

func (d *Discord) Notify(ctx context.Context, userID, message string) error {
	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error creating dm channel: %w", classify(err))
	}

	if _, err := d.s.ChannelMessageSend(ch.ID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("error sending dm: %w", classify(err))
	}
	return nil
}

// classify marks client errors as permanent. Rate limits and server errors stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}

	code := restErr.Response.StatusCode
	if code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}

// ignore treats the given Discord error codes as success, they mean the effect is already in
// place.
func ignore(err error, codes ...int) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return err
	}
	for _, c := range codes {
		if restErr.Message.Code == c {
			return nil
		}
	}
	return err
}
