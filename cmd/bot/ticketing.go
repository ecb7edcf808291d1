package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/bwmarrin/discordgo"
)

const (
	// ApproveAbsenceButtonID is the ID for the approve absence button.
	ApproveAbsenceButtonID = "absence_approve"

	// CloseAbsenceButtonID is the ID for the close absence button.
	CloseAbsenceButtonID = "absence_close"
)

const (
	// ApproveEmoji is the emoji that will be used for the approve button. (Check mark)
	ApproveEmoji = "\u2705"

	// CloseEmoji is the emoji that will be used for the close button. (Padlock)
	CloseEmoji = "\U0001F510"
)

const (
	// AbsenceCmdName is the command for absence tickets.
	AbsenceCmdName = "absence"

	// RequestCmdName is the sub command for requesting an absence.
	RequestCmdName = "request"

	// ApproveCmdName is the sub command for approving an absence.
	ApproveCmdName = "approve"

	// RejectCmdName is the sub command for rejecting an absence.
	RejectCmdName = "reject"

	// CloseCmdName is the sub command for ending an absence early.
	CloseCmdName = "close"

	// ListCmdName is the sub command for listing the absences of a user.
	ListCmdName = "list"

	durationOptName = "duration"
	reasonOptName   = "reason"
	ticketOptName   = "ticket"
	userOptName     = "user"

	commandTimeout = 30 * time.Second
)

var (
	ticketOption = &discordgo.ApplicationCommandOption{
		Name:        ticketOptName,
		Type:        discordgo.ApplicationCommandOptionInteger,
		Description: "The number of the absence.",
		Required:    true,
	}

	// absenceCmd is the command for controlling absence tickets.
	absenceCmd = &discordgo.ApplicationCommand{
		Name:        AbsenceCmdName,
		Type:        discordgo.ChatApplicationCommand,
		Description: "This is the command for absence tickets.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        RequestCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This requests an absence, for example for 2 weeks.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        durationOptName,
						Type:        discordgo.ApplicationCommandOptionString,
						Description: "How long you will be away, for example \"2 weeks\" or \"10 days\".",
						Required:    true,
					},
					{
						Name:        reasonOptName,
						Type:        discordgo.ApplicationCommandOptionString,
						Description: "Why you will be away.",
					},
				},
			},
			{
				Name:        ApproveCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This approves an absence and gives the absence role.",
				Options:     []*discordgo.ApplicationCommandOption{ticketOption},
			},
			{
				Name:        RejectCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This rejects an absence.",
				Options: []*discordgo.ApplicationCommandOption{
					ticketOption,
					{
						Name:        reasonOptName,
						Type:        discordgo.ApplicationCommandOptionString,
						Description: "Why the absence is rejected.",
						Required:    true,
					},
				},
			},
			{
				Name:        CloseCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This ends an absence early.",
				Options:     []*discordgo.ApplicationCommandOption{ticketOption},
			},
			{
				Name:        ListCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This lists the absences of a user.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        userOptName,
						Type:        discordgo.ApplicationCommandOptionUser,
						Description: "The user, yourself when not set.",
					},
				},
			},
		},
	}
)

// newAbsenceMessage is the message posted in the channel of a new absence.
func newAbsenceMessage(t *entities.TicketRecord) *discordgo.MessageSend {
	content := fmt.Sprintf("<@%s> requested absence **%s** until <t:%d:F>.", t.SubjectID, t.Name(), t.EndAt.Time().Unix())
	if t.Reason != "" {
		content += "\nReason: " + t.Reason
	}

	return &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{t.SubjectID}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    fmt.Sprintf("%s Approve", ApproveEmoji),
						Style:    discordgo.SuccessButton,
						CustomID: fmt.Sprintf("%s:%d", ApproveAbsenceButtonID, t.TicketID),
					},
					discordgo.Button{
						Label:    fmt.Sprintf("%s Close", CloseEmoji),
						Style:    discordgo.SecondaryButton,
						CustomID: fmt.Sprintf("%s:%d", CloseAbsenceButtonID, t.TicketID),
					},
				},
			},
		},
	}
}

func absenceCmdController(_ IApp, i *discordgo.InteractionCreate) (commandProcessor, error) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return nil, fmt.Errorf("missing sub command")
	}

	switch subCmd := opts[0].Name; subCmd {
	case RequestCmdName:
		return requestAbsence, nil
	case ApproveCmdName:
		return staffOnly(approveAbsence), nil
	case RejectCmdName:
		return staffOnly(rejectAbsence), nil
	case CloseCmdName:
		return closeAbsence, nil
	case ListCmdName:
		return listAbsences, nil
	default:
		return nil, fmt.Errorf("unhandled sub command %s", subCmd)
	}
}

// staffOnly refuses the command to members who cannot moderate.
func staffOnly(p commandProcessor) commandProcessor {
	return func(a IApp, i *discordgo.InteractionCreate) error {
		if !hasPermission(i, discordgo.PermissionModerateMembers) {
			return respondEphemeral(a, i, msgNotAllowed)
		}
		return p(a, i)
	}
}

// subOptions returns the options of the sub command.
func subOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	return i.ApplicationCommandData().Options[0].Options
}

func ticketIDOption(i *discordgo.InteractionCreate) int64 {
	if o := option(subOptions(i), ticketOptName); o != nil {
		return o.IntValue()
	}
	return 0
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	if o := option(subOptions(i), name); o != nil {
		return strings.TrimSpace(o.StringValue())
	}
	return ""
}

// requestAbsence creates the ticket, then a private channel for it that is torn down when the
// ticket ends.
func requestAbsence(a IApp, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	user := interactionUser(i)
	t, err := a.Engine().CreateTicket(ctx, engine.CreateTicketRequest{
		GuildID:  i.GuildID,
		UserID:   user.ID,
		Duration: stringOption(i, durationOptName),
		Reason:   stringOption(i, reasonOptName),
	})
	if err != nil {
		return respondSlashError(a, i, err)
	}

	l := a.Log().With(
		slog.String(logging.KeyGuildID, t.GuildID),
		slog.Int64(logging.KeyTicketID, t.TicketID),
	)

	if err := setupAbsenceChannel(ctx, a.Engine(), a.Session(), t); err != nil {
		// The ticket stands without a channel.
		l.Error("Error setting up absence channel", slog.String(logging.KeyError, err.Error()))
	}

	return respondEphemeral(a, i, fmt.Sprintf("Your absence **%s** has been requested and ends <t:%d:F>.", t.Name(), t.EndAt.Time().Unix()))
}

// channelSession is the part of the session used to manage absence channels.
type channelSession interface {
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// setupAbsenceChannel creates a channel only the requester can see, attaches it to the ticket and
// posts the approve and close buttons in it. The channel is deleted when it cannot be attached, as
// nothing would tear it down.
func setupAbsenceChannel(ctx context.Context, e *engine.Engine, s channelSession, t *entities.TicketRecord) error {
	channel, err := s.GuildChannelCreateComplex(t.GuildID, discordgo.GuildChannelCreateData{
		Name:  t.Name(),
		Type:  discordgo.ChannelTypeGuildText,
		Topic: fmt.Sprintf("Absence requested by <@%s>", t.SubjectID),
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			// Deny @everyone from seeing the absence.
			{
				ID:   t.GuildID,
				Type: discordgo.PermissionOverwriteTypeRole,
				Deny: discordgo.PermissionViewChannel,
			},
			// The requester can see the absence.
			{
				ID:    t.SubjectID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: discordgo.PermissionAllText,
				Deny:  discordgo.PermissionMentionEveryone,
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error creating channel: %w", err)
	}

	if _, err := e.AttachTicketResource(ctx, t.GuildID, t.TicketID, channel.ID); err != nil {
		if _, delErr := s.ChannelDelete(channel.ID, discordgo.WithContext(ctx)); delErr != nil {
			return fmt.Errorf("error attaching channel: %w (channel %s left behind: %v)", err, channel.ID, delErr)
		}
		return fmt.Errorf("error attaching channel: %w", err)
	}

	if _, err := s.ChannelMessageSendComplex(channel.ID, newAbsenceMessage(t), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}

func approveAbsence(a IApp, i *discordgo.InteractionCreate) error {
	return approve(a, i, ticketIDOption(i))
}

func rejectAbsence(a IApp, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	t, err := a.Engine().RejectTicket(ctx, i.GuildID, ticketIDOption(i), stringOption(i, reasonOptName))
	if err != nil {
		return respondSlashError(a, i, err)
	}
	return respondEphemeral(a, i, fmt.Sprintf("Absence **%s** has been rejected.", t.Name()))
}

func closeAbsence(a IApp, i *discordgo.InteractionCreate) error {
	return closeTicket(a, i, ticketIDOption(i))
}

func listAbsences(a IApp, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	userID := interactionUser(i).ID
	if o := option(subOptions(i), userOptName); o != nil {
		userID = o.UserValue(nil).ID
		if userID != interactionUser(i).ID && !hasPermission(i, discordgo.PermissionModerateMembers) {
			return respondEphemeral(a, i, msgNotAllowed)
		}
	}

	ts, err := a.Engine().Tickets(ctx, i.GuildID, userID)
	if err != nil {
		return respondSlashError(a, i, err)
	}
	return respondEphemeral(a, i, formatTickets(userID, ts))
}

func formatTickets(userID string, ts []entities.TicketRecord) string {
	if len(ts) == 0 {
		return fmt.Sprintf("<@%s> has no absences.", userID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Absences of <@%s>:", userID)
	for _, t := range ts {
		fmt.Fprintf(&sb, "\n- **%s** %s, <t:%d:d> to <t:%d:d>", t.Name(), t.State, t.StartAt.Time().Unix(), t.EndAt.Time().Unix())
		if t.RejectionReason != nil {
			fmt.Fprintf(&sb, " (%s)", *t.RejectionReason)
		}
	}
	return sb.String()
}

func approveAbsenceButton(a IApp, i *discordgo.InteractionCreate, arg string) error {
	if !hasPermission(i, discordgo.PermissionModerateMembers) {
		return respondEphemeral(a, i, msgNotAllowed)
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ticket id %q: %w", arg, err)
	}
	return approve(a, i, id)
}

func closeAbsenceButton(a IApp, i *discordgo.InteractionCreate, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ticket id %q: %w", arg, err)
	}
	return closeTicket(a, i, id)
}

func approve(a IApp, i *discordgo.InteractionCreate, ticketID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	t, err := a.Engine().ApproveTicket(ctx, i.GuildID, ticketID)
	if err != nil {
		return respondSlashError(a, i, err)
	}
	return respondEphemeral(a, i, fmt.Sprintf("Absence **%s** has been approved.", t.Name()))
}

// closeTicket ends an absence early. The requester may close their own absence, staff may close
// any.
func closeTicket(a IApp, i *discordgo.InteractionCreate, ticketID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	t, err := a.Engine().GetTicket(ctx, i.GuildID, ticketID)
	if err != nil {
		return respondSlashError(a, i, err)
	}
	if t.SubjectID != interactionUser(i).ID && !hasPermission(i, discordgo.PermissionModerateMembers) {
		return respondEphemeral(a, i, msgNotAllowed)
	}

	// Respond before closing, the channel the interaction came from may be torn down.
	if err := respondEphemeral(a, i, fmt.Sprintf("Closing absence **%s**.", t.Name())); err != nil {
		return fmt.Errorf("error responding to interaction: %w", err)
	}

	if _, err := a.Engine().CloseTicket(ctx, i.GuildID, ticketID); err != nil {
		a.Log().Error("Error closing absence",
			slog.String(logging.KeyGuildID, i.GuildID),
			slog.Int64(logging.KeyTicketID, ticketID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
	return nil
}
