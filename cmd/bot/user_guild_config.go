package main

import (
	"context"
	"fmt"

	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/bwmarrin/discordgo"
)

const (
	// setupCmdName is the command for all configuration commands.
	setupCmdName = "setup"

	// enableTicketingCmdName enables absence tickets.
	enableTicketingCmdName = "ticketing_enable"

	// disableTicketingCmdName disables absence tickets.
	disableTicketingCmdName = "ticketing_disable"

	// muteRoleCmdName sets the role given to muted members.
	muteRoleCmdName = "mute_role"

	// escalationCmdName sets the escalation threshold.
	escalationCmdName = "escalation"

	// channelCmdName is the text for the channel option.
	channelCmdName = "channel"

	// roleCmdName is the text for the role option.
	roleCmdName = "role"

	// pointsCmdName is the text for the points option.
	pointsCmdName = "points"
)

var (
	// setupCmd is the command for all configuration commands.
	setupCmd = &discordgo.ApplicationCommand{
		Name:        setupCmdName,
		Type:        discordgo.ChatApplicationCommand,
		Description: "This is the command for all configuration commands.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        enableTicketingCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This enables absence tickets with the role given to absent members.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        roleCmdName,
						Type:        discordgo.ApplicationCommandOptionRole,
						Description: "This is the role given to members while they are away.",
						Required:    true,
					},
					{
						Name:        channelCmdName,
						Type:        discordgo.ApplicationCommandOptionChannel,
						Description: "This is the channel absences are logged in.",
					},
				},
			},
			{
				Name:        disableTicketingCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This will disable absence tickets for your server.",
			},
			{
				Name:        muteRoleCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This sets the role given to muted members.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        roleCmdName,
						Type:        discordgo.ApplicationCommandOptionRole,
						Description: "This is the mute role.",
						Required:    true,
					},
				},
			},
			{
				Name:        escalationCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This sets the points after which automatic sanctions become a ban. 0 disables it.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        pointsCmdName,
						Type:        discordgo.ApplicationCommandOptionInteger,
						Description: "This is the number of points.",
						Required:    true,
					},
				},
			},
		},
	}
)

func setupCmdController(a IApp, i *discordgo.InteractionCreate) (commandProcessor, error) {
	// Ensure the user is an administrator.
	if !hasPermission(i, discordgo.PermissionAdministrator) {
		return func(a IApp, i *discordgo.InteractionCreate) error {
			return respondEphemeral(a, i, "You must be an administrator to use this command")
		}, nil
	}

	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return nil, fmt.Errorf("missing sub command")
	}

	// Extract the sub command.
	switch subCmd := opts[0].Name; subCmd {
	case enableTicketingCmdName:
		return enableTicketingCmdController, nil
	case disableTicketingCmdName:
		return disableTicketingCmdController, nil
	case muteRoleCmdName:
		return muteRoleCmdController, nil
	case escalationCmdName:
		return escalationCmdController, nil
	default:
		return nil, fmt.Errorf("unhandled sub command %s", subCmd)
	}
}

// updateGuild applies fn to the configuration of the guild and saves it.
func updateGuild(a IApp, i *discordgo.InteractionCreate, fn func(opts []*discordgo.ApplicationCommandInteractionDataOption, g *entities.Guild) string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	guild, err := a.Engine().Guild(ctx, i.GuildID)
	if err != nil {
		return fmt.Errorf("error getting guild: %w", err)
	}

	msg := fn(subOptions(i), guild)

	if err := a.Engine().ConfigureGuild(ctx, guild); err != nil {
		return respondSlashError(a, i, err)
	}
	return respondEphemeral(a, i, msg)
}

// enableTicketingCmdController is the controller for the enable ticketing command.
func enableTicketingCmdController(a IApp, i *discordgo.InteractionCreate) error {
	return updateGuild(a, i, func(opts []*discordgo.ApplicationCommandInteractionDataOption, g *entities.Guild) string {
		// Extract the role provided.
		role := option(opts, roleCmdName).RoleValue(nil, i.GuildID)

		g.Ticketing.Enabled = true
		g.Ticketing.RoleID = role.ID
		if o := option(opts, channelCmdName); o != nil {
			g.Ticketing.LogChannelID = o.ChannelValue(nil).ID
		}
		return fmt.Sprintf("Absence tickets have been enabled with role <@&%s>", role.ID)
	})
}

// disableTicketingCmdController is the controller for the disable ticketing command.
func disableTicketingCmdController(a IApp, i *discordgo.InteractionCreate) error {
	return updateGuild(a, i, func(_ []*discordgo.ApplicationCommandInteractionDataOption, g *entities.Guild) string {
		g.Ticketing.Enabled = false
		return "Absence tickets have been disabled"
	})
}

func muteRoleCmdController(a IApp, i *discordgo.InteractionCreate) error {
	return updateGuild(a, i, func(opts []*discordgo.ApplicationCommandInteractionDataOption, g *entities.Guild) string {
		role := option(opts, roleCmdName).RoleValue(nil, i.GuildID)
		g.Moderation.MuteRoleID = role.ID
		return fmt.Sprintf("Muted members will be given <@&%s>", role.ID)
	})
}

func escalationCmdController(a IApp, i *discordgo.InteractionCreate) error {
	return updateGuild(a, i, func(opts []*discordgo.ApplicationCommandInteractionDataOption, g *entities.Guild) string {
		points := int(option(opts, pointsCmdName).IntValue())
		g.Moderation.EscalationBanPoints = points
		if points == 0 {
			return "Automatic sanctions will no longer escalate"
		}
		return fmt.Sprintf("Automatic sanctions will become a ban at %d points", points)
	})
}
