package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/bwmarrin/discordgo"
)

const (
	// CasierCmdName is the command for the sanction history of a user.
	CasierCmdName = "casier"

	// SanctionCmdName is the command for manual sanctions.
	SanctionCmdName = "sanction"

	// RevokeCmdName is the sub command for reversing a sanction.
	RevokeCmdName = "revoke"

	kindOptName = "kind"

	// casierLimit is the number of records shown by the casier command.
	casierLimit = 15
)

var (
	userOption = &discordgo.ApplicationCommandOption{
		Name:        userOptName,
		Type:        discordgo.ApplicationCommandOptionUser,
		Description: "The member.",
		Required:    true,
	}

	// casierCmd shows the sanction history of a user.
	casierCmd = &discordgo.ApplicationCommand{
		Name:        CasierCmdName,
		Type:        discordgo.ChatApplicationCommand,
		Description: "This shows the sanction history of a member.",
		Options:     []*discordgo.ApplicationCommandOption{userOption},
	}

	// sanctionCmd is the command for manual sanctions.
	sanctionCmd = &discordgo.ApplicationCommand{
		Name:        SanctionCmdName,
		Type:        discordgo.ChatApplicationCommand,
		Description: "This is the command for manual sanctions.",
		Options: []*discordgo.ApplicationCommandOption{
			sanctionSubCmd(entities.KindWarn, false),
			sanctionSubCmd(entities.KindTimeout, true),
			sanctionSubCmd(entities.KindMute, false),
			sanctionSubCmd(entities.KindKick, false),
			sanctionSubCmd(entities.KindBan, false),
			{
				Name:        RevokeCmdName,
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Description: "This reverses the active sanction of a member.",
				Options: []*discordgo.ApplicationCommandOption{
					userOption,
					{
						Name:        kindOptName,
						Type:        discordgo.ApplicationCommandOptionString,
						Description: "The sanction to reverse.",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "warn", Value: string(entities.KindWarn)},
							{Name: "timeout", Value: string(entities.KindTimeout)},
							{Name: "mute", Value: string(entities.KindMute)},
							{Name: "ban", Value: string(entities.KindBan)},
						},
					},
					{
						Name:        reasonOptName,
						Type:        discordgo.ApplicationCommandOptionString,
						Description: "Why the sanction is reversed.",
					},
				},
			},
		},
	}
)

func sanctionSubCmd(kind entities.Kind, durationRequired bool) *discordgo.ApplicationCommandOption {
	opts := []*discordgo.ApplicationCommandOption{
		userOption,
		{
			Name:        reasonOptName,
			Type:        discordgo.ApplicationCommandOptionString,
			Description: "Why the member is sanctioned.",
		},
	}
	if kind != entities.KindWarn && kind != entities.KindKick {
		opts = append(opts, &discordgo.ApplicationCommandOption{
			Name:        durationOptName,
			Type:        discordgo.ApplicationCommandOptionString,
			Description: "How long, for example 10m, 2h or 72h.",
			Required:    durationRequired,
		})
	}

	return &discordgo.ApplicationCommandOption{
		Name:        string(kind),
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Description: fmt.Sprintf("This gives a member a %s.", kind),
		Options:     opts,
	}
}

func casierCmdController(_ IApp, _ *discordgo.InteractionCreate) (commandProcessor, error) {
	return staffOnly(showCasier), nil
}

func sanctionCmdController(_ IApp, i *discordgo.InteractionCreate) (commandProcessor, error) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return nil, fmt.Errorf("missing sub command")
	}

	if opts[0].Name == RevokeCmdName {
		return staffOnly(revokeSanction), nil
	}

	switch kind := entities.Kind(opts[0].Name); kind {
	case entities.KindWarn, entities.KindTimeout, entities.KindMute, entities.KindKick, entities.KindBan:
		return staffOnly(issueSanction(kind)), nil
	default:
		return nil, fmt.Errorf("unhandled sub command %s", opts[0].Name)
	}
}

func showCasier(a IApp, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	userID := option(i.ApplicationCommandData().Options, userOptName).UserValue(nil).ID
	recs, err := a.Engine().History(ctx, i.GuildID, userID)
	if err != nil {
		return respondSlashError(a, i, err)
	}
	return respondEphemeral(a, i, formatCasier(userID, recs))
}

func formatCasier(userID string, recs []entities.SanctionRecord) string {
	if len(recs) == 0 {
		return fmt.Sprintf("<@%s> has a clean record.", userID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sanctions of <@%s> (%d):", userID, len(recs))
	for n, r := range recs {
		if n == casierLimit {
			fmt.Fprintf(&sb, "\n... and %d more", len(recs)-casierLimit)
			break
		}

		fmt.Fprintf(&sb, "\n- #%d **%s** <t:%d:d>", r.RecordID, r.Kind, r.CreatedAt.Time().Unix())
		if d := r.Duration(); d > 0 {
			fmt.Fprintf(&sb, " for %s", d)
		}
		if r.Active {
			sb.WriteString(" (active)")
		}
		if r.Reason != "" {
			fmt.Fprintf(&sb, ": %s", r.Reason)
		}
	}
	return sb.String()
}

func issueSanction(kind entities.Kind) commandProcessor {
	return func(a IApp, i *discordgo.InteractionCreate) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		var d time.Duration
		if text := stringOption(i, durationOptName); text != "" {
			var err error
			d, err = time.ParseDuration(text)
			if err != nil {
				return respondEphemeral(a, i, fmt.Sprintf("Invalid duration %q, use for example 10m or 48h.", text))
			}
		}

		rec, err := a.Engine().Sanction(ctx, engine.SanctionRequest{
			GuildID:   i.GuildID,
			SubjectID: option(subOptions(i), userOptName).UserValue(nil).ID,
			IssuerID:  interactionUser(i).ID,
			Kind:      kind,
			Reason:    stringOption(i, reasonOptName),
			Duration:  d,
		})
		if err != nil {
			return respondSlashError(a, i, err)
		}
		return respondEphemeral(a, i, fmt.Sprintf("Sanction #%d (%s) recorded for <@%s>.", rec.RecordID, rec.Kind, rec.SubjectID))
	}
}

func revokeSanction(a IApp, i *discordgo.InteractionCreate) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	rec, err := a.Engine().Reverse(ctx,
		i.GuildID,
		option(subOptions(i), userOptName).UserValue(nil).ID,
		interactionUser(i).ID,
		entities.Kind(stringOption(i, kindOptName)),
		stringOption(i, reasonOptName),
	)
	if err != nil {
		return respondSlashError(a, i, err)
	}
	return respondEphemeral(a, i, fmt.Sprintf("Sanction reversed with #%d (%s) for <@%s>.", rec.RecordID, rec.Kind, rec.SubjectID))
}
