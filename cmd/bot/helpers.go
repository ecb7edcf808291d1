package main

import (
	"errors"
	"fmt"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/bwmarrin/discordgo"
)

const (
	// msgErrorProcessing is shown to users when a command fails unexpectedly.
	msgErrorProcessing = "There was an error processing your request, please try again later."

	// msgNotAllowed is shown to users missing the permission a command needs.
	msgNotAllowed = "You are not allowed to use this command."
)

// userMessage turns an engine error into a message fit for the user who ran the command.
func userMessage(err error) string {
	var ve *engine.ValidationError
	var ae *engine.ActionError
	switch {
	case errors.As(err, &ve):
		return "Invalid request: " + ve.Msg
	case errors.As(err, &ae):
		return fmt.Sprintf("Saved, but Discord refused the %s action. It will be retried where possible.", ae.Action)
	case errors.Is(err, dataaccess.ErrDuplicateActiveTicket):
		return "There is already an open absence for this user."
	case errors.Is(err, dataaccess.ErrInvalidTransition):
		return "This absence cannot be changed anymore."
	case errors.Is(err, dataaccess.ErrNotFound):
		return "Nothing was found."
	case errors.Is(err, engine.ErrConflict):
		return "This sanction is not allowed."
	default:
		return msgErrorProcessing
	}
}

func respondSlashError(a IApp, i *discordgo.InteractionCreate, err error) error {
	return respondEphemeral(a, i, userMessage(err))
}

func respondEphemeral(a IApp, i *discordgo.InteractionCreate, content string) error {
	return a.Session().InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// interactionUser returns the user behind an interaction, in a guild or in DMs.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// hasPermission reports whether the member behind the interaction has perm. Administrators have
// every permission.
func hasPermission(i *discordgo.InteractionCreate, perm int64) bool {
	if i.Member == nil {
		return false
	}
	p := i.Member.Permissions
	return p&discordgo.PermissionAdministrator != 0 || p&perm == perm
}

// option finds a command option by name.
func option(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Name == name {
			return o
		}
	}
	return nil
}
