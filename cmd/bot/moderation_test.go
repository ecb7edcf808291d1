package main

import (
	"context"
	"errors"
	"testing"

	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.deleted = append(f.deleted, messageID)
	return f.err
}

func message(id, userID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: userID},
	}
}

func TestScreenMessage(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()

	t.Run("clean", func(t *testing.T) {
		d := new(fakeDeleter)
		screenMessage(ctx, logging.Discard(), h.engine, d, message("m1", "u1", "good morning"))
		require.Empty(t, d.deleted)
	})

	t.Run("low tier is kept", func(t *testing.T) {
		d := new(fakeDeleter)
		screenMessage(ctx, logging.Discard(), h.engine, d, message("m2", "u2", "you idiot"))
		require.Empty(t, d.deleted)

		history, err := h.engine.History(ctx, "g1", "u2")
		require.NoError(t, err)
		require.Len(t, history, 1)
	})

	t.Run("moderate tier is deleted", func(t *testing.T) {
		d := new(fakeDeleter)
		screenMessage(ctx, logging.Discard(), h.engine, d, message("m3", "u3", "you are worthless"))
		require.Equal(t, []string{"m3"}, d.deleted)
	})

	t.Run("failed action still deletes", func(t *testing.T) {
		h.exec.FailNext(executor.ActionApplyBan, 1, executor.Permanent(errors.New("missing permissions")))

		d := new(fakeDeleter)
		screenMessage(ctx, logging.Discard(), h.engine, d, message("m5", "u5", "i will kill you"))
		require.Equal(t, []string{"m5"}, d.deleted)

		history, err := h.engine.History(ctx, "g1", "u5")
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.Equal(t, entities.KindBan, history[0].Kind)
	})

	t.Run("refused sanction is not deleted", func(t *testing.T) {
		d := new(fakeDeleter)
		screenMessage(ctx, logging.Discard(), h.engine, d, message("m6", "bot", "kys"))
		require.Empty(t, d.deleted)

		history, err := h.engine.History(ctx, "g1", "bot")
		require.NoError(t, err)
		require.Empty(t, history)
	})

	t.Run("delete failure is tolerated", func(t *testing.T) {
		d := &fakeDeleter{err: errors.New("unknown message")}
		screenMessage(ctx, logging.Discard(), h.engine, d, message("m4", "u4", "kys"))
		require.Equal(t, []string{"m4"}, d.deleted)

		history, err := h.engine.History(ctx, "g1", "u4")
		require.NoError(t, err)
		require.Len(t, history, 1)
	})
}
