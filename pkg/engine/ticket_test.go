package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/stretchr/testify/require"
)

func ticketGuild() *entities.Guild {
	return &entities.Guild{
		ID:        "g1",
		Ticketing: entities.TicketingConfig{Enabled: true, RoleID: "r-away"},
	}
}

// A one week absence ends a day after the week, and expiring it releases everything once.
func TestScenario_TicketExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.configure(t, ticketGuild())

	tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "1 week", Reason: "holiday"})
	require.NoError(t, err)
	require.Equal(t, entities.TicketActive, tk.State)
	require.Equal(t, testEpoch, tk.StartAt.Time())
	require.Equal(t, testEpoch.Add(8*24*time.Hour), tk.EndAt.Time())

	_, err = h.engine.AttachTicketResource(ctx, "g1", tk.TicketID, "chan-1")
	require.NoError(t, err)

	h.clock.Advance(8 * 24 * time.Hour)
	due, err := h.engine.DueTickets(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, h.engine.ExpireTicket(ctx, due[0]))
	require.Equal(t, 1, h.exec.Count(executor.ActionRemoveRole))
	require.Equal(t, 1, h.exec.Count(executor.ActionTeardownResource))
	require.Equal(t, "chan-1", h.exec.CallsTo(executor.ActionTeardownResource)[0].Ref)
	require.Equal(t, 1, h.exec.Count(executor.ActionNotify))

	stored, err := h.engine.GetTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)
	require.Equal(t, entities.TicketExpired, stored.State)
	require.Equal(t, h.clock.Now(), stored.UpdatedAt.Time())

	// A second expiry is a no-op.
	require.NoError(t, h.engine.ExpireTicket(ctx, due[0]))
	require.Equal(t, 1, h.exec.Count(executor.ActionRemoveRole))
	require.Equal(t, 1, h.exec.Count(executor.ActionTeardownResource))
}

func TestCreateTicket(t *testing.T) {
	ctx := context.Background()

	t.Run("default duration", func(t *testing.T) {
		h := newHarness(t)
		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "whenever"})
		require.NoError(t, err)
		require.Equal(t, testEpoch.Add(48*time.Hour), tk.EndAt.Time())
	})

	t.Run("duplicate until terminal", func(t *testing.T) {
		h := newHarness(t)
		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "3 days"})
		require.NoError(t, err)

		_, err = h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "3 days"})
		require.ErrorIs(t, err, dataaccess.ErrDuplicateActiveTicket)

		_, err = h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		_, err = h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "3 days"})
		require.ErrorIs(t, err, dataaccess.ErrDuplicateActiveTicket)

		_, err = h.engine.CloseTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		_, err = h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "3 days"})
		require.NoError(t, err)
	})

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t)
		h.configure(t, &entities.Guild{ID: "g1"})
		_, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
		require.True(t, IsValidation(err))
	})

	t.Run("cap", func(t *testing.T) {
		h := newHarness(t, WithMaxTicketDays(30))
		_, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "2 months"})
		require.True(t, IsValidation(err))

		_, err = h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "1 month"})
		require.NoError(t, err)
	})

	t.Run("no cap by default", func(t *testing.T) {
		h := newHarness(t)
		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "3 years"})
		require.NoError(t, err)
		require.Equal(t, testEpoch.Add((3*365+1)*24*time.Hour), tk.EndAt.Time())
	})

	t.Run("centuries", func(t *testing.T) {
		h := newHarness(t)
		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "300 ans"})
		require.NoError(t, err)
		require.Equal(t, testEpoch.AddDate(0, 0, 109501), tk.EndAt.Time())

		due, err := h.engine.DueTickets(ctx, h.clock.Now())
		require.NoError(t, err)
		require.Empty(t, due)
	})

	t.Run("too long", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "30000000000000000 years"})
		require.True(t, IsValidation(err))

		ts, err := h.engine.Tickets(ctx, "g1", "u1")
		require.NoError(t, err)
		require.Empty(t, ts)
	})

	t.Run("missing user", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1"})
		require.True(t, IsValidation(err))
	})
}

// Concurrent requests for the same user open a single ticket.
func TestCreateTicket_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "3 days"})
		}(i)
	}
	wg.Wait()

	created, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, dataaccess.ErrDuplicateActiveTicket):
			dup++
		default:
			require.NoError(t, err)
		}
	}
	require.Equal(t, 1, created)
	require.Equal(t, n-1, dup)
}

func TestApproveTicket(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns role", func(t *testing.T) {
		h := newHarness(t)
		h.configure(t, ticketGuild())

		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
		require.NoError(t, err)

		got, err := h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		require.Equal(t, entities.TicketApproved, got.State)

		calls := h.exec.CallsTo(executor.ActionAssignRole)
		require.Len(t, calls, 1)
		require.Equal(t, "r-away", calls[0].RoleID)
		require.Equal(t, 1, h.exec.Count(executor.ActionNotify))

		_, err = h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
		require.ErrorIs(t, err, dataaccess.ErrInvalidTransition)
		require.Len(t, h.exec.CallsTo(executor.ActionAssignRole), 1)
	})

	t.Run("role failure leaves ticket active", func(t *testing.T) {
		h := newHarness(t)
		h.configure(t, ticketGuild())
		h.exec.FailNext(executor.ActionAssignRole, 1, errors.New("missing permissions"))

		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
		require.NoError(t, err)

		_, err = h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
		var ae *ActionError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, tk.TicketID, ae.TicketID)

		stored, err := h.engine.GetTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		require.Equal(t, entities.TicketActive, stored.State)
	})

	t.Run("notify failure is not fatal", func(t *testing.T) {
		h := newHarness(t)
		h.exec.FailNext(executor.ActionNotify, 1, errors.New("dms closed"))

		tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
		require.NoError(t, err)

		got, err := h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		require.Equal(t, entities.TicketApproved, got.State)
	})

	t.Run("missing", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.ApproveTicket(ctx, "g1", 9)
		require.ErrorIs(t, err, dataaccess.ErrNotFound)
	})
}

func TestRejectTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)
	_, err = h.engine.AttachTicketResource(ctx, "g1", tk.TicketID, "chan-1")
	require.NoError(t, err)

	_, err = h.engine.RejectTicket(ctx, "g1", tk.TicketID, "")
	require.True(t, IsValidation(err))

	got, err := h.engine.RejectTicket(ctx, "g1", tk.TicketID, "not enough notice")
	require.NoError(t, err)
	require.Equal(t, entities.TicketRejected, got.State)
	require.NotNil(t, got.RejectionReason)
	require.Equal(t, "not enough notice", *got.RejectionReason)
	require.Equal(t, 1, h.exec.Count(executor.ActionTeardownResource))

	notes := h.exec.CallsTo(executor.ActionNotify)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0].Text, "not enough notice")

	_, err = h.engine.CloseTicket(ctx, "g1", tk.TicketID)
	require.ErrorIs(t, err, dataaccess.ErrInvalidTransition)
}

func TestRejectTicket_ApprovedRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)
	_, err = h.engine.AttachTicketResource(ctx, "g1", tk.TicketID, "chan-1")
	require.NoError(t, err)
	_, err = h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)

	_, err = h.engine.RejectTicket(ctx, "g1", tk.TicketID, "changed my mind")
	require.ErrorIs(t, err, dataaccess.ErrInvalidTransition)
	require.Zero(t, h.exec.Count(executor.ActionTeardownResource), "nothing is torn down for a refused transition")
}

func TestCloseTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.configure(t, ticketGuild())

	tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "2 weeks"})
	require.NoError(t, err)
	_, err = h.engine.ApproveTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)

	h.exec.FailNext(executor.ActionRemoveRole, 1, errors.New("boom"))
	_, err = h.engine.CloseTicket(ctx, "g1", tk.TicketID)
	require.True(t, IsAction(err))

	stored, err := h.engine.GetTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)
	require.Equal(t, entities.TicketApproved, stored.State, "the ticket stays open until released")

	got, err := h.engine.CloseTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)
	require.Equal(t, entities.TicketClosed, got.State)

	// Closed tickets never fall due.
	due, err := h.engine.DueTickets(ctx, testEpoch.Add(365*24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, due)

	ts, err := h.engine.Tickets(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Len(t, ts, 1)
}

func TestExpireTicket_FailureKeepsTicketOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.configure(t, ticketGuild())

	tk, err := h.engine.CreateTicket(ctx, CreateTicketRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)

	h.exec.FailNext(executor.ActionRemoveRole, 1, errors.New("boom"))
	require.True(t, IsAction(h.engine.ExpireTicket(ctx, *tk)))

	stored, err := h.engine.GetTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)
	require.Equal(t, entities.TicketActive, stored.State)

	require.NoError(t, h.engine.ForceExpireTicket(ctx, *tk))
	stored, err = h.engine.GetTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)
	require.Equal(t, entities.TicketExpired, stored.State)

	// Forcing again is harmless.
	require.NoError(t, h.engine.ForceExpireTicket(ctx, *tk))
}

func TestAttachTicketResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.AttachTicketResource(ctx, "g1", 1, "")
	require.True(t, IsValidation(err))

	_, err = h.engine.AttachTicketResource(ctx, "g1", 1, "chan-1")
	require.ErrorIs(t, err, dataaccess.ErrNotFound)
}
