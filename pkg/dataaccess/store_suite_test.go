package dataaccess

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *testClock) Store

func timeout(guild, user string, d time.Duration, at time.Time) entities.SanctionRecord {
	secs := int64(d / time.Second)
	return entities.SanctionRecord{
		GuildID:         guild,
		SubjectID:       user,
		IssuerID:        "mod",
		Kind:            entities.KindTimeout,
		Reason:          "spam",
		DurationSeconds: &secs,
		ExpiresAt:       custom.NewDatetimePtr(at.Add(d)),
		CreatedAt:       custom.NewDatetime(at),
	}
}

func sanction(guild, user string, kind entities.Kind) entities.SanctionRecord {
	return entities.SanctionRecord{
		GuildID:   guild,
		SubjectID: user,
		IssuerID:  "mod",
		Kind:      kind,
		Reason:    string(kind),
	}
}

// runStoreSuite runs the behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("AppendAssignsIDsPerGuild", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		for i, guild := range []string{"g1", "g1", "g2", "g1"} {
			id, err := s.Append(ctx, sanction(guild, "u1", entities.KindWarn))
			require.NoError(t, err)
			want := map[int]int64{0: 1, 1: 2, 2: 1, 3: 3}[i]
			require.Equal(t, want, id)
		}
	})

	t.Run("ActiveOnlyForEnforcedKinds", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		tests := []struct {
			kind   entities.Kind
			active bool
		}{
			{kind: entities.KindWarn, active: false},
			{kind: entities.KindKick, active: false},
			{kind: entities.KindBan, active: true},
			{kind: entities.KindMute, active: true},
			{kind: entities.KindUnwarn, active: false},
		}
		for _, tt := range tests {
			t.Run(string(tt.kind), func(t *testing.T) {
				id, err := s.Append(ctx, sanction("g1", "u-"+string(tt.kind), tt.kind))
				require.NoError(t, err)

				rec, err := s.GetSanction(ctx, "g1", id)
				require.NoError(t, err)
				require.Equal(t, tt.active, rec.Active)
				require.Equal(t, tt.kind, rec.Kind)
				require.Nil(t, rec.ExpiresAt)
				require.Equal(t, testEpoch, rec.CreatedAt.Time())
			})
		}
	})

	t.Run("AppendSupersedesSameKind", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		first, err := s.Append(ctx, timeout("g1", "u1", time.Hour, testEpoch))
		require.NoError(t, err)
		second, err := s.Append(ctx, timeout("g1", "u1", 2*time.Hour, testEpoch.Add(time.Minute)))
		require.NoError(t, err)

		rec, err := s.GetSanction(ctx, "g1", first)
		require.NoError(t, err)
		require.False(t, rec.Active)

		active, err := s.ActiveRecord(ctx, "g1", "u1", entities.KindTimeout)
		require.NoError(t, err)
		require.Equal(t, second, active.RecordID)
		require.Equal(t, 2*time.Hour, active.Duration())
	})

	t.Run("CounterDeactivatesReversedKind", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		banID, err := s.Append(ctx, sanction("g1", "u1", entities.KindBan))
		require.NoError(t, err)
		muteID, err := s.Append(ctx, sanction("g1", "u1", entities.KindMute))
		require.NoError(t, err)

		_, err = s.Append(ctx, sanction("g1", "u1", entities.KindUnban))
		require.NoError(t, err)

		ban, err := s.GetSanction(ctx, "g1", banID)
		require.NoError(t, err)
		require.False(t, ban.Active)

		mute, err := s.GetSanction(ctx, "g1", muteID)
		require.NoError(t, err)
		require.True(t, mute.Active)

		_, err = s.ActiveRecord(ctx, "g1", "u1", entities.KindBan)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AppendRejectsUnknownKind", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		_, err := s.Append(context.Background(), sanction("g1", "u1", entities.Kind("smite")))
		require.Error(t, err)
	})

	t.Run("HistoryNewestFirstAndOnlyGrows", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		kinds := []entities.Kind{entities.KindWarn, entities.KindTimeout, entities.KindUntimeout, entities.KindBan}
		var last []entities.SanctionRecord
		for i, kind := range kinds {
			rec := sanction("g1", "u1", kind)
			if kind == entities.KindTimeout {
				rec = timeout("g1", "u1", time.Minute, testEpoch)
			}
			_, err := s.Append(ctx, rec)
			require.NoError(t, err)

			if i == 2 {
				require.NoError(t, s.MarkInactive(ctx, "g1", 2))
			}

			history, err := s.History(ctx, "g1", "u1")
			require.NoError(t, err)
			require.Len(t, history, i+1)
			for j, prev := range last {
				// Older records keep their identity and content.
				require.Equal(t, prev.RecordID, history[j+1].RecordID)
				require.Equal(t, prev.Kind, history[j+1].Kind)
				require.Equal(t, prev.Reason, history[j+1].Reason)
			}
			last = history
		}

		require.Equal(t, int64(4), last[0].RecordID)
		require.Equal(t, int64(1), last[3].RecordID)

		other, err := s.History(ctx, "g1", "u2")
		require.NoError(t, err)
		require.Empty(t, other)
	})

	t.Run("ActiveRecordsDueBefore", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		_, err := s.Append(ctx, timeout("g1", "u1", 30*time.Minute, testEpoch))
		require.NoError(t, err)
		_, err = s.Append(ctx, timeout("g2", "u2", 10*time.Minute, testEpoch))
		require.NoError(t, err)
		_, err = s.Append(ctx, timeout("g1", "u3", 2*time.Hour, testEpoch))
		require.NoError(t, err)
		_, err = s.Append(ctx, sanction("g1", "u4", entities.KindBan))
		require.NoError(t, err)

		due, err := s.ActiveRecordsDueBefore(ctx, testEpoch.Add(5*time.Minute))
		require.NoError(t, err)
		require.Empty(t, due)

		due, err = s.ActiveRecordsDueBefore(ctx, testEpoch.Add(30*time.Minute))
		require.NoError(t, err)
		require.Len(t, due, 2)
		require.Equal(t, "u2", due[0].SubjectID)
		require.Equal(t, "u1", due[1].SubjectID)

		require.NoError(t, s.MarkInactive(ctx, due[0].GuildID, due[0].RecordID))
		due, err = s.ActiveRecordsDueBefore(ctx, testEpoch.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 2)
		for _, rec := range due {
			require.NotEqual(t, "u4", rec.SubjectID, "permanent bans never fall due")
		}
	})

	t.Run("MarkInactiveIsIdempotent", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		id, err := s.Append(ctx, sanction("g1", "u1", entities.KindBan))
		require.NoError(t, err)

		require.NoError(t, s.MarkInactive(ctx, "g1", id))
		require.NoError(t, s.MarkInactive(ctx, "g1", id))

		rec, err := s.GetSanction(ctx, "g1", id)
		require.NoError(t, err)
		require.False(t, rec.Active)

		require.ErrorIs(t, s.MarkInactive(ctx, "g1", 99), ErrNotFound)
		_, err = s.GetSanction(ctx, "g1", 99)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateTicket", func(t *testing.T) {
		clock := &testClock{now: testEpoch}
		s := newStore(t, clock)
		ctx := context.Background()

		tk, err := s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(48*time.Hour), "holiday")
		require.NoError(t, err)
		require.Equal(t, int64(1), tk.TicketID)
		require.Equal(t, entities.TicketActive, tk.State)
		require.Equal(t, "1-absence", tk.Name())

		got, err := s.GetTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		require.Equal(t, "holiday", got.Reason)
		require.Equal(t, testEpoch, got.StartAt.Time())
		require.Equal(t, testEpoch.Add(48*time.Hour), got.EndAt.Time())
		require.Nil(t, got.RejectionReason)

		other, err := s.Create(ctx, "g1", "u2", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)
		require.Equal(t, int64(2), other.TicketID)

		_, err = s.GetTicket(ctx, "g2", tk.TicketID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DuplicateOpenTicketRefused", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		tk, err := s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)

		_, err = s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
		require.ErrorIs(t, err, ErrDuplicateActiveTicket)

		_, err = s.Transition(ctx, "g1", tk.TicketID, entities.TicketApproved, TransitionExtra{})
		require.NoError(t, err)

		_, err = s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
		require.ErrorIs(t, err, ErrDuplicateActiveTicket, "approved tickets are still open")

		// Another guild is independent.
		_, err = s.Create(ctx, "g2", "u1", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)

		_, err = s.Transition(ctx, "g1", tk.TicketID, entities.TicketClosed, TransitionExtra{})
		require.NoError(t, err)

		again, err := s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)
		require.Equal(t, int64(2), again.TicketID)

		open, err := s.OpenTicket(ctx, "g1", "u1")
		require.NoError(t, err)
		require.Equal(t, again.TicketID, open.TicketID)

		list, err := s.ListTickets(ctx, "g1", "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, int64(2), list[0].TicketID)
	})

	t.Run("ConcurrentCreateOneWins", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		const n = 20
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
			}(i)
		}
		wg.Wait()

		created, dup := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicateActiveTicket):
				dup++
			default:
				require.NoError(t, err)
			}
		}
		require.Equal(t, 1, created)
		require.Equal(t, n-1, dup)

		list, err := s.ListTickets(ctx, "g1", "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("ConcurrentAppendDistinctIDs", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		const n = 20
		ids := make([]int64, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = s.Append(ctx, sanction("g1", "u1", entities.KindWarn))
			}(i)
		}
		wg.Wait()

		seen := make(map[int64]bool, n)
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			require.False(t, seen[ids[i]], "record id %d assigned twice", ids[i])
			seen[ids[i]] = true
		}
		for id := int64(1); id <= n; id++ {
			require.True(t, seen[id], "record id %d missing", id)
		}

		history, err := s.History(ctx, "g1", "u1")
		require.NoError(t, err)
		require.Len(t, history, n)
	})

	t.Run("Transitions", func(t *testing.T) {
		tests := []struct {
			name  string
			path  []entities.TicketState
			next  entities.TicketState
			extra TransitionExtra
			ok    bool
		}{
			{name: "active to approved", next: entities.TicketApproved, ok: true},
			{name: "active to rejected", next: entities.TicketRejected, extra: TransitionExtra{RejectionReason: "no"}, ok: true},
			{name: "reject without reason", next: entities.TicketRejected},
			{name: "active to closed", next: entities.TicketClosed, ok: true},
			{name: "active to expired", next: entities.TicketExpired, ok: true},
			{name: "active to active", next: entities.TicketActive},
			{name: "approved to closed", path: []entities.TicketState{entities.TicketApproved}, next: entities.TicketClosed, ok: true},
			{name: "approved to expired", path: []entities.TicketState{entities.TicketApproved}, next: entities.TicketExpired, ok: true},
			{name: "approved to rejected", path: []entities.TicketState{entities.TicketApproved}, next: entities.TicketRejected, extra: TransitionExtra{RejectionReason: "no"}},
			{name: "closed is terminal", path: []entities.TicketState{entities.TicketClosed}, next: entities.TicketExpired},
			{name: "expired is terminal", path: []entities.TicketState{entities.TicketExpired}, next: entities.TicketClosed},
			{name: "unknown state", next: entities.TicketState("paused")},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clock := &testClock{now: testEpoch}
				s := newStore(t, clock)
				ctx := context.Background()

				tk, err := s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
				require.NoError(t, err)
				for _, st := range tt.path {
					_, err := s.Transition(ctx, "g1", tk.TicketID, st, TransitionExtra{})
					require.NoError(t, err)
				}

				clock.Advance(time.Minute)
				got, err := s.Transition(ctx, "g1", tk.TicketID, tt.next, tt.extra)
				if !tt.ok {
					require.ErrorIs(t, err, ErrInvalidTransition)
					var ite *InvalidTransitionError
					require.True(t, errors.As(err, &ite))
					return
				}

				require.NoError(t, err)
				require.Equal(t, tt.next, got.State)
				require.Equal(t, testEpoch.Add(time.Minute), got.UpdatedAt.Time())

				stored, err := s.GetTicket(ctx, "g1", tk.TicketID)
				require.NoError(t, err)
				require.Equal(t, tt.next, stored.State)
				if tt.next == entities.TicketRejected {
					require.NotNil(t, stored.RejectionReason)
					require.Equal(t, tt.extra.RejectionReason, *stored.RejectionReason)
				}
			})
		}
	})

	t.Run("TransitionMissingTicket", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		_, err := s.Transition(context.Background(), "g1", 7, entities.TicketClosed, TransitionExtra{})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DueForExpiry", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		a, err := s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(2*time.Hour), "")
		require.NoError(t, err)
		b, err := s.Create(ctx, "g2", "u2", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)
		_, err = s.Transition(ctx, "g2", b.TicketID, entities.TicketApproved, TransitionExtra{})
		require.NoError(t, err)
		c, err := s.Create(ctx, "g1", "u3", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)
		_, err = s.Transition(ctx, "g1", c.TicketID, entities.TicketClosed, TransitionExtra{})
		require.NoError(t, err)

		due, err := s.DueForExpiry(ctx, testEpoch.Add(30*time.Minute))
		require.NoError(t, err)
		require.Empty(t, due)

		due, err = s.DueForExpiry(ctx, testEpoch.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 2)
		require.Equal(t, "u2", due[0].SubjectID)
		require.Equal(t, a.TicketID, due[1].TicketID)
	})

	t.Run("SetExternalRef", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		tk, err := s.Create(ctx, "g1", "u1", testEpoch, testEpoch.Add(time.Hour), "")
		require.NoError(t, err)

		got, err := s.SetExternalRef(ctx, "g1", tk.TicketID, "chan-1")
		require.NoError(t, err)
		require.Equal(t, "chan-1", got.ExternalRef)

		stored, err := s.GetTicket(ctx, "g1", tk.TicketID)
		require.NoError(t, err)
		require.Equal(t, "chan-1", stored.ExternalRef)

		_, err = s.Transition(ctx, "g1", tk.TicketID, entities.TicketClosed, TransitionExtra{})
		require.NoError(t, err)
		_, err = s.SetExternalRef(ctx, "g1", tk.TicketID, "chan-2")
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = s.SetExternalRef(ctx, "g1", 42, "chan-3")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Guilds", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		ctx := context.Background()

		_, err := s.GetGuildByID(ctx, "g1")
		require.ErrorIs(t, err, ErrNotFound)

		g := &entities.Guild{
			ID: "g1",
			Moderation: entities.ModerationConfig{
				MuteRoleID:          "r-mute",
				ExtraKeywords:       map[string][]string{"low": {"noob"}},
				EscalationBanPoints: 12,
			},
			Ticketing: entities.TicketingConfig{Enabled: true, RoleID: "r-away", LogChannelID: "c-log"},
		}
		require.NoError(t, s.SaveGuild(ctx, g))

		got, err := s.GetGuildByID(ctx, "g1")
		require.NoError(t, err)
		require.Equal(t, g, got)

		g.Moderation.MuteRoleID = "r-mute-2"
		require.NoError(t, s.SaveGuild(ctx, g))
		got, err = s.GetGuildByID(ctx, "g1")
		require.NoError(t, err)
		require.Equal(t, "r-mute-2", got.Moderation.MuteRoleID)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t, &testClock{now: testEpoch})
		require.NoError(t, s.Ping(context.Background()))
	})
}
