package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/classifier"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess/connection"
	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/executor"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *engine.Engine
	exec   *executor.Recorder
	clock  *clock
	sched  *Scheduler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	c := &clock{now: testEpoch}

	conn := &connection.SQL{Driver: connection.DriverSQLite, DSN: filepath.Join(t.TempDir(), "warden.db")}
	db, err := conn.Open(context.Background())
	require.NoError(t, err)

	store, err := dataaccess.NewSQLStore(context.Background(), logging.Discard(), db, dataaccess.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	rec := executor.NewRecorder(nil)
	e := engine.New(logging.Discard(), store, classifier.Default(), rec, engine.WithClock(c.Now))

	cfg.Now = c.Now
	return &harness{
		engine: e,
		exec:   rec,
		clock:  c,
		sched:  New(logging.Discard(), e, cfg),
	}
}

func (h *harness) timeout(t *testing.T, userID string, d time.Duration) *entities.SanctionRecord {
	t.Helper()
	rec, err := h.engine.Sanction(context.Background(), engine.SanctionRequest{
		GuildID:   "g1",
		SubjectID: userID,
		IssuerID:  "mod",
		Kind:      entities.KindTimeout,
		Duration:  d,
	})
	require.NoError(t, err)
	return rec
}

func TestSweep_TicketExpiry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.engine.ConfigureGuild(ctx, &entities.Guild{
		ID:        "g1",
		Ticketing: entities.TicketingConfig{Enabled: true, RoleID: "r-away"},
	}))

	tk, err := h.engine.CreateTicket(ctx, engine.CreateTicketRequest{GuildID: "g1", UserID: "u1", Duration: "1 week"})
	require.NoError(t, err)
	_, err = h.engine.AttachTicketResource(ctx, "g1", tk.TicketID, "chan-1")
	require.NoError(t, err)

	// Not due yet.
	h.clock.Advance(7 * 24 * time.Hour)
	r, err := h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Zero(t, r.Tickets.Due)

	h.clock.Advance(24 * time.Hour)
	r, err = h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 1, Expired: 1}, r.Tickets)
	require.Equal(t, 1, h.exec.Count(executor.ActionRemoveRole))
	require.Equal(t, 1, h.exec.Count(executor.ActionTeardownResource))

	stored, err := h.engine.GetTicket(ctx, "g1", tk.TicketID)
	require.NoError(t, err)
	require.Equal(t, entities.TicketExpired, stored.State)

	r, err = h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Zero(t, r.Tickets.Due)
	require.Equal(t, 1, h.exec.Count(executor.ActionRemoveRole))
	require.False(t, h.sched.LastSweep().IsZero())
}

func TestSweep_TimeoutExpiry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	rec := h.timeout(t, "u1", 10*time.Minute)

	h.clock.Advance(10 * time.Minute)
	r, err := h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 1, Expired: 1}, r.Sanctions)
	require.Equal(t, 1, h.exec.Count(executor.ActionReverseTimeout))

	stored, err := h.engine.History(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, rec.RecordID, stored[0].RecordID)
	require.False(t, stored[0].Active)
}

func TestSweep_FailureIsIsolated(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first := h.timeout(t, "u1", 10*time.Minute)
	second := h.timeout(t, "u2", 10*time.Minute)

	h.exec.FailNext(executor.ActionReverseTimeout, 1, errors.New("gateway down"))
	h.clock.Advance(10 * time.Minute)

	r, err := h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 2, Expired: 1, Failed: 1}, r.Sanctions)

	due, err := h.engine.DueSanctions(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, first.RecordID, due[0].RecordID)
	require.NotEqual(t, first.RecordID, second.RecordID)

	// Retried on the next sweep.
	r, err = h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 1, Expired: 1}, r.Sanctions)
}

func TestSweep_ForcedAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 2})
	ctx := context.Background()

	h.timeout(t, "u1", time.Minute)
	h.exec.FailNext(executor.ActionReverseTimeout, 5, errors.New("missing permissions"))
	h.clock.Advance(time.Minute)

	r, err := h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 1, Failed: 1}, r.Sanctions)

	r, err = h.sched.SweepNow(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 1, Failed: 1, Forced: 1}, r.Sanctions)

	due, err := h.engine.DueSanctions(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Empty(t, due)
	require.Equal(t, 2, h.exec.Count(executor.ActionReverseTimeout))
}

type fakeExpirer struct {
	mu sync.Mutex

	tickets   []entities.TicketRecord
	sanctions []entities.SanctionRecord
	listErr   error

	onTicket   func(ctx context.Context, t entities.TicketRecord) error
	onSanction func(ctx context.Context, rec entities.SanctionRecord) error

	expired []int64
	forced  []int64
}

func (f *fakeExpirer) DueTickets(context.Context, time.Time) ([]entities.TicketRecord, error) {
	return f.tickets, f.listErr
}

func (f *fakeExpirer) DueSanctions(context.Context, time.Time) ([]entities.SanctionRecord, error) {
	return f.sanctions, nil
}

func (f *fakeExpirer) ExpireTicket(ctx context.Context, t entities.TicketRecord) error {
	if f.onTicket != nil {
		if err := f.onTicket(ctx, t); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, t.TicketID)
	return nil
}

func (f *fakeExpirer) ExpireSanction(ctx context.Context, rec entities.SanctionRecord) error {
	if f.onSanction != nil {
		if err := f.onSanction(ctx, rec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, rec.RecordID)
	return nil
}

func (f *fakeExpirer) ForceExpireTicket(_ context.Context, t entities.TicketRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, t.TicketID)
	return nil
}

func (f *fakeExpirer) ForceExpireSanction(_ context.Context, rec entities.SanctionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, rec.RecordID)
	return nil
}

func TestSweep_ListError(t *testing.T) {
	f := &fakeExpirer{
		listErr:   errors.New("connection refused"),
		sanctions: []entities.SanctionRecord{{GuildID: "g1", RecordID: 1}},
	}
	s := New(logging.Discard(), f, Config{})

	r, err := s.SweepNow(context.Background())
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, Stats{Due: 1, Expired: 1}, r.Sanctions)
}

func TestSweep_PanicIsIsolated(t *testing.T) {
	f := &fakeExpirer{
		sanctions: []entities.SanctionRecord{{GuildID: "g1", RecordID: 1}, {GuildID: "g1", RecordID: 2}},
		onSanction: func(_ context.Context, rec entities.SanctionRecord) error {
			if rec.RecordID == 1 {
				panic("boom")
			}
			return nil
		},
	}
	s := New(logging.Discard(), f, Config{})

	r, err := s.SweepNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 2, Expired: 1, Failed: 1}, r.Sanctions)
	require.Equal(t, []int64{2}, f.expired)
}

func TestSweep_RecordTimeout(t *testing.T) {
	f := &fakeExpirer{
		tickets: []entities.TicketRecord{{GuildID: "g1", TicketID: 1}},
		onTicket: func(ctx context.Context, _ entities.TicketRecord) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := New(logging.Discard(), f, Config{RecordTimeout: 10 * time.Millisecond})

	r, err := s.SweepNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 1, Failed: 1}, r.Tickets)
}

func TestSweep_StopsBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeExpirer{
		tickets: []entities.TicketRecord{{GuildID: "g1", TicketID: 1}, {GuildID: "g1", TicketID: 2}, {GuildID: "g1", TicketID: 3}},
		onTicket: func(rctx context.Context, _ entities.TicketRecord) error {
			cancel()
			// The record in flight is not interrupted.
			return rctx.Err()
		},
	}
	s := New(logging.Discard(), f, Config{})

	r, err := s.sweepTickets(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Due: 3, Expired: 1, Skipped: 2}, r)
	require.Equal(t, []int64{1}, f.expired)
}

func TestScheduler_StartStop(t *testing.T) {
	f := &fakeExpirer{
		sanctions: []entities.SanctionRecord{{GuildID: "g1", RecordID: 1}},
	}
	s := New(logging.Discard(), f, Config{TicketInterval: time.Hour, SanctionInterval: time.Hour})
	require.True(t, s.LastSweep().IsZero())
	require.Equal(t, time.Hour, s.MaxInterval())

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.expired) == 1
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	require.False(t, s.LastSweep().IsZero())
}
