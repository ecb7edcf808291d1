// Package scheduler periodically drives due tickets and sanctions to their terminal state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/logging"
)

const (
	DefaultTicketInterval   = time.Hour
	DefaultSanctionInterval = time.Minute
	DefaultRecordTimeout    = 30 * time.Second
	DefaultMaxAttempts      = 10

	typeTicket   = "ticket"
	typeSanction = "sanction"
)

// Expirer lists due records and expires them. It is implemented by *engine.Engine.
type Expirer interface {
	DueTickets(ctx context.Context, now time.Time) ([]entities.TicketRecord, error)
	DueSanctions(ctx context.Context, now time.Time) ([]entities.SanctionRecord, error)
	ExpireTicket(ctx context.Context, t entities.TicketRecord) error
	ExpireSanction(ctx context.Context, rec entities.SanctionRecord) error
	ForceExpireTicket(ctx context.Context, t entities.TicketRecord) error
	ForceExpireSanction(ctx context.Context, rec entities.SanctionRecord) error
}

// Config configures a Scheduler. Zero values take the defaults.
type Config struct {
	TicketInterval   time.Duration
	SanctionInterval time.Duration

	// RecordTimeout bounds the expiry of a single record.
	RecordTimeout time.Duration

	// MaxAttempts is the number of consecutive failed expiries after which a record is
	// finalized without its external effect.
	MaxAttempts int

	// Now is the clock.
	Now func() time.Time
}

func (c *Config) withDefaults() {
	if c.TicketInterval <= 0 {
		c.TicketInterval = DefaultTicketInterval
	}
	if c.SanctionInterval <= 0 {
		c.SanctionInterval = DefaultSanctionInterval
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = DefaultRecordTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats counts what a sweep did.
type Stats struct {
	Due     int `json:"due"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
	Forced  int `json:"forced"`

	// Skipped is the number of due records left for the next sweep because of shutdown.
	Skipped int `json:"skipped"`
}

// Report is the outcome of SweepNow.
type Report struct {
	Tickets   Stats `json:"tickets"`
	Sanctions Stats `json:"sanctions"`
}

// Scheduler runs the ticket and sanction sweeps on their own intervals, one record at a time.
type Scheduler struct {
	l   *slog.Logger
	exp Expirer
	cfg Config

	// sweepMu serialises sweeps, so a record is never expired twice at once.
	sweepMu sync.Mutex

	attemptsMu sync.Mutex
	attempts   map[string]int

	lastSweep atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler.
func New(l *slog.Logger, exp Expirer, cfg Config) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		l:        l.With(slog.String(logging.KeyComponent, "scheduler")),
		exp:      exp,
		cfg:      cfg,
		attempts: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// Start sweeps once, to catch up on records that fell due while stopped, then runs the sweeps on
// their intervals until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for the in flight record to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.l.Info("Stopping scheduler")
		close(s.done)
	})
	s.wg.Wait()
}

// LastSweep is the time the last sweep finished, zero before the first.
func (s *Scheduler) LastSweep() time.Time {
	n := s.lastSweep.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// MaxInterval is the longest interval between two sweeps.
func (s *Scheduler) MaxInterval() time.Duration {
	return max(s.cfg.TicketInterval, s.cfg.SanctionInterval)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if _, err := s.SweepNow(ctx); err != nil {
		s.l.Error("Error during startup sweep", slog.String(logging.KeyError, err.Error()))
	}

	ticketTicker := time.NewTicker(s.cfg.TicketInterval)
	defer ticketTicker.Stop()
	sanctionTicker := time.NewTicker(s.cfg.SanctionInterval)
	defer sanctionTicker.Stop()

	s.l.Info("Scheduler started",
		slog.Duration("ticket_interval", s.cfg.TicketInterval),
		slog.Duration("sanction_interval", s.cfg.SanctionInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticketTicker.C:
			if _, err := s.sweepTickets(ctx); err != nil {
				s.l.Error("Error sweeping tickets", slog.String(logging.KeyError, err.Error()))
			}
		case <-sanctionTicker.C:
			if _, err := s.sweepSanctions(ctx); err != nil {
				s.l.Error("Error sweeping sanctions", slog.String(logging.KeyError, err.Error()))
			}
		}
	}
}

// SweepNow runs both sweeps synchronously.
func (s *Scheduler) SweepNow(ctx context.Context) (Report, error) {
	var r Report
	var errs []error

	var err error
	r.Tickets, err = s.sweepTickets(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	r.Sanctions, err = s.sweepSanctions(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	return r, errors.Join(errs...)
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Scheduler) sweepTickets(ctx context.Context) (Stats, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	t := time.Now()
	defer func() {
		sweepDuration.WithLabelValues(typeTicket).Observe(time.Since(t).Seconds())
	}()
	sweeps.WithLabelValues(typeTicket).Inc()

	due, err := s.exp.DueTickets(ctx, s.cfg.Now())
	if err != nil {
		sweepErrors.WithLabelValues(typeTicket).Inc()
		return Stats{}, fmt.Errorf("error listing due tickets: %w", err)
	}

	stats := Stats{Due: len(due)}
	for i, tk := range due {
		if s.stopping(ctx) {
			stats.Skipped = len(due) - i
			break
		}

		l := s.l.With(
			slog.String(logging.KeyGuildID, tk.GuildID),
			slog.Int64(logging.KeyTicketID, tk.TicketID),
		)
		s.expire(ctx, l, &stats, typeTicket, fmt.Sprintf("%s/%d", tk.GuildID, tk.TicketID),
			func(ctx context.Context) error { return s.exp.ExpireTicket(ctx, tk) },
			func(ctx context.Context) error { return s.exp.ForceExpireTicket(ctx, tk) },
		)
	}

	s.lastSweep.Store(time.Now().UnixNano())
	return stats, nil
}

func (s *Scheduler) sweepSanctions(ctx context.Context) (Stats, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	t := time.Now()
	defer func() {
		sweepDuration.WithLabelValues(typeSanction).Observe(time.Since(t).Seconds())
	}()
	sweeps.WithLabelValues(typeSanction).Inc()

	due, err := s.exp.DueSanctions(ctx, s.cfg.Now())
	if err != nil {
		sweepErrors.WithLabelValues(typeSanction).Inc()
		return Stats{}, fmt.Errorf("error listing due sanctions: %w", err)
	}

	stats := Stats{Due: len(due)}
	for i, rec := range due {
		if s.stopping(ctx) {
			stats.Skipped = len(due) - i
			break
		}

		l := s.l.With(
			slog.String(logging.KeyGuildID, rec.GuildID),
			slog.Int64(logging.KeyRecordID, rec.RecordID),
			slog.String(logging.KeyKind, string(rec.Kind)),
		)
		s.expire(ctx, l, &stats, typeSanction, fmt.Sprintf("%s/%d", rec.GuildID, rec.RecordID),
			func(ctx context.Context) error { return s.exp.ExpireSanction(ctx, rec) },
			func(ctx context.Context) error { return s.exp.ForceExpireSanction(ctx, rec) },
		)
	}

	s.lastSweep.Store(time.Now().UnixNano())
	return stats, nil
}

// expire runs one record's expiry in isolation. The record gets its own timeout, and is not
// interrupted by shutdown once started.
func (s *Scheduler) expire(ctx context.Context, l *slog.Logger, stats *Stats, typ, id string, expire, force func(ctx context.Context) error) {
	key := typ + "/" + id

	err := s.isolate(ctx, expire)
	if err == nil {
		s.resetAttempts(key)
		stats.Expired++
		return
	}

	stats.Failed++
	recordFailures.WithLabelValues(typ).Inc()
	attempts := s.failed(key)
	l.Warn("Error expiring record, will retry",
		slog.Int("attempt", attempts),
		slog.String(logging.KeyError, err.Error()),
	)

	if attempts < s.cfg.MaxAttempts {
		return
	}

	if ferr := s.isolate(ctx, force); ferr != nil {
		l.Error("Error force expiring record", slog.String(logging.KeyError, ferr.Error()))
		return
	}

	s.resetAttempts(key)
	stats.Forced++
	forcedExpiries.WithLabelValues(typ).Inc()
	l.Error("Record finalized without its external effect after repeated failures",
		slog.Int("attempts", attempts),
		slog.String(logging.KeyError, err.Error()),
	)
}

func (s *Scheduler) isolate(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during expiry: %v", r)
		}
	}()
	return fn(rctx)
}

func (s *Scheduler) failed(key string) int {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	s.attempts[key]++
	return s.attempts[key]
}

func (s *Scheduler) resetAttempts(key string) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	delete(s.attempts, key)
}
