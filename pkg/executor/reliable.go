package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultCallTimeout  = 10 * time.Second
	defaultMaxTries     = 5
	defaultRate         = rate.Limit(5)
	defaultBurst        = 5
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
)

// ReliableOption configures a Reliable executor.
type ReliableOption func(*Reliable)

// WithCallTimeout bounds each attempt.
func WithCallTimeout(d time.Duration) ReliableOption {
	return func(r *Reliable) {
		r.callTimeout = d
	}
}

// WithMaxTries bounds the attempts of a call, including the first.
func WithMaxTries(n uint) ReliableOption {
	return func(r *Reliable) {
		r.maxTries = n
	}
}

// WithRateLimit limits the rate of attempts across all actions.
func WithRateLimit(limit rate.Limit, burst int) ReliableOption {
	return func(r *Reliable) {
		r.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithBackOff sets the delays between attempts.
func WithBackOff(initial, maxDelay time.Duration) ReliableOption {
	return func(r *Reliable) {
		r.initialDelay = initial
		r.maxDelay = maxDelay
	}
}

// Reliable wraps an executor with a per attempt timeout, exponential backoff retries and a
// shared rate limit. Errors marked with Permanent are not retried.
type Reliable struct {
	l            *slog.Logger
	next         ActionExecutor
	limiter      *rate.Limiter
	callTimeout  time.Duration
	maxTries     uint
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewReliable wraps next.
func NewReliable(l *slog.Logger, next ActionExecutor, opts ...ReliableOption) *Reliable {
	r := &Reliable{
		l:            l.With(slog.String(logging.KeyComponent, "executor")),
		next:         next,
		limiter:      rate.NewLimiter(defaultRate, defaultBurst),
		callTimeout:  defaultCallTimeout,
		maxTries:     defaultMaxTries,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reliable) do(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	t := time.Now()
	defer func() {
		executorLatency.WithLabelValues(action).Observe(time.Since(t).Seconds())
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialDelay
	b.MaxInterval = r.maxDelay

	op := func() (struct{}, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		executorAttempts.WithLabelValues(action).Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		r.l.Warn("Executor action failed, retrying",
			slog.String("action", action),
			slog.Duration("retry_in", next),
			slog.String(logging.KeyError, err.Error()),
		)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		executorCalls.WithLabelValues(action, "error").Inc()

		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		return fmt.Errorf("error performing %s: %w", action, err)
	}

	executorCalls.WithLabelValues(action, "ok").Inc()
	return nil
}

func (r *Reliable) ApplyTimeout(ctx context.Context, guildID, userID string, d time.Duration) error {
	return r.do(ctx, ActionApplyTimeout, func(ctx context.Context) error {
		return r.next.ApplyTimeout(ctx, guildID, userID, d)
	})
}

func (r *Reliable) ApplyBan(ctx context.Context, guildID, userID, reason string) error {
	return r.do(ctx, ActionApplyBan, func(ctx context.Context) error {
		return r.next.ApplyBan(ctx, guildID, userID, reason)
	})
}

func (r *Reliable) ApplyKick(ctx context.Context, guildID, userID, reason string) error {
	return r.do(ctx, ActionApplyKick, func(ctx context.Context) error {
		return r.next.ApplyKick(ctx, guildID, userID, reason)
	})
}

func (r *Reliable) ApplyWarnNotice(ctx context.Context, guildID, userID, reason string) error {
	return r.do(ctx, ActionApplyWarnNotice, func(ctx context.Context) error {
		return r.next.ApplyWarnNotice(ctx, guildID, userID, reason)
	})
}

func (r *Reliable) ReverseTimeout(ctx context.Context, guildID, userID string) error {
	return r.do(ctx, ActionReverseTimeout, func(ctx context.Context) error {
		return r.next.ReverseTimeout(ctx, guildID, userID)
	})
}

func (r *Reliable) ReverseBan(ctx context.Context, guildID, userID string) error {
	return r.do(ctx, ActionReverseBan, func(ctx context.Context) error {
		return r.next.ReverseBan(ctx, guildID, userID)
	})
}

func (r *Reliable) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	return r.do(ctx, ActionAssignRole, func(ctx context.Context) error {
		return r.next.AssignRole(ctx, guildID, userID, roleID)
	})
}

func (r *Reliable) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return r.do(ctx, ActionRemoveRole, func(ctx context.Context) error {
		return r.next.RemoveRole(ctx, guildID, userID, roleID)
	})
}

func (r *Reliable) TeardownResource(ctx context.Context, externalRef string) error {
	return r.do(ctx, ActionTeardownResource, func(ctx context.Context) error {
		return r.next.TeardownResource(ctx, externalRef)
	})
}

func (r *Reliable) Notify(ctx context.Context, userID, message string) error {
	return r.do(ctx, ActionNotify, func(ctx context.Context) error {
		return r.next.Notify(ctx, userID, message)
	})
}
