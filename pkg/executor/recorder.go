package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/logging"
)

// Action names, as recorded by Recorder and used as metric labels.
const (
	ActionApplyTimeout     = "apply_timeout"
	ActionApplyBan         = "apply_ban"
	ActionApplyKick        = "apply_kick"
	ActionApplyWarnNotice  = "apply_warn_notice"
	ActionReverseTimeout   = "reverse_timeout"
	ActionReverseBan       = "reverse_ban"
	ActionAssignRole       = "assign_role"
	ActionRemoveRole       = "remove_role"
	ActionTeardownResource = "teardown_resource"
	ActionNotify           = "notify"
)

// Call is a single recorded executor call.
type Call struct {
	Action   string
	GuildID  string
	UserID   string
	Duration time.Duration
	RoleID   string
	Ref      string
	Text     string
}

// Recorder is an in memory executor. It records every call, fails the actions it is told to and
// otherwise succeeds. It backs the tests and the dry run mode of the bot.
type Recorder struct {
	mu       sync.Mutex
	l        *slog.Logger
	calls    []Call
	failures map[string][]error
}

// NewRecorder creates a recorder. A nil logger disables logging.
func NewRecorder(l *slog.Logger) *Recorder {
	return &Recorder{
		l:        l,
		failures: make(map[string][]error),
	}
}

// FailNext makes the next n calls of action fail with err.
func (r *Recorder) FailNext(action string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.failures[action] = append(r.failures[action], err)
	}
}

// Calls returns a copy of every call made so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the calls made to action.
func (r *Recorder) CallsTo(action string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var calls []Call
	for _, c := range r.calls {
		if c.Action == action {
			calls = append(calls, c)
		}
	}
	return calls
}

// Count returns the number of calls made to action.
func (r *Recorder) Count(action string) int {
	return len(r.CallsTo(action))
}

// Reset forgets all calls and pending failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.failures = make(map[string][]error)
}

func (r *Recorder) record(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, c)
	if pending := r.failures[c.Action]; len(pending) > 0 {
		r.failures[c.Action] = pending[1:]
		return pending[0]
	}

	if r.l != nil {
		r.l.Info("Executor action",
			slog.String("action", c.Action),
			slog.String(logging.KeyGuildID, c.GuildID),
			slog.String(logging.KeyUserID, c.UserID),
		)
	}
	return nil
}

func (r *Recorder) ApplyTimeout(ctx context.Context, guildID, userID string, d time.Duration) error {
	return r.record(ctx, Call{Action: ActionApplyTimeout, GuildID: guildID, UserID: userID, Duration: d})
}

func (r *Recorder) ApplyBan(ctx context.Context, guildID, userID, reason string) error {
	return r.record(ctx, Call{Action: ActionApplyBan, GuildID: guildID, UserID: userID, Text: reason})
}

func (r *Recorder) ApplyKick(ctx context.Context, guildID, userID, reason string) error {
	return r.record(ctx, Call{Action: ActionApplyKick, GuildID: guildID, UserID: userID, Text: reason})
}

func (r *Recorder) ApplyWarnNotice(ctx context.Context, guildID, userID, reason string) error {
	return r.record(ctx, Call{Action: ActionApplyWarnNotice, GuildID: guildID, UserID: userID, Text: reason})
}

func (r *Recorder) ReverseTimeout(ctx context.Context, guildID, userID string) error {
	return r.record(ctx, Call{Action: ActionReverseTimeout, GuildID: guildID, UserID: userID})
}

func (r *Recorder) ReverseBan(ctx context.Context, guildID, userID string) error {
	return r.record(ctx, Call{Action: ActionReverseBan, GuildID: guildID, UserID: userID})
}

func (r *Recorder) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	return r.record(ctx, Call{Action: ActionAssignRole, GuildID: guildID, UserID: userID, RoleID: roleID})
}

func (r *Recorder) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return r.record(ctx, Call{Action: ActionRemoveRole, GuildID: guildID, UserID: userID, RoleID: roleID})
}

func (r *Recorder) TeardownResource(ctx context.Context, externalRef string) error {
	return r.record(ctx, Call{Action: ActionTeardownResource, Ref: externalRef})
}

func (r *Recorder) Notify(ctx context.Context, userID, message string) error {
	return r.record(ctx, Call{Action: ActionNotify, UserID: userID, Text: message})
}
