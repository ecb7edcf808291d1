package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// KeyError is the key for an error attribute.
	KeyError = "error"

	// KeyDal is the key for the data access layer that produced the log.
	KeyDal = "dal"

	// KeyGuildID is the key for a guild ID.
	KeyGuildID = "guild_id"

	// KeyUserID is the key for a user ID.
	KeyUserID = "user_id"

	// KeyRecordID is the key for a sanction record ID.
	KeyRecordID = "record_id"

	// KeyTicketID is the key for a ticket ID.
	KeyTicketID = "ticket_id"

	// KeyKind is the key for a sanction kind.
	KeyKind = "kind"

	// KeyComponent is the key for the component that produced the log.
	KeyComponent = "component"
)

// EnvLogLevel is the environment variable that overrides the log level.
const EnvLogLevel = `LOG_LEVEL`

// Name is the name of the application the logger is created for.
type Name string

// Config is the configuration for a logger.
type Config struct {
	// AppName is attached to every record as "app".
	AppName string

	// Level is the minimum level that is written.
	Level slog.Level

	// Output is where records are written. Defaults to stdout.
	Output io.Writer
}

// NewConfig creates a new logger configuration for the given application name. The level is
// read from the LOG_LEVEL environment variable and defaults to debug.
func NewConfig(name Name) *Config {
	lvl, err := ParseLevel(os.Getenv(EnvLogLevel))
	if err != nil {
		lvl = slog.LevelDebug
	}

	return &Config{
		AppName: string(name),
		Level:   lvl,
		Output:  os.Stdout,
	}
}

// CommonLogger creates the JSON logger shared by every component and sets it as the default.
func CommonLogger(cfg *Config) (*slog.Logger, error) {
	if cfg == nil {
		return nil, errors.New("logging config is nil")
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.Level,
	})

	l := slog.New(h).With(slog.String("app", cfg.AppName))
	slog.SetDefault(l)
	return l, nil
}

// ParseLevel parses a level name. An empty string is debug.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelDebug, fmt.Errorf("unknown log level %q", s)
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
