package dataaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess/monitoring"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const sqlDalName = "sql_dal"

// pgUniqueViolation is the PostgreSQL error code for a unique constraint violation.
const pgUniqueViolation = "23505"

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS sanctions (
		guild_id TEXT NOT NULL,
		record_id BIGINT NOT NULL,
		subject_id TEXT NOT NULL,
		issuer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		severity_tier INTEGER,
		duration_seconds BIGINT,
		expires_at BIGINT,
		created_at BIGINT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (guild_id, record_id)
	)`,
	`CREATE INDEX IF NOT EXISTS sanctions_active_expires_at ON sanctions (active, expires_at)`,
	`CREATE INDEX IF NOT EXISTS sanctions_subject ON sanctions (guild_id, subject_id)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		guild_id TEXT NOT NULL,
		ticket_id BIGINT NOT NULL,
		subject_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		start_at BIGINT NOT NULL,
		end_at BIGINT NOT NULL,
		state TEXT NOT NULL,
		rejection_reason TEXT,
		external_ref TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (guild_id, ticket_id)
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_state_end_at ON tickets (state, end_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tickets_one_open_per_subject ON tickets (guild_id, subject_id) WHERE state IN ('active', 'approved')`,
	`CREATE TABLE IF NOT EXISTS guilds (
		id TEXT NOT NULL PRIMARY KEY,
		config TEXT NOT NULL
	)`,
}

type sqlStore struct {
	// l is the logger.
	l *slog.Logger

	// db is the database.
	db *sqlx.DB

	// backend is the driver name, used as a metric label.
	backend string

	// now is the clock.
	now func() time.Time
}

// NewSQLStore creates a store over a SQLite or PostgreSQL database and creates the tables when
// they do not exist.
func NewSQLStore(ctx context.Context, l *slog.Logger, db *sqlx.DB, opts ...Option) (Store, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}

	o := newStoreOptions(opts)

	s := &sqlStore{
		l:       l.With(slog.String(logging.KeyDal, sqlDalName), slog.String("backend", db.DriverName())),
		db:      db,
		backend: db.DriverName(),
		now:     o.now,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range sqlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}
	s.l.Debug("Database schema is up to date")
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	done := monitoring.Track(s.backend, "ping", "-")
	defer done()

	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *sqlStore) Close(_ context.Context) error {
	return s.db.Close()
}

// inTx runs fn in a transaction. Errors returned by fn are passed through unchanged, fn is
// expected to wrap driver errors itself.
func (s *sqlStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr(op, fmt.Errorf("error beginning transaction: %w", err))
	}

	defer func() {
		// A no-op once committed.
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.l.Warn("Error rolling back transaction", slog.String("op", op), slog.String(logging.KeyError, err.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr(op, fmt.Errorf("error committing transaction: %w", err))
	}
	return nil
}

// track counts and times a query, and counts it as failed when it ends in a storage error.
func (s *sqlStore) track(query, table string, errp *error) func() {
	done := monitoring.Track(s.backend, query, table)
	return func() {
		done()
		if errp != nil && IsStorageError(*errp) {
			monitoring.Failed(s.backend, query, table)
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// SQLite reports constraint failures in the message only.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func openStatesArgs() []any {
	return []any{"active", "approved"}
}
