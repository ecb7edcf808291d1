package connection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SQL describes a SQL database to open.
type SQL struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string

	// DSN is the file path for SQLite, or the connection string for PostgreSQL.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens and pings the database.
func (c *SQL) Open(ctx context.Context) (*sqlx.DB, error) {
	dsn := c.DSN
	maxOpen := c.MaxOpenConns

	switch c.Driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(c.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", c.DSN)

		// SQLite serialises writers, one connection avoids busy errors between our own
		// transactions.
		maxOpen = 1
	case DriverPostgres:
		if maxOpen == 0 {
			maxOpen = 10
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	db, err := sqlx.Open(c.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}
	return db, nil
}
