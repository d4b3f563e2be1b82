package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Registers the postgres driver
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrStaleState = errors.New("storage: card changed since it was read")
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to the database and ensures the schema is up to date.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
		schema = sqliteSchema
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite doesn't support multiple writers.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// sqliteDSN pins a sortable time format and enables foreign keys on every
// connection the pool opens.
func sqliteDSN(dsn string) string {
	params := []string{"_time_format=sqlite", "_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	var missing []string
	for _, p := range params {
		if !strings.Contains(dsn, strings.SplitN(p, "(", 2)[0]) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Driver returns the name of the SQL driver in use.
func (db *DB) Driver() string {
	return db.driver
}

// utc normalises a timestamp for storage: UTC keeps stored text sortable and
// microseconds is the finest precision every supported database keeps.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
