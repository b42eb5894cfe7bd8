package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a session or attribute does not exist.
var ErrNotFound = errors.New("not found")

// ErrSchemaVersion is returned when a read-only open finds a database whose
// schema this build does not know.
var ErrSchemaVersion = errors.New("unsupported schema version")

// migration upgrades a database to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order inside one transaction each. user_version holds
// the last applied version.
var migrations = []migration{
	{
		version: 1,
		name:    "interval point-query index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_intervals_handle_end
			ON intervals(session_id, handle, end_ts)`,
	},
}

// schemaVersion is the version a fully migrated database reports.
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Store provides durable storage for replayed state histories.
// Uses SQLite with WAL mode so readers never block the replay writer.
type Store struct {
	db       *sql.DB
	readOnly bool
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	readOnly bool
}

// ReadOnly opens an existing database without creating or migrating it.
// The connection runs with query_only set, so writes fail.
func ReadOnly() Option {
	return func(c *openConfig) { c.readOnly = true }
}

// Open creates or opens a SQLite database at path.
//
// Connections are configured through the driver DSN with:
//   - WAL journal so query and serve can read while replay writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement, which cascades session deletes
//
// A writable open applies the schema and any pending migrations, so it is
// safe to call repeatedly on the same file.
func Open(path string, opts ...Option) (*Store, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open database %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path, cfg.readOnly))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", path, err)
	}

	// SQLite allows one writer at a time; parallel replays serialize here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.readOnly {
		err = checkSchemaVersion(db)
	} else {
		err = applySchema(db)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, readOnly: cfg.readOnly}, nil
}

// dsn builds the go-sqlite3 connection string for path.
func dsn(path string, readOnly bool) string {
	if readOnly {
		return path + "?_query_only=true&_busy_timeout=5000&_foreign_keys=on"
	}
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ReadOnly reports whether the store was opened with ReadOnly.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// applySchema creates missing tables and runs pending migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := userVersion(db)
	if err != nil {
		return err
	}
	if version > schemaVersion() {
		return fmt.Errorf("%w: database is at %d, this build knows %d", ErrSchemaVersion, version, schemaVersion())
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := migrate(db, m); err != nil {
			return err
		}
	}
	return nil
}

func migrate(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.stmt); err != nil {
		return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	return nil
}

// checkSchemaVersion requires a read-only database to be fully migrated.
func checkSchemaVersion(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}
	if version != schemaVersion() {
		return fmt.Errorf("%w: database is at %d, want %d", ErrSchemaVersion, version, schemaVersion())
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
