// Package store owns all persisted state and the read-side aggregations.
// Storage is SQLite (modernc driver) with goose-managed migrations; the
// activity row carries heart-rate zones and trend points as JSON
// sub-documents while splits live in their own table with cascade delete.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rundash/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sentinel errors callers branch on. Conflicts are distinct from not-found
// so the API layer can map them to different statuses.
var (
	ErrNotFound   = errors.New("not found")
	ErrPlanExists = errors.New("training plan already exists for date")
)

// Store is the repository over the SQLite database. All calendar-day
// bucketing uses the fixed timezone in loc.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pragmas and migrations, and returns the repository. loc is the dashboard's
// fixed calendar timezone.
func Open(ctx context.Context, path string, loc *time.Location) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, loc: loc}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Location returns the fixed calendar timezone the store buckets with.
func (s *Store) Location() *time.Location {
	return s.loc
}

// DB exposes the raw handle for auxiliary storage (auth config).
func (s *Store) DB() *sql.DB {
	return s.db
}

// configureSQLite sets up SQLite for a single-writer local database:
// WAL for concurrent reads, a busy timeout instead of immediate failure,
// and foreign keys for split cascade deletes.
func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	// SQLite works best with limited connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logging.Debug("sqlite configured", "journal_mode", "WAL", "busy_timeout", "5000ms")
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	// goose scans the FS root, so hand it the migration files directly.
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("locating migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		logging.Debug("migration applied", "version", r.Source.Version, "path", r.Source.Path)
	}
	return nil
}

// rangeBounds converts an inclusive calendar-date range (in the fixed
// timezone) to UTC instant bounds suitable for comparing against stored
// RFC3339 start dates. Returned strings are empty for unbounded ends.
func (s *Store) rangeBounds(r DateRange) (lower, upper string, err error) {
	if r.From != "" {
		day, err := time.ParseInLocation("2006-01-02", r.From, s.loc)
		if err != nil {
			return "", "", fmt.Errorf("invalid from date %q: %w", r.From, err)
		}
		lower = day.UTC().Format(time.RFC3339)
	}
	if r.To != "" {
		day, err := time.ParseInLocation("2006-01-02", r.To, s.loc)
		if err != nil {
			return "", "", fmt.Errorf("invalid to date %q: %w", r.To, err)
		}
		// inclusive: everything before the start of the next day
		upper = day.AddDate(0, 0, 1).UTC().Format(time.RFC3339)
	}
	return lower, upper, nil
}
