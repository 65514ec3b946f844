// Package store provides the embedded SQLite store owned by a single hub
// process: schema migrations, connection handles, and the meta table that
// identifies the database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the current schema version recorded in the meta table.
const SchemaVersion = 1

// ErrLocked is returned by Open when another process holds the store.
var ErrLocked = errors.New("store is locked by another process")

// Meta identifies the database. Minted once on init, stable afterwards.
type Meta struct {
	DBID          string
	SchemaVersion int
	CreatedAt     time.Time
}

// Store wraps the SQLite database backing one workspace.
//
// The read-write handle is capped at a single connection and opens every
// transaction as BEGIN IMMEDIATE, so writes serialise at the driver instead
// of surfacing SQLITE_BUSY mid-transaction. Readers use a separate read-only
// handle and proceed concurrently against the WAL snapshot.
type Store struct {
	rw   *sql.DB
	ro   *sql.DB
	lock *os.File
	meta Meta
	path string
}

// Open creates or opens the store at path, acquires the exclusive writer
// lock, applies pragmas and migrations, and initialises the meta row.
// Returns ErrLocked when another process owns the store.
func Open(ctx context.Context, path string) (*Store, error) {
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	rw, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer avoids SQLITE_BUSY between our own connections.
	rw.SetMaxOpenConns(1)
	rw.SetMaxIdleConns(1)

	if err := rw.PingContext(ctx); err != nil {
		_ = rw.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := applyPragmas(ctx, rw); err != nil {
		_ = rw.Close()
		_ = lock.Close()
		return nil, err
	}

	if err := runMigrations(rw); err != nil {
		_ = rw.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	meta, err := ensureMeta(ctx, rw)
	if err != nil {
		_ = rw.Close()
		_ = lock.Close()
		return nil, err
	}

	ro, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000&_query_only=true")
	if err != nil {
		_ = rw.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("open read-only handle: %w", err)
	}
	if err := ro.PingContext(ctx); err != nil {
		_ = ro.Close()
		_ = rw.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("connect read-only handle: %w", err)
	}

	return &Store{rw: rw, ro: ro, lock: lock, meta: meta, path: path}, nil
}

// Close releases the database handles and the writer lock.
func (s *Store) Close() error {
	var firstErr error
	if s.ro != nil {
		if err := s.ro.Close(); err != nil {
			firstErr = err
		}
	}
	if s.rw != nil {
		if err := s.rw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.lock != nil {
		_ = syscall.Flock(int(s.lock.Fd()), syscall.LOCK_UN)
		if err := s.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Meta returns the identity recorded at init time.
func (s *Store) Meta() Meta { return s.meta }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// ReadDB returns the read-only handle. Writes through it fail at the driver.
func (s *Store) ReadDB() *sql.DB { return s.ro }

// WriteDB returns the read-write handle. All mutations must go through
// WithTx; this exists for migrations and tests.
func (s *Store) WriteDB() *sql.DB { return s.rw }

// WithTx runs fn inside a single immediate transaction. The transaction is
// rolled back when fn returns an error, so a state change and its events
// commit together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err is lock contention that exceeded the driver's
// busy timeout.
func IsBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// IsConstraint reports whether err is any constraint failure, including
// trigger RAISE(ABORT) enforcement.
func IsConstraint(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// acquireLock takes a non-blocking flock on the sidecar lock file. The kernel
// releases it on process exit, so a crashed daemon never wedges the store.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return f, nil
}

// applyPragmas sets required SQLite configuration on the writer handle.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// ensureMeta inserts the meta row on first init and reads it back.
func ensureMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	_, err := db.ExecContext(ctx,
		`INSERT INTO meta (id, db_id, schema_version, created_at)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		uuid.New().String(), SchemaVersion, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Meta{}, fmt.Errorf("init meta: %w", err)
	}

	var m Meta
	var createdAt string
	err = db.QueryRowContext(ctx,
		`SELECT db_id, schema_version, created_at FROM meta WHERE id = 1`,
	).Scan(&m.DBID, &m.SchemaVersion, &createdAt)
	if err != nil {
		return Meta{}, fmt.Errorf("read meta: %w", err)
	}
	m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Meta{}, fmt.Errorf("parse meta created_at: %w", err)
	}
	return m, nil
}
