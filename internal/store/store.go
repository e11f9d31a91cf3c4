package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/loyalty/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// pragmas are applied on every open.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// migrations[i] upgrades a database from user_version i to i+1.
var migrations = []func(*sql.Tx) error{
	// v1: buffered_at index for retention sweeps and PendingStats.
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_pending_buffered_at ON pending_events(buffered_at)`)
		return err
	},
}

// Store is the SQLite ledger: customers with their point records, orders,
// the out-of-order buffer and the inbox log.
type Store struct {
	db *sql.DB
	tx *sql.Tx // set on the view passed to an Atomic callback
}

var (
	_ engine.Store  = (*Store)(nil)
	_ engine.Inbox  = (*Store)(nil)
	_ engine.Lister = (*Store)(nil)
)

// Open creates or opens the ledger database at path and brings its schema
// up to date. Opening an existing database again is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil || s.tx != nil {
		return nil
	}
	return s.db.Close()
}

// conn returns the transaction of an Atomic view, or the database.
func (s *Store) conn() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Atomic runs fn inside one transaction. The Store passed to fn reads and
// writes through it and must not be used after fn returns. The connection
// pool has a single connection, so units run one at a time.
func (s *Store) Atomic(ctx context.Context, fn func(engine.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&Store{db: s.db, tx: tx})
	})
}

// withTx runs fn in a transaction, committing on success. Inside an Atomic
// view fn joins the open transaction.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// migrate creates missing tables and applies pending migrations, each in
// its own transaction together with the user_version bump.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set user_version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}
