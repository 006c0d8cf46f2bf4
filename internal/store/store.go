// Package store is the Record Store Adapter: generic CRUD over the local
// SQLite tables described by the resource package. Every row carries a
// sync status; deletes are tombstones, never physical removals.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/medsync/internal/resource"

	_ "modernc.org/sqlite"
)

const (
	// storeDirPerm is the permission mode for the directory holding the database.
	storeDirPerm = fs.FileMode(0o700)

	// busyTimeoutMS is how long a writer waits on a locked database.
	busyTimeoutMS = 5000

	// remoteDeletedColumn marks a tombstone whose remote delete succeeded.
	// Internal to the store; never part of a returned row.
	remoteDeletedColumn = "remote_deleted"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides SQLite-backed persistence for syncable records.
type Store struct {
	db     *sql.DB
	q      querier
	inTx   bool
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the record database at path and
// ensures every resource table exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	pragmas := url.Values{}
	pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: SQLite has a single writer, and it keeps the
	// adapter's writes strictly serialized.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Store{
		db:     db,
		q:      db,
		path:   path,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// InTx runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
// Calling InTx on a Store that is already transactional reuses it.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := &Store{db: s.db, q: tx, inTx: true, path: s.path, logger: s.logger, now: s.now}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// timestamp formats the current time for created_at / updated_at.
func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT,
			name TEXT,
			created_at TEXT NOT NULL
		)`,
	}

	for _, d := range resource.All() {
		stmts = append(stmts, createTableSQL(d),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_sync_status ON %s (sync_status)", d.Table, d.Table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s (owner_id)", d.Table, d.Table),
		)
	}

	// One live frequency per medication.
	stmts = append(stmts, `CREATE UNIQUE INDEX IF NOT EXISTS idx_frequencies_medication
		ON frequencies (medication_id) WHERE sync_status <> 'DELETED'`)

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func createTableSQL(d *resource.Descriptor) string {
	defs := make([]string, 0, len(d.Columns)+1)
	for _, c := range d.Columns {
		switch c.Name {
		case "id":
			defs = append(defs, "id INTEGER PRIMARY KEY AUTOINCREMENT")
		case "sync_status", "created_at", "updated_at":
			defs = append(defs, c.Name+" TEXT NOT NULL")
		default:
			defs = append(defs, c.Name+" "+c.Kind.SQLType())
		}
	}

	defs = append(defs, remoteDeletedColumn+" INTEGER NOT NULL DEFAULT 0")

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.Table, strings.Join(defs, ",\n\t"))
}
