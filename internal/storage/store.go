package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrDuplicate is returned when a row with the same primary key already exists.
var ErrDuplicate = errors.New("duplicate row")

// Store wraps SQL persistence for cursors, peeps, counters, dedupe, and notifications.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	return Connect(DriverSQLite, path)
}

// Connect opens a store for the given driver. dsn is a file path for sqlite
// and a connection URL for postgres.
func Connect(driver, dsn string) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite, "":
		driver, sqlDriver = DriverSQLite, "sqlite"
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) configure() error {
	if s.driver != DriverSQLite {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      BIGINT NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS peeps (
  id                 TEXT PRIMARY KEY,
  number             BIGINT NOT NULL UNIQUE,
  account            TEXT NOT NULL,
  variant            TEXT NOT NULL,
  content            TEXT,
  pic                TEXT,
  share_id           TEXT,
  reply_to           TEXT,
  untrusted_ts       BIGINT NOT NULL DEFAULT 0,
  created_in_block   BIGINT NOT NULL,
  created_in_tx      TEXT NOT NULL,
  created_timestamp  BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_peeps_account ON peeps(account)`,
	`CREATE INDEX IF NOT EXISTS idx_peeps_reply_to ON peeps(reply_to)`,
	`CREATE TABLE IF NOT EXISTS stats (
  id                         INTEGER PRIMARY KEY,
  total_records              BIGINT NOT NULL DEFAULT 0,
  total_resolution_failures  BIGINT NOT NULL DEFAULT 0
)`,
	`INSERT INTO stats (id, total_records, total_resolution_failures)
VALUES (1, 0, 0)
ON CONFLICT(id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id          TEXT PRIMARY KEY,
  rule_id     TEXT NOT NULL,
  peep_id     TEXT NOT NULL,
  txhash      TEXT,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS sends (
  notification_id  TEXT NOT NULL,
  sink_id          TEXT NOT NULL,
  status           TEXT NOT NULL,
  error            TEXT,
  created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(notification_id, sink_id)
)`,
	`CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
)`,
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

// Cursor is the last processed block of a source.
type Cursor struct {
	SourceID  string
	Height    uint64
	Hash      string
	UpdatedAt time.Time
}

// UpsertCursor records the latest processed height/hash for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`), sourceID, int64(height), hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT height, hash FROM cursors WHERE source_id = ?;
`), sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// ListCursors returns every stored cursor ordered by source id.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, height, hash, updated_at FROM cursors ORDER BY source_id;`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SourceID, &c.Height, &c.Hash, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`), key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, s.q(`
SELECT expires_at FROM dedupe WHERE key = ?;
`), key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM dedupe WHERE key = ?;`), key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
