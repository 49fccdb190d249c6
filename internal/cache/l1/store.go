// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package l1 is the local result cache: a sqlite database in WAL mode keyed
// by file identity (path, modification time, size). Readers run
// concurrently on the connection pool; writes are serialized and each one
// commits in a single transaction, so a reader never observes a partial
// record and a cancelled write leaves nothing behind.
//
// Capacity is bounded by the total stored bytes. When a write pushes the
// total over the limit, entries are evicted oldest-stored first (store
// sequence, then rowid) until the total fits.
package l1

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pdiddy/docudactyl/internal/abi"
	"github.com/pdiddy/docudactyl/pkg/types"
)

const dbFile = "docudactyl-l1.db"

// ErrCorrupt marks a damaged database or unrecoverable I/O on the cache
// directory. The cache must be reset before further use.
var ErrCorrupt = errors.New("l1 cache corrupt")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("l1 cache closed")

// Key identifies a file in a particular state at a particular location.
type Key struct {
	Path    string
	ModTime int64 // unix nanoseconds
	Size    int64
}

// KeyFor builds the key for a validated Conduit result.
func KeyFor(c types.ConduitResult) Key {
	return Key{Path: c.Path, ModTime: c.ModTime.UnixNano(), Size: c.FileSize}
}

// Entry is a stored result with its stage side-channel.
type Entry struct {
	Key       Key
	Result    types.ParseResult
	StageMask types.StageFlags
	Stages    []byte
	StoredAt  time.Time
}

// Store is the sqlite-backed L1 cache.
type Store struct {
	db       *sql.DB
	path     string
	maxBytes int64
	logger   *slog.Logger

	writeMu sync.Mutex
	closed  bool
}

// Open opens or creates the cache database in cfg.Dir.
func Open(cfg types.CacheConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("opening l1 cache: no directory configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, classify(fmt.Errorf("creating cache directory: %w", err))
	}

	path := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:       db,
		path:     path,
		maxBytes: cfg.MaxSizeMB << 20,
		logger:   logger.With("component", "l1"),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, classify(fmt.Errorf("creating schema: %w", err))
	}
	if err := s.quickCheck(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Destroy removes the cache database and its WAL files from dir. It is the
// recovery path after ErrCorrupt.
func Destroy(dir string) error {
	base := filepath.Join(dir, dbFile)
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database. Closing twice, or a nil store, is a no-op.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS results (
			path TEXT NOT NULL,
			mtime INTEGER NOT NULL,
			size INTEGER NOT NULL,
			record BLOB NOT NULL,
			stage_mask INTEGER NOT NULL DEFAULT 0,
			stages BLOB,
			bytes INTEGER NOT NULL,
			stored_seq INTEGER NOT NULL,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (path, mtime, size)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_stored ON results(stored_seq)`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
			sha256 TEXT NOT NULL,
			path TEXT NOT NULL,
			seen_at INTEGER NOT NULL,
			PRIMARY KEY (sha256, path)
		)`,
		`CREATE TABLE IF NOT EXISTS simhashes (
			path TEXT PRIMARY KEY,
			simhash INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) quickCheck() error {
	var res string
	if err := s.db.QueryRow(`PRAGMA quick_check`).Scan(&res); err != nil {
		return classify(fmt.Errorf("checking integrity: %w", err))
	}
	if res != "ok" {
		return fmt.Errorf("%w: integrity check: %s", ErrCorrupt, res)
	}
	return nil
}

// classify wraps sqlite corruption and I/O failures in ErrCorrupt.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}

// Lookup returns the result stored under key. A path match with a different
// mtime or size is a miss.
func (s *Store) Lookup(ctx context.Context, key Key) (types.ParseResult, bool, error) {
	e, ok, err := s.LookupEntry(ctx, key)
	return e.Result, ok, err
}

// LookupEntry returns the result and its stage side-channel.
func (s *Store) LookupEntry(ctx context.Context, key Key) (Entry, bool, error) {
	var (
		record, stages []byte
		mask           int64
		storedAt       int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT record, stage_mask, stages, stored_at FROM results WHERE path = ? AND mtime = ? AND size = ?`,
		key.Path, key.ModTime, key.Size,
	).Scan(&record, &mask, &stages, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, classify(fmt.Errorf("looking up %s: %w", key.Path, err))
	}

	r, err := abi.DecodeParseResult(record)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return Entry{
		Key:       key,
		Result:    r,
		StageMask: types.StageFlags(mask),
		Stages:    stages,
		StoredAt:  time.Unix(0, storedAt),
	}, true, nil
}

// Store writes result under key, replacing any entry for the same path in
// an older state. When the older state held different content the path's
// dedup registrations are dropped too. Existing stage results for the
// identical key are kept.
func (s *Store) Store(ctx context.Context, key Key, result types.ParseResult) error {
	record := abi.EncodeParseResult(result)
	return s.write(ctx, "storing "+key.Path, func(tx *sql.Tx) error {
		changed, err := contentChanged(ctx, tx, key, result.SHA256)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM results WHERE path = ? AND (mtime <> ? OR size <> ?)`,
			key.Path, key.ModTime, key.Size,
		); err != nil {
			return fmt.Errorf("dropping stale entries: %w", err)
		}
		if changed {
			if err := forgetPath(ctx, tx, key.Path); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (path, mtime, size, record, bytes, stored_seq, stored_at)
			 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(stored_seq), 0) + 1 FROM results), ?)
			 ON CONFLICT(path, mtime, size) DO UPDATE SET
				record = excluded.record,
				bytes = excluded.bytes + COALESCE(length(results.stages), 0),
				stored_seq = excluded.stored_seq,
				stored_at = excluded.stored_at`,
			key.Path, key.ModTime, key.Size, record,
			entryBytes(key, record, nil), time.Now().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("inserting record: %w", err)
		}
		return s.evict(ctx, tx)
	})
}

// StoreStages records the stage side-channel for an already stored key.
// It is a no-op when key has no entry.
func (s *Store) StoreStages(ctx context.Context, key Key, mask types.StageFlags, blob []byte) error {
	return s.write(ctx, "storing stages for "+key.Path, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE results SET stage_mask = ?, stages = ?, bytes = length(record) + length(CAST(path AS BLOB)) + ?
			 WHERE path = ? AND mtime = ? AND size = ?`,
			int64(mask), blob, len(blob), key.Path, key.ModTime, key.Size,
		)
		if err != nil {
			return fmt.Errorf("updating stages: %w", err)
		}
		return s.evict(ctx, tx)
	})
}

// contentChanged reports whether an older state of key.Path is stored with
// a fingerprint other than sha256.
func contentChanged(ctx context.Context, tx *sql.Tx, key Key, sha256 string) (bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT record FROM results WHERE path = ? AND (mtime <> ? OR size <> ?)`,
		key.Path, key.ModTime, key.Size,
	)
	if err != nil {
		return false, fmt.Errorf("reading stale entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return false, fmt.Errorf("scanning stale entry: %w", err)
		}
		old, err := abi.DecodeParseResult(record)
		if err != nil || old.SHA256 != sha256 {
			return true, nil
		}
	}
	return false, rows.Err()
}

func entryBytes(key Key, record, stages []byte) int64 {
	return int64(len(key.Path) + len(record) + len(stages))
}

// evict deletes oldest-stored entries until the byte total fits.
func (s *Store) evict(ctx context.Context, tx *sql.Tx) error {
	if s.maxBytes <= 0 {
		return nil
	}
	var total int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes), 0) FROM results`).Scan(&total); err != nil {
		return fmt.Errorf("summing cache size: %w", err)
	}
	if total <= s.maxBytes {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT rowid, bytes FROM results ORDER BY stored_seq, rowid`)
	if err != nil {
		return fmt.Errorf("listing eviction candidates: %w", err)
	}
	var victims []int64
	for rows.Next() && total > s.maxBytes {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return fmt.Errorf("scanning eviction candidate: %w", err)
		}
		victims = append(victims, id)
		total -= n
	}
	rows.Close()

	for _, id := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("evicting entry: %w", err)
		}
	}
	if len(victims) == 0 {
		return nil
	}
	s.logger.Debug("evicted entries", "count", len(victims), "bytes", total)
	return forgetOrphans(ctx, tx)
}

// write runs fn in one transaction while holding the writer lock.
func (s *Store) write(ctx context.Context, what string, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("%s: beginning transaction: %w", what, err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(fmt.Errorf("%s: %w", what, err))
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("%s: committing: %w", what, err))
	}
	return nil
}

// Count returns the number of cached results.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("counting entries: %w", err))
	}
	return uint64(n), nil
}

// SizeBytes returns the accounted size of all cached entries.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes), 0) FROM results`).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("summing entries: %w", err))
	}
	return n, nil
}

// Sync checkpoints the WAL into the main database file. Stores are not
// synced automatically.
func (s *Store) Sync(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`); err != nil {
		return classify(fmt.Errorf("checkpointing: %w", err))
	}
	return nil
}
