// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package l2

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// SQLStore keeps entries in a single table. Expired rows are invisible to
// reads and replaced on the next write of the same key.
type SQLStore struct {
	db       *sqlx.DB
	blobType string
	now      func() time.Time

	mu    sync.Mutex
	ready bool
}

// NewPostgresStore opens cfg.Endpoint (a postgres DSN) through pgx and
// creates the entries table. The pool connects lazily, so an unreachable
// server is reported by Ping rather than here.
func NewPostgresStore(ctx context.Context, cfg types.L2Config) (*SQLStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("postgres DSN is required")
	}
	db, err := sqlx.Open("pgx", cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	s := &SQLStore{db: db, blobType: "BYTEA", now: time.Now}
	// An unreachable server is retried on first use.
	_ = s.ensureSchema(ctx)
	return s, nil
}

// NewSQLStore wraps an open database whose driver accepts the given blob
// column type.
func NewSQLStore(ctx context.Context, db *sqlx.DB, blobType string) (*SQLStore, error) {
	s := &SQLStore{db: db, blobType: blobType, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS l2_entries (
		key TEXT PRIMARY KEY,
		value %s NOT NULL,
		expires_at BIGINT NOT NULL
	)`, s.blobType)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating l2_entries: %w", err)
	}
	s.ready = true
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	var val []byte
	err := s.db.GetContext(ctx, &val, s.db.Rebind(
		`SELECT value FROM l2_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`),
		key, s.now().UnixNano(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting %s: %w", key, err)
	}
	return val, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO l2_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`),
		key, val, expires,
	)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, prefix string) (uint64, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(*) FROM l2_entries WHERE key LIKE ? AND (expires_at = 0 OR expires_at > ?)`),
		prefix+"%", s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return uint64(n), nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }
