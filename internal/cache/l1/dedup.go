// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package l1

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"math/bits"
	"slices"
	"time"
)

// NearMatch is a previously registered document whose simhash lies within
// the requested Hamming distance.
type NearMatch struct {
	Path     string `json:"path" yaml:"path"`
	Distance int    `json:"distance" yaml:"distance"`
}

// RegisterFingerprint records that path has content sha256 and returns the
// other paths already registered with the same content, oldest first. Any
// earlier content registered for path is forgotten.
func (s *Store) RegisterFingerprint(ctx context.Context, sha256, path string) ([]string, error) {
	var dups []string
	err := s.write(ctx, "registering fingerprint", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fingerprints WHERE path = ? AND sha256 <> ?`, path, sha256,
		); err != nil {
			return fmt.Errorf("dropping old fingerprint: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO fingerprints (sha256, path, seen_at) VALUES (?, ?, ?)`,
			sha256, path, time.Now().UnixNano(),
		); err != nil {
			return fmt.Errorf("inserting fingerprint: %w", err)
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT path FROM fingerprints WHERE sha256 = ? AND path <> ? ORDER BY seen_at, rowid`,
			sha256, path,
		)
		if err != nil {
			return fmt.Errorf("querying fingerprints: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				return fmt.Errorf("scanning fingerprint: %w", err)
			}
			dups = append(dups, p)
		}
		return rows.Err()
	})
	return dups, err
}

// RegisterSimhash records the simhash of path and returns every other
// registered document within maxDistance bits, closest first.
func (s *Store) RegisterSimhash(ctx context.Context, path string, hash uint64, maxDistance int) ([]NearMatch, error) {
	var matches []NearMatch
	err := s.write(ctx, "registering simhash", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO simhashes (path, simhash) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET simhash = excluded.simhash`,
			path, int64(hash),
		); err != nil {
			return fmt.Errorf("upserting simhash: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT path, simhash FROM simhashes WHERE path <> ?`, path)
		if err != nil {
			return fmt.Errorf("querying simhashes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				p     string
				other int64
			)
			if err := rows.Scan(&p, &other); err != nil {
				return fmt.Errorf("scanning simhash: %w", err)
			}
			if d := bits.OnesCount64(hash ^ uint64(other)); d <= maxDistance {
				matches = append(matches, NearMatch{Path: p, Distance: d})
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(matches, func(a, b NearMatch) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return matches, nil
}

// forgetPath drops the dedup registrations of path.
func forgetPath(ctx context.Context, tx *sql.Tx, path string) error {
	for _, table := range []string{"fingerprints", "simhashes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE path = ?`, path); err != nil {
			return fmt.Errorf("clearing %s for %s: %w", table, path, err)
		}
	}
	return nil
}

// forgetOrphans drops dedup registrations whose path no longer has a cached
// entry.
func forgetOrphans(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"fingerprints", "simhashes"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE path NOT IN (SELECT path FROM results)`,
		); err != nil {
			return fmt.Errorf("clearing orphaned %s: %w", table, err)
		}
	}
	return nil
}
