// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package l1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/docudactyl/internal/abi"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// ExportEntry is one cached result in the inventory export.
type ExportEntry struct {
	Path     string            `json:"path" yaml:"path"`
	ModTime  time.Time         `json:"mod_time" yaml:"mod_time"`
	Size     int64             `json:"size" yaml:"size"`
	Status   string            `json:"status" yaml:"status"`
	Kind     string            `json:"kind" yaml:"kind"`
	SHA256   string            `json:"sha256" yaml:"sha256"`
	Pages    int32             `json:"pages" yaml:"pages"`
	Words    int64             `json:"words" yaml:"words"`
	Title    string            `json:"title,omitempty" yaml:"title,omitempty"`
	Stages   []string          `json:"stages,omitempty" yaml:"stages,omitempty"`
	Bytes    int64             `json:"bytes" yaml:"bytes"`
	StoredAt time.Time         `json:"stored_at" yaml:"stored_at"`
	Result   types.ParseResult `json:"-" yaml:"-"`
}

// Entries lists every cached result in store order, oldest first.
func (s *Store) Entries(ctx context.Context) ([]ExportEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, mtime, size, record, stage_mask, bytes, stored_at FROM results ORDER BY stored_seq, rowid`)
	if err != nil {
		return nil, classify(fmt.Errorf("querying for export: %w", err))
	}
	defer rows.Close()

	var entries []ExportEntry
	for rows.Next() {
		var (
			e             ExportEntry
			mtime, stored int64
			mask          int64
			record        []byte
		)
		if err := rows.Scan(&e.Path, &mtime, &e.Size, &record, &mask, &e.Bytes, &stored); err != nil {
			return nil, classify(fmt.Errorf("scanning export row: %w", err))
		}
		r, err := abi.DecodeParseResult(record)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, e.Path, err)
		}
		e.ModTime = time.Unix(0, mtime).UTC()
		e.StoredAt = time.Unix(0, stored).UTC()
		e.Status = r.Status.String()
		e.Kind = r.Kind.String()
		e.SHA256 = r.SHA256
		e.Pages = r.PageCount
		e.Words = r.WordCount
		e.Title = r.Title
		e.Stages = types.StageFlags(mask).Names()
		e.Result = r
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExportYAML writes the cache inventory to w as YAML.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer) error {
	entries, err := s.Entries(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the cache inventory to w as indented JSON.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	entries, err := s.Entries(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return nil
}
