// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/docudactyl/internal/backend"
	"github.com/pdiddy/docudactyl/internal/stages"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// Document is the JSON and YAML output record.
type Document struct {
	Source  string                 `json:"source" yaml:"source"`
	Result  types.ParseResult      `json:"result" yaml:"result"`
	Backend string                 `json:"backend,omitempty" yaml:"backend,omitempty"`
	Outline []backend.OutlineEntry `json:"outline,omitempty" yaml:"outline,omitempty"`
	Text    string                 `json:"text" yaml:"text"`
}

// writeOutput writes the extracted text to the request's output path. On a
// cache hit the file is only rewritten when it is missing, which needs a
// fresh extraction.
func (d *doc) writeOutput(ctx context.Context) error {
	out := d.req.Output
	if out == "" {
		return nil
	}
	if !d.haveEx {
		if _, err := os.Stat(out); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	ex, err := d.extraction(ctx)
	if err != nil {
		return fmt.Errorf("re-extracting for output: %w", err)
	}

	var data []byte
	switch d.req.Format {
	case types.FormatJSON:
		data, err = json.MarshalIndent(d.document(ex), "", "  ")
		data = append(data, '\n')
	case types.FormatYAML:
		data, err = yaml.Marshal(d.document(ex))
	default:
		data = []byte(ex.Text)
	}
	if err != nil {
		return fmt.Errorf("encoding %s output: %w", d.req.Format, err)
	}
	return writeAtomic(out, data)
}

func (d *doc) document(ex backend.Extraction) Document {
	return Document{
		Source:  d.c.Path,
		Result:  d.result,
		Backend: ex.Backend,
		Outline: ex.Outline,
		Text:    ex.Text,
	}
}

// SideChannelPath returns where stage results for output are written.
func SideChannelPath(output string, format types.OutputFormat) string {
	if format == types.FormatYAML {
		return output + ".stages.yaml"
	}
	return output + ".stages.json"
}

func (d *doc) writeSideChannel(res *stages.Results) error {
	if d.req.Output == "" || res == nil {
		return nil
	}
	var (
		data []byte
		err  error
	)
	if d.req.Format == types.FormatYAML {
		data, err = yaml.Marshal(res)
	} else {
		data, err = json.MarshalIndent(res, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding stage results: %w", err)
	}
	return writeAtomic(SideChannelPath(d.req.Output, d.req.Format), data)
}

// writeAtomic replaces path through a temporary file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
