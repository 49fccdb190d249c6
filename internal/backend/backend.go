// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package backend wraps the format-specific extractors behind one narrow
// contract. Each content kind maps to an ordered chain of backends; the
// first backend that succeeds wins.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/pdiddy/docudactyl/pkg/types"
)

var (
	// ErrUnsupported means the backend cannot handle this input at all.
	ErrUnsupported = errors.New("unsupported format")
	// ErrParse means the input is malformed for this backend.
	ErrParse = errors.New("parse error")
	// ErrOutOfMemory means extraction exhausted memory. Retryable.
	ErrOutOfMemory = errors.New("out of memory")
)

// Input describes one document handed to a backend.
type Input struct {
	Path     string
	Kind     types.ContentKind
	MIMEType string

	// Output is the caller's output path. Backends that write side files
	// (GPU OCR) place them next to it.
	Output string
}

// OutlineEntry is one table-of-contents heading.
type OutlineEntry struct {
	Title string `json:"title" yaml:"title"`
	Level int    `json:"level" yaml:"level"`
}

// Extraction is what a backend produced for one document.
type Extraction struct {
	Backend     string
	Text        string
	Pages       int32
	Title       string
	Author      string
	DurationSec float64

	// Outline is the document's own table of contents, when it has one.
	Outline []OutlineEntry

	// Coordinates are corner points (x, y) in the source reference system.
	Coordinates [][2]float64

	// OCR is set when the text came from optical recognition.
	OCR *types.OcrResult
}

// Words counts whitespace-separated words.
func (e Extraction) Words() int64 { return int64(len(strings.Fields(e.Text))) }

// Chars counts runes.
func (e Extraction) Chars() int64 { return int64(utf8.RuneCountInString(e.Text)) }

// Backend extracts one document.
type Backend interface {
	Name() string
	Extract(ctx context.Context, in Input) (Extraction, error)
}

// StatusFor maps a backend error onto the parse status reported to callers.
func StatusFor(err error) types.ParseStatus {
	switch {
	case err == nil:
		return types.StatusOK
	case errors.Is(err, ErrUnsupported):
		return types.StatusUnsupportedFormat
	case errors.Is(err, ErrOutOfMemory), errors.Is(err, syscall.ENOMEM):
		return types.StatusOutOfMemory
	case errors.Is(err, ErrParse):
		return types.StatusParseError
	}
	return types.StatusError
}

// Chain tries backends in order. Unlike a single backend it only reports
// ErrUnsupported when every member declined.
type Chain struct {
	name     string
	backends []Backend
	logger   *slog.Logger
}

// NewChain builds a chain. Nil members are skipped.
func NewChain(name string, logger *slog.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{name: name, logger: logger}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

func (c *Chain) Name() string { return c.name }

// Backends lists member names in order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

func (c *Chain) Extract(ctx context.Context, in Input) (Extraction, error) {
	var lastErr error
	allUnsupported := true
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		ex, err := b.Extract(ctx, in)
		if err == nil {
			ex.Backend = b.Name()
			return ex, nil
		}
		c.logger.Debug("backend failed", "chain", c.name, "backend", b.Name(), "path", in.Path, "error", err)
		if !errors.Is(err, ErrUnsupported) {
			allUnsupported = false
			lastErr = err
		} else if lastErr == nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		return Extraction{}, fmt.Errorf("%w: no backend for %s", ErrUnsupported, in.Kind)
	}
	if allUnsupported {
		return Extraction{}, fmt.Errorf("%w: all %s backends declined: %v", ErrUnsupported, c.name, lastErr)
	}
	return Extraction{}, fmt.Errorf("all %s backends failed: %w", c.name, lastErr)
}

// withRecover converts a decoder panic into ErrParse. Third-party decoders
// panic on some malformed inputs.
func withRecover(name string, fn func() (Extraction, error)) (ex Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			ex = Extraction{}
			err = fmt.Errorf("%w: %s: %v", ErrParse, name, r)
		}
	}()
	return fn()
}

// baseMIME drops parameters such as charset.
func baseMIME(mt string) string {
	base, _, _ := strings.Cut(mt, ";")
	return strings.TrimSpace(base)
}
