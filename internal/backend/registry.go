// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/internal/gpu"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// Options wires the collaborators that the default chains need. Any of
// them may be nil; chains then skip the members that depend on it.
type Options struct {
	Runtime         container.Runtime
	Tools           container.HostTools
	GPU             *gpu.Coprocessor
	OCR             OCR
	OCRLanguages    []string
	MarkitdownImage string
	Logger          *slog.Logger
}

// Registry maps content kinds to backends.
type Registry struct {
	byKind map[types.ContentKind]Backend
}

// NewRegistry builds the default chains:
//
//	pdf:         pdf, docconv, markitdown
//	image:       image (gpu, then cpu ocr)
//	audio/video: ffprobe
//	epub:        epub, markitdown
//	geospatial:  gdal
//	unknown:     docconv, markitdown
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OCR == nil && opts.Tools != nil {
		opts.OCR = NewDefaultOCR(opts.Tools)
	}

	var md Backend
	if m, err := NewMarkitdown(opts.Runtime, opts.MarkitdownImage); err == nil {
		md = m
	} else {
		logger.Debug("markitdown backend disabled", "error", err)
	}

	media := &Media{Tools: opts.Tools}
	r := &Registry{byKind: map[types.ContentKind]Backend{
		types.KindPDF:        NewChain("pdf", logger, PDF{}, Docconv{}, md),
		types.KindImage:      NewChain("image", logger, &Image{GPU: opts.GPU, OCR: opts.OCR, Languages: opts.OCRLanguages}),
		types.KindAudio:      NewChain("audio", logger, media),
		types.KindVideo:      NewChain("video", logger, media),
		types.KindEPUB:       NewChain("epub", logger, EPUB{}, md),
		types.KindGeospatial: NewChain("geospatial", logger, &Geo{Tools: opts.Tools}),
		types.KindUnknown:    NewChain("unknown", logger, Docconv{Readability: true}, md),
	}}
	return r
}

// Set replaces the backend for kind.
func (r *Registry) Set(kind types.ContentKind, b Backend) { r.byKind[kind] = b }

// For returns the backend registered for kind.
func (r *Registry) For(kind types.ContentKind) (Backend, bool) {
	b, ok := r.byKind[kind]
	return b, ok
}

// Extract dispatches in to the backend for its kind.
func (r *Registry) Extract(ctx context.Context, in Input) (Extraction, error) {
	b, ok := r.byKind[in.Kind]
	if !ok {
		return Extraction{}, fmt.Errorf("%w: no backend for %s", ErrUnsupported, in.Kind)
	}
	return b.Extract(ctx, in)
}
