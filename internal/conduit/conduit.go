// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package conduit implements the pre-validation pass run before any
// format-specific decoder: one read of the file sniffs the content kind from
// its leading bytes, checks that it is readable and non-empty, and computes
// the content fingerprint used for cache lookup.
package conduit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/docudactyl/internal/hashing"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// headSize is the number of leading bytes handed to the sniffer.
const headSize = 3072

var (
	magicGPKG   = []byte("GPKG")
	magicSQLite = []byte("SQLite format 3\x00")
	magicFGB    = []byte("fgb")
)

var geoMIMEs = []string{
	"application/geo+json",
	"application/vnd.google-earth.kml+xml",
	"application/vnd.google-earth.kmz",
	"application/gml+xml",
	"application/vnd.shp",
	"application/vnd.shx",
}

// Process validates path and computes its fingerprint in a single pass.
// It never returns an error: every failure is a validation outcome.
func Process(path string) types.ConduitResult {
	res := types.ConduitResult{Path: path, Kind: types.KindUnknown}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.Validation = types.ValidationNotFound
		return res
	case err != nil, !info.Mode().IsRegular():
		// Directories, FIFOs, sockets and devices are never documents.
		res.Validation = types.ValidationUnreadable
		return res
	}
	res.FileSize = info.Size()
	res.ModTime = info.ModTime()
	if res.FileSize == 0 {
		res.Validation = types.ValidationEmpty
		return res
	}

	f, err := os.Open(path)
	if err != nil {
		res.Validation = types.ValidationUnreadable
		return res
	}
	defer f.Close()

	head := make([]byte, headSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		res.Validation = types.ValidationUnreadable
		return res
	}
	head = head[:n]
	res.Kind, res.MIMEType = Sniff(head)

	sum, total, err := hashing.Sum(io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		res.Validation = types.ValidationUnreadable
		return res
	}
	if total == 0 {
		res.Validation = types.ValidationEmpty
		return res
	}
	res.SHA256 = sum
	res.FileSize = total
	res.Validation = types.ValidationOK
	return res
}

// Sniff maps leading bytes onto a content kind and MIME type. The file
// extension is never consulted.
func Sniff(head []byte) (types.ContentKind, string) {
	if isGeoPackage(head) {
		return types.KindGeospatial, "application/geopackage+sqlite3"
	}
	if isFlatGeobuf(head) {
		return types.KindGeospatial, "application/flatgeobuf"
	}

	m := mimetype.Detect(head)
	mime := m.String()
	for _, g := range geoMIMEs {
		if m.Is(g) {
			return types.KindGeospatial, mime
		}
	}

	switch {
	case m.Is("application/pdf"):
		return types.KindPDF, mime
	case m.Is("application/epub+zip"):
		return types.KindEPUB, mime
	}
	for p := m; p != nil; p = p.Parent() {
		base, _, _ := strings.Cut(p.String(), "/")
		switch base {
		case "image":
			return types.KindImage, mime
		case "audio":
			return types.KindAudio, mime
		case "video":
			return types.KindVideo, mime
		}
	}
	return types.KindUnknown, mime
}

// isGeoPackage checks the SQLite header and the GPKG application id at
// offset 68.
func isGeoPackage(head []byte) bool {
	return len(head) >= 72 && bytes.HasPrefix(head, magicSQLite) && bytes.Equal(head[68:72], magicGPKG)
}

// isFlatGeobuf checks "fgb" + version byte + "fgb" + 0.
func isFlatGeobuf(head []byte) bool {
	return len(head) >= 8 && bytes.Equal(head[0:3], magicFGB) && bytes.Equal(head[4:7], magicFGB) && head[7] == 0
}

// BatchResult holds per-path outcomes in input order and the number of
// paths that passed validation.
type BatchResult struct {
	Results []types.ConduitResult
	Valid   int
}

// Invalid returns the number of paths that failed validation.
func (b BatchResult) Invalid() int { return len(b.Results) - b.Valid }

// ProcessBatch runs Process over paths with bounded parallelism. Paths not
// reached before ctx is cancelled are reported unreadable.
func ProcessBatch(ctx context.Context, paths []string, workers int) BatchResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := BatchResult{Results: make([]types.ConduitResult, len(paths))}
	var valid atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				out.Results[i] = types.ConduitResult{Path: p, Kind: types.KindUnknown, Validation: types.ValidationUnreadable}
				return nil
			}
			r := Process(p)
			out.Results[i] = r
			if r.Valid() {
				valid.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	out.Valid = int(valid.Load())
	return out
}
