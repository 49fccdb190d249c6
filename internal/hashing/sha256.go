// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/pdiddy/docudactyl/pkg/types"
)

const copyBufSize = 256 << 10

// Sum returns the hex SHA-256 of everything read from r.
func Sum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, copyBufSize))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumBytes returns the hex SHA-256 of b.
func SumBytes(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// FileSHA256 hashes the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sum, _, err := Sum(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// BatchHash is one entry of a BatchSHA256 result, in input order.
type BatchHash struct {
	Index  int    `json:"index" yaml:"index"`
	Path   string `json:"path" yaml:"path"`
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Err    error  `json:"-" yaml:"-"`
}

// Lanes is the number of files hashed concurrently for a tier. The
// multi-buffer tier interleaves 8 lanes with AVX2 and 16 with AVX-512.
func Lanes(c types.CryptoCapabilities) int {
	switch c.Tier {
	case types.TierHardware:
		return max(runtime.NumCPU(), 1)
	case types.TierMultiBuffer:
		if c.Has(types.CryptoAVX512) {
			return 16
		}
		return 8
	}
	return 1
}

// BatchSHA256 hashes paths together using the lane count of the detected
// tier. Per-path failures are reported in the entry, never as a batch error.
// Paths not started before ctx is cancelled carry ctx.Err().
func BatchSHA256(ctx context.Context, paths []string) []BatchHash {
	return batchSHA256(ctx, paths, Lanes(Detect()))
}

func batchSHA256(ctx context.Context, paths []string, lanes int) []BatchHash {
	p := pool.NewWithResults[BatchHash]().WithMaxGoroutines(max(lanes, 1))
	for i, path := range paths {
		p.Go(func() BatchHash {
			h := BatchHash{Index: i, Path: path}
			if err := ctx.Err(); err != nil {
				h.Err = err
				return h
			}
			h.SHA256, h.Err = FileSHA256(path)
			return h
		})
	}
	unordered := p.Wait()

	out := make([]BatchHash, len(paths))
	for _, h := range unordered {
		out[h.Index] = h
	}
	return out
}
