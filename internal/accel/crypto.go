// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package accel

import (
	"context"

	"github.com/pdiddy/docudactyl/internal/hashing"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// Detect returns the process-wide crypto capability snapshot.
func Detect() types.CryptoCapabilities { return hashing.Detect() }

// SHA256Tier reports which SHA-256 implementation is active.
func SHA256Tier() types.HashTier { return hashing.Tier() }

// BatchSHA256 hashes several files together, using as many lanes as the
// active tier supports. Results are in input order.
func BatchSHA256(ctx context.Context, paths []string) []hashing.BatchHash {
	return hashing.BatchSHA256(ctx, paths)
}
