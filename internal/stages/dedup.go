// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stages

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/pdiddy/docudactyl/internal/cache/l1"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// DefaultNearDistance is the largest simhash Hamming distance reported as
// a near duplicate.
const DefaultNearDistance = 3

const shingleWords = 3

// ExactDedupResult lists earlier paths with the same content fingerprint.
type ExactDedupResult struct {
	SHA256     string   `json:"sha256" yaml:"sha256"`
	Duplicates []string `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
}

// NearDedupResult is the document's simhash and its near neighbours.
type NearDedupResult struct {
	Simhash string         `json:"simhash" yaml:"simhash"`
	Matches []l1.NearMatch `json:"matches,omitempty" yaml:"matches,omitempty"`
}

// Simhash computes a 64-bit simhash over overlapping word shingles. Texts
// shorter than one shingle hash as a single shingle.
func Simhash(text string) uint64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}
	var weights [64]int
	add := func(shingle string) {
		sum := blake2b.Sum256([]byte(shingle))
		h := binary.LittleEndian.Uint64(sum[:8])
		for i := range 64 {
			if h&(1<<i) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}
	if len(words) < shingleWords {
		add(strings.Join(words, " "))
	} else {
		for i := 0; i+shingleWords <= len(words); i++ {
			add(strings.Join(words[i:i+shingleWords], " "))
		}
	}
	var out uint64
	for i, w := range weights {
		if w > 0 {
			out |= 1 << i
		}
	}
	return out
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int { return bits.OnesCount64(a ^ b) }

func exactDedupStage(ctx context.Context, r *run, bit types.StageFlags) {
	idx := r.o.opts.Dedup
	if idx == nil {
		r.res.skip(bit, "no dedup index", false)
		return
	}
	sha := r.in.Conduit.SHA256
	if sha == "" {
		r.res.skip(bit, "no fingerprint", false)
		return
	}
	dups, err := idx.RegisterFingerprint(ctx, sha, r.in.Conduit.Path)
	if err != nil {
		r.res.skip(bit, err.Error(), false)
		return
	}
	r.res.ExactDedup = &ExactDedupResult{SHA256: sha, Duplicates: dups}
	r.res.done(bit)
}

func nearDedupStage(ctx context.Context, r *run, bit types.StageFlags) {
	idx := r.o.opts.Dedup
	if idx == nil {
		r.res.skip(bit, "no dedup index", false)
		return
	}
	text, reason, final := r.text(ctx)
	if reason != "" {
		r.res.skip(bit, reason, final)
		return
	}
	h := Simhash(text)
	matches, err := idx.RegisterSimhash(ctx, r.in.Conduit.Path, h, r.o.opts.NearDedupDistance)
	if err != nil {
		r.res.skip(bit, err.Error(), false)
		return
	}
	r.res.NearDedup = &NearDedupResult{Simhash: fmt.Sprintf("%016x", h), Matches: matches}
	r.res.done(bit)
}
