// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hashing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// sha256("hello\n")
const helloSum = "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func withProbe(t *testing.T, flags types.CryptoFlag) {
	t.Helper()
	orig := probe
	probe = func() types.CryptoFlag { return flags }
	ResetCapabilities()
	t.Cleanup(func() {
		probe = orig
		ResetCapabilities()
	})
}

func TestTierSelection(t *testing.T) {
	tests := []struct {
		name  string
		flags types.CryptoFlag
		want  types.HashTier
		lanes int
	}{
		{name: "sha extensions", flags: types.CryptoSHANI | types.CryptoAVX2, want: types.TierHardware},
		{name: "arm sha2", flags: types.CryptoARMSHA2 | types.CryptoNEON, want: types.TierHardware},
		{name: "avx512", flags: types.CryptoAVX512 | types.CryptoAVX2, want: types.TierMultiBuffer, lanes: 16},
		{name: "avx2", flags: types.CryptoAVX2, want: types.TierMultiBuffer, lanes: 8},
		{name: "none", flags: types.CryptoSSE42, want: types.TierSoftware, lanes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withProbe(t, tt.flags)
			c := Detect()
			assert.Equal(t, tt.want, c.Tier)
			assert.Equal(t, tt.flags, c.Flags)
			if tt.lanes > 0 {
				assert.Equal(t, tt.lanes, Lanes(c))
			}
		})
	}
}

func TestDetectProbesOnce(t *testing.T) {
	calls := 0
	orig := probe
	probe = func() types.CryptoFlag { calls++; return types.CryptoAVX2 }
	ResetCapabilities()
	t.Cleanup(func() { probe = orig; ResetCapabilities() })

	first := Detect()
	second := Detect()
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestFileSHA256(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello\n"), 0o644))

	got, err := FileSHA256(p)
	require.NoError(t, err)
	assert.Equal(t, helloSum, got)
	assert.Equal(t, helloSum, SumBytes([]byte("hello\n")))

	sum, n, err := Sum(strings.NewReader("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, helloSum, sum)
	assert.Equal(t, int64(6), n)

	_, err = FileSHA256(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestBatchSHA256(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := range 20 {
		p := filepath.Join(dir, fmt.Sprintf("f%02d", i))
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("doc %d", i)), 0o644))
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "missing"))

	for _, lanes := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("lanes=%d", lanes), func(t *testing.T) {
			got := batchSHA256(context.Background(), paths, lanes)
			require.Len(t, got, len(paths))
			for i, h := range got[:20] {
				assert.Equal(t, i, h.Index)
				assert.Equal(t, paths[i], h.Path)
				require.NoError(t, h.Err)
				assert.Equal(t, SumBytes([]byte(fmt.Sprintf("doc %d", i))), h.SHA256)
			}
			assert.Error(t, got[20].Err)
		})
	}
}

func TestBatchSHA256Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := batchSHA256(ctx, []string{"a", "b"}, 2)
	for _, h := range got {
		assert.ErrorIs(t, h.Err, context.Canceled)
	}
}
