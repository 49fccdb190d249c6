// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package l1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/docudactyl/internal/abi"
	"github.com/pdiddy/docudactyl/pkg/types"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(types.CacheConfig{Dir: dir, MaxSizeMB: 64}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func result(title string) types.ParseResult {
	return types.ParseResult{
		Status:      types.StatusOK,
		Kind:        types.KindPDF,
		PageCount:   3,
		WordCount:   900,
		CharCount:   5400,
		ParseTimeMS: 41.5,
		SHA256:      strings.Repeat("c3", 32),
		Title:       title,
		Author:      "A. Writer",
		MIMEType:    "application/pdf",
	}
}

func TestStoreLookupRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := Key{Path: "/d/a.pdf", ModTime: 100, Size: 2048}

	_, ok, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := result("Report")
	require.NoError(t, s.Store(ctx, key, want))

	got, ok, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, abi.EncodeParseResult(want), abi.EncodeParseResult(got))
}

func TestLookupStaleness(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := Key{Path: "/d/a.pdf", ModTime: 100, Size: 2048}
	require.NoError(t, s.Store(ctx, key, result("v1")))

	tests := []struct {
		name string
		key  Key
	}{
		{name: "newer mtime", key: Key{Path: key.Path, ModTime: 101, Size: 2048}},
		{name: "different size", key: Key{Path: key.Path, ModTime: 100, Size: 2049}},
		{name: "other path", key: Key{Path: "/d/b.pdf", ModTime: 100, Size: 2048}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := s.Lookup(ctx, tt.key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreReplacesOldStateOfPath(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	old := Key{Path: "/d/a.pdf", ModTime: 100, Size: 2048}
	cur := Key{Path: "/d/a.pdf", ModTime: 200, Size: 4096}

	require.NoError(t, s.Store(ctx, old, result("v1")))
	require.NoError(t, s.Store(ctx, cur, result("v2")))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	_, ok, err := s.Lookup(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok)
	got, ok, err := s.Lookup(ctx, cur)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Title)
}

func TestStoreStages(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := Key{Path: "/d/a.pdf", ModTime: 1, Size: 10}

	// No entry yet: no-op.
	require.NoError(t, s.StoreStages(ctx, key, types.StagesFast, []byte("x")))
	n, _ := s.Count(ctx)
	assert.Zero(t, n)

	require.NoError(t, s.Store(ctx, key, result("r")))
	require.NoError(t, s.StoreStages(ctx, key, types.StagesAnalysis, []byte("blob")))

	e, ok, err := s.LookupEntry(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.StagesAnalysis, e.StageMask)
	assert.Equal(t, []byte("blob"), e.Stages)

	// Re-storing the same key keeps the stage side-channel.
	require.NoError(t, s.Store(ctx, key, result("r2")))
	e, _, _ = s.LookupEntry(ctx, key)
	assert.Equal(t, types.StagesAnalysis, e.StageMask)
	assert.Equal(t, "r2", e.Result.Title)
}

func TestEvictionOldestStoredFirst(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	per := entryBytes(Key{Path: "/d/0.pdf"}, make([]byte, abi.ParseResultSize), nil)
	s.maxBytes = 3 * per

	for i := range 5 {
		key := Key{Path: fmt.Sprintf("/d/%d.pdf", i), ModTime: int64(i), Size: 1}
		require.NoError(t, s.Store(ctx, key, result(fmt.Sprint(i))))
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	for i := range 5 {
		key := Key{Path: fmt.Sprintf("/d/%d.pdf", i), ModTime: int64(i), Size: 1}
		_, ok, err := s.Lookup(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, i >= 2, ok, "entry %d", i)
	}

	size, err := s.SizeBytes(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, s.maxBytes)
}

func TestRestoreRefreshesEvictionOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	per := entryBytes(Key{Path: "/d/0.pdf"}, make([]byte, abi.ParseResultSize), nil)
	s.maxBytes = 2 * per

	k0 := Key{Path: "/d/0.pdf", ModTime: 1, Size: 1}
	k1 := Key{Path: "/d/1.pdf", ModTime: 1, Size: 1}
	k2 := Key{Path: "/d/2.pdf", ModTime: 1, Size: 1}
	require.NoError(t, s.Store(ctx, k0, result("0")))
	require.NoError(t, s.Store(ctx, k1, result("1")))
	require.NoError(t, s.Store(ctx, k0, result("0b")))
	require.NoError(t, s.Store(ctx, k2, result("2")))

	_, ok, _ := s.Lookup(ctx, k1)
	assert.False(t, ok, "k1 is now the oldest store")
	_, ok, _ = s.Lookup(ctx, k0)
	assert.True(t, ok)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	key := Key{Path: "/d/shared.pdf", ModTime: 7, Size: 7}
	require.NoError(t, s.Store(ctx, key, result("seed")))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				k := Key{Path: fmt.Sprintf("/d/w%d-%d.pdf", w, i), ModTime: 1, Size: 1}
				if err := s.Store(ctx, k, result("w")); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				got, ok, err := s.Lookup(ctx, key)
				if err != nil {
					errs <- err
					return
				}
				if !ok || got.Title != "seed" {
					errs <- fmt.Errorf("reader saw ok=%v title=%q", ok, got.Title)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), n)
}

func TestCancelledStoreLeavesNothing(t *testing.T) {
	s, _ := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Store(ctx, Key{Path: "/d/x.pdf", ModTime: 1, Size: 1}, result("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorrupt)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncAndReopen(t *testing.T) {
	s, dir := openTestStore(t)
	ctx := context.Background()
	key := Key{Path: "/d/a.pdf", ModTime: 5, Size: 5}
	require.NoError(t, s.Store(ctx, key, result("durable")))
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Close())

	reopened, err := Open(types.CacheConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "durable", got.Title)
}

func TestCloseIdempotent(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	var nilStore *Store
	assert.NoError(t, nilStore.Close())

	assert.ErrorIs(t, s.Store(context.Background(), Key{Path: "p"}, result("x")), ErrClosed)
	assert.ErrorIs(t, s.Sync(context.Background()), ErrClosed)
}

func TestOpenCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	garbage := bytes.Repeat([]byte("this is not a sqlite database. "), 256)
	require.NoError(t, os.WriteFile(filepath.Join(dir, dbFile), garbage, 0o644))

	_, err := Open(types.CacheConfig{Dir: dir}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, Destroy(dir))
	s, err := Open(types.CacheConfig{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRegisterFingerprint(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	dups, err := s.RegisterFingerprint(ctx, "aaa", "/d/one.pdf")
	require.NoError(t, err)
	assert.Empty(t, dups)

	dups, err = s.RegisterFingerprint(ctx, "aaa", "/d/two.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/one.pdf"}, dups)

	dups, err = s.RegisterFingerprint(ctx, "aaa", "/d/one.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/two.pdf"}, dups)

	dups, err = s.RegisterFingerprint(ctx, "bbb", "/d/three.pdf")
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestRegisterFingerprintForgetsOldContent(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterFingerprint(ctx, "xxx", "/d/a.pdf")
	require.NoError(t, err)
	_, err = s.RegisterFingerprint(ctx, "yyy", "/d/a.pdf")
	require.NoError(t, err)

	dups, err := s.RegisterFingerprint(ctx, "xxx", "/d/b.pdf")
	require.NoError(t, err)
	assert.Empty(t, dups)
	dups, err = s.RegisterFingerprint(ctx, "yyy", "/d/c.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/a.pdf"}, dups)
}

func withSHA(title, sha string) types.ParseResult {
	r := result(title)
	r.SHA256 = sha
	return r
}

func TestStoreDropsDedupOfChangedContent(t *testing.T) {
	const hash = 0xFFFF_0000_FFFF_0000
	shaX, shaY := strings.Repeat("a1", 32), strings.Repeat("b2", 32)

	tests := []struct {
		name    string
		newSHA  string
		forgets bool
	}{
		{"content changed", shaY, true},
		{"only touched", shaX, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := openTestStore(t)
			ctx := context.Background()
			require.NoError(t, s.Store(ctx, Key{Path: "/d/a.pdf", ModTime: 100, Size: 2048}, withSHA("v1", shaX)))
			_, err := s.RegisterFingerprint(ctx, shaX, "/d/a.pdf")
			require.NoError(t, err)
			_, err = s.RegisterSimhash(ctx, "/d/a.pdf", hash, 3)
			require.NoError(t, err)

			require.NoError(t, s.Store(ctx, Key{Path: "/d/a.pdf", ModTime: 200, Size: 2048}, withSHA("v2", tt.newSHA)))

			dups, err := s.RegisterFingerprint(ctx, shaX, "/d/b.pdf")
			require.NoError(t, err)
			near, err := s.RegisterSimhash(ctx, "/d/b.pdf", hash, 3)
			require.NoError(t, err)
			if tt.forgets {
				assert.Empty(t, dups)
				assert.Empty(t, near)
			} else {
				assert.Equal(t, []string{"/d/a.pdf"}, dups)
				assert.Equal(t, []NearMatch{{Path: "/d/a.pdf", Distance: 0}}, near)
			}
		})
	}
}

func TestEvictionDropsDedupRegistrations(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	per := entryBytes(Key{Path: "/d/0.pdf"}, make([]byte, abi.ParseResultSize), nil)
	s.maxBytes = 2 * per

	for i := range 2 {
		path := fmt.Sprintf("/d/%d.pdf", i)
		sha := strings.Repeat(fmt.Sprintf("%02x", i), 32)
		require.NoError(t, s.Store(ctx, Key{Path: path, ModTime: 1, Size: 1}, withSHA(path, sha)))
		_, err := s.RegisterFingerprint(ctx, sha, path)
		require.NoError(t, err)
	}
	// Evicts /d/0.pdf.
	require.NoError(t, s.Store(ctx, Key{Path: "/d/2.pdf", ModTime: 1, Size: 1}, withSHA("2", strings.Repeat("02", 32))))

	dups, err := s.RegisterFingerprint(ctx, strings.Repeat("00", 32), "/d/copy0.pdf")
	require.NoError(t, err)
	assert.Empty(t, dups)
	dups, err = s.RegisterFingerprint(ctx, strings.Repeat("01", 32), "/d/copy1.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/1.pdf"}, dups)
}

func TestRegisterSimhash(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterSimhash(ctx, "/d/a", 0xFFFF_0000_FFFF_0000, 3)
	require.NoError(t, err)
	_, err = s.RegisterSimhash(ctx, "/d/far", 0x0000_FFFF_0000_FFFF, 3)
	require.NoError(t, err)
	_, err = s.RegisterSimhash(ctx, "/d/b", 0xFFFF_0000_FFFF_0003, 3)
	require.NoError(t, err)

	got, err := s.RegisterSimhash(ctx, "/d/c", 0xFFFF_0000_FFFF_0001, 3)
	require.NoError(t, err)
	assert.Equal(t, []NearMatch{{Path: "/d/a", Distance: 1}, {Path: "/d/b", Distance: 1}}, got)
}

func TestExport(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, Key{Path: "/d/a.pdf", ModTime: 1, Size: 2}, result("A")))
	require.NoError(t, s.Store(ctx, Key{Path: "/d/b.pdf", ModTime: 3, Size: 4}, result("B")))
	require.NoError(t, s.StoreStages(ctx, Key{Path: "/d/b.pdf", ModTime: 3, Size: 4}, types.StageKeywords|types.StageTOC, []byte{1}))

	var jbuf bytes.Buffer
	require.NoError(t, s.ExportJSON(ctx, &jbuf))
	var fromJSON []ExportEntry
	require.NoError(t, json.Unmarshal(jbuf.Bytes(), &fromJSON))
	require.Len(t, fromJSON, 2)
	assert.Equal(t, "/d/a.pdf", fromJSON[0].Path)
	assert.Equal(t, "ok", fromJSON[0].Status)
	assert.Equal(t, "pdf", fromJSON[0].Kind)
	assert.Equal(t, []string{"keywords", "toc"}, fromJSON[1].Stages)

	var ybuf bytes.Buffer
	require.NoError(t, s.ExportYAML(ctx, &ybuf))
	var fromYAML []ExportEntry
	require.NoError(t, yaml.Unmarshal(ybuf.Bytes(), &fromYAML))
	require.Len(t, fromYAML, 2)
	assert.Equal(t, "B", fromYAML[1].Title)
}
