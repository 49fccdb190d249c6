// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package prefetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("doc%d.bin", i))
		require.NoError(t, os.WriteFile(paths[i], []byte("content"), 0o644))
	}
	return paths
}

func TestWindowBoundsAndDrops(t *testing.T) {
	paths := makeFiles(t, 5)
	p := New(3, nil)
	defer p.Close()

	for _, path := range paths[:3] {
		assert.True(t, p.Hint(path))
	}
	assert.Equal(t, uint32(3), p.Inflight())

	assert.False(t, p.Hint(paths[3]), "window full: dropped")
	assert.Equal(t, uint32(3), p.Inflight())

	p.Done(paths[0])
	assert.Equal(t, uint32(2), p.Inflight())
	assert.True(t, p.Hint(paths[3]))

	st := p.Stats()
	assert.Equal(t, uint64(4), st.Hinted)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 3, st.Window)
}

func TestDuplicateHintHoldsOneSlot(t *testing.T) {
	paths := makeFiles(t, 1)
	p := New(2, nil)
	defer p.Close()

	assert.True(t, p.Hint(paths[0]))
	assert.True(t, p.Hint(paths[0]))
	assert.Equal(t, uint32(1), p.Inflight())
}

func TestFailuresAreSilent(t *testing.T) {
	p := New(2, nil)
	defer p.Close()

	assert.False(t, p.Hint("/definitely/not/here"))
	assert.Equal(t, uint32(0), p.Inflight())
	assert.Equal(t, uint64(1), p.Stats().Failed)

	p.Done("/never/hinted")
	assert.Equal(t, uint32(0), p.Inflight())
}

func TestCloseReleasesEverything(t *testing.T) {
	paths := makeFiles(t, 4)
	p := New(4, nil)
	for _, path := range paths {
		p.Hint(path)
	}
	p.Close()
	assert.Equal(t, uint32(0), p.Inflight())
	assert.False(t, p.Hint(paths[0]))
	p.Close()

	var nilP *Prefetcher
	assert.False(t, nilP.Hint(paths[0]))
	nilP.Done(paths[0])
	nilP.Close()
	assert.Zero(t, nilP.Inflight())
}

func TestConcurrentHintDone(t *testing.T) {
	paths := makeFiles(t, 32)
	p := New(8, nil)
	defer p.Close()

	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Hint(path) {
				assert.LessOrEqual(t, p.Inflight(), uint32(8))
				p.Done(path)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint32(0), p.Inflight())
	st := p.Stats()
	assert.Equal(t, uint64(32), st.Hinted+st.Dropped)
}
