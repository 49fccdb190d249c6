// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prefetch warms the OS page cache for documents that will be
// processed soon. The window is bounded: a hint that arrives while the
// window is full is dropped and counted, never queued. Every failure is
// advisory and only logged at debug level.
package prefetch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultWindow is used when the configured window is not positive.
const DefaultWindow = 16

// Stats is a snapshot of prefetch activity.
type Stats struct {
	Hinted   uint64 `json:"hinted" yaml:"hinted"`
	Dropped  uint64 `json:"dropped" yaml:"dropped"`
	Failed   uint64 `json:"failed" yaml:"failed"`
	Inflight uint32 `json:"inflight" yaml:"inflight"`
	Window   int    `json:"window" yaml:"window"`
}

type slot struct {
	f      *os.File
	cancel context.CancelFunc
}

// Prefetcher tracks the documents currently hinted.
type Prefetcher struct {
	window int
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool

	hinted, dropped, failed atomic.Uint64
}

// New creates a prefetcher with the given window size.
func New(window int, logger *slog.Logger) *Prefetcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{
		window: window,
		sem:    semaphore.NewWeighted(int64(window)),
		logger: logger.With("component", "prefetch"),
		slots:  make(map[string]*slot),
	}
}

// Hint starts read-ahead for path. It reports whether the hint took a
// window slot; a path already in flight counts as accepted.
func (p *Prefetcher) Hint(path string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.slots[path]; ok {
		return true
	}
	if !p.sem.TryAcquire(1) {
		p.dropped.Add(1)
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		p.sem.Release(1)
		p.failed.Add(1)
		p.logger.Debug("prefetch open failed", "path", path, "error", err)
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := advise(ctx, f); err != nil {
		p.failed.Add(1)
		p.logger.Debug("prefetch advise failed", "path", path, "error", err)
	}
	p.slots[path] = &slot{f: f, cancel: cancel}
	p.hinted.Add(1)
	return true
}

// Done releases the slot held for path. Unknown paths are ignored.
func (p *Prefetcher) Done(path string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	s, ok := p.slots[path]
	if ok {
		delete(p.slots, path)
	}
	p.mu.Unlock()
	if ok {
		p.release(path, s)
	}
}

func (p *Prefetcher) release(path string, s *slot) {
	s.cancel()
	if err := forget(s.f); err != nil {
		p.logger.Debug("prefetch release advise failed", "path", path, "error", err)
	}
	s.f.Close()
	p.sem.Release(1)
}

// Inflight reports the current window occupancy.
func (p *Prefetcher) Inflight() uint32 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(len(p.slots))
}

// Window returns the configured window size.
func (p *Prefetcher) Window() int {
	if p == nil {
		return 0
	}
	return p.window
}

// Stats returns a snapshot of the counters.
func (p *Prefetcher) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Hinted:   p.hinted.Load(),
		Dropped:  p.dropped.Load(),
		Failed:   p.failed.Load(),
		Inflight: p.Inflight(),
		Window:   p.window,
	}
}

// Close releases every slot. Later hints are rejected.
func (p *Prefetcher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	slots := p.slots
	p.slots = make(map[string]*slot)
	p.mu.Unlock()

	for path, s := range slots {
		p.release(path, s)
	}
}
