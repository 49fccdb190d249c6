// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gpu batches OCR work for a hardware decoder. Callers submit
// items, one Flush processes everything queued as a single batch, and each
// item's result is collected exactly once by its slot id.
//
// Slot life cycle: queued -> processing (during Flush) -> completed. A slot
// is destroyed by Collect or Abandon. The queue holds at most MaxBatch
// items; Submit on a full queue fails with ErrQueueFull instead of growing.
//
// A batch belongs to every submitter in it, so it runs on a context
// detached from the flushing caller's cancellation. A caller that gives up
// abandons only its own slot; the other items in the batch still complete.
package gpu

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// DefaultMaxBatch is used when the configured batch size is not positive.
const DefaultMaxBatch = 64

var (
	ErrQueueFull        = errors.New("gpu queue full")
	ErrUnknownSlot      = errors.New("unknown gpu slot")
	ErrNotReady         = errors.New("gpu slot not ready")
	ErrAlreadyCollected = errors.New("gpu slot already collected")
	ErrClosed           = errors.New("gpu coprocessor closed")
)

// SlotID identifies one submitted item. Ids start at 1 and are never reused.
type SlotID uint64

// Item is one unit of OCR work.
type Item struct {
	ID     SlotID
	Input  string
	Output string
}

type slotState int

const (
	slotQueued slotState = iota
	slotProcessing
	slotCompleted
)

type slot struct {
	item   Item
	state  slotState
	result types.OcrResult
}

// Stats is a cumulative snapshot.
type Stats struct {
	Backend      string  `json:"backend" yaml:"backend"`
	Submitted    uint64  `json:"submitted" yaml:"submitted"`
	Completed    uint64  `json:"completed" yaml:"completed"`
	Abandoned    uint64  `json:"abandoned" yaml:"abandoned"`
	Batches      uint64  `json:"batches" yaml:"batches"`
	TotalTimeMS  float64 `json:"total_time_ms" yaml:"total_time_ms"`
	Queued       int     `json:"queued" yaml:"queued"`
	ResultsReady int     `json:"results_ready" yaml:"results_ready"`
}

// Coprocessor owns the queue and the slots between submit and collect.
type Coprocessor struct {
	backend  Backend
	maxBatch int
	logger   *slog.Logger

	flushMu sync.Mutex

	mu     sync.Mutex
	nextID SlotID
	queue  []SlotID
	slots  map[SlotID]*slot
	ready  int
	closed bool
	stats  Stats
}

// New creates a coprocessor over backend.
func New(backend Backend, maxBatch int, logger *slog.Logger) *Coprocessor {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coprocessor{
		backend:  backend,
		maxBatch: maxBatch,
		logger:   logger.With("component", "gpu", "backend", backend.Name()),
		nextID:   1,
		slots:    make(map[SlotID]*slot),
		stats:    Stats{Backend: backend.Name()},
	}
}

// MaxBatch returns the queue capacity.
func (c *Coprocessor) MaxBatch() int { return c.maxBatch }

// Backend returns the name of the selected backend.
func (c *Coprocessor) Backend() string { return c.backend.Name() }

// Submit queues one item. It fails with ErrQueueFull when MaxBatch items
// are already queued; the caller should Flush and retry.
func (c *Coprocessor) Submit(input, output string) (SlotID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if len(c.queue) >= c.maxBatch {
		return 0, ErrQueueFull
	}
	id := c.nextID
	c.nextID++
	c.slots[id] = &slot{item: Item{ID: id, Input: input, Output: output}}
	c.queue = append(c.queue, id)
	c.stats.Submitted++
	return id, nil
}

// Flush processes every queued item as one batch and returns once all of
// them have a terminal result. Concurrent flushes run one at a time. A ctx
// that is already done stops the flush before it takes the queue; once the
// batch has started it runs to completion.
func (c *Coprocessor) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	ids := c.queue
	c.queue = nil
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		s := c.slots[id]
		s.state = slotProcessing
		items = append(items, s.item)
	}
	c.mu.Unlock()

	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	results := c.backend.Process(context.WithoutCancel(ctx), items)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, it := range items {
		s, ok := c.slots[it.ID]
		if !ok {
			// Abandoned while processing.
			continue
		}
		r := types.OcrResult{Status: types.OcrError}
		if i < len(results) {
			r = results[i]
		}
		s.state = slotCompleted
		s.result = r
		c.ready++
		c.stats.Completed++
	}
	c.stats.Batches++
	c.stats.TotalTimeMS += float64(elapsed.Microseconds()) / 1000
	c.logger.Debug("batch flushed", "items", len(items), "elapsed", elapsed)
	return nil
}

// ResultsReady reports how many completed slots await collection.
func (c *Coprocessor) ResultsReady() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Collect returns the result of a completed slot and destroys the slot.
func (c *Coprocessor) Collect(id SlotID) (types.OcrResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		if id > 0 && id < c.nextID {
			return types.OcrResult{}, ErrAlreadyCollected
		}
		return types.OcrResult{}, ErrUnknownSlot
	}
	if s.state != slotCompleted {
		return types.OcrResult{}, ErrNotReady
	}
	delete(c.slots, id)
	c.ready--
	return s.result, nil
}

// Abandon reclaims a slot in any state. It is the cancellation path: a
// queued item leaves the queue, a processing item's result is discarded.
func (c *Coprocessor) Abandon(id SlotID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		return
	}
	switch s.state {
	case slotQueued:
		for i, q := range c.queue {
			if q == id {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
	case slotCompleted:
		c.ready--
	}
	delete(c.slots, id)
	c.stats.Abandoned++
}

// Recognize runs one item through the queue: submit, flush, collect. A
// full queue is flushed once before retrying. If ctx ends first the slot
// is abandoned and the batch carries on without it.
func (c *Coprocessor) Recognize(ctx context.Context, input, output string) (types.OcrResult, error) {
	id, err := c.Submit(input, output)
	if errors.Is(err, ErrQueueFull) {
		if err := c.awaitFlush(ctx); err != nil {
			return types.OcrResult{}, err
		}
		id, err = c.Submit(input, output)
	}
	if err != nil {
		return types.OcrResult{}, err
	}

	if err := c.awaitFlush(ctx); err != nil {
		c.Abandon(id)
		return types.OcrResult{}, err
	}
	r, err := c.Collect(id)
	if err != nil {
		c.Abandon(id)
		return types.OcrResult{}, err
	}
	return r, nil
}

// awaitFlush runs Flush in the background and waits for it or for ctx,
// whichever ends first.
func (c *Coprocessor) awaitFlush(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.Flush(context.WithoutCancel(ctx)) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a cumulative snapshot.
func (c *Coprocessor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Queued = len(c.queue)
	st.ResultsReady = c.ready
	return st
}

// Close rejects further submissions. Queued items stay collectable after a
// final Flush.
func (c *Coprocessor) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
