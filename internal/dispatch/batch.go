// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/docudactyl/internal/stages"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// BatchItem is the outcome of one request in a batch.
type BatchItem struct {
	Request Request
	Result  types.ParseResult
	Stages  *stages.Results
	Source  string
}

// Cached reports whether the result came from either cache tier.
func (b BatchItem) Cached() bool { return b.Source == "l1" || b.Source == "l2" }

// BatchResult holds the outcome of a batch parse run.
type BatchResult struct {
	Items  []BatchItem
	Parsed int
	Cached int
	Failed int
}

// Total returns the total number of documents processed.
func (r BatchResult) Total() int {
	return r.Parsed + r.Cached + r.Failed
}

// HasFailures returns true if any document failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ParseBatch parses reqs with the configured worker count, hinting the
// prefetcher ahead of the workers. One line per document and a summary are
// written to w. Items keep input order. The error is non-nil only when the
// L1 store became corrupt, which stops the batch.
func (e *Engine) ParseBatch(ctx context.Context, reqs []Request, w io.Writer) (BatchResult, error) {
	if w == nil {
		w = io.Discard
	}
	out := BatchResult{Items: make([]BatchItem, len(reqs))}
	if !e.usable() {
		return out, ErrClosed
	}

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	window := e.prefetch.Window()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	next, started := 0, 0
	for i, req := range reqs {
		for ; next < len(reqs) && next <= i+window; next++ {
			e.prefetch.Hint(reqs[next].Input)
		}
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			r, res, source, err := e.parse(gctx, req)
			item := BatchItem{Request: req, Result: r, Stages: res, Source: source}

			mu.Lock()
			defer mu.Unlock()
			out.Items[i] = item
			name := filepath.Base(req.Input)
			switch {
			case !r.OK():
				out.Failed++
				fmt.Fprintf(w, "failed:  %s (%s: %s)\n", name, r.Status, r.ErrorMsg)
			case item.Cached():
				out.Cached++
				fmt.Fprintf(w, "cached:  %s (%s)\n", name, source)
			default:
				out.Parsed++
				fmt.Fprintf(w, "parsed:  %s (%s, %d words)\n", name, r.Kind, r.WordCount)
			}
			return err
		})
	}
	err := g.Wait()

	for _, req := range reqs[:next] {
		e.prefetch.Done(req.Input)
	}
	for i := started; i < len(reqs); i++ {
		out.Items[i] = BatchItem{
			Request: reqs[i],
			Result:  types.Failed(types.StatusError, types.KindUnknown, "batch stopped before %s", reqs[i].Input),
		}
		out.Failed++
	}

	fmt.Fprintf(w, "\nBatch summary: %d parsed, %d cached, %d failed (total: %d)\n",
		out.Parsed, out.Cached, out.Failed, out.Total())
	return out, err
}
