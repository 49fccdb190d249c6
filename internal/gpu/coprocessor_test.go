// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// echoBackend succeeds every item and records batch sizes.
type echoBackend struct {
	mu      sync.Mutex
	batches []int
	ctxErrs []error
	block   chan struct{}
}

func (e *echoBackend) Name() string { return "echo" }

func (e *echoBackend) Process(ctx context.Context, items []Item) []types.OcrResult {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	e.batches = append(e.batches, len(items))
	e.ctxErrs = append(e.ctxErrs, ctx.Err())
	e.mu.Unlock()
	out := make([]types.OcrResult, len(items))
	for i, it := range items {
		out[i] = types.OcrResult{Status: types.OcrSuccess, CharCount: int64(len(it.Input))}
	}
	return out
}

func TestSubmitFlushCollect(t *testing.T) {
	c := New(&echoBackend{}, 4, nil)

	a, err := c.Submit("/in/a.png", "/out/a.txt")
	require.NoError(t, err)
	b, err := c.Submit("/in/bb.png", "/out/b.txt")
	require.NoError(t, err)
	assert.Equal(t, SlotID(1), a)
	assert.Equal(t, SlotID(2), b)

	_, err = c.Collect(a)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 2, c.ResultsReady())

	r, err := c.Collect(b)
	require.NoError(t, err)
	assert.Equal(t, types.OcrSuccess, r.Status)
	assert.Equal(t, int64(len("/in/bb.png")), r.CharCount)
	assert.Equal(t, 1, c.ResultsReady())

	_, err = c.Collect(b)
	assert.ErrorIs(t, err, ErrAlreadyCollected)
	_, err = c.Collect(99)
	assert.ErrorIs(t, err, ErrUnknownSlot)
	_, err = c.Collect(0)
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestQueueFull(t *testing.T) {
	be := &echoBackend{}
	c := New(be, 2, nil)
	for i := 0; i < 2; i++ {
		_, err := c.Submit(fmt.Sprintf("%d.png", i), "")
		require.NoError(t, err)
	}
	_, err := c.Submit("x.png", "")
	assert.ErrorIs(t, err, ErrQueueFull)

	require.NoError(t, c.Flush(context.Background()))
	_, err = c.Submit("x.png", "")
	assert.NoError(t, err)
	assert.Equal(t, []int{2}, be.batches)
}

func TestEmptyFlushIsNoop(t *testing.T) {
	be := &echoBackend{}
	c := New(be, 0, nil)
	assert.Equal(t, DefaultMaxBatch, c.MaxBatch())
	require.NoError(t, c.Flush(context.Background()))
	assert.Empty(t, be.batches)
	assert.Zero(t, c.Stats().Batches)
}

func TestAbandon(t *testing.T) {
	c := New(&echoBackend{}, 4, nil)
	queued, _ := c.Submit("a.png", "")
	done, _ := c.Submit("b.png", "")

	c.Abandon(queued)
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, c.ResultsReady())

	c.Abandon(done)
	assert.Equal(t, 0, c.ResultsReady())
	_, err := c.Collect(done)
	assert.ErrorIs(t, err, ErrAlreadyCollected)

	st := c.Stats()
	assert.Equal(t, uint64(2), st.Abandoned)
	assert.Equal(t, uint64(1), st.Completed)
	c.Abandon(12345)
}

func TestAbandonDuringProcessing(t *testing.T) {
	be := &echoBackend{block: make(chan struct{})}
	c := New(be, 4, nil)
	id, _ := c.Submit("a.png", "")

	done := make(chan error)
	go func() { done <- c.Flush(context.Background()) }()

	// Wait until the slot has left the queue.
	for c.Stats().Queued != 0 {
	}
	c.Abandon(id)
	close(be.block)
	require.NoError(t, <-done)
	assert.Equal(t, 0, c.ResultsReady())
}

func TestCancelledCallerLeavesBatchRunning(t *testing.T) {
	be := &echoBackend{block: make(chan struct{})}
	c := New(be, 4, nil)
	other, err := c.Submit("b.png", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Recognize(ctx, "a.png", "")
		done <- err
	}()

	// Wait until both items are in the running batch.
	for st := c.Stats(); st.Submitted != 2 || st.Queued != 0; st = c.Stats() {
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(be.block)
	require.NoError(t, c.Flush(context.Background()))
	r, err := c.Collect(other)
	require.NoError(t, err)
	assert.Equal(t, types.OcrSuccess, r.Status)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Abandoned)
	assert.Equal(t, 0, st.ResultsReady)
	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, []int{2}, be.batches)
	assert.Equal(t, []error{nil}, be.ctxErrs)
}

func TestFlushWithDoneContextKeepsQueue(t *testing.T) {
	be := &echoBackend{}
	c := New(be, 4, nil)
	_, err := c.Submit("a.png", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Flush(ctx), context.Canceled)
	assert.Equal(t, 1, c.Stats().Queued)
	assert.Empty(t, be.batches)
}

func TestShortBackendResultsBecomeErrors(t *testing.T) {
	c := New(shortBackend{}, 4, nil)
	a, _ := c.Submit("a.png", "")
	b, _ := c.Submit("b.png", "")
	require.NoError(t, c.Flush(context.Background()))

	ra, err := c.Collect(a)
	require.NoError(t, err)
	assert.Equal(t, types.OcrSuccess, ra.Status)
	rb, err := c.Collect(b)
	require.NoError(t, err)
	assert.Equal(t, types.OcrError, rb.Status)
}

type shortBackend struct{}

func (shortBackend) Name() string { return "short" }
func (shortBackend) Process(context.Context, []Item) []types.OcrResult {
	return []types.OcrResult{{Status: types.OcrSuccess}}
}

func TestConcurrentRecognize(t *testing.T) {
	c := New(&echoBackend{}, 3, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Recognize(context.Background(), fmt.Sprintf("p%d.png", i), "")
			if err == nil && r.Status != types.OcrSuccess {
				err = errors.New("unexpected status " + r.Status.String())
			}
			if err != nil && !errors.Is(err, ErrQueueFull) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	st := c.Stats()
	assert.Zero(t, st.Queued)
	assert.Zero(t, st.ResultsReady)
	assert.Equal(t, st.Submitted, st.Completed+st.Abandoned)
}

func TestClose(t *testing.T) {
	c := New(CPUOnly(), 2, nil)
	id, _ := c.Submit("a.png", "")
	c.Close()
	_, err := c.Submit("b.png", "")
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, c.Flush(context.Background()))
	r, err := c.Collect(id)
	require.NoError(t, err)
	assert.Equal(t, types.OcrGPUError, r.Status)

	var nilC *Coprocessor
	nilC.Close()
}

// fakeRuntime answers ImageExists from a set and Run with a canned reply.
type fakeRuntime struct {
	images map[string]bool
	reply  string
	runErr error
	opts   container.RunOptions
	stdin  string
}

func (f *fakeRuntime) Name() string    { return "fake" }
func (f *fakeRuntime) Available() bool { return true }
func (f *fakeRuntime) ImageExists(image string) error {
	if f.images[image] {
		return nil
	}
	return errors.New("no image " + image)
}
func (f *fakeRuntime) Run(_ context.Context, _ string, opts container.RunOptions, stdin io.Reader, stdout io.Writer) error {
	f.opts = opts
	data, _ := io.ReadAll(stdin)
	f.stdin = string(data)
	if f.runErr != nil {
		return f.runErr
	}
	_, err := io.WriteString(stdout, f.reply)
	return err
}

func TestSelectBackend(t *testing.T) {
	cfg := types.GPUConfig{PreferredImage: "ocr-nvjpeg", SecondaryImage: "ocr-dali"}
	tests := []struct {
		name    string
		cfg     types.GPUConfig
		images  map[string]bool
		present bool
		want    string
	}{
		{name: "preferred", cfg: cfg, images: map[string]bool{"ocr-nvjpeg": true, "ocr-dali": true}, present: true, want: "ocr-nvjpeg"},
		{name: "secondary", cfg: cfg, images: map[string]bool{"ocr-dali": true}, present: true, want: "ocr-dali"},
		{name: "no images", cfg: cfg, present: true, want: "cpu"},
		{name: "no device", cfg: cfg, images: map[string]bool{"ocr-nvjpeg": true}, want: "cpu"},
		{name: "disabled", cfg: types.GPUConfig{Disabled: true, PreferredImage: "ocr-nvjpeg"}, images: map[string]bool{"ocr-nvjpeg": true}, present: true, want: "cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := SelectBackend(tt.cfg, &fakeRuntime{images: tt.images}, tt.present, nil)
			assert.Equal(t, tt.want, b.Name())
		})
	}
	assert.Equal(t, "cpu", SelectBackend(cfg, nil, true, nil).Name())
}

func TestImageBackend(t *testing.T) {
	rt := &fakeRuntime{reply: strings.Join([]string{
		`{"status":"success","confidence":0.9,"char_count":12,"word_count":2,"text_len":12}`,
		`not json`,
	}, "\n")}
	b := NewImageBackend(rt, "ocr", true)
	items := []Item{
		{ID: 1, Input: "/scans/a.png", Output: "/out/a.txt"},
		{ID: 2, Input: "/scans/b.png", Output: "/out/b.txt"},
		{ID: 3, Input: "/scans/c.png", Output: "/out/c.txt"},
	}
	got := b.Process(context.Background(), items)
	require.Len(t, got, 3)
	assert.Equal(t, types.OcrSuccess, got[0].Status)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-6)
	assert.Equal(t, int64(2), got[0].WordCount)
	assert.Equal(t, types.OcrError, got[1].Status)
	assert.Equal(t, types.OcrError, got[2].Status, "missing line")

	assert.True(t, rt.opts.GPU)
	assert.Equal(t, []container.Mount{
		{Host: "/out", Container: "/out"},
		{Host: "/scans", Container: "/scans", ReadOnly: true},
	}, rt.opts.Mounts)
	assert.Contains(t, rt.stdin, `"input":"/scans/b.png"`)

	rt.runErr = errors.New("device lost")
	got = b.Process(context.Background(), items[:1])
	assert.Equal(t, types.OcrGPUError, got[0].Status)
}
