// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dispatch is the parse dispatcher. For one document it runs the
// Conduit pre-pass, looks the result up in L1 then L2, runs the extraction
// backend on a miss, stores successful results in both tiers and finally
// runs the requested stages. Each step strictly follows the previous one;
// documents are independent of each other.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pdiddy/docudactyl/internal/accel"
	"github.com/pdiddy/docudactyl/internal/backend"
	"github.com/pdiddy/docudactyl/internal/cache/l1"
	"github.com/pdiddy/docudactyl/internal/cache/l2"
	"github.com/pdiddy/docudactyl/internal/conduit"
	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/internal/gpu"
	"github.com/pdiddy/docudactyl/internal/prefetch"
	"github.com/pdiddy/docudactyl/internal/stages"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// version is overridden at build time via ldflags.
var version = "0.4.0"

// Version returns the engine version string.
func Version() string { return version }

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine closed")

// Extractor runs the format-specific backend for a document.
type Extractor interface {
	Extract(ctx context.Context, in backend.Input) (backend.Extraction, error)
}

// Request is one parse call.
type Request struct {
	Input string `json:"input" yaml:"input"`

	// Output, when set, receives the extracted text in Format. The stage
	// side-channel is written next to it.
	Output string             `json:"output,omitempty" yaml:"output,omitempty"`
	Format types.OutputFormat `json:"format" yaml:"format"`

	// Stages selects post-extraction analyses. Zero selects the engine
	// default.
	Stages types.StageFlags `json:"stages" yaml:"stages"`
}

// Stats is a snapshot of engine activity.
type Stats struct {
	Parses       uint64 `json:"parses" yaml:"parses"`
	L1Hits       uint64 `json:"l1_hits" yaml:"l1_hits"`
	L2Hits       uint64 `json:"l2_hits" yaml:"l2_hits"`
	Misses       uint64 `json:"misses" yaml:"misses"`
	Invalid      uint64 `json:"invalid" yaml:"invalid"`
	Failures     uint64 `json:"failures" yaml:"failures"`
	Reextracted  uint64 `json:"reextracted" yaml:"reextracted"`
	StageRuns    uint64 `json:"stage_runs" yaml:"stage_runs"`
	L1Entries    uint64 `json:"l1_entries" yaml:"l1_entries"`
	L1SizeBytes  int64  `json:"l1_size_bytes" yaml:"l1_size_bytes"`
	DefaultFlags string `json:"default_stages" yaml:"default_stages"`

	L2       l2.Stats       `json:"l2" yaml:"l2"`
	GPU      gpu.Stats      `json:"gpu" yaml:"gpu"`
	ML       accel.Stats    `json:"ml" yaml:"ml"`
	Prefetch prefetch.Stats `json:"prefetch" yaml:"prefetch"`
}

// Engine is the main handle. It is safe for concurrent use.
type Engine struct {
	cfg    types.Config
	logger *slog.Logger

	l1       *l1.Store
	l2       *l2.Cache
	prefetch *prefetch.Prefetcher
	gpu      *gpu.Coprocessor
	ml       *accel.Dispatcher
	extract  Extractor
	stages   *stages.Orchestrator

	defaultStages types.StageFlags
	closed        atomic.Bool

	parses, l1Hits, l2Hits, misses, invalid, failures, reextracted, stageRuns atomic.Uint64
}

// Option customizes Init.
type Option func(*options)

type options struct {
	l1         *l1.Store
	l2         *l2.Cache
	runtime    container.Runtime
	runtimeSet bool
	tools      container.HostTools
	extractor  Extractor
	ocr        backend.OCR
	converter  stages.Converter
	gpuBackend gpu.Backend
}

// WithL1 uses an already opened L1 store. The engine takes ownership.
func WithL1(s *l1.Store) Option { return func(o *options) { o.l1 = s } }

// WithL2 uses an already connected L2 cache. The engine takes ownership.
func WithL2(c *l2.Cache) Option { return func(o *options) { o.l2 = c } }

// WithRuntime overrides container runtime detection. A nil runtime
// disables container-backed backends and ML.
func WithRuntime(rt container.Runtime) Option {
	return func(o *options) { o.runtime, o.runtimeSet = rt, true }
}

// WithHostTools overrides host tool lookup.
func WithHostTools(t container.HostTools) Option { return func(o *options) { o.tools = t } }

// WithExtractor replaces the default backend registry.
func WithExtractor(x Extractor) Option { return func(o *options) { o.extractor = x } }

// WithOCR sets the CPU OCR engine used by the image backend and the
// multi-language OCR stage.
func WithOCR(ocr backend.OCR) Option { return func(o *options) { o.ocr = ocr } }

// WithConverter sets the format-convert stage's converter.
func WithConverter(c stages.Converter) Option { return func(o *options) { o.converter = c } }

// WithGPUBackend forces the OCR coprocessor backend.
func WithGPUBackend(b gpu.Backend) Option { return func(o *options) { o.gpuBackend = b } }

// Init builds an engine from cfg. It fails when the L1 store cannot be
// opened (including l1.ErrCorrupt), the L2 configuration is invalid, or
// the default stage list does not parse. An unreachable L2 endpoint, a
// missing container runtime or a missing GPU only degrade.
func Init(ctx context.Context, cfg types.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	defaultStages, err := types.ParseStageFlags(cfg.Stages.Default)
	if err != nil {
		return nil, fmt.Errorf("parsing default stages: %w", err)
	}

	e := &Engine{
		cfg:           cfg,
		logger:        logger.With("component", "dispatch"),
		defaultStages: defaultStages,
	}

	e.l1 = o.l1
	if e.l1 == nil && cfg.Cache.Dir != "" {
		if e.l1, err = l1.Open(cfg.Cache, logger); err != nil {
			return nil, fmt.Errorf("opening l1 cache: %w", err)
		}
	}

	e.l2 = o.l2
	if e.l2 == nil {
		if e.l2, err = l2.Connect(ctx, cfg.L2, logger); err != nil {
			e.l1.Close()
			return nil, err
		}
	}

	rt := o.runtime
	if !o.runtimeSet {
		if rt, err = container.DetectRuntime(); err != nil {
			logger.Info("no container runtime; container backends and ml disabled", "error", err)
			rt = nil
		}
	}
	tools := o.tools
	if tools == nil {
		tools = container.NewHostTools()
	}

	gb := o.gpuBackend
	if gb == nil {
		gb = gpu.SelectBackend(cfg.GPU, rt, tools.Has("nvidia-smi"), logger)
	}
	e.gpu = gpu.New(gb, cfg.GPU.MaxBatch, logger)

	e.ml = accel.New(cfg.ML, rt, logger)
	e.ml.Init()

	e.prefetch = prefetch.New(cfg.Prefetch.Window, logger)

	ocr := o.ocr
	if ocr == nil {
		ocr = backend.NewDefaultOCR(tools)
	}

	e.extract = o.extractor
	if e.extract == nil {
		e.extract = backend.NewRegistry(backend.Options{
			Runtime: rt,
			Tools:   tools,
			GPU:     e.gpu,
			OCR:     ocr,
			Logger:  logger,
		})
	}

	sopts := stages.Options{ML: e.ml, OCR: ocr, Logger: logger}
	if e.l1 != nil {
		sopts.Dedup = e.l1
	}
	if o.converter != nil {
		sopts.Converter = o.converter
	} else if md, err := backend.NewMarkitdown(rt, ""); err == nil {
		sopts.Converter = md
	}
	e.stages = stages.New(sopts)

	e.logger.Info("engine ready",
		"version", version,
		"l1", e.l1 != nil,
		"l2", cfg.L2.Backend,
		"gpu", e.gpu.Backend(),
		"ml", e.ml.Provider().String(),
		"default_stages", defaultStages.String())
	return e, nil
}

// Close releases every resource. Closing twice, or a nil engine, is a
// no-op.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.prefetch.Close()
	e.gpu.Close()
	var errs []error
	if err := e.l2.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing l2: %w", err))
	}
	if err := e.l1.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing l1: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) usable() bool { return e != nil && !e.closed.Load() }

// Parse runs one document through the dispatcher. The returned result is
// always well formed; failures carry a status and message. The error is
// non-nil only when the L1 store is corrupt and must be reset.
func (e *Engine) Parse(ctx context.Context, req Request) (types.ParseResult, *stages.Results, error) {
	r, res, _, err := e.parse(ctx, req)
	return r, res, err
}

// parse is Parse that also reports where the result came from: "l1", "l2",
// "backend" or "" when no result was produced.
func (e *Engine) parse(ctx context.Context, req Request) (types.ParseResult, *stages.Results, string, error) {
	if !e.usable() {
		return types.Failed(types.StatusNullPointer, types.KindUnknown, "engine is not initialized"), nil, "", nil
	}
	if req.Input == "" {
		return types.Failed(types.StatusNullPointer, types.KindUnknown, "no input path"), nil, "", nil
	}
	defer e.prefetch.Done(req.Input)
	e.parses.Add(1)

	flags := req.Stages.Valid()
	if flags == 0 {
		flags = e.defaultStages
	}

	c := conduit.Process(req.Input)
	if !c.Valid() {
		e.invalid.Add(1)
		r := types.Failed(c.Validation.ParseStatus(), c.Kind, "%s: %s", c.Validation, req.Input)
		r.MIMEType = c.MIMEType
		return r, nil, "", nil
	}

	d := &doc{e: e, req: req, c: c, key: l1.KeyFor(c), flags: flags}

	hit, err := d.lookup(ctx)
	if err != nil {
		return types.Failed(types.StatusError, c.Kind, "l1 cache: %v", err), nil, "", err
	}
	if !hit {
		e.misses.Add(1)
		if ok := d.extractFresh(ctx); !ok {
			return d.result, nil, "", nil
		}
		if err := d.store(ctx); err != nil {
			return d.result, nil, d.source, err
		}
	}

	if err := d.writeOutput(ctx); err != nil {
		e.logger.Warn("writing output failed", "path", req.Output, "error", err)
	}

	res, err := d.runStages(ctx)
	return d.result, res, d.source, err
}

// doc holds the state of one Parse call.
type doc struct {
	e     *Engine
	req   Request
	c     types.ConduitResult
	key   l1.Key
	flags types.StageFlags

	result types.ParseResult
	source string

	// prior holds stage results stored with the cache entry.
	prior *stages.Results

	// ex is set after a fresh extraction; haveEx guards it.
	ex     backend.Extraction
	haveEx bool
}

// lookup consults L1 then L2. An L2 hit is copied into L1.
func (d *doc) lookup(ctx context.Context) (bool, error) {
	e := d.e
	if e.l1 != nil {
		entry, ok, err := e.l1.LookupEntry(ctx, d.key)
		switch {
		case errors.Is(err, l1.ErrCorrupt):
			return false, err
		case err != nil:
			e.logger.Warn("l1 lookup failed; treating as miss", "path", d.c.Path, "error", err)
		case ok:
			e.l1Hits.Add(1)
			d.result, d.source = entry.Result, "l1"
			d.prior = decodePrior(e.logger, entry.Stages)
			return true, nil
		}
	}

	r, ok := e.l2.Lookup(ctx, d.c.SHA256)
	if !ok {
		return false, nil
	}
	e.l2Hits.Add(1)
	d.result, d.source = r, "l2"
	if _, blob, ok := e.l2.LookupStages(ctx, d.c.SHA256); ok {
		d.prior = decodePrior(e.logger, blob)
	}
	if e.l1 != nil {
		if err := e.l1.Store(ctx, d.key, r); err != nil {
			if errors.Is(err, l1.ErrCorrupt) {
				return true, err
			}
			e.logger.Warn("l1 backfill failed", "path", d.c.Path, "error", err)
		} else if d.prior != nil {
			if blob, err := stages.Encode(d.prior); err == nil {
				if err := e.l1.StoreStages(ctx, d.key, d.prior.Done, blob); err != nil {
					e.logger.Warn("l1 stage backfill failed", "path", d.c.Path, "error", err)
				}
			}
		}
	}
	return true, nil
}

func decodePrior(logger *slog.Logger, blob []byte) *stages.Results {
	if len(blob) == 0 {
		return nil
	}
	r, err := stages.Decode(blob)
	if err != nil {
		logger.Warn("discarding undecodable stage results", "error", err)
		return nil
	}
	return r
}

// extractFresh runs the backend. It reports false when the result is a
// failure and Parse should return it as is.
func (d *doc) extractFresh(ctx context.Context) bool {
	start := time.Now()
	ex, err := d.e.extract.Extract(ctx, backend.Input{
		Path:     d.c.Path,
		Kind:     d.c.Kind,
		MIMEType: d.c.MIMEType,
		Output:   d.req.Output,
	})
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		d.e.failures.Add(1)
		status := backend.StatusFor(err)
		if ctx.Err() != nil {
			status = types.StatusError
		}
		d.result = types.Failed(status, d.c.Kind, "%v", err)
		d.result.SHA256 = d.c.SHA256
		d.result.MIMEType = d.c.MIMEType
		d.result.ParseTimeMS = elapsed
		d.e.logger.Debug("extraction failed", "path", d.c.Path, "status", status.String(), "error", err)
		return false
	}
	d.ex, d.haveEx = ex, true
	d.source = "backend"
	d.result = types.ParseResult{
		Status:      types.StatusOK,
		Kind:        d.c.Kind,
		PageCount:   ex.Pages,
		WordCount:   ex.Words(),
		CharCount:   ex.Chars(),
		DurationSec: ex.DurationSec,
		ParseTimeMS: elapsed,
		SHA256:      d.c.SHA256,
		Title:       ex.Title,
		Author:      ex.Author,
		MIMEType:    d.c.MIMEType,
	}
	return true
}

// store writes a successful result to both tiers. Only an L1 corruption is
// returned; other failures degrade.
func (d *doc) store(ctx context.Context) error {
	if !d.result.OK() {
		return nil
	}
	if d.e.l1 != nil {
		if err := d.e.l1.Store(ctx, d.key, d.result); err != nil {
			if errors.Is(err, l1.ErrCorrupt) {
				return err
			}
			d.e.logger.Warn("l1 store failed", "path", d.c.Path, "error", err)
		}
	}
	d.e.l2.Store(ctx, d.c.SHA256, d.result)
	return nil
}

// extraction returns the document's extraction, re-running the backend on
// a cache hit.
func (d *doc) extraction(ctx context.Context) (backend.Extraction, error) {
	if d.haveEx {
		return d.ex, nil
	}
	d.e.reextracted.Add(1)
	ex, err := d.e.extract.Extract(ctx, backend.Input{Path: d.c.Path, Kind: d.c.Kind, MIMEType: d.c.MIMEType})
	if err != nil {
		return backend.Extraction{}, err
	}
	d.ex, d.haveEx = ex, true
	return ex, nil
}

// runStages executes the requested stages and persists any newly final
// bits to both tiers.
func (d *doc) runStages(ctx context.Context) (*stages.Results, error) {
	if d.flags == 0 {
		return nil, nil
	}
	e := d.e
	before := types.StagesNone
	if d.prior != nil {
		before = d.prior.Done
	}
	if !d.prior.Covers(d.flags) {
		e.stageRuns.Add(1)
	}
	res := e.stages.Run(ctx, d.flags, stages.Input{
		Conduit: d.c,
		Result:  d.result,
		Output:  d.req.Output,
		Extract: d.extraction,
	}, d.prior)

	if err := d.writeSideChannel(res); err != nil {
		e.logger.Warn("writing stage results failed", "path", d.req.Output, "error", err)
	}
	if res.Done == before || !d.result.OK() {
		return res, nil
	}
	blob, err := stages.Encode(res)
	if err != nil {
		e.logger.Warn("encoding stage results", "error", err)
		return res, nil
	}
	if e.l1 != nil {
		if err := e.l1.StoreStages(ctx, d.key, res.Done, blob); err != nil {
			if errors.Is(err, l1.ErrCorrupt) {
				return res, err
			}
			e.logger.Warn("l1 stage store failed", "path", d.c.Path, "error", err)
		}
	}
	e.l2.StoreStages(ctx, d.c.SHA256, res.Done, blob)
	return res, nil
}

// CacheCount returns the number of L1 entries.
func (e *Engine) CacheCount(ctx context.Context) (uint64, error) {
	if !e.usable() {
		return 0, ErrClosed
	}
	if e.l1 == nil {
		return 0, nil
	}
	return e.l1.Count(ctx)
}

// SyncCache checkpoints the L1 store.
func (e *Engine) SyncCache(ctx context.Context) error {
	if !e.usable() {
		return ErrClosed
	}
	if e.l1 == nil {
		return nil
	}
	return e.l1.Sync(ctx)
}

// L1 exposes the local store for administration. It may be nil.
func (e *Engine) L1() *l1.Store {
	if e == nil {
		return nil
	}
	return e.l1
}

// L2Count returns the number of L2 result entries.
func (e *Engine) L2Count(ctx context.Context) (uint64, error) {
	if !e.usable() {
		return 0, ErrClosed
	}
	return e.l2.Count(ctx)
}

// Stats returns a snapshot of engine and component counters.
func (e *Engine) Stats(ctx context.Context) Stats {
	if e == nil {
		return Stats{}
	}
	st := Stats{
		Parses:       e.parses.Load(),
		L1Hits:       e.l1Hits.Load(),
		L2Hits:       e.l2Hits.Load(),
		Misses:       e.misses.Load(),
		Invalid:      e.invalid.Load(),
		Failures:     e.failures.Load(),
		Reextracted:  e.reextracted.Load(),
		StageRuns:    e.stageRuns.Load(),
		DefaultFlags: e.defaultStages.String(),
		L2:           e.l2.Stats(),
		GPU:          e.gpu.Stats(),
		ML:           e.ml.Stats(),
		Prefetch:     e.prefetch.Stats(),
	}
	if e.l1 != nil && !e.closed.Load() {
		if n, err := e.l1.Count(ctx); err == nil {
			st.L1Entries = n
		}
		if n, err := e.l1.SizeBytes(ctx); err == nil {
			st.L1SizeBytes = n
		}
	}
	return st
}
