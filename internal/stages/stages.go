// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stages runs the optional post-extraction analyses selected by a
// StageFlags mask and assembles their side-channel output.
//
// Stages are independent except for two orderings: exact dedup consumes the
// Conduit fingerprint and near dedup consumes the extracted text, so both
// run after the text stages. Results from an earlier run are reused: only
// the bits missing from the stored Done mask are executed.
package stages

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pdiddy/docudactyl/internal/backend"
	"github.com/pdiddy/docudactyl/internal/cache/l1"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// MLRunner dispatches model-backed stages.
type MLRunner interface {
	Available() bool
	RunStage(ctx context.Context, stage types.MLStage, input io.Reader) (types.MlResult, []byte)
}

// DedupIndex records fingerprints and simhashes across documents.
type DedupIndex interface {
	RegisterFingerprint(ctx context.Context, sha256, path string) ([]string, error)
	RegisterSimhash(ctx context.Context, path string, hash uint64, maxDistance int) ([]l1.NearMatch, error)
}

// Converter renders a document into another format.
type Converter interface {
	Name() string
	Extract(ctx context.Context, in backend.Input) (backend.Extraction, error)
}

// Input is one document as the stages see it. Extract is called lazily and
// at most once; on a cache hit it re-runs the backend.
type Input struct {
	Conduit types.ConduitResult
	Result  types.ParseResult
	Output  string
	Extract func(ctx context.Context) (backend.Extraction, error)
}

// Results is the side-channel output of one run.
type Results struct {
	Requested types.StageFlags `json:"requested" yaml:"requested"`

	// Done holds stages whose outcome is final: produced output, or not
	// applicable to this document. Transient failures stay out of Done so
	// the next run retries them.
	Done    types.StageFlags  `json:"done" yaml:"done"`
	Skipped map[string]string `json:"skipped,omitempty" yaml:"skipped,omitempty"`

	Language       *LanguageResult        `json:"language,omitempty" yaml:"language,omitempty"`
	Readability    *ReadabilityResult     `json:"readability,omitempty" yaml:"readability,omitempty"`
	Keywords       []Keyword              `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Citations      *CitationResult        `json:"citations,omitempty" yaml:"citations,omitempty"`
	OCRConfidence  *OCRConfidenceResult   `json:"ocr_confidence,omitempty" yaml:"ocr_confidence,omitempty"`
	PerceptualHash string                 `json:"perceptual_hash,omitempty" yaml:"perceptual_hash,omitempty"`
	TOC            []backend.OutlineEntry `json:"toc,omitempty" yaml:"toc,omitempty"`
	MultiLangOCR   *MultiLangResult       `json:"multi_lang_ocr,omitempty" yaml:"multi_lang_ocr,omitempty"`
	Subtitles      *SubtitleResult        `json:"subtitles,omitempty" yaml:"subtitles,omitempty"`
	PREMIS         *PREMISRecord          `json:"premis,omitempty" yaml:"premis,omitempty"`
	Merkle         *MerkleResult          `json:"merkle,omitempty" yaml:"merkle,omitempty"`
	ExactDedup     *ExactDedupResult      `json:"exact_dedup,omitempty" yaml:"exact_dedup,omitempty"`
	NearDedup      *NearDedupResult       `json:"near_dedup,omitempty" yaml:"near_dedup,omitempty"`
	Coordinates    *CoordResult           `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
	ML             map[string]MLOutput    `json:"ml,omitempty" yaml:"ml,omitempty"`
	Converted      *ConvertResult         `json:"converted,omitempty" yaml:"converted,omitempty"`
}

// Covers reports whether every requested bit is already final.
func (r *Results) Covers(flags types.StageFlags) bool {
	return r != nil && r.Done.Has(flags.Valid())
}

func (r *Results) skip(bit types.StageFlags, reason string, final bool) {
	if r.Skipped == nil {
		r.Skipped = map[string]string{}
	}
	r.Skipped[bit.String()] = reason
	if final {
		r.Done |= bit
	}
}

func (r *Results) done(bit types.StageFlags) {
	r.Done |= bit
	delete(r.Skipped, bit.String())
}

// Encode serializes results for the cache tiers.
func Encode(r *Results) ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding stage results: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*Results, error) {
	var r Results
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decoding stage results: %w", err)
	}
	return &r, nil
}

// Options wires the orchestrator's collaborators. All are optional.
type Options struct {
	ML        MLRunner
	Dedup     DedupIndex
	OCR       backend.OCR
	Converter Converter
	Logger    *slog.Logger

	// Agent names the software in PREMIS events.
	Agent string

	// NearDedupDistance is the largest Hamming distance reported as a near
	// duplicate. Zero selects DefaultNearDistance.
	NearDedupDistance int
}

// Orchestrator runs stage handlers.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NearDedupDistance <= 0 {
		opts.NearDedupDistance = DefaultNearDistance
	}
	if opts.Agent == "" {
		opts.Agent = "docudactyl"
	}
	return &Orchestrator{opts: opts, logger: logger.With("component", "stages"), now: time.Now}
}

// run holds per-call state.
type run struct {
	o   *Orchestrator
	in  Input
	res *Results

	once  sync.Once
	ex    backend.Extraction
	exErr error
}

func (r *run) extraction(ctx context.Context) (backend.Extraction, error) {
	r.once.Do(func() {
		if r.in.Extract == nil {
			r.exErr = fmt.Errorf("no extraction available")
			return
		}
		r.ex, r.exErr = r.in.Extract(ctx)
	})
	return r.ex, r.exErr
}

// text returns the extracted text, or a skip reason and whether that
// reason is final. A document without text is final; a failed extraction
// is not.
func (r *run) text(ctx context.Context) (string, string, bool) {
	ex, err := r.extraction(ctx)
	if err != nil {
		return "", "extraction unavailable: " + err.Error(), false
	}
	if ex.Text == "" {
		return "", "no text", true
	}
	return ex.Text, "", false
}

// handler runs one stage. It records its own outcome on r.res.
type handler func(ctx context.Context, r *run, bit types.StageFlags)

// pipeline is the execution order.
var pipeline = []struct {
	bit types.StageFlags
	fn  handler
}{
	{types.StageLanguageDetect, languageStage},
	{types.StageReadability, readabilityStage},
	{types.StageKeywords, keywordsStage},
	{types.StageCitations, citationsStage},
	{types.StageTOC, tocStage},
	{types.StageOCRConfidence, ocrConfidenceStage},
	{types.StagePerceptualHash, perceptualHashStage},
	{types.StageMultiLangOCR, multiLangOCRStage},
	{types.StageSubtitle, subtitleStage},
	{types.StagePREMIS, premisStage},
	{types.StageMerkleProof, merkleStage},
	{types.StageCoordNormalize, coordStage},
	{types.StageExactDedup, exactDedupStage},
	{types.StageNearDedup, nearDedupStage},
	{types.StageMLNER, mlStage},
	{types.StageMLTranscription, mlStage},
	{types.StageMLImageClassify, mlStage},
	{types.StageMLLayout, mlStage},
	{types.StageMLHandwriting, mlStage},
	{types.StageFormatConvert, convertStage},
}

// Run executes the requested stages that prior has not already completed
// and returns the merged results. prior may be nil. A stage never fails
// the run; its problem is recorded in Skipped.
func (o *Orchestrator) Run(ctx context.Context, flags types.StageFlags, in Input, prior *Results) *Results {
	flags = flags.Valid()
	res := &Results{}
	if prior != nil {
		cp := *prior
		res = &cp
		if prior.Skipped != nil {
			res.Skipped = make(map[string]string, len(prior.Skipped))
			for k, v := range prior.Skipped {
				res.Skipped[k] = v
			}
		}
		if prior.ML != nil {
			res.ML = make(map[string]MLOutput, len(prior.ML))
			for k, v := range prior.ML {
				res.ML[k] = v
			}
		}
	}
	res.Requested = flags

	todo := flags.Without(res.Done)
	if todo == 0 {
		return res
	}

	r := &run{o: o, in: in, res: res}
	start := time.Now()
	for _, st := range pipeline {
		if !todo.Has(st.bit) {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.skip(st.bit, "cancelled", false)
			continue
		}
		st.fn(ctx, r, st.bit)
	}
	o.logger.Debug("stages ran",
		"path", in.Conduit.Path,
		"requested", flags.String(),
		"ran", todo.String(),
		"done", res.Done.String(),
		"elapsed", time.Since(start))
	return res
}
