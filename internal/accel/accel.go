// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package accel selects an ML execution provider once per handle and routes
// model-backed stage requests to it. Models run inside an inference image
// on the container runtime; the selected provider is passed to the image so
// it loads the matching execution backend. The package also fronts the
// hardware-aware hashing in internal/hashing.
package accel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/pkg/types"
)

const modelsMount = "/models"

// modelFiles maps each stage to its model file under the models directory.
var modelFiles = map[types.MLStage]string{
	types.StageNER:           "ner.onnx",
	types.StageTranscription: "whisper.onnx",
	types.StageImageClassify: "image_classify.onnx",
	types.StageLayout:        "layout.onnx",
	types.StageHandwriting:   "handwriting.onnx",
}

// ModelFile returns the model file name for stage, or "" for an unknown stage.
func ModelFile(stage types.MLStage) string { return modelFiles[stage] }

// Stats counts stage dispatches by outcome.
type Stats struct {
	Provider    string            `json:"provider" yaml:"provider"`
	Runs        uint64            `json:"runs" yaml:"runs"`
	ByStatus    map[string]uint64 `json:"by_status" yaml:"by_status"`
	InferenceMS float64           `json:"inference_ms" yaml:"inference_ms"`
}

// Dispatcher is one ML handle. The provider is chosen on first use and
// never changes afterwards.
type Dispatcher struct {
	cfg    types.MLConfig
	rt     container.Runtime
	host   host
	logger *slog.Logger

	once     sync.Once
	provider types.Provider

	mu    sync.Mutex
	stats Stats
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// withHost replaces the machine probe.
func withHost(h host) Option { return func(d *Dispatcher) { d.host = h } }

// New creates a dispatcher. rt may be nil, in which case no stage can run.
func New(cfg types.MLConfig, rt container.Runtime, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:    cfg,
		rt:     rt,
		logger: logger.With("component", "accel"),
		stats:  Stats{ByStatus: map[string]uint64{}},
	}
	for _, o := range opts {
		o(d)
	}
	if d.host.hasTool == nil {
		d.host = defaultHost()
	}
	return d
}

// Init probes providers and caches the selection. Later calls return the
// cached value.
func (d *Dispatcher) Init() types.Provider {
	d.once.Do(func() {
		if d.rt == nil {
			d.provider = types.ProviderNone
		} else {
			d.provider = selectProvider(d.host)
		}
		d.logger.Info("ml provider selected", "provider", d.provider.String())
	})
	return d.provider
}

// Available reports whether any provider can run stages.
func (d *Dispatcher) Available() bool {
	return d != nil && d.Init() != types.ProviderNone
}

// Provider returns the selected provider.
func (d *Dispatcher) Provider() types.Provider {
	if d == nil {
		return types.ProviderNone
	}
	return d.Init()
}

type inferenceOutput struct {
	OutputCount int32   `json:"output_count"`
	Confidence  float64 `json:"confidence"`
	Text        string  `json:"text"`
}

// RunStage runs one model over input. The returned text is the model's
// textual output; the result's TextOffset and TextLen locate it within that
// slice. Every failure is reported through the result status.
func (d *Dispatcher) RunStage(ctx context.Context, stage types.MLStage, input io.Reader) (types.MlResult, []byte) {
	res := types.MlResult{Stage: stage, Provider: d.Provider()}
	if d == nil {
		res.Status = types.MlNoRuntime
		return res, nil
	}
	text := d.runStage(ctx, &res, input)
	d.record(res)
	return res, text
}

func (d *Dispatcher) runStage(ctx context.Context, res *types.MlResult, input io.Reader) []byte {
	file := modelFiles[res.Stage]
	if file == "" || input == nil {
		res.Status = types.MlInputError
		return nil
	}
	if res.Provider == types.ProviderNone {
		res.Status = types.MlNoRuntime
		return nil
	}
	modelsDir, err := filepath.Abs(d.cfg.ModelsDir)
	if err != nil {
		res.Status = types.MlModelMissing
		return nil
	}
	if _, err := os.Stat(filepath.Join(modelsDir, file)); err != nil {
		res.Status = types.MlModelMissing
		d.logger.Debug("model missing", "stage", res.Stage.String(), "model", file)
		return nil
	}

	opts := container.RunOptions{
		GPU: usesNvidia(res.Provider),
		Env: map[string]string{
			"MODEL":    modelsMount + "/" + file,
			"PROVIDER": res.Provider.String(),
			"STAGE":    res.Stage.String(),
		},
		Mounts: []container.Mount{{Host: modelsDir, Container: modelsMount, ReadOnly: true}},
	}
	var out bytes.Buffer
	start := time.Now()
	err = d.rt.Run(ctx, d.cfg.Image, opts, input, &out)
	res.InferenceMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		res.Status = types.MlError
		d.logger.Warn("ml stage failed", "stage", res.Stage.String(), "error", err)
		return nil
	}

	var parsed inferenceOutput
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		res.Status = types.MlError
		d.logger.Warn("ml stage output unreadable", "stage", res.Stage.String(), "error", err)
		return nil
	}
	res.Status = types.MlOK
	res.OutputCount = parsed.OutputCount
	res.Confidence = parsed.Confidence
	res.TextLen = int64(len(parsed.Text))
	return []byte(parsed.Text)
}

func (d *Dispatcher) record(r types.MlResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Runs++
	d.stats.ByStatus[r.Status.String()]++
	d.stats.InferenceMS += r.InferenceMS
}

// Stats returns a snapshot of dispatch counters.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{Provider: types.ProviderNone.String()}
	}
	p := d.Provider()
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stats
	st.Provider = p.String()
	st.ByStatus = make(map[string]uint64, len(d.stats.ByStatus))
	for k, v := range d.stats.ByStatus {
		st.ByStatus[k] = v
	}
	return st
}

// String describes the handle for log lines.
func (d *Dispatcher) String() string {
	return fmt.Sprintf("accel(provider=%s, image=%s)", d.Provider(), d.cfg.Image)
}
