// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gpu

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// Backend processes one batch. It returns one result per item, in order.
// Items it cannot handle get a non-success status rather than an error.
type Backend interface {
	Name() string
	Process(ctx context.Context, items []Item) []types.OcrResult
}

// cpuOnly is the last link in the chain. It declines every item so the
// caller falls through to CPU OCR.
type cpuOnly struct{}

func (cpuOnly) Name() string { return "cpu" }

func (cpuOnly) Process(_ context.Context, items []Item) []types.OcrResult {
	out := make([]types.OcrResult, len(items))
	for i := range out {
		out[i].Status = types.OcrGPUError
	}
	return out
}

// CPUOnly returns the backend used when no accelerator is usable.
func CPUOnly() Backend { return cpuOnly{} }

// imageBackend runs an OCR container once per batch. The request is one
// JSON object per line on stdin; the container answers one line per item.
type imageBackend struct {
	rt    container.Runtime
	image string
	gpu   bool
}

// NewImageBackend runs batches in image on rt.
func NewImageBackend(rt container.Runtime, image string, gpu bool) Backend {
	return &imageBackend{rt: rt, image: image, gpu: gpu}
}

func (b *imageBackend) Name() string { return b.image }

type batchRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type batchResponse struct {
	Status     string  `json:"status"`
	Confidence float32 `json:"confidence"`
	CharCount  int64   `json:"char_count"`
	WordCount  int64   `json:"word_count"`
	GPUTimeUS  float64 `json:"gpu_time_us"`
	TextOffset int64   `json:"text_offset"`
	TextLen    int64   `json:"text_len"`
}

func (r batchResponse) result() types.OcrResult {
	st := types.OcrError
	switch r.Status {
	case "success":
		st = types.OcrSuccess
	case "skipped":
		st = types.OcrSkipped
	case "gpu_error":
		st = types.OcrGPUError
	}
	return types.OcrResult{
		Status:     st,
		Confidence: r.Confidence,
		CharCount:  r.CharCount,
		WordCount:  r.WordCount,
		GPUTimeUS:  r.GPUTimeUS,
		TextOffset: r.TextOffset,
		TextLen:    r.TextLen,
	}
}

func (b *imageBackend) Process(ctx context.Context, items []Item) []types.OcrResult {
	out := make([]types.OcrResult, len(items))
	for i := range out {
		out[i].Status = types.OcrError
	}

	var stdin bytes.Buffer
	enc := json.NewEncoder(&stdin)
	for _, it := range items {
		_ = enc.Encode(batchRequest{Input: it.Input, Output: it.Output})
	}

	var stdout bytes.Buffer
	opts := container.RunOptions{GPU: b.gpu, Mounts: batchMounts(items)}
	if err := b.rt.Run(ctx, b.image, opts, &stdin, &stdout); err != nil {
		for i := range out {
			out[i].Status = types.OcrGPUError
		}
		return out
	}

	sc := bufio.NewScanner(&stdout)
	for i := 0; i < len(items) && sc.Scan(); i++ {
		var resp batchResponse
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			continue
		}
		out[i] = resp.result()
	}
	return out
}

// batchMounts binds each input directory read-only and each output
// directory read-write at the same path inside the container.
func batchMounts(items []Item) []container.Mount {
	ro := map[string]bool{}
	rw := map[string]bool{}
	for _, it := range items {
		ro[filepath.Dir(it.Input)] = true
		if it.Output != "" {
			rw[filepath.Dir(it.Output)] = true
		}
	}
	dirs := make([]string, 0, len(ro)+len(rw))
	for d := range ro {
		if !rw[d] {
			dirs = append(dirs, d)
		}
	}
	for d := range rw {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	mounts := make([]container.Mount, 0, len(dirs))
	for _, d := range dirs {
		mounts = append(mounts, container.Mount{Host: d, Container: d, ReadOnly: !rw[d]})
	}
	return mounts
}

// SelectBackend walks the chain once: preferred image on the GPU, then the
// secondary image, then CPU only. gpuPresent reports whether the host has
// a usable device.
func SelectBackend(cfg types.GPUConfig, rt container.Runtime, gpuPresent bool, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Disabled || rt == nil || !gpuPresent {
		logger.Info("gpu backend selected", "backend", "cpu", "disabled", cfg.Disabled, "gpu_present", gpuPresent)
		return CPUOnly()
	}
	for _, image := range []string{cfg.PreferredImage, cfg.SecondaryImage} {
		if image == "" {
			continue
		}
		if err := rt.ImageExists(image); err != nil {
			logger.Debug("gpu image unavailable", "image", image, "error", err)
			continue
		}
		logger.Info("gpu backend selected", "backend", image, "runtime", rt.Name())
		return NewImageBackend(rt, image, true)
	}
	logger.Info("gpu backend selected", "backend", "cpu", "reason", "no image")
	return CPUOnly()
}
