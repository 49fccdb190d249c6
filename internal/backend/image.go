// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pdiddy/docudactyl/internal/gpu"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// Image recognizes text in raster images. The GPU coprocessor is tried
// first; a gpu_error or error slot falls through to CPU OCR.
type Image struct {
	GPU       *gpu.Coprocessor
	OCR       OCR
	Languages []string
}

func (*Image) Name() string { return "image" }

func (b *Image) Extract(ctx context.Context, in Input) (Extraction, error) {
	if err := checkImage(in.Path); err != nil {
		return Extraction{}, err
	}

	if b.GPU != nil {
		ex, ok, err := b.gpuOCR(ctx, in)
		if err != nil {
			return Extraction{}, err
		}
		if ok {
			return ex, nil
		}
	}

	if b.OCR == nil {
		return Extraction{}, fmt.Errorf("%w: no OCR engine", ErrUnsupported)
	}
	t, err := b.OCR.Recognize(ctx, in.Path, b.Languages)
	if err != nil {
		return Extraction{}, err
	}
	ex := Extraction{Text: t.Text, Pages: 1}
	ex.OCR = &types.OcrResult{
		Status:     types.OcrSuccess,
		Confidence: float32(t.Confidence),
		CharCount:  ex.Chars(),
		WordCount:  ex.Words(),
		TextLen:    int64(len(t.Text)),
	}
	return ex, nil
}

// gpuOCR runs one slot through the coprocessor. ok is false when the slot
// did not succeed and the CPU path should run.
func (b *Image) gpuOCR(ctx context.Context, in Input) (Extraction, bool, error) {
	side, cleanup, err := sidecarPath(in.Output)
	if err != nil {
		return Extraction{}, false, nil
	}
	defer cleanup()

	r, err := b.GPU.Recognize(ctx, in.Path, side)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Extraction{}, false, ctxErr
		}
		return Extraction{}, false, nil
	}
	if r.Status != types.OcrSuccess {
		return Extraction{}, false, nil
	}
	text, err := readSpan(side, r.TextOffset, r.TextLen)
	if err != nil {
		return Extraction{}, false, nil
	}
	return Extraction{Text: text, Pages: 1, OCR: &r}, true, nil
}

// sidecarPath is where the GPU writes recognized text for one slot.
func sidecarPath(output string) (string, func(), error) {
	if output != "" {
		p := output + ".ocr"
		return p, func() { os.Remove(p) }, nil
	}
	f, err := os.CreateTemp("", "docudactyl-ocr-*.txt")
	if err != nil {
		return "", nil, err
	}
	p := f.Name()
	f.Close()
	return p, func() { os.Remove(p) }, nil
}

// errBadSpan marks a slot whose text span does not fit its sidecar file.
var errBadSpan = errors.New("text span outside sidecar")

// readSpan reads the slot's text from the sidecar. The span is clamped to
// the file size.
func readSpan(path string, off, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	if off < 0 || n < 0 || off > size {
		return "", fmt.Errorf("%w: offset %d length %d size %d", errBadSpan, off, n, size)
	}
	n = min(n, size-off)
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// checkImage decodes only the header so corrupt files fail before any OCR
// work is queued.
func checkImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		if errors.Is(err, image.ErrFormat) {
			return fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	return nil
}
