// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/docudactyl/internal/container"
)

// OCRText is recognized text with a mean word confidence in [0, 1].
type OCRText struct {
	Text       string
	Confidence float64
}

// OCR recognizes the text of one image on the CPU.
type OCR interface {
	Name() string
	Recognize(ctx context.Context, path string, languages []string) (OCRText, error)
}

// NewDefaultOCR returns the CPU OCR engine for this build. The default
// drives the tesseract binary; building with -tags tesseract links
// libtesseract instead.
func NewDefaultOCR(tools container.HostTools) OCR { return defaultOCR(tools) }

var defaultOCR = func(tools container.HostTools) OCR { return &TesseractCLI{Tools: tools} }

// TesseractCLI runs the tesseract binary and reads its TSV word table.
type TesseractCLI struct {
	Tools container.HostTools
}

func (*TesseractCLI) Name() string { return "tesseract-cli" }

func (t *TesseractCLI) Recognize(ctx context.Context, path string, languages []string) (OCRText, error) {
	if t.Tools == nil || !t.Tools.Has("tesseract") {
		return OCRText{}, fmt.Errorf("%w: tesseract not installed", ErrUnsupported)
	}
	args := []string{path, "stdout"}
	if len(languages) > 0 {
		args = append(args, "-l", strings.Join(languages, "+"))
	}
	args = append(args, "tsv")
	out, err := t.Tools.Output(ctx, "tesseract", args...)
	if err != nil {
		return OCRText{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return parseTesseractTSV(out), nil
}

// parseTesseractTSV rebuilds lines from word rows (level 5) and averages
// their confidences. Columns: level page block par line word left top width
// height conf text.
func parseTesseractTSV(data []byte) OCRText {
	var (
		text     strings.Builder
		sum      float64
		words    int
		lastLine string
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 || word == "" {
			continue
		}
		line := strings.Join(cols[1:5], ".")
		switch {
		case words == 0:
		case line != lastLine:
			text.WriteByte('\n')
		default:
			text.WriteByte(' ')
		}
		lastLine = line
		text.WriteString(word)
		sum += conf
		words++
	}
	res := OCRText{Text: text.String()}
	if words > 0 {
		res.Confidence = sum / float64(words) / 100
	}
	return res
}
