// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pdiddy/docudactyl/internal/container"
)

// DefaultMarkitdownImage is the converter image used when none is configured.
const DefaultMarkitdownImage = "markitdown:latest"

// Markitdown converts documents by piping them through the markitdown
// container image. It is the last link of the PDF, EPUB and unknown chains.
type Markitdown struct {
	runtime container.Runtime
	image   string
}

// NewMarkitdown creates a converter that uses the given container runtime
// to run image. It verifies that the image exists locally before returning.
func NewMarkitdown(rt container.Runtime, image string) (*Markitdown, error) {
	if rt == nil {
		return nil, container.ErrNoRuntime
	}
	if image == "" {
		image = DefaultMarkitdownImage
	}
	if err := rt.ImageExists(image); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &Markitdown{runtime: rt, image: image}, nil
}

func (*Markitdown) Name() string { return "markitdown" }

// Extract reads the document at in.Path, pipes it through the container
// and returns the resulting Markdown text.
func (m *Markitdown) Extract(ctx context.Context, in Input) (Extraction, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return Extraction{}, fmt.Errorf("opening %s: %w", in.Path, err)
	}
	defer f.Close()

	var out bytes.Buffer
	if err := m.runtime.Run(ctx, m.image, container.RunOptions{}, f, &out); err != nil {
		return Extraction{}, fmt.Errorf("%w: converting %s with markitdown: %v", ErrParse, in.Path, err)
	}
	if out.Len() == 0 {
		return Extraction{}, fmt.Errorf("%w: markitdown produced empty output for %s", ErrParse, in.Path)
	}
	return Extraction{Text: out.String(), Pages: 1, Outline: markdownOutline(out.Bytes())}, nil
}

// markdownOutline collects ATX headings.
func markdownOutline(md []byte) []OutlineEntry {
	var out []OutlineEntry
	for _, line := range bytes.Split(md, []byte("\n")) {
		level := 0
		for level < len(line) && line[level] == '#' {
			level++
		}
		if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
			continue
		}
		if t := string(bytes.TrimSpace(line[level:])); t != "" {
			out = append(out, OutlineEntry{Title: t, Level: level})
		}
	}
	return out
}
