// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF reads text, page count, document info and outline with a pure Go
// PDF reader.
type PDF struct{}

func (PDF) Name() string { return "pdf" }

func (p PDF) Extract(ctx context.Context, in Input) (Extraction, error) {
	return withRecover(p.Name(), func() (Extraction, error) {
		f, r, err := pdf.Open(in.Path)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: opening %s: %v", ErrParse, in.Path, err)
		}
		defer f.Close()

		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}

		ex := Extraction{Pages: int32(r.NumPage())}
		info := r.Trailer().Key("Info")
		ex.Title = strings.TrimSpace(info.Key("Title").Text())
		ex.Author = strings.TrimSpace(info.Key("Author").Text())
		ex.Outline = flattenOutline(r.Outline().Child, 1)

		tr, err := r.GetPlainText()
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: reading text of %s: %v", ErrParse, in.Path, err)
		}
		text, err := io.ReadAll(tr)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: reading text of %s: %v", ErrParse, in.Path, err)
		}
		ex.Text = string(text)
		return ex, nil
	})
}

func flattenOutline(items []pdf.Outline, level int) []OutlineEntry {
	var out []OutlineEntry
	for _, o := range items {
		if t := strings.TrimSpace(o.Title); t != "" {
			out = append(out, OutlineEntry{Title: t, Level: level})
		}
		out = append(out, flattenOutline(o.Child, level+1)...)
	}
	return out
}
