// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build tesseract

package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/pdiddy/docudactyl/internal/container"
)

func init() {
	defaultOCR = func(container.HostTools) OCR {
		return &Gosseract{clientFactory: gosseract.NewClient}
	}
}

// Gosseract recognizes text through the libtesseract bindings.
type Gosseract struct {
	clientFactory func() *gosseract.Client
}

func (*Gosseract) Name() string { return "tesseract" }

func (g *Gosseract) Recognize(ctx context.Context, path string, languages []string) (OCRText, error) {
	if err := ctx.Err(); err != nil {
		return OCRText{}, err
	}
	c := g.clientFactory()
	defer c.Close()

	if err := c.SetImage(path); err != nil {
		return OCRText{}, fmt.Errorf("%w: set image: %v", ErrParse, err)
	}
	if len(languages) > 0 {
		if err := c.SetLanguage(languages...); err != nil {
			return OCRText{}, fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return OCRText{}, fmt.Errorf("%w: recognize text: %v", ErrParse, err)
	}

	res := OCRText{Text: strings.TrimSpace(text)}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return res, nil
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100
	}
	res.Confidence = sum / float64(len(boxes))
	return res, nil
}
