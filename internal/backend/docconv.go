// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
)

// docconvMIMEs are the types docconv converts without extra services.
var docconvMIMEs = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/rtf":                                                           true,
	"text/rtf":                                                                  true,
	"text/html":                                                                 true,
	"text/xml":                                                                  true,
	"application/xml":                                                          true,
	"text/plain":                                                                true,
}

// Docconv converts office, markup and plain-text documents, and serves as
// the PDF fallback when the pure Go reader fails.
type Docconv struct {
	// Readability strips navigation chrome from HTML.
	Readability bool
}

func (Docconv) Name() string { return "docconv" }

func (d Docconv) Extract(ctx context.Context, in Input) (Extraction, error) {
	mt := baseMIME(in.MIMEType)
	if !docconvMIMEs[mt] {
		return Extraction{}, fmt.Errorf("%w: docconv cannot convert %q", ErrUnsupported, mt)
	}
	return withRecover(d.Name(), func() (Extraction, error) {
		f, err := os.Open(in.Path)
		if err != nil {
			return Extraction{}, fmt.Errorf("opening %s: %w", in.Path, err)
		}
		defer f.Close()

		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		res, err := docconv.Convert(f, mt, d.Readability)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: docconv %s: %v", ErrParse, in.Path, err)
		}
		ex := Extraction{Text: res.Body, Pages: 1}
		for k, v := range res.Meta {
			switch strings.ToLower(k) {
			case "title":
				ex.Title = strings.TrimSpace(v)
			case "author", "creator":
				if ex.Author == "" {
					ex.Author = strings.TrimSpace(v)
				}
			case "pages":
				if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
					ex.Pages = int32(n)
				}
			}
		}
		return ex, nil
	})
}
