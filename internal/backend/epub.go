// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// EPUB reads the package document, walks the spine and extracts chapter
// text. Headings become the outline.
type EPUB struct{}

func (EPUB) Name() string { return "epub" }

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Metadata struct {
		Titles   []string `xml:"title"`
		Creators []string `xml:"creator"`
	} `xml:"metadata"`
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

func (e EPUB) Extract(ctx context.Context, in Input) (Extraction, error) {
	zr, err := zip.OpenReader(in.Path)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: opening epub %s: %v", ErrParse, in.Path, err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var cont epubContainer
	if err := decodeXML(files["META-INF/container.xml"], &cont); err != nil || len(cont.Rootfiles) == 0 {
		return Extraction{}, fmt.Errorf("%w: %s has no container rootfile", ErrParse, in.Path)
	}
	opfPath := cont.Rootfiles[0].FullPath
	var pkg epubPackage
	if err := decodeXML(files[opfPath], &pkg); err != nil {
		return Extraction{}, fmt.Errorf("%w: reading package %s: %v", ErrParse, opfPath, err)
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		hrefs[it.ID] = it.Href
	}
	base := path.Dir(opfPath)

	ex := Extraction{Pages: int32(len(pkg.Spine))}
	if len(pkg.Metadata.Titles) > 0 {
		ex.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}
	if len(pkg.Metadata.Creators) > 0 {
		ex.Author = strings.TrimSpace(pkg.Metadata.Creators[0])
	}

	var text strings.Builder
	for _, ref := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		f := files[path.Join(base, href)]
		if f == nil {
			continue
		}
		outline, err := chapterText(f, &text)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: chapter %s: %v", ErrParse, href, err)
		}
		ex.Outline = append(ex.Outline, outline...)
	}
	ex.Text = text.String()
	return ex, nil
}

func decodeXML(f *zip.File, v any) error {
	if f == nil {
		return io.ErrUnexpectedEOF
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

var headingLevel = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// chapterText appends the visible text of one XHTML chapter to w and
// returns its headings.
func chapterText(f *zip.File, w *strings.Builder) ([]OutlineEntry, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	doc, err := html.Parse(rc)
	if err != nil {
		return nil, err
	}

	var outline []OutlineEntry
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head) {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				w.WriteString(t)
				w.WriteByte(' ')
			}
		}
		if lvl, ok := headingLevel[n.DataAtom]; ok && n.Type == html.ElementNode {
			if t := strings.TrimSpace(nodeText(n)); t != "" {
				outline = append(outline, OutlineEntry{Title: t, Level: lvl})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			w.WriteByte('\n')
		}
	}
	walk(doc)
	return outline, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
