// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stages

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// Citation is one inline reference. BibIndex is -1 when no bibliography
// entry carries the same key.
type Citation struct {
	Key      string `json:"key" yaml:"key"`
	Style    string `json:"style" yaml:"style"`
	BibIndex int    `json:"bib_index" yaml:"bib_index"`
	Context  string `json:"context,omitempty" yaml:"context,omitempty"`
}

// BibliographyEntry is one parsed reference-list line.
type BibliographyEntry struct {
	Key     string   `json:"key" yaml:"key"`
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Venue   string   `json:"venue,omitempty" yaml:"venue,omitempty"`
	Year    string   `json:"year,omitempty" yaml:"year,omitempty"`
	DOI     string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	Raw     string   `json:"raw" yaml:"raw"`
}

// CitationResult is the output of the citations stage.
type CitationResult struct {
	Citations    []Citation          `json:"citations,omitempty" yaml:"citations,omitempty"`
	Bibliography []BibliographyEntry `json:"bibliography,omitempty" yaml:"bibliography,omitempty"`
	Linked       int                 `json:"linked" yaml:"linked"`
}

const (
	styleNumeric    = "numeric"
	styleAuthorYear = "author_year"
)

var (
	numericRe    = regexp.MustCompile(`\[(\d+(?:\s*[,\x{2013}-]\s*\d+)*)\]`)
	authorYearRe = regexp.MustCompile(`[\[(]([A-Z][\p{L}'-]+(?:\s+(?:et\s+al\.|(?:and|&)\s+[A-Z][\p{L}'-]+))?,\s*(?:19|20)\d{2}[a-z]?)[\])]`)
	refEntryRe   = regexp.MustCompile(`^\s*(?:\[(\d+)\]|(\d+)\.)\s+(.+)$`)
	refHeadingRe = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\d+\.?\s*)?(references|bibliography|works cited|literature cited)\s*:?\s*$`)
	anyHeadingRe = regexp.MustCompile(`^\s*#{1,6}\s+\S`)
	yearRe       = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	doiRe        = regexp.MustCompile(`\b(10\.\d{4,9}/[^\s"<>]+[^\s"<>.,;])`)
	authorRe     = regexp.MustCompile(`^\s*([A-Z][\p{L}'-]+,\s*(?:[A-Z]\.\s*)+)`)
	authorSepRe  = regexp.MustCompile(`^(?:,\s*)?(?:(?:and|&)\s+)?`)
	etAlRe       = regexp.MustCompile(`^\s*et\s+al\.\s*`)
	initialRe    = regexp.MustCompile(`\b([A-Z])\.`)
)

// FindCitations returns the distinct inline citations in text. Numeric
// groups like [2,3] or [4-6] expand to one citation per key.
func FindCitations(text string) []Citation {
	seen := map[string]bool{}
	var out []Citation
	add := func(key, style string, start, end int) {
		id := style + ":" + key
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, Citation{Key: key, Style: style, BibIndex: -1, Context: snippet(text, start, end)})
	}
	for _, m := range numericRe.FindAllStringSubmatchIndex(text, -1) {
		for _, key := range expandNumeric(text[m[2]:m[3]]) {
			add(key, styleNumeric, m[0], m[1])
		}
	}
	for _, m := range authorYearRe.FindAllStringSubmatchIndex(text, -1) {
		add(text[m[2]:m[3]], styleAuthorYear, m[0], m[1])
	}
	return out
}

func expandNumeric(group string) []string {
	var keys []string
	for _, part := range strings.Split(group, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(strings.ReplaceAll(part, "–", "-"), "-")
		if !isRange {
			keys = append(keys, part)
			continue
		}
		a, errA := strconv.Atoi(strings.TrimSpace(lo))
		b, errB := strconv.Atoi(strings.TrimSpace(hi))
		if errA != nil || errB != nil || a <= 0 || b < a || b-a > 50 {
			keys = append(keys, strings.TrimSpace(lo), strings.TrimSpace(hi))
			continue
		}
		for n := a; n <= b; n++ {
			keys = append(keys, strconv.Itoa(n))
		}
	}
	return keys
}

// snippet returns up to 40 bytes either side of a match, trimmed to word
// boundaries.
func snippet(text string, start, end int) string {
	const window = 40
	lo, hi := max(start-window, 0), min(end+window, len(text))
	s := text[lo:hi]
	if lo > 0 {
		if i := strings.IndexAny(s, " \n\t"); i >= 0 && i < start-lo {
			s = s[i+1:]
		}
	}
	if hi < len(text) {
		if i := strings.LastIndexAny(s, " \n\t"); i >= 0 && i > len(s)-(hi-end) {
			s = s[:i]
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// ParseBibliography reads the entries under a References (or similar)
// heading. The section ends at the next markdown heading.
func ParseBibliography(text string) []BibliographyEntry {
	var out []BibliographyEntry
	inRefs := false
	var cur *BibliographyEntry
	flush := func() {
		if cur != nil {
			out = append(out, parseEntry(cur.Key, cur.Raw))
			cur = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if refHeadingRe.MatchString(line) {
			flush()
			inRefs = true
			continue
		}
		if !inRefs {
			continue
		}
		if anyHeadingRe.MatchString(line) {
			break
		}
		if m := refEntryRe.FindStringSubmatch(line); m != nil {
			flush()
			key := m[1]
			if key == "" {
				key = m[2]
			}
			cur = &BibliographyEntry{Key: key, Raw: strings.TrimSpace(m[3])}
			continue
		}
		// Wrapped continuation of the previous entry.
		if cur != nil && strings.TrimSpace(line) != "" {
			cur.Raw += " " + strings.TrimSpace(line)
		}
	}
	flush()
	return out
}

func parseEntry(key, raw string) BibliographyEntry {
	e := BibliographyEntry{Key: key, Raw: raw}
	if m := yearRe.FindStringSubmatch(raw); m != nil {
		e.Year = m[1]
	}
	if m := doiRe.FindStringSubmatch(raw); m != nil {
		e.DOI = m[1]
	}
	var rest string
	e.Authors, rest = splitAuthors(raw)
	parts := sentences(rest)
	if len(parts) > 0 {
		e.Title = parts[0]
	}
	if len(parts) > 1 {
		v := yearRe.ReplaceAllString(parts[1], "")
		e.Venue = strings.TrimSpace(strings.Trim(v, "()., "))
	}
	return e
}

// splitAuthors consumes leading "Surname, I." names joined by commas,
// "and" or "&", plus an optional "et al.", and returns the remainder.
func splitAuthors(raw string) ([]string, string) {
	var authors []string
	rest := raw
	for {
		m := authorRe.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		authors = append(authors, strings.TrimSpace(m[1]))
		rest = rest[len(m[0]):]
		if loc := etAlRe.FindStringIndex(rest); loc != nil {
			rest = rest[loc[1]:]
			break
		}
		rest = rest[len(authorSepRe.FindString(rest)):]
	}
	return authors, strings.TrimLeft(rest, ".,: ")
}

// sentences splits on ". " while keeping initials and "et al." intact.
func sentences(s string) []string {
	const hold = "\x00"
	s = strings.ReplaceAll(s, "et al.", "et al"+hold)
	s = initialRe.ReplaceAllString(s, "${1}"+hold)
	var out []string
	for _, p := range strings.Split(s, ". ") {
		p = strings.TrimSpace(strings.TrimRight(strings.ReplaceAll(p, hold, "."), "."))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LinkCitations sets BibIndex on citations whose key names a bibliography
// entry. Author-year keys match on surname and year.
func LinkCitations(cites []Citation, bib []BibliographyEntry) ([]Citation, int) {
	byKey := make(map[string]int, len(bib))
	for i, e := range bib {
		byKey[e.Key] = i
	}
	linked := 0
	out := make([]Citation, len(cites))
	copy(out, cites)
	for i := range out {
		idx := -1
		switch out[i].Style {
		case styleNumeric:
			if j, ok := byKey[out[i].Key]; ok {
				idx = j
			}
		case styleAuthorYear:
			idx = matchAuthorYear(out[i].Key, bib)
		}
		out[i].BibIndex = idx
		if idx >= 0 {
			linked++
		}
	}
	return out, linked
}

func matchAuthorYear(key string, bib []BibliographyEntry) int {
	surname, _, _ := strings.Cut(key, " ")
	surname = strings.TrimRight(surname, ",")
	year := yearRe.FindString(key)
	for i, e := range bib {
		if e.Year != year || len(e.Authors) == 0 {
			continue
		}
		if strings.HasPrefix(e.Authors[0], surname) {
			return i
		}
	}
	return -1
}

func citationsStage(ctx context.Context, r *run, bit types.StageFlags) {
	text, reason, final := r.text(ctx)
	if reason != "" {
		r.res.skip(bit, reason, final)
		return
	}
	cites := FindCitations(text)
	bib := ParseBibliography(text)
	if len(cites) == 0 && len(bib) == 0 {
		r.res.skip(bit, "no citations", true)
		return
	}
	linked, n := LinkCitations(cites, bib)
	r.res.Citations = &CitationResult{Citations: linked, Bibliography: bib, Linked: n}
	r.res.done(bit)
}
