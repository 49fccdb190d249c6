// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stages

import (
	"context"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/go-text/typesetting/language"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// LanguageResult is the detected primary language and dominant script.
type LanguageResult struct {
	Language   string             `json:"language" yaml:"language"`
	Script     string             `json:"script" yaml:"script"`
	Confidence float64            `json:"confidence" yaml:"confidence"`
	Scripts    map[string]float64 `json:"scripts,omitempty" yaml:"scripts,omitempty"`
}

// scriptLanguages maps scripts used by one dominant language.
var scriptLanguages = map[language.Script]string{
	language.Cyrillic:   "ru",
	language.Greek:      "el",
	language.Arabic:     "ar",
	language.Hebrew:     "he",
	language.Han:        "zh",
	language.Hiragana:   "ja",
	language.Katakana:   "ja",
	language.Hangul:     "ko",
	language.Devanagari: "hi",
	language.Thai:       "th",
	language.Bengali:    "bn",
	language.Tamil:      "ta",
	language.Georgian:   "ka",
	language.Armenian:   "hy",
}

// latinStopwords holds high-frequency function words per Latin-script
// language.
var latinStopwords = map[string][]string{
	"en": {"the", "and", "of", "to", "in", "is", "that", "for", "it", "with", "as", "was", "on", "are", "this", "be", "by", "not"},
	"de": {"der", "die", "und", "das", "ist", "nicht", "ein", "eine", "zu", "den", "mit", "von", "sich", "auf", "dem", "für", "auch"},
	"fr": {"le", "la", "les", "et", "des", "est", "une", "un", "du", "que", "pas", "pour", "dans", "qui", "sur", "avec", "au"},
	"es": {"el", "la", "los", "las", "y", "de", "que", "en", "es", "un", "una", "por", "con", "para", "del", "se", "no"},
	"it": {"il", "lo", "la", "gli", "le", "e", "di", "che", "è", "un", "una", "per", "con", "non", "del", "della", "sono"},
	"pt": {"o", "a", "os", "as", "e", "de", "que", "em", "um", "uma", "para", "com", "não", "do", "da", "por", "são"},
	"nl": {"de", "het", "een", "en", "van", "is", "dat", "niet", "op", "te", "met", "zijn", "voor", "die", "ook", "aan"},
}

var stopwordIndex = func() map[string]map[string]bool {
	idx := make(map[string]map[string]bool, len(latinStopwords))
	for lang, words := range latinStopwords {
		set := make(map[string]bool, len(words))
		for _, w := range words {
			set[w] = true
		}
		idx[lang] = set
	}
	return idx
}()

// scriptShares counts letters per script and returns each script's share.
func scriptShares(text string) (map[language.Script]float64, int) {
	counts := map[language.Script]int{}
	total := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		s := language.LookupScript(r)
		if s == language.Common || s == language.Inherited || s == language.Unknown {
			continue
		}
		counts[s]++
		total++
	}
	shares := make(map[language.Script]float64, len(counts))
	for s, n := range counts {
		shares[s] = float64(n) / float64(total)
	}
	return shares, total
}

func dominant(shares map[language.Script]float64) (language.Script, float64) {
	best, share := language.Unknown, 0.0
	for s, v := range shares {
		if v > share || (v == share && s < best) {
			best, share = s, v
		}
	}
	return best, share
}

// DetectLanguage guesses the primary language of text. Non-Latin scripts
// map directly to a language; Latin text is scored by stopword hits.
func DetectLanguage(text string) LanguageResult {
	shares, total := scriptShares(text)
	if total == 0 {
		return LanguageResult{Language: "und", Script: language.Unknown.String()}
	}
	script, share := dominant(shares)
	res := LanguageResult{Script: script.String(), Scripts: make(map[string]float64, len(shares))}
	for s, v := range shares {
		res.Scripts[s.String()] = math.Round(v*1000) / 1000
	}

	// Kana outweighs Han for Japanese text that mixes both.
	if script == language.Han && (shares[language.Hiragana]+shares[language.Katakana]) > 0.1 {
		script = language.Hiragana
	}

	if lang, ok := scriptLanguages[script]; ok {
		res.Language = string(language.NewLanguage(lang).Primary())
		res.Confidence = math.Round(share*1000) / 1000
		return res
	}
	if script != language.Latin {
		res.Language = "und"
		return res
	}

	hits := map[string]int{}
	words := 0
	for _, w := range tokenize(text) {
		words++
		for lang, set := range stopwordIndex {
			if set[w] {
				hits[lang]++
			}
		}
	}
	bestLang, bestHits := "und", 0
	for lang, n := range hits {
		if n > bestHits || (n == bestHits && lang < bestLang) {
			bestLang, bestHits = lang, n
		}
	}
	res.Language = bestLang
	if words > 0 && bestHits > 0 {
		res.Confidence = math.Round(math.Min(1, float64(bestHits)/float64(words)*3)*share*1000) / 1000
	}
	return res
}

// tokenize lowercases, applies NFKC and splits on anything that is not a
// letter, digit or apostrophe.
func tokenize(text string) []string {
	text = norm.NFKC.String(strings.ToLower(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func languageStage(ctx context.Context, r *run, bit types.StageFlags) {
	text, reason, final := r.text(ctx)
	if reason != "" {
		r.res.skip(bit, reason, final)
		return
	}
	lr := DetectLanguage(text)
	r.res.Language = &lr
	r.res.done(bit)
}

// ReadabilityResult holds Flesch reading ease and Flesch-Kincaid grade.
type ReadabilityResult struct {
	Sentences    int     `json:"sentences" yaml:"sentences"`
	Words        int     `json:"words" yaml:"words"`
	Syllables    int     `json:"syllables" yaml:"syllables"`
	ReadingEase  float64 `json:"reading_ease" yaml:"reading_ease"`
	GradeLevel   float64 `json:"grade_level" yaml:"grade_level"`
	AvgSentence  float64 `json:"avg_sentence_words" yaml:"avg_sentence_words"`
	AvgSyllables float64 `json:"avg_word_syllables" yaml:"avg_word_syllables"`
}

// Readability scores text. Syllables are estimated from vowel groups.
func Readability(text string) ReadabilityResult {
	var res ReadabilityResult
	inSentence := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				res.Sentences++
				inSentence = false
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			inSentence = true
		}
	}
	if inSentence {
		res.Sentences++
	}
	for _, w := range tokenize(text) {
		res.Words++
		res.Syllables += syllables(w)
	}
	if res.Words == 0 || res.Sentences == 0 {
		return res
	}
	wps := float64(res.Words) / float64(res.Sentences)
	spw := float64(res.Syllables) / float64(res.Words)
	res.AvgSentence = round2(wps)
	res.AvgSyllables = round2(spw)
	res.ReadingEase = round2(206.835 - 1.015*wps - 84.6*spw)
	res.GradeLevel = round2(0.39*wps + 11.8*spw - 15.59)
	return res
}

func syllables(word string) int {
	n := 0
	prevVowel := false
	runes := []rune(word)
	for _, r := range runes {
		v := strings.ContainsRune("aeiouyàáâäèéêëìíîïòóôöùúûü", r)
		if v && !prevVowel {
			n++
		}
		prevVowel = v
	}
	if len(runes) > 2 && runes[len(runes)-1] == 'e' && n > 1 && !strings.HasSuffix(word, "le") {
		n--
	}
	return max(n, 1)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func readabilityStage(ctx context.Context, r *run, bit types.StageFlags) {
	text, reason, final := r.text(ctx)
	if reason != "" {
		r.res.skip(bit, reason, final)
		return
	}
	rr := Readability(text)
	r.res.Readability = &rr
	r.res.done(bit)
}

// Keyword is a frequent content term.
type Keyword struct {
	Term  string  `json:"term" yaml:"term"`
	Count int     `json:"count" yaml:"count"`
	Score float64 `json:"score" yaml:"score"`
}

// MaxKeywords bounds the keyword list.
const MaxKeywords = 10

// Keywords ranks content terms by frequency, skipping stopwords of every
// known language, numbers and very short tokens.
func Keywords(text string, limit int) []Keyword {
	counts := map[string]int{}
	total := 0
	for _, w := range tokenize(text) {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 || isNumber(w) || isStopword(w) {
			continue
		}
		counts[w]++
		total++
	}
	out := make([]Keyword, 0, len(counts))
	for term, n := range counts {
		out = append(out, Keyword{Term: term, Count: n, Score: round2(float64(n) / float64(total) * 100)})
	}
	slices.SortFunc(out, func(a, b Keyword) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Term, b.Term)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isStopword(w string) bool {
	for _, set := range stopwordIndex {
		if set[w] {
			return true
		}
	}
	return false
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func keywordsStage(ctx context.Context, r *run, bit types.StageFlags) {
	text, reason, final := r.text(ctx)
	if reason != "" {
		r.res.skip(bit, reason, final)
		return
	}
	r.res.Keywords = Keywords(text, MaxKeywords)
	r.res.done(bit)
}

func tocStage(ctx context.Context, r *run, bit types.StageFlags) {
	ex, err := r.extraction(ctx)
	if err != nil {
		r.res.skip(bit, "extraction unavailable: "+err.Error(), false)
		return
	}
	if len(ex.Outline) == 0 {
		r.res.skip(bit, "no outline", true)
		return
	}
	r.res.TOC = ex.Outline
	r.res.done(bit)
}
