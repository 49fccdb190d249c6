// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stages

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-text/typesetting/language"
	"golang.org/x/image/draw"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// OCRConfidenceResult summarizes recognition quality for an image.
type OCRConfidenceResult struct {
	Status     string  `json:"status" yaml:"status"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Words      int64   `json:"words" yaml:"words"`
	Chars      int64   `json:"chars" yaml:"chars"`
	Engine     string  `json:"engine" yaml:"engine"`
	Low        bool    `json:"low" yaml:"low"`
}

// LowConfidence marks OCR output that likely needs review.
const LowConfidence = 0.6

func ocrConfidenceStage(ctx context.Context, r *run, bit types.StageFlags) {
	if r.in.Conduit.Kind != types.KindImage {
		r.res.skip(bit, "not an image", true)
		return
	}
	ex, err := r.extraction(ctx)
	if err != nil {
		r.res.skip(bit, "extraction unavailable: "+err.Error(), false)
		return
	}
	if ex.OCR == nil {
		r.res.skip(bit, "no ocr result", true)
		return
	}
	conf := math.Round(float64(ex.OCR.Confidence)*1000) / 1000
	r.res.OCRConfidence = &OCRConfidenceResult{
		Status:     ex.OCR.Status.String(),
		Confidence: conf,
		Words:      ex.OCR.WordCount,
		Chars:      ex.OCR.CharCount,
		Engine:     ex.Backend,
		Low:        conf < LowConfidence,
	}
	r.res.done(bit)
}

// DHash is a 64-bit difference hash: the image is scaled to 9x8 grey and
// each bit records whether a pixel is brighter than its right neighbour.
func DHash(img image.Image) uint64 {
	g := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.ApproxBiLinear.Scale(g, g.Bounds(), img, img.Bounds(), draw.Src, nil)
	var h uint64
	bit := 0
	for y := range 8 {
		for x := range 8 {
			if g.GrayAt(x, y).Y > g.GrayAt(x+1, y).Y {
				h |= 1 << bit
			}
			bit++
		}
	}
	return h
}

func perceptualHashStage(_ context.Context, r *run, bit types.StageFlags) {
	if r.in.Conduit.Kind != types.KindImage {
		r.res.skip(bit, "not an image", true)
		return
	}
	f, err := os.Open(r.in.Conduit.Path)
	if err != nil {
		r.res.skip(bit, "open: "+err.Error(), false)
		return
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		r.res.skip(bit, "decode: "+err.Error(), true)
		return
	}
	r.res.PerceptualHash = fmt.Sprintf("%016x", DHash(img))
	r.res.done(bit)
}

// MultiLangResult is a second OCR pass with every detected script's
// language model loaded.
type MultiLangResult struct {
	Languages  []string `json:"languages" yaml:"languages"`
	Scripts    []string `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Chars      int      `json:"chars" yaml:"chars"`
	Text       string   `json:"text,omitempty" yaml:"text,omitempty"`
}

// tesseractLangs maps scripts to tesseract traineddata names.
var tesseractLangs = map[language.Script][]string{
	language.Latin:      {"eng"},
	language.Cyrillic:   {"rus"},
	language.Greek:      {"ell"},
	language.Arabic:     {"ara"},
	language.Hebrew:     {"heb"},
	language.Han:        {"chi_sim"},
	language.Hiragana:   {"jpn"},
	language.Katakana:   {"jpn"},
	language.Hangul:     {"kor"},
	language.Devanagari: {"hin"},
	language.Thai:       {"tha"},
	language.Bengali:    {"ben"},
	language.Tamil:      {"tam"},
	language.Georgian:   {"kat"},
	language.Armenian:   {"hye"},
}

// minScriptShare drops scripts that are likely OCR noise.
const minScriptShare = 0.05

// OCRLanguages picks tesseract languages for the scripts in text, most
// frequent first. It falls back to eng.
func OCRLanguages(text string) ([]string, []string) {
	shares, _ := scriptShares(text)
	scripts := make([]language.Script, 0, len(shares))
	for s, v := range shares {
		if v >= minScriptShare {
			scripts = append(scripts, s)
		}
	}
	slices.SortFunc(scripts, func(a, b language.Script) int {
		if shares[a] != shares[b] {
			if shares[a] > shares[b] {
				return -1
			}
			return 1
		}
		return int(a) - int(b)
	})
	var langs, names []string
	for _, s := range scripts {
		names = append(names, s.String())
		for _, l := range tesseractLangs[s] {
			if !slices.Contains(langs, l) {
				langs = append(langs, l)
			}
		}
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return langs, names
}

func multiLangOCRStage(ctx context.Context, r *run, bit types.StageFlags) {
	if r.in.Conduit.Kind != types.KindImage {
		r.res.skip(bit, "not an image", true)
		return
	}
	ocr := r.o.opts.OCR
	if ocr == nil {
		r.res.skip(bit, "no ocr engine", false)
		return
	}
	var seed string
	if ex, err := r.extraction(ctx); err == nil {
		seed = ex.Text
	}
	langs, scripts := OCRLanguages(seed)
	out, err := ocr.Recognize(ctx, r.in.Conduit.Path, langs)
	if err != nil {
		r.res.skip(bit, ocr.Name()+": "+err.Error(), false)
		return
	}
	r.res.MultiLangOCR = &MultiLangResult{
		Languages:  langs,
		Scripts:    scripts,
		Confidence: math.Round(out.Confidence*1000) / 1000,
		Chars:      len([]rune(out.Text)),
		Text:       out.Text,
	}
	r.res.done(bit)
}

// SubtitleResult is a parsed .srt or .vtt sidecar.
type SubtitleResult struct {
	Path        string  `json:"path" yaml:"path"`
	Format      string  `json:"format" yaml:"format"`
	Cues        int     `json:"cues" yaml:"cues"`
	DurationSec float64 `json:"duration_sec" yaml:"duration_sec"`
	Text        string  `json:"text,omitempty" yaml:"text,omitempty"`
}

// subtitleSidecar returns the first existing subtitle file that shares
// the media file's base name.
func subtitleSidecar(path string) (string, bool) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".srt", ".vtt", ".SRT", ".VTT"} {
		if fi, err := os.Stat(base + ext); err == nil && fi.Mode().IsRegular() {
			return base + ext, true
		}
	}
	return "", false
}

// ParseSubtitles reads SRT or WebVTT cues. Cue numbers, headers and
// NOTE blocks are dropped; cue text is joined with newlines.
func ParseSubtitles(path string) (SubtitleResult, error) {
	res := SubtitleResult{Path: path, Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")}
	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close()

	var lines []string
	inCue, inNote := false, false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		switch {
		case line == "":
			inCue, inNote = false, false
		case inNote:
		case strings.HasPrefix(line, "WEBVTT"):
		case strings.HasPrefix(line, "NOTE") && !inCue:
			inNote = true
		case strings.Contains(line, "-->"):
			inCue = true
			res.Cues++
			_, end, _ := strings.Cut(line, "-->")
			fields := strings.Fields(end)
			if len(fields) > 0 {
				if sec, ok := parseTimestamp(fields[0]); ok && sec > res.DurationSec {
					res.DurationSec = sec
				}
			}
		case inCue:
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return res, err
	}
	res.Text = strings.Join(lines, "\n")
	return res, nil
}

// parseTimestamp reads hh:mm:ss,mmm or mm:ss.mmm.
func parseTimestamp(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

func subtitleStage(_ context.Context, r *run, bit types.StageFlags) {
	if k := r.in.Conduit.Kind; k != types.KindAudio && k != types.KindVideo {
		r.res.skip(bit, "not audio or video", true)
		return
	}
	path, ok := subtitleSidecar(r.in.Conduit.Path)
	if !ok {
		r.res.skip(bit, "no subtitle sidecar", true)
		return
	}
	sub, err := ParseSubtitles(path)
	if err != nil {
		r.res.skip(bit, "reading subtitles: "+err.Error(), false)
		return
	}
	r.res.Subtitles = &sub
	r.res.done(bit)
}

// CoordResult holds geographic corner points normalized to longitude in
// [-180, 180) and latitude in [-90, 90], with their bounding box.
type CoordResult struct {
	Points [][2]float64 `json:"points" yaml:"points"`
	MinLon float64      `json:"min_lon" yaml:"min_lon"`
	MinLat float64      `json:"min_lat" yaml:"min_lat"`
	MaxLon float64      `json:"max_lon" yaml:"max_lon"`
	MaxLat float64      `json:"max_lat" yaml:"max_lat"`
}

// NormalizeCoordinates wraps longitudes and clamps latitudes. It reports
// false when the points are clearly projected rather than geographic.
func NormalizeCoordinates(pts [][2]float64) (CoordResult, bool) {
	res := CoordResult{
		MinLon: math.Inf(1), MinLat: math.Inf(1),
		MaxLon: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	for _, p := range pts {
		lon, lat := p[0], p[1]
		if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lon) > 540 || math.Abs(lat) > 180 {
			return CoordResult{}, false
		}
		lon = math.Mod(lon+180, 360)
		if lon < 0 {
			lon += 360
		}
		lon -= 180
		lat = math.Max(-90, math.Min(90, lat))
		res.Points = append(res.Points, [2]float64{lon, lat})
		res.MinLon, res.MaxLon = math.Min(res.MinLon, lon), math.Max(res.MaxLon, lon)
		res.MinLat, res.MaxLat = math.Min(res.MinLat, lat), math.Max(res.MaxLat, lat)
	}
	return res, len(res.Points) > 0
}

func coordStage(ctx context.Context, r *run, bit types.StageFlags) {
	if r.in.Conduit.Kind != types.KindGeospatial {
		r.res.skip(bit, "not geospatial", true)
		return
	}
	ex, err := r.extraction(ctx)
	if err != nil {
		r.res.skip(bit, "extraction unavailable: "+err.Error(), false)
		return
	}
	if len(ex.Coordinates) == 0 {
		r.res.skip(bit, "no coordinates", true)
		return
	}
	c, ok := NormalizeCoordinates(ex.Coordinates)
	if !ok {
		r.res.skip(bit, "coordinates are not geographic", true)
		return
	}
	r.res.Coordinates = &c
	r.res.done(bit)
}
