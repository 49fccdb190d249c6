// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stages

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdiddy/docudactyl/internal/backend"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// MLOutput is one model stage's status and produced text.
type MLOutput struct {
	Result types.MlResult `json:"result" yaml:"result"`
	Text   string         `json:"text,omitempty" yaml:"text,omitempty"`
}

var mlStages = map[types.StageFlags]types.MLStage{
	types.StageMLNER:           types.StageNER,
	types.StageMLTranscription: types.StageTranscription,
	types.StageMLImageClassify: types.StageImageClassify,
	types.StageMLLayout:        types.StageLayout,
	types.StageMLHandwriting:   types.StageHandwriting,
}

// mlApplies reports which content kinds each model accepts. NER reads the
// extracted text, so it applies to any kind.
func mlApplies(stage types.MLStage, kind types.ContentKind) bool {
	switch stage {
	case types.StageNER:
		return true
	case types.StageTranscription:
		return kind == types.KindAudio || kind == types.KindVideo
	case types.StageImageClassify, types.StageHandwriting:
		return kind == types.KindImage
	case types.StageLayout:
		return kind == types.KindPDF || kind == types.KindImage
	}
	return false
}

func mlStage(ctx context.Context, r *run, bit types.StageFlags) {
	stage := mlStages[bit]
	key := stage.String()
	if !mlApplies(stage, r.in.Conduit.Kind) {
		r.res.skip(bit, fmt.Sprintf("%s does not apply to %s", key, r.in.Conduit.Kind), true)
		return
	}
	ml := r.o.opts.ML
	if ml == nil || !ml.Available() {
		r.res.skip(bit, "no ml runtime", false)
		return
	}

	var input io.Reader
	if stage == types.StageNER {
		text, reason, final := r.text(ctx)
		if reason != "" {
			r.res.skip(bit, reason, final)
			return
		}
		input = strings.NewReader(text)
	} else {
		f, err := os.Open(r.in.Conduit.Path)
		if err != nil {
			r.res.skip(bit, "open: "+err.Error(), false)
			return
		}
		defer f.Close()
		input = f
	}

	res, out := ml.RunStage(ctx, stage, input)
	if r.res.ML == nil {
		r.res.ML = map[string]MLOutput{}
	}
	r.res.ML[key] = MLOutput{Result: res, Text: string(out)}
	if res.Status != types.MlOK {
		r.res.skip(bit, res.Status.String(), false)
		return
	}
	r.res.done(bit)
}

// ConvertResult records a format conversion written next to the output.
type ConvertResult struct {
	Format    string `json:"format" yaml:"format"`
	Path      string `json:"path" yaml:"path"`
	Converter string `json:"converter" yaml:"converter"`
	Bytes     int    `json:"bytes" yaml:"bytes"`
}

func convertStage(ctx context.Context, r *run, bit types.StageFlags) {
	conv := r.o.opts.Converter
	if conv == nil {
		r.res.skip(bit, "no converter", false)
		return
	}
	if r.in.Output == "" {
		r.res.skip(bit, "no output path", true)
		return
	}
	c := r.in.Conduit
	ex, err := conv.Extract(ctx, backend.Input{Path: c.Path, Kind: c.Kind, MIMEType: c.MIMEType, Output: r.in.Output})
	if err != nil {
		r.res.skip(bit, conv.Name()+": "+err.Error(), false)
		return
	}
	dst := r.in.Output + ".md"
	if err := os.WriteFile(dst, []byte(ex.Text), 0o644); err != nil {
		r.res.skip(bit, "writing conversion: "+err.Error(), false)
		return
	}
	r.res.Converted = &ConvertResult{Format: "markdown", Path: dst, Converter: conv.Name(), Bytes: len(ex.Text)}
	r.res.done(bit)
}
