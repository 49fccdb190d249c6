// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// StageFlags selects post-extraction analyses, one bit per stage.
type StageFlags uint64

const (
	StageLanguageDetect StageFlags = 1 << iota // bit 0
	StageReadability
	StageKeywords
	StageCitations
	StageOCRConfidence // bit 4
	StagePerceptualHash
	StageTOC // bit 6
	StageMultiLangOCR
	StageSubtitle // bit 8
	StagePREMIS   // bit 9
	StageMerkleProof
	StageExactDedup
	StageNearDedup
	StageCoordNormalize
	StageMLNER // bit 14
	StageMLTranscription
	StageMLImageClassify
	StageMLLayout
	StageMLHandwriting
	StageFormatConvert // bit 19
)

// NumStages is the count of defined stage bits.
const NumStages = 20

// Presets. FAST ⊂ ANALYSIS ⊂ ALL.
const (
	StagesNone StageFlags = 0

	StagesFast = StageLanguageDetect | StageReadability | StageKeywords | StageCitations |
		StagePREMIS | StageMerkleProof | StageExactDedup

	StagesAnalysis = StagesFast | StageOCRConfidence | StagePerceptualHash | StageTOC |
		StageSubtitle | StageNearDedup | StageCoordNormalize

	StagesAll StageFlags = 1<<NumStages - 1

	// StagesML is the subset that needs an ML execution provider.
	StagesML = StageMLNER | StageMLTranscription | StageMLImageClassify |
		StageMLLayout | StageMLHandwriting | StageFormatConvert
)

var stageNames = [NumStages]string{
	"language_detect",
	"readability",
	"keywords",
	"citations",
	"ocr_confidence",
	"perceptual_hash",
	"toc",
	"multi_lang_ocr",
	"subtitle",
	"premis",
	"merkle_proof",
	"exact_dedup",
	"near_dedup",
	"coord_normalize",
	"ner",
	"transcription",
	"image_classify",
	"layout",
	"handwriting_ocr",
	"format_convert",
}

var presetNames = map[string]StageFlags{
	"none":     StagesNone,
	"fast":     StagesFast,
	"analysis": StagesAnalysis,
	"all":      StagesAll,
}

// Has reports whether every bit of other is set in f.
func (f StageFlags) Has(other StageFlags) bool { return f&other == other }

// Contains is Has under the name used for preset relations.
func (f StageFlags) Contains(other StageFlags) bool { return f.Has(other) }

// Without clears the bits of other.
func (f StageFlags) Without(other StageFlags) StageFlags { return f &^ other }

// Valid strips undefined bits.
func (f StageFlags) Valid() StageFlags { return f & StagesAll }

// Count returns the number of set bits.
func (f StageFlags) Count() int { return bits.OnesCount64(uint64(f)) }

// Each calls fn for every defined bit set in f, lowest first.
func (f StageFlags) Each(fn func(StageFlags)) {
	for i := 0; i < NumStages; i++ {
		bit := StageFlags(1) << i
		if f&bit != 0 {
			fn(bit)
		}
	}
}

// Names lists the stage names set in f, lowest bit first.
func (f StageFlags) Names() []string {
	var names []string
	f.Each(func(bit StageFlags) {
		names = append(names, stageNames[bits.TrailingZeros64(uint64(bit))])
	})
	return names
}

func (f StageFlags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// ParseStageFlags accepts a preset name, a "|" or "," separated list of
// stage names, or a numeric mask.
func ParseStageFlags(s string) (StageFlags, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return StagesNone, nil
	}
	if p, ok := presetNames[s]; ok {
		return p, nil
	}
	if n, err := strconv.ParseUint(s, 0, 64); err == nil {
		return StageFlags(n).Valid(), nil
	}

	var out StageFlags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		if p, ok := presetNames[part]; ok {
			out |= p
			continue
		}
		found := false
		for i, name := range stageNames {
			if name == part {
				out |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown stage %q", part)
		}
	}
	return out, nil
}
