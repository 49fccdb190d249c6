// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetSubsetLaw(t *testing.T) {
	for bit := 0; bit < NumStages; bit++ {
		f := StageFlags(1) << bit
		if StagesFast&f != 0 {
			assert.NotZero(t, StagesAnalysis&f, "bit %d in FAST but not ANALYSIS", bit)
		}
		if StagesAnalysis&f != 0 {
			assert.NotZero(t, StagesAll&f, "bit %d in ANALYSIS but not ALL", bit)
		}
	}
	assert.True(t, StagesAnalysis.Contains(StagesFast))
	assert.True(t, StagesAll.Contains(StagesAnalysis))
}

func TestPresetBits(t *testing.T) {
	assert.Equal(t, StageFlags(0x0E0F), StagesFast)
	assert.Equal(t, StageFlags(0x3F7F), StagesAnalysis)
	assert.Equal(t, StageFlags(0xFFFFF), StagesAll)
	assert.Equal(t, StageFlags(1<<19), StageFormatConvert)
	assert.Equal(t, StageFlags(1<<14), StageMLNER)
	assert.Zero(t, StagesAnalysis&StagesML)
}

func TestParseStageFlags(t *testing.T) {
	tests := []struct {
		in      string
		want    StageFlags
		wantErr bool
	}{
		{in: "", want: StagesNone},
		{in: "FAST", want: StagesFast},
		{in: "analysis", want: StagesAnalysis},
		{in: "all", want: StagesAll},
		{in: "keywords|toc", want: StageKeywords | StageTOC},
		{in: "fast, near_dedup", want: StagesFast | StageNearDedup},
		{in: "0x3", want: StageLanguageDetect | StageReadability},
		{in: "4", want: StageKeywords},
		{in: "0xFFFFFFFF", want: StagesAll},
		{in: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStageFlags(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageFlagsNames(t *testing.T) {
	f := StageCitations | StageSubtitle | StageFormatConvert
	assert.Equal(t, []string{"citations", "subtitle", "format_convert"}, f.Names())
	assert.Equal(t, "citations|subtitle|format_convert", f.String())
	assert.Equal(t, "none", StagesNone.String())
	assert.Equal(t, 3, f.Count())

	round, err := ParseStageFlags(f.String())
	require.NoError(t, err)
	assert.Equal(t, f, round)
}

func TestStatusRetryable(t *testing.T) {
	assert.True(t, StatusError.Retryable())
	assert.True(t, StatusOutOfMemory.Retryable())
	for _, s := range []ParseStatus{StatusOK, StatusFileNotFound, StatusParseError, StatusNullPointer, StatusUnsupportedFormat} {
		assert.False(t, s.Retryable(), s.String())
	}
}

func TestValidationParseStatus(t *testing.T) {
	assert.Equal(t, StatusOK, ValidationOK.ParseStatus())
	assert.Equal(t, StatusFileNotFound, ValidationNotFound.ParseStatus())
	assert.Equal(t, StatusParseError, ValidationEmpty.ParseStatus())
	assert.Equal(t, StatusError, ValidationUnreadable.ParseStatus())
}

func TestCryptoCapabilitiesFeatureNames(t *testing.T) {
	c := CryptoCapabilities{Flags: CryptoSHANI | CryptoAVX2 | CryptoNEON, Tier: TierHardware}
	assert.Equal(t, []string{"sha_ni", "avx2", "neon"}, c.FeatureNames())
	assert.True(t, c.Has(CryptoSHANI|CryptoAVX2))
	assert.False(t, c.Has(CryptoAESNI))
	assert.Equal(t, "hardware", c.Tier.String())
}
