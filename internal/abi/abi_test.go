// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package abi

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docudactyl/pkg/types"
)

func sampleResult() types.ParseResult {
	return types.ParseResult{
		Status:      types.StatusOK,
		Kind:        types.KindPDF,
		PageCount:   12,
		WordCount:   4021,
		CharCount:   25110,
		DurationSec: 0,
		ParseTimeMS: 183.25,
		SHA256:      strings.Repeat("ab", 32),
		Title:       "Annual Report",
		Author:      "Jane Doe",
		MIMEType:    "application/pdf",
	}
}

func TestParseResultLayout(t *testing.T) {
	b := EncodeParseResult(sampleResult())
	require.Len(t, b, ParseResultSize)

	le := binary.LittleEndian
	assert.Equal(t, uint32(types.StatusOK), le.Uint32(b[0:]))
	assert.Equal(t, uint32(types.KindPDF), le.Uint32(b[4:]))
	assert.Equal(t, uint32(12), le.Uint32(b[8:]))
	assert.Equal(t, uint32(0), le.Uint32(b[12:]), "padding")
	assert.Equal(t, uint64(4021), le.Uint64(b[16:]))
	assert.Equal(t, uint64(25110), le.Uint64(b[24:]))
	assert.Equal(t, 183.25, math.Float64frombits(le.Uint64(b[40:])))
	assert.Equal(t, strings.Repeat("ab", 32), string(b[48:48+64]))
	assert.Equal(t, byte(0), b[48+64], "fingerprint terminator")
	assert.Equal(t, "Annual Report", string(b[120+256:120+256+13]))
	assert.Equal(t, "Jane Doe", string(b[120+512:120+512+8]))
	assert.Equal(t, "application/pdf", string(b[888:888+15]))
}

func TestParseResultRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   types.ParseResult
	}{
		{name: "full", in: sampleResult()},
		{name: "zero", in: types.ParseResult{}},
		{name: "failure", in: types.Failed(types.StatusOutOfMemory, types.KindVideo, "decoder ran out of memory at frame %d", 88)},
		{name: "extremes", in: types.ParseResult{
			PageCount:   math.MaxInt32,
			WordCount:   math.MaxInt64,
			CharCount:   math.MinInt64,
			DurationSec: math.Inf(1),
			ParseTimeMS: math.SmallestNonzeroFloat64,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeParseResult(EncodeParseResult(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestStringTruncation(t *testing.T) {
	long := strings.Repeat("é", 200) // 400 bytes
	r := types.ParseResult{Title: long, MIMEType: strings.Repeat("x", 100)}
	got := Normalize(r)

	assert.LessOrEqual(t, len(got.Title), 255)
	assert.True(t, utf8.ValidString(got.Title))
	assert.True(t, strings.HasPrefix(long, got.Title))
	assert.Len(t, got.MIMEType, 63)
}

func TestDecodeWrongSize(t *testing.T) {
	_, err := DecodeParseResult(make([]byte, 951))
	require.Error(t, err)
	_, err = DecodeOcrResult(nil)
	require.Error(t, err)
}

func TestSecondaryRecords(t *testing.T) {
	ocr := types.OcrResult{Status: types.OcrGPUError, Confidence: 0.5, CharCount: 9, WordCount: 2, GPUTimeUS: 12.5, TextOffset: 4, TextLen: 9}
	b := EncodeOcrResult(ocr)
	require.Len(t, b, OcrResultSize)
	gotOcr, err := DecodeOcrResult(b)
	require.NoError(t, err)
	assert.Equal(t, ocr, gotOcr)

	ml := types.MlResult{Status: types.MlModelMissing, Stage: types.StageLayout, Provider: types.ProviderCUDA, OutputCount: 3, InferenceMS: 1.5, Confidence: 0.9, TextOffset: 1, TextLen: 2}
	b = EncodeMlResult(ml)
	require.Len(t, b, MlResultSize)
	gotMl, err := DecodeMlResult(b)
	require.NoError(t, err)
	assert.Equal(t, ml, gotMl)

	caps := types.CryptoCapabilities{Flags: types.CryptoSHANI | types.CryptoAVX2, Tier: types.TierHardware}
	b = EncodeCryptoCapabilities(caps)
	require.Len(t, b, CryptoCapabilitiesSize)
	gotCaps, err := DecodeCryptoCapabilities(b)
	require.NoError(t, err)
	assert.Equal(t, caps, gotCaps)

	cr := types.ConduitResult{Kind: types.KindEPUB, Validation: types.ValidationOK, FileSize: 2048, SHA256: strings.Repeat("0f", 32)}
	b = EncodeConduitResult(cr)
	require.Len(t, b, ConduitResultSize)
	gotCr, err := DecodeConduitResult(b)
	require.NoError(t, err)
	assert.Equal(t, cr, gotCr)
}
