// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package abi holds the fixed-layout wire records exchanged with foreign
// callers and stored in the caches. Every record is little-endian, 8-byte
// aligned, and checked against its published size at compile time.
package abi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
	"unsafe"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// Published record sizes.
const (
	ParseResultSize        = 952
	OcrResultSize          = 48
	MlResultSize           = 48
	CryptoCapabilitiesSize = 16
	ConduitResultSize      = 88

	recordAlign = 8

	sha256Len = 65
	msgLen    = 256
	mimeLen   = 64
)

type cParseResult struct {
	Status      int32
	Kind        int32
	PageCount   int32
	_           int32
	WordCount   int64
	CharCount   int64
	DurationSec float64
	ParseTimeMS float64
	SHA256      [sha256Len]byte
	_           [7]byte
	ErrorMsg    [msgLen]byte
	Title       [msgLen]byte
	Author      [msgLen]byte
	MIMEType    [mimeLen]byte
}

type cOcrResult struct {
	Status     int32
	Confidence float32
	CharCount  int64
	WordCount  int64
	GPUTimeUS  float64
	TextOffset int64
	TextLen    int64
}

type cMlResult struct {
	Status      int32
	Stage       int32
	Provider    int32
	OutputCount int32
	InferenceMS float64
	Confidence  float64
	TextOffset  int64
	TextLen     int64
}

type cCryptoCapabilities struct {
	Flags uint64
	Tier  int32
	_     int32
}

type cConduitResult struct {
	Kind       int32
	Validation int32
	FileSize   int64
	SHA256     [sha256Len]byte
	_          [7]byte
}

// Both subtractions must be non-negative constants, so any drift in field
// layout fails the build.
const (
	_ = uint(ParseResultSize - unsafe.Sizeof(cParseResult{}))
	_ = uint(unsafe.Sizeof(cParseResult{}) - ParseResultSize)
	_ = uint(recordAlign - unsafe.Alignof(cParseResult{}))
	_ = uint(unsafe.Alignof(cParseResult{}) - recordAlign)

	_ = uint(OcrResultSize - unsafe.Sizeof(cOcrResult{}))
	_ = uint(unsafe.Sizeof(cOcrResult{}) - OcrResultSize)

	_ = uint(MlResultSize - unsafe.Sizeof(cMlResult{}))
	_ = uint(unsafe.Sizeof(cMlResult{}) - MlResultSize)

	_ = uint(CryptoCapabilitiesSize - unsafe.Sizeof(cCryptoCapabilities{}))
	_ = uint(unsafe.Sizeof(cCryptoCapabilities{}) - CryptoCapabilitiesSize)

	_ = uint(ConduitResultSize - unsafe.Sizeof(cConduitResult{}))
	_ = uint(unsafe.Sizeof(cConduitResult{}) - ConduitResultSize)
)

// putString copies s into dst as a NUL-terminated string, truncating at a
// rune boundary so the stored bytes stay valid UTF-8.
func putString(dst []byte, s string) {
	limit := len(dst) - 1
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	n := copy(dst, s)
	clear(dst[n:])
}

func getString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

func encode(v any, size int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	// Writes to a bytes.Buffer of fixed-size fields cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decode(b []byte, v any, size int, name string) error {
	if len(b) != size {
		return fmt.Errorf("decoding %s: got %d bytes, want %d", name, len(b), size)
	}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

// EncodeParseResult renders r as its 952-byte wire record.
func EncodeParseResult(r types.ParseResult) []byte {
	var c cParseResult
	c.Status = int32(r.Status)
	c.Kind = int32(r.Kind)
	c.PageCount = r.PageCount
	c.WordCount = r.WordCount
	c.CharCount = r.CharCount
	c.DurationSec = r.DurationSec
	c.ParseTimeMS = r.ParseTimeMS
	putString(c.SHA256[:], r.SHA256)
	putString(c.ErrorMsg[:], r.ErrorMsg)
	putString(c.Title[:], r.Title)
	putString(c.Author[:], r.Author)
	putString(c.MIMEType[:], r.MIMEType)
	return encode(&c, ParseResultSize)
}

// DecodeParseResult parses a 952-byte wire record.
func DecodeParseResult(b []byte) (types.ParseResult, error) {
	var c cParseResult
	if err := decode(b, &c, ParseResultSize, "parse result"); err != nil {
		return types.ParseResult{}, err
	}
	return types.ParseResult{
		Status:      types.ParseStatus(c.Status),
		Kind:        types.ContentKind(c.Kind),
		PageCount:   c.PageCount,
		WordCount:   c.WordCount,
		CharCount:   c.CharCount,
		DurationSec: c.DurationSec,
		ParseTimeMS: c.ParseTimeMS,
		SHA256:      getString(c.SHA256[:]),
		ErrorMsg:    getString(c.ErrorMsg[:]),
		Title:       getString(c.Title[:]),
		Author:      getString(c.Author[:]),
		MIMEType:    getString(c.MIMEType[:]),
	}, nil
}

// Normalize returns r as it would read back after a wire round trip, with
// every string truncated to its field width.
func Normalize(r types.ParseResult) types.ParseResult {
	out, _ := DecodeParseResult(EncodeParseResult(r))
	return out
}

func EncodeOcrResult(r types.OcrResult) []byte {
	return encode(&cOcrResult{
		Status:     int32(r.Status),
		Confidence: r.Confidence,
		CharCount:  r.CharCount,
		WordCount:  r.WordCount,
		GPUTimeUS:  r.GPUTimeUS,
		TextOffset: r.TextOffset,
		TextLen:    r.TextLen,
	}, OcrResultSize)
}

func DecodeOcrResult(b []byte) (types.OcrResult, error) {
	var c cOcrResult
	if err := decode(b, &c, OcrResultSize, "ocr result"); err != nil {
		return types.OcrResult{}, err
	}
	return types.OcrResult{
		Status:     types.OcrStatus(c.Status),
		Confidence: c.Confidence,
		CharCount:  c.CharCount,
		WordCount:  c.WordCount,
		GPUTimeUS:  c.GPUTimeUS,
		TextOffset: c.TextOffset,
		TextLen:    c.TextLen,
	}, nil
}

func EncodeMlResult(r types.MlResult) []byte {
	return encode(&cMlResult{
		Status:      int32(r.Status),
		Stage:       int32(r.Stage),
		Provider:    int32(r.Provider),
		OutputCount: r.OutputCount,
		InferenceMS: r.InferenceMS,
		Confidence:  r.Confidence,
		TextOffset:  r.TextOffset,
		TextLen:     r.TextLen,
	}, MlResultSize)
}

func DecodeMlResult(b []byte) (types.MlResult, error) {
	var c cMlResult
	if err := decode(b, &c, MlResultSize, "ml result"); err != nil {
		return types.MlResult{}, err
	}
	return types.MlResult{
		Status:      types.MlStatus(c.Status),
		Stage:       types.MLStage(c.Stage),
		Provider:    types.Provider(c.Provider),
		OutputCount: c.OutputCount,
		InferenceMS: c.InferenceMS,
		Confidence:  c.Confidence,
		TextOffset:  c.TextOffset,
		TextLen:     c.TextLen,
	}, nil
}

func EncodeCryptoCapabilities(c types.CryptoCapabilities) []byte {
	return encode(&cCryptoCapabilities{Flags: uint64(c.Flags), Tier: int32(c.Tier)}, CryptoCapabilitiesSize)
}

func DecodeCryptoCapabilities(b []byte) (types.CryptoCapabilities, error) {
	var c cCryptoCapabilities
	if err := decode(b, &c, CryptoCapabilitiesSize, "crypto capabilities"); err != nil {
		return types.CryptoCapabilities{}, err
	}
	return types.CryptoCapabilities{Flags: types.CryptoFlag(c.Flags), Tier: types.HashTier(c.Tier)}, nil
}

// EncodeConduitResult renders the wire fields of r. Path, MIME type and
// modification time are not part of the record.
func EncodeConduitResult(r types.ConduitResult) []byte {
	c := cConduitResult{
		Kind:       int32(r.Kind),
		Validation: int32(r.Validation),
		FileSize:   r.FileSize,
	}
	putString(c.SHA256[:], r.SHA256)
	return encode(&c, ConduitResultSize)
}

func DecodeConduitResult(b []byte) (types.ConduitResult, error) {
	var c cConduitResult
	if err := decode(b, &c, ConduitResultSize, "conduit result"); err != nil {
		return types.ConduitResult{}, err
	}
	return types.ConduitResult{
		Kind:       types.ContentKind(c.Kind),
		Validation: types.Validation(c.Validation),
		FileSize:   c.FileSize,
		SHA256:     getString(c.SHA256[:]),
	}, nil
}
