// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// ParseStatus is the outcome code carried by every ParseResult.
type ParseStatus int32

const (
	StatusOK                ParseStatus = 0
	StatusError             ParseStatus = 1
	StatusFileNotFound      ParseStatus = 2
	StatusParseError        ParseStatus = 3
	StatusNullPointer       ParseStatus = 4
	StatusUnsupportedFormat ParseStatus = 5
	StatusOutOfMemory       ParseStatus = 6
)

var statusNames = map[ParseStatus]string{
	StatusOK:                "ok",
	StatusError:             "error",
	StatusFileNotFound:      "file_not_found",
	StatusParseError:        "parse_error",
	StatusNullPointer:       "null_pointer",
	StatusUnsupportedFormat: "unsupported_format",
	StatusOutOfMemory:       "out_of_memory",
}

func (s ParseStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Retryable reports whether a caller may re-attempt the parse.
func (s ParseStatus) Retryable() bool {
	return s == StatusError || s == StatusOutOfMemory
}

// ContentKind is the document family detected from leading bytes.
type ContentKind int32

const (
	KindPDF        ContentKind = 0
	KindImage      ContentKind = 1
	KindAudio      ContentKind = 2
	KindVideo      ContentKind = 3
	KindEPUB       ContentKind = 4
	KindGeospatial ContentKind = 5
	KindUnknown    ContentKind = 6
)

var kindNames = [...]string{"pdf", "image", "audio", "video", "epub", "geospatial", "unknown"}

func (k ContentKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// ParseResult is the unit of cached work. It is a value type: copies are
// independent and nothing mutates one after it is returned.
type ParseResult struct {
	Status      ParseStatus `json:"status" yaml:"status"`
	Kind        ContentKind `json:"kind" yaml:"kind"`
	PageCount   int32       `json:"page_count" yaml:"page_count"`
	WordCount   int64       `json:"word_count" yaml:"word_count"`
	CharCount   int64       `json:"char_count" yaml:"char_count"`
	DurationSec float64     `json:"duration_sec" yaml:"duration_sec"`
	ParseTimeMS float64     `json:"parse_time_ms" yaml:"parse_time_ms"`
	SHA256      string      `json:"sha256" yaml:"sha256"`
	ErrorMsg    string      `json:"error_msg,omitempty" yaml:"error_msg,omitempty"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Author      string      `json:"author,omitempty" yaml:"author,omitempty"`
	MIMEType    string      `json:"mime_type" yaml:"mime_type"`
}

// OK reports whether the parse succeeded.
func (r ParseResult) OK() bool { return r.Status == StatusOK }

// Failed builds a well-formed failure result with a populated message.
func Failed(status ParseStatus, kind ContentKind, format string, args ...any) ParseResult {
	return ParseResult{
		Status:   status,
		Kind:     kind,
		ErrorMsg: fmt.Sprintf(format, args...),
	}
}

// Validation is the Conduit pre-pass outcome.
type Validation int32

const (
	ValidationOK         Validation = 0
	ValidationNotFound   Validation = 1
	ValidationEmpty      Validation = 2
	ValidationUnreadable Validation = 3
)

func (v Validation) String() string {
	switch v {
	case ValidationOK:
		return "ok"
	case ValidationNotFound:
		return "not_found"
	case ValidationEmpty:
		return "empty"
	case ValidationUnreadable:
		return "unreadable"
	}
	return fmt.Sprintf("validation(%d)", int32(v))
}

// ParseStatus maps a failed validation onto the status the dispatcher
// surfaces without attempting extraction.
func (v Validation) ParseStatus() ParseStatus {
	switch v {
	case ValidationOK:
		return StatusOK
	case ValidationNotFound:
		return StatusFileNotFound
	case ValidationEmpty:
		return StatusParseError
	}
	return StatusError
}

// ConduitResult is the output of the pre-validation pass. ModTime is carried
// for the L1 key and is not part of the wire record.
type ConduitResult struct {
	Path       string      `json:"path" yaml:"path"`
	Kind       ContentKind `json:"kind" yaml:"kind"`
	Validation Validation  `json:"validation" yaml:"validation"`
	FileSize   int64       `json:"file_size" yaml:"file_size"`
	SHA256     string      `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	MIMEType   string      `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	ModTime    time.Time   `json:"mod_time" yaml:"mod_time"`
}

// Valid reports whether extraction may be attempted.
func (c ConduitResult) Valid() bool { return c.Validation == ValidationOK }

// OcrStatus is the terminal state of one GPU batch slot.
type OcrStatus int32

const (
	OcrSuccess  OcrStatus = 0
	OcrError    OcrStatus = 1
	OcrSkipped  OcrStatus = 2
	OcrGPUError OcrStatus = 3
)

func (s OcrStatus) String() string {
	switch s {
	case OcrSuccess:
		return "success"
	case OcrError:
		return "error"
	case OcrSkipped:
		return "skipped"
	case OcrGPUError:
		return "gpu_error"
	}
	return fmt.Sprintf("ocr(%d)", int32(s))
}

// OcrResult is the per-slot GPU OCR outcome. TextOffset and TextLen locate
// the recognized text inside the slot's output file.
type OcrResult struct {
	Status     OcrStatus `json:"status" yaml:"status"`
	Confidence float32   `json:"confidence" yaml:"confidence"`
	CharCount  int64     `json:"char_count" yaml:"char_count"`
	WordCount  int64     `json:"word_count" yaml:"word_count"`
	GPUTimeUS  float64   `json:"gpu_time_us" yaml:"gpu_time_us"`
	TextOffset int64     `json:"text_offset" yaml:"text_offset"`
	TextLen    int64     `json:"text_len" yaml:"text_len"`
}

// MlStatus is the outcome of one ML stage dispatch.
type MlStatus int32

const (
	MlOK           MlStatus = 0
	MlError        MlStatus = 1
	MlModelMissing MlStatus = 2
	MlInputError   MlStatus = 3
	MlNoRuntime    MlStatus = 4
)

func (s MlStatus) String() string {
	switch s {
	case MlOK:
		return "ok"
	case MlError:
		return "error"
	case MlModelMissing:
		return "model_missing"
	case MlInputError:
		return "input_error"
	case MlNoRuntime:
		return "no_runtime"
	}
	return fmt.Sprintf("ml(%d)", int32(s))
}

// MLStage identifies one of the fixed model-backed stages.
type MLStage int32

const (
	StageNER           MLStage = 0
	StageTranscription MLStage = 1
	StageImageClassify MLStage = 2
	StageLayout        MLStage = 3
	StageHandwriting   MLStage = 4
)

var mlStageNames = [...]string{"ner", "transcription", "image_classify", "layout", "handwriting"}

func (s MLStage) String() string {
	if s >= 0 && int(s) < len(mlStageNames) {
		return mlStageNames[s]
	}
	return fmt.Sprintf("mlstage(%d)", int32(s))
}

// Provider is an ML execution provider. Lower values rank higher.
type Provider int32

const (
	ProviderTensorRT Provider = 0
	ProviderCUDA     Provider = 1
	ProviderROCm     Provider = 2
	ProviderOpenVINO Provider = 3
	ProviderCoreML   Provider = 4
	ProviderCPU      Provider = 5
	ProviderNone     Provider = 6
)

var providerNames = [...]string{"tensorrt", "cuda", "rocm", "openvino", "coreml", "cpu", "none"}

func (p Provider) String() string {
	if p >= 0 && int(p) < len(providerNames) {
		return providerNames[p]
	}
	return fmt.Sprintf("provider(%d)", int32(p))
}

// MlResult is the outcome of one ML stage dispatch.
type MlResult struct {
	Status      MlStatus `json:"status" yaml:"status"`
	Stage       MLStage  `json:"stage" yaml:"stage"`
	Provider    Provider `json:"provider" yaml:"provider"`
	OutputCount int32    `json:"output_count" yaml:"output_count"`
	InferenceMS float64  `json:"inference_ms" yaml:"inference_ms"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	TextOffset  int64    `json:"text_offset" yaml:"text_offset"`
	TextLen     int64    `json:"text_len" yaml:"text_len"`
}

// HashTier names the active SHA-256 implementation.
type HashTier int32

const (
	TierSoftware    HashTier = 0
	TierMultiBuffer HashTier = 1
	TierHardware    HashTier = 2
)

func (t HashTier) String() string {
	switch t {
	case TierSoftware:
		return "software"
	case TierMultiBuffer:
		return "multi_buffer"
	case TierHardware:
		return "hardware"
	}
	return fmt.Sprintf("tier(%d)", int32(t))
}

// CryptoFlag is one detected hardware hashing/crypto feature.
type CryptoFlag uint64

const (
	CryptoSHANI CryptoFlag = 1 << iota
	CryptoAVX2
	CryptoAVX512
	CryptoAESNI
	CryptoSSE42
	CryptoARMSHA2
	CryptoARMAES
	CryptoVAES
	CryptoNEON
)

var cryptoFlagNames = []struct {
	flag CryptoFlag
	name string
}{
	{CryptoSHANI, "sha_ni"},
	{CryptoAVX2, "avx2"},
	{CryptoAVX512, "avx512"},
	{CryptoAESNI, "aes_ni"},
	{CryptoSSE42, "sse4_2"},
	{CryptoARMSHA2, "arm_sha2"},
	{CryptoARMAES, "arm_aes"},
	{CryptoVAES, "vaes"},
	{CryptoNEON, "neon"},
}

// CryptoCapabilities is the process-wide snapshot of hashing hardware.
type CryptoCapabilities struct {
	Flags CryptoFlag `json:"flags" yaml:"flags"`
	Tier  HashTier   `json:"tier" yaml:"tier"`
}

// Has reports whether every bit of f is set.
func (c CryptoCapabilities) Has(f CryptoFlag) bool { return c.Flags&f == f }

// FeatureNames lists the set flags in a stable order.
func (c CryptoCapabilities) FeatureNames() []string {
	var names []string
	for _, fn := range cryptoFlagNames {
		if c.Flags&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}
