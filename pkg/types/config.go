package types

import "time"

// OutputFormat selects how extracted text is written to the output path.
type OutputFormat int32

const (
	FormatText OutputFormat = 0
	FormatJSON OutputFormat = 1
	FormatYAML OutputFormat = 2
)

func (f OutputFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return "text"
}

// ParseOutputFormat maps "text", "json" or "yaml" onto an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch s {
	case "", "text", "txt":
		return FormatText, true
	case "json":
		return FormatJSON, true
	case "yaml", "yml":
		return FormatYAML, true
	}
	return FormatText, false
}

// CacheConfig holds settings for the local L1 store.
type CacheConfig struct {
	// Dir holds the sqlite database. Empty disables L1.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// MaxSizeMB bounds the total size of cached records (default 512).
	MaxSizeMB int64 `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
}

// L2Backend selects the shared store implementation.
type L2Backend string

const (
	L2None     L2Backend = "none"
	L2Redis    L2Backend = "redis"
	L2S3       L2Backend = "s3"
	L2Postgres L2Backend = "postgres"
)

// L2Config holds settings for the shared content-addressed cache.
type L2Config struct {
	// Backend selects none, redis, s3 or postgres.
	Backend L2Backend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Endpoint is host:port for redis, an optional endpoint URL for s3, and
	// a DSN for postgres.
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// Namespace prefixes every key: "<namespace>:<fingerprint>".
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`

	// TTL is passed to the store on every write (default 7 days).
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// OpTimeout bounds each network call (default 2s).
	OpTimeout time.Duration `json:"op_timeout" yaml:"op_timeout" mapstructure:"op_timeout"`

	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`

	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty" mapstructure:"secret_key"`
}

// PrefetchConfig holds the read-ahead window.
type PrefetchConfig struct {
	// Window is the maximum number of documents hinted at once (default 16).
	Window int `json:"window" yaml:"window" mapstructure:"window"`
}

// GPUConfig holds settings for the OCR batch coprocessor.
type GPUConfig struct {
	// MaxBatch is the queue capacity between flushes (default 64).
	MaxBatch int `json:"max_batch" yaml:"max_batch" mapstructure:"max_batch"`

	// PreferredImage and SecondaryImage are OCR container images tried in
	// order. CPU-only is used when neither runs.
	PreferredImage string `json:"preferred_image" yaml:"preferred_image" mapstructure:"preferred_image"`
	SecondaryImage string `json:"secondary_image" yaml:"secondary_image" mapstructure:"secondary_image"`

	// Disabled forces the CPU-only backend.
	Disabled bool `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// MLConfig holds settings for the ML stage dispatcher.
type MLConfig struct {
	// ModelsDir holds one model file per stage.
	ModelsDir string `json:"models_dir" yaml:"models_dir" mapstructure:"models_dir"`

	// Image is the inference container image.
	Image string `json:"image" yaml:"image" mapstructure:"image"`
}

// StagesConfig holds stage pipeline defaults.
type StagesConfig struct {
	// Default is a preset or stage list applied when a request names none.
	Default string `json:"default" yaml:"default" mapstructure:"default"`
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// JWTSecret enables HS256 bearer auth when set.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty" mapstructure:"jwt_secret"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config groups every component configuration.
type Config struct {
	Cache      CacheConfig    `json:"cache" yaml:"cache" mapstructure:"cache"`
	L2         L2Config       `json:"l2" yaml:"l2" mapstructure:"l2"`
	Prefetch   PrefetchConfig `json:"prefetch" yaml:"prefetch" mapstructure:"prefetch"`
	GPU        GPUConfig      `json:"gpu" yaml:"gpu" mapstructure:"gpu"`
	ML         MLConfig       `json:"ml" yaml:"ml" mapstructure:"ml"`
	Stages     StagesConfig   `json:"stages" yaml:"stages" mapstructure:"stages"`
	Workers    int            `json:"workers" yaml:"workers" mapstructure:"workers"`
	SecretsDir string         `json:"secrets_dir" yaml:"secrets_dir" mapstructure:"secrets_dir"`
	Server     ServerConfig   `json:"server" yaml:"server" mapstructure:"server"`
	Log        LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			Dir:       ".docudactyl/cache",
			MaxSizeMB: 512,
		},
		L2: L2Config{
			Backend:   L2None,
			Namespace: "ddac",
			TTL:       7 * 24 * time.Hour,
			OpTimeout: 2 * time.Second,
		},
		Prefetch: PrefetchConfig{Window: 16},
		GPU: GPUConfig{
			MaxBatch:       64,
			PreferredImage: "docudactyl/ocr-nvjpeg:latest",
			SecondaryImage: "docudactyl/ocr-dali:latest",
		},
		ML: MLConfig{
			ModelsDir: ".docudactyl/models",
			Image:     "docudactyl/onnx-runtime:latest",
		},
		Stages:     StagesConfig{Default: "none"},
		Workers:    4,
		SecretsDir: ".secrets",
		Server:     ServerConfig{Addr: ":8080"},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}
