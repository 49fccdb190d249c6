// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the docudactyl CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/docudactyl/internal/dispatch"
	"github.com/pdiddy/docudactyl/internal/secrets"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// cfg is the effective configuration, resolved before every subcommand.
var cfg types.Config

// logger is built from cfg.Log.
var logger *slog.Logger

// rootCmd is the base command for the docudactyl CLI.
var rootCmd = &cobra.Command{
	Use:   "docudactyl",
	Short: "Document ingestion with a two-tier result cache",
	Long: `docudactyl validates, fingerprints and extracts documents (PDF, images,
audio, video, EPUB, geospatial) through external backends. Results are cached
locally by file identity and in a shared store by content fingerprint, and
optional analysis stages run after extraction.

Configuration is read from docudactyl.yaml (in . or ~/.config/docudactyl/),
overridden by DOCUDACTYL_* environment variables and flags. Credentials are
read from the secrets directory (default .secrets/).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		logger = newLogger(cfg.Log)
		slog.SetDefault(logger)

		s, err := secrets.Load(cfg.SecretsDir)
		if err != nil {
			return err
		}
		if used := secrets.Apply(&cfg, s); len(used) > 0 {
			sort.Strings(used)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", used)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./docudactyl.yaml or ~/.config/docudactyl/docudactyl.yaml)")
	pf.String("cache-dir", "", "L1 cache directory; empty disables the local cache")
	pf.String("l2-backend", "", "shared cache backend: none, redis, s3 or postgres")
	pf.String("l2-endpoint", "", "shared cache endpoint (host:port, URL or DSN)")
	pf.String("stages", "", "default stages: none, fast, analysis, all or a stage list")
	pf.Int("workers", 0, "parallel documents in batch mode")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")

	for key, flag := range map[string]string{
		"cache.dir":      "cache-dir",
		"l2.backend":     "l2-backend",
		"l2.endpoint":    "l2-endpoint",
		"stages.default": "stages",
		"workers":        "workers",
		"log.level":      "log-level",
		"log.format":     "log-format",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}
	setDefaults(types.DefaultConfig())
}

// setDefaults registers every configuration key so that environment
// variables are seen by Unmarshal.
func setDefaults(d types.Config) {
	viper.SetDefault("cache.dir", d.Cache.Dir)
	viper.SetDefault("cache.max_size_mb", d.Cache.MaxSizeMB)
	viper.SetDefault("l2.backend", string(d.L2.Backend))
	viper.SetDefault("l2.endpoint", d.L2.Endpoint)
	viper.SetDefault("l2.namespace", d.L2.Namespace)
	viper.SetDefault("l2.ttl", d.L2.TTL)
	viper.SetDefault("l2.op_timeout", d.L2.OpTimeout)
	viper.SetDefault("l2.password", "")
	viper.SetDefault("l2.db", d.L2.DB)
	viper.SetDefault("l2.bucket", "")
	viper.SetDefault("l2.region", "")
	viper.SetDefault("l2.access_key", "")
	viper.SetDefault("l2.secret_key", "")
	viper.SetDefault("prefetch.window", d.Prefetch.Window)
	viper.SetDefault("gpu.max_batch", d.GPU.MaxBatch)
	viper.SetDefault("gpu.preferred_image", d.GPU.PreferredImage)
	viper.SetDefault("gpu.secondary_image", d.GPU.SecondaryImage)
	viper.SetDefault("gpu.disabled", d.GPU.Disabled)
	viper.SetDefault("ml.models_dir", d.ML.ModelsDir)
	viper.SetDefault("ml.image", d.ML.Image)
	viper.SetDefault("stages.default", d.Stages.Default)
	viper.SetDefault("workers", d.Workers)
	viper.SetDefault("secrets_dir", d.SecretsDir)
	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	viper.SetDefault("server.jwt_secret", "")
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("docudactyl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "docudactyl"))
		}
	}

	viper.SetEnvPrefix("DOCUDACTYL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(c types.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openEngine initializes the engine from the resolved configuration.
func openEngine(ctx context.Context) (*dispatch.Engine, error) {
	e, err := dispatch.Init(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}
	return e, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
