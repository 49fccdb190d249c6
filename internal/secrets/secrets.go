// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: l2-password, s3-access-key, s3-secret-key, postgres-dsn,
// server-jwt-secret.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// Key file names.
const (
	L2Password      = "l2-password"
	S3AccessKey     = "s3-access-key"
	S3SecretKey     = "s3-secret-key"
	PostgresDSN     = "postgres-dsn"
	ServerJWTSecret = "server-jwt-secret"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("could not read secret", "name", name, "error", err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills credentials that cfg leaves empty and returns the names of the
// secrets it used. The postgres DSN only applies to the postgres backend.
func Apply(cfg *types.Config, secrets map[string]string) []string {
	var used []string
	fill := func(dst *string, key string) {
		if v, ok := secrets[key]; ok && *dst == "" {
			*dst = v
			used = append(used, key)
		}
	}
	fill(&cfg.L2.Password, L2Password)
	fill(&cfg.L2.AccessKey, S3AccessKey)
	fill(&cfg.L2.SecretKey, S3SecretKey)
	if cfg.L2.Backend == types.L2Postgres {
		fill(&cfg.L2.Endpoint, PostgresDSN)
	}
	fill(&cfg.Server.JWTSecret, ServerJWTSecret)
	return used
}
