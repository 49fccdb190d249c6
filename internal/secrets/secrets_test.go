// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docudactyl/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) string
		want   map[string]string
		errMsg string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "l2-password", "  pw_abc123  \n")
				writeFile(t, dir, "s3-secret-key", "sk_xyz789")
				writeFile(t, dir, "postgres-dsn", "postgres://u@db/cache\n")
				return dir
			},
			want: map[string]string{
				"l2-password":   "pw_abc123",
				"s3-secret-key": "sk_xyz789",
				"postgres-dsn":  "postgres://u@db/cache",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "server-jwt-secret", "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: map[string]string{
				"server-jwt-secret": "valid-key",
			},
		},
		{
			name: "skips dotfiles",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, "s3-access-key", "ak_real")
				return dir
			},
			want: map[string]string{
				"s3-access-key": "ak_real",
			},
		},
		{
			name: "skips subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "server-jwt-secret", "ak_123")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: map[string]string{
				"server-jwt-secret": "ak_123",
			},
		},
		{
			name: "returns empty map for empty directory",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			got, err := Load(dir)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	// Create a file then remove read permission.
	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir)
	require.NoError(t, err)
	// The good file should still be returned; the bad file is skipped with a warning.
	assert.Equal(t, "value123", got["good-key"])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestApply(t *testing.T) {
	secrets := map[string]string{
		L2Password:      "pw",
		S3AccessKey:     "ak",
		S3SecretKey:     "sk",
		PostgresDSN:     "postgres://u@db/cache",
		ServerJWTSecret: "jwt",
	}

	t.Run("fills empty fields", func(t *testing.T) {
		cfg := types.DefaultConfig()
		cfg.L2.Backend = types.L2Postgres
		used := Apply(&cfg, secrets)
		assert.Equal(t, "pw", cfg.L2.Password)
		assert.Equal(t, "ak", cfg.L2.AccessKey)
		assert.Equal(t, "sk", cfg.L2.SecretKey)
		assert.Equal(t, "postgres://u@db/cache", cfg.L2.Endpoint)
		assert.Equal(t, "jwt", cfg.Server.JWTSecret)
		assert.Len(t, used, 5)
	})

	t.Run("keeps configured values", func(t *testing.T) {
		cfg := types.DefaultConfig()
		cfg.L2.Backend = types.L2Redis
		cfg.L2.Endpoint = "cache:6379"
		cfg.L2.Password = "from-config"
		used := Apply(&cfg, secrets)
		assert.Equal(t, "from-config", cfg.L2.Password)
		assert.Equal(t, "cache:6379", cfg.L2.Endpoint)
		assert.NotContains(t, used, L2Password)
		assert.NotContains(t, used, PostgresDSN)
	})
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
