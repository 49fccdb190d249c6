// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docudactyl/pkg/types"
)

func TestConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("DOCUDACTYL_L2_BACKEND", "redis")
	t.Setenv("DOCUDACTYL_L2_TTL", "1h")
	t.Setenv("DOCUDACTYL_WORKERS", "9")
	t.Chdir(t.TempDir())
	initConfig()

	var c types.Config
	require.NoError(t, viper.Unmarshal(&c))
	def := types.DefaultConfig()
	assert.Equal(t, types.L2Redis, c.L2.Backend)
	assert.Equal(t, time.Hour, c.L2.TTL)
	assert.Equal(t, 9, c.Workers)
	assert.Equal(t, def.Cache.Dir, c.Cache.Dir)
	assert.Equal(t, def.L2.OpTimeout, c.L2.OpTimeout)
	assert.Equal(t, def.Stages.Default, c.Stages.Default)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "a.pdf.txt", outputName("/d/a.pdf", types.FormatText))
	assert.Equal(t, "a.pdf.json", outputName("/d/a.pdf", types.FormatJSON))
	assert.Equal(t, "a.pdf.yaml", outputName("a.pdf", types.FormatYAML))
}

func TestReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("# inputs\n/d/a.pdf\n\n  /d/b.png  \n"), 0o644))

	got, err := readList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/a.pdf", "/d/b.png"}, got)

	_, err = readList(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
