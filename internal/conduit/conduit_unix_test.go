// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build unix

package conduit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pdiddy/docudactyl/pkg/types"
)

func TestProcessRejectsFIFO(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pipe.pdf")
	require.NoError(t, unix.Mkfifo(p, 0o644))

	res := Process(p)
	assert.Equal(t, types.ValidationUnreadable, res.Validation)
	assert.Empty(t, res.SHA256)
}

func TestProcessFollowsSymlinkToRegularFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(target, pdfBytes, 0o644))
	link := filepath.Join(dir, "link.pdf")
	require.NoError(t, os.Symlink(target, link))

	res := Process(link)
	assert.Equal(t, types.ValidationOK, res.Validation)
	assert.Equal(t, types.KindPDF, res.Kind)
}
