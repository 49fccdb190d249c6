// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package conduit

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/docudactyl/internal/hashing"
	"github.com/pdiddy/docudactyl/pkg/types"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
)

func epubHead() []byte {
	b := []byte("PK\x03\x04")
	b = append(b, make([]byte, 26)...)
	b = append(b, "mimetypeapplication/epub+zip"...)
	return b
}

func gpkgHead() []byte {
	b := make([]byte, 100)
	copy(b, "SQLite format 3\x00")
	copy(b[68:], "GPKG")
	return b
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want types.ContentKind
	}{
		{name: "pdf", head: pdfBytes, want: types.KindPDF},
		{name: "png", head: pngBytes, want: types.KindImage},
		{name: "epub", head: epubHead(), want: types.KindEPUB},
		{name: "geopackage", head: gpkgHead(), want: types.KindGeospatial},
		{name: "flatgeobuf", head: []byte("fgb\x03fgb\x00rest"), want: types.KindGeospatial},
		{name: "plain text", head: []byte("just some words\n"), want: types.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, mime := Sniff(tt.head)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, mime)
		})
	}
}

func TestProcessIgnoresExtension(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "report.txt", pdfBytes)

	r := Process(p)
	require.True(t, r.Valid())
	assert.Equal(t, types.KindPDF, r.Kind)
	assert.Equal(t, "application/pdf", r.MIMEType)
	assert.Equal(t, int64(len(pdfBytes)), r.FileSize)
	assert.Equal(t, hashing.SumBytes(pdfBytes), r.SHA256)
	assert.False(t, r.ModTime.IsZero())
}

func TestProcessLargeFileHashesEverything(t *testing.T) {
	dir := t.TempDir()
	data := append([]byte{}, pdfBytes...)
	for len(data) < 3*headSize+17 {
		data = append(data, "lorem ipsum dolor sit amet "...)
	}
	p := writeFile(t, dir, "big", data)

	r := Process(p)
	require.True(t, r.Valid())
	assert.Equal(t, hashing.SumBytes(data), r.SHA256)
	assert.Equal(t, int64(len(data)), r.FileSize)
}

func TestProcessValidation(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.pdf", nil)

	tests := []struct {
		name string
		path string
		want types.Validation
	}{
		{name: "missing", path: filepath.Join(dir, "nope.pdf"), want: types.ValidationNotFound},
		{name: "empty", path: empty, want: types.ValidationEmpty},
		{name: "directory", path: dir, want: types.ValidationUnreadable},
	}
	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		locked := writeFile(t, dir, "locked.pdf", pdfBytes)
		require.NoError(t, os.Chmod(locked, 0o000))
		tests = append(tests, struct {
			name string
			path string
			want types.Validation
		}{name: "permission", path: locked, want: types.ValidationUnreadable})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Process(tt.path)
			assert.Equal(t, tt.want, r.Validation)
			assert.Empty(t, r.SHA256)
			assert.False(t, r.Valid())
		})
	}
}

func TestProcessBatch(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.pdf", pdfBytes),
		filepath.Join(dir, "missing.pdf"),
		writeFile(t, dir, "b.png", pngBytes),
		writeFile(t, dir, "empty", nil),
		writeFile(t, dir, "c.bin", pdfBytes),
	}

	got := ProcessBatch(context.Background(), paths, 2)
	require.Len(t, got.Results, len(paths))
	assert.Equal(t, 3, got.Valid)
	assert.Equal(t, 2, got.Invalid())
	for i, r := range got.Results {
		assert.Equal(t, paths[i], r.Path)
	}
	assert.Equal(t, types.ValidationNotFound, got.Results[1].Validation)
	assert.Equal(t, types.KindImage, got.Results[2].Kind)
	assert.Equal(t, got.Results[0].SHA256, got.Results[4].SHA256, "identical bytes share a fingerprint")
}
