// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build linux

package prefetch

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

// advise asks the kernel to read the whole file ahead.
func advise(_ context.Context, f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_WILLNEED)
}

// forget drops the file's pages once the document has been processed.
func forget(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
