// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build !linux

package prefetch

import (
	"context"
	"os"
)

// readAheadLimit bounds the bytes touched per hinted file.
const readAheadLimit = 64 << 20

// advise reads the head of the file in the background so it lands in the
// page cache. The read stops when the slot is released.
func advise(ctx context.Context, f *os.File) error {
	go func() {
		buf := make([]byte, 1<<20)
		var off int64
		for off < readAheadLimit {
			if ctx.Err() != nil {
				return
			}
			n, err := f.ReadAt(buf, off)
			off += int64(n)
			if err != nil {
				// io.EOF or a closed file ends the read-ahead.
				return
			}
		}
	}()
	return nil
}

func forget(*os.File) error { return nil }
