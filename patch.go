// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// patchChunk splices a rebuilt chunk into a copy of the source container:
// bytes before the chunk, the rebuilt chunk, then bytes after the original
// chunk, all stream-copied into destination. Because the rebuilt chunk has
// been padded to the original chunk length, every offset outside the chunk
// is preserved bit-exact.
func patchChunk(source string, chunkStart, chunkLength uint64, rebuilt, destination string) error {
	if samePath(source, destination) {
		return ErrSamePath
	}

	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("fsb: patch failed to open source: %w", err)
	}
	defer src.Close()

	reb, err := os.Open(rebuilt)
	if err != nil {
		return fmt.Errorf("fsb: patch failed to open rebuilt chunk: %w", err)
	}
	defer reb.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("fsb: patch failed to create destination: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, copyBufSize)

	// Prefix
	if _, err := io.CopyBuffer(dst, io.NewSectionReader(src, 0, int64(chunkStart)), buf); err != nil {
		return fmt.Errorf("fsb: patch failed to copy prefix: %w", err)
	}

	// Rebuilt chunk
	if _, err := io.CopyBuffer(dst, reb, buf); err != nil {
		return fmt.Errorf("fsb: patch failed to copy rebuilt chunk: %w", err)
	}

	// Suffix
	if _, err := src.Seek(int64(chunkStart+chunkLength), io.SeekStart); err != nil {
		return fmt.Errorf("fsb: patch failed to seek past chunk: %w", err)
	}
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		return fmt.Errorf("fsb: patch failed to copy suffix: %w", err)
	}

	if err := dst.Sync(); err != nil {
		return fmt.Errorf("fsb: patch failed to sync destination: %w", err)
	}
	return nil
}

// samePath reports whether two paths name the same file.
func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}
