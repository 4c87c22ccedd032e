// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"codeberg.org/go-mmap/mmap"
	"github.com/izh318/fsb-sdk/internal/fsb4"
	"github.com/izh318/fsb-sdk/internal/fsb5"
)

const (
	scanWindow  = 64 * 1024 // window size for linear signature scans
	copyBufSize = 80 * 1024 // buffer size for stream copies
)

// ChunkRef identifies one FSB chunk inside a container file. Immutable once
// produced by scanning.
type ChunkRef struct {
	Path    string // Source container file
	Offset  uint64 // Absolute byte offset of the chunk start
	Version byte   // '3', '4' or '5'; other values are best-effort
	Length  uint64 // Chunk length in bytes
}

// ResolveChunk builds a ChunkRef for the chunk starting at offset in path,
// computing its byte length. The offset must point at a valid FSB signature.
func ResolveChunk(path string, offset uint64) (ChunkRef, error) {
	file, err := mmap.Open(path)
	if err != nil {
		return ChunkRef{}, fmt.Errorf("fsb: failed to open container %s: %w", path, err)
	}
	defer file.Close()

	info, err := os.Stat(path)
	if err != nil {
		return ChunkRef{}, fmt.Errorf("fsb: failed to stat container %s: %w", path, err)
	}

	var sig [4]byte
	if _, err := file.ReadAt(sig[:], int64(offset)); err != nil {
		return ChunkRef{}, fmt.Errorf("fsb: failed to read signature at %#x: %w", offset, err)
	}
	if string(sig[:3]) != "FSB" {
		return ChunkRef{}, ErrNotFSB
	}

	return ChunkRef{
		Path:    path,
		Offset:  offset,
		Version: sig[3],
		Length:  chunkLength(file, info.Size(), offset),
	}, nil
}

// chunkLength computes the byte length of the chunk starting at offset. The
// header-declared size is trusted when consistent; otherwise the file is
// scanned forward for the next FSB5 signature, falling back to EOF.
func chunkLength(file io.ReaderAt, fileSize int64, offset uint64) uint64 {
	remaining := uint64(fileSize) - offset

	head := make([]byte, scanWindow)
	if remaining < uint64(len(head)) {
		head = head[:remaining]
	}
	if _, err := file.ReadAt(head, int64(offset)); err != nil && err != io.EOF {
		return remaining
	}
	if len(head) < fsb4.MainHeaderSize3 {
		return remaining
	}

	// Fast path: a consistent FSB5 header declares the chunk size itself
	if string(head[:4]) == fsb5.Signature {
		if hdr, err := fsb5.ParseHeader(head); err == nil {
			if total := hdr.TotalSize(); total > 0 && offset+total <= uint64(fileSize) {
				return total
			}
		}
	}

	// Scan forward for the next FSB5 signature, overlapping 3 bytes across
	// window boundaries so a split signature is still found.
	if n, ok := nextSignature(file, fileSize, int64(offset)+4, []byte(fsb5.Signature)); ok {
		return uint64(n) - offset
	}
	return remaining
}

// nextSignature finds the first occurrence of sig at or after start.
func nextSignature(file io.ReaderAt, fileSize, start int64, sig []byte) (int64, bool) {
	overlap := int64(len(sig) - 1)
	window := make([]byte, scanWindow)

	for pos := start; pos < fileSize; pos += scanWindow - overlap {
		buf := window
		if fileSize-pos < int64(len(buf)) {
			buf = buf[:fileSize-pos]
		}
		if _, err := file.ReadAt(buf, pos); err != nil && err != io.EOF {
			return 0, false
		}
		if i := bytes.Index(buf, sig); i >= 0 {
			return pos + int64(i), true
		}
		if int64(len(buf)) < scanWindow {
			break // EOF window
		}
	}
	return 0, false
}

// Boundary returns the byte ranges around the chunk that a patch preserves:
// the prefix length and the absolute offset where the suffix begins.
func (r ChunkRef) Boundary() (prefixLength, suffixStart uint64) {
	return r.Offset, r.Offset + r.Length
}
