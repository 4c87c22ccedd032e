// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/izh318/fsb-sdk/internal/fsb4"
	"github.com/izh318/fsb-sdk/internal/fsb5"
	"github.com/stretchr/testify/require"
)

// legacySample describes one sub-sound of a synthetic FSB3/FSB4 chunk.
type legacySample struct {
	name      string
	mode      uint32
	channels  uint16
	freq      int32
	pcmLen    uint32
	loopStart uint32
	loopEnd   uint32
	data      []byte
}

// buildLegacyChunk assembles a bit-exact FSB3/FSB4 chunk: main header,
// 64-byte sample records, then the payloads with version-dependent
// alignment padding.
func buildLegacyChunk(version byte, globalMode uint32, samples []legacySample) []byte {
	hdrSize := fsb4.MainHeaderSize3
	if version == '4' {
		hdrSize = fsb4.MainHeaderSize4
	}
	aligned := version == '4' || globalMode&fsb4.ModeStereo != 0
	shdrSize := fsb4.SampleFixedSize * len(samples)

	// The data cursor aligns on absolute chunk offsets, so padding depends
	// on where the data region starts.
	dataStart := hdrSize + shdrSize
	var data []byte
	for i, s := range samples {
		data = append(data, s.data...)
		if aligned && i < len(samples)-1 {
			for (dataStart+len(data))%fsb4.DataAlign != 0 {
				data = append(data, 0)
			}
		}
	}

	buf := make([]byte, hdrSize+shdrSize)
	if version == '4' {
		copy(buf, fsb4.Sig4)
	} else {
		copy(buf, fsb4.Sig3)
	}
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(samples)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(shdrSize))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[20:], globalMode)

	for i, s := range samples {
		rec := buf[hdrSize+i*fsb4.SampleFixedSize:]
		binary.LittleEndian.PutUint16(rec[0:], fsb4.SampleFixedSize)
		copy(rec[2:2+fsb4.NameLen], s.name)
		binary.LittleEndian.PutUint32(rec[32:], s.pcmLen)
		binary.LittleEndian.PutUint32(rec[36:], uint32(len(s.data)))
		binary.LittleEndian.PutUint32(rec[40:], s.loopStart)
		binary.LittleEndian.PutUint32(rec[44:], s.loopEnd)
		binary.LittleEndian.PutUint32(rec[48:], s.mode)
		binary.LittleEndian.PutUint32(rec[52:], uint32(s.freq))
		binary.LittleEndian.PutUint16(rec[62:], s.channels)
	}
	return append(buf, data...)
}

// fsb5Sample describes one sub-sound of a synthetic FSB5 chunk.
type fsb5Sample struct {
	rate      uint32
	channels  uint16
	bits      uint16
	pcmLen    uint32
	codec     Codec
	loopStart uint32
	loopEnd   uint32
	data      []byte
}

// buildFSB5Chunk assembles a bit-exact FSB5 chunk. When padTo is nonzero the
// data section is inflated with zero bytes so the header-declared total size
// equals padTo, the way banks pad chunks up to the next one.
func buildFSB5Chunk(subVersion uint32, samples []fsb5Sample, padTo int) []byte {
	recSize := 64
	payloadField := 52
	if subVersion >= 1 {
		recSize = 80
		payloadField = 68
	}

	var dataSize int
	for _, s := range samples {
		dataSize += len(s.data)
	}
	total := fsb5.MainHeaderSize + recSize*len(samples) + dataSize
	if padTo > total {
		dataSize += padTo - total
		total = padTo
	}

	buf := make([]byte, total)
	copy(buf, fsb5.Signature)
	binary.LittleEndian.PutUint32(buf[4:], subVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(samples)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(recSize*len(samples)))
	binary.LittleEndian.PutUint32(buf[16:], 0)
	binary.LittleEndian.PutUint32(buf[20:], uint32(dataSize))

	offset := 0
	for i, s := range samples {
		rec := buf[fsb5.MainHeaderSize+i*recSize:]
		binary.LittleEndian.PutUint32(rec[0:], s.rate)
		binary.LittleEndian.PutUint16(rec[4:], s.channels)
		binary.LittleEndian.PutUint16(rec[6:], s.bits)
		binary.LittleEndian.PutUint32(rec[8:], s.pcmLen)
		binary.LittleEndian.PutUint32(rec[12:], uint32(s.codec))
		binary.LittleEndian.PutUint32(rec[16:], s.loopStart)
		binary.LittleEndian.PutUint32(rec[20:], s.loopEnd)
		binary.LittleEndian.PutUint32(rec[payloadField:], uint32(offset))
		binary.LittleEndian.PutUint32(rec[payloadField+4:], uint32(len(s.data)))

		copy(buf[fsb5.MainHeaderSize+recSize*len(samples)+offset:], s.data)
		offset += len(s.data)
	}
	return buf
}

// pcm16 generates a deterministic 16-bit PCM payload of n samples.
func pcm16(n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(i*31+7))
	}
	return buf
}

// writeFile writes a fixture container and returns its path.
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// newTestSession creates a session with a workspace root inside the test's
// temp directory.
func newTestSession(t *testing.T, options ...Option) *Session {
	t.Helper()
	s := New(append([]Option{WithTempDir(t.TempDir())}, options...)...)
	t.Cleanup(func() { s.Close() })
	return s
}
