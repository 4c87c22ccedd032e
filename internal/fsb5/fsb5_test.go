// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb5

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample describes one fixture sub-sound.
type sample struct {
	rate     uint32
	channels uint16
	bits     uint16
	pcmLen   uint32
	codec    uint32
	payload  []byte
}

// build assembles an FSB5 chunk with one fixed-size record per sample and
// the payloads packed back to back in the data section.
func build(subVersion uint32, samples []sample) []byte {
	recSize := recordSizeV0
	payloadField := payloadFieldV0
	if subVersion >= 1 {
		recSize = recordSizeV1
		payloadField = payloadFieldV1
	}

	var dataSize int
	for _, s := range samples {
		dataSize += len(s.payload)
	}

	buf := make([]byte, MainHeaderSize+recSize*len(samples)+dataSize)
	copy(buf, Signature)
	binary.LittleEndian.PutUint32(buf[4:], subVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(samples)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(recSize*len(samples)))
	binary.LittleEndian.PutUint32(buf[16:], 0) // no name table
	binary.LittleEndian.PutUint32(buf[20:], uint32(dataSize))

	offset := 0
	for i, s := range samples {
		rec := buf[MainHeaderSize+i*recSize:]
		binary.LittleEndian.PutUint32(rec[0:], s.rate)
		binary.LittleEndian.PutUint16(rec[4:], s.channels)
		binary.LittleEndian.PutUint16(rec[6:], s.bits)
		binary.LittleEndian.PutUint32(rec[8:], s.pcmLen)
		binary.LittleEndian.PutUint32(rec[12:], s.codec)
		binary.LittleEndian.PutUint32(rec[payloadField:], uint32(offset))
		binary.LittleEndian.PutUint32(rec[payloadField+4:], uint32(len(s.payload)))

		copy(buf[MainHeaderSize+recSize*len(samples)+offset:], s.payload)
		offset += len(s.payload)
	}
	return buf
}

func write(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.fsb")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseHeader(t *testing.T) {
	chunk := build(0, []sample{
		{rate: 44100, channels: 2, bits: 16, pcmLen: 8, payload: make([]byte, 32)},
	})

	hdr, err := ParseHeader(chunk)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.SubVersion)
	assert.Equal(t, uint32(1), hdr.NumSamples)
	assert.Equal(t, uint32(recordSizeV0), hdr.SampleHeadersSize)
	assert.Equal(t, uint32(32), hdr.DataSize)
	assert.Equal(t, uint64(len(chunk)), hdr.TotalSize())
}

func TestParseHeader_Invalid(t *testing.T) {
	_, err := ParseHeader([]byte("FSB4xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = ParseHeader([]byte("FSB5"))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestPayloadAt(t *testing.T) {
	chunk := build(0, []sample{
		{rate: 44100, channels: 1, bits: 16, pcmLen: 8, payload: make([]byte, 16)},
		{rate: 22050, channels: 2, bits: 16, pcmLen: 4, payload: make([]byte, 24)},
	})
	path := write(t, chunk)

	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	dataStart := uint64(MainHeaderSize + 2*recordSizeV0)

	off, length := r.PayloadAt(0)
	assert.Equal(t, dataStart, off)
	assert.Equal(t, uint64(16), length)

	off, length = r.PayloadAt(1)
	assert.Equal(t, dataStart+16, off)
	assert.Equal(t, uint64(24), length)

	// Cached lookups return the same values
	off, length = r.PayloadAt(1)
	assert.Equal(t, dataStart+16, off)
	assert.Equal(t, uint64(24), length)

	// Out of range index resolves to the unknown-layout pair
	off, length = r.PayloadAt(2)
	assert.Zero(t, off)
	assert.Zero(t, length)
}

func TestPayloadAt_SubVersion1(t *testing.T) {
	chunk := build(1, []sample{
		{rate: 48000, channels: 2, bits: 16, pcmLen: 100, payload: make([]byte, 40)},
	})
	path := write(t, chunk)

	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	off, length := r.PayloadAt(0)
	assert.Equal(t, uint64(MainHeaderSize+recordSizeV1), off)
	assert.Equal(t, uint64(40), length)
}

func TestPayloadAt_BoundsCheck(t *testing.T) {
	chunk := build(0, []sample{
		{rate: 44100, channels: 1, bits: 16, pcmLen: 8, payload: make([]byte, 16)},
	})
	// Truncate the data section so the declared payload runs past EOF
	path := write(t, chunk[:len(chunk)-8])

	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	off, length := r.PayloadAt(0)
	assert.Zero(t, off)
	assert.Zero(t, length)
}

func TestRecord(t *testing.T) {
	chunk := build(0, []sample{
		{rate: 32000, channels: 4, bits: 8, pcmLen: 1234, codec: 7, payload: make([]byte, 8)},
	})
	path := write(t, chunk)

	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Record(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(32000), rec.SampleRate)
	assert.Equal(t, uint16(4), rec.Channels)
	assert.Equal(t, uint16(8), rec.BitsPerSample)
	assert.Equal(t, uint32(1234), rec.PCMLength)
	assert.Equal(t, uint32(7), rec.Codec)

	_, err = r.Record(1)
	assert.Error(t, err)
}

func TestOpen_AtOffset(t *testing.T) {
	chunk := build(0, []sample{
		{rate: 44100, channels: 1, bits: 16, pcmLen: 8, payload: make([]byte, 16)},
	})
	padded := append(make([]byte, 0x200), chunk...)
	path := write(t, padded)

	r, err := Open(path, 0x200)
	require.NoError(t, err)
	defer r.Close()

	off, length := r.PayloadAt(0)
	assert.Equal(t, uint64(MainHeaderSize+recordSizeV0), off, "offset is chunk-relative")
	assert.Equal(t, uint64(16), length)
}

func TestOpen_NotFSB5(t *testing.T) {
	path := write(t, []byte("FSB4this is not a version five container, padded to header size.."))
	_, err := Open(path, 0)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
