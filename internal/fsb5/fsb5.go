// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

// Package fsb5 decodes FSB5 container headers and resolves the byte location
// of each sample payload inside a chunk.
package fsb5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"codeberg.org/go-mmap/mmap"
	"github.com/kelindar/intmap"
)

// Fixed layout constants for the FSB5 dialect
const (
	Signature      = "FSB5"
	MainHeaderSize = 0x40

	recordSizeV0   = 64 // sample header record size, sub-version 0
	recordSizeV1   = 80 // sample header record size, sub-version 1
	payloadFieldV0 = 52 // offset of the payload offset/length pair, sub-version 0
	payloadFieldV1 = 68 // offset of the payload offset/length pair, sub-version 1
)

// Standard FSB5 format errors
var (
	ErrInvalidFormat = errors.New("invalid FSB5 header")
	ErrReaderClosed  = errors.New("fsb5 reader is closed")
)

// Header holds the decoded FSB5 main header fields.
type Header struct {
	SubVersion        uint32 // 0 or 1, selects the sample record layout
	NumSamples        uint32
	SampleHeadersSize uint32
	NameTableSize     uint32
	DataSize          uint32
	Mode              uint32
}

// TotalSize returns the header-declared size of the whole chunk.
func (h Header) TotalSize() uint64 {
	return MainHeaderSize + uint64(h.SampleHeadersSize) + uint64(h.NameTableSize) + uint64(h.DataSize)
}

// recordSize returns the sample record size and the position of the payload
// offset field within a record, per sub-version.
func (h Header) recordSize() (int64, int64) {
	if h.SubVersion >= 1 {
		return recordSizeV1, payloadFieldV1
	}
	return recordSizeV0, payloadFieldV0
}

// ParseHeader decodes an FSB5 main header from the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < MainHeaderSize {
		return Header{}, ErrInvalidFormat
	}
	if string(buf[:4]) != Signature {
		return Header{}, ErrInvalidFormat
	}

	return Header{
		SubVersion:        binary.LittleEndian.Uint32(buf[4:8]),
		NumSamples:        binary.LittleEndian.Uint32(buf[8:12]),
		SampleHeadersSize: binary.LittleEndian.Uint32(buf[12:16]),
		NameTableSize:     binary.LittleEndian.Uint32(buf[16:20]),
		DataSize:          binary.LittleEndian.Uint32(buf[20:24]),
		Mode:              binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}

// Reader resolves sample payload locations inside one FSB5 chunk.
type Reader struct {
	file    *mmap.File  // File handle for the container
	info    os.FileInfo // File information
	start   int64       // Chunk start offset within the file
	hdr     Header      // Decoded main header
	offsets *intmap.Map // Cached payload offsets by sample index
	lengths *intmap.Map // Cached payload lengths by sample index
	closed  bool        // Flag to track if reader is closed
}

// Open creates a reader for the FSB5 chunk at the given start offset.
func Open(filename string, start int64) (*Reader, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}

	file, err := mmap.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open FSB5 container: %w", err)
	}

	header := make([]byte, MainHeaderSize)
	if _, err := file.ReadAt(header, start); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read FSB5 header: %w", err)
	}

	hdr, err := ParseHeader(header)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Reader{
		file:    file,
		info:    info,
		start:   start,
		hdr:     hdr,
		offsets: intmap.New(int(hdr.NumSamples)+1, .95),
		lengths: intmap.New(int(hdr.NumSamples)+1, .95),
	}, nil
}

// Header returns the decoded main header.
func (r *Reader) Header() Header {
	return r.hdr
}

// SampleRecord holds the fixed technical fields at the head of one sample
// header record, ahead of the payload offset/length pair.
type SampleRecord struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	PCMLength     uint32 // length in samples
	Codec         uint32
	LoopStart     uint32 // in samples
	LoopEnd       uint32 // in samples
}

// Record reads the technical fields of the sample header record at index.
func (r *Reader) Record(index uint32) (SampleRecord, error) {
	if r.closed {
		return SampleRecord{}, ErrReaderClosed
	}
	if index >= r.hdr.NumSamples {
		return SampleRecord{}, fmt.Errorf("fsb5: sample index %d out of range", index)
	}

	recSize, _ := r.hdr.recordSize()
	pos := r.start + MainHeaderSize + int64(index)*recSize

	var buf [24]byte
	if _, err := r.file.ReadAt(buf[:], pos); err != nil {
		return SampleRecord{}, fmt.Errorf("fsb5: failed to read sample record: %w", err)
	}

	return SampleRecord{
		SampleRate:    binary.LittleEndian.Uint32(buf[0:4]),
		Channels:      binary.LittleEndian.Uint16(buf[4:6]),
		BitsPerSample: binary.LittleEndian.Uint16(buf[6:8]),
		PCMLength:     binary.LittleEndian.Uint32(buf[8:12]),
		Codec:         binary.LittleEndian.Uint32(buf[12:16]),
		LoopStart:     binary.LittleEndian.Uint32(buf[16:20]),
		LoopEnd:       binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// PayloadAt returns the byte offset (relative to the chunk start) and length
// of the payload for the given sample index. A zero pair means the layout
// could not be resolved; callers fall back to decoder-reported durations.
func (r *Reader) PayloadAt(index uint32) (uint64, uint64) {
	if r.closed || index >= r.hdr.NumSamples {
		return 0, 0
	}

	recSize, payloadField := r.hdr.recordSize()
	tableStart := r.start + MainHeaderSize
	dataStart := tableStart + int64(r.hdr.SampleHeadersSize)

	if off, ok := r.offsets.Load(index); ok {
		length, _ := r.lengths.Load(index)
		return uint64(dataStart-r.start) + uint64(off), uint64(length)
	}

	record := tableStart + int64(index)*recSize + payloadField

	var pair [8]byte
	if _, err := r.file.ReadAt(pair[:], record); err != nil {
		return 0, 0
	}

	payloadOffset := binary.LittleEndian.Uint32(pair[0:4])
	payloadLength := binary.LittleEndian.Uint32(pair[4:8])

	// Data section begins right after the sample header table
	if dataStart+int64(payloadOffset)+int64(payloadLength) > r.info.Size() {
		return 0, 0
	}

	r.offsets.Store(index, payloadOffset)
	r.lengths.Store(index, payloadLength)

	within := uint64(dataStart-r.start) + uint64(payloadOffset)
	return within, uint64(payloadLength)
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close FSB5 container: %w", err)
		}
		r.file = nil
	}
	return nil
}
