// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

// Package fsb4 decodes the legacy FSB3 and FSB4 container headers.
package fsb4

import (
	"encoding/binary"
	"errors"
	"iter"
)

// Container signatures
const (
	Sig3 = "FSB3"
	Sig4 = "FSB4"
	Sig5 = "FSB5"
)

// Fixed layout constants for the legacy dialects
const (
	MainHeaderSize3 = 24 // FSB3 omits the trailing 24-byte reserved block
	MainHeaderSize4 = 48
	NameLen         = 30 // NUL-padded ASCII name field in each sample header
	DataAlign       = 32 // sample data alignment for FSB4 and stereo FSB3
	SampleFixedSize = 64 // fixed portion of a sample header record

	minSampleHeader = 24
	maxSampleHeader = 128
)

// Sample mode flag bits
const (
	ModeLoopNormal = 0x2
	ModeBits8      = 0x8
	ModeMono       = 0x20
	ModeStereo     = 0x40
	ModeMpeg       = 0x20000
	ModeMpegPadded = 0x200000
	ModeImaAdpcm   = 0x400000
	ModeVag        = 0x800000
	ModeXma        = 0x1000000
	ModeGcAdpcm    = 0x2000000
)

// Errors
var (
	ErrNotFSB    = errors.New("not an FSB header")
	ErrTruncated = errors.New("truncated FSB header")
)

// MainHeader holds the decoded FSB3/FSB4 main header fields.
type MainHeader struct {
	Version           byte   // '3' or '4'
	NumSamples        uint32 // Number of sub-sounds in the container
	SampleHeadersSize uint32 // Total size of the sample header region
	DataSize          uint32 // Total size of the sample data region
	Mode              uint32 // Global mode flags
}

// Size returns the main header size in bytes for this version.
func (h MainHeader) Size() int {
	if h.Version == '3' {
		return MainHeaderSize3
	}
	return MainHeaderSize4
}

// TotalSize returns the header-declared size of the whole chunk.
func (h MainHeader) TotalSize() uint64 {
	return uint64(h.Size()) + uint64(h.SampleHeadersSize) + uint64(h.DataSize)
}

// Aligned reports whether sample data offsets are rounded up to DataAlign.
// FSB4 always aligns; FSB3 aligns only when the global stereo flag is set.
func (h MainHeader) Aligned() bool {
	return h.Version == '4' || h.Mode&ModeStereo != 0
}

// Sample is one decoded legacy sample header plus its resolved data location.
type Sample struct {
	Index            uint32
	Name             string // NUL-trimmed ASCII
	PCMLength        uint32 // length in samples
	CompressedLength uint32 // length in bytes
	LoopStart        uint32 // in samples
	LoopEnd          uint32 // in samples, clamped to PCMLength
	Mode             uint32
	Frequency        int32
	Channels         uint16
	DataOffset       uint64 // offset of the sample payload from the chunk start
}

// ParseMainHeader decodes an FSB3/FSB4 main header from the start of buf.
// A buffer that does not begin with a legacy signature yields ErrNotFSB;
// this is an expected outcome during scanning, not a fault.
func ParseMainHeader(buf []byte) (MainHeader, error) {
	if len(buf) < MainHeaderSize3 {
		return MainHeader{}, ErrTruncated
	}

	var version byte
	switch string(buf[:4]) {
	case Sig3:
		version = '3'
	case Sig4:
		version = '4'
	default:
		return MainHeader{}, ErrNotFSB
	}

	if version == '4' && len(buf) < MainHeaderSize4 {
		return MainHeader{}, ErrTruncated
	}

	return MainHeader{
		Version:           version,
		NumSamples:        binary.LittleEndian.Uint32(buf[4:8]),
		SampleHeadersSize: binary.LittleEndian.Uint32(buf[8:12]),
		DataSize:          binary.LittleEndian.Uint32(buf[12:16]),
		Mode:              binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// Samples walks the sample header region and yields one Sample per record.
// Each record declares its own total length in the leading uint16; the walk
// advances by that declared length while the data cursor advances by the
// compressed length, aligned per the container version. The walk stops
// silently when a record does not fit in buf.
func Samples(buf []byte, hdr MainHeader) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		pos := hdr.Size()
		end := hdr.Size() + int(hdr.SampleHeadersSize)
		if end > len(buf) {
			end = len(buf)
		}
		cursor := uint64(hdr.Size()) + uint64(hdr.SampleHeadersSize)

		for i := uint32(0); i < hdr.NumSamples; i++ {
			if pos+SampleFixedSize > end {
				return
			}

			rec := buf[pos:]
			size := binary.LittleEndian.Uint16(rec[0:2])
			s := Sample{
				Index:            i,
				Name:             trimName(rec[2 : 2+NameLen]),
				PCMLength:        binary.LittleEndian.Uint32(rec[32:36]),
				CompressedLength: binary.LittleEndian.Uint32(rec[36:40]),
				LoopStart:        binary.LittleEndian.Uint32(rec[40:44]),
				LoopEnd:          binary.LittleEndian.Uint32(rec[44:48]),
				Mode:             binary.LittleEndian.Uint32(rec[48:52]),
				Frequency:        int32(binary.LittleEndian.Uint32(rec[52:56])),
				Channels:         binary.LittleEndian.Uint16(rec[62:64]),
				DataOffset:       cursor,
			}
			if s.LoopEnd > s.PCMLength {
				s.LoopEnd = s.PCMLength
			}

			if !yield(s) {
				return
			}

			// Advance by the record's declared size, not the fixed length
			if size < SampleFixedSize {
				size = SampleFixedSize
			}
			pos += int(size)

			cursor += uint64(s.CompressedLength)
			if hdr.Aligned() {
				cursor = (cursor + DataAlign - 1) &^ (DataAlign - 1)
			}
		}
	}
}

// Validate reports whether buf plausibly starts with a valid FSB header of
// any known version. For FSB5 only the main counters are checked here; the
// fsb5 package owns the full header decode.
func Validate(buf []byte) bool {
	if len(buf) < MainHeaderSize3 {
		return false
	}

	switch string(buf[:4]) {
	case Sig5:
		numSamples := int32(binary.LittleEndian.Uint32(buf[8:12]))
		shdrSize := binary.LittleEndian.Uint32(buf[12:16])
		dataSize := binary.LittleEndian.Uint32(buf[20:24])
		return numSamples > 0 && shdrSize != 0 && dataSize != 0

	case Sig3, Sig4:
		numSamples := int32(binary.LittleEndian.Uint32(buf[4:8]))
		shdrSize := int32(binary.LittleEndian.Uint32(buf[8:12]))
		dataSize := int32(binary.LittleEndian.Uint32(buf[12:16]))
		if numSamples <= 0 || shdrSize <= 0 || dataSize <= 0 {
			return false
		}
		if shdrSize%numSamples != 0 {
			return false
		}
		perSample := shdrSize / numSamples
		return perSample >= minSampleHeader && perSample <= maxSampleHeader
	}

	return false
}

// trimName converts a NUL-padded ASCII name field to a string.
func trimName(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
