// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"fmt"

	"github.com/izh318/fsb-sdk/internal/fsb4"
	"github.com/izh318/fsb-sdk/internal/fsb5"
)

// DefaultSampleRate substitutes a header-declared rate of zero.
const DefaultSampleRate = 44100

// Codec identifies the compression of one sub-sound.
type Codec uint8

// Known codecs
const (
	CodecUnknown Codec = iota
	CodecPcm8
	CodecPcm16
	CodecPcmFloat
	CodecImaAdpcm
	CodecGcAdpcm
	CodecXma
	CodecVag
	CodecMpeg
	CodecVorbis
	CodecFadpcm
)

// String returns the codec's display name.
func (c Codec) String() string {
	switch c {
	case CodecPcm8:
		return "PCM8"
	case CodecPcm16:
		return "PCM16"
	case CodecPcmFloat:
		return "PCMFLOAT"
	case CodecImaAdpcm:
		return "IMAADPCM"
	case CodecGcAdpcm:
		return "GCADPCM"
	case CodecXma:
		return "XMA"
	case CodecVag:
		return "VAG"
	case CodecMpeg:
		return "MPEG"
	case CodecVorbis:
		return "VORBIS"
	case CodecFadpcm:
		return "FADPCM"
	default:
		return "UNKNOWN"
	}
}

// Lossless reports whether the codec's payload is raw PCM bytes.
func (c Codec) Lossless() bool {
	switch c {
	case CodecPcm8, CodecPcm16, CodecPcmFloat:
		return true
	}
	return false
}

// SampleDescriptor describes one sub-sound of a chunk.
type SampleDescriptor struct {
	Index            uint32
	Name             string // may be empty
	Codec            Codec
	Channels         int    // 1..32
	SampleRate       int    // Hz
	BitsPerSample    int    // when applicable
	PCMLength        uint64 // length in samples
	CompressedLength uint64 // length in bytes
	LoopStartMS      uint64
	LoopEndMS        uint64
	LoopEnabled      bool
	DataOffset       uint64 // payload offset from the chunk start, 0 when unknown
	DataLength       uint64 // payload length in bytes, 0 when unknown
}

// DurationMS returns the sub-sound duration in milliseconds.
func (d *SampleDescriptor) DurationMS() uint64 {
	if d.SampleRate == 0 {
		return 0
	}
	return d.PCMLength * 1000 / uint64(d.SampleRate)
}

// ContainerInfo aggregates per-chunk metadata.
type ContainerInfo struct {
	Ref             ChunkRef
	Name            string // internal container name, may be empty
	BuildFormat     BuildFormat
	NumSubSounds    int
	TotalDurationMS uint64
	SubSounds       []SampleDescriptor
}

// Describe enumerates the sub-sounds of a chunk and assembles their
// metadata, in index order. For FSB5 chunks each descriptor is augmented
// with the payload location resolved from the sample header table.
func (s *Session) Describe(ref ChunkRef) (*ContainerInfo, error) {
	container, err := s.openContainer(ref.Path, ref.Offset)
	if err != nil {
		return nil, fmt.Errorf("fsb: failed to open %s: %w", ref.Path, err)
	}
	defer container.Close()

	return describeContainer(container, ref)
}

func describeContainer(c Container, ref ChunkRef) (*ContainerInfo, error) {
	info := &ContainerInfo{
		Ref:          ref,
		Name:         c.Name(),
		BuildFormat:  c.BuildFormat(),
		NumSubSounds: c.NumSubSounds(),
	}

	var resolver *fsb5.Reader
	if ref.Version == '5' {
		if r, err := fsb5.Open(ref.Path, int64(ref.Offset)); err == nil {
			resolver = r
			defer resolver.Close()
		}
	}

	for i := 0; i < info.NumSubSounds; i++ {
		desc, err := c.Describe(i)
		if err != nil {
			return nil, &DecoderError{Index: i, Err: err}
		}

		if resolver != nil {
			off, length := resolver.PayloadAt(uint32(i))
			if length > 0 && off+length <= ref.Length {
				desc.DataOffset, desc.DataLength = off, length
			}
		}

		info.TotalDurationMS += desc.DurationMS()
		info.SubSounds = append(info.SubSounds, desc)
	}
	return info, nil
}

// legacyDescriptor maps one decoded legacy sample header onto a descriptor,
// applying the mode-flag rules for codec, channel count, rate and loop.
func legacyDescriptor(s fsb4.Sample) SampleDescriptor {
	d := SampleDescriptor{
		Index:            s.Index,
		Name:             s.Name,
		PCMLength:        uint64(s.PCMLength),
		CompressedLength: uint64(s.CompressedLength),
		DataOffset:       s.DataOffset,
		DataLength:       uint64(s.CompressedLength),
	}

	// Codec priority: MPEG beats ADPCM beats console formats, PCM last
	switch {
	case s.Mode&(fsb4.ModeMpegPadded|fsb4.ModeMpeg) != 0:
		d.Codec = CodecMpeg
	case s.Mode&fsb4.ModeImaAdpcm != 0:
		d.Codec = CodecImaAdpcm
		d.BitsPerSample = 4
	case s.Mode&fsb4.ModeXma != 0:
		d.Codec = CodecXma
	case s.Mode&fsb4.ModeVag != 0:
		d.Codec = CodecVag
	case s.Mode&fsb4.ModeGcAdpcm != 0:
		d.Codec = CodecGcAdpcm
	case s.Mode&fsb4.ModeBits8 != 0:
		d.Codec = CodecPcm8
		d.BitsPerSample = 8
	default:
		d.Codec = CodecPcm16
		d.BitsPerSample = 16
	}

	switch {
	case s.Mode&fsb4.ModeMono != 0:
		d.Channels = 1
	case s.Mode&fsb4.ModeStereo != 0:
		d.Channels = 2
	default:
		d.Channels = int(s.Channels)
		if d.Channels < 1 {
			d.Channels = 1
		}
	}

	d.SampleRate = int(s.Frequency)
	if d.SampleRate == 0 {
		d.SampleRate = DefaultSampleRate
	}

	// Loop endpoints convert from samples to milliseconds with integer
	// arithmetic; a declared rate of zero collapses them to zero.
	if s.Frequency > 0 {
		rate := uint64(s.Frequency)
		d.LoopStartMS = uint64(s.LoopStart) * 1000 / rate
		d.LoopEndMS = uint64(s.LoopEnd) * 1000 / rate
	}
	d.LoopEnabled = s.Mode&fsb4.ModeLoopNormal != 0 || s.LoopStart != 0 || s.LoopEnd != 0

	return d
}
