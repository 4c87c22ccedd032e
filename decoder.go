// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"fmt"
	"io"
	"os"

	"codeberg.org/go-mmap/mmap"
	"github.com/izh318/fsb-sdk/internal/fsb4"
	"github.com/izh318/fsb-sdk/internal/fsb5"
)

// Decoder renders the sub-sounds of an FSB chunk to PCM. Implementations
// wrap an external audio library; the built-in RawDecoder serves raw PCM
// payloads directly and rejects compressed codecs.
//
// Open and Close of containers are serialised by the session's decoder gate;
// open containers are operated concurrently without further locking, so each
// extraction worker holds its own Container.
type Decoder interface {
	// Open opens the FSB chunk starting at the given byte offset.
	Open(path string, offset uint64) (Container, error)
}

// Container is one opened FSB chunk.
type Container interface {
	// Name returns the container's internal name, empty when unknown.
	Name() string

	// BuildFormat returns the encoder format the chunk was built with.
	BuildFormat() BuildFormat

	// NumSubSounds returns the number of sub-sounds in the chunk.
	NumSubSounds() int

	// Describe returns the descriptor of one sub-sound.
	Describe(index int) (SampleDescriptor, error)

	// OpenPCM returns a reader over the sub-sound's PCM bytes.
	OpenPCM(index int) (io.ReadCloser, error)

	// Close releases the container.
	Close() error
}

// TranscodeFunc converts an arbitrary audio file to a canonical WAV file.
type TranscodeFunc func(src, dstWav string) error

// RawDecoder is the built-in decoder. It serves PCM8/PCM16/float payloads
// byte-for-byte and passes IMA ADPCM through undecoded; compressed codecs
// need a real decoder supplied via WithDecoder.
type RawDecoder struct{}

// Open opens the FSB chunk at offset in path.
func (RawDecoder) Open(path string, offset uint64) (Container, error) {
	file, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fsb: failed to open container %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("fsb: failed to stat container %s: %w", path, err)
	}

	var sig [4]byte
	if _, err := file.ReadAt(sig[:], int64(offset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("fsb: failed to read signature: %w", err)
	}

	c := &rawContainer{file: file, offset: int64(offset), size: info.Size()}
	switch {
	case string(sig[:]) == fsb4.Sig3 || string(sig[:]) == fsb4.Sig4:
		err = c.loadLegacy()
	case string(sig[:]) == fsb5.Signature:
		err = c.loadFSB5(path)
	default:
		err = ErrNotFSB
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return c, nil
}

// rawContainer reads sample payloads straight out of the chunk bytes.
type rawContainer struct {
	file    *mmap.File
	offset  int64 // chunk start within the file
	size    int64 // file size
	name    string
	samples []SampleDescriptor
}

// loadLegacy decodes the FSB3/FSB4 header region and materialises all
// sample descriptors in one walk.
func (c *rawContainer) loadLegacy() error {
	head := make([]byte, fsb4.MainHeaderSize4)
	n, err := c.file.ReadAt(head, c.offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("fsb: failed to read legacy header: %w", err)
	}

	hdr, err := fsb4.ParseMainHeader(head[:n])
	if err != nil {
		return err
	}

	region := int64(hdr.Size()) + int64(hdr.SampleHeadersSize)
	if c.offset+region > c.size {
		return fsb4.ErrTruncated
	}
	buf := make([]byte, region)
	if _, err := c.file.ReadAt(buf, c.offset); err != nil {
		return fmt.Errorf("fsb: failed to read sample headers: %w", err)
	}

	for s := range fsb4.Samples(buf, hdr) {
		d := legacyDescriptor(s)
		if c.name == "" {
			c.name = d.Name
		}
		c.samples = append(c.samples, d)
	}
	return nil
}

// loadFSB5 decodes the FSB5 header and resolves payload locations through
// the sample header table. Record fields ahead of the payload pair carry the
// technical shape of each sample.
func (c *rawContainer) loadFSB5(path string) error {
	r, err := fsb5.Open(path, c.offset)
	if err != nil {
		return err
	}
	defer r.Close()

	hdr := r.Header()
	for i := uint32(0); i < hdr.NumSamples; i++ {
		rec, err := r.Record(i)
		if err != nil {
			return err
		}

		d := SampleDescriptor{
			Index:         i,
			SampleRate:    int(rec.SampleRate),
			Channels:      int(rec.Channels),
			BitsPerSample: int(rec.BitsPerSample),
			PCMLength:     uint64(rec.PCMLength),
			Codec:         Codec(rec.Codec),
		}
		if d.SampleRate == 0 {
			d.SampleRate = DefaultSampleRate
		}
		if d.Channels < 1 {
			d.Channels = 1
		}
		if d.SampleRate > 0 {
			d.LoopStartMS = uint64(rec.LoopStart) * 1000 / uint64(d.SampleRate)
			d.LoopEndMS = uint64(rec.LoopEnd) * 1000 / uint64(d.SampleRate)
		}
		d.LoopEnabled = rec.LoopStart != 0 || rec.LoopEnd != 0

		d.DataOffset, d.DataLength = r.PayloadAt(i)
		d.CompressedLength = d.DataLength
		c.samples = append(c.samples, d)
	}
	return nil
}

func (c *rawContainer) Name() string {
	return c.name
}

func (c *rawContainer) NumSubSounds() int {
	return len(c.samples)
}

func (c *rawContainer) BuildFormat() BuildFormat {
	if len(c.samples) == 0 {
		return BuildPcm
	}
	switch c.samples[0].Codec {
	case CodecVorbis:
		return BuildVorbis
	case CodecFadpcm:
		return BuildFadpcm
	default:
		return BuildPcm
	}
}

func (c *rawContainer) Describe(index int) (SampleDescriptor, error) {
	if index < 0 || index >= len(c.samples) {
		return SampleDescriptor{}, fmt.Errorf("fsb: sub-sound index %d out of range", index)
	}
	return c.samples[index], nil
}

func (c *rawContainer) OpenPCM(index int) (io.ReadCloser, error) {
	d, err := c.Describe(index)
	if err != nil {
		return nil, err
	}
	if !d.Codec.Lossless() && d.Codec != CodecImaAdpcm {
		return nil, fmt.Errorf("fsb: codec %s requires an external decoder", d.Codec)
	}
	if d.DataLength == 0 {
		return nil, fmt.Errorf("fsb: sub-sound %d has no resolved payload", index)
	}

	section := io.NewSectionReader(c.file, c.offset+int64(d.DataOffset), int64(d.DataLength))
	return io.NopCloser(section), nil
}

func (c *rawContainer) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
