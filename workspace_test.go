// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_RoundTripPCM(t *testing.T) {
	// Extracting a PCM chunk and re-reading each WAV yields the exact
	// payload bytes that went into the fixture.
	payloads := [][]byte{pcm16(500), pcm16(321)}
	chunk := buildLegacyChunk('4', 0, []legacySample{
		{name: "kick", freq: 44100, pcmLen: 500, channels: 1, data: payloads[0]},
		{name: "snare", freq: 44100, pcmLen: 321, channels: 1, data: payloads[1]},
	})
	path := writeFile(t, "drums.fsb", chunk)

	ref, err := ResolveChunk(path, 0)
	require.NoError(t, err)

	s := newTestSession(t)
	ws, err := s.Extract(context.Background(), ref, nil)
	require.NoError(t, err)
	require.Len(t, ws.Manifest.SubSounds, 2)
	assert.Empty(t, ws.Skipped)
	assert.Equal(t, BuildPcm, ws.Manifest.BuildFormat)

	// source.fsb is a byte-exact copy of the chunk
	src, err := os.ReadFile(ws.SourceFSB)
	require.NoError(t, err)
	assert.Equal(t, chunk, src)

	for i, e := range ws.Manifest.SubSounds {
		assert.Equal(t, uint32(i), e.Index)

		data, err := os.ReadFile(ws.WavPath(e))
		require.NoError(t, err)
		assert.Equal(t, payloads[i], data[44:], "payload survives the round trip")
	}

	// The build list has one absolute WAV path per sub-sound
	list, err := os.ReadFile(ws.BuildlistPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(list), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, filepath.IsAbs(line))
		assert.True(t, strings.HasSuffix(line, ".wav"))
	}
}

func TestExtract_ManifestCover(t *testing.T) {
	var samples []fsb5Sample
	for i := 0; i < 9; i++ {
		samples = append(samples, fsb5Sample{
			rate: 44100, channels: 1, bits: 16, pcmLen: 32,
			codec: CodecPcm16, data: pcm16(32),
		})
	}
	path := writeFile(t, "many.fsb", buildFSB5Chunk(0, samples, 0))

	ref, err := ResolveChunk(path, 0)
	require.NoError(t, err)

	s := newTestSession(t)
	ws, err := s.Extract(context.Background(), ref, nil)
	require.NoError(t, err)

	// Every index in [0, N) appears exactly once, in increasing order,
	// regardless of worker completion order.
	require.Len(t, ws.Manifest.SubSounds, 9)
	for i, e := range ws.Manifest.SubSounds {
		assert.Equal(t, uint32(i), e.Index)
		assert.True(t, strings.HasPrefix(e.OriginalFileName, fmt.Sprintf("%03d/", i)))
		assert.FileExists(t, ws.WavPath(e))
	}
}

func TestExtract_SkipsUndecodableSubSound(t *testing.T) {
	chunk := buildFSB5Chunk(0, []fsb5Sample{
		{rate: 44100, channels: 2, bits: 16, pcmLen: 100, codec: CodecVorbis, data: make([]byte, 64)},
		{rate: 44100, channels: 1, bits: 16, pcmLen: 32, codec: CodecPcm16, data: pcm16(32)},
	}, 0)
	path := writeFile(t, "mixed.fsb", chunk)

	ref, err := ResolveChunk(path, 0)
	require.NoError(t, err)

	s := newTestSession(t)
	ws, err := s.Extract(context.Background(), ref, nil)
	require.NoError(t, err)

	// The undecodable index is skipped but still listed in the manifest
	assert.Equal(t, []int{0}, ws.Skipped)
	require.Len(t, ws.Manifest.SubSounds, 2)
	assert.NoFileExists(t, ws.WavPath(ws.Manifest.SubSounds[0]))
	assert.FileExists(t, ws.WavPath(ws.Manifest.SubSounds[1]))
	assert.Equal(t, BuildVorbis, ws.Manifest.BuildFormat)
}

func TestExtract_Progress(t *testing.T) {
	path := writeFile(t, "p.fsb", buildFSB5Chunk(0, onePcmSample(), 0))
	ref, err := ResolveChunk(path, 0)
	require.NoError(t, err)

	var last Progress
	s := newTestSession(t)
	_, err = s.Extract(context.Background(), ref, func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, 100, last.Percent)
}

func TestExtract_Cancelled(t *testing.T) {
	path := writeFile(t, "c.fsb", buildFSB5Chunk(0, onePcmSample(), 0))
	ref, err := ResolveChunk(path, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSession(t)
	_, err = s.Extract(ctx, ref, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkspaceDir_Deterministic(t *testing.T) {
	s := newTestSession(t)
	ref := ChunkRef{Path: "/banks/Master Bank.bank", Offset: 0x200, Length: 100}

	a := s.WorkspaceDir(ref)
	b := s.WorkspaceDir(ref)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "FsbRebuildTool")
	assert.True(t, strings.HasSuffix(a, "_512_workspace"))

	ref.Offset = 0x300
	assert.NotEqual(t, a, s.WorkspaceDir(ref))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "a：b＊c？d", sanitizeFileName(`a:b*c?d`))
	assert.Equal(t, "＂quoted＂", sanitizeFileName(`"quoted"`))
	assert.Equal(t, "path／to＼file", sanitizeFileName(`path/to\file`))
	assert.Equal(t, "tab_here", sanitizeFileName("tab\there"))
	assert.Equal(t, "plain-name.wav", sanitizeFileName("plain-name.wav"))

	// Reserved device names get an underscore prefix, case-insensitive
	assert.Equal(t, "_CON", sanitizeFileName("CON"))
	assert.Equal(t, "_aux.wav", sanitizeFileName("aux.wav"))
	assert.Equal(t, "_LPT7", sanitizeFileName("LPT7"))
	assert.Equal(t, "console", sanitizeFileName("console"))
}
