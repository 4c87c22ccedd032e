// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	workspaceRoot = "FsbRebuildTool"
	audioSource   = "AudioSource"
	pcmChunkSize  = 16 * 1024
)

// Workspace is a per-chunk extraction directory: the raw chunk copy, one WAV
// per sub-sound, the manifest and the encoder build list.
type Workspace struct {
	Dir       string
	SourceFSB string
	Manifest  *Manifest
	Skipped   []int // indices whose decode failed; their WAV is absent
}

// ManifestPath returns the manifest location inside the workspace.
func (w *Workspace) ManifestPath() string {
	return filepath.Join(w.Dir, "manifest.json")
}

// BuildlistPath returns the build list location inside the workspace.
func (w *Workspace) BuildlistPath() string {
	return filepath.Join(w.Dir, "buildlist.txt")
}

// WavPath returns the absolute path of a sub-sound's WAV file.
func (w *Workspace) WavPath(e ManifestEntry) string {
	return filepath.Join(w.Dir, audioSource, filepath.FromSlash(e.OriginalFileName))
}

// WorkspaceDir returns the deterministic workspace directory for a chunk, so
// reruns on the same (source, offset) reuse it.
func (s *Session) WorkspaceDir(ref ChunkRef) string {
	stem := sanitizeFileName(filepath.Base(ref.Path))
	return filepath.Join(s.tempDir, workspaceRoot, fmt.Sprintf("%s_%d_workspace", stem, ref.Offset))
}

// OpenWorkspace loads an existing workspace from its manifest.
func OpenWorkspace(dir string) (*Workspace, error) {
	m, err := ReadManifest(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	return &Workspace{
		Dir:       dir,
		SourceFSB: filepath.Join(dir, "source.fsb"),
		Manifest:  m,
	}, nil
}

// Extract decodes every sub-sound of the chunk into the chunk's workspace,
// producing one WAV per sub-sound plus manifest.json and buildlist.txt.
// Sub-sounds the decoder rejects are logged and skipped; the manifest still
// lists them so a rebuild can fail cleanly on those indices.
func (s *Session) Extract(ctx context.Context, ref ChunkRef, onProgress ProgressFunc) (*Workspace, error) {
	ws := &Workspace{Dir: s.WorkspaceDir(ref)}
	ws.SourceFSB = filepath.Join(ws.Dir, "source.fsb")

	if err := os.MkdirAll(filepath.Join(ws.Dir, audioSource), 0o755); err != nil {
		return nil, fmt.Errorf("fsb: failed to create workspace: %w", err)
	}
	if err := s.logs.attachFile(ws.Dir, "extract"); err != nil {
		return nil, err
	}
	s.logs.Printf("extracting %s @ %#x into %s", ref.Path, ref.Offset, ws.Dir)

	// Copy the chunk bytes only; everything below operates on the copy
	if err := copyChunk(ref, ws.SourceFSB); err != nil {
		return nil, err
	}

	container, err := s.openContainer(ws.SourceFSB, 0)
	if err != nil {
		return nil, fmt.Errorf("fsb: failed to analyse %s: %w", ws.SourceFSB, err)
	}
	total := container.NumSubSounds()
	format := container.BuildFormat()
	container.Close()

	entries := make([]*ManifestEntry, total)
	skipped := make([]bool, total)
	prog := newMeter(total)
	var failures failureBag

	indices := make(chan int)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	workers := extractionWorkers()
	if workers > total {
		workers = total
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each worker holds its own decoder handle; opens go through
			// the gate, reads do not.
			c, err := s.openContainer(ws.SourceFSB, 0)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			defer c.Close()

			for idx := range indices {
				if ctx.Err() != nil {
					return
				}

				entry, err := s.extractOne(c, ws, idx)
				if err != nil {
					var derr *DecoderError
					if errors.As(err, &derr) {
						failures.add(derr)
						skipped[idx] = true
						entries[idx] = entry // still listed in the manifest
					} else {
						errOnce.Do(func() { firstErr = err })
						return
					}
				} else {
					entries[idx] = entry
				}

				done, n := prog.step()
				onProgress.emit(Progress{
					Stage:   "Extracting",
					Percent: 100 * done / n,
					Detail:  fmt.Sprintf("%d of %d", done, n),
				})
			}
		}()
	}

feed:
	for i := 0; i < total; i++ {
		select {
		case indices <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	// Assemble the manifest in ascending index order regardless of worker
	// completion order.
	ws.Manifest = &Manifest{BuildFormat: format}
	for i, e := range entries {
		if e == nil {
			continue
		}
		ws.Manifest.SubSounds = append(ws.Manifest.SubSounds, *e)
		if skipped[i] {
			ws.Skipped = append(ws.Skipped, i)
		}
	}
	if err := ws.Manifest.WriteFile(ws.ManifestPath()); err != nil {
		return nil, err
	}
	if err := s.writeBuildlist(ws); err != nil {
		return nil, err
	}

	for _, ferr := range failures.all() {
		s.logs.Error("%v", ferr)
	}
	s.logs.Printf("extraction complete: %d sub-sound(s), %d skipped", total, len(ws.Skipped))
	return ws, nil
}

// extractOne renders one sub-sound to its WAV file and returns its manifest
// entry. Decoder rejections come back as *DecoderError with the entry still
// filled in.
func (s *Session) extractOne(c Container, ws *Workspace, idx int) (*ManifestEntry, error) {
	desc, err := c.Describe(idx)
	if err != nil {
		// Still listed in the manifest so a rebuild fails cleanly here
		return &ManifestEntry{
			Index:            uint32(idx),
			OriginalFileName: fmt.Sprintf("%03d/sub_%03d.wav", idx, idx),
		}, &DecoderError{Index: idx, Err: err}
	}

	stem := sanitizeFileName(desc.Name)
	if stem == "" {
		stem = fmt.Sprintf("sub_%03d", idx)
	}
	rel := fmt.Sprintf("%03d/%s.wav", idx, stem)
	entry := &ManifestEntry{
		Index:            uint32(idx),
		Name:             desc.Name,
		OriginalFileName: rel,
		Looping:          desc.LoopEnabled,
		LoopStartMS:      desc.LoopStartMS,
		LoopEndMS:        desc.LoopEndMS,
	}

	pcm, err := c.OpenPCM(idx)
	if err != nil {
		return entry, &DecoderError{Index: idx, Err: err}
	}
	defer pcm.Close()

	dir := filepath.Join(ws.Dir, audioSource, fmt.Sprintf("%03d", idx))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return entry, fmt.Errorf("fsb: failed to create %s: %w", dir, err)
	}

	path := filepath.Join(dir, stem+".wav")
	if err := writeWav(path, desc, pcm); err != nil {
		return entry, err
	}
	return entry, nil
}

// writeWav streams PCM bytes behind a RIFF/WAVE header, then rewrites the
// header so the declared data length equals the bytes actually written.
func writeWav(path string, desc SampleDescriptor, pcm io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fsb: failed to create %s: %w", path, err)
	}
	defer f.Close()

	header := headerFor(desc, 0)
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("fsb: failed to write %s: %w", path, err)
	}

	written, err := io.CopyBuffer(f, pcm, make([]byte, pcmChunkSize))
	if err != nil {
		return fmt.Errorf("fsb: failed to write %s: %w", path, err)
	}

	if _, err := f.WriteAt(headerFor(desc, int(written)), 0); err != nil {
		return fmt.Errorf("fsb: failed to finalise %s: %w", path, err)
	}
	return nil
}

// headerFor picks the WAV header variant for a descriptor.
func headerFor(desc SampleDescriptor, dataLen int) []byte {
	switch desc.Codec {
	case CodecImaAdpcm:
		return imaWavHeader(dataLen, desc.Channels, desc.SampleRate)
	case CodecPcmFloat:
		return wavHeader(dataLen, desc.Channels, desc.SampleRate, 32, true)
	default:
		bits := desc.BitsPerSample
		if bits == 0 {
			bits = 16
		}
		return wavHeader(dataLen, desc.Channels, desc.SampleRate, bits, false)
	}
}

// writeBuildlist writes one absolute WAV path per line, newline-terminated,
// one line per sub-sound.
func (s *Session) writeBuildlist(ws *Workspace) error {
	var sb strings.Builder
	for _, e := range ws.Manifest.SubSounds {
		sb.WriteString(ws.WavPath(e))
		sb.WriteString("\n")
	}
	if err := os.WriteFile(ws.BuildlistPath(), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("fsb: failed to write build list: %w", err)
	}
	return nil
}

// copyChunk stream-copies the chunk bytes into dst.
func copyChunk(ref ChunkRef, dst string) error {
	src, err := os.Open(ref.Path)
	if err != nil {
		return fmt.Errorf("fsb: failed to open %s: %w", ref.Path, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fsb: failed to create %s: %w", dst, err)
	}
	defer out.Close()

	section := io.NewSectionReader(src, int64(ref.Offset), int64(ref.Length))
	if _, err := io.CopyBuffer(out, section, make([]byte, copyBufSize)); err != nil {
		return fmt.Errorf("fsb: failed to copy chunk: %w", err)
	}
	return nil
}

// fullwidth maps characters that are meaningful to shells or path parsing to
// readable full-width equivalents.
var fullwidth = map[rune]rune{
	':': '：', '*': '＊', '?': '？', '"': '＂',
	'<': '＜', '>': '＞', '|': '｜', '/': '／', '\\': '＼',
}

// reservedNames are device names that cannot be used as file stems.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// sanitizeFileName makes a sub-sound or container name safe to use as a file
// name on any supported OS.
func sanitizeFileName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case fullwidth[r] != 0:
			sb.WriteRune(fullwidth[r])
		case r < 0x20:
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}

	out := sb.String()
	stem := out
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	if reservedNames[strings.ToUpper(stem)] {
		out = "_" + out
	}
	return out
}
