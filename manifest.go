// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// BuildFormat selects the encoder format for a rebuild.
type BuildFormat uint8

// Supported build formats
const (
	BuildVorbis BuildFormat = iota
	BuildFadpcm
	BuildPcm
)

// String returns the format name as it appears in manifests; the encoder
// command line uses its lower-case form.
func (f BuildFormat) String() string {
	switch f {
	case BuildFadpcm:
		return "Fadpcm"
	case BuildPcm:
		return "Pcm"
	default:
		return "Vorbis"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f BuildFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *BuildFormat) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Vorbis":
		*f = BuildVorbis
	case "Fadpcm":
		*f = BuildFadpcm
	case "Pcm":
		*f = BuildPcm
	default:
		return fmt.Errorf("fsb: unknown build format %q", text)
	}
	return nil
}

// ManifestEntry records one sub-sound of an extracted chunk.
type ManifestEntry struct {
	Index            uint32 `json:"index"`
	Name             string `json:"name"`
	OriginalFileName string `json:"original_file_name"` // "NNN/<name>.wav"
	Looping          bool   `json:"looping"`
	LoopStartMS      uint64 `json:"loop_start_ms"`
	LoopEndMS        uint64 `json:"loop_end_ms"`
}

// Manifest is the JSON document written into every extraction workspace. Its
// entries are an index-ordered cover of the chunk's original sub-sounds.
type Manifest struct {
	BuildFormat BuildFormat     `json:"build_format"`
	SubSounds   []ManifestEntry `json:"sub_sounds"`
}

// Sort orders the entries by ascending index.
func (m *Manifest) Sort() {
	sort.Slice(m.SubSounds, func(i, j int) bool {
		return m.SubSounds[i].Index < m.SubSounds[j].Index
	})
}

// Entry returns the entry for a sub-sound index, or nil when absent.
func (m *Manifest) Entry(index uint32) *ManifestEntry {
	for i := range m.SubSounds {
		if m.SubSounds[i].Index == index {
			return &m.SubSounds[i]
		}
	}
	return nil
}

// WriteFile serialises the manifest as UTF-8 JSON.
func (m *Manifest) WriteFile(path string) error {
	m.Sort()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("fsb: failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fsb: failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest from disk.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fsb: failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("fsb: failed to decode manifest: %w", err)
	}
	return &m, nil
}
