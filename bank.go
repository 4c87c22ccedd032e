// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"codeberg.org/go-mmap/mmap"
	"github.com/izh318/fsb-sdk/internal/fsb4"
	"golang.org/x/sync/errgroup"
)

// scanOverlap keeps this many bytes from the previous window so a signature
// split across a window boundary is still found.
const scanOverlap = 64

// ChunkInfo is one scanner hit: a resolved chunk plus its display name,
// unique within the containing file.
type ChunkInfo struct {
	Ref  ChunkRef
	Name string
}

// ScanResult aggregates a scan over one or more input roots.
type ScanResult struct {
	Chunks       []ChunkInfo
	StringsBanks []string // *.strings.bank files, surfaced unparsed
}

// Scan locates every FSB chunk in one .bank or .fsb file. Offsets are
// emitted in ascending order and every offset passes header validation.
func (s *Session) Scan(ctx context.Context, path string) ([]ChunkInfo, error) {
	file, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fsb: failed to open %s: %w", path, err)
	}
	defer file.Close()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("fsb: failed to stat %s: %w", path, err)
	}

	offsets, err := scanSignatures(ctx, file, info.Size())
	if err != nil {
		return nil, err
	}

	s.logs.Printf("scanned %s: %d FSB chunk(s)", path, len(offsets))
	return s.describeHits(file, info.Size(), path, offsets)
}

// ScanAll scans many roots (files or directories) with a bounded worker
// pool. Each file is processed by a single worker; results are grouped per
// input file, in path order.
func (s *Session) ScanAll(ctx context.Context, roots []string) (*ScanResult, error) {
	var files, strs []string
	for _, root := range roots {
		f, sb, err := collectInputs(root)
		if err != nil {
			return nil, err
		}
		files = append(files, f...)
		strs = append(strs, sb...)
	}
	sort.Strings(files)

	results := make([][]ChunkInfo, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(analysisWorkers(len(files)))

	for i, path := range files {
		g.Go(func() error {
			chunks, err := s.Scan(ctx, path)
			if err != nil {
				return err
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &ScanResult{StringsBanks: strs}
	for _, chunks := range results {
		out.Chunks = append(out.Chunks, chunks...)
	}
	return out, nil
}

// collectInputs expands a root into scannable files. Directories are walked
// recursively for .bank and .fsb files; .strings.bank files carry no FSB
// payload and are surfaced separately.
func collectInputs(root string) (files, strs []string, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("fsb: failed to access input %s: %w", root, err)
	}

	if !info.IsDir() {
		if strings.HasSuffix(strings.ToLower(root), ".strings.bank") {
			return nil, []string{root}, nil
		}
		return []string{root}, nil, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := strings.ToLower(d.Name())
		switch {
		case strings.HasSuffix(name, ".strings.bank"):
			strs = append(strs, path)
		case strings.HasSuffix(name, ".bank") || strings.HasSuffix(name, ".fsb"):
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fsb: failed to walk %s: %w", root, err)
	}
	return files, strs, nil
}

// scanSignatures scans the file linearly for the three-byte "FSB" prefix and
// returns the ascending offsets whose headers validate.
func scanSignatures(ctx context.Context, file io.ReaderAt, size int64) ([]uint64, error) {
	var offsets []uint64
	window := make([]byte, scanWindow)
	head := make([]byte, scanWindow)
	prefix := []byte("FSB")

	last := int64(-1)
	for pos := int64(0); pos < size; pos += scanWindow - scanOverlap {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf := window
		if size-pos < int64(len(buf)) {
			buf = buf[:size-pos]
		}
		if _, err := file.ReadAt(buf, pos); err != nil && err != io.EOF {
			return nil, fmt.Errorf("fsb: scan read failed at %#x: %w", pos, err)
		}

		for i := 0; ; {
			j := bytes.Index(buf[i:], prefix)
			if j < 0 {
				break
			}
			abs := pos + int64(i+j)
			i += j + 1
			if abs <= last {
				continue // already seen through the window overlap
			}

			hb := head
			if size-abs < int64(len(hb)) {
				hb = hb[:size-abs]
			}
			if _, err := file.ReadAt(hb, abs); err != nil && err != io.EOF {
				continue
			}
			if fsb4.Validate(hb) {
				offsets = append(offsets, uint64(abs))
				last = abs
			}
		}

		if int64(len(buf)) < scanWindow {
			break
		}
	}
	return offsets, nil
}

// describeHits resolves each validated offset into a ChunkInfo with a
// display name unique within the file.
func (s *Session) describeHits(file io.ReaderAt, size int64, path string, offsets []uint64) ([]ChunkInfo, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	used := make(map[string]bool, len(offsets))

	out := make([]ChunkInfo, 0, len(offsets))
	for _, off := range offsets {
		var sig [4]byte
		if _, err := file.ReadAt(sig[:], int64(off)); err != nil {
			continue
		}

		ref := ChunkRef{
			Path:    path,
			Offset:  off,
			Version: sig[3],
			Length:  chunkLength(file, size, off),
		}

		name := internalName(file, size, off)
		if name == "" {
			name = fmt.Sprintf("%s_%x", base, off)
		}
		unique := name
		for n := 1; used[unique]; n++ {
			unique = fmt.Sprintf("%s_%d", name, n)
		}
		used[unique] = true

		out = append(out, ChunkInfo{Ref: ref, Name: unique})
	}
	return out, nil
}

// internalName peeks the container's own name: for legacy chunks this is the
// first sample header's name field. FSB5 chunks carry no name here.
func internalName(file io.ReaderAt, size int64, offset uint64) string {
	n := int64(fsb4.MainHeaderSize4 + fsb4.SampleFixedSize)
	if rem := size - int64(offset); rem < n {
		n = rem
	}
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := file.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return ""
	}

	hdr, err := fsb4.ParseMainHeader(buf)
	if err != nil {
		return ""
	}
	for s := range fsb4.Samples(buf, hdr) {
		return s.Name
	}
	return ""
}

// NodeKind tags one node of the presentation tree.
type NodeKind uint8

// Node kinds
const (
	NodeBank NodeKind = iota
	NodeEvent
	NodeBus
	NodeFsbFile
	NodeSubSound
	NodeAudioData
)

// Node is one entry of the render-ready container tree: a bank file, the FSB
// chunks found inside it, and their sub-sounds.
type Node struct {
	Kind     NodeKind
	Name     string
	Ref      *ChunkRef // set for NodeFsbFile
	Index    int       // sub-sound index for NodeSubSound
	Children []*Node
}

// Tree assembles the presentation tree for a scanned file: one bank node
// with an FSB node per chunk and a sub-sound node per sample.
func (s *Session) Tree(ctx context.Context, path string) (*Node, error) {
	chunks, err := s.Scan(ctx, path)
	if err != nil {
		return nil, err
	}

	root := &Node{Kind: NodeBank, Name: filepath.Base(path)}
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ref := c.Ref
		fileNode := &Node{Kind: NodeFsbFile, Name: c.Name, Ref: &ref}
		if info, err := s.Describe(ref); err == nil {
			for _, sub := range info.SubSounds {
				fileNode.Children = append(fileNode.Children, &Node{
					Kind:  NodeSubSound,
					Name:  sub.Name,
					Index: int(sub.Index),
				})
			}
		}
		root.Children = append(root.Children, fileNode)
	}
	return root, nil
}

// analysisWorkers bounds the file analysis pool.
func analysisWorkers(files int) int {
	if n := runtime.NumCPU(); files > n {
		return n
	}
	if files < 1 {
		return 1
	}
	return files
}
