// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxSearchIterations caps the Vorbis quality binary search.
const maxSearchIterations = 8

// Progress bands per rebuild phase. Each phase owns a disjoint slice of the
// overall percentage budget.
var (
	bandPrepare = band{start: 0, width: 30}
	bandBuild   = band{start: 30, width: 60}
	bandPatch   = band{start: 90, width: 5}
	bandCleanup = band{start: 95, width: 5}
)

// RebuildOptions selects the encoder format and quality for a rebuild.
// Fadpcm/Pcm are built once and the encoder receives no quality argument for
// them; for Vorbis the quality seeds the binary search and the discovered
// optimum wins.
type RebuildOptions struct {
	Encoding    BuildFormat
	QualityHint int // 0..100
}

// Replacement swaps one sub-sound for a new audio file before rebuilding.
// Replacements naming unknown indices are ignored.
type Replacement struct {
	TargetIndex  uint32
	NewAudioPath string
}

// RebuildRequest describes one rebuild run.
type RebuildRequest struct {
	Ref           ChunkRef
	Replacements  []Replacement
	Destination   string
	Options       RebuildOptions
	ForceOversize bool // accept a rebuilt chunk larger than the original
}

// OutcomeKind tags the orchestrator's exit status.
type OutcomeKind uint8

// Orchestrator outcomes
const (
	Success OutcomeKind = iota
	Failed
	CancelledByUser
	OversizedConfirmationNeeded
)

// RebuildResult is the orchestrator outcome. The workspace directory is
// removed on success and kept otherwise, so a failed or oversized run can be
// inspected and resumed.
type RebuildResult struct {
	Kind          OutcomeKind
	Message       string // set for Failed
	OriginalSize  uint64
	NewSize       uint64
	TemporaryPath string // the oversized build awaiting confirmation
	Quality       int    // the Vorbis quality that produced the final chunk
	WorkspaceDir  string
}

func failed(ws string, format string, args ...any) *RebuildResult {
	return &RebuildResult{Kind: Failed, Message: fmt.Sprintf(format, args...), WorkspaceDir: ws}
}

// Rebuild re-encodes a chunk's sub-sounds (with optional replacements) so
// the result fits the original chunk's byte length, then splices it back
// into a copy of the source container at the exact original offset.
func (s *Session) Rebuild(ctx context.Context, req RebuildRequest, onProgress ProgressFunc) (*RebuildResult, error) {
	wsDir := s.WorkspaceDir(req.Ref)
	good := filepath.Join(wsDir, "output.good")
	output := filepath.Join(wsDir, "output.fsb")

	if err := s.logs.attachFile(wsDir, "rebuild"); err != nil {
		return failed(wsDir, "failed to open session log: %v", err), nil
	}
	s.logs.Printf("rebuild %s @ %#x -> %s", req.Ref.Path, req.Ref.Offset, req.Destination)

	// Resume: an earlier run that already produced a fitting build goes
	// straight to the patch phase.
	if _, err := os.Stat(good); err == nil {
		s.logs.Printf("resuming from %s", good)
		if err := os.Rename(good, output); err != nil {
			return failed(wsDir, "failed to reuse previous build: %v", err), nil
		}
		return s.finish(ctx, req, wsDir, output, req.Ref.Length, 0, onProgress)
	}

	// Phase A: prepare the workspace and apply replacements
	ws, res := s.prepare(ctx, req, onProgress)
	if res != nil {
		return res, nil
	}

	// Phase B: build within the size budget
	size, quality, res := s.build(ctx, req, ws, output, onProgress)
	if res != nil {
		return res, nil
	}

	return s.finish(ctx, req, wsDir, output, size, quality, onProgress)
}

// prepare runs the extraction (or reuses the existing workspace) and lays
// the replacement audio over the extracted WAV files.
func (s *Session) prepare(ctx context.Context, req RebuildRequest, onProgress ProgressFunc) (*Workspace, *RebuildResult) {
	wsDir := s.WorkspaceDir(req.Ref)

	ws, err := OpenWorkspace(wsDir)
	if err != nil {
		ws, err = s.Extract(ctx, req.Ref, func(p Progress) {
			onProgress.emit(Progress{
				Stage:   "Preparing",
				Percent: bandPrepare.at(p.Percent, 100),
				Detail:  p.Detail,
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, &RebuildResult{Kind: CancelledByUser, WorkspaceDir: wsDir}
			}
			return nil, failed(wsDir, "extraction failed: %v", err)
		}
	} else {
		s.logs.Printf("reusing workspace %s", wsDir)
	}

	for _, r := range req.Replacements {
		entry := ws.Manifest.Entry(r.TargetIndex)
		if entry == nil {
			s.logs.Printf("replacement for unknown index %d ignored", r.TargetIndex)
			continue
		}
		if err := s.replaceWav(r.NewAudioPath, ws.WavPath(*entry)); err != nil {
			return nil, failed(wsDir, "replacement for index %d failed: %v", r.TargetIndex, err)
		}
		s.logs.Printf("replaced sub-sound %d with %s", r.TargetIndex, r.NewAudioPath)
	}

	onProgress.emit(Progress{Stage: "Prepared", Percent: bandPrepare.at(1, 1)})
	return ws, nil
}

// replaceWav installs a replacement audio file over a workspace WAV,
// transcoding when the input is not already canonical WAV.
func (s *Session) replaceWav(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	_, werr := parseWavHeader(f)
	f.Close()

	if werr == nil {
		return copyFile(src, dst)
	}
	if s.trans == nil {
		return fmt.Errorf("%s is not a WAV file and no transcoder is configured", src)
	}
	return s.trans(src, dst)
}

// build produces output sized within the original chunk length: one encoder
// call for fixed-quality formats, a binary search over Vorbis quality
// otherwise. On success the output file is padded to the exact chunk length.
func (s *Session) build(ctx context.Context, req RebuildRequest, ws *Workspace, output string, onProgress ProgressFunc) (uint64, int, *RebuildResult) {
	limit := req.Ref.Length
	total := len(ws.Manifest.SubSounds)
	job := encodeJob{
		Output:    output,
		Format:    req.Options.Encoding,
		Quality:   clampQuality(req.Options.QualityHint),
		Buildlist: ws.BuildlistPath(),
		Total:     total,
	}

	if req.Options.Encoding != BuildVorbis {
		size, err := s.runEncoder(ctx, job, buildProgress(onProgress, 0))
		switch {
		case ctx.Err() != nil:
			return 0, 0, &RebuildResult{Kind: CancelledByUser, WorkspaceDir: ws.Dir}
		case err != nil:
			return 0, 0, failed(ws.Dir, "encoder failed: %v", err)
		case size > limit && !req.ForceOversize:
			s.logs.Error("%v", &OversizeError{Limit: limit, Actual: size})
			return 0, 0, &RebuildResult{
				Kind:          OversizedConfirmationNeeded,
				OriginalSize:  limit,
				NewSize:       size,
				TemporaryPath: output,
				WorkspaceDir:  ws.Dir,
			}
		}
		if size < limit {
			if err := padTo(output, limit); err != nil {
				return 0, 0, failed(ws.Dir, "padding failed: %v", err)
			}
			size = limit
		}
		return size, job.Quality, nil
	}

	// Binary search over the Vorbis quality interval [0, 100] for the
	// highest quality whose build fits the original chunk length. The
	// first probe uses the caller's hint.
	good := filepath.Join(ws.Dir, "output.good")
	tmp := filepath.Join(ws.Dir, "output.tmp")
	lo, hi := 0, 100
	best := -1

	for iter := 0; iter < maxSearchIterations && lo <= hi; iter++ {
		if ctx.Err() != nil {
			return 0, 0, &RebuildResult{Kind: CancelledByUser, WorkspaceDir: ws.Dir}
		}

		mid := (lo + hi) / 2
		if iter == 0 && job.Quality >= lo && job.Quality <= hi {
			mid = job.Quality
		}

		probe := job
		probe.Output = tmp
		probe.Quality = mid

		size, err := s.runEncoder(ctx, probe, buildProgress(onProgress, iter))
		if ctx.Err() != nil {
			return 0, 0, &RebuildResult{Kind: CancelledByUser, WorkspaceDir: ws.Dir}
		}

		if err == nil && size <= limit {
			// Fits: remember as the current best, try higher quality
			os.Remove(good)
			if err := os.Rename(tmp, good); err != nil {
				return 0, 0, failed(ws.Dir, "failed to keep build at q=%d: %v", mid, err)
			}
			s.logs.Printf("q=%d fits: %d <= %d bytes", mid, size, limit)
			best = mid
			lo = mid + 1
		} else {
			os.Remove(tmp)
			if err != nil {
				s.logs.Error("q=%d build failed: %v", mid, err)
			} else {
				s.logs.Printf("q=%d too large: %d > %d bytes", mid, size, limit)
			}
			hi = mid - 1
		}
	}

	if best < 0 {
		return 0, 0, failed(ws.Dir, "no quality fits within %d bytes", limit)
	}
	if err := os.Rename(good, output); err != nil {
		return 0, 0, failed(ws.Dir, "failed to finalise build: %v", err)
	}
	if err := padTo(output, limit); err != nil {
		return 0, 0, failed(ws.Dir, "padding failed: %v", err)
	}
	return limit, best, nil
}

// finish pads the chosen build, patches it into the destination container
// and releases the workspace.
func (s *Session) finish(ctx context.Context, req RebuildRequest, wsDir, output string, newSize uint64, quality int, onProgress ProgressFunc) (*RebuildResult, error) {
	if newSize <= req.Ref.Length {
		if err := padTo(output, req.Ref.Length); err != nil {
			return failed(wsDir, "padding failed: %v", err), nil
		}
		newSize = req.Ref.Length
	}

	onProgress.emit(Progress{Stage: "Patching", Percent: bandPatch.at(0, 1)})
	if err := patchChunk(req.Ref.Path, req.Ref.Offset, req.Ref.Length, output, req.Destination); err != nil {
		return failed(wsDir, "patch failed: %v", err), nil
	}
	if ctx.Err() != nil {
		return &RebuildResult{Kind: CancelledByUser, WorkspaceDir: wsDir}, nil
	}

	onProgress.emit(Progress{Stage: "Cleaning up", Percent: bandCleanup.at(0, 1)})
	info, err := os.Stat(req.Destination)
	if err != nil {
		return failed(wsDir, "destination missing after patch: %v", err), nil
	}

	s.logs.Printf("rebuild complete: %s (%d bytes)", req.Destination, info.Size())
	os.RemoveAll(wsDir)
	onProgress.emit(Progress{Stage: "Done", Percent: 100})

	return &RebuildResult{
		Kind:         Success,
		OriginalSize: req.Ref.Length,
		NewSize:      newSize,
		Quality:      quality,
		WorkspaceDir: wsDir,
	}, nil
}

// buildProgress maps encoder progress into the build phase's band, one
// search iteration at a time.
func buildProgress(onProgress ProgressFunc, iteration int) ProgressFunc {
	return func(p Progress) {
		onProgress.emit(Progress{
			Stage:   p.Stage,
			Percent: bandBuild.at(iteration, maxSearchIterations),
			Detail:  p.Detail,
		})
	}
}

// padTo appends zero bytes until the file is exactly size bytes long.
func padTo(path string, size uint64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if uint64(info.Size()) >= size {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	zeros := make([]byte, copyBufSize)
	remaining := size - uint64(info.Size())
	for remaining > 0 {
		n := uint64(len(zeros))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(zeros[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// clampQuality bounds a quality hint to the encoder's accepted range.
func clampQuality(q int) int {
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	default:
		return q
	}
}

// copyFile copies src over dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.CopyBuffer(out, in, make([]byte, copyBufSize)); err != nil {
		return err
	}
	return nil
}
