// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// progressInterval throttles encoder progress reports to one UI update per
// interval.
const progressInterval = 33 * time.Millisecond

// progressLine matches the encoder's per-file progress output: "[N]: text"
// with N a zero-based file index.
var progressLine = regexp.MustCompile(`^\[(\d+)\]: (.*)$`)

// encodeJob describes one external encoder invocation.
type encodeJob struct {
	Output    string
	Format    BuildFormat
	Quality   int // 0..100; ignored for formats other than Vorbis
	Buildlist string
	Total     int // sub-sound count, for progress reporting
}

// args assembles the encoder command line.
func (j encodeJob) args() []string {
	out := []string{"-o", j.Output, "-format", strings.ToLower(j.Format.String())}
	if j.Format == BuildVorbis {
		out = append(out, "-q", strconv.Itoa(j.Quality))
	}
	return append(out, j.Buildlist)
}

// runEncoder spawns the external encoder tool and waits for it. Success
// requires exit code 0 and an existing output file. A nonzero exit is an
// *EncoderError carrying the full captured stdout and stderr; a clean exit
// without an output file is ErrNoEncoderOutput wrapped with the same captured
// output; a tool that cannot be started, or a cancelled context, yields that
// error as is. The returned size is the output file's byte length.
//
// Encoder invocations are strictly serial: one child process at a time,
// tracked on the session so it can be force-terminated on shutdown.
func (s *Session) runEncoder(ctx context.Context, job encodeJob, onProgress ProgressFunc) (uint64, error) {
	cmd := exec.CommandContext(ctx, s.encoder, job.args()...)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("fsb: failed to pipe encoder output: %w", err)
	}
	cmd.Stderr = &stderrBuf

	s.logs.Printf("encoder: %s %s", s.encoder, strings.Join(job.args(), " "))
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("fsb: failed to start encoder %s: %w", s.encoder, err)
	}
	s.setChild(cmd)
	defer s.setChild(nil)

	// Forward every stdout line verbatim to the log sink; progress-shaped
	// lines additionally reach the UI callback, throttled.
	gate := newThrottle(progressInterval)
	scanner := bufio.NewScanner(io.TeeReader(stdout, &stdoutBuf))
	for scanner.Scan() {
		line := scanner.Text()
		s.logs.Printf("%s", line)

		if m := progressLine.FindStringSubmatch(line); m != nil && gate.ok() {
			index, _ := strconv.Atoi(m[1])
			onProgress.emit(Progress{
				Stage:  fmt.Sprintf("Encoding %d of %d", index+1, job.Total),
				Detail: m[2],
			})
		}
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, &EncoderError{ExitCode: cmd.ProcessState.ExitCode(), Output: stdoutBuf.String() + stderrBuf.String()}
	}

	info, err := os.Stat(job.Output)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNoEncoderOutput, stdoutBuf.String()+stderrBuf.String())
	}
	return uint64(info.Size()), nil
}

// setChild tracks the active encoder child process.
func (s *Session) setChild(cmd *exec.Cmd) {
	s.childMu.Lock()
	s.child = cmd
	s.childMu.Unlock()
}

// KillEncoder force-terminates the active encoder child process, if any.
func (s *Session) KillEncoder() {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	if s.child != nil && s.child.Process != nil {
		s.child.Process.Kill()
	}
}
