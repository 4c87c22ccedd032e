// Package fsb reads, inspects and rebuilds FMOD Sound Bank containers.
package fsb

import (
	"io"
	"os"
	"os/exec"
	"sync"
)

// Session is the main entry point for working with FSB containers. It holds
// the pluggable audio decoder behind a serialising gate, the external encoder
// tool location and the shared log sink.
type Session struct {
	dec     Decoder    // Pluggable sub-sound decoder (raw PCM passthrough by default)
	gate    sync.Mutex // Serialises decoder container open/close
	logs    *Log
	encoder string        // Path to the external FSB encoder tool
	trans   TranscodeFunc // Converts replacement audio files to canonical WAV
	tempDir string        // Root for rebuild workspaces

	childMu sync.Mutex // Guards the active encoder child process
	child   *exec.Cmd
}

// Option configures a Session instance.
type Option func(*Session)

// WithDecoder sets the audio decoder used to render sub-sounds to PCM.
func WithDecoder(d Decoder) Option {
	return func(s *Session) {
		s.dec = d
	}
}

// WithEncoderTool sets the path of the external FSB encoder executable.
func WithEncoderTool(path string) Option {
	return func(s *Session) {
		s.encoder = path
	}
}

// WithLogWriter mirrors all log lines to the given writer.
func WithLogWriter(w io.Writer) Option {
	return func(s *Session) {
		s.logs = newLog(w)
	}
}

// WithTranscoder sets the converter used for replacement audio files that are
// not already canonical WAV.
func WithTranscoder(fn TranscodeFunc) Option {
	return func(s *Session) {
		s.trans = fn
	}
}

// WithTempDir overrides the root directory for rebuild workspaces.
func WithTempDir(dir string) Option {
	return func(s *Session) {
		s.tempDir = dir
	}
}

// New creates a Session. Without options it uses the built-in raw PCM
// decoder, the `fsbankcl` tool from PATH and the system temp directory.
func New(options ...Option) *Session {
	s := &Session{
		dec:     RawDecoder{},
		encoder: "fsbankcl",
		tempDir: os.TempDir(),
	}
	for _, option := range options {
		option(s)
	}
	if s.logs == nil {
		s.logs = newLog(io.Discard)
	}
	return s
}

// Close releases resources held by the session and terminates any running
// encoder child process.
func (s *Session) Close() error {
	s.KillEncoder()
	return s.logs.Close()
}

// openContainer opens a decoder container under the global decoder gate.
// The returned container is operated lock-free; Close re-enters the gate.
func (s *Session) openContainer(path string, offset uint64) (*gatedContainer, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	c, err := s.dec.Open(path, offset)
	if err != nil {
		return nil, err
	}
	return &gatedContainer{Container: c, gate: &s.gate}, nil
}

// gatedContainer re-acquires the decoder gate around Close only; sub-sound
// reads go straight to the underlying container.
type gatedContainer struct {
	Container
	gate *sync.Mutex
	once sync.Once
}

func (c *gatedContainer) Close() error {
	var err error
	c.once.Do(func() {
		c.gate.Lock()
		defer c.gate.Unlock()
		err = c.Container.Close()
	})
	return err
}
