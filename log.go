// Copyright (c) IZH318 and contributors. All rights reserved.
// Licensed under the MIT license. See LICENSE file in the project root for details.

package fsb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	charm "github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

const logTimeFormat = "2006-01-02 15:04:05.000"

// Log is the write-through log sink. Every meaningful step emits one
// timestamped line; when a session file is attached, lines reach the file
// before the console logger sees them.
type Log struct {
	mu     sync.Mutex
	logger *charm.Logger
	file   *os.File
}

// newLog creates a sink writing leveled output to w.
func newLog(w io.Writer) *Log {
	return &Log{
		logger: charm.NewWithOptions(w, charm.Options{
			ReportTimestamp: true,
			TimeFormat:      logTimeFormat,
		}),
	}
}

// attachFile opens a per-session log file under dir, named after the current
// time, and routes subsequent lines through it. The previous file, if any,
// is closed.
func (l *Log) attachFile(dir, prefix string) error {
	pattern, err := strftime.New(prefix + "_%Y%m%d_%H%M%S.log")
	if err != nil {
		return fmt.Errorf("fsb: invalid log file pattern: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsb: failed to create log directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, pattern.FormatString(time.Now())))
	if err != nil {
		return fmt.Errorf("fsb: failed to create session log: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	return nil
}

// Printf emits one formatted log line.
func (l *Log) Printf(format string, args ...any) {
	l.line(fmt.Sprintf(format, args...))
}

// Error emits one error-level log line. Errors always produce a log entry,
// even when they stay silent at the UI.
func (l *Log) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	if l.file != nil {
		fmt.Fprintf(l.file, "%s | %s\n", time.Now().Format(logTimeFormat), msg)
	}
	l.mu.Unlock()
	l.logger.Error(msg)
}

func (l *Log) line(msg string) {
	l.mu.Lock()
	if l.file != nil {
		fmt.Fprintf(l.file, "%s | %s\n", time.Now().Format(logTimeFormat), msg)
	}
	l.mu.Unlock()
	l.logger.Info(msg)
}

// Close releases the session log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
