// Package events records allow/deny outcomes for intercepted calls.
//
// Decision lines have a fixed, grep-friendly format:
//
//	[DSHIELD] BLOCKED: 93.184.216.34:443
//
// They go to the debug stream when debug is enabled and are appended to the
// log file when one is open. Each line is written with a single call under
// the sink's lock, so concurrent callers never interleave within a line.
package events

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dshield/dshield/internal/policy"
)

// Tag prefixes every line the sink writes.
const Tag = "[DSHIELD]"

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("event sink closed")

type taggedWriter struct{ w io.Writer }

// TaggedWriter returns a writer that prefixes each Write with Tag. Every
// Write must carry whole lines, as slog handlers do.
func TaggedWriter(w io.Writer) io.Writer {
	return taggedWriter{w: w}
}

func (t taggedWriter) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(Tag)+1+len(p))
	buf = append(buf, Tag...)
	buf = append(buf, ' ')
	buf = append(buf, p...)
	if _, err := t.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Stats counts recorded decisions.
type Stats struct {
	Allowed uint64 `json:"allowed"`
	Blocked uint64 `json:"blocked"`
}

// Sink is the process-wide decision recorder. The zero value is not usable;
// call New.
type Sink struct {
	mu     sync.Mutex
	debug  io.Writer
	file   *os.File
	opened bool
	closed bool

	logger  *slog.Logger
	allowed atomic.Uint64
	blocked atomic.Uint64
}

// New returns an inactive sink. Pass nil for logger to disable logging.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sink{logger: logger}
}

// EnableDebug routes decision lines to w as well.
func (s *Sink) EnableDebug(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.debug = w
	}
}

// Open opens path for appending. Only the first call does anything; later
// calls return nil without touching the file system. A failed open leaves
// file logging disabled for the life of the sink.
func (s *Sink) Open(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return nil
	}
	s.opened = true
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
	if err != nil {
		s.logger.Warn("log file unavailable; file logging disabled", "path", path, "error", err)
		return fmt.Errorf("open log file: %w", err)
	}
	s.file = f
	return nil
}

// Active reports whether Record would write anything.
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debug != nil || s.file != nil
}

// Record writes one decision line for dest:port.
func (s *Sink) Record(dest string, port int, d policy.Decision) {
	word := "BLOCKED"
	if d.Allowed() {
		word = "ALLOWED"
		s.allowed.Add(1)
	} else {
		s.blocked.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil && s.file == nil {
		return
	}
	line := []byte(Tag + " " + word + ": " + dest + ":" + strconv.Itoa(port) + "\n")
	s.writeLocked(line, true)
}

// Debugf writes a tagged line to the debug stream only.
func (s *Sink) Debugf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil {
		return
	}
	s.writeLocked([]byte(Tag+" "+fmt.Sprintf(format, args...)+"\n"), false)
}

func (s *Sink) writeLocked(line []byte, toFile bool) {
	if s.debug != nil {
		_, _ = s.debug.Write(line)
	}
	if toFile && s.file != nil {
		// *os.File is unbuffered, so the line is on disk once Write returns.
		if _, err := s.file.Write(line); err != nil {
			s.logger.Debug("log file write failed", "error", err)
		}
	}
}

// Stats returns the decision counters.
func (s *Sink) Stats() Stats {
	return Stats{Allowed: s.allowed.Load(), Blocked: s.blocked.Load()}
}

// Close releases the log file. It is safe to call more than once; after
// the first call nothing more is written.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.debug = nil
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
