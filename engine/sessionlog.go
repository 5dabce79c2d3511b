package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionLog is a file-backed pipeline.NDJSONWriter: every written line is
// appended and fsync'd before WriteLine returns, so a reader (the auditor
// verdict scan, the result extractor, a resumed run) always observes a
// durable prefix of the log. A simple append-only log, not the whole-file
// atomic-rename protocol of durablectx, since this file is read
// incrementally rather than swapped out wholesale.
type SessionLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenSessionLog opens (creating if necessary) the NDJSON activity log at
// path for appending.
func OpenSessionLog(path string) (*SessionLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &SessionLog{f: f, path: path}, nil
}

// WriteLine appends line plus a trailing newline and flushes it to disk.
func (s *SessionLog) WriteLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Write(line); err != nil {
		return err
	}
	if _, err := s.f.Write([]byte("\n")); err != nil {
		return err
	}
	return s.f.Sync()
}

// Path returns the log file's path.
func (s *SessionLog) Path() string { return s.path }

// Close closes the underlying file without removing it.
func (s *SessionLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Remove closes and deletes the log file, used on a COMPLETED task unless
// the operator asked to keep it via --keep-log.
func (s *SessionLog) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.f.Close()
	return os.Remove(s.path)
}

// tailLines reads the last n non-empty lines of the file at path, for the
// auditor-verdict scan window.
func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
