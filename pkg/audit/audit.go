// Package audit appends security-relevant events to a JSON-lines log file.
//
// One event per line, flushed on every write so a crash loses at most the
// event being written. A nil *Log is a valid no-op sink, used when auditing
// is not configured.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/filehaven/filehaven/internal/logger"
)

// Event is one audit record. Fields beyond the fixed set go into Detail.
type Event struct {
	Time   time.Time         `json:"ts"`
	IP     string            `json:"ip,omitempty"`
	User   string            `json:"user,omitempty"`
	Action string            `json:"action"`
	Detail map[string]string `json:"detail,omitempty"`
}

// Log is an append-only event sink.
type Log struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open creates or appends to the audit log at path. An empty path returns a
// nil log, which discards events.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{file: f, w: bufio.NewWriter(f)}, nil
}

// Record appends the event. A zero Time is stamped with the current time.
// Failures are logged, never surfaced to the caller; an audit problem must
// not fail the user operation.
func (l *Log) Record(e Event) {
	if l == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to encode audit event", "action", e.Action, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		logger.Error("failed to write audit event", "action", e.Action, "error", err)
		return
	}
	if err := l.w.Flush(); err != nil {
		logger.Error("failed to flush audit log", "error", err)
	}
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
