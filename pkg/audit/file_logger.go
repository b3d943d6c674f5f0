package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	currentFileName = "audit.log"
	rotatedPattern  = "audit-*.log"
)

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Dir      string // Directory holding audit.log and rotated files
	MaxSize  int64  // Bytes before rotation (default: 100MB)
	MaxFiles int    // Rotated files kept (default: 10)
}

// FileLogger appends audit events to a JSON lines file, rotating it by size
type FileLogger struct {
	dir      string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	size    int64
	encoder *json.Encoder
}

// NewFileLogger creates the directory if needed and opens audit.log
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}

	l := &FileLogger{dir: cfg.Dir, maxSize: cfg.MaxSize, maxFiles: cfg.MaxFiles}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) path() string {
	return filepath.Join(l.dir, currentFileName)
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	l.file = file
	l.size = info.Size()
	l.encoder = json.NewEncoder(&countingWriter{w: file, n: &l.size})
	return nil
}

// rotate renames audit.log aside, reopens a fresh one and prunes old files.
// Callers hold l.mu.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	l.file = nil

	rotated := filepath.Join(l.dir, "audit-"+time.Now().UTC().Format("20060102T150405.000000000")+".log")
	if err := os.Rename(l.path(), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log file: %w", err)
	}
	if err := l.open(); err != nil {
		return err
	}
	return l.prune()
}

func (l *FileLogger) prune() error {
	files, err := filepath.Glob(filepath.Join(l.dir, rotatedPattern))
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}
	// Names embed the rotation time, so lexical order is age order.
	sort.Strings(files)
	var errs []error
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log appends event as one JSON line
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("audit log file is closed")
	}
	if l.size >= l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadFile decodes the events of one JSON lines audit file in write order.
// count > 0 stops after that many events.
func ReadFile(path string, count int) ([]*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*Event
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var e Event
		if err := decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &e)
	}
	return events, nil
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}

var _ Logger = (*FileLogger)(nil)
