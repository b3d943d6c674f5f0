package envelope

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// DefaultMasterKeyEnv is the environment variable read by EnvKeySource
const DefaultMasterKeyEnv = "TENANCY_MASTER_KEY"

// minMasterKeyLen is the shortest master key accepted, in bytes
const minMasterKeyLen = 16

// KeySource supplies the master key material
type KeySource interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKeySource serves a fixed master key
type StaticKeySource []byte

// MasterKey returns the key
func (s StaticKeySource) MasterKey(ctx context.Context) ([]byte, error) {
	if len(s) < minMasterKeyLen {
		return nil, fmt.Errorf("master key is %d bytes, need at least %d", len(s), minMasterKeyLen)
	}
	return []byte(s), nil
}

// EnvKeySource reads a base64 master key from an environment variable on every call
type EnvKeySource struct {
	Var string
}

// MasterKey decodes the variable's value
func (s EnvKeySource) MasterKey(ctx context.Context) ([]byte, error) {
	name := s.Var
	if name == "" {
		name = DefaultMasterKeyEnv
	}
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("%s is not set", name)
	}
	return DecodeMasterKey(v)
}

// DecodeMasterKey accepts standard or URL base64, padded or not
func DecodeMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) < minMasterKeyLen {
				return nil, fmt.Errorf("master key is %d bytes, need at least %d", len(key), minMasterKeyLen)
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("master key is not valid base64")
}

// FileKeySource reads a base64 master key from a file and can watch it for changes
type FileKeySource struct {
	path   string
	logger *observability.Logger

	mu  sync.RWMutex
	key []byte
}

// NewFileKeySource loads the key at path
func NewFileKeySource(path string, logger *observability.Logger) (*FileKeySource, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &FileKeySource{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// MasterKey returns the last successfully loaded key
func (s *FileKeySource) MasterKey(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, fmt.Errorf("no master key loaded from %s", s.path)
	}
	return s.key, nil
}

// Reload reads the file again. A bad file leaves the previous key in place.
func (s *FileKeySource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read master key file: %w", err)
	}
	key, err := DecodeMasterKey(string(data))
	if err != nil {
		return fmt.Errorf("master key file %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

// Watch reloads the key whenever the file is written, created or renamed into
// place, then calls onChange. It blocks until ctx is done.
func (s *FileKeySource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic replace (write temp, rename) is seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.WithError(err).Warn("master key reload failed, keeping previous key")
				continue
			}
			s.logger.Info("master key reloaded")
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("master key watcher error")
		}
	}
}
