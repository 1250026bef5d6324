package survey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Store persists survey progress between runs.
type Store interface {
	// Load returns the stored record and whether one existed.
	Load() (Progress, bool, error)
	Save(p Progress) error
	// Clear removes the stored record. Clearing an empty store is not an error.
	Clear() error
}

// FileStore keeps the record as a JSON document.
type FileStore struct {
	fs   afero.Fs
	path string
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (Progress, bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Progress{}, false, nil
		}
		return Progress{}, false, fmt.Errorf("reading survey state %q: %w", s.path, err)
	}

	if len(data) == 0 {
		return Progress{}, false, nil
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, false, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}

	return p, true, nil
}

func (s *FileStore) Save(p Progress) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing survey state: %w", err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing survey state: %w", err)
	}

	return nil
}

func (s *FileStore) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing survey state: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in memory. Handy for tests and one-shot runs.
type MemoryStore struct {
	mu       sync.Mutex
	progress *Progress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress == nil {
		return Progress{}, false, nil
	}
	return *s.progress, true, nil
}

func (s *MemoryStore) Save(p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = &p
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = nil
	return nil
}
