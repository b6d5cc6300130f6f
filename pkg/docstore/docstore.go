// Package docstore persists a single structured document as one JSON file.
// Every save rewrites the document wholesale; every load re-reads the file,
// so the disk copy stays the authority between calls.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store owns one JSON document at a fixed path. Loads are concurrent, saves
// are exclusive. A missing file yields the default value; an unreadable or
// corrupt file is an error, never silently replaced.
type Store[T any] struct {
	path     string
	mu       sync.RWMutex
	defaults func() T
}

// New creates a store for the document at path. defaults builds the value
// returned before the first save; fields missing from the stored document
// also fall back to it on load.
func New[T any](path string, defaults func() T) *Store[T] {
	return &Store[T]{path: path, defaults: defaults}
}

// Path returns the backing file path.
func (s *Store[T]) Path() string {
	return s.path
}

// Load reads the document from disk.
func (s *Store[T]) Load() (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked()
}

// Save writes the document durably, replacing the previous contents.
func (s *Store[T]) Save(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(v)
}

// Update applies fn to the current document and saves the result, all under
// the write lock. The saved value is returned.
func (s *Store[T]) Update(fn func(*T) error) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.loadLocked()
	if err != nil {
		var zero T
		return zero, err
	}
	if err := fn(&v); err != nil {
		var zero T
		return zero, err
	}
	if err := s.saveLocked(v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (s *Store[T]) loadLocked() (T, error) {
	v := s.defaults()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to read %s: %w", filepath.Base(s.path), err)
	}
	// Unmarshal over the defaults so fields absent from the stored document
	// keep their default values.
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode %s: %w", filepath.Base(s.path), err)
	}
	return v, nil
}

func (s *Store[T]) saveLocked(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(s.path), err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(s.path), err)
	}
	tmpName := tmp.Name()
	// CreateTemp opens the file 0600; the stored documents are 0644.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(s.path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(s.path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(s.path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(s.path), err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(s.path), err)
	}
	return nil
}
