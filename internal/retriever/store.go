package retriever

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store keeps spooled artifacts on disk under one directory, addressed by handle.
type Store struct {
	dir string

	mu        sync.Mutex
	artifacts map[string]*Artifact
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, artifacts: make(map[string]*Artifact)}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// spool copies r into a new file named after handle and returns its path and size.
func (s *Store) spool(handle, ext string, r io.Reader) (string, int64, error) {
	path := filepath.Join(s.dir, handle+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("spool artifact: %w", err)
	}
	return path, n, nil
}

func (s *Store) put(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.Handle] = a
}

func (s *Store) Get(handle string) (*Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[handle]
	return a, ok
}

// Remove forgets handle and deletes its spool file. Unknown handles are not an error.
func (s *Store) Remove(handle string) error {
	s.mu.Lock()
	a, ok := s.artifacts[handle]
	delete(s.artifacts, handle)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact %s: %w", handle, err)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

// Clear removes every artifact. Used on shutdown.
func (s *Store) Clear() error {
	s.mu.Lock()
	handles := make([]string, 0, len(s.artifacts))
	for h := range s.artifacts {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := s.Remove(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
