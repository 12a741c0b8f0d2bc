package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore keeps uploaded bytes in a map and fabricates stable local URLs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (s *BlobStore) Upload(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("memory blob upload: %w", err)
	}

	s.mu.Lock()
	s.blobs[path] = data
	s.mu.Unlock()

	return "memory://" + path, nil
}

// Get exposes stored bytes to tests.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	return data, ok
}

// Len reports how many blobs were uploaded; tests use it to observe orphans.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
