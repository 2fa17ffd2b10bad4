// Package memory provides an in-memory snapshot store for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// BlobStore keeps snapshots in a map.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an in-memory blob store.
func New() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject stores the snapshot and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// GetObject returns a stored snapshot.
func (s *BlobStore) GetObject(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}
