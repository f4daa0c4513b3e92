// Package memory provides in-memory stores for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

const blobScheme = "memory://"

// BlobStore keeps uploaded artifacts in memory and returns pseudo URIs.
type BlobStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// PutFile reads localPath and stores its content under object.
func (s *BlobStore) PutFile(_ context.Context, object, localPath, contentType string) (string, error) {
	payload, err := os.ReadFile(localPath) // #nosec G304 -- path from the stage cache dir
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[object] = payload
	s.types[object] = contentType
	return blobScheme + object, nil
}

// ObjectName recovers object from a URI produced by PutFile.
func (s *BlobStore) ObjectName(durablePath string) (string, bool) {
	name, ok := strings.CutPrefix(durablePath, blobScheme)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Object returns a stored payload and its content type.
func (s *BlobStore) Object(object string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[object]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[object], true
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
