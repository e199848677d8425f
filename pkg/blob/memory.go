package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps blobs in memory. It is intended for tests and the
// zero-configuration development server.
type MemStore struct {
	baseURL string

	mu    sync.RWMutex
	blobs map[string]memBlob
}

type memBlob struct {
	data        []byte
	contentType string
}

// NewMemStore returns an empty store whose URLs start with baseURL.
func NewMemStore(baseURL string) *MemStore {
	return &MemStore{baseURL: baseURL, blobs: make(map[string]memBlob)}
}

// Upload implements [Store].
func (s *MemStore) Upload(_ context.Context, p string, data []byte, contentType string) (string, error) {
	c, err := Clean(p)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[c] = memBlob{data: bytes.Clone(data), contentType: contentType}
	s.mu.Unlock()
	return joinURL(s.baseURL, c), nil
}

// URL implements [Store].
func (s *MemStore) URL(p string) (string, error) {
	c, err := Clean(p)
	if err != nil {
		return "", err
	}
	return joinURL(s.baseURL, c), nil
}

// Open implements [Store].
func (s *MemStore) Open(_ context.Context, p string) (io.ReadCloser, error) {
	c, err := Clean(p)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	b, ok := s.blobs[c]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// ContentType returns the content type recorded for p.
func (s *MemStore) ContentType(p string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[p]
	return b.contentType, ok
}

// Len returns the number of stored blobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
