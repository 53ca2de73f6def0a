// Package memory stores blob content in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Sink stores assets in-memory and returns pseudo URIs.
type Sink struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// New creates an in-memory sink.
func New() *Sink {
	return &Sink{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// Put stores a copy of data and returns a memory:// URI.
func (s *Sink) Put(_ context.Context, path string, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored content for path.
func (s *Sink) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}

// Len reports the number of stored objects.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
