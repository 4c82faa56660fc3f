package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps uploads in memory. Used in tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryStore) Upload(_ context.Context, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = buf
	m.types[path] = contentType
	return nil
}

// Get returns the stored bytes and content type for a path.
func (m *MemoryStore) Get(path string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	return data, m.types[path], ok
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
