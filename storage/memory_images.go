package storage

import (
	"context"
	"strings"
	"sync"
)

// MemoryImageStore keeps uploaded images in memory.
type MemoryImageStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryImageStore(baseURL string) *MemoryImageStore {
	return &MemoryImageStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryImageStore) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.TrimLeft(path, "/")
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return m.baseURL + "/" + key, nil
}

// Object returns a stored object and its content type.
func (m *MemoryImageStore) Object(path string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.TrimLeft(path, "/")
	data, ok := m.objects[key]
	return data, m.types[key], ok
}

// Len returns the number of stored objects.
func (m *MemoryImageStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
