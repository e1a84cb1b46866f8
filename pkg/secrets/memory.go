package secrets

import (
	"context"
	"strings"
	"sync"
)

// MemoryBackend keeps documents in a process-local map.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string]string
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string]string)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Read(_ context.Context, path string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *MemoryBackend) Write(_ context.Context, path string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = copyDoc(data)
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	return nil
}

func (m *MemoryBackend) ListChildren(_ context.Context, path string) ([]string, error) {
	prefix := dirPath(path)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var raw []string
	for p := range m.docs {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		raw = append(raw, rest)
	}
	return childNames(raw), nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }
