package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryArtifactStore keeps artifact bytes in-process. For tests and local
// dev without MinIO; URLs it returns are stable keys, not fetchable links.
type MemoryArtifactStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArtifactStore initializes an empty artifact store.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{objects: make(map[string][]byte)}
}

// PutImage stores the bytes under a fresh per-album key.
func (m *MemoryArtifactStore) PutImage(_ context.Context, albumID string, data []byte, _ string) (string, error) {
	key := fmt.Sprintf("albums/%s/%s.png", albumID, uuid.NewString())
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return key, nil
}

// PresignGet returns a pseudo-URL for the key.
func (m *MemoryArtifactStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("artifact not found: %s", key)
	}
	return "memory://" + key, nil
}

// Delete removes an artifact.
func (m *MemoryArtifactStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get returns the stored bytes. Test helper.
func (m *MemoryArtifactStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}
