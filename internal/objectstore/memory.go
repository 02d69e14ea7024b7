package objectstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/nimbusworks/envlift/internal/environment"
)

// MemoryStore keeps payloads in a map for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func objectKey(env environment.Environment, key string) string {
	return string(env) + "/" + key
}

// Put seeds a payload, standing in for the upload path that exists outside
// the promotion flow.
func (m *MemoryStore) Put(env environment.Environment, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(env, key)] = append([]byte(nil), data...)
}

func (m *MemoryStore) Get(env environment.Environment, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectKey(env, key)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *MemoryStore) Copy(ctx context.Context, source environment.Environment, sourceKey string, target environment.Environment, targetKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(source, sourceKey)]
	if !ok {
		return fmt.Errorf("copy %s/%s: no such object", source, sourceKey)
	}
	m.objects[objectKey(target, targetKey)] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, env environment.Environment, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey(env, key))
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, env environment.Environment, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectKey(env, key)]
	return ok, nil
}

var _ Store = (*MemoryStore)(nil)
