package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/nimbusworks/envlift/internal/environment"
)

type memPoint struct {
	properties map[string]interface{}
	vector     []float32
}

// MemoryIndex keeps points in maps keyed the way the Weaviate classes are
// named, for tests and local runs.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]map[string]memPoint
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]map[string]memPoint)}
}

func (m *MemoryIndex) class(name string) map[string]memPoint {
	c, ok := m.points[name]
	if !ok {
		c = make(map[string]memPoint)
		m.points[name] = c
	}
	return c
}

// Seed inserts a point directly, standing in for the embedding pipeline.
func (m *MemoryIndex) Seed(class string, env environment.Environment, id string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.class(className(class, env))[id] = memPoint{vector: append([]float32(nil), vector...)}
}

func (m *MemoryIndex) Has(class string, env environment.Environment, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.points[className(class, env)][id]
	return ok
}

func (m *MemoryIndex) CopyPoints(ctx context.Context, class string, source, target environment.Environment, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := make([]string, 0, len(ids))
	src := m.class(className(class, source))
	dst := m.class(className(class, target))
	for _, id := range ids {
		point, ok := src[id]
		if !ok {
			return created, fmt.Errorf("point %s not found in %s", id, className(class, source))
		}
		dst[id] = point
		created = append(created, id)
	}
	return created, nil
}

func (m *MemoryIndex) DeletePoints(ctx context.Context, class string, env environment.Environment, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.class(className(class, env))
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

var _ Index = (*MemoryIndex)(nil)
var _ Index = (*WeaviateIndex)(nil)
