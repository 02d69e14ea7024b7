// Package promotion moves approved records between environments and keeps the
// audit ledger of every run. Each promotable entity type contributes a
// Promoter; the Orchestrator drives previews, runs and rollbacks through that
// interface and never touches entity tables directly.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// Candidate is one item of a preview or run. Blocking errors keep the item
// from being promoted; warnings do not.
type Candidate struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	SizeBytes int64     `json:"sizeBytes,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Staged holds the external artifacts copied for one item before any database
// write happens. Whatever Stage managed to copy is reported even on error so
// the caller can clean up.
type Staged struct {
	SourceID       uuid.UUID
	StorageKeys    []string
	VectorPointIDs []string
}

// Promoter is the per-entity-type promotion strategy.
//
// Stage performs only external I/O (object storage, vector index) and may run
// concurrently with other items' Stage calls. Commit performs the database
// writes (create the target record, stamp the source) and is called serially,
// one item at a time. A non-nil artifact returned alongside an error
// describes what Commit created before failing, so the caller can Discard it.
type Promoter interface {
	EntityType() string
	Candidates(ctx context.Context, source, target environment.Environment, ids []uuid.UUID) ([]Candidate, error)
	Stage(ctx context.Context, source, target environment.Environment, id uuid.UUID) (*Staged, error)
	Commit(ctx context.Context, source, target environment.Environment, staged *Staged, byUser uuid.UUID) (*models.ArtifactRecord, error)
	Discard(ctx context.Context, target environment.Environment, artifact models.ArtifactRecord) error
	Revert(ctx context.Context, source environment.Environment, sourceID uuid.UUID, target environment.Environment) error
}

// Registry maps entity-type tags to their promoters.
type Registry struct {
	mu        sync.RWMutex
	promoters map[string]Promoter
}

func NewRegistry() *Registry {
	return &Registry{promoters: make(map[string]Promoter)}
}

func (r *Registry) Register(p Promoter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promoters[p.EntityType()] = p
}

func (r *Registry) Get(entityType string) (Promoter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.promoters[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return p, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.promoters))
	for t := range r.promoters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
