package repo

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
)

// MemoryRepository mirrors PGRepository for tests and local runs.
type MemoryRepository[T Entity] struct {
	mu    sync.RWMutex
	desc  Descriptor[T]
	items map[uuid.UUID]T
}

func NewMemoryRepository[T Entity](desc Descriptor[T]) *MemoryRepository[T] {
	return &MemoryRepository[T]{desc: desc, items: make(map[uuid.UUID]T)}
}

func (r *MemoryRepository[T]) Create(ctx context.Context, item T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.EntityID() == uuid.Nil {
		r.desc.SetID(item, uuid.New())
	}
	now := time.Now().UTC()
	stored := r.desc.Clone(item)
	r.desc.StampCreated(stored, now)
	r.items[stored.EntityID()] = stored
	return r.desc.Clone(stored), nil
}

func (r *MemoryRepository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	item, ok := r.items[id]
	if !ok {
		return zero, ErrNotFound
	}
	return r.desc.Clone(item), nil
}

func (r *MemoryRepository[T]) GetAll(ctx context.Context, skip, limit int) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]T, 0, len(r.items))
	for _, item := range r.items {
		all = append(all, item)
	}
	return r.page(all, skip, limit), nil
}

func (r *MemoryRepository[T]) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *MemoryRepository[T]) page(all []T, skip, limit int) []T {
	sort.Slice(all, func(i, j int) bool {
		return r.desc.CreatedAt(all[i]).After(r.desc.CreatedAt(all[j]))
	})
	skip = normalizeSkip(skip)
	limit = normalizeLimit(limit)
	if skip >= len(all) {
		return nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]T, 0, end-skip)
	for _, item := range all[skip:end] {
		out = append(out, r.desc.Clone(item))
	}
	return out
}

// MemoryEnvRepository mirrors PGEnvRepository's scoping semantics in memory.
// Acceptance tests run the full promotion flow against it.
type MemoryEnvRepository[T EnvEntity] struct {
	mu                  sync.RWMutex
	desc                Descriptor[T]
	env                 environment.Environment
	autoExcludeTestData bool
	items               map[uuid.UUID]T
}

func NewMemoryEnvRepository[T EnvEntity](desc Descriptor[T], env environment.Environment, autoExcludeTestData bool) *MemoryEnvRepository[T] {
	return &MemoryEnvRepository[T]{
		desc:                desc,
		env:                 env,
		autoExcludeTestData: autoExcludeTestData,
		items:               make(map[uuid.UUID]T),
	}
}

// Share lets several repository instances (one per environment) observe the
// same backing records the way per-environment queries against one database
// would.
func (r *MemoryEnvRepository[T]) Share(items map[uuid.UUID]T) *MemoryEnvRepository[T] {
	r.items = items
	return r
}

// Items exposes the backing map so a sibling repository can Share it.
func (r *MemoryEnvRepository[T]) Items() map[uuid.UUID]T { return r.items }

func (r *MemoryEnvRepository[T]) Environment() environment.Environment { return r.env }

func (r *MemoryEnvRepository[T]) excludesTestData() bool {
	return r.autoExcludeTestData || r.env == environment.Prod
}

func (r *MemoryEnvRepository[T]) live(item T) bool {
	return !r.desc.SoftDelete || r.desc.IsDeleted == nil || !r.desc.IsDeleted(item)
}

func (r *MemoryEnvRepository[T]) inScope(item T, includeTestData bool) bool {
	lc := item.EnvLifecycle()
	if lc.Environment != r.env {
		return false
	}
	if !includeTestData && r.excludesTestData() && lc.IsTestData {
		return false
	}
	return r.live(item)
}

func (r *MemoryEnvRepository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	item, ok := r.items[id]
	if !ok || !r.inScope(item, false) {
		return zero, ErrNotFound
	}
	return r.desc.Clone(item), nil
}

func (r *MemoryEnvRepository[T]) getAnyTestData(id uuid.UUID) (T, bool) {
	var zero T
	item, ok := r.items[id]
	if !ok || !r.inScope(item, true) {
		return zero, false
	}
	return item, true
}

func (r *MemoryEnvRepository[T]) collect(match func(T) bool) []T {
	var all []T
	for _, item := range r.items {
		if match(item) {
			all = append(all, item)
		}
	}
	return all
}

func (r *MemoryEnvRepository[T]) page(all []T, skip, limit int) []T {
	sort.Slice(all, func(i, j int) bool {
		return r.desc.CreatedAt(all[i]).After(r.desc.CreatedAt(all[j]))
	})
	skip = normalizeSkip(skip)
	limit = normalizeLimit(limit)
	if skip >= len(all) {
		return nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]T, 0, end-skip)
	for _, item := range all[skip:end] {
		out = append(out, r.desc.Clone(item))
	}
	return out
}

func (r *MemoryEnvRepository[T]) GetAll(ctx context.Context, skip, limit int) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page(r.collect(func(item T) bool { return r.inScope(item, false) }), skip, limit), nil
}

func (r *MemoryEnvRepository[T]) GetAllIncludingTestData(ctx context.Context, skip, limit int) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page(r.collect(func(item T) bool { return r.inScope(item, true) }), skip, limit), nil
}

func (r *MemoryEnvRepository[T]) Create(ctx context.Context, item T, markAsTest bool) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.EntityID() == uuid.Nil {
		r.desc.SetID(item, uuid.New())
	}
	stored := r.desc.Clone(item)
	lc := stored.EnvLifecycle()
	if lc.Environment == "" {
		lc.Environment = r.env
	}
	if lc.PromotionStatus == "" {
		lc.PromotionStatus = environment.StatusDraft
	}
	if lc.PromotedToEnvironments == nil {
		lc.PromotedToEnvironments = []environment.Environment{}
	}
	if markAsTest {
		lc.MarkAsTestData(CreationTestReason)
	}
	r.desc.StampCreated(stored, time.Now().UTC())
	r.items[stored.EntityID()] = stored
	return r.desc.Clone(stored), nil
}

func (r *MemoryEnvRepository[T]) Update(ctx context.Context, id uuid.UUID, apply func(T) error) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	current, ok := r.getAnyTestData(id)
	if !ok {
		return zero, ErrNotFound
	}
	next := r.desc.Clone(current)
	env := next.EnvLifecycle().Environment
	if err := apply(next); err != nil {
		return zero, err
	}
	r.desc.SetID(next, id)
	next.EnvLifecycle().Environment = env
	r.desc.StampUpdated(next, time.Now().UTC())
	r.items[id] = next
	return r.desc.Clone(next), nil
}

func (r *MemoryEnvRepository[T]) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.getAnyTestData(id)
	if !ok {
		return false, nil
	}
	if r.desc.SoftDelete {
		now := time.Now().UTC()
		r.desc.SetDeleted(item, &now)
		r.desc.StampUpdated(item, now)
		return true, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *MemoryEnvRepository[T]) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.EnvLifecycle().Environment != r.env {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *MemoryEnvRepository[T]) GetPromotableItems(ctx context.Context, skip, limit int) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.collect(func(item T) bool {
		lc := item.EnvLifecycle()
		return lc.Environment == r.env &&
			lc.IsPromotable &&
			lc.PromotionStatus == environment.StatusApproved &&
			!lc.IsTestData &&
			r.live(item)
	})
	return r.page(all, skip, limit), nil
}

func (r *MemoryEnvRepository[T]) ApproveForPromotion(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.getAnyTestData(id)
	if !ok {
		return false, nil
	}
	if err := item.EnvLifecycle().ApproveForPromotion(); err != nil {
		log.Printf("[repo] approve %s in %s: %v", id, r.env, err)
		return false, nil
	}
	r.desc.StampUpdated(item, time.Now().UTC())
	return true, nil
}

func (r *MemoryEnvRepository[T]) MarkAsTestData(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.getAnyTestData(id)
	if !ok {
		return false, nil
	}
	lc := item.EnvLifecycle()
	if lc.IsTestData {
		return false, nil
	}
	lc.MarkAsTestData(reason)
	r.desc.StampUpdated(item, time.Now().UTC())
	return true, nil
}

func (r *MemoryEnvRepository[T]) IsTestData(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.getAnyTestData(id)
	if !ok {
		return false, ErrNotFound
	}
	return item.EnvLifecycle().IsTestData, nil
}

func (r *MemoryEnvRepository[T]) GetTestDataItems(ctx context.Context, skip, limit int) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.collect(func(item T) bool {
		lc := item.EnvLifecycle()
		return lc.Environment == r.env && lc.IsTestData && r.live(item)
	})
	return r.page(all, skip, limit), nil
}

func (r *MemoryEnvRepository[T]) GetUnflaggedItems(ctx context.Context, skip, limit int) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.collect(func(item T) bool {
		lc := item.EnvLifecycle()
		return lc.Environment == r.env && !lc.IsTestData && r.live(item)
	})
	return r.page(all, skip, limit), nil
}

func (r *MemoryEnvRepository[T]) MarkAsPromoted(ctx context.Context, id uuid.UUID, target environment.Environment, byUser uuid.UUID) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	item, ok := r.getAnyTestData(id)
	if !ok {
		return zero, ErrNotFound
	}
	lc := item.EnvLifecycle()
	if lc.IsTestData {
		return zero, ErrNotFound
	}
	if lc.PromotionStatus != environment.StatusApproved && lc.PromotionStatus != environment.StatusPromoted {
		return zero, ErrNotFound
	}
	lc.MarkAsPromoted(target, byUser)
	r.desc.StampUpdated(item, time.Now().UTC())
	return r.desc.Clone(item), nil
}

func (r *MemoryEnvRepository[T]) UnmarkPromoted(ctx context.Context, id uuid.UUID, target environment.Environment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.EnvLifecycle().Environment != r.env {
		return false, nil
	}
	lc := item.EnvLifecycle()
	next := lc.PromotedToEnvironments[:0:0]
	for _, e := range lc.PromotedToEnvironments {
		if e != target {
			next = append(next, e)
		}
	}
	lc.PromotedToEnvironments = next
	if len(next) == 0 && lc.PromotionStatus == environment.StatusPromoted {
		lc.PromotionStatus = environment.StatusApproved
	}
	r.desc.StampUpdated(item, time.Now().UTC())
	return true, nil
}

func (r *MemoryEnvRepository[T]) GetByIDAnyEnvironment(ctx context.Context, id uuid.UUID, env environment.Environment) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	item, ok := r.items[id]
	if !ok || item.EnvLifecycle().Environment != env {
		return zero, ErrNotFound
	}
	return r.desc.Clone(item), nil
}

func (r *MemoryEnvRepository[T]) CountByEnvironment(ctx context.Context, env environment.Environment) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, item := range r.items {
		if item.EnvLifecycle().Environment == env && r.live(item) {
			n++
		}
	}
	return n, nil
}
