package promotion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/repo"
)

// MemoryLedgerStore mirrors PGLedgerStore for tests and local runs.
type MemoryLedgerStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*models.EnvironmentPromotion
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{runs: make(map[uuid.UUID]*models.EnvironmentPromotion)}
}

func cloneRun(run *models.EnvironmentPromotion) *models.EnvironmentPromotion {
	out := *run
	if run.ItemsPromoted != nil {
		items := *run.ItemsPromoted
		items.IDs = append([]uuid.UUID(nil), run.ItemsPromoted.IDs...)
		out.ItemsPromoted = &items
	}
	if run.Errors != nil {
		out.Errors = make(map[string]string, len(run.Errors))
		for k, v := range run.Errors {
			out.Errors[k] = v
		}
	}
	out.RollbackData = append([]models.ArtifactRecord(nil), run.RollbackData...)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		out.CompletedAt = &t
	}
	if run.DurationSeconds != nil {
		d := *run.DurationSeconds
		out.DurationSeconds = &d
	}
	if run.Reason != nil {
		r := *run.Reason
		out.Reason = &r
	}
	if run.RolledBackAt != nil {
		t := *run.RolledBackAt
		out.RolledBackAt = &t
	}
	if run.RolledBackByUserID != nil {
		u := *run.RolledBackByUserID
		out.RolledBackByUserID = &u
	}
	return &out
}

func (s *MemoryLedgerStore) Create(ctx context.Context, run *models.EnvironmentPromotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryLedgerStore) Get(ctx context.Context, id uuid.UUID) (*models.EnvironmentPromotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryLedgerStore) List(ctx context.Context, filter ListFilter, skip, limit int) ([]*models.EnvironmentPromotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*models.EnvironmentPromotion
	for _, run := range s.runs {
		if filter.PromotionType != "" && run.PromotionType != filter.PromotionType {
			continue
		}
		if filter.SourceEnvironment != "" && run.SourceEnvironment != filter.SourceEnvironment {
			continue
		}
		if filter.TargetEnvironment != "" && run.TargetEnvironment != filter.TargetEnvironment {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		all = append(all, run)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	if skip < 0 {
		skip = 0
	}
	limit = normalizeLimit(limit)
	if skip >= len(all) {
		return nil, nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*models.EnvironmentPromotion, 0, end-skip)
	for _, run := range all[skip:end] {
		out = append(out, cloneRun(run))
	}
	return out, nil
}

func (s *MemoryLedgerStore) Start(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunPending {
		return repo.ErrNotFound
	}
	run.Status = models.RunInProgress
	return nil
}

func (s *MemoryLedgerStore) Complete(ctx context.Context, run *models.EnvironmentPromotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok || current.Status != models.RunInProgress {
		return repo.ErrNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryLedgerStore) MarkRolledBack(ctx context.Context, id, byUser uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || !run.CanRollback {
		return false, nil
	}
	if run.Status != models.RunSuccess && run.Status != models.RunFailed {
		return false, nil
	}
	now := time.Now().UTC()
	run.Status = models.RunRolledBack
	run.RolledBackAt = &now
	user := byUser
	run.RolledBackByUserID = &user
	run.CanRollback = false
	return true, nil
}

var _ LedgerStore = (*MemoryLedgerStore)(nil)
var _ LedgerStore = (*PGLedgerStore)(nil)
