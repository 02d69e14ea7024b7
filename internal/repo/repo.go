// Package repo provides generic persistence over entity types. Capability
//-bearing types go through EnvRepository, which enforces environment scoping
// and test-data exclusion on every query; plain types go through Repository,
// which never scopes. The split is a compile-time distinction, so there is no
// runtime capability detection.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
)

var ErrNotFound = errors.New("not found")

// CreationTestReason is the fixed reason recorded when a record is flagged as
// test data at creation time rather than by the detector.
const CreationTestReason = "marked as test data at creation"

// Entity is the minimal persistable record.
type Entity interface {
	EntityID() uuid.UUID
}

// EnvEntity is an entity carrying the environment lifecycle capability.
type EnvEntity interface {
	Entity
	environment.EnvironmentAware
}

// RowScanner abstracts *sql.Row and *sql.Rows for the descriptor scan funcs.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// Descriptor binds an entity type to its table. The column lists and the
// Args/Scan pairs are the explicit per-type whitelist: a column missing here
// simply cannot be written, and a typo fails at test time rather than being
// silently ignored.
type Descriptor[T Entity] struct {
	Table string

	// Columns is the full SELECT list, in scan order.
	Columns []string
	// InsertColumns is the INSERT list (id first, no server-stamped columns).
	InsertColumns []string

	// Scan reads one row in Columns order.
	Scan func(RowScanner) (T, error)
	// Args produces the values for InsertColumns, id first.
	Args func(T) []interface{}

	// Clone returns an independent copy; used by the memory implementations
	// so callers never alias stored records.
	Clone func(T) T

	SetID        func(T, uuid.UUID)
	StampCreated func(T, time.Time)
	StampUpdated func(T, time.Time)
	CreatedAt    func(T) time.Time

	// SoftDelete marks tables carrying a deleted_at column; Delete then
	// tombstones instead of removing the row. SetDeleted and IsDeleted are
	// only used by the memory implementation and may be nil when SoftDelete
	// is false.
	SoftDelete bool
	SetDeleted func(T, *time.Time)
	IsDeleted  func(T) bool
}

// Repository is the plain generic CRUD contract for non-capability types.
type Repository[T Entity] interface {
	Create(ctx context.Context, item T) (T, error)
	GetByID(ctx context.Context, id uuid.UUID) (T, error)
	GetAll(ctx context.Context, skip, limit int) ([]T, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// EnvRepository is the environment-aware contract. Reads are scoped to the
// repository's environment; test data is excluded per the construction flag
// and always in production. The privileged cross-environment reads at the
// bottom bypass the scope and must be authorization-guarded at the boundary.
type EnvRepository[T EnvEntity] interface {
	Environment() environment.Environment

	GetByID(ctx context.Context, id uuid.UUID) (T, error)
	GetAll(ctx context.Context, skip, limit int) ([]T, error)
	GetAllIncludingTestData(ctx context.Context, skip, limit int) ([]T, error)
	Create(ctx context.Context, item T, markAsTest bool) (T, error)
	Update(ctx context.Context, id uuid.UUID, apply func(T) error) (T, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	HardDelete(ctx context.Context, id uuid.UUID) (bool, error)

	GetPromotableItems(ctx context.Context, skip, limit int) ([]T, error)
	ApproveForPromotion(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAsTestData(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	IsTestData(ctx context.Context, id uuid.UUID) (bool, error)
	GetTestDataItems(ctx context.Context, skip, limit int) ([]T, error)
	GetUnflaggedItems(ctx context.Context, skip, limit int) ([]T, error)
	MarkAsPromoted(ctx context.Context, id uuid.UUID, target environment.Environment, byUser uuid.UUID) (T, error)
	UnmarkPromoted(ctx context.Context, id uuid.UUID, target environment.Environment) (bool, error)

	GetByIDAnyEnvironment(ctx context.Context, id uuid.UUID, env environment.Environment) (T, error)
	CountByEnvironment(ctx context.Context, env environment.Environment) (int64, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeSkip(skip int) int {
	if skip < 0 {
		return 0
	}
	return skip
}

func ensureJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}
