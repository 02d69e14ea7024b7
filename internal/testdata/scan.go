package testdata

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
)

// DefaultScanBatchSize bounds a single sweep when the caller does not.
const DefaultScanBatchSize = 100

// Entity is what a sweep needs from each record: identity, the lifecycle
// capability and the scannable text fields.
type Entity interface {
	Scannable
	EntityID() uuid.UUID
	EnvLifecycle() *environment.Lifecycle
}

// Source supplies records to a sweep and persists the test flag. Satisfied by
// the environment-aware repositories.
type Source[T Entity] interface {
	GetUnflaggedItems(ctx context.Context, skip, limit int) ([]T, error)
	MarkAsTestData(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

// Report summarizes one sweep. Scanned counts records actually inspected;
// AlreadyMarked counts marks lost to a concurrent sweep.
type Report struct {
	Scanned       int `json:"scanned"`
	Marked        int `json:"markedAsTest"`
	AlreadyMarked int `json:"alreadyMarked"`
	Errors        int `json:"errors"`
}

// ScanAndMark pulls up to batchSize records that are not yet flagged, checks
// each one and marks hits as test data. Flagged records never occupy the
// batch window, so repeated sweeps walk the whole unflagged set and the
// sweep converges: once everything synthetic is marked, a pass is a no-op.
func ScanAndMark[T Entity](ctx context.Context, det *Detector, src Source[T], batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultScanBatchSize
	}

	var report Report
	items, err := src.GetUnflaggedItems(ctx, 0, batchSize)
	if err != nil {
		return report, fmt.Errorf("scan: load batch: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		hit, reason := det.CheckEntity(item)
		if !hit {
			continue
		}
		ok, err := src.MarkAsTestData(ctx, item.EntityID(), reason)
		if err != nil {
			report.Errors++
			log.Printf("[testdata] mark %s failed: %v", item.EntityID(), err)
			continue
		}
		if !ok {
			// Lost a race with another sweep; the flag is already set.
			report.AlreadyMarked++
			continue
		}
		report.Marked++
	}
	return report, nil
}
