package promotion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/audit"
	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
)

var (
	ErrNoCandidates       = errors.New("no promotable items")
	ErrRollbackNotAllowed = errors.New("rollback not allowed")
)

const (
	defaultCopyConcurrency = 4
	previewItemLimit       = 10
)

// Request describes one promotion run.
type Request struct {
	EntityType string                  `json:"entityType"`
	Source     environment.Environment `json:"sourceEnvironment"`
	Target     environment.Environment `json:"targetEnvironment"`
	// ItemIDs narrows the run to specific records. Empty means every
	// approved record in the source environment.
	ItemIDs    []uuid.UUID `json:"itemIds,omitempty"`
	PromotedBy uuid.UUID   `json:"promotedByUserId"`
	Reason     string      `json:"reason,omitempty"`
}

// Result summarizes a finished run for the caller. The full record stays in
// the ledger under PromotionID.
type Result struct {
	PromotionID     uuid.UUID         `json:"promotionId"`
	Status          models.RunStatus  `json:"status"`
	SuccessCount    int               `json:"successCount"`
	ErrorCount      int               `json:"errorCount"`
	Errors          map[string]string `json:"errors,omitempty"`
	DurationSeconds float64           `json:"durationSeconds"`
}

// Preview reports what a run would do without moving anything.
type Preview struct {
	EntityType        string                  `json:"entityType"`
	SourceEnvironment environment.Environment `json:"sourceEnvironment"`
	TargetEnvironment environment.Environment `json:"targetEnvironment"`
	TotalCount        int                     `json:"totalCount"`
	TotalSizeBytes    int64                   `json:"totalSizeBytes"`
	Items             []Candidate             `json:"items"`
	Errors            []string                `json:"errors,omitempty"`
	Warnings          []string                `json:"warnings,omitempty"`
	IsValid           bool                    `json:"isValid"`
}

// Orchestrator drives promotion runs. External copies fan out across a
// bounded set of goroutines; every ledger and record write happens serially
// on the calling goroutine, so a run needs no locking of its own.
type Orchestrator struct {
	registry  *Registry
	ledger    LedgerStore
	recorder  *audit.Recorder
	archiver  RunArchiver
	copySlots int
}

func NewOrchestrator(registry *Registry, ledger LedgerStore, recorder *audit.Recorder, archiver RunArchiver, copyConcurrency int) *Orchestrator {
	if copyConcurrency <= 0 {
		copyConcurrency = defaultCopyConcurrency
	}
	return &Orchestrator{
		registry:  registry,
		ledger:    ledger,
		recorder:  recorder,
		archiver:  archiver,
		copySlots: copyConcurrency,
	}
}

// dedupeIDs drops repeated ids while preserving order. Per-item errors are
// keyed by id, so a repeated id would collapse in the error map and bend the
// success+error count conservation.
func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) validate(req Request) (Promoter, error) {
	promoter, err := o.registry.Get(req.EntityType)
	if err != nil {
		return nil, err
	}
	if err := environment.CanPromote(req.Source, req.Target); err != nil {
		return nil, err
	}
	return promoter, nil
}

// Preview validates the request and reports the candidate set. Nothing is
// copied and no ledger row is written.
func (o *Orchestrator) Preview(ctx context.Context, req Request) (*Preview, error) {
	promoter, err := o.validate(req)
	if err != nil {
		return nil, err
	}
	candidates, err := promoter.Candidates(ctx, req.Source, req.Target, dedupeIDs(req.ItemIDs))
	if err != nil {
		return nil, fmt.Errorf("collect candidates: %w", err)
	}

	pv := &Preview{
		EntityType:        req.EntityType,
		SourceEnvironment: req.Source,
		TargetEnvironment: req.Target,
		TotalCount:        len(candidates),
	}
	for _, c := range candidates {
		pv.TotalSizeBytes += c.SizeBytes
		if len(pv.Items) < previewItemLimit {
			pv.Items = append(pv.Items, c)
		}
		for _, msg := range c.Errors {
			pv.Errors = append(pv.Errors, fmt.Sprintf("item %s: %s", c.ID, msg))
		}
		for _, msg := range c.Warnings {
			pv.Warnings = append(pv.Warnings, fmt.Sprintf("item %s: %s", c.ID, msg))
		}
	}
	if len(candidates) == 0 {
		pv.Errors = append(pv.Errors, ErrNoCandidates.Error())
	}
	pv.IsValid = len(pv.Errors) == 0

	o.audit(ctx, req.PromotedBy, audit.ActionPromotionPreviewed, nil, req.Target, map[string]interface{}{
		"entityType": req.EntityType,
		"source":     req.Source,
		"target":     req.Target,
		"totalCount": pv.TotalCount,
		"isValid":    pv.IsValid,
	})
	return pv, nil
}

type stagedItem struct {
	c      Candidate
	staged *Staged
	err    error
}

// Execute runs a promotion end to end. Individual item failures are recorded
// on the run and do not stop the remaining items; the run only gets status
// failed when it could not start at all.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	promoter, err := o.validate(req)
	if err != nil {
		return nil, err
	}
	if req.PromotedBy == uuid.Nil {
		return nil, errors.New("promoting user required")
	}

	run := &models.EnvironmentPromotion{
		PromotionType:     req.EntityType,
		SourceEnvironment: req.Source,
		TargetEnvironment: req.Target,
		PromotedByUserID:  req.PromotedBy,
	}
	if req.Reason != "" {
		reason := req.Reason
		run.Reason = &reason
	}
	if err := o.ledger.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create promotion record: %w", err)
	}
	if err := o.ledger.Start(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("start promotion %s: %w", run.ID, err)
	}
	run.Status = models.RunInProgress

	candidates, err := promoter.Candidates(ctx, req.Source, req.Target, dedupeIDs(req.ItemIDs))
	if err != nil {
		ferr := fmt.Errorf("collect candidates: %w", err)
		o.completeFailed(ctx, run, ferr)
		return nil, ferr
	}
	if len(candidates) == 0 {
		o.completeFailed(ctx, run, ErrNoCandidates)
		return nil, fmt.Errorf("promotion %s: %w", run.ID, ErrNoCandidates)
	}

	runErrors := make(map[string]string)
	var eligible []Candidate
	for _, c := range candidates {
		if len(c.Errors) > 0 {
			runErrors[c.ID.String()] = strings.Join(c.Errors, "; ")
			continue
		}
		eligible = append(eligible, c)
	}

	staged := make([]stagedItem, len(eligible))
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.copySlots)
	for i, c := range eligible {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				staged[i] = stagedItem{c: c, err: err}
				return
			}
			s, err := promoter.Stage(ctx, req.Source, req.Target, c.ID)
			staged[i] = stagedItem{c: c, staged: s, err: err}
		}(i, c)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		// The run stays in_progress for an operator to inspect.
		return nil, fmt.Errorf("promotion %s interrupted: %w", run.ID, err)
	}

	var (
		artifacts   []models.ArtifactRecord
		promotedIDs []uuid.UUID
	)
	for _, it := range staged {
		if it.err != nil {
			runErrors[it.c.ID.String()] = it.err.Error()
			if it.staged != nil {
				o.discardStaged(ctx, promoter, req.Target, it.c.ID, it.staged)
			}
			continue
		}
		artifact, err := promoter.Commit(ctx, req.Source, req.Target, it.staged, req.PromotedBy)
		if err != nil {
			runErrors[it.c.ID.String()] = err.Error()
			cleanup := models.ArtifactRecord{
				SourceItemID:   it.c.ID,
				StorageKeys:    it.staged.StorageKeys,
				VectorPointIDs: it.staged.VectorPointIDs,
			}
			if artifact != nil {
				cleanup = *artifact
			}
			if derr := promoter.Discard(ctx, req.Target, cleanup); derr != nil {
				log.Printf("[promotion] discard after failed commit of %s: %v", it.c.ID, derr)
			}
			continue
		}
		artifacts = append(artifacts, *artifact)
		promotedIDs = append(promotedIDs, it.c.ID)
	}

	now := time.Now().UTC()
	duration := now.Sub(run.StartedAt).Seconds()
	run.Status = models.RunSuccess
	run.CompletedAt = &now
	run.DurationSeconds = &duration
	run.SuccessCount = len(artifacts)
	run.ErrorCount = len(runErrors)
	if len(runErrors) > 0 {
		run.Errors = runErrors
	}
	run.ItemsPromoted = &models.ItemsSummary{Count: len(promotedIDs), IDs: promotedIDs}
	run.CanRollback = len(artifacts) > 0
	run.RollbackData = artifacts
	if err := o.ledger.Complete(ctx, run); err != nil {
		return nil, fmt.Errorf("complete promotion %s: %w", run.ID, err)
	}

	o.audit(ctx, req.PromotedBy, audit.ActionPromotionExecuted, &run.ID, req.Target, map[string]interface{}{
		"entityType":   req.EntityType,
		"source":       req.Source,
		"target":       req.Target,
		"successCount": run.SuccessCount,
		"errorCount":   run.ErrorCount,
	})
	o.archive(ctx, run)

	return &Result{
		PromotionID:     run.ID,
		Status:          run.Status,
		SuccessCount:    run.SuccessCount,
		ErrorCount:      run.ErrorCount,
		Errors:          run.Errors,
		DurationSeconds: duration,
	}, nil
}

// Rollback undoes a finished run: target-side artifacts are removed first,
// then the source records drop their promoted stamp. Any failure leaves the
// run rollbackable so the operator can retry.
func (o *Orchestrator) Rollback(ctx context.Context, id, byUser uuid.UUID) (*models.EnvironmentPromotion, error) {
	if byUser == uuid.Nil {
		return nil, errors.New("rollback user required")
	}
	run, err := o.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case run.Status == models.RunRolledBack:
		return nil, fmt.Errorf("promotion %s already rolled back: %w", id, ErrRollbackNotAllowed)
	case !run.CanRollback:
		return nil, fmt.Errorf("promotion %s has nothing to roll back: %w", id, ErrRollbackNotAllowed)
	case run.Status != models.RunSuccess && run.Status != models.RunFailed:
		return nil, fmt.Errorf("promotion %s is %s: %w", id, run.Status, ErrRollbackNotAllowed)
	}
	promoter, err := o.registry.Get(run.PromotionType)
	if err != nil {
		return nil, err
	}

	var failures []string
	for _, artifact := range run.RollbackData {
		if err := promoter.Discard(ctx, run.TargetEnvironment, artifact); err != nil {
			failures = append(failures, fmt.Sprintf("remove %s: %v", artifact.EntityID, err))
			continue
		}
		if err := promoter.Revert(ctx, run.SourceEnvironment, artifact.SourceItemID, run.TargetEnvironment); err != nil {
			failures = append(failures, fmt.Sprintf("revert %s: %v", artifact.SourceItemID, err))
		}
	}
	if len(failures) > 0 {
		return nil, fmt.Errorf("rollback of %s incomplete: %s", id, strings.Join(failures, "; "))
	}

	ok, err := o.ledger.MarkRolledBack(ctx, id, byUser)
	if err != nil {
		return nil, fmt.Errorf("mark promotion %s rolled back: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("promotion %s changed state during rollback: %w", id, ErrRollbackNotAllowed)
	}

	o.audit(ctx, byUser, audit.ActionPromotionRolledBack, &id, run.TargetEnvironment, map[string]interface{}{
		"entityType":    run.PromotionType,
		"source":        run.SourceEnvironment,
		"target":        run.TargetEnvironment,
		"itemsReverted": len(run.RollbackData),
	})

	return o.ledger.Get(ctx, id)
}

func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*models.EnvironmentPromotion, error) {
	return o.ledger.Get(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, filter ListFilter, skip, limit int) ([]*models.EnvironmentPromotion, error) {
	return o.ledger.List(ctx, filter, skip, limit)
}

// completeFailed closes a run that never reached its items. ErrorCount stays
// zero; it counts item attempts, and a failed run attempted none.
func (o *Orchestrator) completeFailed(ctx context.Context, run *models.EnvironmentPromotion, cause error) {
	now := time.Now().UTC()
	duration := now.Sub(run.StartedAt).Seconds()
	run.Status = models.RunFailed
	run.CompletedAt = &now
	run.DurationSeconds = &duration
	run.Errors = map[string]string{"run": cause.Error()}
	run.CanRollback = false
	if err := o.ledger.Complete(ctx, run); err != nil {
		log.Printf("[promotion] complete failed promotion %s: %v", run.ID, err)
	}
}

func (o *Orchestrator) discardStaged(ctx context.Context, promoter Promoter, target environment.Environment, id uuid.UUID, staged *Staged) {
	if len(staged.StorageKeys) == 0 && len(staged.VectorPointIDs) == 0 {
		return
	}
	artifact := models.ArtifactRecord{
		SourceItemID:   id,
		StorageKeys:    staged.StorageKeys,
		VectorPointIDs: staged.VectorPointIDs,
	}
	if err := promoter.Discard(ctx, target, artifact); err != nil {
		log.Printf("[promotion] discard staged copies for %s: %v", id, err)
	}
}

func (o *Orchestrator) audit(ctx context.Context, userID uuid.UUID, action string, targetID *uuid.UUID, env environment.Environment, detail interface{}) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(ctx, userID, action, "promotion", targetID, env, detail); err != nil {
		log.Printf("[promotion] record %s audit: %v", action, err)
	}
}

func (o *Orchestrator) archive(ctx context.Context, run *models.EnvironmentPromotion) {
	if o.archiver == nil {
		return
	}
	key, err := o.archiver.ArchiveRun(ctx, run)
	if err != nil {
		log.Printf("[promotion] archive promotion %s: %v", run.ID, err)
		return
	}
	log.Printf("[promotion] archived promotion %s to %s", run.ID, key)
}
