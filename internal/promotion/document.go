package promotion

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/objectstore"
	"github.com/nimbusworks/envlift/internal/repo"
	"github.com/nimbusworks/envlift/internal/vectorindex"
)

const (
	DocumentType  = "document"
	documentClass = "Document"

	maxCandidates = 500
	// Payloads above this trip a preview warning, not an error.
	largePayloadBytes = int64(1) << 30
)

// DocumentPromoter promotes documents: payload bytes through object storage,
// embeddings through the vector index, then the database record itself.
type DocumentPromoter struct {
	repos func(environment.Environment) repo.EnvRepository[*models.Document]
	store objectstore.Store
	index vectorindex.Index
}

func NewDocumentPromoter(repos func(environment.Environment) repo.EnvRepository[*models.Document], store objectstore.Store, index vectorindex.Index) *DocumentPromoter {
	return &DocumentPromoter{repos: repos, store: store, index: index}
}

func (p *DocumentPromoter) EntityType() string { return DocumentType }

func (p *DocumentPromoter) Candidates(ctx context.Context, source, target environment.Environment, ids []uuid.UUID) ([]Candidate, error) {
	srcRepo := p.repos(source)
	var (
		candidates []Candidate
		docs       []*models.Document
	)
	if len(ids) > 0 {
		for _, id := range ids {
			doc, err := srcRepo.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					candidates = append(candidates, Candidate{
						ID:     id,
						Errors: []string{fmt.Sprintf("not found in %s", source)},
					})
					continue
				}
				return nil, fmt.Errorf("load document %s: %w", id, err)
			}
			docs = append(docs, doc)
		}
	} else {
		var err error
		docs, err = srcRepo.GetPromotableItems(ctx, 0, maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("list promotable documents: %w", err)
		}
	}
	for _, doc := range docs {
		candidates = append(candidates, p.describe(ctx, doc, source, target))
	}
	return candidates, nil
}

func (p *DocumentPromoter) describe(ctx context.Context, doc *models.Document, source, target environment.Environment) Candidate {
	c := Candidate{ID: doc.ID, Label: doc.Filename, SizeBytes: doc.SizeBytes}
	lc := doc.EnvLifecycle()
	if lc.IsTestData {
		c.Errors = append(c.Errors, "test data")
	} else if !lc.IsPromotable ||
		(lc.PromotionStatus != environment.StatusApproved && lc.PromotionStatus != environment.StatusPromoted) {
		c.Errors = append(c.Errors, "not approved for promotion")
	}
	if lc.PromotedTo(target) {
		c.Errors = append(c.Errors, fmt.Sprintf("already promoted to %s", target))
	}
	if doc.StorageKey != "" {
		ok, err := p.store.Exists(ctx, source, doc.StorageKey)
		if err != nil {
			c.Errors = append(c.Errors, fmt.Sprintf("payload check failed: %v", err))
		} else if !ok {
			c.Errors = append(c.Errors, fmt.Sprintf("payload missing: %s", doc.StorageKey))
		}
	}
	if doc.SizeBytes > largePayloadBytes {
		c.Warnings = append(c.Warnings, fmt.Sprintf("payload is %d bytes; transfer may be slow", doc.SizeBytes))
	}
	return c
}

// Stage copies the payload and embedding points into the target environment's
// stores. Buckets are per-environment, so the storage key carries over
// unchanged. Whatever was copied before a failure is reported in the returned
// Staged for cleanup.
func (p *DocumentPromoter) Stage(ctx context.Context, source, target environment.Environment, id uuid.UUID) (*Staged, error) {
	doc, err := p.repos(source).GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	staged := &Staged{SourceID: id}
	if doc.StorageKey != "" {
		if err := p.store.Copy(ctx, source, doc.StorageKey, target, doc.StorageKey); err != nil {
			return staged, err
		}
		staged.StorageKeys = []string{doc.StorageKey}
	}
	if len(doc.VectorPointIDs) > 0 {
		created, err := p.index.CopyPoints(ctx, documentClass, source, target, doc.VectorPointIDs)
		staged.VectorPointIDs = created
		if err != nil {
			return staged, err
		}
	}
	return staged, nil
}

// Commit creates the target-environment record and stamps the source as
// promoted. The target copy arrives approved so it can continue up the chain
// without a second review.
func (p *DocumentPromoter) Commit(ctx context.Context, source, target environment.Environment, staged *Staged, byUser uuid.UUID) (*models.ArtifactRecord, error) {
	srcRepo := p.repos(source)
	tgtRepo := p.repos(target)

	src, err := srcRepo.GetByID(ctx, staged.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", staged.SourceID, err)
	}

	sourceEnv := source
	copyDoc := &models.Document{
		Filename:       src.Filename,
		Title:          src.Title,
		Description:    src.Description,
		ContentType:    src.ContentType,
		SizeBytes:      src.SizeBytes,
		StorageKey:     src.StorageKey,
		VectorPointIDs: append([]string(nil), staged.VectorPointIDs...),
		Metadata:       append([]byte(nil), src.Metadata...),
		Lifecycle: environment.Lifecycle{
			Environment:             target,
			IsPromotable:            true,
			PromotionStatus:         environment.StatusApproved,
			PromotedFromEnvironment: &sourceEnv,
			PromotedToEnvironments:  []environment.Environment{},
			SourceID:                &src.ID,
			SourceEnvironment:       &sourceEnv,
		},
	}
	created, err := tgtRepo.Create(ctx, copyDoc, false)
	if err != nil {
		return nil, fmt.Errorf("create document in %s: %w", target, err)
	}

	artifact := &models.ArtifactRecord{
		EntityID:       created.ID,
		SourceItemID:   src.ID,
		StorageKeys:    append([]string(nil), staged.StorageKeys...),
		VectorPointIDs: append([]string(nil), staged.VectorPointIDs...),
	}
	if _, err := srcRepo.MarkAsPromoted(ctx, src.ID, target, byUser); err != nil {
		return artifact, fmt.Errorf("stamp source document %s: %w", src.ID, err)
	}
	return artifact, nil
}

// Discard removes everything an artifact says was created in target. It is
// idempotent so a retried rollback converges on a clean state.
func (p *DocumentPromoter) Discard(ctx context.Context, target environment.Environment, artifact models.ArtifactRecord) error {
	var firstErr error
	if artifact.EntityID != uuid.Nil {
		if _, err := p.repos(target).HardDelete(ctx, artifact.EntityID); err != nil {
			firstErr = err
		}
	}
	for _, key := range artifact.StorageKeys {
		if err := p.store.Delete(ctx, target, key); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				log.Printf("[promotion] discard payload %s in %s: %v", key, target, err)
			}
		}
	}
	if len(artifact.VectorPointIDs) > 0 {
		if err := p.index.DeletePoints(ctx, documentClass, target, artifact.VectorPointIDs); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				log.Printf("[promotion] discard points for %s in %s: %v", artifact.SourceItemID, target, err)
			}
		}
	}
	return firstErr
}

func (p *DocumentPromoter) Revert(ctx context.Context, source environment.Environment, sourceID uuid.UUID, target environment.Environment) error {
	if _, err := p.repos(source).UnmarkPromoted(ctx, sourceID, target); err != nil {
		return fmt.Errorf("revert source document %s: %w", sourceID, err)
	}
	return nil
}

var _ Promoter = (*DocumentPromoter)(nil)
