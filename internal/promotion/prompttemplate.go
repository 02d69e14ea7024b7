package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/repo"
)

const PromptTemplateType = "prompt_template"

// PromptTemplatePromoter promotes prompt templates. Templates live entirely
// in the database, so staging has nothing to copy and rollback only touches
// records.
type PromptTemplatePromoter struct {
	repos func(environment.Environment) repo.EnvRepository[*models.PromptTemplate]
}

func NewPromptTemplatePromoter(repos func(environment.Environment) repo.EnvRepository[*models.PromptTemplate]) *PromptTemplatePromoter {
	return &PromptTemplatePromoter{repos: repos}
}

func (p *PromptTemplatePromoter) EntityType() string { return PromptTemplateType }

func (p *PromptTemplatePromoter) Candidates(ctx context.Context, source, target environment.Environment, ids []uuid.UUID) ([]Candidate, error) {
	srcRepo := p.repos(source)
	var (
		candidates []Candidate
		templates  []*models.PromptTemplate
	)
	if len(ids) > 0 {
		for _, id := range ids {
			tpl, err := srcRepo.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					candidates = append(candidates, Candidate{
						ID:     id,
						Errors: []string{fmt.Sprintf("not found in %s", source)},
					})
					continue
				}
				return nil, fmt.Errorf("load prompt template %s: %w", id, err)
			}
			templates = append(templates, tpl)
		}
	} else {
		var err error
		templates, err = srcRepo.GetPromotableItems(ctx, 0, maxCandidates)
		if err != nil {
			return nil, fmt.Errorf("list promotable prompt templates: %w", err)
		}
	}
	for _, tpl := range templates {
		candidates = append(candidates, describeTemplate(tpl, target))
	}
	return candidates, nil
}

func describeTemplate(tpl *models.PromptTemplate, target environment.Environment) Candidate {
	c := Candidate{ID: tpl.ID, Label: tpl.Name, SizeBytes: int64(len(tpl.Body))}
	lc := tpl.EnvLifecycle()
	if lc.IsTestData {
		c.Errors = append(c.Errors, "test data")
	} else if !lc.IsPromotable ||
		(lc.PromotionStatus != environment.StatusApproved && lc.PromotionStatus != environment.StatusPromoted) {
		c.Errors = append(c.Errors, "not approved for promotion")
	}
	if lc.PromotedTo(target) {
		c.Errors = append(c.Errors, fmt.Sprintf("already promoted to %s", target))
	}
	return c
}

// Stage only confirms the template still exists; there are no external
// payloads to move.
func (p *PromptTemplatePromoter) Stage(ctx context.Context, source, target environment.Environment, id uuid.UUID) (*Staged, error) {
	if _, err := p.repos(source).GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("load prompt template %s: %w", id, err)
	}
	return &Staged{SourceID: id}, nil
}

func (p *PromptTemplatePromoter) Commit(ctx context.Context, source, target environment.Environment, staged *Staged, byUser uuid.UUID) (*models.ArtifactRecord, error) {
	srcRepo := p.repos(source)
	tgtRepo := p.repos(target)

	src, err := srcRepo.GetByID(ctx, staged.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load prompt template %s: %w", staged.SourceID, err)
	}

	sourceEnv := source
	copyTpl := &models.PromptTemplate{
		Name: src.Name,
		Body: src.Body,
		Tags: append([]string(nil), src.Tags...),
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
	created, err := tgtRepo.Create(ctx, copyTpl, false)
	if err != nil {
		return nil, fmt.Errorf("create prompt template in %s: %w", target, err)
	}

	artifact := &models.ArtifactRecord{EntityID: created.ID, SourceItemID: src.ID}
	if _, err := srcRepo.MarkAsPromoted(ctx, src.ID, target, byUser); err != nil {
		return artifact, fmt.Errorf("stamp source prompt template %s: %w", src.ID, err)
	}
	return artifact, nil
}

func (p *PromptTemplatePromoter) Discard(ctx context.Context, target environment.Environment, artifact models.ArtifactRecord) error {
	if artifact.EntityID == uuid.Nil {
		return nil
	}
	if _, err := p.repos(target).HardDelete(ctx, artifact.EntityID); err != nil {
		return err
	}
	return nil
}

func (p *PromptTemplatePromoter) Revert(ctx context.Context, source environment.Environment, sourceID uuid.UUID, target environment.Environment) error {
	if _, err := p.repos(source).UnmarkPromoted(ctx, sourceID, target); err != nil {
		return fmt.Errorf("revert source prompt template %s: %w", sourceID, err)
	}
	return nil
}

var _ Promoter = (*PromptTemplatePromoter)(nil)
