package repo

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
)

func promptTemplateColumns() (insert, all []string) {
	insert = append([]string{
		"id",
		"name",
		"body",
		"tags",
	}, lifecycleColumns()...)
	all = append(append([]string{}, insert...), "created_at", "updated_at")
	return insert, all
}

func scanPromptTemplate(row RowScanner) (*models.PromptTemplate, error) {
	var (
		p     models.PromptTemplate
		tags  pq.StringArray
		lcRow lifecycleRow
	)
	dest := []interface{}{
		&p.ID,
		&p.Name,
		&p.Body,
		&tags,
	}
	dest = append(dest, lcRow.dest()...)
	dest = append(dest, &p.CreatedAt, &p.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.Tags = []string(tags)
	lcRow.apply(&p.Lifecycle)
	return &p, nil
}

func promptTemplateArgs(p *models.PromptTemplate) []interface{} {
	args := []interface{}{
		p.ID,
		p.Name,
		p.Body,
		pq.Array(p.Tags),
	}
	return append(args, lifecycleArgs(&p.Lifecycle)...)
}

func clonePromptTemplate(p *models.PromptTemplate) *models.PromptTemplate {
	out := *p
	out.Tags = append([]string(nil), p.Tags...)
	out.Lifecycle = p.Lifecycle.Clone()
	return &out
}

// PromptTemplateDescriptor binds models.PromptTemplate to the
// prompt_templates table. Templates hard-delete; there is no tombstone.
func PromptTemplateDescriptor() Descriptor[*models.PromptTemplate] {
	insert, all := promptTemplateColumns()
	return Descriptor[*models.PromptTemplate]{
		Table:         "prompt_templates",
		Columns:       all,
		InsertColumns: insert,
		Scan:          scanPromptTemplate,
		Args:          promptTemplateArgs,
		Clone:         clonePromptTemplate,
		SetID:         func(p *models.PromptTemplate, id uuid.UUID) { p.ID = id },
		StampCreated: func(p *models.PromptTemplate, now time.Time) {
			p.CreatedAt = now
			p.UpdatedAt = now
		},
		StampUpdated: func(p *models.PromptTemplate, now time.Time) { p.UpdatedAt = now },
		CreatedAt:    func(p *models.PromptTemplate) time.Time { return p.CreatedAt },
	}
}

func NewPromptTemplateRepository(db *sql.DB, env environment.Environment, autoExcludeTestData bool) *PGEnvRepository[*models.PromptTemplate] {
	return NewPGEnvRepository(db, PromptTemplateDescriptor(), env, autoExcludeTestData)
}

func NewMemoryPromptTemplateRepository(env environment.Environment, autoExcludeTestData bool) *MemoryEnvRepository[*models.PromptTemplate] {
	return NewMemoryEnvRepository(PromptTemplateDescriptor(), env, autoExcludeTestData)
}
