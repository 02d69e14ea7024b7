package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/testdata"
)

// Document is a corpus file: a relational row plus an object-storage payload
// and the vector points indexed from it. Embeds the environment lifecycle.
type Document struct {
	ID             uuid.UUID       `json:"id"`
	Filename       string          `json:"filename"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	ContentType    string          `json:"contentType"`
	SizeBytes      int64           `json:"sizeBytes"`
	StorageKey     string          `json:"storageKey"`
	VectorPointIDs []string        `json:"vectorPointIds,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	environment.Lifecycle
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (d *Document) EntityID() uuid.UUID { return d.ID }

func (d *Document) TextFields() []testdata.TextField {
	return []testdata.TextField{
		{Name: "filename", Value: d.Filename},
		{Name: "title", Value: d.Title},
		{Name: "description", Value: d.Description},
	}
}

// PromptTemplate is a purely relational promotable entity; it carries no
// external payloads.
type PromptTemplate struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Body string    `json:"body"`
	Tags []string  `json:"tags,omitempty"`
	environment.Lifecycle
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *PromptTemplate) EntityID() uuid.UUID { return p.ID }

func (p *PromptTemplate) TextFields() []testdata.TextField {
	return []testdata.TextField{
		{Name: "name", Value: p.Name},
		{Name: "body", Value: p.Body},
	}
}

var (
	_ environment.EnvironmentAware = (*Document)(nil)
	_ environment.EnvironmentAware = (*PromptTemplate)(nil)
	_ testdata.Scannable           = (*Document)(nil)
	_ testdata.Scannable           = (*PromptTemplate)(nil)
)

// AuditLogEntry is a thin compliance record of who touched which environment
// and why. Not capability-bearing.
type AuditLogEntry struct {
	ID          uuid.UUID               `json:"id"`
	UserID      uuid.UUID               `json:"userId"`
	Action      string                  `json:"action"`
	TargetType  string                  `json:"targetType,omitempty"`
	TargetID    *uuid.UUID              `json:"targetId,omitempty"`
	Environment environment.Environment `json:"environment,omitempty"`
	Detail      json.RawMessage         `json:"detail,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
}

func (a *AuditLogEntry) EntityID() uuid.UUID { return a.ID }
