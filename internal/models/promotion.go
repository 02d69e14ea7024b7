package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
)

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// ArtifactRecord describes everything one promoted item created in the target
// environment, in just enough detail to reverse it.
type ArtifactRecord struct {
	EntityID       uuid.UUID `json:"entityId"`
	SourceItemID   uuid.UUID `json:"sourceItemId"`
	StorageKeys    []string  `json:"storageKeys,omitempty"`
	VectorPointIDs []string  `json:"vectorPointIds,omitempty"`
}

// ItemsSummary is the compact ids-plus-count record written to the ledger at
// run completion.
type ItemsSummary struct {
	Count int         `json:"count"`
	IDs   []uuid.UUID `json:"ids"`
}

// EnvironmentPromotion is one row of the promotion audit ledger. Rows are
// append-then-complete: terminal fields are written once and rollback is the
// only transition out of a terminal state.
type EnvironmentPromotion struct {
	ID                 uuid.UUID               `json:"id"`
	PromotionType      string                  `json:"promotionType"`
	SourceEnvironment  environment.Environment `json:"sourceEnvironment"`
	TargetEnvironment  environment.Environment `json:"targetEnvironment"`
	ItemsPromoted      *ItemsSummary           `json:"itemsPromoted,omitempty"`
	Status             RunStatus               `json:"status"`
	StartedAt          time.Time               `json:"startedAt"`
	CompletedAt        *time.Time              `json:"completedAt,omitempty"`
	DurationSeconds    *float64                `json:"durationSeconds,omitempty"`
	SuccessCount       int                     `json:"successCount"`
	ErrorCount         int                     `json:"errorCount"`
	Errors             map[string]string       `json:"errors,omitempty"`
	PromotedByUserID   uuid.UUID               `json:"promotedByUserId"`
	Reason             *string                 `json:"reason,omitempty"`
	CanRollback        bool                    `json:"canRollback"`
	RollbackData       []ArtifactRecord        `json:"rollbackData,omitempty"`
	RolledBackAt       *time.Time              `json:"rolledBackAt,omitempty"`
	RolledBackByUserID *uuid.UUID              `json:"rolledBackByUserId,omitempty"`
}
