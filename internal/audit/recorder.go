// Package audit records who did what to which record in which environment.
// Every privileged lifecycle operation lands here: a durable audit_log row
// first, then a best-effort Kafka event for downstream consumers.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/repo"
)

// Actions recorded by the admin surface and the promotion flow.
const (
	ActionPromotionPreviewed  = "promotion.previewed"
	ActionPromotionExecuted   = "promotion.executed"
	ActionPromotionRolledBack = "promotion.rolled_back"
	ActionItemApproved        = "item.approved"
	ActionItemMarkedTestData  = "item.marked_test_data"
	ActionTestDataScanned     = "test_data.scanned"
	ActionCrossEnvAccess      = "access.cross_environment"
)

// Producer is the slice of EventProducer the recorder needs; nil means events
// are skipped and only the database row is written.
type Producer interface {
	ProduceJSON(ctx context.Context, key []byte, v interface{}) error
}

type Recorder struct {
	logs     repo.Repository[*models.AuditLogEntry]
	producer Producer
}

func NewRecorder(logs repo.Repository[*models.AuditLogEntry], producer Producer) *Recorder {
	return &Recorder{logs: logs, producer: producer}
}

type event struct {
	Action      string                  `json:"action"`
	UserID      uuid.UUID               `json:"userId"`
	TargetType  string                  `json:"targetType,omitempty"`
	TargetID    *uuid.UUID              `json:"targetId,omitempty"`
	Environment environment.Environment `json:"environment"`
	Detail      json.RawMessage         `json:"detail,omitempty"`
	Ts          time.Time               `json:"ts"`
}

// Record writes the audit row and, when a producer is wired, publishes the
// matching event. A produce failure is logged and swallowed: the row already
// holds the truth and the admin call must not fail because a broker blinked.
func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, action, targetType string, targetID *uuid.UUID, env environment.Environment, detail interface{}) error {
	var raw json.RawMessage
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		raw = b
	}

	entry := &models.AuditLogEntry{
		UserID:      userID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Environment: env,
		Detail:      raw,
	}
	if _, err := r.logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}

	if r.producer == nil {
		return nil
	}
	key := []byte(action)
	if targetID != nil {
		key = []byte(targetID.String())
	}
	ev := event{
		Action:      action,
		UserID:      userID,
		TargetType:  targetType,
		TargetID:    targetID,
		Environment: env,
		Detail:      raw,
		Ts:          time.Now().UTC(),
	}
	if err := r.producer.ProduceJSON(ctx, key, ev); err != nil {
		log.Printf("[audit] produce %s event: %v", action, err)
	}
	return nil
}
