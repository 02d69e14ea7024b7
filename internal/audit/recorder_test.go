package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/audit"
	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/repo"
)

type stubProducer struct {
	keys []string
	err  error
}

func (s *stubProducer) ProduceJSON(ctx context.Context, key []byte, v interface{}) error {
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, string(key))
	return nil
}

func TestRecordWritesRowAndEvent(t *testing.T) {
	ctx := context.Background()
	logs := repo.NewMemoryAuditLogRepository()
	producer := &stubProducer{}
	rec := audit.NewRecorder(logs, producer)

	user := uuid.New()
	target := uuid.New()
	err := rec.Record(ctx, user, audit.ActionItemApproved, "document", &target, environment.Dev,
		map[string]string{"reason": "release sign-off"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := logs.GetAll(ctx, 0, 10)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionItemApproved || e.UserID != user {
		t.Fatalf("entry fields wrong: %+v", e)
	}
	if e.TargetID == nil || *e.TargetID != target {
		t.Fatalf("target id wrong: %v", e.TargetID)
	}
	if e.CreatedAt.IsZero() {
		t.Fatalf("created_at not stamped")
	}

	if len(producer.keys) != 1 || producer.keys[0] != target.String() {
		t.Fatalf("event not produced with target key: %v", producer.keys)
	}
}

func TestRecordSurvivesProducerFailure(t *testing.T) {
	ctx := context.Background()
	logs := repo.NewMemoryAuditLogRepository()
	rec := audit.NewRecorder(logs, &stubProducer{err: errors.New("broker down")})

	err := rec.Record(ctx, uuid.New(), audit.ActionTestDataScanned, "document", nil, environment.Stage, nil)
	if err != nil {
		t.Fatalf("record should not fail on produce error: %v", err)
	}
	entries, _ := logs.GetAll(ctx, 0, 10)
	if len(entries) != 1 {
		t.Fatalf("row not written despite producer failure")
	}
}

func TestRecordWithoutProducer(t *testing.T) {
	ctx := context.Background()
	logs := repo.NewMemoryAuditLogRepository()
	rec := audit.NewRecorder(logs, nil)

	if err := rec.Record(ctx, uuid.New(), audit.ActionItemMarkedTestData, "prompt_template", nil, environment.Dev, nil); err != nil {
		t.Fatalf("record without producer: %v", err)
	}
}
