package repo

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/models"
)

// Audit log entries are plain entities: no lifecycle capability, no
// environment scoping, append-only.

func auditLogColumns() (insert, all []string) {
	insert = []string{
		"id",
		"user_id",
		"action",
		"target_type",
		"target_id",
		"environment",
		"detail",
	}
	all = append(append([]string{}, insert...), "created_at")
	return insert, all
}

func scanAuditLogEntry(row RowScanner) (*models.AuditLogEntry, error) {
	var (
		e        models.AuditLogEntry
		targetID uuid.NullUUID
		detail   []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Action,
		&e.TargetType,
		&targetID,
		&e.Environment,
		&detail,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if targetID.Valid {
		v := targetID.UUID
		e.TargetID = &v
	}
	e.Detail = append(json.RawMessage(nil), detail...)
	return &e, nil
}

func auditLogArgs(e *models.AuditLogEntry) []interface{} {
	return []interface{}{
		e.ID,
		e.UserID,
		e.Action,
		e.TargetType,
		e.TargetID,
		e.Environment,
		ensureJSON(e.Detail, "{}"),
	}
}

func cloneAuditLogEntry(e *models.AuditLogEntry) *models.AuditLogEntry {
	out := *e
	if e.TargetID != nil {
		v := *e.TargetID
		out.TargetID = &v
	}
	out.Detail = append(json.RawMessage(nil), e.Detail...)
	return &out
}

func AuditLogDescriptor() Descriptor[*models.AuditLogEntry] {
	insert, all := auditLogColumns()
	return Descriptor[*models.AuditLogEntry]{
		Table:         "audit_log",
		Columns:       all,
		InsertColumns: insert,
		Scan:          scanAuditLogEntry,
		Args:          auditLogArgs,
		Clone:         cloneAuditLogEntry,
		SetID:         func(e *models.AuditLogEntry, id uuid.UUID) { e.ID = id },
		StampCreated:  func(e *models.AuditLogEntry, now time.Time) { e.CreatedAt = now },
		CreatedAt:     func(e *models.AuditLogEntry) time.Time { return e.CreatedAt },
	}
}

func NewAuditLogRepository(db *sql.DB) *PGRepository[*models.AuditLogEntry] {
	return NewPGRepository(db, AuditLogDescriptor())
}

func NewMemoryAuditLogRepository() *MemoryRepository[*models.AuditLogEntry] {
	return NewMemoryRepository(AuditLogDescriptor())
}

var (
	_ Repository[*models.AuditLogEntry] = (*PGRepository[*models.AuditLogEntry])(nil)
	_ Repository[*models.AuditLogEntry] = (*MemoryRepository[*models.AuditLogEntry])(nil)
)
