package repo

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
)

func documentColumns() (insert, all []string) {
	insert = append([]string{
		"id",
		"filename",
		"title",
		"description",
		"content_type",
		"size_bytes",
		"storage_key",
		"vector_point_ids",
		"metadata",
	}, lifecycleColumns()...)
	all = append(append([]string{}, insert...), "created_at", "updated_at", "deleted_at")
	return insert, all
}

func scanDocument(row RowScanner) (*models.Document, error) {
	var (
		d         models.Document
		vectorIDs pq.StringArray
		metadata  []byte
		lcRow     lifecycleRow
		deletedAt sql.NullTime
	)
	dest := []interface{}{
		&d.ID,
		&d.Filename,
		&d.Title,
		&d.Description,
		&d.ContentType,
		&d.SizeBytes,
		&d.StorageKey,
		&vectorIDs,
		&metadata,
	}
	dest = append(dest, lcRow.dest()...)
	dest = append(dest, &d.CreatedAt, &d.UpdatedAt, &deletedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	d.VectorPointIDs = []string(vectorIDs)
	d.Metadata = append(json.RawMessage(nil), metadata...)
	lcRow.apply(&d.Lifecycle)
	if deletedAt.Valid {
		t := deletedAt.Time
		d.DeletedAt = &t
	}
	return &d, nil
}

func documentArgs(d *models.Document) []interface{} {
	args := []interface{}{
		d.ID,
		d.Filename,
		d.Title,
		d.Description,
		d.ContentType,
		d.SizeBytes,
		d.StorageKey,
		pq.Array(d.VectorPointIDs),
		ensureJSON(d.Metadata, "{}"),
	}
	return append(args, lifecycleArgs(&d.Lifecycle)...)
}

func cloneDocument(d *models.Document) *models.Document {
	out := *d
	out.VectorPointIDs = append([]string(nil), d.VectorPointIDs...)
	out.Metadata = append(json.RawMessage(nil), d.Metadata...)
	out.Lifecycle = d.Lifecycle.Clone()
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// DocumentDescriptor binds models.Document to the documents table.
func DocumentDescriptor() Descriptor[*models.Document] {
	insert, all := documentColumns()
	return Descriptor[*models.Document]{
		Table:         "documents",
		Columns:       all,
		InsertColumns: insert,
		Scan:          scanDocument,
		Args:          documentArgs,
		Clone:         cloneDocument,
		SetID:         func(d *models.Document, id uuid.UUID) { d.ID = id },
		StampCreated: func(d *models.Document, now time.Time) {
			d.CreatedAt = now
			d.UpdatedAt = now
		},
		StampUpdated: func(d *models.Document, now time.Time) { d.UpdatedAt = now },
		CreatedAt:    func(d *models.Document) time.Time { return d.CreatedAt },
		SoftDelete:   true,
		SetDeleted:   func(d *models.Document, t *time.Time) { d.DeletedAt = t },
		IsDeleted:    func(d *models.Document) bool { return d.DeletedAt != nil },
	}
}

func NewDocumentRepository(db *sql.DB, env environment.Environment, autoExcludeTestData bool) *PGEnvRepository[*models.Document] {
	return NewPGEnvRepository(db, DocumentDescriptor(), env, autoExcludeTestData)
}

func NewMemoryDocumentRepository(env environment.Environment, autoExcludeTestData bool) *MemoryEnvRepository[*models.Document] {
	return NewMemoryEnvRepository(DocumentDescriptor(), env, autoExcludeTestData)
}

var (
	_ EnvRepository[*models.Document] = (*PGEnvRepository[*models.Document])(nil)
	_ EnvRepository[*models.Document] = (*MemoryEnvRepository[*models.Document])(nil)
)
