package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PGRepository is the plain generic store for types without the lifecycle
// capability. No environment scoping applies.
type PGRepository[T Entity] struct {
	db   *sql.DB
	desc Descriptor[T]
}

func NewPGRepository[T Entity](db *sql.DB, desc Descriptor[T]) *PGRepository[T] {
	return &PGRepository[T]{db: db, desc: desc}
}

func (r *PGRepository[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	if item.EntityID() == uuid.Nil {
		r.desc.SetID(item, uuid.New())
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		r.desc.Table,
		strings.Join(r.desc.InsertColumns, ", "),
		placeholders(1, len(r.desc.InsertColumns)),
		strings.Join(r.desc.Columns, ", "),
	)
	created, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, r.desc.Args(item)...))
	if err != nil {
		return zero, fmt.Errorf("insert %s: %w", r.desc.Table, err)
	}
	return created, nil
}

func (r *PGRepository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, strings.Join(r.desc.Columns, ", "), r.desc.Table)
	item, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get %s: %w", r.desc.Table, err)
	}
	return item, nil
}

func (r *PGRepository[T]) GetAll(ctx context.Context, skip, limit int) ([]T, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1`, strings.Join(r.desc.Columns, ", "), r.desc.Table)
	args := []interface{}{normalizeLimit(limit)}
	if skip = normalizeSkip(skip); skip > 0 {
		query += " OFFSET $2"
		args = append(args, skip)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.desc.Table, err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		item, err := r.desc.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.desc.Table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", r.desc.Table, err)
	}
	return items, nil
}

func (r *PGRepository[T]) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, r.desc.Table)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", r.desc.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: rows affected: %w", r.desc.Table, err)
	}
	return n > 0, nil
}
