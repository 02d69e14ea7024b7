package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
)

// PGEnvRepository is the Postgres implementation of EnvRepository. Every
// query it issues is scoped to the repository's environment; construction
// decides whether test data is surfaced by default. In production test data
// is excluded no matter what the flag says.
type PGEnvRepository[T EnvEntity] struct {
	db                  *sql.DB
	desc                Descriptor[T]
	env                 environment.Environment
	autoExcludeTestData bool
}

func NewPGEnvRepository[T EnvEntity](db *sql.DB, desc Descriptor[T], env environment.Environment, autoExcludeTestData bool) *PGEnvRepository[T] {
	return &PGEnvRepository[T]{db: db, desc: desc, env: env, autoExcludeTestData: autoExcludeTestData}
}

func (r *PGEnvRepository[T]) Environment() environment.Environment { return r.env }

func (r *PGEnvRepository[T]) selectList() string {
	return strings.Join(r.desc.Columns, ", ")
}

func (r *PGEnvRepository[T]) excludesTestData() bool {
	return r.autoExcludeTestData || r.env == environment.Prod
}

// placeholders returns "$start,...,$start+n-1".
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

// setClause returns "c0=$start, c1=$start+1, ...".
func setClause(cols []string, start int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s=$%d", c, start+i)
	}
	return strings.Join(parts, ", ")
}

func (r *PGEnvRepository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1 AND environment=$2`, r.selectList(), r.desc.Table)
	if r.excludesTestData() {
		query += " AND is_test_data=FALSE"
	}
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	item, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, id, string(r.env)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get %s: %w", r.desc.Table, err)
	}
	return item, nil
}

// getAnyTestData loads a scoped record regardless of its test flag. Update,
// delete and approval paths must be able to reach any record they can name.
func (r *PGEnvRepository[T]) getAnyTestData(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1 AND environment=$2`, r.selectList(), r.desc.Table)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	item, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, id, string(r.env)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get %s: %w", r.desc.Table, err)
	}
	return item, nil
}

func (r *PGEnvRepository[T]) list(ctx context.Context, where string, args []interface{}, skip, limit int) ([]T, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC`, r.selectList(), r.desc.Table, where)
	argPos := len(args) + 1
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, normalizeLimit(limit))
	argPos++
	if skip = normalizeSkip(skip); skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
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

func (r *PGEnvRepository[T]) scopedWhere(includeTestData bool) string {
	where := "environment=$1"
	if !includeTestData && r.excludesTestData() {
		where += " AND is_test_data=FALSE"
	}
	if r.desc.SoftDelete {
		where += " AND deleted_at IS NULL"
	}
	return where
}

func (r *PGEnvRepository[T]) GetAll(ctx context.Context, skip, limit int) ([]T, error) {
	return r.list(ctx, r.scopedWhere(false), []interface{}{string(r.env)}, skip, limit)
}

func (r *PGEnvRepository[T]) GetAllIncludingTestData(ctx context.Context, skip, limit int) ([]T, error) {
	return r.list(ctx, r.scopedWhere(true), []interface{}{string(r.env)}, skip, limit)
}

func (r *PGEnvRepository[T]) Create(ctx context.Context, item T, markAsTest bool) (T, error) {
	var zero T
	if item.EntityID() == uuid.Nil {
		r.desc.SetID(item, uuid.New())
	}
	lc := item.EnvLifecycle()
	if lc.Environment == "" {
		lc.Environment = r.env
	}
	if lc.PromotionStatus == "" {
		lc.PromotionStatus = environment.StatusDraft
	}
	if lc.PromotedToEnvironments == nil {
		lc.PromotedToEnvironments = []environment.Environment{}
	}
	if markAsTest {
		lc.MarkAsTestData(CreationTestReason)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		r.desc.Table,
		strings.Join(r.desc.InsertColumns, ", "),
		placeholders(1, len(r.desc.InsertColumns)),
		r.selectList(),
	)
	created, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, r.desc.Args(item)...))
	if err != nil {
		return zero, fmt.Errorf("insert %s: %w", r.desc.Table, err)
	}
	return created, nil
}

// Update loads the record including test data, applies the mutation and
// persists the full insert-column set. The id and environment survive the
// mutation unchanged; promotion state changes go through the dedicated
// operations, not through Update.
func (r *PGEnvRepository[T]) Update(ctx context.Context, id uuid.UUID, apply func(T) error) (T, error) {
	var zero T
	item, err := r.getAnyTestData(ctx, id)
	if err != nil {
		return zero, err
	}
	env := item.EnvLifecycle().Environment
	if err := apply(item); err != nil {
		return zero, err
	}
	r.desc.SetID(item, id)
	item.EnvLifecycle().Environment = env

	cols := r.desc.InsertColumns
	query := fmt.Sprintf(`UPDATE %s SET %s, updated_at=NOW() WHERE id=$1 AND environment=$%d`,
		r.desc.Table,
		setClause(cols[1:], 2),
		len(cols)+1,
	)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	query += fmt.Sprintf(" RETURNING %s", r.selectList())
	args := append(r.desc.Args(item), string(r.env))
	updated, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("update %s: %w", r.desc.Table, err)
	}
	return updated, nil
}

func (r *PGEnvRepository[T]) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var query string
	if r.desc.SoftDelete {
		query = fmt.Sprintf(`UPDATE %s SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND environment=$2 AND deleted_at IS NULL`, r.desc.Table)
	} else {
		query = fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND environment=$2`, r.desc.Table)
	}
	res, err := r.db.ExecContext(ctx, query, id, string(r.env))
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", r.desc.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: rows affected: %w", r.desc.Table, err)
	}
	return n > 0, nil
}

// HardDelete removes the row outright even when the table soft-deletes.
// Rollback uses it to erase promotion artifacts.
func (r *PGEnvRepository[T]) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND environment=$2`, r.desc.Table)
	res, err := r.db.ExecContext(ctx, query, id, string(r.env))
	if err != nil {
		return false, fmt.Errorf("hard delete %s: %w", r.desc.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hard delete %s: rows affected: %w", r.desc.Table, err)
	}
	return n > 0, nil
}

// GetPromotableItems filters explicitly rather than through the general
// test-data exclusion: promotability already implies non-test.
func (r *PGEnvRepository[T]) GetPromotableItems(ctx context.Context, skip, limit int) ([]T, error) {
	where := "environment=$1 AND is_promotable=TRUE AND promotion_status=$2 AND is_test_data=FALSE"
	if r.desc.SoftDelete {
		where += " AND deleted_at IS NULL"
	}
	return r.list(ctx, where, []interface{}{string(r.env), string(environment.StatusApproved)}, skip, limit)
}

// ApproveForPromotion flips a record to approved. Test data and missing
// records come back as a plain false so callers treat both as the same
// negative result.
func (r *PGEnvRepository[T]) ApproveForPromotion(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_promotable=TRUE, promotion_status=$3, updated_at=NOW() WHERE id=$1 AND environment=$2 AND is_test_data=FALSE`, r.desc.Table)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	res, err := r.db.ExecContext(ctx, query, id, string(r.env), string(environment.StatusApproved))
	if err != nil {
		return false, fmt.Errorf("approve %s: %w", r.desc.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve %s: rows affected: %w", r.desc.Table, err)
	}
	if n == 0 {
		log.Printf("[repo] approve %s %s in %s: not found or test data", r.desc.Table, id, r.env)
		return false, nil
	}
	return true, nil
}

func (r *PGEnvRepository[T]) MarkAsTestData(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET is_test_data=TRUE, test_data_reason=$3, is_promotable=FALSE, updated_at=NOW() WHERE id=$1 AND environment=$2 AND is_test_data=FALSE`, r.desc.Table)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	res, err := r.db.ExecContext(ctx, query, id, string(r.env), reason)
	if err != nil {
		return false, fmt.Errorf("mark test data %s: %w", r.desc.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark test data %s: rows affected: %w", r.desc.Table, err)
	}
	return n > 0, nil
}

// IsTestData reports the flag on a scoped record; missing records surface as
// ErrNotFound so callers can tell "already flagged" from "does not exist".
func (r *PGEnvRepository[T]) IsTestData(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`SELECT is_test_data FROM %s WHERE id=$1 AND environment=$2`, r.desc.Table)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	var flagged bool
	if err := r.db.QueryRowContext(ctx, query, id, string(r.env)).Scan(&flagged); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("test flag %s: %w", r.desc.Table, err)
	}
	return flagged, nil
}

func (r *PGEnvRepository[T]) GetTestDataItems(ctx context.Context, skip, limit int) ([]T, error) {
	where := "environment=$1 AND is_test_data=TRUE"
	if r.desc.SoftDelete {
		where += " AND deleted_at IS NULL"
	}
	return r.list(ctx, where, []interface{}{string(r.env)}, skip, limit)
}

// GetUnflaggedItems lists records not yet flagged as test data, regardless of
// the construction-time exclusion flag. The detector sweep walks this set so
// already-flagged records never occupy its batch window.
func (r *PGEnvRepository[T]) GetUnflaggedItems(ctx context.Context, skip, limit int) ([]T, error) {
	where := "environment=$1 AND is_test_data=FALSE"
	if r.desc.SoftDelete {
		where += " AND deleted_at IS NULL"
	}
	return r.list(ctx, where, []interface{}{string(r.env)}, skip, limit)
}

// MarkAsPromoted is the compare-and-swap promotion stamp: it only fires while
// the record is still approved (or already promoted, for additional targets)
// and appends the target environment exactly once. A lost race surfaces as
// ErrNotFound.
func (r *PGEnvRepository[T]) MarkAsPromoted(ctx context.Context, id uuid.UUID, target environment.Environment, byUser uuid.UUID) (T, error) {
	var zero T
	query := fmt.Sprintf(`UPDATE %s
		SET promotion_status=$3,
		    promoted_at=NOW(),
		    promoted_by_user_id=$4,
		    promoted_to_environments=CASE WHEN $5 = ANY(promoted_to_environments) THEN promoted_to_environments
		                                  ELSE array_append(promoted_to_environments, $5) END,
		    updated_at=NOW()
		WHERE id=$1 AND environment=$2 AND is_test_data=FALSE AND promotion_status IN ($6, $3)`, r.desc.Table)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	query += fmt.Sprintf(" RETURNING %s", r.selectList())
	row := r.db.QueryRowContext(ctx, query,
		id,
		string(r.env),
		string(environment.StatusPromoted),
		byUser,
		string(target),
		string(environment.StatusApproved),
	)
	item, err := r.desc.Scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("mark promoted %s: %w", r.desc.Table, err)
	}
	return item, nil
}

// UnmarkPromoted removes target from the record's promoted-to list. When the
// list empties and the record still reads promoted, its status returns to
// approved so it can be promoted again after a rollback.
func (r *PGEnvRepository[T]) UnmarkPromoted(ctx context.Context, id uuid.UUID, target environment.Environment) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s
		SET promoted_to_environments=array_remove(promoted_to_environments, $3),
		    promotion_status=CASE WHEN promotion_status=$4 AND array_length(array_remove(promoted_to_environments, $3), 1) IS NULL
		                          THEN $5 ELSE promotion_status END,
		    updated_at=NOW()
		WHERE id=$1 AND environment=$2`, r.desc.Table)
	res, err := r.db.ExecContext(ctx, query,
		id,
		string(r.env),
		string(target),
		string(environment.StatusPromoted),
		string(environment.StatusApproved),
	)
	if err != nil {
		return false, fmt.Errorf("unmark promoted %s: %w", r.desc.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unmark promoted %s: rows affected: %w", r.desc.Table, err)
	}
	return n > 0, nil
}

func (r *PGEnvRepository[T]) GetByIDAnyEnvironment(ctx context.Context, id uuid.UUID, env environment.Environment) (T, error) {
	var zero T
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1 AND environment=$2`, r.selectList(), r.desc.Table)
	item, err := r.desc.Scan(r.db.QueryRowContext(ctx, query, id, string(env)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get %s any environment: %w", r.desc.Table, err)
	}
	return item, nil
}

func (r *PGEnvRepository[T]) CountByEnvironment(ctx context.Context, env environment.Environment) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE environment=$1`, r.desc.Table)
	if r.desc.SoftDelete {
		query += " AND deleted_at IS NULL"
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, query, string(env)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.desc.Table, err)
	}
	return n, nil
}
