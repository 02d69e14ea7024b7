package promotion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/repo"
)

// ListFilter narrows ledger listings. Zero values mean "any".
type ListFilter struct {
	PromotionType     string
	SourceEnvironment environment.Environment
	TargetEnvironment environment.Environment
	Status            models.RunStatus
}

// LedgerStore persists promotion runs. Status moves pending -> in_progress ->
// success/failed through Start and Complete; MarkRolledBack is the only
// transition out of a terminal state and reports false when the row was not
// eligible.
type LedgerStore interface {
	Create(ctx context.Context, run *models.EnvironmentPromotion) error
	Get(ctx context.Context, id uuid.UUID) (*models.EnvironmentPromotion, error)
	List(ctx context.Context, filter ListFilter, skip, limit int) ([]*models.EnvironmentPromotion, error)
	Start(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, run *models.EnvironmentPromotion) error
	MarkRolledBack(ctx context.Context, id, byUser uuid.UUID) (bool, error)
}

const promotionColumns = `id, promotion_type, source_environment, target_environment,
	items_promoted, status, started_at, completed_at, duration_seconds,
	success_count, error_count, errors, promoted_by_user_id, reason,
	can_rollback, rollback_data, rolled_back_at, rolled_back_by_user_id`

const insertPromotionQuery = `INSERT INTO environment_promotions
	(id, promotion_type, source_environment, target_environment, status,
	 started_at, promoted_by_user_id, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const getPromotionQuery = `SELECT ` + promotionColumns + `
	FROM environment_promotions WHERE id=$1`

const startPromotionQuery = `UPDATE environment_promotions
	SET status=$2, updated_at=NOW()
	WHERE id=$1 AND status=$3`

const completePromotionQuery = `UPDATE environment_promotions
	SET status=$2, completed_at=$3, duration_seconds=$4, success_count=$5,
	    error_count=$6, errors=$7, items_promoted=$8, can_rollback=$9,
	    rollback_data=$10, updated_at=NOW()
	WHERE id=$1 AND status=$11`

const rollbackPromotionQuery = `UPDATE environment_promotions
	SET status=$2, rolled_back_at=NOW(), rolled_back_by_user_id=$3,
	    can_rollback=FALSE, updated_at=NOW()
	WHERE id=$1 AND status IN ($4, $5) AND can_rollback=TRUE`

// PGLedgerStore is the Postgres ledger.
type PGLedgerStore struct {
	db *sql.DB
}

func NewPGLedgerStore(db *sql.DB) *PGLedgerStore {
	return &PGLedgerStore{db: db}
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger field: %w", err)
	}
	return b, nil
}

func (s *PGLedgerStore) Create(ctx context.Context, run *models.EnvironmentPromotion) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var reason sql.NullString
	if run.Reason != nil {
		reason = sql.NullString{String: *run.Reason, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, insertPromotionQuery,
		run.ID,
		run.PromotionType,
		string(run.SourceEnvironment),
		string(run.TargetEnvironment),
		string(run.Status),
		run.StartedAt,
		run.PromotedByUserID,
		reason,
	)
	if err != nil {
		return fmt.Errorf("insert promotion run: %w", err)
	}
	return nil
}

func scanPromotion(row repo.RowScanner) (*models.EnvironmentPromotion, error) {
	var (
		run          models.EnvironmentPromotion
		sourceEnv    string
		targetEnv    string
		items        []byte
		status       string
		completedAt  sql.NullTime
		duration     sql.NullFloat64
		errorsJSON   []byte
		reason       sql.NullString
		rollbackData []byte
		rolledBackAt sql.NullTime
		rolledBackBy uuid.NullUUID
	)
	err := row.Scan(
		&run.ID,
		&run.PromotionType,
		&sourceEnv,
		&targetEnv,
		&items,
		&status,
		&run.StartedAt,
		&completedAt,
		&duration,
		&run.SuccessCount,
		&run.ErrorCount,
		&errorsJSON,
		&run.PromotedByUserID,
		&reason,
		&run.CanRollback,
		&rollbackData,
		&rolledBackAt,
		&rolledBackBy,
	)
	if err != nil {
		return nil, err
	}
	run.SourceEnvironment = environment.Environment(sourceEnv)
	run.TargetEnvironment = environment.Environment(targetEnv)
	run.Status = models.RunStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &run.ItemsPromoted); err != nil {
			return nil, fmt.Errorf("decode items_promoted: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if duration.Valid {
		d := duration.Float64
		run.DurationSeconds = &d
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	if reason.Valid {
		r := reason.String
		run.Reason = &r
	}
	if len(rollbackData) > 0 {
		if err := json.Unmarshal(rollbackData, &run.RollbackData); err != nil {
			return nil, fmt.Errorf("decode rollback_data: %w", err)
		}
	}
	if rolledBackAt.Valid {
		t := rolledBackAt.Time
		run.RolledBackAt = &t
	}
	if rolledBackBy.Valid {
		u := rolledBackBy.UUID
		run.RolledBackByUserID = &u
	}
	return &run, nil
}

func (s *PGLedgerStore) Get(ctx context.Context, id uuid.UUID) (*models.EnvironmentPromotion, error) {
	run, err := scanPromotion(s.db.QueryRowContext(ctx, getPromotionQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("get promotion run: %w", err)
	}
	return run, nil
}

func (s *PGLedgerStore) List(ctx context.Context, filter ListFilter, skip, limit int) ([]*models.EnvironmentPromotion, error) {
	query := `SELECT ` + promotionColumns + ` FROM environment_promotions`
	var (
		where []string
		args  []interface{}
	)
	argPos := 1
	if filter.PromotionType != "" {
		where = append(where, fmt.Sprintf("promotion_type=$%d", argPos))
		args = append(args, filter.PromotionType)
		argPos++
	}
	if filter.SourceEnvironment != "" {
		where = append(where, fmt.Sprintf("source_environment=$%d", argPos))
		args = append(args, string(filter.SourceEnvironment))
		argPos++
	}
	if filter.TargetEnvironment != "" {
		where = append(where, fmt.Sprintf("target_environment=$%d", argPos))
		args = append(args, string(filter.TargetEnvironment))
		argPos++
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", argPos)
	args = append(args, normalizeLimit(limit))
	argPos++
	if skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list promotion runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.EnvironmentPromotion
	for rows.Next() {
		run, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promotion runs: %w", err)
	}
	return runs, nil
}

func (s *PGLedgerStore) Start(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, startPromotionQuery,
		id, string(models.RunInProgress), string(models.RunPending))
	if err != nil {
		return fmt.Errorf("start promotion run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start promotion run: rows affected: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *PGLedgerStore) Complete(ctx context.Context, run *models.EnvironmentPromotion) error {
	errorsJSON, err := marshalJSON(run.Errors)
	if err != nil {
		return err
	}
	itemsJSON, err := marshalJSON(run.ItemsPromoted)
	if err != nil {
		return err
	}
	rollbackJSON, err := marshalJSON(run.RollbackData)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, completePromotionQuery,
		run.ID,
		string(run.Status),
		run.CompletedAt,
		run.DurationSeconds,
		run.SuccessCount,
		run.ErrorCount,
		errorsJSON,
		itemsJSON,
		run.CanRollback,
		rollbackJSON,
		string(models.RunInProgress),
	)
	if err != nil {
		return fmt.Errorf("complete promotion run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete promotion run: rows affected: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *PGLedgerStore) MarkRolledBack(ctx context.Context, id, byUser uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, rollbackPromotionQuery,
		id,
		string(models.RunRolledBack),
		byUser,
		string(models.RunSuccess),
		string(models.RunFailed),
	)
	if err != nil {
		return false, fmt.Errorf("mark promotion run rolled back: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark promotion run rolled back: rows affected: %w", err)
	}
	return n > 0, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
