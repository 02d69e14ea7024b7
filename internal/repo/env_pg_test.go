package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/repo"
)

func documentTestColumns() []string {
	return []string{
		"id", "filename", "title", "description", "content_type", "size_bytes",
		"storage_key", "vector_point_ids", "metadata",
		"environment", "is_test_data", "test_data_reason", "is_promotable",
		"promotion_status", "promoted_from_environment", "promoted_to_environments",
		"promoted_at", "promoted_by_user_id", "source_id", "source_environment",
		"created_at", "updated_at", "deleted_at",
	}
}

func documentRow(id uuid.UUID, env, status, promotedTo string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(documentTestColumns()).AddRow(
		id.String(), "alpha.pdf", "Alpha", "", "application/pdf", int64(2048),
		env+"/alpha.pdf", "{}", []byte(`{}`),
		env, false, nil, true,
		status, nil, promotedTo,
		nil, nil, nil, nil,
		now, now, nil,
	)
}

func TestPGGetByIDProdScoping(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Prod, false)
	id := uuid.New()

	// Production reads must carry both the test-data and soft-delete guards.
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id=(.+) AND is_test_data=FALSE AND deleted_at IS NULL").
		WithArgs(id, "prod").
		WillReturnRows(documentRow(id, "prod", "approved", "{}"))

	doc, err := r.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, environment.Prod, doc.Environment)
	assert.False(t, doc.IsTestData)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id=").
		WithArgs(id, "dev").
		WillReturnError(sql.ErrNoRows)

	_, err = r.GetByID(context.Background(), id)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGCreateReturnsInsertedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	mock.ExpectQuery("INSERT INTO documents").
		WillReturnRows(documentRow(id, "dev", "draft", "{}"))

	doc, err := r.Create(context.Background(), newDoc("alpha.pdf", "Alpha"), false)
	assert.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, environment.Dev, doc.Environment)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGApproveForPromotionNegative(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	// Zero rows means missing or test data; both come back as a plain false.
	mock.ExpectExec("UPDATE documents SET is_promotable=TRUE").
		WithArgs(id, "dev", "approved").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.ApproveForPromotion(context.Background(), id)
	assert.NoError(t, err)
	assert.False(t, ok)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGMarkAsTestData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	mock.ExpectExec("UPDATE documents SET is_test_data=TRUE").
		WithArgs(id, "dev", "field 'title': matched pattern 'placeholder-name'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := r.MarkAsTestData(context.Background(), id, "field 'title': matched pattern 'placeholder-name'")
	assert.NoError(t, err)
	assert.True(t, ok)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGGetUnflaggedItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	// The sweep window excludes flagged rows even though the repository was
	// constructed without auto-exclusion.
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE environment=(.+) AND is_test_data=FALSE").
		WithArgs("dev", 50).
		WillReturnRows(documentRow(id, "dev", "draft", "{}"))

	items, err := r.GetUnflaggedItems(context.Background(), 0, 0)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGIsTestData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	mock.ExpectQuery("SELECT is_test_data FROM documents WHERE id=").
		WithArgs(id, "dev").
		WillReturnRows(sqlmock.NewRows([]string{"is_test_data"}).AddRow(true))

	flagged, err := r.IsTestData(context.Background(), id)
	assert.NoError(t, err)
	assert.True(t, flagged)

	mock.ExpectQuery("SELECT is_test_data FROM documents WHERE id=").
		WithArgs(id, "dev").
		WillReturnError(sql.ErrNoRows)

	_, err = r.IsTestData(context.Background(), id)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGMarkAsPromoted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()
	user := uuid.New()

	mock.ExpectQuery("UPDATE documents").
		WithArgs(id, "dev", "promoted", user, "stage", "approved").
		WillReturnRows(documentRow(id, "dev", "promoted", "{stage}"))

	doc, err := r.MarkAsPromoted(context.Background(), id, environment.Stage, user)
	assert.NoError(t, err)
	assert.Equal(t, environment.StatusPromoted, doc.PromotionStatus)
	assert.Equal(t, []environment.Environment{environment.Stage}, doc.PromotedToEnvironments)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGMarkAsPromotedLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	// The status guard filtered the row away; the caller sees not-found.
	mock.ExpectQuery("UPDATE documents").
		WillReturnError(sql.ErrNoRows)

	_, err = r.MarkAsPromoted(context.Background(), id, environment.Stage, uuid.New())
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGGetPromotableItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE environment=(.+) AND is_promotable=TRUE").
		WithArgs("dev", "approved", 50).
		WillReturnRows(documentRow(id, "dev", "approved", "{}"))

	items, err := r.GetPromotableItems(context.Background(), 0, 0)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGCountByEnvironment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	r := repo.NewDocumentRepository(db, environment.Dev, false)

	mock.ExpectQuery("SELECT COUNT(.+) FROM documents").
		WithArgs("stage").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := r.CountByEnvironment(context.Background(), environment.Stage)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), n)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
