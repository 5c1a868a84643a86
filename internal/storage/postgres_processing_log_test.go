package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
)

func newTestRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock, func()) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	assert.NoError(t, err)
	repo := &PostgresRepo{db: gormDB}
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return repo, mock, teardown
}

func TestPostgresRepo_SaveProcessingLog_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	entry := model.NewProcessingLogEntry()
	entry.Status = model.LogStatusProcessing

	mock.ExpectExec(`INSERT INTO "processing_log_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveProcessingLog(ctx, entry)
	assert.NoError(t, err)
}

func TestPostgresRepo_SaveProcessingLog_Duplicate(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	entry := model.NewProcessingLogEntry()

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_processing_log_dedup_active"}
	mock.ExpectExec(`INSERT INTO "processing_log_entries"`).
		WillReturnError(pgErr)

	err := repo.SaveProcessingLog(ctx, entry)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestPostgresRepo_FindProcessingLogByDedupKey_Found(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	now := time.Now()
	cols := []string{"id", "dedup_key", "campaign_id", "sender_email", "status", "received_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("log-1", "camp-1:editor@example.com", "camp-1", "editor@example.com", "parsed", now)
	mock.ExpectQuery(`SELECT \* FROM "processing_log_entries" WHERE dedup_key = \$1 AND status <> \$2`).
		WithArgs("camp-1:editor@example.com", string(model.LogStatusFailed), 1).
		WillReturnRows(rows)

	found, err := repo.FindProcessingLogByDedupKey(ctx, "camp-1:editor@example.com")
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, "camp-1", found.CampaignID)
	assert.Equal(t, model.LogStatusParsed, found.Status)
}

func TestPostgresRepo_FindProcessingLogByDedupKey_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "processing_log_entries" WHERE dedup_key = \$1 AND status <> \$2`).
		WillReturnError(gorm.ErrRecordNotFound)

	found, err := repo.FindProcessingLogByDedupKey(ctx, "camp-404:nobody@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, found)
}

func TestPostgresRepo_FindProcessingLogsByStatus_Empty(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	cols := []string{"id", "dedup_key", "status"}
	mock.ExpectQuery(`SELECT \* FROM "processing_log_entries" WHERE status = \$1`).
		WillReturnRows(sqlmock.NewRows(cols))

	entries, err := repo.FindProcessingLogsByStatus(ctx, model.LogStatusNeedsReview, 50)
	assert.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestPostgresRepo_SaveSecurityAudit_Success(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	entry := model.NewSecurityAuditEntry()
	entry.ID = 0

	rows := sqlmock.NewRows([]string{"id"}).AddRow(1)
	mock.ExpectQuery(`INSERT INTO "security_audit_entries"`).
		WillReturnRows(rows)

	err := repo.SaveSecurityAudit(ctx, entry)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, entry.ID)
}
