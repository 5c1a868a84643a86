package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
)

func TestRunMigration_LockPublisherForUpdate(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "publishers" WHERE id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow("pub-1", "a@b.com"))
	mock.ExpectCommit()

	err := repo.RunMigration(context.Background(), func(tx MigrationTx) error {
		pub, err := tx.LockPublisher("pub-1")
		require.NoError(t, err)
		assert.Equal(t, "pub-1", pub.ID)
		return nil
	})
	assert.NoError(t, err)
}

// A statement failure inside a savepoint must poison only the savepoint: the
// enclosing transaction stays usable for the failure bookkeeping and for the
// remaining rows, and still commits.
func TestRunMigration_SavepointIsolatesRowFailure(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)

	row := model.NewShadowRelationship()

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT sp`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "offering_relationships"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_offering_relationships_active_pair"})
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT sp`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "shadow_relationships" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RunMigration(context.Background(), func(tx MigrationTx) error {
		svErr := tx.WithSavepoint(func(inner MigrationTx) error {
			return inner.CreateOfferingRelationship(&model.OfferingRelationship{
				ID:          "rel-1",
				PublisherID: row.PublisherID,
				WebsiteID:   row.WebsiteID,
			})
		})
		assert.ErrorIs(t, svErr, apperrors.ErrDuplicate)

		// The outer transaction accepts further statements.
		row.MigrationStatus = model.MigrationStatusFailed
		return tx.UpdateShadowRelationship(row)
	})
	assert.NoError(t, err)
}
