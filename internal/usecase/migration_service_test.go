package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
	storagemock "gitlab.com/vantagepost/api/publisher-intake-service/internal/storage/mock"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
)

func newTestMigration(t *testing.T) (*MigrationService, *storagemock.RepositoryMock, *storagemock.MigrationTxMock) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	repo := new(storagemock.RepositoryMock)
	tx := new(storagemock.MigrationTxMock)
	repo.On("RunMigration", mock.Anything, mock.Anything).Return(tx)
	svc := NewMigrationService(repo, events.NoopPublisher{}, 7)
	return svc, repo, tx
}

func pendingRow(id, websiteID string) model.ShadowRelationship {
	return model.ShadowRelationship{
		ID:              id,
		PublisherID:     "pub-1",
		WebsiteID:       websiteID,
		MigrationStatus: model.MigrationStatusPending,
	}
}

func TestMigrate_PendingRowsBecomeCanonical(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	tx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	tx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{
		pendingRow("sr-1", "web-1"),
		pendingRow("sr-2", "web-2"),
	}, nil)
	tx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	tx.On("ActiveRelationshipExists", "pub-1", mock.AnythingOfType("string")).Return(false, nil)
	tx.On("CreateOfferingRelationship", mock.AnythingOfType("*model.OfferingRelationship")).Return(nil)
	tx.On("ActivateOfferings", "pub-1", mock.AnythingOfType("string")).Return(0, nil)
	tx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.WebsitesMigrated)
	assert.Equal(t, 2, result.RelationshipsCreated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.AlreadyMigrated)
	assert.Empty(t, result.Errors)

	// Completion marker set inside the same transaction.
	var saved *model.Publisher
	for _, call := range tx.Calls {
		if call.Method == "SavePublisher" {
			saved = call.Arguments.Get(0).(*model.Publisher)
		}
	}
	require.NotNil(t, saved)
	assert.NotNil(t, saved.ShadowMigrationCompletedAt)
}

func TestMigrate_SecondCallShortCircuits(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	completedAt := time.Now().Add(-time.Hour)
	tx.On("LockPublisher", "pub-1").Return(
		&model.Publisher{ID: "pub-1", ShadowMigrationCompletedAt: &completedAt}, nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.True(t, result.AlreadyMigrated)
	assert.Equal(t, 0, result.WebsitesMigrated)
	assert.Equal(t, 0, result.RelationshipsCreated)
	tx.AssertNotCalled(t, "ShadowRelationships", mock.Anything)
	tx.AssertNotCalled(t, "SavePublisher", mock.Anything)
}

func TestMigrate_ExistingActiveRelationshipSkipsRow(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	tx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	tx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{
		pendingRow("sr-1", "web-1"),
	}, nil)
	tx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	tx.On("ActiveRelationshipExists", "pub-1", "web-1").Return(true, nil)
	tx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.WebsitesMigrated)
	assert.Equal(t, 0, result.RelationshipsCreated)
	tx.AssertNotCalled(t, "CreateOfferingRelationship", mock.Anything)

	// The shadow row carries the skip reason.
	var final *model.ShadowRelationship
	for _, call := range tx.Calls {
		if call.Method == "UpdateShadowRelationship" {
			final = call.Arguments.Get(0).(*model.ShadowRelationship)
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, model.MigrationStatusSkipped, final.MigrationStatus)
	assert.Contains(t, final.MigrationNotes, "active relationship already exists")
}

func TestMigrate_CreatesOfferingsFromPayload(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	row := pendingRow("sr-1", "web-1")
	row.OfferingsPayload = datatypes.JSON(`[{"offering_type":"guest_post","price":"$350","currency":"USD","turnaround_days":5}]`)

	tx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	tx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{row}, nil)
	tx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	tx.On("ActiveRelationshipExists", "pub-1", "web-1").Return(false, nil)
	tx.On("CreateOfferingRelationship", mock.AnythingOfType("*model.OfferingRelationship")).Return(nil)
	tx.On("ActivateOfferings", "pub-1", "web-1").Return(0, nil)

	var offering *model.Offering
	tx.On("CreateOffering", mock.AnythingOfType("*model.Offering")).
		Run(func(args mock.Arguments) {
			offering = args.Get(0).(*model.Offering)
		}).Return(nil)
	tx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.WebsitesMigrated)
	assert.Equal(t, 1, result.OfferingsActivated)

	require.NotNil(t, offering)
	assert.Equal(t, int64(35000), offering.BasePrice)
	assert.Equal(t, "USD", offering.Currency)
	assert.Equal(t, 5, offering.TurnaroundDays)
	assert.Equal(t, "guest_post", offering.OfferingType)
	assert.True(t, offering.IsActive)
}

func TestMigrate_ActivatesDormantOfferingsInsteadOfCreating(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	row := pendingRow("sr-1", "web-1")
	row.OfferingsPayload = datatypes.JSON(`[{"offering_type":"guest_post","price":"$350"}]`)

	tx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	tx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{row}, nil)
	tx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	tx.On("ActiveRelationshipExists", "pub-1", "web-1").Return(false, nil)
	tx.On("CreateOfferingRelationship", mock.AnythingOfType("*model.OfferingRelationship")).Return(nil)
	tx.On("ActivateOfferings", "pub-1", "web-1").Return(3, nil)
	tx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.OfferingsActivated)
	tx.AssertNotCalled(t, "CreateOffering", mock.Anything)
}

func TestMigrate_RowFailureDoesNotAbortSiblings(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	tx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	tx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{
		pendingRow("sr-1", "web-bad"),
		pendingRow("sr-2", "web-good"),
	}, nil)
	tx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	tx.On("ActiveRelationshipExists", "pub-1", "web-bad").Return(false, nil)
	tx.On("ActiveRelationshipExists", "pub-1", "web-good").Return(false, nil)
	tx.On("CreateOfferingRelationship", mock.MatchedBy(func(rel *model.OfferingRelationship) bool {
		return rel.WebsiteID == "web-bad"
	})).Return(apperrors.ErrDatabase)
	tx.On("CreateOfferingRelationship", mock.MatchedBy(func(rel *model.OfferingRelationship) bool {
		return rel.WebsiteID == "web-good"
	})).Return(nil)
	tx.On("ActivateOfferings", "pub-1", "web-good").Return(1, nil)
	tx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.WebsitesMigrated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "web-bad")
}

func TestMigrate_FailedRowDeltasAreDiscarded(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	tx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	tx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{
		pendingRow("sr-1", "web-1"),
	}, nil)
	tx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	tx.On("ActiveRelationshipExists", "pub-1", "web-1").Return(false, nil)
	// The relationship insert succeeds, then the row dies on the next step.
	tx.On("CreateOfferingRelationship", mock.AnythingOfType("*model.OfferingRelationship")).Return(nil)
	tx.On("ActivateOfferings", "pub-1", "web-1").Return(0, apperrors.ErrDatabase)
	tx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	result, err := svc.Migrate(context.Background(), "pub-1")
	require.NoError(t, err)

	// The rolled-back relationship must not be counted.
	assert.Equal(t, 0, result.RelationshipsCreated)
	assert.Equal(t, 0, result.WebsitesMigrated)
	assert.Equal(t, 1, result.Failed)

	var final *model.ShadowRelationship
	for _, call := range tx.Calls {
		if call.Method == "UpdateShadowRelationship" {
			final = call.Arguments.Get(0).(*model.ShadowRelationship)
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, model.MigrationStatusFailed, final.MigrationStatus)
	assert.Nil(t, final.MigratedAt)
}

func TestMigrate_PublisherNotFound(t *testing.T) {
	svc, _, tx := newTestMigration(t)

	tx.On("LockPublisher", "pub-missing").Return(nil, apperrors.ErrNotFound)

	result, err := svc.Migrate(context.Background(), "pub-missing")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRetry_ResetsFailedRowsAndReruns(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	repo := new(storagemock.RepositoryMock)
	svc := NewMigrationService(repo, events.NoopPublisher{}, 7)

	completedAt := time.Now().Add(-time.Hour)
	pub := &model.Publisher{ID: "pub-1", ShadowMigrationCompletedAt: &completedAt}

	failedRow := pendingRow("sr-1", "web-1")
	failedRow.MigrationStatus = model.MigrationStatusFailed
	failedRow.MigrationNotes = "failed: create relationship: database error"

	// First transaction: the reset pass.
	resetTx := new(storagemock.MigrationTxMock)
	resetTx.On("LockPublisher", "pub-1").Return(pub, nil)
	resetTx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{failedRow}, nil)
	resetTx.On("UpdateShadowRelationship", mock.MatchedBy(func(rel *model.ShadowRelationship) bool {
		return rel.MigrationStatus == model.MigrationStatusPending
	})).Return(nil)
	resetTx.On("SavePublisher", mock.MatchedBy(func(p *model.Publisher) bool {
		return p.ShadowMigrationCompletedAt == nil
	})).Return(nil)

	// Second transaction: the re-run, now seeing the row as pending and the
	// marker cleared.
	runTx := new(storagemock.MigrationTxMock)
	runTx.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	runTx.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{
		pendingRow("sr-1", "web-1"),
	}, nil)
	runTx.On("UpdateShadowRelationship", mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
	runTx.On("ActiveRelationshipExists", "pub-1", "web-1").Return(false, nil)
	runTx.On("CreateOfferingRelationship", mock.AnythingOfType("*model.OfferingRelationship")).Return(nil)
	runTx.On("ActivateOfferings", "pub-1", "web-1").Return(1, nil)
	runTx.On("SavePublisher", mock.AnythingOfType("*model.Publisher")).Return(nil)

	repo.On("RunMigration", mock.Anything, mock.Anything).Return(resetTx).Once()
	repo.On("RunMigration", mock.Anything, mock.Anything).Return(runTx).Once()

	result, err := svc.Retry(context.Background(), "pub-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.WebsitesMigrated)
	resetTx.AssertExpectations(t)
	runTx.AssertExpectations(t)
}

func TestArchiveMigrated(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	repo := new(storagemock.RepositoryMock)
	svc := NewMigrationService(repo, events.NoopPublisher{}, 7)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	var cutoff time.Time
	repo.On("ArchiveMigratedShadowRelationships", mock.Anything, mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			cutoff = args.Get(1).(time.Time)
		}).Return(int64(4), nil)

	archived, err := svc.ArchiveMigrated(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), archived)
	assert.Equal(t, fixed.AddDate(0, 0, -30), cutoff)
}

var _ storage.MigrationTx = (*storagemock.MigrationTxMock)(nil)
