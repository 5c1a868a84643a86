package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
)

// RepositoryMock implements every storage repository interface for unit tests.
type RepositoryMock struct {
	mock.Mock
}

func (m *RepositoryMock) SaveProcessingLog(ctx context.Context, entry *model.ProcessingLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *RepositoryMock) UpdateProcessingLog(ctx context.Context, entry *model.ProcessingLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *RepositoryMock) FindProcessingLogByDedupKey(ctx context.Context, dedupKey string) (*model.ProcessingLogEntry, error) {
	args := m.Called(ctx, dedupKey)
	if entry, ok := args.Get(0).(*model.ProcessingLogEntry); ok {
		return entry, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) FindProcessingLogByID(ctx context.Context, id string) (*model.ProcessingLogEntry, error) {
	args := m.Called(ctx, id)
	if entry, ok := args.Get(0).(*model.ProcessingLogEntry); ok {
		return entry, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) FindProcessingLogsByStatus(ctx context.Context, status model.LogStatus, limit int) ([]model.ProcessingLogEntry, error) {
	args := m.Called(ctx, status, limit)
	if entries, ok := args.Get(0).([]model.ProcessingLogEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) SaveSecurityAudit(ctx context.Context, entry *model.SecurityAuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *RepositoryMock) FindRecentSecurityAudits(ctx context.Context, limit int) ([]model.SecurityAuditEntry, error) {
	args := m.Called(ctx, limit)
	if entries, ok := args.Get(0).([]model.SecurityAuditEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) SaveShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error {
	args := m.Called(ctx, rel)
	return args.Error(0)
}

func (m *RepositoryMock) FindShadowRelationshipsByPublisher(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error) {
	args := m.Called(ctx, publisherID)
	if rels, ok := args.Get(0).([]model.ShadowRelationship); ok {
		return rels, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) FindFailedShadowRelationships(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error) {
	args := m.Called(ctx, publisherID)
	if rels, ok := args.Get(0).([]model.ShadowRelationship); ok {
		return rels, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) UpdateShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error {
	args := m.Called(ctx, rel)
	return args.Error(0)
}

func (m *RepositoryMock) ArchiveMigratedShadowRelationships(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RepositoryMock) FindPublisherByID(ctx context.Context, id string) (*model.Publisher, error) {
	args := m.Called(ctx, id)
	if pub, ok := args.Get(0).(*model.Publisher); ok {
		return pub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RepositoryMock) FindOrCreatePublisherByEmail(ctx context.Context, candidate *model.Publisher) (*model.Publisher, bool, error) {
	args := m.Called(ctx, candidate)
	if pub, ok := args.Get(0).(*model.Publisher); ok {
		return pub, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *RepositoryMock) UpdatePublisher(ctx context.Context, pub *model.Publisher) error {
	args := m.Called(ctx, pub)
	return args.Error(0)
}

func (m *RepositoryMock) FindOrCreateWebsiteByDomain(ctx context.Context, candidate *model.Website) (*model.Website, bool, error) {
	args := m.Called(ctx, candidate)
	if site, ok := args.Get(0).(*model.Website); ok {
		return site, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

// RunMigration drives the transaction closure against a MigrationTx supplied
// via Return; returning an error instead simulates a transaction failure.
func (m *RepositoryMock) RunMigration(ctx context.Context, fn func(tx storage.MigrationTx) error) error {
	args := m.Called(ctx, fn)
	if tx, ok := args.Get(0).(storage.MigrationTx); ok {
		return fn(tx)
	}
	return args.Error(0)
}

func (m *RepositoryMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MigrationTxMock implements storage.MigrationTx for migration engine tests.
type MigrationTxMock struct {
	mock.Mock
}

func (m *MigrationTxMock) LockPublisher(publisherID string) (*model.Publisher, error) {
	args := m.Called(publisherID)
	if pub, ok := args.Get(0).(*model.Publisher); ok {
		return pub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MigrationTxMock) ShadowRelationships(publisherID string) ([]model.ShadowRelationship, error) {
	args := m.Called(publisherID)
	if rels, ok := args.Get(0).([]model.ShadowRelationship); ok {
		return rels, args.Error(1)
	}
	return nil, args.Error(1)
}

// WithSavepoint is transparent here; savepoint semantics are covered by the
// storage layer tests.
func (m *MigrationTxMock) WithSavepoint(fn func(tx storage.MigrationTx) error) error {
	return fn(m)
}

func (m *MigrationTxMock) ActivateOfferings(publisherID, websiteID string) (int, error) {
	args := m.Called(publisherID, websiteID)
	return args.Int(0), args.Error(1)
}

func (m *MigrationTxMock) CreateOffering(offering *model.Offering) error {
	args := m.Called(offering)
	return args.Error(0)
}

func (m *MigrationTxMock) ActiveRelationshipExists(publisherID, websiteID string) (bool, error) {
	args := m.Called(publisherID, websiteID)
	return args.Bool(0), args.Error(1)
}

func (m *MigrationTxMock) CreateOfferingRelationship(rel *model.OfferingRelationship) error {
	args := m.Called(rel)
	return args.Error(0)
}

func (m *MigrationTxMock) UpdateShadowRelationship(rel *model.ShadowRelationship) error {
	args := m.Called(rel)
	return args.Error(0)
}

func (m *MigrationTxMock) SavePublisher(pub *model.Publisher) error {
	args := m.Called(pub)
	return args.Error(0)
}
