package storage

import (
	"context"
	"time"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
)

// ProcessingLogRepository persists the ingestion audit trail.
type ProcessingLogRepository interface {
	SaveProcessingLog(ctx context.Context, entry *model.ProcessingLogEntry) error
	UpdateProcessingLog(ctx context.Context, entry *model.ProcessingLogEntry) error
	FindProcessingLogByDedupKey(ctx context.Context, dedupKey string) (*model.ProcessingLogEntry, error)
	FindProcessingLogByID(ctx context.Context, id string) (*model.ProcessingLogEntry, error)
	FindProcessingLogsByStatus(ctx context.Context, status model.LogStatus, limit int) ([]model.ProcessingLogEntry, error)
	Close(ctx context.Context) error
}

// SecurityAuditRepository persists one row per security gate evaluation.
type SecurityAuditRepository interface {
	SaveSecurityAudit(ctx context.Context, entry *model.SecurityAuditEntry) error
	FindRecentSecurityAudits(ctx context.Context, limit int) ([]model.SecurityAuditEntry, error)
	Close(ctx context.Context) error
}

// ShadowRepository persists shadow relationships and their archive.
type ShadowRepository interface {
	SaveShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error
	FindShadowRelationshipsByPublisher(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error)
	FindFailedShadowRelationships(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error)
	UpdateShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error
	ArchiveMigratedShadowRelationships(ctx context.Context, olderThan time.Time) (int64, error)
	Close(ctx context.Context) error
}

// PublisherRepository persists publishers and websites.
type PublisherRepository interface {
	FindPublisherByID(ctx context.Context, id string) (*model.Publisher, error)
	FindOrCreatePublisherByEmail(ctx context.Context, candidate *model.Publisher) (*model.Publisher, bool, error)
	UpdatePublisher(ctx context.Context, pub *model.Publisher) error
	FindOrCreateWebsiteByDomain(ctx context.Context, candidate *model.Website) (*model.Website, bool, error)
	Close(ctx context.Context) error
}

// MigrationRepository is the transactional surface the migration engine runs
// against.
type MigrationRepository interface {
	RunMigration(ctx context.Context, fn func(tx MigrationTx) error) error
	FindPublisherByID(ctx context.Context, id string) (*model.Publisher, error)
	FindShadowRelationshipsByPublisher(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error)
	FindFailedShadowRelationships(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error)
	UpdateShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error
	ArchiveMigratedShadowRelationships(ctx context.Context, olderThan time.Time) (int64, error)
	Close(ctx context.Context) error
}

// Compile-time checks that PostgresRepo satisfies every repository surface.
var (
	_ ProcessingLogRepository = (*PostgresRepo)(nil)
	_ SecurityAuditRepository = (*PostgresRepo)(nil)
	_ ShadowRepository        = (*PostgresRepo)(nil)
	_ PublisherRepository     = (*PostgresRepo)(nil)
	_ MigrationRepository     = (*PostgresRepo)(nil)
)
