package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// --- Shadow Relationship Repository Methods ---

// SaveShadowRelationship inserts a new shadow relationship row.
func (r *PostgresRepo) SaveShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error {
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Create(rel)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveShadowRelationship", operation)
	observer.ObserveDbOperationDuration("save", "shadow_relationship", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to save shadow relationship after retries",
			zap.String("publisher_id", rel.PublisherID),
			zap.Error(commitErr))
		return commitErr // Already wrapped
	}
	return nil
}

// FindShadowRelationshipsByPublisher returns all shadow relationships for a
// publisher, oldest first so migration walks them in discovery order.
func (r *PostgresRepo) FindShadowRelationshipsByPublisher(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error) {
	loggerCtx := logger.FromContext(ctx)

	var rels []model.ShadowRelationship
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("publisher_id = ?", publisherID).
			Order("created_at ASC").
			Find(&rels)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindShadowRelationshipsByPublisher", operation)
	observer.ObserveDbOperationDuration("find_by_publisher", "shadow_relationship", time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find shadow relationships after retries",
			zap.String("publisher_id", publisherID),
			zap.Error(findErr))
		return nil, findErr
	}
	if rels == nil {
		return []model.ShadowRelationship{}, nil
	}
	return rels, nil
}

// FindFailedShadowRelationships lists migration-failed rows for a publisher,
// used by the retry operation.
func (r *PostgresRepo) FindFailedShadowRelationships(ctx context.Context, publisherID string) ([]model.ShadowRelationship, error) {
	loggerCtx := logger.FromContext(ctx)

	var rels []model.ShadowRelationship
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("publisher_id = ? AND migration_status = ?", publisherID, model.MigrationStatusFailed).
			Order("created_at ASC").
			Find(&rels)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindFailedShadowRelationships", operation)
	observer.ObserveDbOperationDuration("find_failed", "shadow_relationship", time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find failed shadow relationships after retries",
			zap.String("publisher_id", publisherID),
			zap.Error(findErr))
		return nil, findErr
	}
	if rels == nil {
		return []model.ShadowRelationship{}, nil
	}
	return rels, nil
}

// UpdateShadowRelationship persists migration status transitions.
func (r *PostgresRepo) UpdateShadowRelationship(ctx context.Context, rel *model.ShadowRelationship) error {
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Save(rel)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateShadowRelationship", operation)
	observer.ObserveDbOperationDuration("update", "shadow_relationship", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to update shadow relationship after retries",
			zap.String("id", rel.ID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// ArchiveMigratedShadowRelationships moves migrated rows older than the
// cutoff into the archive table and deletes the originals, inside one
// transaction so a row is never both archived and live.
func (r *PostgresRepo) ArchiveMigratedShadowRelationships(ctx context.Context, olderThan time.Time) (int64, error) {
	loggerCtx := logger.FromContext(ctx)

	var archived int64
	operation := func() error {
		archived = 0
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rels []model.ShadowRelationship
			if err := tx.
				Where("migration_status = ? AND migrated_at IS NOT NULL AND migrated_at < ?", model.MigrationStatusMigrated, olderThan).
				Find(&rels).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if len(rels) == 0 {
				return nil
			}

			archives := make([]model.ShadowRelationshipArchive, 0, len(rels))
			ids := make([]string, 0, len(rels))
			for i := range rels {
				archives = append(archives, rels[i].ToArchive())
				ids = append(ids, rels[i].ID)
			}
			if err := tx.Create(&archives).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if err := tx.Where("id IN ?", ids).Delete(&model.ShadowRelationship{}).Error; err != nil {
				return checkConstraintViolation(err)
			}
			archived = int64(len(rels))
			return nil
		})
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ArchiveMigratedShadowRelationships", operation)
	observer.ObserveDbOperationDuration("archive", "shadow_relationship", time.Since(startTime), commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return 0, nil
		}
		loggerCtx.Error("Failed to archive migrated shadow relationships after retries",
			zap.Time("older_than", olderThan),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return archived, nil
}
