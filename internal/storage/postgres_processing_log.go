package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// --- Processing Log Repository Methods ---

// SaveProcessingLog inserts a new processing log entry. The partial unique
// index on dedup_key (non-failed rows only) makes a concurrent duplicate
// insert surface as apperrors.ErrDuplicate, which callers treat as
// already-processed rather than a failure.
func (r *PostgresRepo) SaveProcessingLog(ctx context.Context, entry *model.ProcessingLogEntry) error {
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Create(entry)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			loggerCtx.Warn("SaveProcessingLog resulted in 0 rows affected", zap.String("dedup_key", entry.DedupKey))
			return fmt.Errorf("%w: create operation affected 0 rows", apperrors.ErrDatabase)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveProcessingLog", operation)
	observer.ObserveDbOperationDuration("save", "processing_log", time.Since(startTime), commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrDuplicate) {
			// Expected under concurrent webhook/poller delivery; caller decides.
			return commitErr
		}
		loggerCtx.Error("Failed to save processing log after retries",
			zap.String("dedup_key", entry.DedupKey),
			zap.Error(commitErr))
		return commitErr // Already wrapped
	}
	return nil
}

// UpdateProcessingLog persists status, parsed result and timing fields of an
// existing entry.
func (r *PostgresRepo) UpdateProcessingLog(ctx context.Context, entry *model.ProcessingLogEntry) error {
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Save(entry)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateProcessingLog", operation)
	observer.ObserveDbOperationDuration("update", "processing_log", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to update processing log after retries",
			zap.String("id", entry.ID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindProcessingLogByDedupKey returns the active (non-failed) entry for a
// dedup key, or apperrors.ErrNotFound.
func (r *PostgresRepo) FindProcessingLogByDedupKey(ctx context.Context, dedupKey string) (*model.ProcessingLogEntry, error) {
	loggerCtx := logger.FromContext(ctx)

	var entry model.ProcessingLogEntry
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("dedup_key = ? AND status <> ?", dedupKey, model.LogStatusFailed).
			First(&entry)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindProcessingLogByDedupKey", operation)
	observer.ObserveDbOperationDuration("find_by_dedup_key", "processing_log", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find processing log by dedup key after retries",
			zap.String("dedup_key", dedupKey),
			zap.Error(findErr))
		return nil, findErr
	}
	return &entry, nil
}

// FindProcessingLogByID fetches a single entry by primary key.
func (r *PostgresRepo) FindProcessingLogByID(ctx context.Context, id string) (*model.ProcessingLogEntry, error) {
	loggerCtx := logger.FromContext(ctx)

	var entry model.ProcessingLogEntry
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&entry)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindProcessingLogByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "processing_log", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find processing log by id after retries",
			zap.String("id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &entry, nil
}

// FindProcessingLogsByStatus lists entries in a given status, newest first.
// Used by the review queue endpoint.
func (r *PostgresRepo) FindProcessingLogsByStatus(ctx context.Context, status model.LogStatus, limit int) ([]model.ProcessingLogEntry, error) {
	loggerCtx := logger.FromContext(ctx)

	var entries []model.ProcessingLogEntry
	operation := func() error {
		query := r.db.WithContext(ctx).
			Where("status = ?", status).
			Order("received_at DESC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		result := query.Find(&entries)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindProcessingLogsByStatus", operation)
	observer.ObserveDbOperationDuration("find_by_status", "processing_log", time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find processing logs by status after retries",
			zap.String("status", string(status)),
			zap.Error(findErr))
		return nil, findErr
	}
	if entries == nil { // Ensure empty slice is returned, not nil
		return []model.ProcessingLogEntry{}, nil
	}
	return entries, nil
}
