package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// --- Security Audit Repository Methods ---

// SaveSecurityAudit appends one audit entry per gate evaluation. Audit rows
// are written for accepted and rejected requests alike.
func (r *PostgresRepo) SaveSecurityAudit(ctx context.Context, entry *model.SecurityAuditEntry) error {
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Create(entry)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveSecurityAudit", operation)
	observer.ObserveDbOperationDuration("save", "security_audit", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to save security audit entry after retries",
			zap.String("provider", entry.Provider),
			zap.String("caller_ip", entry.CallerIP),
			zap.Error(commitErr))
		return commitErr // Already wrapped
	}
	return nil
}

// FindRecentSecurityAudits lists the most recent audit entries, newest first.
func (r *PostgresRepo) FindRecentSecurityAudits(ctx context.Context, limit int) ([]model.SecurityAuditEntry, error) {
	loggerCtx := logger.FromContext(ctx)

	if limit <= 0 {
		limit = 100
	}

	var entries []model.SecurityAuditEntry
	operation := func() error {
		result := r.db.WithContext(ctx).
			Order("created_at DESC").
			Limit(limit).
			Find(&entries)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindRecentSecurityAudits", operation)
	observer.ObserveDbOperationDuration("find_recent", "security_audit", time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to list security audit entries after retries", zap.Error(findErr))
		return nil, findErr
	}
	if entries == nil {
		return []model.SecurityAuditEntry{}, nil
	}
	return entries, nil
}
