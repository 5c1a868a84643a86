package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// --- Publisher / Website Repository Methods ---

// FindPublisherByID fetches a publisher by primary key.
func (r *PostgresRepo) FindPublisherByID(ctx context.Context, id string) (*model.Publisher, error) {
	loggerCtx := logger.FromContext(ctx)

	var pub model.Publisher
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&pub)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindPublisherByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "publisher", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find publisher by id after retries",
			zap.String("id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &pub, nil
}

// FindOrCreatePublisherByEmail looks up a publisher by normalized email,
// creating a shadow account when none exists. A concurrent create racing on
// the email unique index is resolved by re-reading the winner's row.
func (r *PostgresRepo) FindOrCreatePublisherByEmail(ctx context.Context, candidate *model.Publisher) (*model.Publisher, bool, error) {
	loggerCtx := logger.FromContext(ctx)
	email := strings.ToLower(strings.TrimSpace(candidate.Email))
	candidate.Email = email

	var (
		pub     model.Publisher
		created bool
	)
	operation := func() error {
		created = false
		err := r.db.WithContext(ctx).Where("email = ?", email).First(&pub).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return checkConstraintViolation(err)
		}

		if createErr := r.db.WithContext(ctx).Create(candidate).Error; createErr != nil {
			wrapped := checkConstraintViolation(createErr)
			if errors.Is(wrapped, apperrors.ErrDuplicate) {
				// Lost the race; take the existing row.
				if refetchErr := r.db.WithContext(ctx).Where("email = ?", email).First(&pub).Error; refetchErr != nil {
					return checkConstraintViolation(refetchErr)
				}
				return nil
			}
			return wrapped
		}
		pub = *candidate
		created = true
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "FindOrCreatePublisherByEmail", operation)
	observer.ObserveDbOperationDuration("find_or_create", "publisher", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to find or create publisher after retries",
			zap.String("email", email),
			zap.Error(commitErr))
		return nil, false, commitErr
	}
	return &pub, created, nil
}

// UpdatePublisher persists changes to an existing publisher row.
func (r *PostgresRepo) UpdatePublisher(ctx context.Context, pub *model.Publisher) error {
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		if err := r.db.WithContext(ctx).Save(pub).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdatePublisher", operation)
	observer.ObserveDbOperationDuration("update", "publisher", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to update publisher after retries",
			zap.String("id", pub.ID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindOrCreateWebsiteByDomain looks up a website by normalized domain,
// creating it when absent. Same race handling as the publisher variant.
func (r *PostgresRepo) FindOrCreateWebsiteByDomain(ctx context.Context, candidate *model.Website) (*model.Website, bool, error) {
	loggerCtx := logger.FromContext(ctx)
	domain := strings.ToLower(strings.TrimSpace(candidate.Domain))
	candidate.Domain = domain

	var (
		site    model.Website
		created bool
	)
	operation := func() error {
		created = false
		err := r.db.WithContext(ctx).Where("domain = ?", domain).First(&site).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return checkConstraintViolation(err)
		}

		if createErr := r.db.WithContext(ctx).Create(candidate).Error; createErr != nil {
			wrapped := checkConstraintViolation(createErr)
			if errors.Is(wrapped, apperrors.ErrDuplicate) {
				if refetchErr := r.db.WithContext(ctx).Where("domain = ?", domain).First(&site).Error; refetchErr != nil {
					return checkConstraintViolation(refetchErr)
				}
				return nil
			}
			return wrapped
		}
		site = *candidate
		created = true
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "FindOrCreateWebsiteByDomain", operation)
	observer.ObserveDbOperationDuration("find_or_create", "website", time.Since(startTime), commitErr)

	if commitErr != nil {
		loggerCtx.Error("Failed to find or create website after retries",
			zap.String("domain", domain),
			zap.Error(commitErr))
		return nil, false, commitErr
	}
	return &site, created, nil
}

// --- Migration Transaction ---

// MigrationTx exposes the row-level operations the migration engine performs
// inside a single transaction.
type MigrationTx interface {
	// LockPublisher loads the publisher row under FOR UPDATE so concurrent
	// migrations of the same publisher serialize.
	LockPublisher(publisherID string) (*model.Publisher, error)
	// ShadowRelationships loads every shadow row for the publisher inside
	// the transaction, oldest first.
	ShadowRelationships(publisherID string) ([]model.ShadowRelationship, error)
	// WithSavepoint runs fn under a savepoint. A failed SQL statement inside
	// fn poisons only the savepoint, not the enclosing transaction: the
	// caller can keep issuing statements after the rollback. Required for
	// per-row failure isolation, since Postgres aborts the whole transaction
	// on any statement error otherwise.
	WithSavepoint(fn func(tx MigrationTx) error) error
	// ActivateOfferings flips is_active on existing canonical offerings for
	// the pair and reports how many rows it touched.
	ActivateOfferings(publisherID, websiteID string) (int, error)
	CreateOffering(offering *model.Offering) error
	ActiveRelationshipExists(publisherID, websiteID string) (bool, error)
	CreateOfferingRelationship(rel *model.OfferingRelationship) error
	UpdateShadowRelationship(rel *model.ShadowRelationship) error
	SavePublisher(pub *model.Publisher) error
}

type migrationTx struct {
	tx *gorm.DB
}

func (m *migrationTx) LockPublisher(publisherID string) (*model.Publisher, error) {
	var pub model.Publisher
	err := m.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", publisherID).
		First(&pub).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &pub, nil
}

func (m *migrationTx) ShadowRelationships(publisherID string) ([]model.ShadowRelationship, error) {
	var rels []model.ShadowRelationship
	err := m.tx.
		Where("publisher_id = ?", publisherID).
		Order("created_at ASC").
		Find(&rels).Error
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return rels, nil
}

// WithSavepoint relies on gorm's nested-transaction support, which emits
// SAVEPOINT / ROLLBACK TO SAVEPOINT when already inside a transaction.
func (m *migrationTx) WithSavepoint(fn func(tx MigrationTx) error) error {
	return m.tx.Transaction(func(inner *gorm.DB) error {
		return fn(&migrationTx{tx: inner})
	})
}

func (m *migrationTx) ActivateOfferings(publisherID, websiteID string) (int, error) {
	result := m.tx.Model(&model.Offering{}).
		Where("publisher_id = ? AND website_id = ?", publisherID, websiteID).
		Update("is_active", true)
	if result.Error != nil {
		return 0, checkConstraintViolation(result.Error)
	}
	return int(result.RowsAffected), nil
}

func (m *migrationTx) CreateOffering(offering *model.Offering) error {
	if err := m.tx.Create(offering).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

func (m *migrationTx) ActiveRelationshipExists(publisherID, websiteID string) (bool, error) {
	var count int64
	err := m.tx.Model(&model.OfferingRelationship{}).
		Where("publisher_id = ? AND website_id = ? AND is_active", publisherID, websiteID).
		Count(&count).Error
	if err != nil {
		return false, checkConstraintViolation(err)
	}
	return count > 0, nil
}

func (m *migrationTx) CreateOfferingRelationship(rel *model.OfferingRelationship) error {
	if err := m.tx.Create(rel).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

func (m *migrationTx) UpdateShadowRelationship(rel *model.ShadowRelationship) error {
	if err := m.tx.Save(rel).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

func (m *migrationTx) SavePublisher(pub *model.Publisher) error {
	if err := m.tx.Save(pub).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

// RunMigration executes fn inside a single database transaction. The whole
// migration of one publisher commits or rolls back together.
func (r *PostgresRepo) RunMigration(ctx context.Context, fn func(tx MigrationTx) error) error {
	loggerCtx := logger.FromContext(ctx)

	startTime := utils.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&migrationTx{tx: tx})
	})
	observer.ObserveDbOperationDuration("transaction", "migration", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		loggerCtx.Error("Migration transaction failed", zap.Error(err))
		if errors.Is(err, apperrors.ErrDatabase) || errors.Is(err, apperrors.ErrDuplicate) || errors.Is(err, apperrors.ErrBadRequest) {
			return err
		}
		return fmt.Errorf("%w: migration transaction: %w", apperrors.ErrDatabase, err)
	}
	return nil
}
