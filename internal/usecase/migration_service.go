package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// relationshipType on canonical rows created from shadow data.
const relationshipTypeShadowMigration = "shadow_migration"

// MigrationResult aggregates one migrate() invocation.
type MigrationResult struct {
	PublisherID          string   `json:"publisherId"`
	WebsitesMigrated     int      `json:"websitesMigrated"`
	OfferingsActivated   int      `json:"offeringsActivated"`
	RelationshipsCreated int      `json:"relationshipsCreated"`
	Skipped              int      `json:"skipped"`
	Failed               int      `json:"failed"`
	AlreadyMigrated      bool     `json:"alreadyMigrated"`
	Errors               []string `json:"errors"`
}

// MigrationService moves shadow relationships into canonical storage when a
// publisher claims their account. Each call runs as one transaction with a
// row lock on the publisher, so concurrent claims of the same publisher
// serialize; different publishers migrate independently.
type MigrationService struct {
	repo                  storage.MigrationRepository
	events                events.Publisher
	defaultTurnaroundDays int
	now                   func() time.Time
}

// NewMigrationService wires the migration engine.
func NewMigrationService(repo storage.MigrationRepository, eventsPub events.Publisher, defaultTurnaroundDays int) *MigrationService {
	if defaultTurnaroundDays <= 0 {
		defaultTurnaroundDays = 7
	}
	return &MigrationService{
		repo:                  repo,
		events:                eventsPub,
		defaultTurnaroundDays: defaultTurnaroundDays,
		now:                   utils.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *MigrationService) WithClock(now func() time.Time) *MigrationService {
	s.now = now
	return s
}

// Migrate is idempotent: a second call with no new shadow data returns an
// empty successful result. Per-row failures are collected, never thrown; only
// a missing publisher or a transaction-level failure fails the whole call.
func (s *MigrationService) Migrate(ctx context.Context, publisherID string) (*MigrationResult, error) {
	loggerCtx := logger.FromContext(ctx)
	startTime := s.now()

	result := &MigrationResult{PublisherID: publisherID, Errors: []string{}}

	err := s.repo.RunMigration(ctx, func(tx storage.MigrationTx) error {
		pub, err := tx.LockPublisher(publisherID)
		if err != nil {
			return fmt.Errorf("lock publisher %s: %w", publisherID, err)
		}
		if pub.ShadowMigrationCompletedAt != nil {
			result.AlreadyMigrated = true
			return nil
		}

		rows, err := tx.ShadowRelationships(publisherID)
		if err != nil {
			return fmt.Errorf("load shadow relationships: %w", err)
		}

		for i := range rows {
			row := &rows[i]
			// Rows already migrated, skipped, or stuck in migrating from a
			// prior crash are excluded; repeated calls stay safe.
			if row.MigrationStatus != model.MigrationStatusPending && row.MigrationStatus != "" {
				continue
			}
			s.migrateRow(ctx, tx, pub, row, result)
		}

		completedAt := s.now()
		pub.ShadowMigrationCompletedAt = &completedAt
		if err := tx.SavePublisher(pub); err != nil {
			return fmt.Errorf("mark publisher migrated: %w", err)
		}
		return nil
	})

	observer.ObserveMigrationDuration(time.Since(startTime))
	if err != nil {
		loggerCtx.Error("Migration failed",
			zap.String("publisher_id", publisherID),
			zap.Error(err))
		return nil, err
	}

	if !result.AlreadyMigrated {
		if pubErr := s.events.PublishMigrationCompleted(ctx, events.MigrationCompletedEvent{
			PublisherID:          publisherID,
			WebsitesMigrated:     result.WebsitesMigrated,
			OfferingsActivated:   result.OfferingsActivated,
			RelationshipsCreated: result.RelationshipsCreated,
			Skipped:              result.Skipped,
			Failed:               result.Failed,
			CompletedAt:          s.now(),
		}); pubErr != nil {
			loggerCtx.Warn("Migration completed but event publish failed",
				zap.String("publisher_id", publisherID),
				zap.Error(pubErr))
		}
	}

	loggerCtx.Info("Migration finished",
		zap.String("publisher_id", publisherID),
		zap.Int("websites_migrated", result.WebsitesMigrated),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("offerings_activated", result.OfferingsActivated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Bool("already_migrated", result.AlreadyMigrated))
	return result, nil
}

// migrateRow processes one shadow relationship. The row's writes run under a
// savepoint: a failed statement rolls back only this row and leaves the
// transaction usable, so a failure never aborts the sibling rows. Result
// deltas are applied only after the savepoint commits.
func (s *MigrationService) migrateRow(ctx context.Context, tx storage.MigrationTx, pub *model.Publisher, row *model.ShadowRelationship, result *MigrationResult) {
	loggerCtx := logger.FromContext(ctx)

	var (
		skipped              bool
		relationshipsCreated int
		offeringsActivated   int
	)
	err := tx.WithSavepoint(func(inner storage.MigrationTx) error {
		// Visible, diagnosable state if anything dies mid-row.
		row.MigrationStatus = model.MigrationStatusMigrating
		if err := inner.UpdateShadowRelationship(row); err != nil {
			return fmt.Errorf("mark migrating: %w", err)
		}

		exists, err := inner.ActiveRelationshipExists(pub.ID, row.WebsiteID)
		if err != nil {
			return fmt.Errorf("check existing relationship: %w", err)
		}
		if exists {
			row.MigrationStatus = model.MigrationStatusSkipped
			row.MigrationNotes = appendNote(row.MigrationNotes, "skipped: active relationship already exists")
			if err := inner.UpdateShadowRelationship(row); err != nil {
				return fmt.Errorf("mark skipped: %w", err)
			}
			skipped = true
			return nil
		}

		verification := model.VerificationStatusClaimed
		if row.Verified {
			verification = model.VerificationStatusVerified
		}
		rel := &model.OfferingRelationship{
			ID:                 uuid.NewString(),
			PublisherID:        pub.ID,
			WebsiteID:          row.WebsiteID,
			RelationshipType:   relationshipTypeShadowMigration,
			VerificationStatus: verification,
			IsActive:           true,
		}
		if err := inner.CreateOfferingRelationship(rel); err != nil {
			return fmt.Errorf("create relationship: %w", err)
		}
		relationshipsCreated++

		activated, err := inner.ActivateOfferings(pub.ID, row.WebsiteID)
		if err != nil {
			return fmt.Errorf("activate offerings: %w", err)
		}
		if activated > 0 {
			offeringsActivated += activated
		} else {
			created, offerErr := s.createOfferingsFromPayload(inner, pub.ID, row)
			if offerErr != nil {
				return fmt.Errorf("create offerings: %w", offerErr)
			}
			offeringsActivated += created
		}

		migratedAt := s.now()
		row.MigrationStatus = model.MigrationStatusMigrated
		row.MigratedAt = &migratedAt
		row.MigrationNotes = appendNote(row.MigrationNotes, "migrated to canonical storage")
		if err := inner.UpdateShadowRelationship(row); err != nil {
			return fmt.Errorf("mark migrated: %w", err)
		}
		return nil
	})
	if err != nil {
		s.failRow(tx, row, result, err)
		return
	}

	if skipped {
		result.Skipped++
		observer.IncMigrationItem("skipped")
		return
	}
	result.RelationshipsCreated += relationshipsCreated
	result.OfferingsActivated += offeringsActivated
	result.WebsitesMigrated++
	observer.IncMigrationItem("migrated")
	loggerCtx.Debug("Shadow relationship migrated",
		zap.String("publisher_id", pub.ID),
		zap.String("website_id", row.WebsiteID))
}

// createOfferingsFromPayload materializes the offerings extracted at intake
// time. Unparseable prices fail the row rather than silently storing zero.
func (s *MigrationService) createOfferingsFromPayload(tx storage.MigrationTx, publisherID string, row *model.ShadowRelationship) (int, error) {
	if len(row.OfferingsPayload) == 0 {
		return 0, nil
	}

	var offerings []extraction.ExtractedOffering
	if err := json.Unmarshal(row.OfferingsPayload, &offerings); err != nil {
		return 0, fmt.Errorf("decode offerings payload: %w", err)
	}

	created := 0
	for _, o := range offerings {
		if o.Price == "" {
			continue
		}
		price, currency, err := parsePriceMinorUnits(o.Price, o.Currency)
		if err != nil {
			return created, fmt.Errorf("offering %q: %w", o.OfferingType, err)
		}

		turnaround := o.TurnaroundDays
		if turnaround <= 0 {
			turnaround = s.defaultTurnaroundDays
		}
		offeringType := o.OfferingType
		if offeringType == "" {
			offeringType = "guest_post"
		}

		offering := &model.Offering{
			ID:             uuid.NewString(),
			PublisherID:    publisherID,
			WebsiteID:      row.WebsiteID,
			OfferingType:   offeringType,
			BasePrice:      price,
			Currency:       currency,
			TurnaroundDays: turnaround,
			IsActive:       true,
			Source:         publisherSource,
		}
		if err := tx.CreateOffering(offering); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// failRow records the failure on the outer transaction; the savepoint
// rollback already discarded the row's partial writes.
func (s *MigrationService) failRow(tx storage.MigrationTx, row *model.ShadowRelationship, result *MigrationResult, cause error) {
	row.MigrationStatus = model.MigrationStatusFailed
	row.MigratedAt = nil
	row.MigrationNotes = appendNote(row.MigrationNotes, "failed: "+cause.Error())
	if err := tx.UpdateShadowRelationship(row); err != nil {
		// The row state write itself failed; the error list still records it.
		cause = fmt.Errorf("%w (and failed to persist row state: %v)", cause, err)
	}
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("website %s: %v", row.WebsiteID, cause))
	observer.IncMigrationItem("failed")
}

// Retry resets every failed shadow row for the publisher back to pending,
// clears the completion marker, and re-runs Migrate. The main algorithm's
// idempotence does the rest.
func (s *MigrationService) Retry(ctx context.Context, publisherID string) (*MigrationResult, error) {
	reset := 0
	err := s.repo.RunMigration(ctx, func(tx storage.MigrationTx) error {
		pub, err := tx.LockPublisher(publisherID)
		if err != nil {
			return fmt.Errorf("lock publisher %s: %w", publisherID, err)
		}

		rows, err := tx.ShadowRelationships(publisherID)
		if err != nil {
			return fmt.Errorf("load shadow relationships: %w", err)
		}
		for i := range rows {
			row := &rows[i]
			if row.MigrationStatus != model.MigrationStatusFailed {
				continue
			}
			row.MigrationStatus = model.MigrationStatusPending
			row.MigrationNotes = appendNote(row.MigrationNotes, "retry requested")
			if err := tx.UpdateShadowRelationship(row); err != nil {
				return fmt.Errorf("reset failed row: %w", err)
			}
			reset++
		}

		if reset > 0 && pub.ShadowMigrationCompletedAt != nil {
			pub.ShadowMigrationCompletedAt = nil
			if err := tx.SavePublisher(pub); err != nil {
				return fmt.Errorf("clear completion marker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Reset failed shadow rows for retry",
		zap.String("publisher_id", publisherID),
		zap.Int("reset", reset))
	return s.Migrate(ctx, publisherID)
}

// ArchiveMigrated moves migrated shadow rows older than the retention window
// into the archive table. Runs out of the hot path on a schedule.
func (s *MigrationService) ArchiveMigrated(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	archived, err := s.repo.ArchiveMigratedShadowRelationships(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if archived > 0 {
		logger.FromContext(ctx).Info("Archived migrated shadow relationships",
			zap.Int64("archived", archived),
			zap.Time("cutoff", cutoff))
	}
	return archived, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
