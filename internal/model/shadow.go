package model

import (
	"time"

	"gorm.io/datatypes"
)

// MigrationStatus tracks a shadow relationship's journey into canonical
// storage.
type MigrationStatus string

const (
	MigrationStatusPending   MigrationStatus = "pending"
	MigrationStatusMigrating MigrationStatus = "migrating"
	MigrationStatusMigrated  MigrationStatus = "migrated"
	MigrationStatusSkipped   MigrationStatus = "skipped"
	MigrationStatusFailed    MigrationStatus = "failed"
)

// ShadowRelationship is a tentative link between a not-yet-claimed publisher
// identity and a website, produced by the shadow creator from a confident
// extraction. The pipeline owns it exclusively until claim time; after
// creation only the migration engine writes to it.
type ShadowRelationship struct {
	ID          string `json:"id" gorm:"primaryKey;column:id"`
	PublisherID string `json:"publisher_id" gorm:"column:publisher_id;index" validate:"required"`
	WebsiteID   string `json:"website_id" gorm:"column:website_id;index" validate:"required"`
	// Confidence is the extraction confidence that justified creating this
	// relationship.
	Confidence float64 `json:"confidence" gorm:"column:confidence" validate:"gte=0,lte=1"`
	// ExtractionSource names the ingestion path (webhook, poller).
	ExtractionSource string `json:"extraction_source" gorm:"column:extraction_source"`
	// ExtractionMethod names how the data was produced (e.g. email_parse_v1).
	ExtractionMethod string `json:"extraction_method" gorm:"column:extraction_method"`
	// Verified is false until a human confirms the extracted data.
	Verified        bool            `json:"verified" gorm:"column:verified"`
	MigrationStatus MigrationStatus `json:"migration_status" gorm:"column:migration_status;index" validate:"required,oneof=pending migrating migrated skipped failed"`
	MigratedAt      *time.Time      `json:"migrated_at,omitempty" gorm:"column:migrated_at"`
	MigrationNotes  string          `json:"migration_notes,omitempty" gorm:"column:migration_notes;type:text"`
	// OfferingsPayload carries the extracted offerings (type, price,
	// turnaround) the migration engine materializes at claim time.
	OfferingsPayload datatypes.JSON `json:"offerings_payload,omitempty" gorm:"type:jsonb;column:offerings_payload"`
	ProcessingLogID  string         `json:"processing_log_id,omitempty" gorm:"column:processing_log_id;index"`
	CreatedAt        time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (ShadowRelationship) TableName() string {
	return "shadow_relationships"
}

// ShadowRelationshipArchive holds migrated shadow rows moved out of the hot
// table once they age past the retention window. Same shape plus the archive
// timestamp; history is never lost.
type ShadowRelationshipArchive struct {
	ID               string          `json:"id" gorm:"primaryKey;column:id"`
	PublisherID      string          `json:"publisher_id" gorm:"column:publisher_id;index"`
	WebsiteID        string          `json:"website_id" gorm:"column:website_id"`
	Confidence       float64         `json:"confidence" gorm:"column:confidence"`
	ExtractionSource string          `json:"extraction_source" gorm:"column:extraction_source"`
	ExtractionMethod string          `json:"extraction_method" gorm:"column:extraction_method"`
	Verified         bool            `json:"verified" gorm:"column:verified"`
	MigrationStatus  MigrationStatus `json:"migration_status" gorm:"column:migration_status"`
	MigratedAt       *time.Time      `json:"migrated_at,omitempty" gorm:"column:migrated_at"`
	MigrationNotes   string          `json:"migration_notes,omitempty" gorm:"column:migration_notes;type:text"`
	OfferingsPayload datatypes.JSON  `json:"offerings_payload,omitempty" gorm:"type:jsonb;column:offerings_payload"`
	ProcessingLogID  string          `json:"processing_log_id,omitempty" gorm:"column:processing_log_id"`
	CreatedAt        time.Time       `json:"created_at" gorm:"column:created_at"`
	ArchivedAt       time.Time       `json:"archived_at" gorm:"column:archived_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (ShadowRelationshipArchive) TableName() string {
	return "shadow_relationship_archives"
}

// ToArchive converts an active shadow row into its archive record.
func (s ShadowRelationship) ToArchive() ShadowRelationshipArchive {
	return ShadowRelationshipArchive{
		ID:               s.ID,
		PublisherID:      s.PublisherID,
		WebsiteID:        s.WebsiteID,
		Confidence:       s.Confidence,
		ExtractionSource: s.ExtractionSource,
		ExtractionMethod: s.ExtractionMethod,
		Verified:         s.Verified,
		MigrationStatus:  s.MigrationStatus,
		MigratedAt:       s.MigratedAt,
		MigrationNotes:   s.MigrationNotes,
		OfferingsPayload: s.OfferingsPayload,
		ProcessingLogID:  s.ProcessingLogID,
		CreatedAt:        s.CreatedAt,
	}
}
