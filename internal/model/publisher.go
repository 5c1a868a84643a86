package model

import (
	"time"
)

// AccountStatus is a publisher account's lifecycle state.
type AccountStatus string

const (
	// AccountStatusShadow marks a tentative publisher created automatically
	// from parsed email content; nobody has claimed it yet.
	AccountStatusShadow AccountStatus = "shadow"
	// AccountStatusClaimed marks a publisher a real person has verified
	// ownership of.
	AccountStatusClaimed AccountStatus = "claimed"
)

// VerificationStatus is the trust level of a canonical offering relationship.
type VerificationStatus string

const (
	VerificationStatusClaimed  VerificationStatus = "claimed"
	VerificationStatusVerified VerificationStatus = "verified"
)

// Publisher is a canonical publisher account. The pipeline creates shadow
// publishers; the claim flow upgrades them.
type Publisher struct {
	ID string `json:"id" gorm:"primaryKey;column:id"`
	// Email is the publisher's contact address, lowercased, unique.
	Email         string        `json:"email" gorm:"column:email;uniqueIndex" validate:"required,email"`
	ContactName   string        `json:"contact_name,omitempty" gorm:"column:contact_name"`
	CompanyName   string        `json:"company_name,omitempty" gorm:"column:company_name"`
	AccountStatus AccountStatus `json:"account_status" gorm:"column:account_status;index" validate:"required,oneof=shadow claimed"`
	// ConfidenceScore is the best extraction confidence seen for this
	// publisher while it was still a shadow.
	ConfidenceScore float64 `json:"confidence_score" gorm:"column:confidence_score"`
	// Source names what created the account (e.g. email_extraction).
	Source    string     `json:"source,omitempty" gorm:"column:source"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty" gorm:"column:claimed_at"`
	// ShadowMigrationCompletedAt is set once the migration engine has
	// processed all pending shadow relationships; later migrate calls
	// short-circuit on it.
	ShadowMigrationCompletedAt *time.Time `json:"shadow_migration_completed_at,omitempty" gorm:"column:shadow_migration_completed_at"`
	CreatedAt                  time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                  time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Publisher) TableName() string {
	return "publishers"
}

// Website is a canonical website record, keyed by normalized domain.
type Website struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Domain    string    `json:"domain" gorm:"column:domain;uniqueIndex" validate:"required"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Website) TableName() string {
	return "websites"
}

// Offering is a canonical guest-post/link product a publisher sells on a
// website. Prices are integer minor currency units (cents).
type Offering struct {
	ID           string `json:"id" gorm:"primaryKey;column:id"`
	PublisherID  string `json:"publisher_id" gorm:"column:publisher_id;index" validate:"required"`
	WebsiteID    string `json:"website_id" gorm:"column:website_id;index" validate:"required"`
	OfferingType string `json:"offering_type" gorm:"column:offering_type" validate:"required"`
	// BasePrice is in minor currency units: $350.00 stores as 35000.
	BasePrice int64  `json:"base_price" gorm:"column:base_price" validate:"gte=0"`
	Currency  string `json:"currency" gorm:"column:currency"`
	// TurnaroundDays is the promised delivery time.
	TurnaroundDays int       `json:"turnaround_days" gorm:"column:turnaround_days"`
	IsActive       bool      `json:"is_active" gorm:"column:is_active;index"`
	Source         string    `json:"source,omitempty" gorm:"column:source"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Offering) TableName() string {
	return "offerings"
}

// OfferingRelationship links a publisher to a website in canonical storage.
// The migration engine is the only writer in this subsystem.
//
// Invariant: at most one active relationship per (publisher, website) pair;
// the store enforces it with a partial unique index.
type OfferingRelationship struct {
	ID                 string             `json:"id" gorm:"primaryKey;column:id"`
	PublisherID        string             `json:"publisher_id" gorm:"column:publisher_id;index" validate:"required"`
	WebsiteID          string             `json:"website_id" gorm:"column:website_id;index" validate:"required"`
	RelationshipType   string             `json:"relationship_type" gorm:"column:relationship_type"`
	VerificationStatus VerificationStatus `json:"verification_status" gorm:"column:verification_status" validate:"required,oneof=claimed verified"`
	IsActive           bool               `json:"is_active" gorm:"column:is_active;index"`
	Notes              string             `json:"notes,omitempty" gorm:"column:notes;type:text"`
	CreatedAt          time.Time          `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (OfferingRelationship) TableName() string {
	return "offering_relationships"
}
