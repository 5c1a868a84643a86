package model

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// LogStatus is the lifecycle status of a ProcessingLogEntry.
type LogStatus string

const (
	// LogStatusProcessing marks an entry that has been ingested but not yet
	// evaluated by the confidence gate.
	LogStatusProcessing LogStatus = "processing"
	// LogStatusParsed marks an entry whose extraction passed the confidence
	// threshold and produced shadow records.
	LogStatusParsed LogStatus = "parsed"
	// LogStatusNeedsReview marks an entry whose extraction succeeded but fell
	// below the confidence threshold; a human decides later.
	LogStatusNeedsReview LogStatus = "needs_review"
	// LogStatusFailed marks an entry whose extraction or shadow creation
	// failed. Failed entries do not count against the dedup key.
	LogStatusFailed LogStatus = "failed"
)

// IngestionSource identifies which ingestion path created a log entry.
type IngestionSource string

const (
	SourceWebhook IngestionSource = "webhook"
	SourcePoller  IngestionSource = "poller"
)

// ProcessingLogEntry records every email the pipeline considered for
// extraction. Entries are append-only: they are created at ingestion, mutated
// only by the evaluator, and never deleted.
//
// Invariant: at most one entry with status <> 'failed' exists per dedup key.
// The store enforces this with a partial unique index so concurrent ingestion
// paths cannot double-create.
type ProcessingLogEntry struct {
	// ID is the entry's UUID primary key.
	ID string `json:"id" gorm:"primaryKey;column:id"`
	// DedupKey is campaignID:sender (lowercased), or the provider message id
	// when no campaign id is available.
	DedupKey string `json:"dedup_key" gorm:"column:dedup_key;index" validate:"required"`
	// CampaignID is the outreach campaign this reply belongs to, if known.
	CampaignID string `json:"campaign_id" gorm:"column:campaign_id;index"`
	// SenderEmail is the reply author's address, lowercased.
	SenderEmail string `json:"sender_email" gorm:"column:sender_email;index" validate:"required,email"`
	// ProviderMessageID is the provider-assigned message id, if supplied.
	ProviderMessageID string `json:"provider_message_id,omitempty" gorm:"column:provider_message_id"`
	Subject           string `json:"subject" gorm:"column:subject"`
	// RawContent is the normalized plain text handed to extraction.
	RawContent string `json:"raw_content" gorm:"column:raw_content;type:text"`
	// HTMLContent preserves the original HTML body for the audit trail.
	HTMLContent string `json:"html_content,omitempty" gorm:"column:html_content;type:text"`
	// ParsedResult holds the versioned extraction result once extraction
	// completes; nil until then.
	ParsedResult datatypes.JSON `json:"parsed_result,omitempty" gorm:"type:jsonb;column:parsed_result"`
	// Confidence is the 0..1 extraction confidence; nil until extraction
	// completes.
	Confidence   *float64        `json:"confidence,omitempty" gorm:"column:confidence"`
	Status       LogStatus       `json:"status" gorm:"column:status;index" validate:"required,oneof=processing parsed needs_review failed"`
	ErrorMessage string          `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	Source       IngestionSource `json:"source" gorm:"column:source" validate:"required,oneof=webhook poller"`
	ReceivedAt   time.Time       `json:"received_at" gorm:"column:received_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" gorm:"column:processed_at"`
	// ProcessingDurationMs measures ingestion-to-evaluation wall time.
	ProcessingDurationMs int64     `json:"processing_duration_ms" gorm:"column:processing_duration_ms"`
	CreatedAt            time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (ProcessingLogEntry) TableName() string {
	return "processing_log_entries"
}

// DedupKeyFor computes the deduplication key for an inbound email. The
// primary key is (campaign id, sender); the provider message id is the
// fallback when no campaign id is known, and a bare sender key is the last
// resort.
func DedupKeyFor(campaignID, senderEmail, providerMessageID string) string {
	sender := strings.ToLower(strings.TrimSpace(senderEmail))
	if campaignID != "" {
		return fmt.Sprintf("%s:%s", campaignID, sender)
	}
	if providerMessageID != "" {
		return fmt.Sprintf("msg:%s", providerMessageID)
	}
	return fmt.Sprintf("sender:%s", sender)
}
