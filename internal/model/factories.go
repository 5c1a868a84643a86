package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// RandomJSONBMap generates JSON data from a map for testing.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// NewProcessingLogEntry creates a ProcessingLogEntry with fake data in
// `processing` status. Tests mutate the returned value as needed.
func NewProcessingLogEntry() *ProcessingLogEntry {
	campaignID := fmt.Sprintf("cmp_%s", gofakeit.LetterN(8))
	sender := gofakeit.Email()
	return &ProcessingLogEntry{
		ID:          uuid.New().String(),
		DedupKey:    DedupKeyFor(campaignID, sender, ""),
		CampaignID:  campaignID,
		SenderEmail: sender,
		Subject:     gofakeit.Sentence(4),
		RawContent:  gofakeit.Paragraph(1, 3, 12, " "),
		Status:      LogStatusProcessing,
		Source:      SourceWebhook,
		ReceivedAt:  utils.Now(),
	}
}

// NewShadowRelationship creates a pending ShadowRelationship with fake data.
func NewShadowRelationship() *ShadowRelationship {
	return &ShadowRelationship{
		ID:               uuid.New().String(),
		PublisherID:      uuid.New().String(),
		WebsiteID:        uuid.New().String(),
		Confidence:       gofakeit.Float64Range(0.7, 0.99),
		ExtractionSource: string(SourceWebhook),
		ExtractionMethod: "email_parse_v1",
		Verified:         false,
		MigrationStatus:  MigrationStatusPending,
		ProcessingLogID:  uuid.New().String(),
		CreatedAt:        utils.Now(),
	}
}

// NewPublisher creates a shadow Publisher with fake data.
func NewPublisher() *Publisher {
	return &Publisher{
		ID:              uuid.New().String(),
		Email:           gofakeit.Email(),
		ContactName:     gofakeit.Name(),
		CompanyName:     gofakeit.Company(),
		AccountStatus:   AccountStatusShadow,
		ConfidenceScore: gofakeit.Float64Range(0.7, 0.99),
		Source:          "email_extraction",
		CreatedAt:       utils.Now(),
	}
}

// NewWebsite creates a Website with a fake domain.
func NewWebsite() *Website {
	return &Website{
		ID:        uuid.New().String(),
		Domain:    gofakeit.DomainName(),
		CreatedAt: utils.Now(),
	}
}

// NewSecurityAuditEntry creates an allowed SecurityAuditEntry with fake data.
func NewSecurityAuditEntry() *SecurityAuditEntry {
	return &SecurityAuditEntry{
		Provider:       "emailbison",
		CallerIP:       gofakeit.IPv4Address(),
		UserAgent:      gofakeit.UserAgent(),
		SecretValid:    true,
		SignatureValid: true,
		TimestampValid: true,
		IPAllowed:      true,
		Allowed:        true,
	}
}
