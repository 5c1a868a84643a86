package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/cache"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction"
	extractionmock "gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction/mock"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	storagemock "gitlab.com/vantagepost/api/publisher-intake-service/internal/storage/mock"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
)

const testThreshold = 0.7

func newTestIntake(t *testing.T) (*IntakeService, *storagemock.RepositoryMock, *extractionmock.GatewayMock) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	repo := new(storagemock.RepositoryMock)
	gateway := new(extractionmock.GatewayMock)
	svc := NewIntakeService(repo, repo, repo, gateway, events.NoopPublisher{}, cache.NewDedupCache(time.Minute), testThreshold)
	return svc, repo, gateway
}

func confidentResult(confidence float64) *extraction.ExtractionResultV1 {
	return &extraction.ExtractionResultV1{
		Version: 1,
		Publisher: extraction.PublisherFields{
			Email:       "john@techblog.com",
			ContactName: "John",
		},
		Offerings: []extraction.ExtractedOffering{
			{OfferingType: "guest_post", Price: "$350", Currency: "USD", TurnaroundDays: 5},
		},
		WebsiteHints:      []string{"techblog.com"},
		OverallConfidence: confidence,
	}
}

func expectShadowCreation(repo *storagemock.RepositoryMock) {
	repo.On("FindOrCreatePublisherByEmail", mock.Anything, mock.AnythingOfType("*model.Publisher")).
		Return(&model.Publisher{ID: "pub-1", Email: "john@techblog.com", AccountStatus: model.AccountStatusShadow}, true, nil)
	repo.On("FindOrCreateWebsiteByDomain", mock.Anything, mock.AnythingOfType("*model.Website")).
		Return(&model.Website{ID: "web-1", Domain: "techblog.com"}, true, nil)
	repo.On("SaveShadowRelationship", mock.Anything, mock.AnythingOfType("*model.ShadowRelationship")).Return(nil)
}

func webhookPayload() *model.InboundEmailPayload {
	return &model.InboundEmailPayload{
		Sender:     "john@techblog.com",
		SenderName: "John",
		Subject:    "Guest post pricing",
		TextBody:   "Our guest post rate is $350, turnaround 5 days.",
		CampaignID: "camp-1",
	}
}

func TestIngestWebhook_HighConfidenceCreatesShadow(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	repo.On("FindProcessingLogByDedupKey", mock.Anything, "camp-1:john@techblog.com").
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.AnythingOfType("*model.ProcessingLogEntry")).Return(nil)
	gateway.On("Parse", mock.Anything, mock.AnythingOfType("extraction.ParseRequest")).
		Return(confidentResult(0.92), nil)
	expectShadowCreation(repo)

	var updated *model.ProcessingLogEntry
	repo.On("UpdateProcessingLog", mock.Anything, mock.AnythingOfType("*model.ProcessingLogEntry")).
		Run(func(args mock.Arguments) {
			updated = args.Get(1).(*model.ProcessingLogEntry)
		}).Return(nil)

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)

	assert.Equal(t, model.LogStatusParsed, result.Status)
	assert.Equal(t, "pub-1", result.PublisherID)
	assert.False(t, result.Deduplicated)

	require.NotNil(t, updated)
	assert.Equal(t, model.LogStatusParsed, updated.Status)
	require.NotNil(t, updated.Confidence)
	assert.InDelta(t, 0.92, *updated.Confidence, 1e-9)
	assert.NotEmpty(t, updated.ParsedResult)
	assert.NotNil(t, updated.ProcessedAt)

	// One shadow relationship, pending migration.
	shadowCalls := 0
	for _, call := range repo.Calls {
		if call.Method == "SaveShadowRelationship" {
			shadowCalls++
			rel := call.Arguments.Get(1).(*model.ShadowRelationship)
			assert.Equal(t, model.MigrationStatusPending, rel.MigrationStatus)
			assert.False(t, rel.Verified)
			assert.Equal(t, "pub-1", rel.PublisherID)
		}
	}
	assert.Equal(t, 1, shadowCalls)
}

func TestIngestWebhook_ConfidenceEqualToThresholdPasses(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	gateway.On("Parse", mock.Anything, mock.Anything).Return(confidentResult(testThreshold), nil)
	expectShadowCreation(repo)
	repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)
	assert.Equal(t, model.LogStatusParsed, result.Status)
	assert.NotEmpty(t, result.PublisherID)
}

func TestIngestWebhook_StrongerExtractionRaisesConfidenceScore(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	existing := model.NewPublisher()
	existing.Email = "john@techblog.com"
	existing.ConfidenceScore = 0.71

	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	gateway.On("Parse", mock.Anything, mock.Anything).Return(confidentResult(0.92), nil)
	repo.On("FindOrCreatePublisherByEmail", mock.Anything, mock.AnythingOfType("*model.Publisher")).
		Return(existing, false, nil)
	repo.On("FindOrCreateWebsiteByDomain", mock.Anything, mock.AnythingOfType("*model.Website")).
		Return(model.NewWebsite(), true, nil)
	repo.On("SaveShadowRelationship", mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).Return(nil)

	var savedScore float64
	repo.On("UpdatePublisher", mock.Anything, mock.AnythingOfType("*model.Publisher")).
		Run(func(args mock.Arguments) {
			savedScore = args.Get(1).(*model.Publisher).ConfidenceScore
		}).Return(nil)

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, result.PublisherID)

	repo.AssertCalled(t, "UpdatePublisher", mock.Anything, mock.Anything)
	assert.InDelta(t, 0.92, savedScore, 1e-9)
}

func TestIngestWebhook_WeakerExtractionKeepsStoredScore(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	existing := model.NewPublisher()
	existing.Email = "john@techblog.com"
	existing.ConfidenceScore = 0.95

	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	gateway.On("Parse", mock.Anything, mock.Anything).Return(confidentResult(0.8), nil)
	repo.On("FindOrCreatePublisherByEmail", mock.Anything, mock.Anything).
		Return(existing, false, nil)
	repo.On("FindOrCreateWebsiteByDomain", mock.Anything, mock.Anything).
		Return(model.NewWebsite(), true, nil)
	repo.On("SaveShadowRelationship", mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)

	repo.AssertNotCalled(t, "UpdatePublisher", mock.Anything, mock.Anything)
	assert.InDelta(t, 0.95, existing.ConfidenceScore, 1e-9)
}

func TestIngestWebhook_LowConfidenceNeedsReview(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	gateway.On("Parse", mock.Anything, mock.Anything).Return(confidentResult(0.4), nil)

	var updated *model.ProcessingLogEntry
	repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			updated = args.Get(1).(*model.ProcessingLogEntry)
		}).Return(nil)

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)

	assert.Equal(t, model.LogStatusNeedsReview, result.Status)
	assert.Empty(t, result.PublisherID)
	require.NotNil(t, updated)
	assert.Equal(t, model.LogStatusNeedsReview, updated.Status)
	assert.NotEmpty(t, updated.ParsedResult)

	repo.AssertNotCalled(t, "FindOrCreatePublisherByEmail", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "SaveShadowRelationship", mock.Anything, mock.Anything)
}

func TestIngestWebhook_ExtractionFailureMarksFailed(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	gateway.On("Parse", mock.Anything, mock.Anything).Return(nil, apperrors.ErrExtraction)

	var updated *model.ProcessingLogEntry
	repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			updated = args.Get(1).(*model.ProcessingLogEntry)
		}).Return(nil)

	// The ingestion itself still succeeds; only the downstream step failed.
	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)
	assert.Equal(t, model.LogStatusFailed, result.Status)
	require.NotNil(t, updated)
	assert.Equal(t, model.LogStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.ErrorMessage)
}

func TestIngestWebhook_ShadowCreationFailurePreservesParsedResult(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	gateway.On("Parse", mock.Anything, mock.Anything).Return(confidentResult(0.9), nil)
	repo.On("FindOrCreatePublisherByEmail", mock.Anything, mock.Anything).
		Return(&model.Publisher{ID: "pub-1"}, true, nil)
	repo.On("FindOrCreateWebsiteByDomain", mock.Anything, mock.Anything).
		Return(&model.Website{ID: "web-1"}, true, nil)
	repo.On("SaveShadowRelationship", mock.Anything, mock.Anything).Return(apperrors.ErrDatabase)

	var updated *model.ProcessingLogEntry
	repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			updated = args.Get(1).(*model.ProcessingLogEntry)
		}).Return(nil)

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)
	assert.Equal(t, model.LogStatusFailed, result.Status)

	// Extraction result survives the materialization failure.
	require.NotNil(t, updated)
	assert.Equal(t, model.LogStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.ParsedResult)
	assert.NotEmpty(t, updated.ErrorMessage)
}

func TestIngestWebhook_DuplicateIsBenign(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	existing := &model.ProcessingLogEntry{ID: "log-existing", Status: model.LogStatusParsed}
	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound).Once()
	repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(apperrors.ErrDuplicate)
	repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).
		Return(existing, nil).Once()

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.Equal(t, "log-existing", result.LogID)

	gateway.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestIngestWebhook_ExistingEntrySkipsExtraction(t *testing.T) {
	svc, repo, gateway := newTestIntake(t)

	existing := &model.ProcessingLogEntry{ID: "log-existing", Status: model.LogStatusParsed}
	repo.On("FindProcessingLogByDedupKey", mock.Anything, "camp-1:john@techblog.com").
		Return(existing, nil).Once()

	result, err := svc.IngestWebhook(context.Background(), webhookPayload())
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.Equal(t, "log-existing", result.LogID)

	repo.AssertNotCalled(t, "SaveProcessingLog", mock.Anything, mock.Anything)
	gateway.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestIngestWebhook_StructuralValidation(t *testing.T) {
	svc, repo, _ := newTestIntake(t)

	// Missing sender.
	_, err := svc.IngestWebhook(context.Background(), &model.InboundEmailPayload{TextBody: "hello"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	// Missing body.
	_, err = svc.IngestWebhook(context.Background(), &model.InboundEmailPayload{Sender: "a@b.com"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	// No log entry is ever created on structural failure.
	repo.AssertNotCalled(t, "SaveProcessingLog", mock.Anything, mock.Anything)
}

func TestDedupeDomains(t *testing.T) {
	got := dedupeDomains(
		[]string{"https://www.TechBlog.com/about", "techblog.com", "gmail.com", "other.io"},
		"techblog.com", "",
	)
	assert.Equal(t, []string{"techblog.com", "other.io"}, got)
}
