package ingestion

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/cache"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction"
	extractionmock "gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction/mock"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/security"
	storagemock "gitlab.com/vantagepost/api/publisher-intake-service/internal/storage/mock"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/usecase"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
)

const (
	testURLSecret = "path-secret-123"
	testSigSecret = "hmac-secret-456"
)

type apiFixture struct {
	server  *httptest.Server
	repo    *storagemock.RepositoryMock
	gateway *extractionmock.GatewayMock
	txMock  *storagemock.MigrationTxMock
}

func newAPIFixture(t *testing.T) *apiFixture {
	logger.Log = zaptest.NewLogger(t).Named("test")

	repo := new(storagemock.RepositoryMock)
	gateway := new(extractionmock.GatewayMock)
	txMock := new(storagemock.MigrationTxMock)

	gate := security.NewGate(config.WebhookConfig{
		URLSecret:       testURLSecret,
		SignatureSecret: testSigSecret,
		TimestampSkew:   5 * time.Minute,
	}, false, repo)

	intake := usecase.NewIntakeService(repo, repo, repo, gateway, events.NoopPublisher{}, cache.NewDedupCache(time.Minute), 0.7)
	migration := usecase.NewMigrationService(repo, events.NoopPublisher{}, 7)
	handler := NewHandler(gate, intake, migration, nil, repo, repo)

	srv := NewServer(0, handler)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &apiFixture{server: ts, repo: repo, gateway: gateway, txMock: txMock}
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSigSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T) []byte {
	body, err := json.Marshal(model.InboundEmailPayload{
		Sender:     "john@techblog.com",
		SenderName: "John",
		Subject:    "Guest post pricing",
		TextBody:   "Our guest post rate is $350.",
		CampaignID: "camp-1",
	})
	require.NoError(t, err)
	return body
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleWebhook_Accepted(t *testing.T) {
	f := newAPIFixture(t)

	f.repo.On("SaveSecurityAudit", mock.Anything, mock.AnythingOfType("*model.SecurityAuditEntry")).Return(nil)
	f.repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	f.repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("Parse", mock.Anything, mock.Anything).
		Return(&extraction.ExtractionResultV1{Version: 1, OverallConfidence: 0.4}, nil)

	body := webhookBody(t)
	req, _ := http.NewRequest(http.MethodPost,
		f.server.URL+"/webhooks/instantly/"+testURLSecret, bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["success"])
	assert.NotEmpty(t, out["logId"])
	assert.Equal(t, string(model.LogStatusNeedsReview), out["status"])
	assert.Equal(t, false, out["deduplicated"])
	// No shadow publisher below the threshold, so no publisherId key at all.
	_, hasPublisher := out["publisherId"]
	assert.False(t, hasPublisher)
}

func TestHandleWebhook_HighConfidenceReturnsPublisherID(t *testing.T) {
	f := newAPIFixture(t)

	f.repo.On("SaveSecurityAudit", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("FindProcessingLogByDedupKey", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	f.repo.On("SaveProcessingLog", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("UpdateProcessingLog", mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("Parse", mock.Anything, mock.Anything).
		Return(&extraction.ExtractionResultV1{
			Version:           1,
			OverallConfidence: 0.92,
			WebsiteHints:      []string{"techblog.com"},
		}, nil)
	f.repo.On("FindOrCreatePublisherByEmail", mock.Anything, mock.Anything).
		Return(&model.Publisher{ID: "pub-1"}, true, nil)
	f.repo.On("FindOrCreateWebsiteByDomain", mock.Anything, mock.Anything).
		Return(&model.Website{ID: "web-1", Domain: "techblog.com"}, true, nil)
	f.repo.On("SaveShadowRelationship", mock.Anything, mock.Anything).Return(nil)

	resp, err := http.Post(f.server.URL+"/webhooks/instantly/"+testURLSecret,
		"application/json", bytes.NewReader(webhookBody(t)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "pub-1", out["publisherId"])
	assert.Equal(t, string(model.LogStatusParsed), out["status"])
}

func TestHandleWebhook_WrongSecretIsUnauthorized(t *testing.T) {
	f := newAPIFixture(t)

	var audit *model.SecurityAuditEntry
	f.repo.On("SaveSecurityAudit", mock.Anything, mock.AnythingOfType("*model.SecurityAuditEntry")).
		Run(func(args mock.Arguments) {
			audit = args.Get(1).(*model.SecurityAuditEntry)
		}).Return(nil)

	resp, err := http.Post(f.server.URL+"/webhooks/instantly/wrong-secret",
		"application/json", bytes.NewReader(webhookBody(t)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// The rejection is still audited.
	require.NotNil(t, audit)
	assert.False(t, audit.Allowed)
	assert.Equal(t, security.ReasonSecretMismatch, audit.RejectionReason)

	f.repo.AssertNotCalled(t, "SaveProcessingLog", mock.Anything, mock.Anything)
}

func TestHandleWebhook_BadSignatureIsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	f.repo.On("SaveSecurityAudit", mock.Anything, mock.Anything).Return(nil)

	body := webhookBody(t)
	req, _ := http.NewRequest(http.MethodPost,
		f.server.URL+"/webhooks/instantly/"+testURLSecret, bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256="+hex.EncodeToString(bytes.Repeat([]byte{0xab}, 32)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestHandleWebhook_MalformedPayloadAfterAllowedGate(t *testing.T) {
	f := newAPIFixture(t)
	f.repo.On("SaveSecurityAudit", mock.Anything, mock.Anything).Return(nil)

	resp, err := http.Post(f.server.URL+"/webhooks/instantly/"+testURLSecret,
		"application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Gate passed, so the audit row exists; no processing log is created.
	f.repo.AssertCalled(t, "SaveSecurityAudit", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "SaveProcessingLog", mock.Anything, mock.Anything)
}

func TestHandleWebhook_MissingSenderIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)
	f.repo.On("SaveSecurityAudit", mock.Anything, mock.Anything).Return(nil)

	body, _ := json.Marshal(map[string]string{"text_body": "hello"})
	resp, err := http.Post(f.server.URL+"/webhooks/instantly/"+testURLSecret,
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandleWebhookProbe(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/webhooks/instantly/" + testURLSecret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(f.server.URL + "/webhooks/instantly/wrong-secret")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestHandleMigrate(t *testing.T) {
	f := newAPIFixture(t)

	f.repo.On("RunMigration", mock.Anything, mock.Anything).Return(f.txMock)
	f.txMock.On("LockPublisher", "pub-1").Return(&model.Publisher{ID: "pub-1"}, nil)
	f.txMock.On("ShadowRelationships", "pub-1").Return([]model.ShadowRelationship{}, nil)
	f.txMock.On("SavePublisher", mock.Anything).Return(nil)

	resp, err := http.Post(f.server.URL+"/publishers/pub-1/migrate", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["success"])
	result := out["result"].(map[string]interface{})
	assert.Equal(t, "pub-1", result["publisherId"])
}

func TestHandleMigrate_UnknownPublisher(t *testing.T) {
	f := newAPIFixture(t)

	f.repo.On("RunMigration", mock.Anything, mock.Anything).Return(f.txMock)
	f.txMock.On("LockPublisher", "pub-missing").
		Return(nil, fmt.Errorf("%w: publisher pub-missing", apperrors.ErrNotFound))

	resp, err := http.Post(f.server.URL+"/publishers/pub-missing/migrate", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandleReviewQueue(t *testing.T) {
	f := newAPIFixture(t)

	f.repo.On("FindProcessingLogsByStatus", mock.Anything, model.LogStatusNeedsReview, 50).
		Return([]model.ProcessingLogEntry{
			{ID: "log-1", Status: model.LogStatusNeedsReview},
		}, nil)

	resp, err := http.Get(f.server.URL + "/intake/review-queue")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	entries := out["entries"].([]interface{})
	assert.Len(t, entries, 1)
}

func TestHandlePollerRun_NotConfigured(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.server.URL+"/poller/run", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestRequestIDContextMiddleware(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")

	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := middleware.RequestID(requestIDContext(inner))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, captured)
}
