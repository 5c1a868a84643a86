package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/security"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/usecase"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// maxWebhookBodyBytes caps the inbound webhook body size.
const maxWebhookBodyBytes = 1 << 20

// Headers the outreach providers attach to webhook deliveries.
const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
	headerWebhookID = "X-Webhook-Id"
)

// Handler serves the intake API: the provider-facing webhook endpoint plus
// the operational endpoints for migration, polling and the review queue.
type Handler struct {
	gate      *security.Gate
	intake    *usecase.IntakeService
	migration *usecase.MigrationService
	poller    *usecase.Poller
	logs      storage.ProcessingLogRepository
	audits    storage.SecurityAuditRepository
}

// NewHandler wires the HTTP handler set.
func NewHandler(gate *security.Gate, intake *usecase.IntakeService, migration *usecase.MigrationService, poller *usecase.Poller, logs storage.ProcessingLogRepository, audits storage.SecurityAuditRepository) *Handler {
	return &Handler{
		gate:      gate,
		intake:    intake,
		migration: migration,
		poller:    poller,
		logs:      logs,
		audits:    audits,
	}
}

// HandleWebhook receives one inbound reply email from an outreach provider.
// The security gate runs before the body is even parsed; a malformed payload
// after an allowed gate decision is the caller's 400, not a security event.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	loggerCtx := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	if err := h.gate.Authorize(r.Context(), security.Request{
		Provider:   chi.URLParam(r, "provider"),
		PathSecret: chi.URLParam(r, "secret"),
		Signature:  r.Header.Get(headerSignature),
		Timestamp:  r.Header.Get(headerTimestamp),
		CallerIP:   callerIP(r),
		UserAgent:  r.UserAgent(),
		WebhookID:  r.Header.Get(headerWebhookID),
		Body:       body,
	}); err != nil {
		writeAppError(w, err)
		return
	}

	var payload model.InboundEmailPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "malformed JSON payload")
		return
	}

	result, err := h.intake.IngestWebhook(r.Context(), &payload)
	if err != nil {
		loggerCtx.Error("Webhook ingestion failed",
			zap.String("provider", chi.URLParam(r, "provider")),
			zap.Error(err))
		writeAppError(w, err)
		return
	}

	// Flat response shape: providers key off top-level fields.
	resp := map[string]interface{}{
		"success":      true,
		"logId":        result.LogID,
		"status":       result.Status,
		"deduplicated": result.Deduplicated,
	}
	if result.PublisherID != "" {
		resp["publisherId"] = result.PublisherID
	}
	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// HandleWebhookProbe answers the provider's endpoint verification GET. Only
// the path secret is checked.
func (h *Handler) HandleWebhookProbe(w http.ResponseWriter, r *http.Request) {
	if !h.gate.VerifyPathSecret(chi.URLParam(r, "secret")) {
		utils.WriteJSONError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleMigrate runs the shadow migration for one publisher.
func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	publisherID := chi.URLParam(r, "id")
	result, err := h.migration.Migrate(r.Context(), publisherID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// HandleMigrateRetry resets failed migration rows and re-runs the migration.
func (h *Handler) HandleMigrateRetry(w http.ResponseWriter, r *http.Request) {
	publisherID := chi.URLParam(r, "id")
	result, err := h.migration.Retry(r.Context(), publisherID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// HandlePollerRun triggers one poll cycle and returns the per-campaign
// summary. A cycle already in flight answers 409.
func (h *Handler) HandlePollerRun(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		utils.WriteJSONError(w, http.StatusServiceUnavailable, "poller is not configured")
		return
	}
	summary, err := h.poller.Run(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": summary,
	})
}

// HandleReviewQueue lists entries parked below the confidence threshold.
func (h *Handler) HandleReviewQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.logs.FindProcessingLogsByStatus(r.Context(), model.LogStatusNeedsReview, queryLimit(r, 50))
	if err != nil {
		writeAppError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

// HandleSecurityAudits lists the most recent gate decisions.
func (h *Handler) HandleSecurityAudits(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audits.FindRecentSecurityAudits(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeAppError(w, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

// writeAppError maps the application error taxonomy onto HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrAuthentication):
		utils.WriteJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, apperrors.ErrSecurityPolicy):
		utils.WriteJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrBadRequest):
		utils.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		utils.WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		utils.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		utils.WriteJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// callerIP returns the request's source IP without the port. chi's RealIP
// middleware has already folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func callerIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
