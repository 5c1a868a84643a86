package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/cache"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/validator"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// extractionMethod names the parse pipeline version stamped on shadow rows.
const extractionMethod = "email_parse_v1"

// publisherSource names what created shadow publisher accounts.
const publisherSource = "email_extraction"

// IngestResult is what both ingestion paths report back to their caller.
type IngestResult struct {
	LogID        string          `json:"logId"`
	PublisherID  string          `json:"publisherId,omitempty"`
	Status       model.LogStatus `json:"status"`
	Deduplicated bool            `json:"deduplicated"`
}

// IntakeService runs the shared ingestion contract: dedup check, processing
// log creation, extraction, the confidence gate, and shadow creation. Both
// the webhook handler and the poller converge here.
type IntakeService struct {
	logs       storage.ProcessingLogRepository
	publishers storage.PublisherRepository
	shadows    storage.ShadowRepository
	gateway    extraction.Gateway
	events     events.Publisher
	dedup      *cache.DedupCache
	threshold  float64
	now        func() time.Time
}

// NewIntakeService wires the intake pipeline. The confidence threshold is the
// single policy constant both ingestion paths share.
func NewIntakeService(
	logs storage.ProcessingLogRepository,
	publishers storage.PublisherRepository,
	shadows storage.ShadowRepository,
	gateway extraction.Gateway,
	eventsPub events.Publisher,
	dedup *cache.DedupCache,
	threshold float64,
) *IntakeService {
	return &IntakeService{
		logs:       logs,
		publishers: publishers,
		shadows:    shadows,
		gateway:    gateway,
		events:     eventsPub,
		dedup:      dedup,
		threshold:  threshold,
		now:        utils.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *IntakeService) WithClock(now func() time.Time) *IntakeService {
	s.now = now
	return s
}

// IngestWebhook handles one provider-posted payload. Structural validation
// failures return ErrValidation without creating a log entry.
func (s *IntakeService) IngestWebhook(ctx context.Context, payload *model.InboundEmailPayload) (*IngestResult, error) {
	if err := validator.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	if !payload.HasBody() {
		return nil, fmt.Errorf("%w: payload has no message body", apperrors.ErrValidation)
	}

	text := strings.TrimSpace(payload.TextBody)
	if text == "" {
		text = utils.StripHTML(payload.HTMLBody)
	}

	return s.ingest(ctx, ingestInput{
		Source:            model.SourceWebhook,
		CampaignID:        payload.CampaignID,
		SenderEmail:       payload.NormalizedSender(),
		SenderName:        payload.SenderName,
		Company:           payload.Company,
		Subject:           payload.Subject,
		Text:              text,
		HTMLContent:       payload.HTMLBody,
		RawContent:        payload.TextBody,
		ProviderMessageID: payload.MessageID,
		WebsiteHint:       payload.WebsiteHint,
	})
}

// ingestInput is the normalized form both ingestion paths produce.
type ingestInput struct {
	Source            model.IngestionSource
	CampaignID        string
	SenderEmail       string
	SenderName        string
	Company           string
	Subject           string
	Text              string
	HTMLContent       string
	RawContent        string
	ProviderMessageID string
	WebsiteHint       string
}

// ingest creates the processing log entry (or reports the existing one) and
// runs evaluation. Duplicate-key writes from concurrent deliveries are a
// benign already-processed outcome, never an error to the caller.
func (s *IntakeService) ingest(ctx context.Context, in ingestInput) (*IngestResult, error) {
	loggerCtx := logger.FromContext(ctx)
	dedupKey := model.DedupKeyFor(in.CampaignID, in.SenderEmail, in.ProviderMessageID)

	if existing, found, err := s.findExisting(ctx, dedupKey); err != nil {
		return nil, err
	} else if found {
		observer.IncIntakeOutcome(string(in.Source), "deduplicated")
		loggerCtx.Debug("Skipping already-processed message",
			zap.String("dedup_key", dedupKey),
			zap.String("source", string(in.Source)))
		return existing, nil
	}

	rawContent := in.RawContent
	if rawContent == "" {
		rawContent = in.Text
	}

	entry := &model.ProcessingLogEntry{
		ID:                uuid.NewString(),
		DedupKey:          dedupKey,
		CampaignID:        in.CampaignID,
		SenderEmail:       in.SenderEmail,
		ProviderMessageID: in.ProviderMessageID,
		Subject:           in.Subject,
		RawContent:        rawContent,
		HTMLContent:       in.HTMLContent,
		Status:            model.LogStatusProcessing,
		Source:            in.Source,
		ReceivedAt:        s.now(),
	}

	if err := s.logs.SaveProcessingLog(ctx, entry); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// Lost the race against a concurrent delivery of the same message.
			observer.IncIntakeOutcome(string(in.Source), "deduplicated")
			if existing, found, findErr := s.findExisting(ctx, dedupKey); findErr == nil && found {
				return existing, nil
			}
			return &IngestResult{Status: model.LogStatusProcessing, Deduplicated: true}, nil
		}
		return nil, err
	}
	s.dedup.MarkProcessed(dedupKey)

	publisherID := s.Evaluate(ctx, entry, ingestMetadata{
		SenderName:  in.SenderName,
		Company:     in.Company,
		WebsiteHint: in.WebsiteHint,
		Text:        in.Text,
	})

	return &IngestResult{
		LogID:       entry.ID,
		PublisherID: publisherID,
		Status:      entry.Status,
	}, nil
}

// findExisting consults the store for an active entry under the dedup key.
// The cache only remembers positive answers; the store stays authoritative.
func (s *IntakeService) findExisting(ctx context.Context, dedupKey string) (*IngestResult, bool, error) {
	existing, err := s.logs.FindProcessingLogByDedupKey(ctx, dedupKey)
	if errors.Is(err, apperrors.ErrNotFound) {
		if s.dedup != nil {
			s.dedup.Invalidate(dedupKey)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if s.dedup != nil {
		s.dedup.MarkProcessed(dedupKey)
	}
	return &IngestResult{LogID: existing.ID, Status: existing.Status, Deduplicated: true}, true, nil
}

// SeenRecently lets the poller skip the store lookup for keys it has already
// processed in recent runs.
func (s *IntakeService) SeenRecently(dedupKey string) bool {
	return s.dedup != nil && s.dedup.Seen(dedupKey)
}

// AlreadyProcessed reports whether an active processing-log entry exists for
// the (campaign, sender) pair. The poller calls this before fetching a
// prospect's thread so skipped prospects cost nothing downstream.
func (s *IntakeService) AlreadyProcessed(ctx context.Context, campaignID, senderEmail string) (bool, error) {
	key := model.DedupKeyFor(campaignID, senderEmail, "")
	if s.SeenRecently(key) {
		return true, nil
	}
	_, found, err := s.findExisting(ctx, key)
	return found, err
}

// ingestMetadata carries optional context the extraction prompt can use.
type ingestMetadata struct {
	SenderName  string
	Company     string
	WebsiteHint string
	Text        string
}

// Evaluate runs extraction and the confidence gate on a freshly created log
// entry, then persists the outcome. It returns the shadow publisher id when
// one was created. Extraction and shadow-creation failures mark the entry
// failed but are not surfaced as errors: the ingestion itself succeeded.
func (s *IntakeService) Evaluate(ctx context.Context, entry *model.ProcessingLogEntry, meta ingestMetadata) string {
	loggerCtx := logger.FromContext(ctx)
	startTime := s.now()

	finish := func(outcome string) {
		processedAt := s.now()
		entry.ProcessedAt = &processedAt
		entry.ProcessingDurationMs = processedAt.Sub(startTime).Milliseconds()
		if err := s.logs.UpdateProcessingLog(ctx, entry); err != nil {
			loggerCtx.Error("Failed to persist evaluation outcome",
				zap.String("log_id", entry.ID),
				zap.Error(err))
		}
		if entry.Status == model.LogStatusFailed && s.dedup != nil {
			// A failed entry no longer blocks the dedup key.
			s.dedup.Invalidate(entry.DedupKey)
		}
		observer.IncIntakeOutcome(string(entry.Source), outcome)
	}

	metadata := map[string]string{}
	if meta.SenderName != "" {
		metadata["Prospect name"] = meta.SenderName
	}
	if meta.Company != "" {
		metadata["Company"] = meta.Company
	}
	if meta.WebsiteHint != "" {
		metadata["Website hint"] = meta.WebsiteHint
	}

	text := meta.Text
	if text == "" {
		text = entry.RawContent
	}

	result, err := s.gateway.Parse(ctx, extraction.ParseRequest{
		Text:        text,
		SenderEmail: entry.SenderEmail,
		Subject:     entry.Subject,
		Metadata:    metadata,
	})
	if err != nil {
		// Terminal for this message; the entry stays as the audit record.
		entry.Status = model.LogStatusFailed
		entry.ErrorMessage = err.Error()
		finish("extraction_failed")
		return ""
	}

	entry.ParsedResult = datatypes.JSON(utils.MustMarshalJSON(result))
	confidence := result.OverallConfidence
	entry.Confidence = &confidence

	if confidence < s.threshold {
		entry.Status = model.LogStatusNeedsReview
		observer.IncShadowCreation("needs_review")
		finish("needs_review")
		return ""
	}

	entry.Status = model.LogStatusParsed
	publisherID, createErr := s.createShadow(ctx, entry, result, meta.WebsiteHint)
	if createErr != nil {
		// Extraction succeeded but materialization did not; keep the parsed
		// result so nothing is lost.
		entry.Status = model.LogStatusFailed
		entry.ErrorMessage = createErr.Error()
		observer.IncShadowCreation("failed")
		finish("shadow_creation_failed")
		return ""
	}

	observer.IncShadowCreation("created")
	finish("parsed")
	return publisherID
}

// createShadow materializes the tentative publisher identity and one shadow
// relationship per distinct website hint.
func (s *IntakeService) createShadow(ctx context.Context, entry *model.ProcessingLogEntry, result *extraction.ExtractionResultV1, websiteHint string) (string, error) {
	loggerCtx := logger.FromContext(ctx)

	email := strings.ToLower(strings.TrimSpace(result.Publisher.Email))
	if email == "" {
		email = entry.SenderEmail
	}

	candidate := &model.Publisher{
		ID:              uuid.NewString(),
		Email:           email,
		ContactName:     result.Publisher.ContactName,
		CompanyName:     result.Publisher.CompanyName,
		AccountStatus:   model.AccountStatusShadow,
		ConfidenceScore: result.OverallConfidence,
		Source:          publisherSource,
	}
	publisher, created, err := s.publishers.FindOrCreatePublisherByEmail(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("create shadow publisher: %w", err)
	}
	if !created && result.OverallConfidence > publisher.ConfidenceScore {
		// Existing shadow account with a weaker score; the new extraction is
		// stronger evidence, so raise the stored score. Best effort only, a
		// failed update never blocks shadow creation.
		publisher.ConfidenceScore = result.OverallConfidence
		if updateErr := s.publishers.UpdatePublisher(ctx, publisher); updateErr != nil {
			loggerCtx.Warn("Failed to raise publisher confidence score",
				zap.String("publisher_id", publisher.ID),
				zap.String("email", email),
				zap.Error(updateErr))
		}
	}

	offeringsPayload := datatypes.JSON(utils.MustMarshalJSON(result.Offerings))

	domains := dedupeDomains(result.WebsiteHints, websiteHint, senderDomain(entry.SenderEmail))
	if len(domains) == 0 {
		return "", fmt.Errorf("%w: no website hint for shadow relationship", apperrors.ErrValidation)
	}

	for _, domain := range domains {
		website, _, err := s.publishers.FindOrCreateWebsiteByDomain(ctx, &model.Website{
			ID:     uuid.NewString(),
			Domain: domain,
		})
		if err != nil {
			return "", fmt.Errorf("create website %s: %w", domain, err)
		}

		rel := &model.ShadowRelationship{
			ID:               uuid.NewString(),
			PublisherID:      publisher.ID,
			WebsiteID:        website.ID,
			Confidence:       result.OverallConfidence,
			ExtractionSource: string(entry.Source),
			ExtractionMethod: extractionMethod,
			Verified:         false,
			MigrationStatus:  model.MigrationStatusPending,
			OfferingsPayload: offeringsPayload,
			ProcessingLogID:  entry.ID,
		}
		if err := s.shadows.SaveShadowRelationship(ctx, rel); err != nil {
			return "", fmt.Errorf("create shadow relationship for %s: %w", domain, err)
		}

		if pubErr := s.events.PublishShadowCreated(ctx, events.ShadowCreatedEvent{
			PublisherID:     publisher.ID,
			WebsiteID:       website.ID,
			ProcessingLogID: entry.ID,
			Confidence:      result.OverallConfidence,
			Source:          string(entry.Source),
			CreatedAt:       s.now(),
		}); pubErr != nil {
			loggerCtx.Warn("Shadow created but event publish failed",
				zap.String("publisher_id", publisher.ID),
				zap.Error(pubErr))
		}
	}

	return publisher.ID, nil
}

// dedupeDomains normalizes and de-duplicates website hints, preserving order.
// Free mailbox domains never become shadow websites.
func dedupeDomains(hints []string, extra ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range append(append([]string{}, hints...), extra...) {
		d := normalizeDomain(h)
		if d == "" || freeMailDomains[d] || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"aol.com":        true,
	"icloud.com":     true,
	"protonmail.com": true,
	"proton.me":      true,
}

func normalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if !strings.Contains(d, ".") {
		return ""
	}
	return d
}

func senderDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return ""
}
