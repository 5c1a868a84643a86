package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/model"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/outreach"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// CampaignPollResult is the per-campaign slice of a poll run.
type CampaignPollResult struct {
	CampaignID string   `json:"campaignId"`
	Prospects  int      `json:"prospects"`
	Replied    int      `json:"replied"`
	Processed  int      `json:"processed"`
	Skipped    int      `json:"skipped"`
	Errors     int      `json:"errors"`
	ErrorList  []string `json:"errorList,omitempty"`
}

// PollSummary aggregates one whole poll run.
type PollSummary struct {
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Campaigns  []CampaignPollResult `json:"campaigns"`
}

// Poller periodically sweeps configured outreach campaigns for replied
// prospects the webhook path missed. Campaigns fan out over a worker pool;
// prospects within one campaign run sequentially, so each dedup check sees
// the entries written earlier in the same sweep.
type Poller struct {
	intake      *IntakeService
	provider    outreach.Provider
	campaignIDs []string
	pool        *ants.PoolWithFunc
	running     atomic.Bool

	mu      sync.Mutex
	wg      *sync.WaitGroup
	results map[string]*CampaignPollResult
	runCtx  context.Context
}

type campaignTask struct {
	campaignID string
}

// NewPoller builds the poller and its campaign worker pool.
func NewPoller(intake *IntakeService, provider outreach.Provider, pollerCfg config.PollerConfig, poolCfg config.PollerWorkerPoolConfig) (*Poller, error) {
	p := &Poller{
		intake:      intake,
		provider:    provider,
		campaignIDs: pollerCfg.CampaignIDs,
	}

	poolSize := poolCfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	expiry := poolCfg.ExpiryTime
	if expiry <= 0 {
		expiry = time.Minute
	}

	pool, err := ants.NewPoolWithFunc(poolSize, func(i interface{}) {
		task, ok := i.(campaignTask)
		if !ok {
			logger.Log.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		defer p.wg.Done()
		result := p.pollCampaign(p.runCtx, task.campaignID)
		p.mu.Lock()
		p.results[task.campaignID] = result
		p.mu.Unlock()
	},
		ants.WithExpiryDuration(expiry),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(poolCfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			logger.Log.Error("Panic recovered in poller worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Close releases the worker pool.
func (p *Poller) Close() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Run executes one poll sweep. Overlapping runs are refused with ErrConflict:
// the scheduler may fire again before a slow sweep finishes, and two sweeps
// racing the same campaign would defeat the sequential dedup guarantee.
func (p *Poller) Run(ctx context.Context) (*PollSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: poll already in progress", apperrors.ErrConflict)
	}
	defer p.running.Store(false)

	observer.SetPollerRunning(true)
	defer observer.SetPollerRunning(false)

	loggerCtx := logger.FromContext(ctx)
	summary := &PollSummary{StartedAt: utils.Now()}

	if len(p.campaignIDs) == 0 {
		loggerCtx.Warn("Poller ran with no campaigns configured")
		summary.FinishedAt = utils.Now()
		return summary, nil
	}

	var wg sync.WaitGroup
	p.mu.Lock()
	p.wg = &wg
	p.results = make(map[string]*CampaignPollResult, len(p.campaignIDs))
	p.runCtx = ctx
	p.mu.Unlock()

	for _, id := range p.campaignIDs {
		wg.Add(1)
		if err := p.pool.Invoke(campaignTask{campaignID: id}); err != nil {
			wg.Done()
			p.mu.Lock()
			p.results[id] = &CampaignPollResult{
				CampaignID: id,
				Errors:     1,
				ErrorList:  []string{fmt.Sprintf("failed to schedule campaign: %v", err)},
			}
			p.mu.Unlock()
		}
	}
	wg.Wait()

	// Deterministic order in the summary.
	ids := make([]string, 0, len(p.results))
	p.mu.Lock()
	for id := range p.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		summary.Campaigns = append(summary.Campaigns, *p.results[id])
	}
	p.mu.Unlock()

	summary.FinishedAt = utils.Now()
	loggerCtx.Info("Poll sweep finished",
		zap.Int("campaigns", len(summary.Campaigns)),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

// pollCampaign processes one campaign's replied prospects sequentially. An
// error on one prospect is recorded and the loop continues.
func (p *Poller) pollCampaign(ctx context.Context, campaignID string) *CampaignPollResult {
	loggerCtx := logger.FromContext(ctx).With(zap.String("campaign_id", campaignID))
	result := &CampaignPollResult{CampaignID: campaignID}

	prospects, err := p.provider.ListProspects(ctx, campaignID)
	if err != nil {
		loggerCtx.Error("Failed to list prospects", zap.Error(err))
		result.Errors++
		result.ErrorList = append(result.ErrorList, fmt.Sprintf("list prospects: %v", err))
		return result
	}
	result.Prospects = len(prospects)

	for _, prospect := range prospects {
		if !prospect.Replied {
			continue
		}
		result.Replied++

		outcome, err := p.pollProspect(ctx, campaignID, prospect)
		switch {
		case err != nil:
			result.Errors++
			result.ErrorList = append(result.ErrorList, fmt.Sprintf("prospect %s: %v", prospect.Email, err))
			observer.IncPollProspect(campaignID, "error")
			loggerCtx.Warn("Prospect processing failed",
				zap.String("prospect_email", prospect.Email),
				zap.Error(err))
		case outcome == "skipped":
			result.Skipped++
			observer.IncPollProspect(campaignID, "skipped")
		default:
			result.Processed++
			observer.IncPollProspect(campaignID, "processed")
		}
	}

	loggerCtx.Info("Campaign poll finished",
		zap.Int("prospects", result.Prospects),
		zap.Int("replied", result.Replied),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors))
	return result
}

// pollProspect handles one replied prospect: dedup pre-check, thread fetch,
// newest-reply selection, ingestion.
func (p *Poller) pollProspect(ctx context.Context, campaignID string, prospect outreach.Prospect) (string, error) {
	processed, err := p.intake.AlreadyProcessed(ctx, campaignID, prospect.Email)
	if err != nil {
		return "", fmt.Errorf("dedup check: %w", err)
	}
	if processed {
		return "skipped", nil
	}

	messages, err := p.provider.GetThread(ctx, campaignID, prospect.ID)
	if err != nil {
		return "", fmt.Errorf("fetch thread: %w", err)
	}

	reply := newestReply(messages)
	if reply == nil {
		return "", fmt.Errorf("prospect flagged replied but thread has no reply messages")
	}

	body := reply.Body
	if strings.TrimSpace(body) == "" {
		body = reply.HTMLBody
	}
	text := utils.StripHTML(body)
	if text == "" {
		return "", fmt.Errorf("reply message has no usable content")
	}

	name := strings.TrimSpace(prospect.FirstName + " " + prospect.LastName)
	ingestResult, err := p.intake.ingest(ctx, ingestInput{
		Source:            model.SourcePoller,
		CampaignID:        campaignID,
		SenderEmail:       strings.ToLower(strings.TrimSpace(prospect.Email)),
		SenderName:        name,
		Company:           prospect.Company,
		Subject:           reply.Subject,
		Text:              text,
		HTMLContent:       reply.HTMLBody,
		RawContent:        reply.Body,
		ProviderMessageID: reply.ID,
		WebsiteHint:       prospect.Website,
	})
	if err != nil {
		return "", err
	}
	if ingestResult.Deduplicated {
		return "skipped", nil
	}
	return "processed", nil
}

// newestReply picks the most recent reply-type message, by timestamp
// descending.
func newestReply(messages []outreach.ThreadMessage) *outreach.ThreadMessage {
	var newest *outreach.ThreadMessage
	for i := range messages {
		if !messages[i].IsReply() {
			continue
		}
		if newest == nil || messages[i].Timestamp.After(newest.Timestamp) {
			newest = &messages[i]
		}
	}
	return newest
}
