package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
)

// Provider is the slice of the outreach platform's API the poller consumes.
type Provider interface {
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	ListProspects(ctx context.Context, campaignID string) ([]Prospect, error)
	GetThread(ctx context.Context, campaignID, prospectID string) ([]ThreadMessage, error)
}

// HTTPDoer abstracts *http.Client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the HTTP client for the outreach provider API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPDoer
}

// NewClient creates an outreach API client from configuration.
func NewClient(cfg config.OutreachConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated GET against the provider API.
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("outreach API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// ListCampaigns retrieves all campaigns visible to the API key.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	body, err := c.doRequest(ctx, "/api/v1/campaigns", nil)
	if err != nil {
		return nil, err
	}

	var parsed campaignListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse campaign list: %w", err)
	}
	return parsed.Campaigns, nil
}

// ListProspects retrieves the full prospect list for one campaign, paging
// through the provider's limit/offset windows.
func (c *Client) ListProspects(ctx context.Context, campaignID string) ([]Prospect, error) {
	const pageSize = 200

	var all []Prospect
	offset := 0
	for {
		params := url.Values{}
		params.Set("limit", fmt.Sprintf("%d", pageSize))
		params.Set("offset", fmt.Sprintf("%d", offset))

		body, err := c.doRequest(ctx, fmt.Sprintf("/api/v1/campaigns/%s/prospects", url.PathEscape(campaignID)), params)
		if err != nil {
			return nil, err
		}

		var parsed prospectListResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse prospect list: %w", err)
		}
		all = append(all, parsed.Prospects...)

		if len(parsed.Prospects) < pageSize {
			return all, nil
		}
		offset += pageSize
	}
}

// GetThread retrieves the message thread for one prospect.
func (c *Client) GetThread(ctx context.Context, campaignID, prospectID string) ([]ThreadMessage, error) {
	endpoint := fmt.Sprintf("/api/v1/campaigns/%s/prospects/%s/thread",
		url.PathEscape(campaignID), url.PathEscape(prospectID))

	body, err := c.doRequest(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var parsed threadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse message thread: %w", err)
	}
	return parsed.Messages, nil
}
