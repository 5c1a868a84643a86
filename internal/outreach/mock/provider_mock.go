package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/outreach"
)

// ProviderMock implements outreach.Provider for unit tests.
type ProviderMock struct {
	mock.Mock
}

func (m *ProviderMock) ListCampaigns(ctx context.Context) ([]outreach.Campaign, error) {
	args := m.Called(ctx)
	if campaigns, ok := args.Get(0).([]outreach.Campaign); ok {
		return campaigns, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProviderMock) ListProspects(ctx context.Context, campaignID string) ([]outreach.Prospect, error) {
	args := m.Called(ctx, campaignID)
	if prospects, ok := args.Get(0).([]outreach.Prospect); ok {
		return prospects, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProviderMock) GetThread(ctx context.Context, campaignID, prospectID string) ([]outreach.ThreadMessage, error) {
	args := m.Called(ctx, campaignID, prospectID)
	if messages, ok := args.Get(0).([]outreach.ThreadMessage); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
