package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction"
)

// GatewayMock implements extraction.Gateway for unit tests.
type GatewayMock struct {
	mock.Mock
}

func (m *GatewayMock) Parse(ctx context.Context, req extraction.ParseRequest) (*extraction.ExtractionResultV1, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*extraction.ExtractionResultV1); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}
