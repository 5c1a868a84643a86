package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
)

// PublisherMock implements events.Publisher for unit tests.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishShadowCreated(ctx context.Context, event events.ShadowCreatedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *PublisherMock) PublishMigrationCompleted(ctx context.Context, event events.MigrationCompletedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() {
	m.Called()
}
