package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// Domain event payloads published for downstream consumers (CRM sync,
// notifications). Publishing is best-effort: a NATS outage never fails the
// pipeline operation that produced the event.

// ShadowCreatedEvent is emitted when the confidence gate creates a shadow
// relationship.
type ShadowCreatedEvent struct {
	PublisherID     string    `json:"publisher_id"`
	WebsiteID       string    `json:"website_id"`
	ProcessingLogID string    `json:"processing_log_id"`
	Confidence      float64   `json:"confidence"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// MigrationCompletedEvent is emitted after migrate() finishes for a publisher.
type MigrationCompletedEvent struct {
	PublisherID          string    `json:"publisher_id"`
	WebsitesMigrated     int       `json:"websites_migrated"`
	OfferingsActivated   int       `json:"offerings_activated"`
	RelationshipsCreated int       `json:"relationships_created"`
	Skipped              int       `json:"skipped"`
	Failed               int       `json:"failed"`
	CompletedAt          time.Time `json:"completed_at"`
}

// Publisher emits pipeline domain events.
type Publisher interface {
	PublishShadowCreated(ctx context.Context, event ShadowCreatedEvent) error
	PublishMigrationCompleted(ctx context.Context, event MigrationCompletedEvent) error
	Close()
}

// NatsPublisher publishes events to a JetStream stream.
type NatsPublisher struct {
	nc            *nats.Conn
	js            nats.JetStreamContext
	subjectPrefix string
}

// NewNatsPublisher connects to NATS and ensures the event stream exists.
func NewNatsPublisher(cfg config.NATSConfig) (*NatsPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NatsPublisher{
		nc:            nc,
		js:            js,
		subjectPrefix: cfg.SubjectPrefix,
	}

	if err := p.setupStream(cfg); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *NatsPublisher) setupStream(cfg config.NATSConfig) error {
	streamConfig := &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	}

	_, err := p.js.StreamInfo(streamConfig.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamConfig.Name, err)
	}

	if _, err := p.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to add stream '%s': %w", streamConfig.Name, err)
	}
	logger.Log.Info("Created stream",
		zap.String("name", streamConfig.Name),
		zap.Any("subjects", streamConfig.Subjects))
	return nil
}

func (p *NatsPublisher) publish(ctx context.Context, subject string, payload any) error {
	data := utils.MustMarshalJSON(payload)

	_, err := p.js.Publish(subject, data, nats.Context(ctx))
	observer.IncEventPublished(subject, err)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *NatsPublisher) PublishShadowCreated(ctx context.Context, event ShadowCreatedEvent) error {
	return p.publish(ctx, p.subjectPrefix+".shadow.created", event)
}

func (p *NatsPublisher) PublishMigrationCompleted(ctx context.Context, event MigrationCompletedEvent) error {
	return p.publish(ctx, p.subjectPrefix+".migration.completed", event)
}

// Close drains the connection.
func (p *NatsPublisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		if err := p.nc.Drain(); err != nil {
			logger.Log.Warn("Error draining NATS connection", zap.Error(err))
		}
	}
}

// NoopPublisher is used when NATS is disabled in configuration.
type NoopPublisher struct{}

func (NoopPublisher) PublishShadowCreated(ctx context.Context, event ShadowCreatedEvent) error {
	return nil
}

func (NoopPublisher) PublishMigrationCompleted(ctx context.Context, event MigrationCompletedEvent) error {
	return nil
}

func (NoopPublisher) Close() {}
