// Package jetstream publishes pipeline events over NATS JetStream. Every
// message carries a deterministic Nats-Msg-Id so a replayed pipeline run
// deduplicates on the broker instead of double-notifying consumers.
package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/leadlift/attribution/internal/adapter"
	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/logger"
	"github.com/leadlift/attribution/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON
}

// NewPublisher creates a NATS JetStream publisher and declares the stream the
// pipeline publishes to
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{messaging.SubjectLeadAdded, messaging.SubjectCreditsCharging},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to declare stream: %w", err)
	}

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		json:       jsonAdapter,
	}, nil
}

// PublishLeadAdded announces a new or advanced lead
func (p *publisher) PublishLeadAdded(ctx context.Context, event *domain.LeadAddedEvent) error {
	msgID := fmt.Sprintf("lead:%d:%d:%s", event.DomainID, event.Lead.ID, event.LeadsType)
	return p.publish(ctx, messaging.SubjectLeadAdded, msgID, event)
}

// PublishCreditsCharging asks billing to top up a tenant account
func (p *publisher) PublishCreditsCharging(ctx context.Context, event *domain.CreditsChargingEvent) error {
	msgID := fmt.Sprintf("credits:%d:%d", event.TenantID, event.Balance)
	return p.publish(ctx, messaging.SubjectCreditsCharging, msgID, event)
}

func (p *publisher) publish(ctx context.Context, subject string, msgID string, event any) error {
	logger.Debug("Publishing Nats event", zap.String("subject", subject), zap.Any("event", event))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data, natsjs.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
