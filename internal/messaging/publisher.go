package messaging

import (
	"context"

	"github.com/leadlift/attribution/internal/domain"
)

// Subjects for outbound pipeline events. Downstream sync and billing
// consumers bind to these names.
const (
	SubjectLeadAdded       = "data_sync_leads"
	SubjectCreditsCharging = "credits_charging"
)

// Publisher defines the interface for publishing pipeline events to the
// message queue
type Publisher interface {
	// PublishLeadAdded announces a new or advanced lead to downstream consumers
	PublishLeadAdded(ctx context.Context, event *domain.LeadAddedEvent) error
	// PublishCreditsCharging asks billing to top up a tenant account
	PublishCreditsCharging(ctx context.Context, event *domain.CreditsChargingEvent) error
	// Close closes the connection
	Close()
}
