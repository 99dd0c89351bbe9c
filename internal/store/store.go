package store

import (
	"context"
	"time"

	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/session"
	"github.com/leadlift/attribution/internal/store/schema"
	"github.com/leadlift/attribution/internal/suppression"
)

// ApplyPageEventInput carries one resolved, gated, non-suppressed page event
// into the store. PageURL must already be normalized.
type ApplyPageEventInput struct {
	SourceKey   string
	DomainID    uint64
	PageURL     string
	RequestedAt time.Time
	Action      domain.Action
	Session     session.Config
	// RechargeThreshold is the balance step at which auto-recharging tenants
	// get a top-up event (default 100)
	RechargeThreshold int64
}

// ApplyPageEventResult reports what one committed event changed, so the
// pipeline can publish the right messages after commit.
type ApplyPageEventResult struct {
	LeadID       uint64
	LeadCreated  bool
	BehaviorType domain.BehaviorType
	// BehaviorAdvanced is set when this event moved the lead's funnel stage
	// forward
	BehaviorAdvanced bool
	// Duplicate is set when the request already existed; nothing was mutated
	Duplicate bool
	// Charged is set when a ledger entry was written and the balance debited
	Charged bool
	// Balance is the tenant's post-event credit balance (meaningful only when
	// Charged is set)
	Balance int64
	// TopUpNeeded is set when the debit crossed the recharge threshold
	TopUpNeeded bool
}

// Store defines the interface for database operations
type Store interface {
	// GetVisitorByUpID retrieves a visitor record by its direct key
	GetVisitorByUpID(ctx context.Context, upID string) (*schema.Visitor, error)
	// FindVisitorsByEmailHash retrieves visitor candidates for a hashed email,
	// newest insertion first
	FindVisitorsByEmailHash(ctx context.Context, emailHash string) ([]schema.Visitor, error)
	// GetVisitorEmails returns the distinct plain-text emails known for a
	// source key
	GetVisitorEmails(ctx context.Context, sourceKey string) ([]string, error)

	// GetTenantByClientID retrieves a tenant by its external client id
	GetTenantByClientID(ctx context.Context, clientID string) (*schema.Tenant, error)
	// HasActiveSubscription reports whether the tenant has an active plan at
	// the given instant
	HasActiveSubscription(ctx context.Context, domainID uint64, at time.Time) (bool, error)

	// GetSuppressionPolicy loads the tenant's full suppression bundle
	GetSuppressionPolicy(ctx context.Context, domainID uint64) (suppression.Policy, error)

	// GetLeadBySourceKey retrieves a lead by (source key, tenant)
	GetLeadBySourceKey(ctx context.Context, sourceKey string, domainID uint64) (*schema.Lead, error)

	// ApplyPageEvent commits one event's full side-effect set - request insert,
	// visit stitch, lead aggregates, behavior advance, side records, credit
	// charge - as a single transaction
	ApplyPageEvent(ctx context.Context, input ApplyPageEventInput) (*ApplyPageEventResult, error)

	// GetIngestCheckpoint retrieves the last committed object key for a prefix
	GetIngestCheckpoint(ctx context.Context, prefix string) (string, error)
	// SetIngestCheckpoint stores the last committed object key for a prefix
	SetIngestCheckpoint(ctx context.Context, prefix string, objectKey string) error
}
