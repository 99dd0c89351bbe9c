// Package gate admits or rejects raw sync events before any lead work
// happens: the partner context must decode, the tenant must exist, and the
// tenant must hold an active subscription.
package gate

import (
	"context"

	"go.uber.org/zap"

	"github.com/leadlift/attribution/internal/adapter"
	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/logger"
	"github.com/leadlift/attribution/internal/store"
	"github.com/leadlift/attribution/internal/store/schema"
)

// Admission is the tenant and page context of an admitted event
type Admission struct {
	Tenant *schema.Tenant
	// PageURL is the normalized page the event happened on
	PageURL string
	// Action is the page-derived behavior action
	Action domain.Action
}

// Gate screens events against tenant registration and subscription state
type Gate struct {
	store store.Store
	clock adapter.Clock
}

// NewGate creates an event gate
func NewGate(s store.Store, clock adapter.Clock) *Gate {
	return &Gate{store: s, clock: clock}
}

// Admit checks one event. A nil admission with a nil error means the event is
// rejected and should be skipped; errors are reserved for storage failures.
func (g *Gate) Admit(ctx context.Context, event *domain.RawSyncEvent) (*Admission, error) {
	pc, err := domain.DecodePartnerContext(event.PartnerUID)
	if err != nil {
		logger.DebugCtx(ctx, "undecodable partner context", zap.Error(err))
		return nil, nil
	}

	page := event.CurrentPage(pc)
	if page == "" {
		logger.DebugCtx(ctx, "event carries no page", zap.String("client_id", pc.ClientID))
		return nil, nil
	}
	page = domain.NormalizePageURL(page)

	tenant, err := g.store.GetTenantByClientID(ctx, pc.ClientID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		logger.DebugCtx(ctx, "unknown client id", zap.String("client_id", pc.ClientID))
		return nil, nil
	}

	active, err := g.store.HasActiveSubscription(ctx, tenant.DomainID, g.clock.Now())
	if err != nil {
		return nil, err
	}
	if !active {
		logger.DebugCtx(ctx, "tenant has no active subscription",
			zap.Uint64("domain_id", tenant.DomainID))
		return nil, nil
	}

	return &Admission{
		Tenant:  tenant,
		PageURL: page,
		Action:  domain.ActionForPage(page),
	}, nil
}
