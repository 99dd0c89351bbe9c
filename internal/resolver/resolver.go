// Package resolver maps raw sync events to stable source identities. An event
// carries either a direct visitor key or a hashed email, and resolution turns
// that into the source key leads are scoped by.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/logger"
	"github.com/leadlift/attribution/internal/store"
)

// AmbiguityPolicy decides what to do when a hashed email maps to more than
// one visitor.
type AmbiguityPolicy string

const (
	// AmbiguityDrop skips the event entirely. This is the default: attributing
	// a session to the wrong person is worse than losing the session.
	AmbiguityDrop AmbiguityPolicy = "drop"
	// AmbiguityNewest picks the most recently seen visitor
	AmbiguityNewest AmbiguityPolicy = "newest"
)

// IsValid checks if the policy is one of the known values
func (p AmbiguityPolicy) IsValid() bool {
	return p == AmbiguityDrop || p == AmbiguityNewest
}

// Resolver resolves raw sync events to source identities
type Resolver struct {
	store  store.Store
	policy AmbiguityPolicy
}

// NewResolver creates a resolver with the given ambiguity policy. An unknown
// policy falls back to drop.
func NewResolver(s store.Store, policy AmbiguityPolicy) *Resolver {
	if !policy.IsValid() {
		policy = AmbiguityDrop
	}
	return &Resolver{store: s, policy: policy}
}

// Resolve maps an event to a source identity. A nil identity with a nil error
// means the event is unresolvable and should be skipped; errors are reserved
// for storage failures.
func (r *Resolver) Resolve(ctx context.Context, event *domain.RawSyncEvent) (*domain.Identity, error) {
	if event.UpID != "" {
		visitor, err := r.store.GetVisitorByUpID(ctx, event.UpID)
		if err != nil {
			return nil, err
		}
		if visitor == nil {
			logger.DebugCtx(ctx, "no visitor for up_id", zap.String("up_id", event.UpID))
			return nil, nil
		}
		return &domain.Identity{
			SourceKey:   visitor.SourceKey,
			HashedEmail: visitor.EmailHash,
		}, nil
	}

	if event.HashedEmail == "" {
		logger.DebugCtx(ctx, "event carries no identity material")
		return nil, nil
	}

	visitors, err := r.store.FindVisitorsByEmailHash(ctx, event.HashedEmail)
	if err != nil {
		return nil, err
	}
	switch {
	case len(visitors) == 0:
		logger.DebugCtx(ctx, "no visitor for hashed email")
		return nil, nil
	case len(visitors) > 1 && r.policy != AmbiguityNewest:
		logger.DebugCtx(ctx, "ambiguous hashed email, dropping event",
			zap.Int("candidates", len(visitors)))
		return nil, nil
	}

	// Candidates come back newest first
	visitor := visitors[0]
	return &domain.Identity{
		SourceKey:   visitor.SourceKey,
		HashedEmail: visitor.EmailHash,
	}, nil
}
