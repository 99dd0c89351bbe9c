// Package pipeline drives the batch attribution loop: pull the next export
// partition, resolve and gate every event, apply the survivors to the store,
// publish the outcomes, and only then advance the checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/leadlift/attribution/internal/adapter"
	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/gate"
	"github.com/leadlift/attribution/internal/logger"
	"github.com/leadlift/attribution/internal/messaging"
	"github.com/leadlift/attribution/internal/session"
	"github.com/leadlift/attribution/internal/storage"
	"github.com/leadlift/attribution/internal/store"
	"github.com/leadlift/attribution/internal/suppression"
)

// BatchReader supplies export partitions in checkpoint order
type BatchReader interface {
	// Prefix returns the bucket prefix the reader enumerates, which scopes the
	// checkpoint key
	Prefix() string
	// NextBatch returns the earliest unprocessed partition after the checkpoint
	NextBatch(ctx context.Context, checkpoint string) (*storage.Batch, error)
}

// IdentityResolver maps raw events to source identities
type IdentityResolver interface {
	Resolve(ctx context.Context, event *domain.RawSyncEvent) (*domain.Identity, error)
}

// EventGate screens events against tenant and subscription state
type EventGate interface {
	Admit(ctx context.Context, event *domain.RawSyncEvent) (*gate.Admission, error)
}

// Config holds the pipeline loop configuration
type Config struct {
	// PollInterval is how long to idle when the exporter has nothing new
	PollInterval time.Duration
	// Session configures visit stitching
	Session session.Config
	// RechargeThreshold is the balance step for top-up events
	RechargeThreshold int64
}

func (c Config) normalize() Config {
	if c.PollInterval == 0 {
		c.PollInterval = domain.DefaultPollInterval
	}
	if c.RechargeThreshold == 0 {
		c.RechargeThreshold = domain.DefaultRechargeThreshold
	}
	c.Session = c.Session.Normalize()
	return c
}

// Runner is the long-running pipeline loop. Start blocks until the context is
// canceled or Stop is called.
type Runner struct {
	config    Config
	reader    BatchReader
	resolver  IdentityResolver
	gate      EventGate
	store     store.Store
	publisher messaging.Publisher
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewRunner creates a pipeline runner
func NewRunner(
	cfg Config,
	reader BatchReader,
	resolver IdentityResolver,
	eventGate EventGate,
	st store.Store,
	publisher messaging.Publisher,
	clock adapter.Clock,
) *Runner {
	return &Runner{
		config:    cfg.normalize(),
		reader:    reader,
		resolver:  resolver,
		gate:      eventGate,
		store:     st,
		publisher: publisher,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the runner's name for logging and identification
func (r *Runner) Name() string {
	return "attribution-pipeline"
}

// Start begins the pipeline's main loop
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer func() {
		r.running.Store(false)
		close(r.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting attribution pipeline",
		zap.String("prefix", r.reader.Prefix()),
		zap.Duration("poll_interval", r.config.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Pipeline stopping due to context cancellation", zap.Error(ctx.Err()))
			return nil
		case <-r.stopChan:
			logger.InfoCtx(ctx, "Pipeline stop requested")
			return nil
		default:
			err := r.runCycle(ctx)
			switch {
			case err == nil:
				// Immediately try the next partition
			case errors.Is(err, domain.ErrNoNewPartition):
				r.idle(ctx, r.config.PollInterval)
			case errors.Is(err, context.Canceled):
				// Loop back and exit through the ctx.Done branch
			default:
				logger.ErrorCtx(ctx, err)
				r.idle(ctx, r.config.PollInterval)
			}
		}
	}
}

// Stop gracefully stops the pipeline with timeout support
func (r *Runner) Stop(ctx context.Context) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.InfoCtx(ctx, "Stopping attribution pipeline")
	close(r.stopChan)

	select {
	case <-r.stoppedCh:
		logger.InfoCtx(ctx, "Pipeline stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Pipeline stop interrupted by context timeout")
		return ctx.Err()
	}
}

// idle sleeps until the poll interval elapses, the context cancels, or a stop
// is requested
func (r *Runner) idle(ctx context.Context, d time.Duration) {
	select {
	case <-r.clock.After(d):
	case <-ctx.Done():
	case <-r.stopChan:
	}
}

// runCycle processes exactly one partition. The checkpoint only moves after
// every event in the partition is either committed or deliberately skipped, so
// a crash mid-partition replays it and the per-event idempotence guards absorb
// the duplicates.
func (r *Runner) runCycle(ctx context.Context) error {
	checkpoint, err := r.store.GetIngestCheckpoint(ctx, r.reader.Prefix())
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	batch, err := r.reader.NextBatch(ctx, checkpoint)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	log := logger.FromContext(ctx).With(
		zap.String("run_id", runID),
		zap.String("partition", batch.Partition),
	)
	if hour, ok := storage.PartitionTime(batch.Partition); ok {
		log = log.With(zap.Duration("partition_lag", r.clock.Since(hour)))
	}
	log.Info("Processing partition", zap.Int("events", len(batch.Events)))

	stats := struct {
		applied, skipped, duplicates, created int
	}{}
	policies := map[uint64]suppression.Policy{}

	for i := range batch.Events {
		event := &batch.Events[i]
		result, err := r.processEvent(ctx, event, policies)
		if err != nil {
			return fmt.Errorf("failed to process event %s: %w", event.TrovoID, err)
		}
		switch {
		case result == nil:
			stats.skipped++
		case result.Duplicate:
			stats.duplicates++
		default:
			stats.applied++
			if result.LeadCreated {
				stats.created++
			}
		}
	}

	if err := r.store.SetIngestCheckpoint(ctx, r.reader.Prefix(), batch.LastKey); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	log.Info("Partition committed",
		zap.String("checkpoint", batch.LastKey),
		zap.Int("applied", stats.applied),
		zap.Int("created", stats.created),
		zap.Int("skipped", stats.skipped),
		zap.Int("duplicates", stats.duplicates),
	)
	return nil
}

// processEvent runs one event through the gate, resolver, suppression policy
// and store. A nil result with nil error means the event was skipped; errors
// are infrastructure failures that abort the cycle before the checkpoint
// moves.
func (r *Runner) processEvent(ctx context.Context, event *domain.RawSyncEvent, policies map[uint64]suppression.Policy) (*store.ApplyPageEventResult, error) {
	admission, err := r.gate.Admit(ctx, event)
	if err != nil {
		return nil, err
	}
	if admission == nil {
		return nil, nil
	}

	identity, err := r.resolver.Resolve(ctx, event)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, nil
	}

	domainID := admission.Tenant.DomainID

	// Suppression only guards lead creation. Once a lead exists its later
	// events bypass the policy and stitch normally.
	existing, err := r.store.GetLeadBySourceKey(ctx, identity.SourceKey, domainID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		policy, ok := policies[domainID]
		if !ok {
			policy, err = r.store.GetSuppressionPolicy(ctx, domainID)
			if err != nil {
				return nil, err
			}
			policies[domainID] = policy
		}

		emails, err := r.store.GetVisitorEmails(ctx, identity.SourceKey)
		if err != nil {
			return nil, err
		}

		if suppressed, reason := suppression.Evaluate(policy, emails, admission.PageURL); suppressed {
			logger.DebugCtx(ctx, "event suppressed",
				zap.String("source_key", identity.SourceKey),
				zap.Uint64("domain_id", domainID),
				zap.String("reason", string(reason)),
			)
			return nil, nil
		}
	}

	result, err := r.store.ApplyPageEvent(ctx, store.ApplyPageEventInput{
		SourceKey:         identity.SourceKey,
		DomainID:          domainID,
		PageURL:           admission.PageURL,
		RequestedAt:       event.EventDate,
		Action:            admission.Action,
		Session:           r.config.Session,
		RechargeThreshold: r.config.RechargeThreshold,
	})
	if err != nil {
		return nil, err
	}

	r.publishOutcomes(ctx, identity, domainID, result)
	return result, nil
}

// publishOutcomes emits the post-commit messages for one applied event.
// Publish failures are logged, not retried: the broker deduplicates by message
// id, so the next replay of the same state transition delivers the message.
func (r *Runner) publishOutcomes(ctx context.Context, identity *domain.Identity, domainID uint64, result *store.ApplyPageEventResult) {
	if result.Duplicate {
		return
	}

	if result.LeadCreated || result.BehaviorAdvanced {
		leadsType := domain.LeadsTypeBehavior
		if result.LeadCreated {
			leadsType = domain.LeadsTypeNew
		}
		err := r.publisher.PublishLeadAdded(ctx, &domain.LeadAddedEvent{
			DomainID:  domainID,
			LeadsType: leadsType,
			Lead: domain.LeadPayload{
				ID:             result.LeadID,
				SourceIdentity: identity.SourceKey,
			},
		})
		if err != nil {
			logger.ErrorCtx(ctx, err, zap.Uint64("lead_id", result.LeadID))
		}
	}

	if result.TopUpNeeded {
		err := r.publisher.PublishCreditsCharging(ctx, &domain.CreditsChargingEvent{
			TenantID: domainID,
			Balance:  result.Balance,
		})
		if err != nil {
			logger.ErrorCtx(ctx, err, zap.Uint64("domain_id", domainID))
		}
	}
}
