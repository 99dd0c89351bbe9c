package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leadlift/attribution/internal/behavior"
	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/session"
	"github.com/leadlift/attribution/internal/store/schema"
	"github.com/leadlift/attribution/internal/suppression"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. If any of the pool settings are 0, reasonable defaults
// are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// AutoMigrate runs schema migrations for all pipeline tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Tenant{},
		&schema.Subscription{},
		&schema.Visitor{},
		&schema.Lead{},
		&schema.Visit{},
		&schema.PageRequest{},
		&schema.SuppressionRule{},
		&schema.SuppressedEmail{},
		&schema.IntegrationSuppression{},
		&schema.CreditAccount{},
		&schema.LedgerEntry{},
		&schema.Order{},
		&schema.CartActivity{},
		&schema.KeyValueStore{},
	)
}

// GetVisitorByUpID retrieves a visitor record by its direct key
func (s *pgStore) GetVisitorByUpID(ctx context.Context, upID string) (*schema.Visitor, error) {
	var visitor schema.Visitor
	err := s.db.WithContext(ctx).Where("up_id = ?", upID).First(&visitor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get visitor by up_id: %w", err)
	}
	return &visitor, nil
}

// FindVisitorsByEmailHash retrieves visitor candidates for a hashed email,
// newest insertion first
func (s *pgStore) FindVisitorsByEmailHash(ctx context.Context, emailHash string) ([]schema.Visitor, error) {
	var visitors []schema.Visitor
	err := s.db.WithContext(ctx).
		Where("email_hash = ?", emailHash).
		Order("id DESC").
		Find(&visitors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find visitors by email hash: %w", err)
	}
	return visitors, nil
}

// GetVisitorEmails returns the distinct plain-text emails known for a source key
func (s *pgStore) GetVisitorEmails(ctx context.Context, sourceKey string) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).
		Model(&schema.Visitor{}).
		Where("source_key = ? AND email <> ''", sourceKey).
		Distinct().
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get visitor emails: %w", err)
	}
	return emails, nil
}

// GetTenantByClientID retrieves a tenant by its external client id
func (s *pgStore) GetTenantByClientID(ctx context.Context, clientID string) (*schema.Tenant, error) {
	var tenant schema.Tenant
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant by client id: %w", err)
	}
	return &tenant, nil
}

// HasActiveSubscription reports whether the tenant has an active or trialing
// subscription whose period covers the given instant
func (s *pgStore) HasActiveSubscription(ctx context.Context, domainID uint64, at time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.Subscription{}).
		Where("domain_id = ? AND status IN ? AND current_period_end > ?",
			domainID,
			[]schema.SubscriptionStatus{schema.SubscriptionStatusActive, schema.SubscriptionStatusTrialing},
			at).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return count > 0, nil
}

// GetSuppressionPolicy loads the tenant's full suppression bundle
func (s *pgStore) GetSuppressionPolicy(ctx context.Context, domainID uint64) (suppression.Policy, error) {
	var policy suppression.Policy

	var rule schema.SuppressionRule
	err := s.db.WithContext(ctx).Where("domain_id = ?", domainID).First(&rule).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return policy, fmt.Errorf("failed to get suppression rule: %w", err)
	}
	if err == nil {
		r := suppression.Rule{
			URLCertainActivation: rule.IsURLCertainActivation,
			BasedActivation:      rule.IsBasedActivation,
		}
		if err := decodeJSONList(rule.ActivateCertainURLs, &r.CertainURLs); err != nil {
			return policy, fmt.Errorf("failed to decode activation urls: %w", err)
		}
		if err := decodeJSONList(rule.ActivateBasedURLs, &r.BasedValues); err != nil {
			return policy, fmt.Errorf("failed to decode activation values: %w", err)
		}
		if err := decodeJSONList(rule.SuppressionsMultipleEmails, &r.MultiEmails); err != nil {
			return policy, fmt.Errorf("failed to decode suppression emails: %w", err)
		}
		policy.Rule = &r
	}

	err = s.db.WithContext(ctx).
		Model(&schema.SuppressedEmail{}).
		Where("domain_id = ?", domainID).
		Pluck("email", &policy.BulkEmails).Error
	if err != nil {
		return policy, fmt.Errorf("failed to get suppressed emails: %w", err)
	}

	err = s.db.WithContext(ctx).
		Model(&schema.IntegrationSuppression{}).
		Where("domain_id = ? AND with_suppression = ?", domainID, true).
		Pluck("email", &policy.IntegrationEmails).Error
	if err != nil {
		return policy, fmt.Errorf("failed to get integration suppressions: %w", err)
	}

	return policy, nil
}

func decodeJSONList(raw []byte, out *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// GetLeadBySourceKey retrieves a lead by (source key, tenant)
func (s *pgStore) GetLeadBySourceKey(ctx context.Context, sourceKey string, domainID uint64) (*schema.Lead, error) {
	var lead schema.Lead
	err := s.db.WithContext(ctx).
		Where("source_key = ? AND domain_id = ?", sourceKey, domainID).
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// ApplyPageEvent commits one event's full side-effect set as a single
// transaction. Replaying the same event is a no-op: the page request carries a
// uniqueness constraint, and a conflicting insert short-circuits before any
// aggregate is touched.
func (s *pgStore) ApplyPageEvent(ctx context.Context, input ApplyPageEventInput) (*ApplyPageEventResult, error) {
	cfg := input.Session.Normalize()
	result := &ApplyPageEventResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Load or create the lead
		var lead schema.Lead
		err := tx.Where("source_key = ? AND domain_id = ?", input.SourceKey, input.DomainID).
			First(&lead).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			lead = schema.Lead{
				SourceKey:    input.SourceKey,
				DomainID:     input.DomainID,
				BehaviorType: domain.BehaviorVisitor,
			}
			if err := tx.Create(&lead).Error; err != nil {
				return fmt.Errorf("failed to create lead: %w", err)
			}
			result.LeadCreated = true
		} else if err != nil {
			return fmt.Errorf("failed to load lead: %w", err)
		}
		result.LeadID = lead.ID

		// 2. Find the visit this request belongs to: the lead's most recent
		// request at or before the event, stitched when it falls inside the
		// window, a fresh visit otherwise
		var prior schema.PageRequest
		err = tx.Where("lead_id = ? AND requested_at <= ?", lead.ID, input.RequestedAt).
			Order("requested_at DESC").
			First(&prior).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to find prior request: %w", err)
		}
		joined := err == nil && session.InWindow(prior.RequestedAt, input.RequestedAt, cfg.Window)

		var visit schema.Visit
		if joined {
			if err := tx.First(&visit, prior.VisitID).Error; err != nil {
				return fmt.Errorf("failed to load visit: %w", err)
			}
		} else {
			agg := session.Open(input.RequestedAt, cfg.TrailingAllowance)
			visit = schema.Visit{
				LeadID:         lead.ID,
				StartedAt:      agg.StartedAt,
				EndedAt:        agg.EndedAt,
				PagesCount:     agg.PagesCount,
				FullTimeSec:    agg.FullTimeSec,
				AverageTimeSec: agg.AverageTimeSec,
				BehaviorType:   lead.BehaviorType,
			}
			if err := tx.Create(&visit).Error; err != nil {
				return fmt.Errorf("failed to create visit: %w", err)
			}
		}

		// 3. Insert the request; a conflict means this exact event was already
		// committed and everything below already happened
		request := schema.PageRequest{
			LeadID:      lead.ID,
			VisitID:     visit.ID,
			PageURL:     input.PageURL,
			RequestedAt: input.RequestedAt,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&request)
		if res.Error != nil {
			return fmt.Errorf("failed to insert page request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			result.Duplicate = true
			result.BehaviorType = lead.BehaviorType
			return nil
		}

		// 4. Recompute the visit aggregates from its full request set and roll
		// the delta into the lead totals
		oldFull := visit.FullTimeSec
		var hits []session.PageHit
		err = tx.Model(&schema.PageRequest{}).
			Select("page_url", "requested_at").
			Where("visit_id = ?", visit.ID).
			Find(&hits).Error
		if err != nil {
			return fmt.Errorf("failed to load visit requests: %w", err)
		}
		agg := session.Recompute(hits, cfg.TrailingAllowance)

		// 5. Advance the behavior funnel; it never moves backwards
		next := behavior.Advance(lead.BehaviorType, input.Action)
		result.BehaviorAdvanced = next != lead.BehaviorType
		signals := behavior.SignalsFor(input.Action)

		visit.StartedAt = agg.StartedAt
		visit.EndedAt = agg.EndedAt
		visit.PagesCount = agg.PagesCount
		visit.FullTimeSec = agg.FullTimeSec
		visit.AverageTimeSec = agg.AverageTimeSec
		visit.BehaviorType = next
		if err := tx.Save(&visit).Error; err != nil {
			return fmt.Errorf("failed to update visit: %w", err)
		}

		if joined {
			lead.TotalVisitTime += agg.FullTimeSec - oldFull
		} else {
			if lead.TotalVisit > 0 {
				lead.IsReturningVisitor = true
			}
			lead.TotalVisit++
			lead.TotalVisitTime += agg.FullTimeSec
		}
		if lead.TotalVisit > 0 {
			lead.AverageVisitTime = float64(lead.TotalVisitTime) / float64(lead.TotalVisit)
		}
		if lead.FirstVisitID == nil {
			lead.FirstVisitID = &visit.ID
		}
		lead.BehaviorType = next
		if signals.Checkout {
			lead.IsConvertedSales = true
		}
		if err := tx.Save(&lead).Error; err != nil {
			return fmt.Errorf("failed to update lead: %w", err)
		}
		result.BehaviorType = next

		// 6. Side records for commerce signals, last write wins per lead
		if signals.AddedToCart {
			cart := schema.CartActivity{
				LeadID:      lead.ID,
				LastAddedAt: input.RequestedAt,
				PageURL:     input.PageURL,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "lead_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"last_added_at", "page_url", "updated_at"}),
			}).Create(&cart).Error
			if err != nil {
				return fmt.Errorf("failed to upsert cart activity: %w", err)
			}
		}
		if signals.Checkout {
			order := schema.Order{
				LeadID:        lead.ID,
				LastOrderedAt: input.RequestedAt,
				PageURL:       input.PageURL,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "lead_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"last_ordered_at", "page_url", "updated_at"}),
			}).Create(&order).Error
			if err != nil {
				return fmt.Errorf("failed to upsert order: %w", err)
			}
		}

		// 7. Charge one credit for a newly materialized lead, at most once per
		// (source key, tenant) ever
		if result.LeadCreated {
			charged, balance, topUp, err := s.chargeLeadCredit(tx, input)
			if err != nil {
				return err
			}
			result.Charged = charged
			result.Balance = balance
			result.TopUpNeeded = topUp
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// chargeLeadCredit writes the ledger entry and debits the tenant balance. The
// ledger uniqueness constraint is the idempotence guard: if an entry already
// exists the charge is skipped entirely.
func (s *pgStore) chargeLeadCredit(tx *gorm.DB, input ApplyPageEventInput) (bool, int64, bool, error) {
	entry := schema.LedgerEntry{
		SourceKey: input.SourceKey,
		DomainID:  input.DomainID,
		Credits:   1,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return false, 0, false, fmt.Errorf("failed to insert ledger entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, 0, false, nil
	}

	var account schema.CreditAccount
	err := tx.Where("domain_id = ?", input.DomainID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = schema.CreditAccount{DomainID: input.DomainID}
		if err := tx.Create(&account).Error; err != nil {
			return false, 0, false, fmt.Errorf("failed to create credit account: %w", err)
		}
	} else if err != nil {
		return false, 0, false, fmt.Errorf("failed to load credit account: %w", err)
	}

	if account.Balance <= 0 && !account.AutoRecharge {
		// Out of credits with no recharge plan: keep the lead, void the charge
		if err := tx.Delete(&schema.LedgerEntry{}, entry.ID).Error; err != nil {
			return false, 0, false, fmt.Errorf("failed to void ledger entry: %w", err)
		}
		return false, account.Balance, false, nil
	}

	account.Balance -= entry.Credits
	if err := tx.Save(&account).Error; err != nil {
		return false, 0, false, fmt.Errorf("failed to debit credit account: %w", err)
	}

	threshold := input.RechargeThreshold
	if threshold <= 0 {
		threshold = 100
	}
	topUp := account.AutoRecharge && account.Balance <= 0 && (-account.Balance)%threshold == 0

	return true, account.Balance, topUp, nil
}

// GetIngestCheckpoint retrieves the last committed object key for a prefix
func (s *pgStore) GetIngestCheckpoint(ctx context.Context, prefix string) (string, error) {
	key := fmt.Sprintf("ingest_checkpoint:%s", prefix)

	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get ingest checkpoint: %w", err)
	}

	return kv.Value, nil
}

// SetIngestCheckpoint stores the last committed object key for a prefix
func (s *pgStore) SetIngestCheckpoint(ctx context.Context, prefix string, objectKey string) error {
	kv := schema.KeyValueStore{
		Key:   fmt.Sprintf("ingest_checkpoint:%s", prefix),
		Value: objectKey,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set ingest checkpoint: %w", err)
	}

	return nil
}
