package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/session"
	"github.com/leadlift/attribution/internal/store/schema"
)

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	return NewPGStore(db), db
}

func seedTenant(t *testing.T, db *gorm.DB, domainID uint64, clientID string) {
	t.Helper()
	require.NoError(t, db.Create(&schema.Tenant{
		DomainID: domainID,
		ClientID: clientID,
		Domain:   fmt.Sprintf("tenant-%d.example.com", domainID),
	}).Error)
}

func seedCredits(t *testing.T, db *gorm.DB, domainID uint64, balance int64, autoRecharge bool) {
	t.Helper()
	require.NoError(t, db.Create(&schema.CreditAccount{
		DomainID:     domainID,
		Balance:      balance,
		AutoRecharge: autoRecharge,
	}).Error)
}

func pageEvent(sourceKey string, domainID uint64, page string, at time.Time, action domain.Action) ApplyPageEventInput {
	return ApplyPageEventInput{
		SourceKey:   sourceKey,
		DomainID:    domainID,
		PageURL:     page,
		RequestedAt: at,
		Action:      action,
	}
}

func TestIngestCheckpoint_EmptyThenRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	key, err := s.GetIngestCheckpoint(ctx, "exports/")
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, s.SetIngestCheckpoint(ctx, "exports/", "exports/y=2026/m=01/d=05/h=10/part-0001.parquet"))

	key, err = s.GetIngestCheckpoint(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, "exports/y=2026/m=01/d=05/h=10/part-0001.parquet", key)

	// Advancing overwrites in place
	require.NoError(t, s.SetIngestCheckpoint(ctx, "exports/", "exports/y=2026/m=01/d=05/h=11/part-0001.parquet"))
	key, err = s.GetIngestCheckpoint(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, "exports/y=2026/m=01/d=05/h=11/part-0001.parquet", key)
}

func TestIngestCheckpoint_PrefixesAreIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetIngestCheckpoint(ctx, "exports-a/", "exports-a/k1"))
	require.NoError(t, s.SetIngestCheckpoint(ctx, "exports-b/", "exports-b/k9"))

	key, err := s.GetIngestCheckpoint(ctx, "exports-a/")
	require.NoError(t, err)
	assert.Equal(t, "exports-a/k1", key)
}

func TestGetVisitorByUpID(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&schema.Visitor{
		SourceKey: "alpha-bravo",
		UpID:      "up-123",
		Email:     "jo@example.com",
		EmailHash: "hash-jo",
	}).Error)

	visitor, err := s.GetVisitorByUpID(ctx, "up-123")
	require.NoError(t, err)
	require.NotNil(t, visitor)
	assert.Equal(t, "alpha-bravo", visitor.SourceKey)

	visitor, err = s.GetVisitorByUpID(ctx, "up-missing")
	require.NoError(t, err)
	assert.Nil(t, visitor)
}

func TestFindVisitorsByEmailHash_NewestFirst(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "older", EmailHash: "h1"}).Error)
	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "newer", EmailHash: "h1"}).Error)
	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "other", EmailHash: "h2"}).Error)

	visitors, err := s.FindVisitorsByEmailHash(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, visitors, 2)
	assert.Equal(t, "newer", visitors[0].SourceKey)
	assert.Equal(t, "older", visitors[1].SourceKey)
}

func TestGetVisitorEmails_DistinctNonEmpty(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "sk", Email: "a@example.com"}).Error)
	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "sk", Email: "a@example.com"}).Error)
	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "sk", Email: ""}).Error)
	require.NoError(t, db.Create(&schema.Visitor{SourceKey: "sk", Email: "b@example.com"}).Error)

	emails, err := s.GetVisitorEmails(ctx, "sk")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, emails)
}

func TestGetTenantByClientID(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 7, "client-xyz")

	tenant, err := s.GetTenantByClientID(ctx, "client-xyz")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, uint64(7), tenant.DomainID)

	tenant, err = s.GetTenantByClientID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, tenant)
}

func TestHasActiveSubscription(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedTenant(t, db, 1, "c1")
	seedTenant(t, db, 2, "c2")
	seedTenant(t, db, 3, "c3")

	require.NoError(t, db.Create(&schema.Subscription{
		DomainID:         1,
		Status:           schema.SubscriptionStatusActive,
		CurrentPeriodEnd: now.Add(24 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&schema.Subscription{
		DomainID:         2,
		Status:           schema.SubscriptionStatusCanceled,
		CurrentPeriodEnd: now.Add(24 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&schema.Subscription{
		DomainID:         3,
		Status:           schema.SubscriptionStatusTrialing,
		CurrentPeriodEnd: now.Add(-time.Hour),
	}).Error)

	active, err := s.HasActiveSubscription(ctx, 1, now)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = s.HasActiveSubscription(ctx, 2, now)
	require.NoError(t, err)
	assert.False(t, active, "canceled plans never pass the gate")

	active, err = s.HasActiveSubscription(ctx, 3, now)
	require.NoError(t, err)
	assert.False(t, active, "expired trial periods never pass the gate")

	active, err = s.HasActiveSubscription(ctx, 99, now)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGetSuppressionPolicy(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&schema.SuppressionRule{
		DomainID:               5,
		IsURLCertainActivation: true,
		ActivateCertainURLs:    datatypes.JSON([]byte(`["https://shop.example.com/pricing"]`)),
	}).Error)
	require.NoError(t, db.Create(&schema.SuppressedEmail{DomainID: 5, Email: "blocked@example.com"}).Error)
	require.NoError(t, db.Create(&schema.IntegrationSuppression{
		DomainID: 5, Integration: "mailchimp", Email: "sub@example.com", WithSuppression: true,
	}).Error)
	require.NoError(t, db.Create(&schema.IntegrationSuppression{
		DomainID: 5, Integration: "hubspot", Email: "ok@example.com", WithSuppression: false,
	}).Error)

	policy, err := s.GetSuppressionPolicy(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, policy.Rule)
	assert.True(t, policy.Rule.URLCertainActivation)
	assert.Equal(t, []string{"https://shop.example.com/pricing"}, policy.Rule.CertainURLs)
	assert.Equal(t, []string{"blocked@example.com"}, policy.BulkEmails)
	assert.Equal(t, []string{"sub@example.com"}, policy.IntegrationEmails)
}

func TestGetSuppressionPolicy_NoRule(t *testing.T) {
	s, _ := newTestStore(t)

	policy, err := s.GetSuppressionPolicy(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, policy.Rule)
	assert.Empty(t, policy.BulkEmails)
}

func TestApplyPageEvent_FirstEventCreatesLeadAndCharges(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, false)
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	result, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", at, domain.ActionPageView))
	require.NoError(t, err)
	assert.True(t, result.LeadCreated)
	assert.True(t, result.Charged)
	assert.Equal(t, int64(49), result.Balance)
	assert.False(t, result.Duplicate)
	assert.Equal(t, domain.BehaviorVisitor, result.BehaviorType)

	lead, err := s.GetLeadBySourceKey(ctx, "lead-a", 1)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, 1, lead.TotalVisit)
	assert.Equal(t, int64(10), lead.TotalVisitTime)
	assert.False(t, lead.IsReturningVisitor)
	require.NotNil(t, lead.FirstVisitID)

	var ledgerCount int64
	require.NoError(t, db.Model(&schema.LedgerEntry{}).Count(&ledgerCount).Error)
	assert.Equal(t, int64(1), ledgerCount)
}

func TestApplyPageEvent_ReplayIsNoOp(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, false)
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	event := pageEvent("lead-a", 1, "https://shop.example.com/", at, domain.ActionPageView)

	first, err := s.ApplyPageEvent(ctx, event)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	replay, err := s.ApplyPageEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.False(t, replay.Charged)

	lead, err := s.GetLeadBySourceKey(ctx, "lead-a", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, lead.TotalVisit)
	assert.Equal(t, int64(10), lead.TotalVisitTime)

	var visits, requests, ledger int64
	require.NoError(t, db.Model(&schema.Visit{}).Count(&visits).Error)
	require.NoError(t, db.Model(&schema.PageRequest{}).Count(&requests).Error)
	require.NoError(t, db.Model(&schema.LedgerEntry{}).Count(&ledger).Error)
	assert.Equal(t, int64(1), visits)
	assert.Equal(t, int64(1), requests)
	assert.Equal(t, int64(1), ledger)
}

func TestApplyPageEvent_WindowStitching(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)

	// Ten minutes later: same visit, aggregates recomputed
	result, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/products/mug", base.Add(10*time.Minute), domain.ActionPageView))
	require.NoError(t, err)
	assert.False(t, result.LeadCreated)
	assert.False(t, result.Charged)

	var visit schema.Visit
	require.NoError(t, db.Order("id").First(&visit).Error)
	assert.Equal(t, 2, visit.PagesCount)
	assert.Equal(t, int64(610), visit.FullTimeSec)
	assert.InDelta(t, 305.0, visit.AverageTimeSec, 0.001)

	lead, err := s.GetLeadBySourceKey(ctx, "lead-a", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, lead.TotalVisit)
	assert.Equal(t, int64(610), lead.TotalVisitTime)
	assert.False(t, lead.IsReturningVisitor)
}

func TestApplyPageEvent_NewVisitAfterWindow(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)

	_, err = s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", base.Add(31*time.Minute), domain.ActionPageView))
	require.NoError(t, err)

	var visits int64
	require.NoError(t, db.Model(&schema.Visit{}).Count(&visits).Error)
	assert.Equal(t, int64(2), visits)

	lead, err := s.GetLeadBySourceKey(ctx, "lead-a", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, lead.TotalVisit)
	assert.True(t, lead.IsReturningVisitor)
	assert.Equal(t, int64(20), lead.TotalVisitTime)
	assert.InDelta(t, 10.0, lead.AverageVisitTime, 0.001)
}

func TestApplyPageEvent_BoundaryJoinsWindow(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)

	// Exactly 30 minutes later is still inside the half-open window
	_, err = s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/about", base.Add(30*time.Minute), domain.ActionPageView))
	require.NoError(t, err)

	var visits int64
	require.NoError(t, db.Model(&schema.Visit{}).Count(&visits).Error)
	assert.Equal(t, int64(1), visits)
}

func TestApplyPageEvent_FunnelNeverMovesBackward(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/products/mug", base, domain.ActionViewProduct))
	require.NoError(t, err)

	result, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/cart", base.Add(time.Minute), domain.ActionAddToCart))
	require.NoError(t, err)
	assert.Equal(t, domain.BehaviorAddedToCart, result.BehaviorType)

	// A plain page view later never demotes the stage
	result, err = s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/about", base.Add(2*time.Minute), domain.ActionPageView))
	require.NoError(t, err)
	assert.Equal(t, domain.BehaviorAddedToCart, result.BehaviorType)

	var cart schema.CartActivity
	require.NoError(t, db.First(&cart).Error)
	assert.Equal(t, "https://shop.example.com/cart", cart.PageURL)
}

func TestApplyPageEvent_CheckoutConvertsOnce(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/checkout/order-received/100", base, domain.ActionCheckout))
	require.NoError(t, err)

	_, err = s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/checkout/order-received/101", base.Add(5*time.Minute), domain.ActionCheckout))
	require.NoError(t, err)

	lead, err := s.GetLeadBySourceKey(ctx, "lead-a", 1)
	require.NoError(t, err)
	assert.True(t, lead.IsConvertedSales)
	assert.Equal(t, domain.BehaviorAddedToCart, lead.BehaviorType)

	var orders int64
	require.NoError(t, db.Model(&schema.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(1), orders, "order record is upserted per lead, last write wins")

	var order schema.Order
	require.NoError(t, db.First(&order).Error)
	assert.Equal(t, "https://shop.example.com/checkout/order-received/101", order.PageURL)
}

func TestApplyPageEvent_NoChargeWhenOutOfCredits(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 0, false)
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	result, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", at, domain.ActionPageView))
	require.NoError(t, err)
	assert.True(t, result.LeadCreated, "the lead is still materialized")
	assert.False(t, result.Charged)

	var ledger int64
	require.NoError(t, db.Model(&schema.LedgerEntry{}).Count(&ledger).Error)
	assert.Equal(t, int64(0), ledger)

	var account schema.CreditAccount
	require.NoError(t, db.First(&account).Error)
	assert.Equal(t, int64(0), account.Balance)
}

func TestApplyPageEvent_AutoRechargeDebitsPastZero(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 1, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	result, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)
	assert.True(t, result.Charged)
	assert.Equal(t, int64(0), result.Balance)
	assert.True(t, result.TopUpNeeded, "hitting zero triggers a recharge event")

	result, err = s.ApplyPageEvent(ctx, pageEvent("lead-b", 1, "https://shop.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)
	assert.True(t, result.Charged)
	assert.Equal(t, int64(-1), result.Balance)
	assert.False(t, result.TopUpNeeded)
}

func TestApplyPageEvent_OneChargePerSourcePerTenant(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedTenant(t, db, 2, "c2")
	seedCredits(t, db, 1, 50, true)
	seedCredits(t, db, 2, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 1, "https://shop.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)

	// Same identity under the second tenant charges independently
	result, err := s.ApplyPageEvent(ctx, pageEvent("lead-a", 2, "https://other.example.com/", base, domain.ActionPageView))
	require.NoError(t, err)
	assert.True(t, result.Charged)

	var ledger int64
	require.NoError(t, db.Model(&schema.LedgerEntry{}).Count(&ledger).Error)
	assert.Equal(t, int64(2), ledger)
}

func TestApplyPageEvent_CustomSessionConfig(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, db, 1, "c1")
	seedCredits(t, db, 1, 50, true)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	cfg := session.Config{Window: 5 * time.Minute, TrailingAllowance: 10 * time.Second}

	first := pageEvent("lead-a", 1, "https://shop.example.com/", base, domain.ActionPageView)
	first.Session = cfg
	_, err := s.ApplyPageEvent(ctx, first)
	require.NoError(t, err)

	second := pageEvent("lead-a", 1, "https://shop.example.com/", base.Add(6*time.Minute), domain.ActionPageView)
	second.Session = cfg
	_, err = s.ApplyPageEvent(ctx, second)
	require.NoError(t, err)

	var visits int64
	require.NoError(t, db.Model(&schema.Visit{}).Count(&visits).Error)
	assert.Equal(t, int64(2), visits)
}
