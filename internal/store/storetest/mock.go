// Package storetest provides a testify mock of the store interface for unit
// tests of the packages that sit on top of it.
package storetest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/leadlift/attribution/internal/store"
	"github.com/leadlift/attribution/internal/store/schema"
	"github.com/leadlift/attribution/internal/suppression"
)

// MockStore is a mock implementation of store.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetVisitorByUpID(ctx context.Context, upID string) (*schema.Visitor, error) {
	args := m.Called(ctx, upID)
	if v := args.Get(0); v != nil {
		return v.(*schema.Visitor), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) FindVisitorsByEmailHash(ctx context.Context, emailHash string) ([]schema.Visitor, error) {
	args := m.Called(ctx, emailHash)
	if v := args.Get(0); v != nil {
		return v.([]schema.Visitor), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetVisitorEmails(ctx context.Context, sourceKey string) ([]string, error) {
	args := m.Called(ctx, sourceKey)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetTenantByClientID(ctx context.Context, clientID string) (*schema.Tenant, error) {
	args := m.Called(ctx, clientID)
	if v := args.Get(0); v != nil {
		return v.(*schema.Tenant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) HasActiveSubscription(ctx context.Context, domainID uint64, at time.Time) (bool, error) {
	args := m.Called(ctx, domainID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetSuppressionPolicy(ctx context.Context, domainID uint64) (suppression.Policy, error) {
	args := m.Called(ctx, domainID)
	return args.Get(0).(suppression.Policy), args.Error(1)
}

func (m *MockStore) GetLeadBySourceKey(ctx context.Context, sourceKey string, domainID uint64) (*schema.Lead, error) {
	args := m.Called(ctx, sourceKey, domainID)
	if v := args.Get(0); v != nil {
		return v.(*schema.Lead), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ApplyPageEvent(ctx context.Context, input store.ApplyPageEventInput) (*store.ApplyPageEventResult, error) {
	args := m.Called(ctx, input)
	if v := args.Get(0); v != nil {
		return v.(*store.ApplyPageEventResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetIngestCheckpoint(ctx context.Context, prefix string) (string, error) {
	args := m.Called(ctx, prefix)
	return args.String(0), args.Error(1)
}

func (m *MockStore) SetIngestCheckpoint(ctx context.Context, prefix string, objectKey string) error {
	args := m.Called(ctx, prefix, objectKey)
	return args.Error(0)
}
