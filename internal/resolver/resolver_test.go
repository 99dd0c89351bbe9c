package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leadlift/attribution/internal/domain"
	"github.com/leadlift/attribution/internal/store/schema"
	"github.com/leadlift/attribution/internal/store/storetest"
)

func TestResolve_DirectUpID(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("GetVisitorByUpID", mock.Anything, "up-1").
		Return(&schema.Visitor{SourceKey: "alpha-bravo", EmailHash: "h1"}, nil)

	r := NewResolver(s, AmbiguityDrop)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{UpID: "up-1"})
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "alpha-bravo", identity.SourceKey)
	s.AssertExpectations(t)
}

func TestResolve_UpIDUnknownSkips(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("GetVisitorByUpID", mock.Anything, "up-missing").Return(nil, nil)

	r := NewResolver(s, AmbiguityDrop)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{UpID: "up-missing"})
	require.NoError(t, err)
	assert.Nil(t, identity)
	// The hashed-email fallback only applies when up_id is absent
	s.AssertNotCalled(t, "FindVisitorsByEmailHash", mock.Anything, mock.Anything)
}

func TestResolve_HashedEmailSingleMatch(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("FindVisitorsByEmailHash", mock.Anything, "h1").
		Return([]schema.Visitor{{SourceKey: "charlie-delta", EmailHash: "h1"}}, nil)

	r := NewResolver(s, AmbiguityDrop)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{HashedEmail: "h1"})
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "charlie-delta", identity.SourceKey)
}

func TestResolve_HashedEmailNoMatchSkips(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("FindVisitorsByEmailHash", mock.Anything, "h-none").
		Return([]schema.Visitor{}, nil)

	r := NewResolver(s, AmbiguityDrop)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{HashedEmail: "h-none"})
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestResolve_AmbiguousDroppedByDefault(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("FindVisitorsByEmailHash", mock.Anything, "h-shared").
		Return([]schema.Visitor{
			{SourceKey: "newer", EmailHash: "h-shared"},
			{SourceKey: "older", EmailHash: "h-shared"},
		}, nil)

	r := NewResolver(s, AmbiguityDrop)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{HashedEmail: "h-shared"})
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestResolve_AmbiguousNewestPolicy(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("FindVisitorsByEmailHash", mock.Anything, "h-shared").
		Return([]schema.Visitor{
			{SourceKey: "newer", EmailHash: "h-shared"},
			{SourceKey: "older", EmailHash: "h-shared"},
		}, nil)

	r := NewResolver(s, AmbiguityNewest)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{HashedEmail: "h-shared"})
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "newer", identity.SourceKey)
}

func TestResolve_NoIdentityMaterialSkips(t *testing.T) {
	s := new(storetest.MockStore)

	r := NewResolver(s, AmbiguityDrop)
	identity, err := r.Resolve(context.Background(), &domain.RawSyncEvent{})
	require.NoError(t, err)
	assert.Nil(t, identity)
	s.AssertNotCalled(t, "GetVisitorByUpID", mock.Anything, mock.Anything)
	s.AssertNotCalled(t, "FindVisitorsByEmailHash", mock.Anything, mock.Anything)
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	s := new(storetest.MockStore)
	s.On("GetVisitorByUpID", mock.Anything, "up-1").Return(nil, errors.New("db down"))

	r := NewResolver(s, AmbiguityDrop)
	_, err := r.Resolve(context.Background(), &domain.RawSyncEvent{UpID: "up-1"})
	assert.Error(t, err)
}

func TestNewResolver_UnknownPolicyFallsBackToDrop(t *testing.T) {
	s := new(storetest.MockStore)
	r := NewResolver(s, AmbiguityPolicy("whatever"))
	assert.Equal(t, AmbiguityDrop, r.policy)
}
