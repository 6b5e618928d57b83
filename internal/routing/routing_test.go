package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/appealbot/internal/appeal"
)

type mapFinder struct {
	byTuple map[string]*appeal.Destination
	calls   []string
	err     error
}

func newFinder(dests ...appeal.Destination) *mapFinder {
	f := &mapFinder{byTuple: make(map[string]*appeal.Destination)}
	for i := range dests {
		d := dests[i]
		key := appeal.Target{RegionID: d.RegionID, DistrictID: d.DistrictID, NeighborhoodID: d.NeighborhoodID, OrganizationID: d.OrganizationID}.String()
		f.byTuple[key] = &d
	}
	return f
}

func (f *mapFinder) FindDestination(_ context.Context, t appeal.Target) (*appeal.Destination, error) {
	f.calls = append(f.calls, t.String())
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.byTuple[t.String()]
	if !ok {
		return nil, appeal.ErrNotFound
	}
	return d, nil
}

func ptr(v int64) *int64 { return &v }

func active(id, region int64, district, neighborhood *int64, org int64) appeal.Destination {
	return appeal.Destination{
		ID: id, RegionID: region, DistrictID: district, NeighborhoodID: neighborhood, OrganizationID: org,
		ChatID: -100 - id, IsActive: true, SubscriptionStatus: appeal.SubscriptionActive,
	}
}

func TestResolvePrefersDistrictOverRegion(t *testing.T) {
	f := newFinder(
		active(1, 10, nil, nil, 7),
		active(2, 10, ptr(20), nil, 7),
	)
	r := NewResolver(f)

	dest, err := r.Resolve(context.Background(), appeal.Target{RegionID: 10, DistrictID: ptr(20), NeighborhoodID: ptr(30), OrganizationID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(2), dest.ID)
	assert.Equal(t, []string{"10/20/30/7", "10/20/-/7"}, f.calls)
}

func TestResolveExactTier(t *testing.T) {
	f := newFinder(
		active(1, 10, ptr(20), ptr(30), 7),
		active(2, 10, ptr(20), nil, 7),
	)
	dest, err := NewResolver(f).Resolve(context.Background(), appeal.Target{RegionID: 10, DistrictID: ptr(20), NeighborhoodID: ptr(30), OrganizationID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dest.ID)
}

func TestResolveSkipsExactTierWithoutNeighborhood(t *testing.T) {
	f := newFinder(active(1, 10, nil, nil, 7))
	dest, err := NewResolver(f).Resolve(context.Background(), appeal.Target{RegionID: 10, DistrictID: ptr(20), OrganizationID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dest.ID)
	assert.Equal(t, []string{"10/20/-/7", "10/-/-/7"}, f.calls)
}

func TestResolveSkipsIneligible(t *testing.T) {
	suspended := active(2, 10, ptr(20), nil, 7)
	suspended.SubscriptionStatus = appeal.SubscriptionSuspended
	f := newFinder(active(1, 10, nil, nil, 7), suspended)

	dest, err := NewResolver(f).Resolve(context.Background(), appeal.Target{RegionID: 10, DistrictID: ptr(20), OrganizationID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dest.ID)

	inactive := active(1, 10, nil, nil, 7)
	inactive.IsActive = false
	f = newFinder(inactive, suspended)
	_, err = NewResolver(f).Resolve(context.Background(), appeal.Target{RegionID: 10, DistrictID: ptr(20), OrganizationID: 7})
	assert.ErrorIs(t, err, appeal.ErrRoutingUnresolved)
}

func TestResolveOtherOrganizationDoesNotMatch(t *testing.T) {
	f := newFinder(active(1, 10, nil, nil, 8))
	_, err := NewResolver(f).Resolve(context.Background(), appeal.Target{RegionID: 10, OrganizationID: 7})
	assert.ErrorIs(t, err, appeal.ErrRoutingUnresolved)
}

func TestResolveStoreFailureIsNotUnresolved(t *testing.T) {
	f := newFinder()
	f.err = errors.New("connection refused")
	_, err := NewResolver(f).Resolve(context.Background(), appeal.Target{RegionID: 10, OrganizationID: 7})
	require.Error(t, err)
	assert.False(t, errors.Is(err, appeal.ErrRoutingUnresolved))
}
