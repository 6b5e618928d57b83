// Package routing resolves the destination channel of a finalized appeal by
// walking the location hierarchy from the most to the least specific tier.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/internal/appeal"
)

const component = "service.routing"

// Finder looks up the destination registered at exactly the given tuple. Nil
// district or neighborhood ids match only destinations stored with NULL there.
// A missing destination is reported as appeal.ErrNotFound.
type Finder interface {
	FindDestination(ctx context.Context, t appeal.Target) (*appeal.Destination, error)
}

// Tier names a specificity level of the fallback.
type Tier string

const (
	TierExact    Tier = "exact"
	TierDistrict Tier = "district"
	TierRegion   Tier = "region"
)

// Resolver implements hierarchical fallback matching.
type Resolver struct {
	finder Finder
}

// NewResolver returns a Resolver reading from finder.
func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder}
}

type candidate struct {
	tier   Tier
	target appeal.Target
}

// tiers lists the lookups for t, narrowest first.
func tiers(t appeal.Target) []candidate {
	out := make([]candidate, 0, 3)
	if t.NeighborhoodID != nil {
		out = append(out, candidate{TierExact, t})
	}
	if t.DistrictID != nil {
		out = append(out, candidate{TierDistrict, appeal.Target{
			RegionID:       t.RegionID,
			DistrictID:     t.DistrictID,
			OrganizationID: t.OrganizationID,
		}})
	}
	out = append(out, candidate{TierRegion, appeal.Target{
		RegionID:       t.RegionID,
		OrganizationID: t.OrganizationID,
	}})
	return out
}

// Resolve returns the first eligible destination. Hierarchy matches that are
// inactive or not subscribed are skipped. When no tier yields an eligible
// destination the error wraps appeal.ErrRoutingUnresolved.
func (r *Resolver) Resolve(ctx context.Context, t appeal.Target) (*appeal.Destination, error) {
	for _, c := range tiers(t) {
		dest, err := r.finder.FindDestination(ctx, c.target)
		if errors.Is(err, appeal.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("routing: %s tier: %w", c.tier, err)
		}
		if !dest.Eligible() {
			logger.Debug(ctx, component, "routing.skip_ineligible",
				slog.String("tier", string(c.tier)),
				slog.Int64("destination_id", dest.ID),
				slog.Bool("is_active", dest.IsActive),
				slog.String("subscription", string(dest.SubscriptionStatus)),
			)
			continue
		}
		logger.Info(ctx, component, "routing.resolved",
			slog.String("target", t.String()),
			slog.String("tier", string(c.tier)),
			slog.Int64("destination_id", dest.ID),
		)
		return dest, nil
	}
	logger.Warn(ctx, component, "routing.unresolved",
		slog.String("target", t.String()),
		slog.String("err_code", "ROUTING_UNRESOLVED"),
	)
	return nil, fmt.Errorf("routing %s: %w", t, appeal.ErrRoutingUnresolved)
}
