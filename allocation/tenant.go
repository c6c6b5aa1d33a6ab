/*
tenant.go - Tenant configuration and resource directory collaborators

PURPOSE:
  The engine is multi-tenant. Each company configures the day its
  planning week starts on and the standard weekly capacity used as the
  utilization denominator. Both are read-only to the engine.

  The resource directory resolves resource IDs to display profiles.
  A missing profile never fails a fetch; the Reader synthesizes a
  placeholder so the aggregate stays usable with referential gaps.

SEE ALSO:
  - store/sqlite: Persistent implementations of both interfaces
  - reader.go:    Placeholder synthesis
*/
package allocation

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TENANT CONFIGURATION
// =============================================================================

// TenantConfig exposes per-company planning settings.
type TenantConfig interface {
	// WeekStartDay returns the configured week anchor for the company.
	WeekStartDay(ctx context.Context, company CompanyID) (WeekStartDay, error)

	// StandardCapacityHours returns the expected weekly hours per
	// resource, the denominator for utilization.
	StandardCapacityHours(ctx context.Context, company CompanyID) (decimal.Decimal, error)
}

// StaticTenantConfig is a fixed-value TenantConfig for tests and
// single-tenant deployments.
type StaticTenantConfig struct {
	Start    WeekStartDay
	Capacity decimal.Decimal
}

func (c StaticTenantConfig) WeekStartDay(context.Context, CompanyID) (WeekStartDay, error) {
	if !c.Start.Valid() {
		return WeekStartMonday, nil
	}
	return c.Start, nil
}

func (c StaticTenantConfig) StandardCapacityHours(context.Context, CompanyID) (decimal.Decimal, error) {
	if c.Capacity.IsZero() {
		return decimal.NewFromInt(40), nil
	}
	return c.Capacity, nil
}

// =============================================================================
// RESOURCE DIRECTORY
// =============================================================================

// ResourceProfile is the directory entry for one resource.
type ResourceProfile struct {
	ID      ResourceID
	Name    string
	Type    ResourceType
	Deleted bool
}

// ResourceDirectory resolves resource IDs to profiles. Lookup returns
// ErrResourceNotFound for unknown IDs.
type ResourceDirectory interface {
	Lookup(ctx context.Context, id ResourceID) (ResourceProfile, error)
}

// PlaceholderProfile is what the Reader substitutes when a linked
// profile is missing for an allocation's resource.
func PlaceholderProfile(id ResourceID) ResourceProfile {
	return ResourceProfile{
		ID:      id,
		Name:    "Unknown resource",
		Type:    ResourceActive,
		Deleted: true,
	}
}
