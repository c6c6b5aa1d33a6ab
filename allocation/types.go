/*
Package allocation implements the week-normalization and aggregation
engine of the resource planner.

PURPOSE:
  Teams allocate hours of people ("resources") to projects per calendar
  week. This package owns the logic with actual design weight:

  - WeekKey normalization against a tenant-configurable week start day
  - The converging Writer that guarantees one allocation row per
    (project, resource, week), repairing legacy duplicates on the way
  - The Reader that aggregates rows into resource -> week -> hours maps
  - RealtimeSync, which folds store change events into an in-memory
    aggregate without refetching
  - Utilization math on top of the aggregated hours

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: One stored allocation row
  - ResourceType: active member vs pre-registered placeholder
  - WeekHours / AllocationSet: Derived aggregate maps
  - ChangeEvent: One store mutation delivered to subscribers

DESIGN PRINCIPLES:
  1. Precision: hours are decimal.Decimal, never float64
  2. Type safety: IDs are distinct string types
  3. The store is a collaborator: the engine owns invariants over
     windows of rows, persistence owns the rows themselves

SEE ALSO:
  - week.go: WeekKey and normalization
  - store.go: The store collaborator interface
  - writer.go / reader.go / sync.go: The engine proper
*/
package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type ProjectID string
type ResourceID string
type CompanyID string

// ResourceType classifies a resource as an onboarded member or a
// pre-registered (invited, not yet onboarded) placeholder.
type ResourceType string

const (
	ResourceActive        ResourceType = "active"
	ResourcePreRegistered ResourceType = "pre_registered"
)

// Valid reports whether the value is a known resource type.
func (rt ResourceType) Valid() bool {
	return rt == ResourceActive || rt == ResourcePreRegistered
}

// =============================================================================
// RECORD - One stored allocation row
// =============================================================================

// Record is an allocation row as persisted by the store.
//
// The schema does NOT enforce one row per (project, resource, week);
// legacy and concurrently written data may contain duplicates. The
// Writer converges toward that invariant on every save, and the Reader
// sums defensively in the meantime.
type Record struct {
	ID           RecordID
	ProjectID    ProjectID
	ResourceID   ResourceID
	ResourceType ResourceType
	// AllocationDate is a UTC calendar date. Ideally a week start, but
	// legacy rows may be stamped mid-week until the next converging write.
	AllocationDate time.Time
	Hours          decimal.Decimal
	CompanyID      CompanyID

	// Version is assigned by the store and increases monotonically with
	// every write it performs. Change-stream consumers use it for
	// apply-if-newer conflict resolution.
	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Week returns the canonical week bucket of the row under the given
// week start configuration.
func (r Record) Week(start WeekStartDay) WeekKey {
	return NormalizeToWeekStart(r.AllocationDate, start)
}

// =============================================================================
// AGGREGATE MAPS - Derived, non-authoritative
// =============================================================================

// WeekHours maps week keys to summed hours for a single resource.
type WeekHours map[WeekKey]decimal.Decimal

// Total sums all weeks.
func (wh WeekHours) Total() decimal.Decimal {
	total := decimal.Zero
	for _, h := range wh {
		total = total.Add(h)
	}
	return total
}

// Clone returns an independent copy.
func (wh WeekHours) Clone() WeekHours {
	out := make(WeekHours, len(wh))
	for k, v := range wh {
		out[k] = v
	}
	return out
}

// AllocationSet maps resources to their per-week hours. It is a derived
// cache: rebuilt from the store on load, then incrementally patched by
// RealtimeSync.
type AllocationSet map[ResourceID]WeekHours

// =============================================================================
// CHANGE EVENTS - Store mutations delivered to subscribers
// =============================================================================

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is one store mutation. Record carries the post-image for
// inserts/updates and the pre-image for deletes; Record.Version orders
// events for the same row and week.
type ChangeEvent struct {
	Type   EventType
	Record Record
}
