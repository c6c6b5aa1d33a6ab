/*
store.go - Persistence collaborator interface

PURPOSE:
  Defines the relational query surface the engine runs against. The
  engine never talks SQL; it expresses reads and writes through Filter
  predicates and lets implementations translate them.

KEY INTERFACES:
  Store:        Select / Insert / Update / Delete plus Subscribe
  Subscription: A scoped change-event stream

CONTRACT:
  - Insert assigns the record ID (when empty) and a store-wide
    monotonically increasing version, and returns the stored row.
  - Update addresses a row by ID, bumps the version, returns the row.
  - Every successful mutation is delivered to all subscriptions whose
    filter matches the affected row.
  - Select with no matches returns an empty slice and nil error. An
    empty result is a valid state, never a failure.

IMPLEMENTATIONS:
  - allocation/store/memory.go: In-memory, for tests and development
  - store/sqlite/sqlite.go:     Production SQLite

SEE ALSO:
  - writer.go: The converging write algorithm on top of this interface
  - sync.go:   Subscription consumer
*/
package allocation

import (
	"context"
	"time"
)

// =============================================================================
// FILTER - Equality/range predicates
// =============================================================================

// Filter selects allocation rows. Zero-valued fields are ignored, so an
// empty filter matches everything.
type Filter struct {
	ProjectID  ProjectID
	ResourceID ResourceID
	// ResourceIDs matches any of the listed resources. Used by
	// multi-resource aggregate reads; ignored when empty.
	ResourceIDs []ResourceID
	CompanyID   CompanyID
	// ResourceType is optional. The Writer's converging select leaves it
	// nil on purpose: duplicate rows have been observed under a different
	// resource_type for the same resource and week, and excluding them
	// would under-count and leave stale rows behind.
	ResourceType *ResourceType
	// Date window [DateFrom, DateTo). Either side may be nil.
	DateFrom *time.Time
	DateTo   *time.Time
}

// TypeFilter is a convenience for taking the address of a constant.
func TypeFilter(rt ResourceType) *ResourceType { return &rt }

// Matches reports whether a record satisfies every set predicate.
// Store implementations without native predicate pushdown use this
// directly; SQL implementations must translate it faithfully.
func (f Filter) Matches(r Record) bool {
	if f.ProjectID != "" && r.ProjectID != f.ProjectID {
		return false
	}
	if f.ResourceID != "" && r.ResourceID != f.ResourceID {
		return false
	}
	if len(f.ResourceIDs) > 0 {
		found := false
		for _, id := range f.ResourceIDs {
			if r.ResourceID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CompanyID != "" && r.CompanyID != f.CompanyID {
		return false
	}
	if f.ResourceType != nil && r.ResourceType != *f.ResourceType {
		return false
	}
	date := DateOf(r.AllocationDate)
	if f.DateFrom != nil && date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && !date.Before(*f.DateTo) {
		return false
	}
	return true
}

// =============================================================================
// STORE - The relational collaborator
// =============================================================================

// Store is the persistence collaborator for allocation rows.
type Store interface {
	// Select returns all rows matching the filter, ordered by
	// allocation_date ascending.
	Select(ctx context.Context, f Filter) ([]Record, error)

	// Insert stores a new row, assigning ID (when empty) and version.
	Insert(ctx context.Context, r Record) (Record, error)

	// Update rewrites the row with r.ID. Returns ErrRecordNotFound when
	// the row no longer exists.
	Update(ctx context.Context, r Record) (Record, error)

	// Delete removes all rows matching the filter and returns how many.
	Delete(ctx context.Context, f Filter) (int, error)

	// DeleteByIDs removes the identified rows. Missing IDs are ignored;
	// the repair branch may race with a concurrent delete.
	DeleteByIDs(ctx context.Context, ids []RecordID) error

	// Subscribe returns a change stream delivering every mutation whose
	// row matches the filter. The caller must Close the subscription.
	Subscribe(f Filter) Subscription
}

// Subscription is a scoped change-event stream. Events is closed after
// Close returns or when the store shuts down.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close()
}
