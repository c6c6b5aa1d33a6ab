/*
aggregate.go - Versioned in-memory aggregate

PURPOSE:
  Holds the derived resource -> week -> hours map that UI consumers
  render from. Rebuilt from the store on load, then incrementally
  patched by RealtimeSync.

ORDERING:
  Change events carry the store's monotonically increasing version.
  The aggregate applies an event only when its version is newer than
  the last one applied for that (resource, week) cell, so out-of-order
  delivery cannot resurrect stale hours. Delete tombstones keep their
  version for the same reason.

READ FENCING:
  Full refetches race with each other too: a slow fetch response
  arriving after a newer one must not overwrite fresher state. Each
  resource has a fetch generation; BeginFetch claims the next one and
  CompleteFetch discards responses whose generation is stale.
*/
package allocation

import (
	"sync"

	"github.com/shopspring/decimal"
)

type cellKey struct {
	Resource ResourceID
	Week     WeekKey
}

// Aggregate is the in-memory hour map with per-cell version tracking
// and per-resource fetch generations. Safe for concurrent use.
type Aggregate struct {
	mu        sync.RWMutex
	hours     map[cellKey]decimal.Decimal
	versions  map[cellKey]uint64
	fetchGens map[ResourceID]uint64
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		hours:     make(map[cellKey]decimal.Decimal),
		versions:  make(map[cellKey]uint64),
		fetchGens: make(map[ResourceID]uint64),
	}
}

// ApplyUpsert replaces (not adds to) the cell value when the event is
// newer than what is already applied. Replacement is correct under the
// single-canonical-row invariant the Writer converges toward.
func (a *Aggregate) ApplyUpsert(resource ResourceID, week WeekKey, hours decimal.Decimal, version uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := cellKey{Resource: resource, Week: week}
	if version <= a.versions[k] {
		return false
	}
	a.hours[k] = hours
	a.versions[k] = version
	return true
}

// ApplyDelete removes the cell when the event is newer. The version is
// retained as a tombstone so a late insert/update cannot resurrect it.
func (a *Aggregate) ApplyDelete(resource ResourceID, week WeekKey, version uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := cellKey{Resource: resource, Week: week}
	if version <= a.versions[k] {
		return false
	}
	delete(a.hours, k)
	a.versions[k] = version
	return true
}

// Hours returns the current value for one cell, zero when absent.
func (a *Aggregate) Hours(resource ResourceID, week WeekKey) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hours[cellKey{Resource: resource, Week: week}]
}

// Weeks returns a copy of the resource's week map. Always non-nil.
func (a *Aggregate) Weeks(resource ResourceID) WeekHours {
	a.mu.RLock()
	defer a.mu.RUnlock()

	wh := make(WeekHours)
	for k, v := range a.hours {
		if k.Resource == resource {
			wh[k.Week] = v
		}
	}
	return wh
}

// Snapshot returns a copy of the whole aggregate.
func (a *Aggregate) Snapshot() AllocationSet {
	a.mu.RLock()
	defer a.mu.RUnlock()

	set := make(AllocationSet)
	for k, v := range a.hours {
		wh, ok := set[k.Resource]
		if !ok {
			wh = make(WeekHours)
			set[k.Resource] = wh
		}
		wh[k.Week] = v
	}
	return set
}

// =============================================================================
// FETCH FENCING
// =============================================================================

// BeginFetch claims the next fetch generation for a resource. The
// returned generation must be passed to CompleteFetch.
func (a *Aggregate) BeginFetch(resource ResourceID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchGens[resource]++
	return a.fetchGens[resource]
}

// CompleteFetch installs a full refetch result for the resource unless
// a newer fetch has been issued since gen was claimed. Returns whether
// the result was applied.
//
// Installed cells take the highest version already seen so that events
// which raced ahead of the fetch are not replayed over it.
func (a *Aggregate) CompleteFetch(resource ResourceID, gen uint64, weeks WeekHours) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen != a.fetchGens[resource] {
		return false
	}

	// Drop cells not present in the refetched state.
	for k := range a.hours {
		if k.Resource == resource {
			if _, ok := weeks[k.Week]; !ok {
				delete(a.hours, k)
			}
		}
	}
	for week, hours := range weeks {
		k := cellKey{Resource: resource, Week: week}
		a.hours[k] = hours
	}
	return true
}
