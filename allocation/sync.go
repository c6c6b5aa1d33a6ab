/*
sync.go - Live aggregate maintenance from the change stream

PURPOSE:
  Subscribes to store change events scoped to one (project, resource,
  resource_type) tuple and folds them into the in-memory aggregate
  without a full refetch.

SEMANTICS:
  insert/update -> normalize the event date to a week key and REPLACE
  the aggregate cell at that key. Replacement (not addition) is correct
  under the single-canonical-row invariant, and is only as correct as
  that invariant currently holds.
  delete -> remove the cell.

  Both paths go through apply-if-newer version checks in the Aggregate,
  so out-of-order delivery resolves deterministically instead of
  last-processed-wins.

LIFECYCLE:
  One RealtimeSync per owning UI context. Close tears the subscription
  down; no process-wide listeners are left behind.
*/
package allocation

import (
	"sync"

	"github.com/rs/zerolog"
)

// SyncScope identifies the (project, resource, resource_type) tuple a
// RealtimeSync listens for.
type SyncScope struct {
	ProjectID    ProjectID
	ResourceID   ResourceID
	ResourceType ResourceType
}

// RealtimeSync folds a scoped change stream into an Aggregate.
type RealtimeSync struct {
	agg       *Aggregate
	weekStart WeekStartDay
	sub       Subscription
	log       zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRealtimeSync subscribes to the store and starts folding events
// until Close is called or the store shuts the stream down.
func NewRealtimeSync(store Store, agg *Aggregate, company CompanyID, scope SyncScope, weekStart WeekStartDay, log zerolog.Logger) *RealtimeSync {
	sub := store.Subscribe(Filter{
		ProjectID:    scope.ProjectID,
		ResourceID:   scope.ResourceID,
		CompanyID:    company,
		ResourceType: TypeFilter(scope.ResourceType),
	})

	s := &RealtimeSync{
		agg:       agg,
		weekStart: weekStart,
		sub:       sub,
		log: log.With().
			Str("component", "realtime-sync").
			Str("project", string(scope.ProjectID)).
			Str("resource", string(scope.ResourceID)).
			Logger(),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Aggregate returns the aggregate this sync maintains.
func (s *RealtimeSync) Aggregate() *Aggregate { return s.agg }

// Close tears the subscription down and waits for the fold loop to
// drain. Safe to call more than once.
func (s *RealtimeSync) Close() {
	s.closeOnce.Do(func() {
		s.sub.Close()
		<-s.done
	})
}

func (s *RealtimeSync) run() {
	defer close(s.done)
	for ev := range s.sub.Events() {
		s.apply(ev)
	}
}

func (s *RealtimeSync) apply(ev ChangeEvent) {
	rec := ev.Record
	week := rec.Week(s.weekStart)

	var applied bool
	switch ev.Type {
	case EventInsert, EventUpdate:
		applied = s.agg.ApplyUpsert(rec.ResourceID, week, rec.Hours, rec.Version)
	case EventDelete:
		applied = s.agg.ApplyDelete(rec.ResourceID, week, rec.Version)
	default:
		s.log.Warn().Str("type", string(ev.Type)).Msg("unknown change event type")
		return
	}

	if !applied {
		s.log.Debug().
			Str("week", week.String()).
			Uint64("version", rec.Version).
			Str("type", string(ev.Type)).
			Msg("discarded stale change event")
	}
}
