/*
writer.go - Convergent allocation writes

PURPOSE:
  Makes "the allocation for this resource/project/week is H hours" true
  regardless of what the store currently contains, including duplicate
  rows left behind by legacy data or earlier bugs.

ALGORITHM (SaveResourceAllocation):
  1. Normalize the week key; assert it is a week start (strict mode)
  2. Select ALL rows for (project, resource, company) inside the week
     window - deliberately NOT filtered by resource_type, because
     duplicates have been observed under a different type for the same
     resource and week
  3. >=2 rows: delete all, insert exactly one canonical row
  4. exactly 1: update in place, forcing the canonical date and the
     requested resource_type
  5. 0 rows: insert

  Postcondition: exactly one row with the requested hours and type.

KNOWN RACE:
  Two concurrent saves for the same key each read-then-write. Both on
  the update branch: last write wins, acceptable. One on the repair
  branch while the other updates a soon-to-be-deleted row: the update
  can be silently lost. The store contract offers no compare-and-swap,
  so this is documented rather than fixed.

FAILURE:
  Each branch is a single delete+insert or a single update; any store
  error aborts the call with no partial mutation by this call and no
  optimistic local state. The error is surfaced once per window through
  the notifier.

SEE ALSO:
  - store.go:  The Select/Insert/Update/Delete contract
  - reader.go: Defensive summing while duplicates still exist
*/
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Writer implements the converging "set hours for this week" operation
// for a single tenant.
type Writer struct {
	store     Store
	company   CompanyID
	weekStart WeekStartDay
	notifier  Notifier
	log       zerolog.Logger
}

// NewWriter builds a Writer. A nil notifier is replaced by NopNotifier.
func NewWriter(store Store, company CompanyID, weekStart WeekStartDay, notifier Notifier, log zerolog.Logger) *Writer {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Writer{
		store:     store,
		company:   company,
		weekStart: weekStart,
		notifier:  notifier,
		log:       log.With().Str("component", "allocation-writer").Logger(),
	}
}

// SaveResourceAllocation converges the store to exactly one row for
// (project, resource, company, week) carrying the requested hours and
// resource type.
func (w *Writer) SaveResourceAllocation(ctx context.Context, project ProjectID, resource ResourceID, rt ResourceType, week time.Time, hours decimal.Decimal) error {
	if hours.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeHours, hours)
	}
	if !rt.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResourceType, rt)
	}

	key := NormalizeToWeekStart(week, w.weekStart)
	if err := AssertIsWeekStart(WeekKey(DateOf(week)), w.weekStart); err != nil {
		// Non-strict builds log and continue with the normalized key.
		w.log.Warn().Err(err).Str("week", key.String()).Msg("caller passed a non-normalized week key")
	}

	window := key.Range()
	// Intentionally no resource_type predicate here, see file header.
	rows, err := w.store.Select(ctx, Filter{
		ProjectID:  project,
		ResourceID: resource,
		CompanyID:  w.company,
		DateFrom:   &window.Start,
		DateTo:     &window.End,
	})
	if err != nil {
		return w.fail(fmt.Errorf("save allocation %s/%s week %s: select: %w", project, resource, key, err))
	}

	switch {
	case len(rows) >= 2:
		// Repair branch: collapse corrupt multiplicity into one row.
		ids := make([]RecordID, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		if err := w.store.DeleteByIDs(ctx, ids); err != nil {
			return w.fail(fmt.Errorf("save allocation %s/%s week %s: delete duplicates: %w", project, resource, key, err))
		}
		if _, err := w.store.Insert(ctx, w.canonicalRow(project, resource, rt, key, hours)); err != nil {
			return w.fail(fmt.Errorf("save allocation %s/%s week %s: reinsert: %w", project, resource, key, err))
		}
		w.log.Info().
			Str("project", string(project)).
			Str("resource", string(resource)).
			Str("week", key.String()).
			Int("duplicates", len(rows)).
			Msg("repaired duplicate allocation rows")

	case len(rows) == 1:
		row := rows[0]
		row.Hours = hours
		// Force the canonical date so a row previously stamped mid-week
		// gets normalized on this write.
		row.AllocationDate = key.Time()
		row.ResourceType = rt
		if _, err := w.store.Update(ctx, row); err != nil {
			return w.fail(fmt.Errorf("save allocation %s/%s week %s: update: %w", project, resource, key, err))
		}

	default:
		// Rows are only created on the first allocation of hours > 0.
		if hours.IsZero() {
			return nil
		}
		if _, err := w.store.Insert(ctx, w.canonicalRow(project, resource, rt, key, hours)); err != nil {
			return w.fail(fmt.Errorf("save allocation %s/%s week %s: insert: %w", project, resource, key, err))
		}
	}

	return nil
}

// DeleteResourceAllocation removes the single allocation for the exact
// (project, resource, resource_type, week) key. Unlike the converging
// save, the match includes resource_type: the narrower semantics of
// "remove this specific allocation", not "converge this week".
func (w *Writer) DeleteResourceAllocation(ctx context.Context, project ProjectID, resource ResourceID, rt ResourceType, week time.Time) error {
	key := NormalizeToWeekStart(week, w.weekStart)
	day := key.Time()
	end := day.AddDate(0, 0, 1)

	_, err := w.store.Delete(ctx, Filter{
		ProjectID:    project,
		ResourceID:   resource,
		CompanyID:    w.company,
		ResourceType: TypeFilter(rt),
		DateFrom:     &day,
		DateTo:       &end,
	})
	if err != nil {
		return w.fail(fmt.Errorf("delete allocation %s/%s week %s: %w", project, resource, key, err))
	}
	return nil
}

// DeleteAllResourceAllocationsForProject removes every allocation row
// for the resource on the project, all weeks. Used when a resource is
// unassigned from a project entirely.
func (w *Writer) DeleteAllResourceAllocationsForProject(ctx context.Context, project ProjectID, resource ResourceID, rt ResourceType) error {
	n, err := w.store.Delete(ctx, Filter{
		ProjectID:    project,
		ResourceID:   resource,
		CompanyID:    w.company,
		ResourceType: TypeFilter(rt),
	})
	if err != nil {
		return w.fail(fmt.Errorf("unassign %s from %s: %w", resource, project, err))
	}
	w.log.Info().
		Str("project", string(project)).
		Str("resource", string(resource)).
		Int("rows", n).
		Msg("removed all allocations for resource")
	return nil
}

func (w *Writer) canonicalRow(project ProjectID, resource ResourceID, rt ResourceType, key WeekKey, hours decimal.Decimal) Record {
	return Record{
		ProjectID:      project,
		ResourceID:     resource,
		ResourceType:   rt,
		AllocationDate: key.Time(),
		Hours:          hours,
		CompanyID:      w.company,
	}
}

func (w *Writer) fail(err error) error {
	w.log.Error().Err(err).Msg("allocation write failed")
	w.notifier.NotifyError(err)
	return err
}
