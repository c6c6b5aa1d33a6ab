/*
reader.go - Aggregating reads

PURPOSE:
  Fetches allocation rows and folds them into week-keyed hour maps.
  Reads are defensive: rows are summed per normalized week key, so the
  brief windows where the store still contains duplicates (concurrent
  writers, legacy data the Writer has not touched yet) over-count
  nothing and lose nothing.

RANGE FALLBACK:
  An exact-week query that returns zero rows widens to a window around
  the target week and re-aggregates. Historical rows that predate
  normalization can sit a few days off their canonical key; the widened
  read trades strict correctness for availability on that data. This is
  a documented approximation, not a guarantee.

SEE ALSO:
  - writer.go: The converging writes the Reader tolerates gaps around
  - tenant.go: Placeholder synthesis for missing directory profiles
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DateRange is an optional [From, To) constraint on fetches.
type DateRange struct {
	From time.Time // inclusive
	To   time.Time // exclusive
}

// exactWeek reports whether the range covers exactly one week window.
func (r DateRange) exactWeek() bool {
	return r.To.Sub(r.From) == 7*24*time.Hour
}

// Reader aggregates allocation rows for a single tenant.
type Reader struct {
	store     Store
	company   CompanyID
	weekStart WeekStartDay
	directory ResourceDirectory
	log       zerolog.Logger
}

// NewReader builds a Reader. The directory may be nil when profile
// resolution is not needed.
func NewReader(store Store, company CompanyID, weekStart WeekStartDay, directory ResourceDirectory, log zerolog.Logger) *Reader {
	return &Reader{
		store:     store,
		company:   company,
		weekStart: weekStart,
		directory: directory,
		log:       log.With().Str("component", "allocation-reader").Logger(),
	}
}

// FetchResourceAllocations returns weekKey -> summed hours for one
// resource on one project, optionally restricted to a date range.
// Zero matching rows yield an empty, non-nil map: a valid state.
func (r *Reader) FetchResourceAllocations(ctx context.Context, project ProjectID, resource ResourceID, rt ResourceType, rng *DateRange) (WeekHours, error) {
	f := Filter{
		ProjectID:    project,
		ResourceID:   resource,
		CompanyID:    r.company,
		ResourceType: TypeFilter(rt),
	}
	if rng != nil {
		f.DateFrom = &rng.From
		f.DateTo = &rng.To
	}

	rows, err := r.store.Select(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetch allocations %s/%s: %w", project, resource, err)
	}

	if len(rows) == 0 && rng != nil && rng.exactWeek() {
		// Fallback: widen around the target week for pre-normalization
		// data. Rows found are still folded onto canonical keys.
		widened := DateRange{
			From: rng.From.AddDate(0, 0, -7),
			To:   rng.To.AddDate(0, 0, 7),
		}
		f.DateFrom = &widened.From
		f.DateTo = &widened.To
		rows, err = r.store.Select(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("fetch allocations %s/%s (widened): %w", project, resource, err)
		}
		if len(rows) > 0 {
			r.log.Debug().
				Str("project", string(project)).
				Str("resource", string(resource)).
				Int("rows", len(rows)).
				Msg("exact-week fetch empty, widened window matched legacy rows")
		}
	}

	return r.aggregate(rows), nil
}

// FetchPreciseDateAllocations aggregates one canonical week across many
// resources at once. Only active resources are counted: aggregate views
// like team workload must never double-count pre-registered placeholder
// entries for the same person.
func (r *Reader) FetchPreciseDateAllocations(ctx context.Context, project ProjectID, resourceIDs []ResourceID, selectedWeek time.Time, weekStart WeekStartDay) (AllocationSet, error) {
	key := NormalizeToWeekStart(selectedWeek, weekStart)
	window := key.Range()

	rows, err := r.store.Select(ctx, Filter{
		ProjectID:    project,
		ResourceIDs:  resourceIDs,
		CompanyID:    r.company,
		ResourceType: TypeFilter(ResourceActive),
		DateFrom:     &window.Start,
		DateTo:       &window.End,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch week %s allocations: %w", key, err)
	}

	set := make(AllocationSet, len(resourceIDs))
	for _, row := range rows {
		week := row.Week(r.weekStart)
		wh, ok := set[row.ResourceID]
		if !ok {
			wh = make(WeekHours)
			set[row.ResourceID] = wh
		}
		wh[week] = wh[week].Add(row.Hours)
	}
	return set, nil
}

// ResourceAllocations pairs a resource profile with its aggregated
// hours for presentation-facing consumers.
type ResourceAllocations struct {
	Resource ResourceProfile
	Weeks    WeekHours
}

// FetchTeamWorkload resolves directory profiles for a week's aggregate.
// A missing or failed profile lookup degrades to a placeholder entry
// rather than failing the whole fetch.
func (r *Reader) FetchTeamWorkload(ctx context.Context, project ProjectID, resourceIDs []ResourceID, selectedWeek time.Time) ([]ResourceAllocations, error) {
	set, err := r.FetchPreciseDateAllocations(ctx, project, resourceIDs, selectedWeek, r.weekStart)
	if err != nil {
		return nil, err
	}

	out := make([]ResourceAllocations, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		profile := PlaceholderProfile(id)
		if r.directory != nil {
			p, err := r.directory.Lookup(ctx, id)
			switch {
			case err == nil:
				profile = p
			case errors.Is(err, ErrResourceNotFound):
				r.log.Debug().Str("resource", string(id)).Msg("no profile for allocated resource, using placeholder")
			default:
				r.log.Warn().Err(err).Str("resource", string(id)).Msg("profile lookup failed, using placeholder")
			}
		}

		weeks := set[id]
		if weeks == nil {
			weeks = make(WeekHours)
		}
		out = append(out, ResourceAllocations{Resource: profile, Weeks: weeks})
	}
	return out, nil
}

func (r *Reader) aggregate(rows []Record) WeekHours {
	wh := make(WeekHours, len(rows))
	for _, row := range rows {
		key := row.Week(r.weekStart)
		wh[key] = wh[key].Add(row.Hours)
	}
	return wh
}
