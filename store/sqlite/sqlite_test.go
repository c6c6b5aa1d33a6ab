package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func record(project allocation.ProjectID, resource allocation.ResourceID, date time.Time, h int64) allocation.Record {
	return allocation.Record{
		ProjectID:      project,
		ResourceID:     resource,
		ResourceType:   allocation.ResourceActive,
		AllocationDate: date,
		Hours:          decimal.NewFromInt(h),
		CompanyID:      "acme",
	}
}

var monday = time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC)

// =============================================================================
// CRUD AND FILTER TRANSLATION
// =============================================================================

func TestSQLite_InsertAndSelectRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	saved, err := st.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, uint64(1), saved.Version)

	rows, err := st.Select(ctx, allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, saved.ID, rows[0].ID)
	assert.Equal(t, monday, rows[0].AllocationDate)
	assert.True(t, rows[0].Hours.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, allocation.ResourceActive, rows[0].ResourceType)
}

func TestSQLite_HoursPrecisionSurvivesStorage(t *testing.T) {
	// Hours are stored as decimal strings, never floats.

	st := newStore(t)
	ctx := context.Background()

	r := record("p1", "r1", monday, 0)
	r.Hours = decimal.RequireFromString("7.25")
	_, err := st.Insert(ctx, r)
	require.NoError(t, err)

	rows, err := st.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7.25", rows[0].Hours.String())
}

func TestSQLite_SelectTranslatesEveryFilterField(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)
	_, err = st.Insert(ctx, record("p1", "r2", monday, 20))
	require.NoError(t, err)
	pre := record("p1", "r3", monday, 30)
	pre.ResourceType = allocation.ResourcePreRegistered
	_, err = st.Insert(ctx, pre)
	require.NoError(t, err)
	_, err = st.Insert(ctx, record("p1", "r1", monday.AddDate(0, 0, 7), 40))
	require.NoError(t, err)

	// IN clause across several resources
	rows, err := st.Select(ctx, allocation.Filter{
		ProjectID:   "p1",
		CompanyID:   "acme",
		ResourceIDs: []allocation.ResourceID{"r1", "r2"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Type filter
	rt := allocation.ResourcePreRegistered
	rows, err = st.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme", ResourceType: &rt})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, allocation.ResourceID("r3"), rows[0].ResourceID)

	// Half-open date window keeps the start, drops the end
	from := monday
	to := monday.AddDate(0, 0, 7)
	rows, err = st.Select(ctx, allocation.Filter{
		ProjectID:  "p1",
		ResourceID: "r1",
		CompanyID:  "acme",
		DateFrom:   &from,
		DateTo:     &to,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, monday, rows[0].AllocationDate)
}

func TestSQLite_SelectOrdersByDateThenID(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, record("p1", "r1", monday.AddDate(0, 0, 14), 30))
	require.NoError(t, err)
	_, err = st.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)

	rows, err := st.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].AllocationDate.Before(rows[1].AllocationDate))
}

func TestSQLite_UpdateBumpsVersion(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	saved, err := st.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)

	saved.Hours = decimal.NewFromInt(25)
	updated, err := st.Update(ctx, saved)
	require.NoError(t, err)
	assert.Greater(t, updated.Version, saved.Version)

	rows, err := st.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Hours.Equal(decimal.NewFromInt(25)))
}

func TestSQLite_UpdateMissingRow(t *testing.T) {
	st := newStore(t)

	r := record("p1", "r1", monday, 20)
	r.ID = "ghost"
	_, err := st.Update(context.Background(), r)
	assert.ErrorIs(t, err, allocation.ErrRecordNotFound)
}

func TestSQLite_DeleteByFilterReportsCount(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)
	_, err = st.Insert(ctx, record("p1", "r1", monday.AddDate(0, 0, 2), 15))
	require.NoError(t, err)
	_, err = st.Insert(ctx, record("p1", "r2", monday, 20))
	require.NoError(t, err)

	n, err := st.Delete(ctx, allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := st.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, allocation.ResourceID("r2"), rows[0].ResourceID)
}

func TestSQLite_DeleteByIDsIgnoresMissing(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	saved, err := st.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)

	require.NoError(t, st.DeleteByIDs(ctx, []allocation.RecordID{saved.ID, "missing"}))

	rows, err := st.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// VERSION SEQUENCE
// =============================================================================

func TestSQLite_VersionSequenceSurvivesReopen(t *testing.T) {
	// Reopening resumes from MAX(version), so versions stay monotonic
	// across restarts.

	path := t.TempDir() + "/alloc.db"

	st, err := sqlite.New(path, zerolog.Nop())
	require.NoError(t, err)
	first, err := st.Insert(context.Background(), record("p1", "r1", monday, 10))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st2, err := sqlite.New(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st2.Close() })

	second, err := st2.Insert(context.Background(), record("p1", "r1", monday.AddDate(0, 0, 7), 20))
	require.NoError(t, err)
	assert.Greater(t, second.Version, first.Version)
}

// =============================================================================
// CHANGE STREAM
// =============================================================================

func nextEvent(t *testing.T, sub allocation.Subscription) allocation.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return allocation.ChangeEvent{}
	}
}

func TestSQLite_SubscriptionSeesLifecycle(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sub := st.Subscribe(allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	t.Cleanup(sub.Close)

	saved, err := st.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)
	ev := nextEvent(t, sub)
	assert.Equal(t, allocation.EventInsert, ev.Type)

	saved.Hours = decimal.NewFromInt(15)
	_, err = st.Update(ctx, saved)
	require.NoError(t, err)
	ev = nextEvent(t, sub)
	assert.Equal(t, allocation.EventUpdate, ev.Type)
	assert.True(t, ev.Record.Hours.Equal(decimal.NewFromInt(15)))

	_, err = st.Delete(ctx, allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	require.NoError(t, err)
	ev = nextEvent(t, sub)
	assert.Equal(t, allocation.EventDelete, ev.Type)
	assert.Equal(t, saved.ID, ev.Record.ID)
	assert.Greater(t, ev.Record.Version, saved.Version, "delete events order after the write they undo")
}

func TestSQLite_SubscriptionFilterExcludesOtherCompanies(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sub := st.Subscribe(allocation.Filter{CompanyID: "acme"})
	t.Cleanup(sub.Close)

	other := record("p1", "r1", monday, 10)
	other.CompanyID = "globex"
	_, err := st.Insert(ctx, other)
	require.NoError(t, err)

	ours, err := st.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, ours.ID, ev.Record.ID, "cross-tenant events must not leak")
}

// =============================================================================
// TENANT SETTINGS
// =============================================================================

func TestSQLite_SettingsDefaultThenPersist(t *testing.T) {
	// GIVEN: A company that never saved settings
	// WHEN: Loading, then saving Sunday/32h, then loading again
	// THEN: Defaults first, saved values after

	st := newStore(t)
	ctx := context.Background()

	settings, err := st.GetSettings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, allocation.WeekStartMonday, settings.WeekStart)
	assert.True(t, settings.CapacityHours.Equal(decimal.NewFromInt(40)))

	settings.WeekStart = allocation.WeekStartSunday
	settings.CapacityHours = decimal.NewFromInt(32)
	require.NoError(t, st.SaveSettings(ctx, settings))

	reloaded, err := st.GetSettings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, allocation.WeekStartSunday, reloaded.WeekStart)
	assert.True(t, reloaded.CapacityHours.Equal(decimal.NewFromInt(32)))

	// TenantConfig view of the same data
	start, err := st.WeekStartDay(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, allocation.WeekStartSunday, start)
}

func TestSQLite_SaveSettingsRejectsUnknownWeekStart(t *testing.T) {
	st := newStore(t)

	err := st.SaveSettings(context.Background(), sqlite.TenantSettings{
		CompanyID:     "acme",
		WeekStart:     "wednesday",
		CapacityHours: decimal.NewFromInt(40),
	})
	assert.ErrorIs(t, err, allocation.ErrUnknownWeekStart)
}

func TestSQLite_SettingsAreScopedPerCompany(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveSettings(ctx, sqlite.TenantSettings{
		CompanyID:     "acme",
		WeekStart:     allocation.WeekStartSaturday,
		CapacityHours: decimal.NewFromInt(36),
	}))

	other, err := st.GetSettings(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, allocation.WeekStartMonday, other.WeekStart)
}

// =============================================================================
// RESOURCE DIRECTORY
// =============================================================================

func TestSQLite_ResourceDirectory(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertResource(ctx, allocation.ResourceProfile{
		ID: "r1", Name: "Ada", Type: allocation.ResourceActive,
	}))
	require.NoError(t, st.UpsertResource(ctx, allocation.ResourceProfile{
		ID: "r2", Name: "Placeholder dev", Type: allocation.ResourcePreRegistered,
	}))

	p, err := st.Lookup(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)

	_, err = st.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, allocation.ErrResourceNotFound)

	// Soft-deleted profiles stay addressable but drop out of listings.
	require.NoError(t, st.UpsertResource(ctx, allocation.ResourceProfile{
		ID: "r2", Name: "Placeholder dev", Type: allocation.ResourcePreRegistered, Deleted: true,
	}))

	list, err := st.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, allocation.ResourceID("r1"), list[0].ID)

	deleted, err := st.Lookup(ctx, "r2")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
}
