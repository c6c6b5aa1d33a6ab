package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/allocation/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

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
// CRUD
// =============================================================================

func TestMemory_InsertAssignsIDAndVersion(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)

	saved, err := m.Insert(context.Background(), record("p1", "r1", monday, 20))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, uint64(1), saved.Version)
}

func TestMemory_VersionsAreStoreWideMonotonic(t *testing.T) {
	// Every mutation bumps a single counter, so ordering is comparable
	// across rows, not just within one.

	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	a, err := m.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)
	b, err := m.Insert(ctx, record("p1", "r2", monday, 10))
	require.NoError(t, err)
	a.Hours = decimal.NewFromInt(30)
	a2, err := m.Update(ctx, a)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a.Version)
	assert.Equal(t, uint64(2), b.Version)
	assert.Equal(t, uint64(3), a2.Version)
}

func TestMemory_UpdateMissingRow(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)

	r := record("p1", "r1", monday, 20)
	r.ID = "nope"
	_, err := m.Update(context.Background(), r)
	assert.ErrorIs(t, err, allocation.ErrRecordNotFound)
}

func TestMemory_InsertTruncatesDateToUTC(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)

	noon := time.Date(2024, time.March, 11, 12, 30, 0, 0, time.UTC)
	saved, err := m.Insert(context.Background(), record("p1", "r1", noon, 20))
	require.NoError(t, err)
	assert.Equal(t, monday, saved.AllocationDate)
}

func TestMemory_SelectFiltersAndOrders(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	_, err := m.Insert(ctx, record("p1", "r1", monday.AddDate(0, 0, 7), 10))
	require.NoError(t, err)
	_, err = m.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)
	_, err = m.Insert(ctx, record("p1", "r2", monday, 30))
	require.NoError(t, err)

	rows, err := m.Select(ctx, allocation.Filter{
		ProjectID:  "p1",
		ResourceID: "r1",
		CompanyID:  "acme",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, monday, rows[0].AllocationDate)
	assert.Equal(t, monday.AddDate(0, 0, 7), rows[1].AllocationDate)
}

func TestMemory_SelectDateWindowIsHalfOpen(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	_, err := m.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)
	_, err = m.Insert(ctx, record("p1", "r1", monday.AddDate(0, 0, 7), 20))
	require.NoError(t, err)

	from := monday
	to := monday.AddDate(0, 0, 7)
	rows, err := m.Select(ctx, allocation.Filter{
		ProjectID: "p1",
		CompanyID: "acme",
		DateFrom:  &from,
		DateTo:    &to,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, monday, rows[0].AllocationDate)
}

func TestMemory_DeleteByFilter(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	_, err := m.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)
	_, err = m.Insert(ctx, record("p1", "r2", monday, 20))
	require.NoError(t, err)

	n, err := m.Delete(ctx, allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := m.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, allocation.ResourceID("r2"), rows[0].ResourceID)
}

func TestMemory_DeleteByIDsIgnoresMissing(t *testing.T) {
	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	saved, err := m.Insert(ctx, record("p1", "r1", monday, 10))
	require.NoError(t, err)

	require.NoError(t, m.DeleteByIDs(ctx, []allocation.RecordID{saved.ID, "missing"}))

	rows, err := m.Select(ctx, allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// SUBSCRIPTIONS
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

func TestMemory_SubscriptionReceivesScopedEvents(t *testing.T) {
	// GIVEN: A subscription scoped to r1
	// WHEN: Rows for r1 and r2 are written
	// THEN: Only r1 events arrive

	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	sub := m.Subscribe(allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	t.Cleanup(sub.Close)

	_, err := m.Insert(ctx, record("p1", "r2", monday, 10))
	require.NoError(t, err)
	saved, err := m.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, allocation.EventInsert, ev.Type)
	assert.Equal(t, saved.ID, ev.Record.ID)
}

func TestMemory_DeleteEventsCarryPreImages(t *testing.T) {
	// Delete events keep the removed row's fields so consumers know which
	// cell to clear, with a fresh version so they order after the write.

	m := store.NewMemory()
	t.Cleanup(m.Close)
	ctx := context.Background()

	sub := m.Subscribe(allocation.Filter{ProjectID: "p1", CompanyID: "acme"})
	t.Cleanup(sub.Close)

	saved, err := m.Insert(ctx, record("p1", "r1", monday, 20))
	require.NoError(t, err)
	_ = nextEvent(t, sub)

	_, err = m.Delete(ctx, allocation.Filter{ProjectID: "p1", ResourceID: "r1", CompanyID: "acme"})
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, allocation.EventDelete, ev.Type)
	assert.Equal(t, saved.ID, ev.Record.ID)
	assert.Equal(t, monday, ev.Record.AllocationDate)
	assert.Greater(t, ev.Record.Version, saved.Version)
}

func TestMemory_CloseShutsDownSubscriptions(t *testing.T) {
	m := store.NewMemory()
	sub := m.Subscribe(allocation.Filter{CompanyID: "acme"})

	m.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel should be closed")

	assert.NotPanics(t, sub.Close)
	assert.NotPanics(t, m.Close)
}

func TestMemory_SubscribeAfterCloseReturnsClosedStream(t *testing.T) {
	m := store.NewMemory()
	m.Close()

	sub := m.Subscribe(allocation.Filter{CompanyID: "acme"})
	_, ok := <-sub.Events()
	assert.False(t, ok)
}
