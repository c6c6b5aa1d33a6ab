// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/allocation-engine/allocation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory allocation.Store. Rows are versioned with a
// store-wide monotonic counter and every mutation fans out to matching
// subscriptions.
type Memory struct {
	mu      sync.RWMutex
	rows    map[allocation.RecordID]allocation.Record
	version uint64

	subMu  sync.Mutex
	subs   map[int]*memorySub
	nextID int
	closed bool

	log zerolog.Logger
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		rows: make(map[allocation.RecordID]allocation.Record),
		subs: make(map[int]*memorySub),
		log:  zerolog.Nop(),
	}
}

// Select returns matching rows ordered by allocation_date ascending.
func (m *Memory) Select(_ context.Context, f allocation.Filter) ([]allocation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []allocation.Record
	for _, r := range m.rows {
		if f.Matches(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AllocationDate.Equal(result[j].AllocationDate) {
			return result[i].ID < result[j].ID
		}
		return result[i].AllocationDate.Before(result[j].AllocationDate)
	})
	return result, nil
}

// Insert stores a new row, assigning ID and version.
func (m *Memory) Insert(_ context.Context, r allocation.Record) (allocation.Record, error) {
	m.mu.Lock()
	if r.ID == "" {
		r.ID = allocation.RecordID(uuid.NewString())
	}
	m.version++
	r.Version = m.version
	r.AllocationDate = allocation.DateOf(r.AllocationDate)
	m.rows[r.ID] = r
	m.mu.Unlock()

	m.publish(allocation.ChangeEvent{Type: allocation.EventInsert, Record: r})
	return r, nil
}

// Update rewrites the row with r.ID, bumping the version.
func (m *Memory) Update(_ context.Context, r allocation.Record) (allocation.Record, error) {
	m.mu.Lock()
	if _, ok := m.rows[r.ID]; !ok {
		m.mu.Unlock()
		return allocation.Record{}, allocation.ErrRecordNotFound
	}
	m.version++
	r.Version = m.version
	r.AllocationDate = allocation.DateOf(r.AllocationDate)
	m.rows[r.ID] = r
	m.mu.Unlock()

	m.publish(allocation.ChangeEvent{Type: allocation.EventUpdate, Record: r})
	return r, nil
}

// Delete removes all rows matching the filter.
func (m *Memory) Delete(_ context.Context, f allocation.Filter) (int, error) {
	m.mu.Lock()
	var removed []allocation.Record
	for id, r := range m.rows {
		if f.Matches(r) {
			removed = append(removed, r)
			delete(m.rows, id)
		}
	}
	for i := range removed {
		m.version++
		removed[i].Version = m.version
	}
	m.mu.Unlock()

	for _, r := range removed {
		m.publish(allocation.ChangeEvent{Type: allocation.EventDelete, Record: r})
	}
	return len(removed), nil
}

// DeleteByIDs removes the identified rows. Missing IDs are ignored.
func (m *Memory) DeleteByIDs(_ context.Context, ids []allocation.RecordID) error {
	m.mu.Lock()
	var removed []allocation.Record
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			m.version++
			r.Version = m.version
			removed = append(removed, r)
			delete(m.rows, id)
		}
	}
	m.mu.Unlock()

	for _, r := range removed {
		m.publish(allocation.ChangeEvent{Type: allocation.EventDelete, Record: r})
	}
	return nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

const subscriptionBuffer = 64

type memorySub struct {
	id     int
	filter allocation.Filter
	events chan allocation.ChangeEvent
	parent *Memory
	once   sync.Once
}

func (s *memorySub) Events() <-chan allocation.ChangeEvent { return s.events }

func (s *memorySub) Close() {
	s.parent.subMu.Lock()
	delete(s.parent.subs, s.id)
	s.parent.subMu.Unlock()
	s.shutdown()
}

// shutdown closes the event channel exactly once, whether triggered by
// the subscriber or by the store shutting down.
func (s *memorySub) shutdown() {
	s.once.Do(func() { close(s.events) })
}

// Subscribe returns a change stream scoped by the filter.
func (m *Memory) Subscribe(f allocation.Filter) allocation.Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.nextID++
	sub := &memorySub{
		id:     m.nextID,
		filter: f,
		events: make(chan allocation.ChangeEvent, subscriptionBuffer),
		parent: m,
	}
	if m.closed {
		sub.shutdown()
		return sub
	}
	m.subs[sub.id] = sub
	return sub
}

func (m *Memory) publish(ev allocation.ChangeEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, sub := range m.subs {
		if !sub.filter.Matches(ev.Record) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// Slow consumer: drop rather than block writers. The consumer
			// recovers with a full refetch.
			m.log.Warn().Int("subscription", sub.id).Msg("dropping change event for slow subscriber")
		}
	}
}

// Close shuts the store down and closes all subscriptions.
func (m *Memory) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.subs {
		delete(m.subs, id)
		sub.shutdown()
	}
}
