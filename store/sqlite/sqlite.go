/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements allocation.Store, allocation.TenantConfig, and
  allocation.ResourceDirectory on SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  allocations:     Allocation rows (project x resource x date x hours)
  tenant_settings: Week start day and weekly capacity per company
  resources:       Directory of resource profiles

INVARIANT:
  There is deliberately NO uniqueness constraint on
  (project_id, resource_id, company_id, week). The schema mirrors the
  production storage layer the engine compensates for: the Writer's
  delete-duplicates-then-insert repair is the enforcement mechanism,
  and the tests seed duplicate rows through this store to prove it.

VERSIONING:
  Every mutation takes the next value of a store-wide monotonic
  sequence and stamps it on the affected row. Change events carry that
  version so subscribers can resolve out-of-order delivery with
  apply-if-newer semantics.

CHANGE STREAM:
  SQLite has no server-side notification primitive, so the store fans
  its own successful mutations out to in-process subscriptions after
  commit. Filters are matched with allocation.Filter.Matches, the same
  predicate logic the queries translate to SQL.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/alloc.db", log)
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - allocation/store.go: Interface contract
  - allocation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
)

const dateFormat = "2006-01-02"

// Store implements the allocation storage interfaces using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	version uint64

	subMu  sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool

	log zerolog.Logger
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:   db,
		subs: make(map[int]*subscription),
		log:  log.With().Str("component", "sqlite-store").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.loadVersion(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load version sequence: %w", err)
	}
	return s, nil
}

// Close shuts down subscriptions and the database connection.
func (s *Store) Close() error {
	s.subMu.Lock()
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		sub.shutdown()
	}
	s.subMu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Allocation rows. NOTE: no uniqueness constraint on
	-- (project_id, resource_id, company_id, week) on purpose; the Writer
	-- converges toward that invariant at runtime.
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		allocation_date TEXT NOT NULL,
		hours TEXT NOT NULL,
		company_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: the Writer's window select and the Reader's range scans
	CREATE INDEX IF NOT EXISTS idx_allocations_key_date
		ON allocations(project_id, resource_id, company_id, allocation_date);
	CREATE INDEX IF NOT EXISTS idx_allocations_resource_date
		ON allocations(company_id, resource_id, allocation_date);

	-- Tenant planning settings
	CREATE TABLE IF NOT EXISTS tenant_settings (
		company_id TEXT PRIMARY KEY,
		week_start TEXT NOT NULL,
		capacity_hours TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Resource directory
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) loadVersion() error {
	return s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM allocations").Scan(&s.version)
}

func (s *Store) nextVersion() uint64 {
	// Caller holds s.mu.
	s.version++
	return s.version
}

// =============================================================================
// ALLOCATION STORE (allocation.Store interface)
// =============================================================================

// Select returns matching rows ordered by allocation_date ascending.
func (s *Store) Select(ctx context.Context, f allocation.Filter) ([]allocation.Record, error) {
	where, args := buildWhere(f)
	query := `
		SELECT id, project_id, resource_id, resource_type, allocation_date,
		       hours, company_id, version, created_at, updated_at
		FROM allocations
	` + where + `
		ORDER BY allocation_date ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var records []allocation.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Insert stores a new row, assigning ID and version.
func (s *Store) Insert(ctx context.Context, r allocation.Record) (allocation.Record, error) {
	s.mu.Lock()
	if r.ID == "" {
		r.ID = allocation.RecordID(uuid.NewString())
	}
	r.Version = s.nextVersion()
	r.AllocationDate = allocation.DateOf(r.AllocationDate)
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allocations
		(id, project_id, resource_id, resource_type, allocation_date, hours, company_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ProjectID, r.ResourceID, r.ResourceType,
		r.AllocationDate.Format(dateFormat), r.Hours.String(), r.CompanyID,
		r.Version, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	s.mu.Unlock()

	if err != nil {
		return allocation.Record{}, fmt.Errorf("failed to insert allocation: %w", err)
	}
	s.publish(allocation.ChangeEvent{Type: allocation.EventInsert, Record: r})
	return r, nil
}

// Update rewrites the row with r.ID, bumping the version. Returns
// allocation.ErrRecordNotFound when the row no longer exists.
func (s *Store) Update(ctx context.Context, r allocation.Record) (allocation.Record, error) {
	s.mu.Lock()
	r.Version = s.nextVersion()
	r.AllocationDate = allocation.DateOf(r.AllocationDate)
	now := time.Now().UTC()
	r.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		UPDATE allocations
		SET project_id = ?, resource_id = ?, resource_type = ?, allocation_date = ?,
		    hours = ?, company_id = ?, version = ?, updated_at = ?
		WHERE id = ?
	`,
		r.ProjectID, r.ResourceID, r.ResourceType, r.AllocationDate.Format(dateFormat),
		r.Hours.String(), r.CompanyID, r.Version, now.Format(time.RFC3339), r.ID,
	)
	s.mu.Unlock()

	if err != nil {
		return allocation.Record{}, fmt.Errorf("failed to update allocation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return allocation.Record{}, allocation.ErrRecordNotFound
	}
	s.publish(allocation.ChangeEvent{Type: allocation.EventUpdate, Record: r})
	return r, nil
}

// Delete removes all rows matching the filter and returns how many.
func (s *Store) Delete(ctx context.Context, f allocation.Filter) (int, error) {
	// Read the doomed rows first so delete events carry pre-images.
	victims, err := s.Select(ctx, f)
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	ids := make([]allocation.RecordID, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	if err := s.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(victims), nil
}

// DeleteByIDs removes the identified rows. Missing IDs are ignored so
// the repair branch tolerates racing with a concurrent delete.
func (s *Store) DeleteByIDs(ctx context.Context, ids []allocation.RecordID) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	var removed []allocation.Record
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, project_id, resource_id, resource_type, allocation_date,
			       hours, company_id, version, created_at, updated_at
			FROM allocations WHERE id = ?
		`, id)
		r, err := scanRecord(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}

		if _, err := s.db.ExecContext(ctx, "DELETE FROM allocations WHERE id = ?", id); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to delete allocation %s: %w", id, err)
		}
		r.Version = s.nextVersion()
		removed = append(removed, r)
	}
	s.mu.Unlock()

	for _, r := range removed {
		s.publish(allocation.ChangeEvent{Type: allocation.EventDelete, Record: r})
	}
	return nil
}

func buildWhere(f allocation.Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if len(f.ResourceIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.ResourceIDs)), ",")
		clauses = append(clauses, "resource_id IN ("+placeholders+")")
		for _, id := range f.ResourceIDs {
			args = append(args, id)
		}
	}
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.ResourceType != nil {
		clauses = append(clauses, "resource_type = ?")
		args = append(args, *f.ResourceType)
	}
	if f.DateFrom != nil {
		clauses = append(clauses, "allocation_date >= ?")
		args = append(args, allocation.DateOf(*f.DateFrom).Format(dateFormat))
	}
	if f.DateTo != nil {
		clauses = append(clauses, "allocation_date < ?")
		args = append(args, allocation.DateOf(*f.DateTo).Format(dateFormat))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (allocation.Record, error) {
	var (
		r         allocation.Record
		date      string
		hours     string
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&r.ID, &r.ProjectID, &r.ResourceID, &r.ResourceType,
		&date, &hours, &r.CompanyID, &r.Version, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return r, err
	}
	if err != nil {
		return r, fmt.Errorf("failed to scan allocation: %w", err)
	}

	r.AllocationDate, err = time.Parse(dateFormat, date)
	if err != nil {
		return r, fmt.Errorf("corrupt allocation_date %q: %w", date, err)
	}
	r.Hours, err = decimal.NewFromString(hours)
	if err != nil {
		return r, fmt.Errorf("corrupt hours %q: %w", hours, err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	return r, nil
}

// =============================================================================
// SUBSCRIPTIONS - In-process change stream
// =============================================================================

const subscriptionBuffer = 64

type subscription struct {
	id     int
	filter allocation.Filter
	events chan allocation.ChangeEvent
	parent *Store
	once   sync.Once
}

func (s *subscription) Events() <-chan allocation.ChangeEvent { return s.events }

func (s *subscription) Close() {
	s.parent.subMu.Lock()
	delete(s.parent.subs, s.id)
	s.parent.subMu.Unlock()
	s.shutdown()
}

func (s *subscription) shutdown() {
	s.once.Do(func() { close(s.events) })
}

// Subscribe returns a change stream scoped by the filter.
func (s *Store) Subscribe(f allocation.Filter) allocation.Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	sub := &subscription{
		id:     s.nextID,
		filter: f,
		events: make(chan allocation.ChangeEvent, subscriptionBuffer),
		parent: s,
	}
	if s.closed {
		sub.shutdown()
		return sub
	}
	s.subs[sub.id] = sub
	return sub
}

func (s *Store) publish(ev allocation.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subs {
		if !sub.filter.Matches(ev.Record) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// Slow consumer: drop rather than block writers. The consumer
			// recovers with a full refetch.
			s.log.Warn().Int("subscription", sub.id).Msg("dropping change event for slow subscriber")
		}
	}
}
