/*
settings.go - Tenant settings and resource directory persistence

PURPOSE:
  Implements allocation.TenantConfig and allocation.ResourceDirectory
  on the same SQLite database as the allocation rows. Companies without
  a saved row fall back to Monday weeks and 40 capacity hours.

SEE ALSO:
  - allocation/tenant.go: Interface contracts and defaults
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
)

// TenantSettings is one company's planning configuration.
type TenantSettings struct {
	CompanyID     allocation.CompanyID
	WeekStart     allocation.WeekStartDay
	CapacityHours decimal.Decimal
}

// DefaultSettings is what companies get before saving anything.
func DefaultSettings(company allocation.CompanyID) TenantSettings {
	return TenantSettings{
		CompanyID:     company,
		WeekStart:     allocation.WeekStartMonday,
		CapacityHours: decimal.NewFromInt(40),
	}
}

// =============================================================================
// TENANT CONFIG (allocation.TenantConfig interface)
// =============================================================================

// GetSettings returns the stored settings for a company, or defaults.
func (s *Store) GetSettings(ctx context.Context, company allocation.CompanyID) (TenantSettings, error) {
	var (
		weekStart string
		capacity  string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT week_start, capacity_hours FROM tenant_settings WHERE company_id = ?",
		company,
	).Scan(&weekStart, &capacity)
	if err == sql.ErrNoRows {
		return DefaultSettings(company), nil
	}
	if err != nil {
		return TenantSettings{}, fmt.Errorf("failed to load settings for %s: %w", company, err)
	}

	start, err := allocation.ParseWeekStartDay(weekStart)
	if err != nil {
		return TenantSettings{}, fmt.Errorf("corrupt settings for %s: %w", company, err)
	}
	hours, err := decimal.NewFromString(capacity)
	if err != nil {
		return TenantSettings{}, fmt.Errorf("corrupt capacity for %s: %w", company, err)
	}
	return TenantSettings{CompanyID: company, WeekStart: start, CapacityHours: hours}, nil
}

// SaveSettings upserts a company's settings.
func (s *Store) SaveSettings(ctx context.Context, settings TenantSettings) error {
	if !settings.WeekStart.Valid() {
		return fmt.Errorf("%w: %q", allocation.ErrUnknownWeekStart, settings.WeekStart)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (company_id, week_start, capacity_hours, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			week_start = excluded.week_start,
			capacity_hours = excluded.capacity_hours,
			updated_at = excluded.updated_at
	`,
		settings.CompanyID, settings.WeekStart, settings.CapacityHours.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", settings.CompanyID, err)
	}
	return nil
}

// WeekStartDay implements allocation.TenantConfig.
func (s *Store) WeekStartDay(ctx context.Context, company allocation.CompanyID) (allocation.WeekStartDay, error) {
	settings, err := s.GetSettings(ctx, company)
	if err != nil {
		return "", err
	}
	return settings.WeekStart, nil
}

// StandardCapacityHours implements allocation.TenantConfig.
func (s *Store) StandardCapacityHours(ctx context.Context, company allocation.CompanyID) (decimal.Decimal, error) {
	settings, err := s.GetSettings(ctx, company)
	if err != nil {
		return decimal.Zero, err
	}
	return settings.CapacityHours, nil
}

// =============================================================================
// RESOURCE DIRECTORY (allocation.ResourceDirectory interface)
// =============================================================================

// UpsertResource stores or refreshes a directory profile.
func (s *Store) UpsertResource(ctx context.Context, p allocation.ResourceProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, name, resource_type, deleted, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			resource_type = excluded.resource_type,
			deleted = excluded.deleted
	`,
		p.ID, p.Name, p.Type, p.Deleted, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", p.ID, err)
	}
	return nil
}

// Lookup implements allocation.ResourceDirectory.
func (s *Store) Lookup(ctx context.Context, id allocation.ResourceID) (allocation.ResourceProfile, error) {
	var p allocation.ResourceProfile
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, resource_type, deleted FROM resources WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &p.Type, &p.Deleted)
	if err == sql.ErrNoRows {
		return allocation.ResourceProfile{}, allocation.ErrResourceNotFound
	}
	if err != nil {
		return allocation.ResourceProfile{}, fmt.Errorf("failed to look up resource %s: %w", id, err)
	}
	return p, nil
}

// ListResources returns all non-deleted directory profiles.
func (s *Store) ListResources(ctx context.Context) ([]allocation.ResourceProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, resource_type, deleted FROM resources WHERE deleted = FALSE ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var profiles []allocation.ResourceProfile
	for rows.Next() {
		var p allocation.ResourceProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
