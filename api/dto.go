/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// SaveAllocationRequest sets the hours for one resource/project/week.
type SaveAllocationRequest struct {
	ResourceType string          `json:"resource_type"`
	Week         string          `json:"week"`
	Hours        decimal.Decimal `json:"hours"`
}

// AllocationsDTO is the aggregated weekKey -> hours map for a resource.
type AllocationsDTO struct {
	ProjectID  string            `json:"project_id"`
	ResourceID string            `json:"resource_id"`
	Weeks      map[string]string `json:"weeks"`
}

// WorkloadEntryDTO is one resource's row in a team workload view.
type WorkloadEntryDTO struct {
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name"`
	ResourceType string            `json:"resource_type"`
	Deleted      bool              `json:"deleted,omitempty"`
	Weeks        map[string]string `json:"weeks"`
}

// WorkloadDTO is a project's workload for one week.
type WorkloadDTO struct {
	ProjectID string             `json:"project_id"`
	Week      string             `json:"week"`
	Resources []WorkloadEntryDTO `json:"resources"`
}

// UtilizationDTO reports utilization for one resource over a range.
type UtilizationDTO struct {
	ResourceID  string `json:"resource_id"`
	TotalHours  string `json:"total_hours"`
	Capacity    string `json:"capacity"`
	WeekCount   int    `json:"week_count"`
	Utilization string `json:"utilization"`
	Bucket      string `json:"bucket"`
}

// SettingsDTO carries a company's planning configuration.
type SettingsDTO struct {
	CompanyID     string `json:"company_id"`
	WeekStartDay  string `json:"week_start_day"`
	CapacityHours string `json:"capacity_hours"`
}

// ResourceDTO is a directory profile.
type ResourceDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
	Deleted      bool   `json:"deleted,omitempty"`
}

// CreateResourceRequest registers a directory profile.
type CreateResourceRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
}

// ErrorDTO is the uniform error envelope.
type ErrorDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func weeksToDTO(wh allocation.WeekHours) map[string]string {
	out := make(map[string]string, len(wh))
	for k, v := range wh {
		out[k.String()] = v.String()
	}
	return out
}
