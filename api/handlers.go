/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the engine via REST. Handlers parse HTTP, resolve the tenant,
  and delegate to the Writer/Reader; no week math or invariant logic
  lives here.

ENDPOINTS:
  Allocations:
    GET    /api/projects/{projectID}/resources/{resourceID}/allocations
    PUT    /api/projects/{projectID}/resources/{resourceID}/allocations
    DELETE /api/projects/{projectID}/resources/{resourceID}/allocations

  Aggregates:
    GET    /api/projects/{projectID}/workload
    GET    /api/projects/{projectID}/resources/{resourceID}/utilization

  Tenant:
    GET    /api/settings
    PUT    /api/settings

  Directory:
    GET    /api/resources
    POST   /api/resources

TENANCY:
  Tenant resolution is an external collaborator; the API trusts the
  X-Company-ID header and defaults to "default". Authentication and
  authorization are out of scope here.

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Notifier allocation.Notifier
	Log      zerolog.Logger
}

// NewHandler creates a handler around the given store.
func NewHandler(store *sqlite.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Store: store,
		Notifier: allocation.NewRateLimitedNotifier(
			10*time.Second,
			func(err error) { log.Error().Err(err).Msg("allocation operation failed") },
			nil,
			log,
		),
		Log: log,
	}
}

func (h *Handler) company(r *http.Request) allocation.CompanyID {
	if c := r.Header.Get("X-Company-ID"); c != "" {
		return allocation.CompanyID(c)
	}
	return "default"
}

// writer builds a tenant-scoped Writer for the request.
func (h *Handler) writer(r *http.Request) (*allocation.Writer, error) {
	company := h.company(r)
	start, err := h.Store.WeekStartDay(r.Context(), company)
	if err != nil {
		return nil, err
	}
	return allocation.NewWriter(h.Store, company, start, h.Notifier, h.Log), nil
}

// reader builds a tenant-scoped Reader for the request.
func (h *Handler) reader(r *http.Request) (*allocation.Reader, error) {
	company := h.company(r)
	start, err := h.Store.WeekStartDay(r.Context(), company)
	if err != nil {
		return nil, err
	}
	return allocation.NewReader(h.Store, company, start, h.Store, h.Log), nil
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// SaveAllocation converges the store to one row for the requested week.
func (h *Handler) SaveAllocation(w http.ResponseWriter, r *http.Request) {
	project := allocation.ProjectID(chi.URLParam(r, "projectID"))
	resource := allocation.ResourceID(chi.URLParam(r, "resourceID"))

	var req SaveAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	week, err := time.Parse("2006-01-02", req.Week)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid week date", err)
		return
	}
	rt := allocation.ResourceType(req.ResourceType)
	if rt == "" {
		rt = allocation.ResourceActive
	}

	writer, err := h.writer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve tenant settings", err)
		return
	}

	if err := writer.SaveResourceAllocation(r.Context(), project, resource, rt, week, req.Hours); err != nil {
		if allocation.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "Invalid allocation", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save allocation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllocation removes one week's allocation, or every allocation
// for the resource on the project when no week is given.
func (h *Handler) DeleteAllocation(w http.ResponseWriter, r *http.Request) {
	project := allocation.ProjectID(chi.URLParam(r, "projectID"))
	resource := allocation.ResourceID(chi.URLParam(r, "resourceID"))
	rt := allocation.ResourceType(r.URL.Query().Get("resource_type"))
	if rt == "" {
		rt = allocation.ResourceActive
	}

	writer, err := h.writer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve tenant settings", err)
		return
	}

	weekParam := r.URL.Query().Get("week")
	if weekParam == "" {
		if err := writer.DeleteAllResourceAllocationsForProject(r.Context(), project, resource, rt); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to remove allocations", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	week, err := time.Parse("2006-01-02", weekParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid week date", err)
		return
	}
	if err := writer.DeleteResourceAllocation(r.Context(), project, resource, rt, week); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to remove allocation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAllocations returns the aggregated week map for one resource.
func (h *Handler) GetAllocations(w http.ResponseWriter, r *http.Request) {
	project := allocation.ProjectID(chi.URLParam(r, "projectID"))
	resource := allocation.ResourceID(chi.URLParam(r, "resourceID"))
	rt := allocation.ResourceType(r.URL.Query().Get("resource_type"))
	if rt == "" {
		rt = allocation.ResourceActive
	}

	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	reader, err := h.reader(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve tenant settings", err)
		return
	}

	weeks, err := reader.FetchResourceAllocations(r.Context(), project, resource, rt, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch allocations", err)
		return
	}

	writeJSON(w, http.StatusOK, AllocationsDTO{
		ProjectID:  string(project),
		ResourceID: string(resource),
		Weeks:      weeksToDTO(weeks),
	})
}

// GetWorkload returns the active-member workload for one week across
// the requested resources.
func (h *Handler) GetWorkload(w http.ResponseWriter, r *http.Request) {
	project := allocation.ProjectID(chi.URLParam(r, "projectID"))

	weekParam := r.URL.Query().Get("week")
	week, err := time.Parse("2006-01-02", weekParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid week date", err)
		return
	}

	var resourceIDs []allocation.ResourceID
	if raw := r.URL.Query().Get("resources"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				resourceIDs = append(resourceIDs, allocation.ResourceID(id))
			}
		}
	}

	reader, err := h.reader(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve tenant settings", err)
		return
	}

	workload, err := reader.FetchTeamWorkload(r.Context(), project, resourceIDs, week)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch workload", err)
		return
	}

	start, _ := h.Store.WeekStartDay(r.Context(), h.company(r))
	key := allocation.NormalizeToWeekStart(week, start)

	dto := WorkloadDTO{
		ProjectID: string(project),
		Week:      key.String(),
		Resources: make([]WorkloadEntryDTO, len(workload)),
	}
	for i, entry := range workload {
		dto.Resources[i] = WorkloadEntryDTO{
			ResourceID:   string(entry.Resource.ID),
			Name:         entry.Resource.Name,
			ResourceType: string(entry.Resource.Type),
			Deleted:      entry.Resource.Deleted,
			Weeks:        weeksToDTO(entry.Weeks),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetUtilization reports a resource's utilization over a date range.
func (h *Handler) GetUtilization(w http.ResponseWriter, r *http.Request) {
	project := allocation.ProjectID(chi.URLParam(r, "projectID"))
	resource := allocation.ResourceID(chi.URLParam(r, "resourceID"))
	rt := allocation.ResourceType(r.URL.Query().Get("resource_type"))
	if rt == "" {
		rt = allocation.ResourceActive
	}

	rng, err := parseRange(r)
	if err != nil || rng == nil {
		writeError(w, http.StatusBadRequest, "from and to are required", err)
		return
	}
	weekCount := int(rng.To.Sub(rng.From).Hours() / (24 * 7))
	if weekCount < 1 {
		weekCount = 1
	}

	reader, err := h.reader(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve tenant settings", err)
		return
	}

	weeks, err := reader.FetchResourceAllocations(r.Context(), project, resource, rt, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch allocations", err)
		return
	}

	capacity, err := h.Store.StandardCapacityHours(r.Context(), h.company(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve capacity", err)
		return
	}

	calc := allocation.UtilizationCalculator{CapacityPerWeek: capacity}
	total := weeks.Total()
	utilization := calc.Utilization(total, weekCount)

	writeJSON(w, http.StatusOK, UtilizationDTO{
		ResourceID:  string(resource),
		TotalHours:  total.String(),
		Capacity:    capacity.Mul(decimal.NewFromInt(int64(weekCount))).String(),
		WeekCount:   weekCount,
		Utilization: utilization.String(),
		Bucket:      string(allocation.Classify(utilization)),
	})
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the company's planning settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context(), h.company(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{
		CompanyID:     string(settings.CompanyID),
		WeekStartDay:  string(settings.WeekStart),
		CapacityHours: settings.CapacityHours.String(),
	})
}

// SaveSettings updates the company's planning settings.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var dto SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := allocation.ParseWeekStartDay(dto.WeekStartDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid week start day", err)
		return
	}
	capacity, err := decimal.NewFromString(dto.CapacityHours)
	if err != nil || capacity.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid capacity hours", err)
		return
	}

	settings := sqlite.TenantSettings{
		CompanyID:     h.company(r),
		WeekStart:     start,
		CapacityHours: capacity,
	}
	if err := h.Store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListResources returns all non-deleted directory profiles.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list resources", err)
		return
	}

	dtos := make([]ResourceDTO, len(profiles))
	for i, p := range profiles {
		dtos[i] = ResourceDTO{
			ID:           string(p.ID),
			Name:         p.Name,
			ResourceType: string(p.Type),
			Deleted:      p.Deleted,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateResource registers a directory profile.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	rt := allocation.ResourceType(req.ResourceType)
	if rt == "" {
		rt = allocation.ResourcePreRegistered
	}
	if !rt.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid resource type", allocation.ErrInvalidResourceType)
		return
	}

	profile := allocation.ResourceProfile{
		ID:   allocation.ResourceID(req.ID),
		Name: req.Name,
		Type: rt,
	}
	if err := h.Store.UpsertResource(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create resource", err)
		return
	}
	writeJSON(w, http.StatusCreated, ResourceDTO{
		ID:           req.ID,
		Name:         req.Name,
		ResourceType: string(rt),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseRange(r *http.Request) (*allocation.DateRange, error) {
	fromParam := r.URL.Query().Get("from")
	toParam := r.URL.Query().Get("to")
	if fromParam == "" && toParam == "" {
		return nil, nil
	}

	from, err := time.Parse("2006-01-02", fromParam)
	if err != nil {
		return nil, err
	}
	to, err := time.Parse("2006-01-02", toParam)
	if err != nil {
		return nil, err
	}
	return &allocation.DateRange{From: from, To: to}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	dto := ErrorDTO{Error: msg}
	if err != nil {
		dto.Details = err.Error()
	}
	writeJSON(w, status, dto)
}
