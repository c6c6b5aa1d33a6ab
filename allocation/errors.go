/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All sentinel errors in one place. Callers branch with errors.Is; the
  API layer maps categories onto HTTP statuses.

ERROR CATEGORIES:
  1. Programmer errors - invariant violations (non-week-start keys)
  2. Validation errors - bad input from callers
  3. Store errors      - persistence-level failures, wrapped

SEE ALSO:
  - week.go:   AssertIsWeekStart uses ErrNotWeekStart
  - writer.go: Wraps store failures with operation context
*/
package allocation

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotWeekStart is raised when a key passed deeper into the
	// pipeline is not already normalized. A programmer error: in strict
	// mode it panics, in production it is logged and the key is
	// re-normalized.
	ErrNotWeekStart = errors.New("key is not a week start")

	// ErrUnknownWeekStart is returned for week start settings other than
	// monday, sunday, saturday.
	ErrUnknownWeekStart = errors.New("unknown week start day")

	// ErrNegativeHours is returned when a save carries hours < 0.
	ErrNegativeHours = errors.New("hours must be >= 0")

	// ErrInvalidResourceType is returned for resource types other than
	// active and pre_registered.
	ErrInvalidResourceType = errors.New("invalid resource type")

	// ErrRecordNotFound is returned by Update when the addressed row no
	// longer exists, and by directory lookups for unknown resources.
	ErrRecordNotFound = errors.New("record not found")

	// ErrResourceNotFound is returned by the resource directory when no
	// profile exists. The Reader degrades to a placeholder entry instead
	// of failing the fetch.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrStoreClosed is returned for operations against a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether the error is due to invalid caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNegativeHours) ||
		errors.Is(err, ErrInvalidResourceType) ||
		errors.Is(err, ErrUnknownWeekStart)
}

// IsNotFound reports whether the error indicates a missing row/profile.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrResourceNotFound)
}
