/*
notify.go - Rate-limited user-facing error notification

PURPOSE:
  Write failures must reach the user, but a burst of failing rows should
  produce one toast, not one per row. The notifier throttles to one
  user-visible notification per rolling window and counts what it
  suppressed.

  The clock is injected so throttling is testable, and the limiter state
  lives in the notifier instance, not in package-level globals shared
  across unrelated call sites.

SEE ALSO:
  - writer.go: Notifies on every failed save/delete
*/
package allocation

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock abstracts time.Now for testability.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// =============================================================================
// NOTIFIER
// =============================================================================

// Notifier surfaces operation failures to the user.
type Notifier interface {
	// NotifyError reports a failure. Returns true when the failure was
	// actually surfaced, false when it was throttled.
	NotifyError(err error) bool
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) NotifyError(error) bool { return false }

// RateLimitedNotifier surfaces at most one error per rolling window.
// Suppressed failures are still logged at debug level and counted.
type RateLimitedNotifier struct {
	mu         sync.Mutex
	clock      Clock
	window     time.Duration
	sink       func(error)
	log        zerolog.Logger
	lastAt     time.Time
	suppressed int
}

// NewRateLimitedNotifier builds a notifier that forwards to sink at most
// once per window. A nil clock uses the system clock.
func NewRateLimitedNotifier(window time.Duration, sink func(error), clock Clock, log zerolog.Logger) *RateLimitedNotifier {
	if clock == nil {
		clock = SystemClock{}
	}
	return &RateLimitedNotifier{
		clock:  clock,
		window: window,
		sink:   sink,
		log:    log,
	}
}

// NotifyError forwards the error unless one was already surfaced inside
// the current window.
func (n *RateLimitedNotifier) NotifyError(err error) bool {
	if err == nil {
		return false
	}

	n.mu.Lock()
	now := n.clock.Now()
	throttled := !n.lastAt.IsZero() && now.Sub(n.lastAt) < n.window
	if throttled {
		n.suppressed++
	} else {
		if n.suppressed > 0 {
			n.log.Warn().Int("suppressed", n.suppressed).Msg("errors suppressed during notification window")
		}
		n.lastAt = now
		n.suppressed = 0
	}
	n.mu.Unlock()

	if throttled {
		n.log.Debug().Err(err).Msg("notification throttled")
		return false
	}
	if n.sink != nil {
		n.sink(err)
	}
	return true
}

// Suppressed returns how many errors were swallowed since the last
// surfaced notification.
func (n *RateLimitedNotifier) Suppressed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.suppressed
}
