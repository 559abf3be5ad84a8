package subproc

import (
	"sync"
	"time"
)

// Restart policy defaults.
const (
	DefaultMaxRestarts   = 3
	DefaultRestartWindow = time.Minute
)

// RestartBreaker is the supervisor's circuit breaker: it budgets restart
// attempts over a sliding time window. While attempts within the window stay
// at or below the budget, [RestartBreaker.Allow] grants them; once the budget
// is spent the breaker trips and the stage is reported degraded instead of
// being restarted indefinitely. Attempts older than the window age out, so a
// stage that stays up long enough earns its budget back.
//
// Safe for concurrent use.
type RestartBreaker struct {
	maxRestarts int
	window      time.Duration

	mu       sync.Mutex
	attempts []time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewRestartBreaker creates a breaker allowing maxRestarts attempts per
// window. Non-positive arguments fall back to the defaults.
func NewRestartBreaker(maxRestarts int, window time.Duration) *RestartBreaker {
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	if window <= 0 {
		window = DefaultRestartWindow
	}
	return &RestartBreaker{
		maxRestarts: maxRestarts,
		window:      window,
		now:         time.Now,
	}
}

// Allow records a restart attempt and reports whether it is within budget.
// A false return means the breaker has tripped; the caller must degrade
// rather than restart.
func (b *RestartBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune()
	if len(b.attempts) >= b.maxRestarts {
		return false
	}
	b.attempts = append(b.attempts, b.now())
	return true
}

// Tripped reports whether the budget is currently spent, without recording
// an attempt.
func (b *RestartBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	return len(b.attempts) >= b.maxRestarts
}

// Reset clears all recorded attempts. Called after a stage has proven
// healthy again.
func (b *RestartBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = b.attempts[:0]
}

// prune drops attempts that have aged out of the window. Caller holds mu.
func (b *RestartBreaker) prune() {
	cutoff := b.now().Add(-b.window)
	kept := b.attempts[:0]
	for _, t := range b.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.attempts = kept
}
