package retry

import (
	"time"

	"github.com/joseph-ayodele/steps-tracker/internal/common"
)

// DefaultDelays is the escalating auto-retry schedule.
var DefaultDelays = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// DefaultMaxRetries caps automatic retries per failure episode.
const DefaultMaxRetries = 3

// Policy decides whether and when a failed item is retried automatically.
type Policy struct {
	Delays     []time.Duration
	MaxRetries int
}

// NewPolicy normalizes delays so the schedule never shrinks.
func NewPolicy(delays []time.Duration, maxRetries int) Policy {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	norm := make([]time.Duration, len(delays))
	for i, d := range delays {
		if d < 0 {
			d = 0
		}
		if i > 0 && d < norm[i-1] {
			d = norm[i-1]
		}
		norm[i] = d
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Policy{Delays: norm, MaxRetries: maxRetries}
}

// DefaultPolicy returns 5s/10s/20s with three retries.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultDelays, DefaultMaxRetries)
}

// Delay returns the wait before automatic retry number attempt (1-based).
// Attempts past the end of the schedule reuse its last delay.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// ShouldRetry reports whether err qualifies for another automatic attempt after
// `done` automatic attempts have already been made.
func (p Policy) ShouldRetry(err error, done int) bool {
	return common.IsRetryable(err) && done < p.MaxRetries
}
