// Package health tracks dependency health with per-service circuit breakers and selects
// the service tier the engine can currently offer.
package health

import (
	"sync"
	"time"
)

// State is the health of one dependency.
type State int

const (
	// StateUp means the last call succeeded.
	StateUp State = iota
	// StateDegraded means recent calls failed but the threshold has not been reached.
	StateDegraded
	// StateDown means the breaker is open; calls short-circuit until the cooldown elapses.
	StateDown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateDegraded:
		return "degraded"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// FailureWindow bounds how far apart the consecutive failures may be. Zero disables the window.
	FailureWindow time.Duration
	// OpenDuration is how long the breaker stays open before admitting a half-open trial.
	OpenDuration time.Duration
	// CallTimeout bounds each call. Zero leaves the caller's deadline in place.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		OpenDuration:     30 * time.Second,
		CallTimeout:      4 * time.Second,
	}
}

type breaker struct {
	mu sync.Mutex

	cfg            BreakerConfig
	state          State
	failures       int
	firstFailureAt time.Time
	lastCheckedAt  time.Time
	openedAt       time.Time
	trialInFlight  bool
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	return &breaker{cfg: cfg}
}

// allow reports whether a call may proceed and whether it is the half-open trial.
func (b *breaker) allow(now time.Time) (ok bool, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateDown {
		return true, false
	}
	if b.trialInFlight || now.Sub(b.openedAt) < b.cfg.OpenDuration {
		return false, false
	}
	b.trialInFlight = true
	return true, true
}

// record applies a call outcome and returns the previous and new state.
func (b *breaker) record(now time.Time, failed bool, trial bool) (State, State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	b.lastCheckedAt = now
	if trial {
		b.trialInFlight = false
	}

	if !failed {
		b.state = StateUp
		b.failures = 0
		b.firstFailureAt = time.Time{}
		return prev, b.state
	}

	if trial {
		b.failures++
		b.state = StateDown
		b.openedAt = now
		return prev, b.state
	}
	if b.failures > 0 && b.cfg.FailureWindow > 0 && now.Sub(b.firstFailureAt) > b.cfg.FailureWindow {
		b.failures = 0
	}
	if b.failures == 0 {
		b.firstFailureAt = now
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		if b.state != StateDown {
			b.openedAt = now
		}
		b.state = StateDown
	} else if b.state != StateDown {
		b.state = StateDegraded
	}
	return prev, b.state
}

// abandon releases a half-open trial whose outcome is unknown (the caller went away).
func (b *breaker) abandon(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *breaker) snapshot(service Service, now time.Time) DependencyHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	return DependencyHealth{
		Service:             service,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastCheckedAt:       b.lastCheckedAt,
		OpenedAt:            b.openedAt,
		TrialDue:            b.state == StateDown && !b.trialInFlight && now.Sub(b.openedAt) >= b.cfg.OpenDuration,
	}
}
