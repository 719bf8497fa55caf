package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Halts dispatch after consecutive order failures
// ═══════════════════════════════════════════════════════════════════════════════

// Breaker defaults
const (
	DefaultMaxOrderFailures = 3
	DefaultBreakerCooldown  = 5 * time.Minute
)

type CircuitBreaker struct {
	mu sync.Mutex

	// Configuration
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	// State
	consecutiveFailures int
	tripped             bool
	trippedAt           time.Time
	reason              string
}

// NewCircuitBreaker creates a breaker. maxFailures <= 0 never trips.
// A nil clock means time.Now.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration, clock func() time.Time) *CircuitBreaker {
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         clock,
	}
}

// Open returns true while dispatch is halted. A trip older than the cooldown resets.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return false
	}
	if cb.now().Sub(cb.trippedAt) >= cb.cooldown {
		cb.reset()
		log.Info().Msg("✅ Circuit breaker reset after cooldown")
		return false
	}
	return true
}

// RecordFailure counts a failed order and trips at the limit
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	if cb.maxFailures > 0 && !cb.tripped && cb.consecutiveFailures >= cb.maxFailures {
		reason := "max consecutive order failures"
		if err != nil {
			reason += ": " + err.Error()
		}
		cb.trip(reason)
	}
}

// RecordSuccess clears the failure streak
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.tripped = true
	cb.trippedAt = cb.now()
	cb.reason = reason
	log.Warn().
		Str("reason", reason).
		Int("consecutive_failures", cb.consecutiveFailures).
		Dur("cooldown", cb.cooldown).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

func (cb *CircuitBreaker) reset() {
	cb.consecutiveFailures = 0
	cb.tripped = false
	cb.reason = ""
}

// Stats returns the failure streak and whether a trip is still inside its cooldown
func (cb *CircuitBreaker) Stats() (consecutiveFailures int, tripped bool, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.tripped && cb.now().Sub(cb.trippedAt) >= cb.cooldown {
		return cb.consecutiveFailures, false, ""
	}
	return cb.consecutiveFailures, cb.tripped, cb.reason
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.tripped {
		log.Info().Msg("Circuit breaker manually reset")
	}
	cb.reset()
}
