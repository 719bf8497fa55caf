package risk

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerTripsAndCoolsDown(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, time.Minute, func() time.Time { return now })

	cb.RecordFailure(errors.New("a"))
	cb.RecordFailure(errors.New("b"))
	if cb.Open() {
		t.Fatalf("two failures must not trip a limit of three")
	}

	cb.RecordFailure(errors.New("HTTP 500"))
	if !cb.Open() {
		t.Fatalf("third failure must trip")
	}
	if failures, tripped, reason := cb.Stats(); failures != 3 || !tripped || reason == "" {
		t.Fatalf("stats got=%d/%v/%q", failures, tripped, reason)
	}

	now = now.Add(59 * time.Second)
	if _, tripped, _ := cb.Stats(); !tripped {
		t.Fatalf("stats must report the trip during cooldown")
	}
	if !cb.Open() {
		t.Fatalf("breaker must stay open during cooldown")
	}
	now = now.Add(time.Second)
	if _, tripped, _ := cb.Stats(); tripped {
		t.Fatalf("stats must not report an expired trip")
	}
	if cb.Open() {
		t.Fatalf("breaker must close after cooldown")
	}
	if failures, _, _ := cb.Stats(); failures != 0 {
		t.Fatalf("failure streak must reset, got=%d", failures)
	}
}

func TestCircuitBreakerSuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, nil)

	cb.RecordFailure(nil)
	cb.RecordSuccess()
	cb.RecordFailure(nil)
	if cb.Open() {
		t.Fatalf("streak broken by a success must not trip")
	}

	cb.RecordFailure(nil)
	if !cb.Open() {
		t.Fatalf("two consecutive failures must trip")
	}
	cb.ForceReset()
	if cb.Open() {
		t.Fatalf("manual reset must close the breaker")
	}
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(0, time.Minute, nil)
	for i := 0; i < 10; i++ {
		cb.RecordFailure(nil)
	}
	if cb.Open() {
		t.Fatalf("zero limit must never trip")
	}
}
