package circuit

import (
	"testing"
	"time"
)

// TestBreakerStartsClosed tests that a new breaker allows calls
func TestBreakerStartsClosed(t *testing.T) {
	b := New(DefaultConfig(), nil)

	if b.GetState() != StateClosed {
		t.Errorf("New breaker should start closed, got %s", b.GetState())
	}
	if !b.Allow() {
		t.Error("Closed breaker should allow calls")
	}
}

// TestBreakerOpensAtThreshold tests that the breaker opens after the
// configured number of consecutive failures
func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  3,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	b.RecordFailure("timeout")
	b.RecordFailure("timeout")
	if b.GetState() != StateClosed {
		t.Error("Breaker should stay closed below threshold")
	}
	if !b.Allow() {
		t.Error("Breaker below threshold should still allow calls")
	}

	b.RecordFailure("timeout")
	if b.GetState() != StateOpen {
		t.Errorf("Breaker should open at threshold, got %s", b.GetState())
	}
	if b.Allow() {
		t.Error("Open breaker should block calls")
	}
}

// TestSuccessResetsFailureCount tests that any success clears the
// consecutive failure count
func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  3,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	b.RecordFailure("timeout")
	b.RecordFailure("timeout")
	b.RecordSuccess()

	if b.ConsecutiveFailures() != 0 {
		t.Errorf("Success should reset failure count, got %d", b.ConsecutiveFailures())
	}

	// Two more failures must not reach the threshold of 3
	b.RecordFailure("timeout")
	b.RecordFailure("timeout")
	if b.GetState() != StateClosed {
		t.Error("Breaker should still be closed after reset plus two failures")
	}
}

// TestHalfOpenSingleTrial tests that exactly one call passes when the
// cooldown elapses
func TestHalfOpenSingleTrial(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  1,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure("timeout")
	if b.GetState() != StateOpen {
		t.Fatal("Breaker should be open")
	}
	if b.Allow() {
		t.Error("Open breaker should block during cooldown")
	}

	clock = clock.Add(31 * time.Second)

	if !b.Allow() {
		t.Error("First call after cooldown should be allowed as trial")
	}
	if b.GetState() != StateHalfOpen {
		t.Errorf("Breaker should be half-open, got %s", b.GetState())
	}
	if b.Allow() {
		t.Error("Second call in half-open should be blocked")
	}
	if b.Allow() {
		t.Error("Third call in half-open should be blocked")
	}
}

// TestHalfOpenSuccessCloses tests that a successful trial call closes the
// breaker and restores normal operation
func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  1,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure("timeout")
	clock = clock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("Trial call should be allowed")
	}

	b.RecordSuccess()

	if b.GetState() != StateClosed {
		t.Errorf("Breaker should close after trial success, got %s", b.GetState())
	}
	if !b.Allow() {
		t.Error("Closed breaker should allow calls")
	}
	if !b.Allow() {
		t.Error("Closed breaker should allow repeated calls")
	}
}

// TestHalfOpenFailureExtendsCooldown tests that a failed trial reopens the
// breaker with a longer cooldown, capped at the maximum
func TestHalfOpenFailureExtendsCooldown(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  1,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       90 * time.Second,
	}, nil)

	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure("timeout")

	// First trial fails: cooldown becomes 60s
	clock = clock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("Trial call should be allowed")
	}
	b.RecordFailure("timeout")
	if b.GetState() != StateOpen {
		t.Fatal("Breaker should reopen after trial failure")
	}

	clock = clock.Add(31 * time.Second)
	if b.Allow() {
		t.Error("Extended cooldown of 60s should still block at 31s")
	}
	clock = clock.Add(30 * time.Second)
	if !b.Allow() {
		t.Error("Call should be allowed after extended cooldown elapses")
	}

	// Second trial fails: cooldown would be 120s but caps at 90s
	b.RecordFailure("timeout")
	clock = clock.Add(91 * time.Second)
	if !b.Allow() {
		t.Error("Cooldown should be capped at the maximum")
	}
}

// TestStateChangeNotifications tests that every transition invokes the
// handler with the correct states
func TestStateChangeNotifications(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  1,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	clock := time.Now()
	b.now = func() time.Time { return clock }

	type transition struct{ from, to State }
	var seen []transition
	b.OnStateChange(func(from, to State, reason string) {
		seen = append(seen, transition{from, to})
	})

	b.RecordFailure("timeout")
	clock = clock.Add(31 * time.Second)
	b.Allow()
	b.RecordSuccess()

	expected := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(seen) != len(expected) {
		t.Fatalf("Expected %d transitions, got %d", len(expected), len(seen))
	}
	for i, want := range expected {
		if seen[i] != want {
			t.Errorf("Transition %d: expected %s->%s, got %s->%s",
				i, want.from, want.to, seen[i].from, seen[i].to)
		}
	}
}

// TestForceReset tests that a manual reset closes the breaker and clears
// the backoff state
func TestForceReset(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  1,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	b.RecordFailure("timeout")
	if b.GetState() != StateOpen {
		t.Fatal("Breaker should be open")
	}

	b.ForceReset()

	if b.GetState() != StateClosed {
		t.Error("ForceReset should close the breaker")
	}
	if !b.Allow() {
		t.Error("Reset breaker should allow calls")
	}
	if b.ConsecutiveFailures() != 0 {
		t.Error("ForceReset should clear the failure count")
	}
}

// TestGetStats tests the stats snapshot contents
func TestGetStats(t *testing.T) {
	b := New(&Config{
		FailureThreshold:  2,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}, nil)

	b.RecordFailure("connection refused")
	stats := b.GetStats()

	if stats["state"] != "closed" {
		t.Errorf("Expected state closed, got %v", stats["state"])
	}
	if stats["consecutive_failures"] != 1 {
		t.Errorf("Expected 1 consecutive failure, got %v", stats["consecutive_failures"])
	}
	if stats["last_failure_reason"] != "connection refused" {
		t.Errorf("Unexpected failure reason: %v", stats["last_failure_reason"])
	}

	b.RecordFailure("connection refused")
	stats = b.GetStats()
	if stats["state"] != "open" {
		t.Errorf("Expected state open, got %v", stats["state"])
	}
	if _, ok := stats["cooldown_remaining"]; !ok {
		t.Error("Open breaker stats should include cooldown_remaining")
	}
}
