// Package circuit implements the failure tracker guarding outbound exchange
// calls. Callers must check Allow before every guarded operation and report
// the outcome with exactly one RecordSuccess or RecordFailure.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"kraken-gateway/internal/events"
)

// State represents the breaker state
type State string

const (
	StateClosed   State = "closed"    // Normal operation
	StateOpen     State = "open"      // All calls blocked until cooldown elapses
	StateHalfOpen State = "half_open" // Single trial call allowed
)

// Config holds breaker configuration
type Config struct {
	FailureThreshold  int           `json:"failure_threshold"`
	Cooldown          time.Duration `json:"cooldown"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxCooldown       time.Duration `json:"max_cooldown"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}
}

// StateChangeHandler observes breaker transitions for logging/alerting
type StateChangeHandler func(from, to State, reason string)

// Breaker is the failure tracker. State is in-memory only and resets on
// restart.
type Breaker struct {
	config *Config

	mu                  sync.RWMutex
	state               State
	consecutiveFailures int
	currentCooldown     time.Duration
	openUntil           time.Time
	trialUsed           bool
	lastFailureReason   string

	onStateChange StateChangeHandler
	bus           *events.EventBus
	now           func() time.Time
}

// New creates a breaker in the closed state
func New(config *Config, bus *events.EventBus) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BackoffMultiplier < 1.0 {
		config.BackoffMultiplier = 1.0
	}
	if config.MaxCooldown < config.Cooldown {
		config.MaxCooldown = config.Cooldown
	}

	return &Breaker{
		config:          config,
		state:           StateClosed,
		currentCooldown: config.Cooldown,
		bus:             bus,
		now:             time.Now,
	}
}

// OnStateChange sets the transition hook. The hook runs outside the breaker
// lock and must not call back into the breaker synchronously with Allow.
func (b *Breaker) OnStateChange(handler StateChangeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

// Allow reports whether a guarded call may proceed. In the open state it
// returns false until the cooldown elapses, then transitions to half-open
// where exactly one caller gets a trial slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.now().Before(b.openUntil) {
			b.mu.Unlock()
			return false
		}
		from := b.state
		b.state = StateHalfOpen
		b.trialUsed = true
		handler := b.onStateChange
		b.mu.Unlock()

		b.notify(handler, from, StateHalfOpen, "cooldown elapsed")
		return true

	case StateHalfOpen:
		if b.trialUsed {
			b.mu.Unlock()
			return false
		}
		b.trialUsed = true
		b.mu.Unlock()
		return true
	}

	b.mu.Unlock()
	return false
}

// RecordSuccess reports a successful guarded call. Any success resets the
// consecutive-failure count and the cooldown backoff; a half-open trial
// success closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.currentCooldown = b.config.Cooldown
	b.lastFailureReason = ""

	if b.state != StateHalfOpen {
		b.mu.Unlock()
		return
	}

	from := b.state
	b.state = StateClosed
	b.trialUsed = false
	handler := b.onStateChange
	b.mu.Unlock()

	b.notify(handler, from, StateClosed, "trial call succeeded")
}

// RecordFailure reports a failed guarded call. Reaching the threshold opens
// the breaker; a half-open trial failure reopens it with the cooldown
// extended by the backoff multiplier, capped at MaxCooldown.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	b.consecutiveFailures++
	b.lastFailureReason = reason

	switch b.state {
	case StateHalfOpen:
		extended := time.Duration(float64(b.currentCooldown) * b.config.BackoffMultiplier)
		if extended > b.config.MaxCooldown {
			extended = b.config.MaxCooldown
		}
		b.currentCooldown = extended
		b.open(reason)
		return

	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.open(reason)
			return
		}
	}

	b.mu.Unlock()
}

// open transitions to the open state; called with the lock held, releases it.
func (b *Breaker) open(reason string) {
	from := b.state
	b.state = StateOpen
	b.openUntil = b.now().Add(b.currentCooldown)
	b.trialUsed = false
	handler := b.onStateChange
	detail := fmt.Sprintf("%s (consecutive failures: %d, cooldown: %v)",
		reason, b.consecutiveFailures, b.currentCooldown)
	b.mu.Unlock()

	b.notify(handler, from, StateOpen, detail)
}

// ForceReset manually closes the breaker and clears counters
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.currentCooldown = b.config.Cooldown
	b.trialUsed = false
	b.lastFailureReason = ""
	handler := b.onStateChange
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(handler, from, StateClosed, "manual reset")
	}
}

func (b *Breaker) notify(handler StateChangeHandler, from, to State, reason string) {
	if handler != nil {
		handler(from, to, reason)
	}
	if b.bus != nil {
		b.bus.PublishBreakerTransition(string(from), string(to), reason)
	}
}

// GetState returns the current breaker state
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveFailures
}

// GetStats returns current statistics
func (b *Breaker) GetStats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := map[string]interface{}{
		"state":                string(b.state),
		"consecutive_failures": b.consecutiveFailures,
		"current_cooldown":     b.currentCooldown.String(),
		"failure_threshold":    b.config.FailureThreshold,
		"last_failure_reason":  b.lastFailureReason,
	}
	if b.state == StateOpen {
		remaining := b.openUntil.Sub(b.now())
		if remaining < 0 {
			remaining = 0
		}
		stats["cooldown_remaining"] = remaining.Round(time.Second).String()
	}
	return stats
}
