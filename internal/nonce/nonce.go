// Package nonce issues the strictly increasing nonces required by Kraken
// private API endpoints. A nonce, once rejected as "invalid" by the exchange,
// poisons every smaller value for the key's lifetime, so the source never
// regresses: not across goroutines, and (best-effort, via a persisted state
// file) not across process restarts.
package nonce

import (
	"sync"
	"time"

	"kraken-gateway/config"
	"kraken-gateway/internal/events"
	"kraken-gateway/internal/logging"
)

// Source produces strictly increasing nonces in wall-clock microseconds.
// It is safe for concurrent use. Construct one per API key and inject it
// into the exchange client; never share hidden global state.
type Source struct {
	mu               sync.Mutex
	last             uint64
	minIncrement     uint64
	recoveryBuffer   uint64
	persistEvery     int
	sinceLastPersist int

	store  Store
	logger *logging.Logger
	bus    *events.EventBus
}

// NewSource creates a nonce source seeded from wall-clock microseconds and,
// when a store is provided, the persisted last value. The larger of the two
// wins so a restarted process cannot reissue a nonce the exchange has seen.
func NewSource(cfg config.NonceConfig, store Store, logger *logging.Logger, bus *events.EventBus) (*Source, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("nonce")
	}

	s := &Source{
		last:           nowMicros(),
		minIncrement:   cfg.MinIncrement,
		recoveryBuffer: cfg.RecoveryBuffer,
		persistEvery:   cfg.PersistEvery,
		store:          store,
		logger:         logger,
		bus:            bus,
	}
	if s.minIncrement == 0 {
		s.minIncrement = 1
	}

	if store != nil {
		state, found, err := store.Load()
		if err != nil {
			return nil, err
		}
		if found && state.LastNonce >= s.last {
			s.last = state.LastNonce + s.minIncrement
			logger.Info("resumed nonce from persisted state",
				"persisted", state.LastNonce, "resumed_at", s.last)
		}
	}

	return s, nil
}

// Next returns the next nonce. The result is always strictly greater than
// every previously returned value, even when the wall clock has not advanced.
// Next never fails; persistence errors are logged and issuance continues.
func (s *Source) Next() uint64 {
	s.mu.Lock()
	candidate := nowMicros()
	if candidate <= s.last {
		candidate = s.last + s.minIncrement
	}
	s.last = candidate

	s.sinceLastPersist++
	persist := s.store != nil && s.sinceLastPersist >= s.persistEvery
	if persist {
		s.sinceLastPersist = 0
	}
	s.mu.Unlock()

	if persist {
		s.persist(candidate)
	}

	return candidate
}

// Recover jumps the counter forward by the recovery buffer past anything the
// exchange may have already seen from a concurrent or previous process, then
// returns the new floor. Call this after the exchange rejects a nonce.
func (s *Source) Recover() uint64 {
	s.mu.Lock()
	before := s.last
	candidate := nowMicros()
	if candidate < s.last {
		candidate = s.last
	}
	s.last = candidate + s.recoveryBuffer
	after := s.last
	s.sinceLastPersist = 0
	s.mu.Unlock()

	s.logger.Warn("nonce recovery jump", "before", before, "after", after)
	s.persist(after)
	if s.bus != nil {
		s.bus.PublishNonceRecovered(before, after)
	}

	return after
}

// Last returns the most recently issued nonce without advancing the counter.
func (s *Source) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close persists the final counter value for the next process.
func (s *Source) Close() error {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Save(State{
		LastNonce: last,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}

// persist is called outside the counter lock; a slightly stale persisted
// value is acceptable because restart seeding takes max(clock, persisted).
func (s *Source) persist(value uint64) {
	if s.store == nil {
		return
	}
	err := s.store.Save(State{
		LastNonce: value,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
	if err != nil {
		s.logger.Error("failed to persist nonce state", "error", err)
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventNoncePersisted,
			Data: map[string]interface{}{"last_nonce": value},
		})
	}
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
