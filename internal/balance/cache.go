// Package balance caches the last-known account balance snapshot. Data past
// its TTL is refreshed synchronously through the circuit breaker gate; when
// a refresh is blocked or fails, callers get the cached value explicitly
// marked stale (or unavailable) and must decide whether that is acceptable.
// The cache never substitutes fabricated values.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kraken-gateway/internal/events"
	"kraken-gateway/internal/logging"
)

// Freshness qualifies a returned amount
type Freshness string

const (
	// Fresh data is within the caller's max age
	Fresh Freshness = "fresh"
	// Stale data is older than the caller's max age and could not be
	// refreshed; usable only if the caller accepts the risk
	Stale Freshness = "stale"
	// Unavailable means no snapshot exists at all
	Unavailable Freshness = "unavailable"
)

// InfiniteAge disables refresh entirely: any cached value, however old, is
// returned as long as a snapshot exists.
const InfiniteAge = time.Duration(-1)

// ErrNoSnapshot is returned when no balance has ever been fetched and a
// refresh is not possible
var ErrNoSnapshot = errors.New("balance: no snapshot available")

// Amount is a single asset balance with explicit freshness
type Amount struct {
	Asset     string    `json:"asset"`
	Value     float64   `json:"value"`
	Freshness Freshness `json:"freshness"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher retrieves live balances from the exchange
type Fetcher interface {
	Balance(ctx context.Context) (map[string]float64, error)
}

// Gate is the circuit breaker interface guarding refreshes
type Gate interface {
	Allow() bool
	RecordSuccess()
	RecordFailure(reason string)
}

// Sink observes successful snapshot replacements (Redis mirror, history DB)
type Sink interface {
	RecordSnapshot(ctx context.Context, balances map[string]float64, fetchedAt time.Time)
}

// Config holds cache configuration
type Config struct {
	DefaultTTL         time.Duration
	MinRefreshInterval time.Duration
}

// Cache holds the balance snapshot. A single mutex protects the snapshot
// replacement; refresh I/O runs outside any lock.
type Cache struct {
	mu          sync.Mutex
	perAsset    map[string]float64
	fetchedAt   time.Time
	lastAttempt time.Time
	invalidated bool

	config  Config
	fetcher Fetcher
	gate    Gate
	logger  *logging.Logger
	bus     *events.EventBus
	sinks   []Sink
}

// NewCache creates a balance cache. The fetcher and gate are required.
func NewCache(cfg Config, fetcher Fetcher, gate Gate, logger *logging.Logger, bus *events.EventBus, sinks ...Sink) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default().WithComponent("balance")
	}
	return &Cache{
		perAsset: nil,
		config:   cfg,
		fetcher:  fetcher,
		gate:     gate,
		logger:   logger,
		bus:      bus,
		sinks:    sinks,
	}
}

// Get returns the balance for an asset. maxAge of 0 always attempts a
// refresh; InfiniteAge never refreshes while any snapshot exists. An asset
// absent from a snapshot has a zero balance, which is a valid cached value.
func (c *Cache) Get(ctx context.Context, asset string, maxAge time.Duration) (Amount, error) {
	c.mu.Lock()
	hasSnapshot := c.perAsset != nil
	usable := hasSnapshot && !c.invalidated
	age := time.Since(c.fetchedAt)
	value := c.perAsset[asset]
	fetchedAt := c.fetchedAt
	throttled := !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.config.MinRefreshInterval
	c.mu.Unlock()

	if usable && (maxAge == InfiniteAge || (maxAge > 0 && age <= maxAge)) {
		return Amount{Asset: asset, Value: value, Freshness: Fresh, FetchedAt: fetchedAt}, nil
	}

	// Repeated refresh attempts within the minimum interval are pointless
	// load on a failing dependency; hand back what we have.
	if hasSnapshot && throttled && maxAge != 0 {
		return Amount{Asset: asset, Value: value, Freshness: Stale, FetchedAt: fetchedAt}, nil
	}

	if !c.gate.Allow() {
		if hasSnapshot {
			c.logger.Warn("balance refresh blocked by open circuit, returning stale data",
				"asset", asset, "age", age.Round(time.Second).String())
			if c.bus != nil {
				c.bus.Publish(events.Event{
					Type: events.EventBalanceStale,
					Data: map[string]interface{}{"asset": asset, "age_seconds": int(age.Seconds())},
				})
			}
			return Amount{Asset: asset, Value: value, Freshness: Stale, FetchedAt: fetchedAt}, nil
		}
		return Amount{Asset: asset, Freshness: Unavailable},
			fmt.Errorf("%w: refresh blocked by open circuit", ErrNoSnapshot)
	}

	if err := c.refresh(ctx); err != nil {
		if hasSnapshot {
			c.logger.Warn("balance refresh failed, returning stale data", "asset", asset, "error", err)
			return Amount{Asset: asset, Value: value, Freshness: Stale, FetchedAt: fetchedAt}, err
		}
		return Amount{Asset: asset, Freshness: Unavailable}, err
	}

	c.mu.Lock()
	amount := Amount{
		Asset:     asset,
		Value:     c.perAsset[asset],
		Freshness: Fresh,
		FetchedAt: c.fetchedAt,
	}
	c.mu.Unlock()
	return amount, nil
}

// GetDefault is Get with the configured default TTL
func (c *Cache) GetDefault(ctx context.Context, asset string) (Amount, error) {
	return c.Get(ctx, asset, c.config.DefaultTTL)
}

// Invalidate forces the next Get to refetch regardless of age. The old
// values are kept as a stale fallback.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = true
}

// Snapshot returns a copy of the current snapshot and its fetch time
func (c *Cache) Snapshot() (map[string]float64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.perAsset == nil {
		return nil, time.Time{}
	}
	out := make(map[string]float64, len(c.perAsset))
	for k, v := range c.perAsset {
		out[k] = v
	}
	return out, c.fetchedAt
}

// refresh fetches live balances and replaces the snapshot. The outcome is
// reported to the circuit breaker exactly once.
func (c *Cache) refresh(ctx context.Context) error {
	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.mu.Unlock()

	balances, err := c.fetcher.Balance(ctx)
	if err != nil {
		c.gate.RecordFailure(err.Error())
		return fmt.Errorf("balance refresh failed: %w", err)
	}
	c.gate.RecordSuccess()

	now := time.Now()
	c.mu.Lock()
	c.perAsset = balances
	c.fetchedAt = now
	c.invalidated = false
	c.mu.Unlock()

	c.logger.Debug("balance snapshot refreshed", "assets", len(balances))
	if c.bus != nil {
		c.bus.PublishBalanceRefreshed(len(balances))
	}
	for _, sink := range c.sinks {
		sink.RecordSnapshot(ctx, balances, now)
	}
	return nil
}
