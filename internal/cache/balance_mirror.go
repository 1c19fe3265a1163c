package cache

import (
	"context"
	"fmt"
	"time"
)

// BalanceMirror write-through publishes balance snapshots to Redis so other
// processes (dashboards, sibling gateways) can read them without spending
// exchange rate limit. It satisfies balance.Sink.
type BalanceMirror struct {
	cache *CacheService
	key   string
}

// NewBalanceMirror creates a mirror keyed by the API key identifier
func NewBalanceMirror(cs *CacheService, apiKeyID string) *BalanceMirror {
	return &BalanceMirror{
		cache: cs,
		key:   fmt.Sprintf(PrefixBalanceSnapshot, apiKeyID),
	}
}

type mirroredSnapshot struct {
	Balances  map[string]float64 `json:"balances"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// RecordSnapshot writes the snapshot; failures degrade silently
func (m *BalanceMirror) RecordSnapshot(ctx context.Context, balances map[string]float64, fetchedAt time.Time) {
	if !m.cache.IsHealthy() {
		return
	}
	_ = m.cache.Set(ctx, m.key, mirroredSnapshot{
		Balances:  balances,
		FetchedAt: fetchedAt,
	}, DefaultSnapshotTTL)
}
