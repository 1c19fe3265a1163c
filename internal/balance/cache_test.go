package balance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeFetcher returns scripted balances or an error
type fakeFetcher struct {
	mu       sync.Mutex
	balances map[string]float64
	err      error
	calls    int
}

func (f *fakeFetcher) Balance(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(balances map[string]float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = balances
	f.err = err
}

// fakeGate is a scriptable circuit breaker gate
type fakeGate struct {
	mu        sync.Mutex
	blocked   bool
	successes int
	failures  int
}

func (g *fakeGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.blocked
}

func (g *fakeGate) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
}

func (g *fakeGate) RecordFailure(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
}

func (g *fakeGate) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.successes, g.failures
}

func newTestCache(fetcher Fetcher, gate Gate) *Cache {
	return NewCache(Config{
		DefaultTTL:         30 * time.Second,
		MinRefreshInterval: time.Second,
	}, fetcher, gate, nil, nil)
}

// TestGetFetchesWhenEmpty tests that the first read triggers a refresh
func TestGetFetchesWhenEmpty(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5, "ZUSD": 1000}}
	gate := &fakeGate{}
	cache := newTestCache(fetcher, gate)

	amount, err := cache.GetDefault(context.Background(), "XXBT")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if amount.Freshness != Fresh {
		t.Errorf("Expected fresh, got %s", amount.Freshness)
	}
	if amount.Value != 1.5 {
		t.Errorf("Expected 1.5, got %f", amount.Value)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected 1 fetch, got %d", fetcher.callCount())
	}

	successes, failures := gate.counts()
	if successes != 1 || failures != 0 {
		t.Errorf("Gate should see exactly one success, got %d/%d", successes, failures)
	}
}

// TestGetServesFromCacheWithinTTL tests that fresh data skips the exchange
func TestGetServesFromCacheWithinTTL(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	cache := newTestCache(fetcher, &fakeGate{})

	cache.GetDefault(context.Background(), "XXBT")
	amount, err := cache.GetDefault(context.Background(), "XXBT")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if amount.Freshness != Fresh {
		t.Errorf("Expected fresh, got %s", amount.Freshness)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Second read within TTL should not fetch, got %d calls", fetcher.callCount())
	}
}

// TestGetZeroMaxAgeForcesRefresh tests that maxAge 0 always hits the
// exchange, bypassing the refresh throttle
func TestGetZeroMaxAgeForcesRefresh(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	cache := newTestCache(fetcher, &fakeGate{})

	cache.Get(context.Background(), "XXBT", 0)
	cache.Get(context.Background(), "XXBT", 0)
	cache.Get(context.Background(), "XXBT", 0)

	if fetcher.callCount() != 3 {
		t.Errorf("maxAge 0 should fetch every time, got %d calls", fetcher.callCount())
	}
}

// TestGetInfiniteAgeNeverRefreshes tests that any existing snapshot is
// accepted regardless of age
func TestGetInfiniteAgeNeverRefreshes(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	cache := newTestCache(fetcher, &fakeGate{})

	cache.GetDefault(context.Background(), "XXBT")

	fetcher.set(nil, errors.New("exchange down"))
	amount, err := cache.Get(context.Background(), "XXBT", InfiniteAge)
	if err != nil {
		t.Fatalf("InfiniteAge read should not error: %v", err)
	}
	if amount.Freshness != Fresh {
		t.Errorf("Expected fresh, got %s", amount.Freshness)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("InfiniteAge should never fetch, got %d calls", fetcher.callCount())
	}
}

// TestGetZeroBalanceIsValid tests that an asset absent from the snapshot
// reads as a genuine zero, not unavailable
func TestGetZeroBalanceIsValid(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"ZUSD": 1000}}
	cache := newTestCache(fetcher, &fakeGate{})

	amount, err := cache.GetDefault(context.Background(), "XETH")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if amount.Value != 0 {
		t.Errorf("Absent asset should be zero, got %f", amount.Value)
	}
	if amount.Freshness != Fresh {
		t.Errorf("Zero balance from a fresh snapshot is fresh, got %s", amount.Freshness)
	}
}

// TestGetBlockedGateReturnsStale tests that an open circuit yields the
// cached value explicitly marked stale
func TestGetBlockedGateReturnsStale(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	gate := &fakeGate{}
	cache := newTestCache(fetcher, gate)

	cache.GetDefault(context.Background(), "XXBT")

	gate.blocked = true
	amount, err := cache.Get(context.Background(), "XXBT", 0)
	if err != nil {
		t.Fatalf("Stale read should not error: %v", err)
	}
	if amount.Freshness != Stale {
		t.Errorf("Expected stale, got %s", amount.Freshness)
	}
	if amount.Value != 1.5 {
		t.Errorf("Stale read should return the cached value, got %f", amount.Value)
	}
	if fetcher.callCount() != 1 {
		t.Error("Blocked gate must not reach the exchange")
	}
}

// TestGetBlockedGateNoSnapshot tests that with no snapshot at all, an open
// circuit yields an explicit unavailable result, never a fabricated value
func TestGetBlockedGateNoSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	gate := &fakeGate{blocked: true}
	cache := newTestCache(fetcher, gate)

	amount, err := cache.GetDefault(context.Background(), "XXBT")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Expected ErrNoSnapshot, got %v", err)
	}
	if amount.Freshness != Unavailable {
		t.Errorf("Expected unavailable, got %s", amount.Freshness)
	}
	if amount.Value != 0 {
		t.Errorf("Unavailable result must not carry a value, got %f", amount.Value)
	}
}

// TestGetRefreshFailureReturnsStale tests that a failed refresh returns the
// cached value as stale along with the error
func TestGetRefreshFailureReturnsStale(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	gate := &fakeGate{}
	cache := newTestCache(fetcher, gate)

	cache.GetDefault(context.Background(), "XXBT")

	fetcher.set(nil, errors.New("exchange down"))
	amount, err := cache.Get(context.Background(), "XXBT", 0)
	if err == nil {
		t.Fatal("Failed refresh should surface the error")
	}
	if amount.Freshness != Stale {
		t.Errorf("Expected stale, got %s", amount.Freshness)
	}
	if amount.Value != 1.5 {
		t.Errorf("Stale read should return the last good value, got %f", amount.Value)
	}

	successes, failures := gate.counts()
	if successes != 1 || failures != 1 {
		t.Errorf("Gate should see one success and one failure, got %d/%d", successes, failures)
	}
}

// TestGetRefreshFailureNoSnapshot tests that a failed first refresh yields
// unavailable
func TestGetRefreshFailureNoSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("exchange down")}
	cache := newTestCache(fetcher, &fakeGate{})

	amount, err := cache.GetDefault(context.Background(), "XXBT")
	if err == nil {
		t.Fatal("Failed refresh with no snapshot should error")
	}
	if amount.Freshness != Unavailable {
		t.Errorf("Expected unavailable, got %s", amount.Freshness)
	}
}

// TestRefreshThrottle tests that failed refreshes are not repeated within
// the minimum interval
func TestRefreshThrottle(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	cache := NewCache(Config{
		DefaultTTL:         time.Nanosecond, // Everything is immediately past TTL
		MinRefreshInterval: time.Hour,
	}, fetcher, &fakeGate{}, nil, nil)

	cache.Get(context.Background(), "XXBT", time.Nanosecond)
	time.Sleep(time.Millisecond)
	amount, err := cache.Get(context.Background(), "XXBT", time.Nanosecond)
	if err != nil {
		t.Fatalf("Throttled read should not error: %v", err)
	}
	if amount.Freshness != Stale {
		t.Errorf("Throttled read past TTL should be stale, got %s", amount.Freshness)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Throttle should suppress the second fetch, got %d calls", fetcher.callCount())
	}
}

// TestInvalidateForcesRefetch tests that invalidation triggers a refresh on
// the next read while keeping the old values as a stale fallback
func TestInvalidateForcesRefetch(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	gate := &fakeGate{}
	cache := NewCache(Config{
		DefaultTTL:         30 * time.Second,
		MinRefreshInterval: 0,
	}, fetcher, gate, nil, nil)

	cache.GetDefault(context.Background(), "XXBT")
	cache.Invalidate()

	fetcher.set(map[string]float64{"XXBT": 2.0}, nil)
	amount, err := cache.GetDefault(context.Background(), "XXBT")
	if err != nil {
		t.Fatalf("Get after invalidate failed: %v", err)
	}
	if amount.Value != 2.0 {
		t.Errorf("Invalidate should force a refetch, got stale value %f", amount.Value)
	}

	// Invalidate again, then block the gate: the old snapshot must still
	// serve as a stale fallback
	cache.Invalidate()
	gate.blocked = true
	amount, err = cache.GetDefault(context.Background(), "XXBT")
	if err != nil {
		t.Fatalf("Blocked read after invalidate should fall back to stale: %v", err)
	}
	if amount.Freshness != Stale {
		t.Errorf("Expected stale fallback, got %s", amount.Freshness)
	}
	if amount.Value != 2.0 {
		t.Errorf("Stale fallback should keep the last good value, got %f", amount.Value)
	}
}

// TestSinksObserveRefresh tests that every sink sees a successful snapshot
func TestSinksObserveRefresh(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5, "ZUSD": 1000}}

	var mu sync.Mutex
	var recorded map[string]float64
	sink := sinkFunc(func(ctx context.Context, balances map[string]float64, fetchedAt time.Time) {
		mu.Lock()
		defer mu.Unlock()
		recorded = balances
	})

	cache := NewCache(Config{DefaultTTL: 30 * time.Second}, fetcher, &fakeGate{}, nil, nil, sink)
	if _, err := cache.GetDefault(context.Background(), "XXBT"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(recorded) != 2 {
		t.Errorf("Sink should see the full snapshot, got %d assets", len(recorded))
	}
}

// TestSnapshotReturnsCopy tests that the snapshot accessor does not leak
// internal state
func TestSnapshotReturnsCopy(t *testing.T) {
	fetcher := &fakeFetcher{balances: map[string]float64{"XXBT": 1.5}}
	cache := newTestCache(fetcher, &fakeGate{})

	cache.GetDefault(context.Background(), "XXBT")
	snap, _ := cache.Snapshot()
	snap["XXBT"] = 999

	amount, _ := cache.GetDefault(context.Background(), "XXBT")
	if amount.Value != 1.5 {
		t.Error("Mutating a snapshot copy must not affect the cache")
	}
}

// TestSnapshotEmpty tests the accessor before any fetch
func TestSnapshotEmpty(t *testing.T) {
	cache := newTestCache(&fakeFetcher{}, &fakeGate{})

	snap, fetchedAt := cache.Snapshot()
	if snap != nil {
		t.Error("Snapshot before any fetch should be nil")
	}
	if !fetchedAt.IsZero() {
		t.Error("Fetch time before any fetch should be zero")
	}
}

type sinkFunc func(ctx context.Context, balances map[string]float64, fetchedAt time.Time)

func (f sinkFunc) RecordSnapshot(ctx context.Context, balances map[string]float64, fetchedAt time.Time) {
	f(ctx, balances, fetchedAt)
}
