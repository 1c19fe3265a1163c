package nonce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"kraken-gateway/internal/cache"
)

// State is the persisted nonce snapshot. The timestamp records when the value
// was written; it is informational only and never used for seeding.
type State struct {
	LastNonce uint64  `json:"last_nonce"`
	Timestamp float64 `json:"timestamp"`
}

// Store persists the last issued nonce so a restart does not regress it.
type Store interface {
	Load() (state State, found bool, err error)
	Save(state State) error
}

// FileStore persists nonce state to a JSON file with an atomic rename.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed nonce store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read nonce state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state file must not block startup; the wall clock still
		// seeds a usable value.
		return State{}, false, nil
	}
	return state, true, nil
}

func (f *FileStore) Save(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal nonce state: %w", err)
	}

	tmp := f.path + ".tmp"
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create nonce state dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write nonce state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace nonce state file: %w", err)
	}
	return nil
}

// RedisStore mirrors nonce state to Redis so concurrent processes sharing an
// API key can see each other's high-water mark. Degrades silently with the
// cache service; the file store remains the durable copy.
type RedisStore struct {
	cache   *cache.CacheService
	key     string
	timeout time.Duration
}

// NewRedisStore creates a Redis-backed nonce store
func NewRedisStore(cs *cache.CacheService, apiKeyID string) *RedisStore {
	return &RedisStore{
		cache:   cs,
		key:     fmt.Sprintf(cache.PrefixNonceState, apiKeyID),
		timeout: 2 * time.Second,
	}
}

func (r *RedisStore) Load() (State, bool, error) {
	if !r.cache.IsHealthy() {
		return State{}, false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	val, err := r.cache.Get(ctx, r.key)
	if err != nil {
		return State{}, false, nil
	}

	last, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return State{}, false, nil
	}
	return State{LastNonce: last}, true, nil
}

func (r *RedisStore) Save(state State) error {
	if !r.cache.IsHealthy() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.cache.Set(ctx, r.key, strconv.FormatUint(state.LastNonce, 10), cache.DefaultNonceTTL)
}

// TieredStore writes through to every store and loads the highest value any
// of them has seen.
type TieredStore struct {
	stores []Store
}

// NewTieredStore combines stores; order is write order
func NewTieredStore(stores ...Store) *TieredStore {
	return &TieredStore{stores: stores}
}

func (t *TieredStore) Load() (State, bool, error) {
	var best State
	var found bool
	for _, s := range t.stores {
		state, ok, err := s.Load()
		if err != nil {
			return State{}, false, err
		}
		if ok && (!found || state.LastNonce > best.LastNonce) {
			best = state
			found = true
		}
	}
	return best, found, nil
}

func (t *TieredStore) Save(state State) error {
	var firstErr error
	for _, s := range t.stores {
		if err := s.Save(state); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
