// Package cache provides Redis-based caching with graceful degradation.
// When Redis is unavailable, operations return errors that callers should
// handle by falling back to local state; nothing in the gateway depends on
// Redis being up.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"kraken-gateway/config"
	"kraken-gateway/internal/logging"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for different cache types
const (
	PrefixNonceState      = "gateway:%s:nonce:last"    // apiKeyID
	PrefixBalanceSnapshot = "gateway:%s:balance:snapshot"
	PrefixBreakerState    = "gateway:%s:breaker:state"
)

// Default TTLs
const (
	DefaultNonceTTL    = 48 * time.Hour
	DefaultSnapshotTTL = 10 * time.Minute
)

// CacheService wraps a Redis client with a health circuit: after maxFailures
// consecutive errors the service reports unhealthy and callers skip it until
// a successful ping closes the circuit again.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	logger       *logging.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewCacheService creates a new CacheService and verifies connectivity.
// A failed initial connection returns the service in degraded mode, not an
// error; the health loop recovers it when Redis comes back.
func NewCacheService(cfg config.RedisConfig, logger *logging.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if logger == nil {
		logger = logging.Default().WithComponent("cache")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		config:        cfg,
		logger:        logger,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("initial redis connection failed, starting degraded", "error", err)
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	logger.Info("redis connected", "address", cfg.Address)

	return cs, nil
}

// IsHealthy returns whether Redis is currently available
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info("redis recovered")
	}
	cs.failureCount = 0
	cs.healthy = true
}

// Get retrieves a value by key. Returns redis.Nil-wrapped error on miss.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	val, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			cs.recordFailure()
		}
		return "", err
	}
	cs.recordSuccess()
	return val, nil
}

// Set stores a value with a TTL. Non-string values are JSON encoded.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var payload string
	switch v := value.(type) {
	case string:
		payload = v
	case []byte:
		payload = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode cache value: %w", err)
		}
		payload = string(data)
	}

	if err := cs.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Delete removes a key
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// StartHealthCheck runs a background ping loop until ctx is cancelled
func (cs *CacheService) StartHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(cs.checkInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				err := cs.client.Ping(pingCtx).Err()
				cancel()
				if err != nil {
					cs.recordFailure()
				} else {
					cs.recordSuccess()
				}
			}
		}
	}()
}

// Close closes the underlying Redis client
func (cs *CacheService) Close() error {
	return cs.client.Close()
}
