package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kraken-gateway/config"
	"kraken-gateway/internal/api"
	"kraken-gateway/internal/auth"
	"kraken-gateway/internal/balance"
	"kraken-gateway/internal/cache"
	"kraken-gateway/internal/circuit"
	"kraken-gateway/internal/database"
	"kraken-gateway/internal/events"
	"kraken-gateway/internal/kraken"
	"kraken-gateway/internal/logging"
	"kraken-gateway/internal/nonce"
	"kraken-gateway/internal/vault"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Credentials: Vault when enabled, config/env otherwise
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("failed to create vault client", "error", err)
	}
	if !cfg.VaultConfig.Enabled {
		vaultClient.Seed(vault.Credentials{
			APIKey:    cfg.KrakenConfig.APIKey,
			APISecret: cfg.KrakenConfig.APISecret,
		})
	}
	creds, err := vaultClient.GetCredentials(ctx)
	if err != nil {
		logger.Fatal("failed to load API credentials", "error", err)
	}
	keyID := keyIdentifier(creds.APIKey)

	// Optional Redis
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig, logger.WithComponent("cache"))
		if err != nil {
			logger.Warn("redis unavailable, continuing without it", "error", err)
			cacheService = nil
		} else {
			cacheService.StartHealthCheck(ctx)
			defer cacheService.Close()
		}
	}

	// Optional Postgres history
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig)
		if err != nil {
			logger.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		}
		repo = database.NewRepository(db, zlog)
		logger.Info("database connected", "database", cfg.DatabaseConfig.Database)
	}

	// Nonce source: file store always, Redis mirror when available
	var nonceStore nonce.Store = nonce.NewFileStore(cfg.NonceConfig.StateFile)
	if cfg.NonceConfig.RedisMirror && cacheService != nil {
		nonceStore = nonce.NewTieredStore(nonceStore, nonce.NewRedisStore(cacheService, keyID))
	}
	nonceSource, err := nonce.NewSource(cfg.NonceConfig, nonceStore, logger.WithComponent("nonce"), eventBus)
	if err != nil {
		logger.Fatal("failed to initialize nonce source", "error", err)
	}
	defer func() {
		if err := nonceSource.Close(); err != nil {
			logger.Error("failed to persist final nonce state", "error", err)
		}
	}()

	// Circuit breaker guarding exchange calls
	breaker := circuit.New(&circuit.Config{
		FailureThreshold:  cfg.CircuitBreakerConfig.FailureThreshold,
		Cooldown:          time.Duration(cfg.CircuitBreakerConfig.CooldownSeconds) * time.Second,
		BackoffMultiplier: cfg.CircuitBreakerConfig.BackoffMultiplier,
		MaxCooldown:       time.Duration(cfg.CircuitBreakerConfig.MaxCooldownSeconds) * time.Second,
	}, eventBus)
	breaker.OnStateChange(func(from, to circuit.State, reason string) {
		logger.Warn("circuit breaker transition", "from", string(from), "to", string(to), "reason", reason)
		if repo != nil {
			recCtx, recCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer recCancel()
			repo.RecordBreakerTransition(recCtx, string(from), string(to), reason)
		}
	})

	// Audit nonce recoveries
	if repo != nil {
		eventBus.Subscribe(events.EventNonceRecovered, func(e events.Event) {
			before, _ := e.Data["before"].(uint64)
			after, _ := e.Data["after"].(uint64)
			recCtx, recCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer recCancel()
			repo.RecordNonceRecovery(recCtx, before, after)
		})
	}

	client := kraken.NewClient(cfg.KrakenConfig, kraken.Credentials{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	}, nonceSource, logger.WithComponent("kraken"))

	var sinks []balance.Sink
	if repo != nil {
		sinks = append(sinks, repo)
	}
	if cacheService != nil {
		sinks = append(sinks, cache.NewBalanceMirror(cacheService, keyID))
	}
	balanceCache := balance.NewCache(balance.Config{
		DefaultTTL:         time.Duration(cfg.BalanceConfig.TTLSeconds) * time.Second,
		MinRefreshInterval: time.Duration(cfg.BalanceConfig.MinRefreshInterval) * time.Second,
	}, client, breaker, logger.WithComponent("balance"), eventBus, sinks...)

	// Private WebSocket stream for real-time account events
	stream := kraken.NewPrivateStream(client, kraken.StreamConfig{
		URL:           cfg.KrakenConfig.WebSocketURL,
		TokenLifetime: cfg.KrakenConfig.WSTokenLifetimeDuration(),
		Channels:      []string{"ownTrades", "openOrders"},
	}, zlog)
	stream.OnMessage(func(payload []byte) {
		// Any account activity can move balances; refetch on next read
		balanceCache.Invalidate()
	})
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("private stream stopped", "error", err)
		}
	}()

	// Ops API
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		var authMgr *auth.Manager
		if cfg.AuthConfig.Enabled {
			authMgr = auth.NewManager(
				cfg.AuthConfig.JWTSecret,
				cfg.AuthConfig.OperatorPasswordHash,
				time.Duration(cfg.AuthConfig.TokenDurationMinutes)*time.Minute,
			)
		}
		server = api.NewServer(cfg.ServerConfig, authMgr, api.Deps{
			Nonces:  nonceSource,
			Breaker: breaker,
			Balance: balanceCache,
			Kraken:  client,
			History: repo,
		}, logger.WithComponent("api"))

		go func() {
			if err := server.Start(); err != nil {
				logger.Error("ops API server stopped", "error", err)
			}
		}()
	}

	eventBus.Publish(events.Event{Type: events.EventGatewayStarted, Data: map[string]interface{}{
		"key_id": keyID,
	}})
	logger.Info("gateway started", "key_id", keyID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	eventBus.Publish(events.Event{Type: events.EventGatewayStopped})
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}
}

// keyIdentifier derives a short non-secret identifier for cache keys from
// the API key
func keyIdentifier(apiKey string) string {
	if len(apiKey) >= 8 {
		return apiKey[:8]
	}
	if apiKey == "" {
		return "default"
	}
	return apiKey
}
