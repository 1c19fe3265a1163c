package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	KrakenConfig         KrakenConfig         `json:"kraken"`
	NonceConfig          NonceConfig          `json:"nonce"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	BalanceConfig        BalanceConfig        `json:"balance"`
	LoggingConfig        LoggingConfig        `json:"logging"`
	ServerConfig         ServerConfig         `json:"server"`
	AuthConfig           AuthConfig           `json:"auth"`
	VaultConfig          VaultConfig          `json:"vault"`
	RedisConfig          RedisConfig          `json:"redis"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
}

// KrakenConfig holds Kraken REST/WebSocket API configuration
type KrakenConfig struct {
	APIKey          string  `json:"api_key"`
	APISecret       string  `json:"api_secret"`
	BaseURL         string  `json:"base_url"`
	WebSocketURL    string  `json:"websocket_url"`
	RequestTimeout  int     `json:"request_timeout"`   // Seconds
	MaxRetries      int     `json:"max_retries"`       // Bounded retry count for transient errors
	RetryBackoff    int     `json:"retry_backoff_ms"`  // Initial backoff in milliseconds
	RateLimitRPS    float64 `json:"rate_limit_rps"`    // Token bucket refill rate
	RateLimitBurst  int     `json:"rate_limit_burst"`  // Token bucket size
	WSTokenLifetime int     `json:"ws_token_lifetime"` // Seconds, exchange-documented ~10-15m
}

// NonceConfig holds nonce source configuration
type NonceConfig struct {
	StateFile      string `json:"state_file"`      // Persisted last-nonce JSON file
	PersistEvery   int    `json:"persist_every"`   // Write state every N issuances
	MinIncrement   uint64 `json:"min_increment"`   // Microseconds, forward progress floor
	RecoveryBuffer uint64 `json:"recovery_buffer"` // Microseconds jumped on recovery
	RedisMirror    bool   `json:"redis_mirror"`    // Mirror last nonce to Redis when available
}

// CircuitBreakerConfig holds failure tracker configuration
type CircuitBreakerConfig struct {
	FailureThreshold   int     `json:"failure_threshold"`  // Consecutive failures before opening
	CooldownSeconds    int     `json:"cooldown_seconds"`   // Initial open-state cooldown
	BackoffMultiplier  float64 `json:"backoff_multiplier"` // Cooldown growth on half-open failure
	MaxCooldownSeconds int     `json:"max_cooldown_seconds"`
}

// BalanceConfig holds balance cache configuration
type BalanceConfig struct {
	TTLSeconds         int `json:"ttl_seconds"`          // Default max age before refresh
	MinRefreshInterval int `json:"min_refresh_interval"` // Seconds between refresh attempts
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds the ops API server configuration
type ServerConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// AuthConfig holds ops API authentication configuration
type AuthConfig struct {
	Enabled              bool   `json:"enabled"`
	JWTSecret            string `json:"jwt_secret"`
	OperatorPasswordHash string `json:"operator_password_hash"` // bcrypt hash
	TokenDurationMinutes int    `json:"token_duration_minutes"`
}

// VaultConfig holds HashiCorp Vault configuration for API credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RequestTimeoutDuration returns the request timeout as a duration
func (k KrakenConfig) RequestTimeoutDuration() time.Duration {
	if k.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(k.RequestTimeout) * time.Second
}

// WSTokenLifetimeDuration returns the WebSocket token lifetime as a duration
func (k KrakenConfig) WSTokenLifetimeDuration() time.Duration {
	if k.WSTokenLifetime <= 0 {
		return 12 * time.Minute
	}
	return time.Duration(k.WSTokenLifetime) * time.Second
}

// Load reads configuration from config.json with environment overrides
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with defaults
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.KrakenConfig.BaseURL == "" {
		cfg.KrakenConfig.BaseURL = "https://api.kraken.com"
	}
	if cfg.KrakenConfig.WebSocketURL == "" {
		cfg.KrakenConfig.WebSocketURL = "wss://ws-auth.kraken.com"
	}
	if cfg.KrakenConfig.RequestTimeout <= 0 {
		cfg.KrakenConfig.RequestTimeout = 10
	}
	if cfg.KrakenConfig.MaxRetries <= 0 {
		cfg.KrakenConfig.MaxRetries = 3
	}
	if cfg.KrakenConfig.RetryBackoff <= 0 {
		cfg.KrakenConfig.RetryBackoff = 500
	}
	if cfg.KrakenConfig.RateLimitRPS <= 0 {
		cfg.KrakenConfig.RateLimitRPS = 1.0
	}
	if cfg.KrakenConfig.RateLimitBurst <= 0 {
		cfg.KrakenConfig.RateLimitBurst = 5
	}
	if cfg.KrakenConfig.WSTokenLifetime <= 0 {
		cfg.KrakenConfig.WSTokenLifetime = 720
	}

	if cfg.NonceConfig.StateFile == "" {
		cfg.NonceConfig.StateFile = "nonce_state.json"
	}
	if cfg.NonceConfig.PersistEvery <= 0 {
		cfg.NonceConfig.PersistEvery = 50
	}
	if cfg.NonceConfig.MinIncrement == 0 {
		cfg.NonceConfig.MinIncrement = 1
	}
	if cfg.NonceConfig.RecoveryBuffer == 0 {
		cfg.NonceConfig.RecoveryBuffer = 30_000_000 // 30s of microseconds
	}

	if cfg.CircuitBreakerConfig.FailureThreshold <= 0 {
		cfg.CircuitBreakerConfig.FailureThreshold = 5
	}
	if cfg.CircuitBreakerConfig.CooldownSeconds <= 0 {
		cfg.CircuitBreakerConfig.CooldownSeconds = 30
	}
	if cfg.CircuitBreakerConfig.BackoffMultiplier <= 1.0 {
		cfg.CircuitBreakerConfig.BackoffMultiplier = 2.0
	}
	if cfg.CircuitBreakerConfig.MaxCooldownSeconds <= 0 {
		cfg.CircuitBreakerConfig.MaxCooldownSeconds = 600
	}

	if cfg.BalanceConfig.TTLSeconds <= 0 {
		cfg.BalanceConfig.TTLSeconds = 30
	}
	if cfg.BalanceConfig.MinRefreshInterval <= 0 {
		cfg.BalanceConfig.MinRefreshInterval = 5
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}

	if cfg.ServerConfig.Port <= 0 {
		cfg.ServerConfig.Port = 8090
	}
	if cfg.AuthConfig.TokenDurationMinutes <= 0 {
		cfg.AuthConfig.TokenDurationMinutes = 60
	}

	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "kraken-gateway/api-credentials"
	}

	if cfg.RedisConfig.PoolSize <= 0 {
		cfg.RedisConfig.PoolSize = 10
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment values take precedence over the config file.
func applyEnvOverrides(cfg *Config) {
	cfg.KrakenConfig.APIKey = getEnvOrDefault("KRAKEN_API_KEY", cfg.KrakenConfig.APIKey)
	cfg.KrakenConfig.APISecret = getEnvOrDefault("KRAKEN_API_SECRET", cfg.KrakenConfig.APISecret)
	cfg.KrakenConfig.BaseURL = getEnvOrDefault("KRAKEN_BASE_URL", cfg.KrakenConfig.BaseURL)
	cfg.KrakenConfig.WebSocketURL = getEnvOrDefault("KRAKEN_WS_URL", cfg.KrakenConfig.WebSocketURL)

	cfg.NonceConfig.StateFile = getEnvOrDefault("NONCE_STATE_FILE", cfg.NonceConfig.StateFile)

	if v := os.Getenv("CIRCUIT_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CircuitBreakerConfig.FailureThreshold = n
		}
	}
	if v := os.Getenv("BALANCE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BalanceConfig.TTLSeconds = n
		}
	}

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ServerConfig.Port = port
		}
	}
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", boolStr(cfg.ServerConfig.Enabled)) == "true"

	cfg.AuthConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.OperatorPasswordHash = getEnvOrDefault("OPERATOR_PASSWORD_HASH", cfg.AuthConfig.OperatorPasswordHash)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolStr(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.DatabaseConfig.Port = port
		}
	}
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Database)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.CircuitBreakerConfig.MaxCooldownSeconds < c.CircuitBreakerConfig.CooldownSeconds {
		return fmt.Errorf("max_cooldown_seconds (%d) must be >= cooldown_seconds (%d)",
			c.CircuitBreakerConfig.MaxCooldownSeconds, c.CircuitBreakerConfig.CooldownSeconds)
	}
	if c.ServerConfig.Enabled && c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but jwt_secret is empty")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
