package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/health"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
	"github.com/ignite/outreach-analytics/internal/pkg/awsconf"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
	"github.com/ignite/outreach-analytics/internal/warming"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Log       LogConfig               `yaml:"log"`
	Database  DatabaseConfig          `yaml:"database"`
	Redis     RedisConfig             `yaml:"redis"`
	Source    SourceConfig            `yaml:"source"`
	Cache     CacheConfig             `yaml:"cache"`
	Analytics AnalyticsConfig         `yaml:"analytics"`
	Health    health.Config           `yaml:"health"`
	Breaker   analytics.BreakerConfig `yaml:"breaker"`
	Warming   WarmingConfig           `yaml:"warming"`
	Metrics   metrics.Config          `yaml:"metrics"`
	AWS       awsconf.Config          `yaml:"aws"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_seconds"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// DatabaseConfig is the Postgres counter store, also used for LISTEN/NOTIFY
// and advisory locks.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig is the shared cache, lock and pub/sub server.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SourceConfig selects where raw counters are read from.
type SourceConfig struct {
	// Type is postgres, dynamodb or http.
	Type           string `yaml:"type"`
	DynamoTable    string `yaml:"dynamo_table"`
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the HTTP source timeout as a time.Duration
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RecencyTTLConfig turns on the date-range dependent TTL for an operation set.
type RecencyTTLConfig struct {
	Enabled           bool               `yaml:"enabled"`
	Operations        []domain.Operation `yaml:"operations"`
	TodaySeconds      int                `yaml:"today_seconds"`
	RecentSeconds     int                `yaml:"recent_seconds"`
	HistoricalSeconds int                `yaml:"historical_seconds"`
}

// CacheConfig holds cache backend and TTL settings.
type CacheConfig struct {
	// Backend is redis or memory. Empty picks redis when a URL is set.
	Backend              string                   `yaml:"backend"`
	DefaultTTLSeconds    int                      `yaml:"default_ttl_seconds"`
	TTLSeconds           map[domain.Operation]int `yaml:"ttl_seconds"`
	RecencyTTL           RecencyTTLConfig         `yaml:"recency_ttl"`
	SweepIntervalSeconds int                      `yaml:"sweep_interval_seconds"`
}

// TTLPolicy builds the cache TTL policy. Recency TTLs win over fixed ones
// for the operations they list.
func (c CacheConfig) TTLPolicy(now func() time.Time) *cache.TTLPolicy {
	p := cache.NewTTLPolicy(time.Duration(c.DefaultTTLSeconds) * time.Second)
	for op, secs := range c.TTLSeconds {
		p.Fixed(op, time.Duration(secs)*time.Second)
	}
	if c.RecencyTTL.Enabled {
		fn := cache.RecencyTTL(now,
			time.Duration(c.RecencyTTL.TodaySeconds)*time.Second,
			time.Duration(c.RecencyTTL.RecentSeconds)*time.Second,
			time.Duration(c.RecencyTTL.HistoricalSeconds)*time.Second,
		)
		for _, op := range c.RecencyTTL.Operations {
			p.Func(op, fn)
		}
	}
	return p
}

// AnalyticsConfig bounds the computation pool.
type AnalyticsConfig struct {
	MaxConcurrentOperations  int   `yaml:"max_concurrent_operations"`
	ComputationTimeoutMS     int   `yaml:"computation_timeout_ms"`
	EnableProgressiveLoading *bool `yaml:"enable_progressive_loading"`
	ChunkSize                int   `yaml:"chunk_size"`
	ReservedForeground       int   `yaml:"reserved_foreground"`
}

// Orchestrator converts to the pool configuration.
func (c AnalyticsConfig) Orchestrator() orchestrator.Config {
	cfg := orchestrator.Config{
		MaxConcurrentOperations: c.MaxConcurrentOperations,
		ComputationTimeout:      time.Duration(c.ComputationTimeoutMS) * time.Millisecond,
		ChunkSize:               c.ChunkSize,
		ReservedForeground:      c.ReservedForeground,
	}
	if c.EnableProgressiveLoading != nil {
		cfg.EnableProgressiveLoading = *c.EnableProgressiveLoading
	}
	return cfg
}

// WarmingConfig holds the warming scheduler settings. StrategyURI, when set,
// replaces the inline strategy and is re-read on reload.
type WarmingConfig struct {
	Enabled     bool             `yaml:"enabled"`
	StrategyURI string           `yaml:"strategy_uri"`
	Strategy    warming.Strategy `yaml:"strategy"`
	// Signals is redis, postgres or none.
	Signals        string `yaml:"signals"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
	RunOnStart     bool   `yaml:"run_on_start"`
}

// LockTTL returns the per-tick lock lifetime.
func (c WarmingConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 15
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "postgres"
	}
	if cfg.Source.DynamoTable == "" {
		cfg.Source.DynamoTable = "analytics_counters"
	}
	if cfg.Source.TimeoutSeconds == 0 {
		cfg.Source.TimeoutSeconds = 10
	}
	if cfg.Source.MaxRetries == 0 {
		cfg.Source.MaxRetries = 3
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
		if cfg.Redis.URL != "" {
			cfg.Cache.Backend = "redis"
		}
	}
	if cfg.Cache.DefaultTTLSeconds == 0 {
		cfg.Cache.DefaultTTLSeconds = 300
	}
	if cfg.Cache.SweepIntervalSeconds == 0 {
		cfg.Cache.SweepIntervalSeconds = 60
	}
	if cfg.Cache.RecencyTTL.TodaySeconds == 0 {
		cfg.Cache.RecencyTTL.TodaySeconds = 60
	}
	if cfg.Cache.RecencyTTL.RecentSeconds == 0 {
		cfg.Cache.RecencyTTL.RecentSeconds = 15 * 60
	}
	if cfg.Cache.RecencyTTL.HistoricalSeconds == 0 {
		cfg.Cache.RecencyTTL.HistoricalSeconds = 24 * 60 * 60
	}
	if cfg.Analytics.ComputationTimeoutMS == 0 {
		cfg.Analytics.ComputationTimeoutMS = 30000
	}
	if cfg.Analytics.EnableProgressiveLoading == nil {
		on := true
		cfg.Analytics.EnableProgressiveLoading = &on
	}
	if cfg.Health.DegradedAfter == 0 {
		cfg.Health.DegradedAfter = health.DefaultConfig().DegradedAfter
	}
	if cfg.Health.UnhealthyAfter == 0 {
		cfg.Health.UnhealthyAfter = health.DefaultConfig().UnhealthyAfter
	}
	if cfg.Warming.Signals == "" {
		cfg.Warming.Signals = "none"
	}
	if cfg.Warming.LockTTLSeconds == 0 {
		cfg.Warming.LockTTLSeconds = 300
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "outreach_analytics"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in containers.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		if os.Getenv("ANALYTICS_CACHE_BACKEND") == "" {
			cfg.Cache.Backend = "redis"
		}
	}
	if v := os.Getenv("ANALYTICS_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("ANALYTICS_SOURCE"); v != "" {
		cfg.Source.Type = v
	}
	if v := os.Getenv("ANALYTICS_SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("ANALYTICS_SOURCE_TOKEN"); v != "" {
		cfg.Source.Token = v
	}
	if v := os.Getenv("ANALYTICS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ANALYTICS_WARMING_STRATEGY_URI"); v != "" {
		cfg.Warming.StrategyURI = v
	}
	if n, ok := envInt("ANALYTICS_MAX_CONCURRENT_OPERATIONS"); ok {
		cfg.Analytics.MaxConcurrentOperations = n
	}
	if n, ok := envInt("ANALYTICS_COMPUTATION_TIMEOUT_MS"); ok {
		cfg.Analytics.ComputationTimeoutMS = n
	}
	if n, ok := envInt("PORT"); ok {
		cfg.Server.Port = n
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.AWS.Region == "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("ANALYTICS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}

	return cfg, nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
