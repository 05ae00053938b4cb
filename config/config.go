package config

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Upstream sports provider
	UpstreamAPIKey    string
	UpstreamBaseURL   string
	UpstreamBudget    int           // calls per hour
	UpstreamMinDelay  time.Duration // minimum inter-request spacing
	UpstreamTimeout   time.Duration // per-call timeout
	PollInterval      time.Duration // ingestion tick period
	MaxMonitored      int           // fixture cap per tick
	IngestConcurrency int           // fetch worker pool size
	EvalConcurrency   int           // evaluator worker pool size
	DefaultCooldown   time.Duration
	EventBufferSize   int
	PatternRetention  time.Duration

	// Delivery providers; an empty URL leaves the channel without a
	// transport and alerts carrying it fail that channel permanently.
	SMSProviderURL   string
	SMSAPIKey        string
	EmailProviderURL string
	EmailAPIKey      string
	EmailFrom        string

	// Infrastructure
	SQLitePath    string
	RedisAddr     string // empty disables the Redis mirror
	RedisPassword string
	MetricsAddr   string
	ControlAddr   string
	LogLevel      string
}

const (
	minPollInterval = 60 * time.Second
	maxPollInterval = 600 * time.Second
)

// Load reads configuration from environment variables with sensible defaults.
// The process exits on missing required variables.
func Load() *Config {
	cfg := &Config{
		UpstreamAPIKey:    mustEnv("UPSTREAM_API_KEY"),
		UpstreamBaseURL:   getEnv("UPSTREAM_BASE_URL", "https://api.sportsfeed.example/v3"),
		UpstreamBudget:    envInt("UPSTREAM_BUDGET_PER_HOUR", 100),
		UpstreamMinDelay:  time.Duration(envInt("UPSTREAM_MIN_DELAY_MS", 100)) * time.Millisecond,
		UpstreamTimeout:   time.Duration(envInt("UPSTREAM_TIMEOUT_SECONDS", 10)) * time.Second,
		PollInterval:      time.Duration(envInt("POLL_INTERVAL_SECONDS", 300)) * time.Second,
		MaxMonitored:      envInt("MAX_MONITORED_FIXTURES", 20),
		IngestConcurrency: envInt("INGESTION_CONCURRENCY", 5),
		EvalConcurrency:   envInt("EVAL_CONCURRENCY", runtime.NumCPU()),
		DefaultCooldown:   time.Duration(envInt("DEFAULT_COOLDOWN_SECONDS", 300)) * time.Second,
		EventBufferSize:   envInt("EVENT_BUFFER_SIZE", 50),
		PatternRetention:  time.Duration(envInt("PATTERN_RETENTION_SECONDS", 7200)) * time.Second,

		SMSProviderURL:   getEnv("SMS_PROVIDER_URL", ""),
		SMSAPIKey:        getEnv("SMS_API_KEY", ""),
		EmailProviderURL: getEnv("EMAIL_PROVIDER_URL", ""),
		EmailAPIKey:      getEnv("EMAIL_API_KEY", ""),
		EmailFrom:        getEnv("EMAIL_FROM", "alerts@matchpulse.example"),

		SQLitePath:    getEnv("SQLITE_PATH", "data/matchpulse.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		ControlAddr:   getEnv("CONTROL_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	// Poll interval is contractually bounded to 60-600s.
	if cfg.PollInterval < minPollInterval {
		log.Printf("[config] POLL_INTERVAL_SECONDS below minimum, clamping to %v", minPollInterval)
		cfg.PollInterval = minPollInterval
	}
	if cfg.PollInterval > maxPollInterval {
		log.Printf("[config] POLL_INTERVAL_SECONDS above maximum, clamping to %v", maxPollInterval)
		cfg.PollInterval = maxPollInterval
	}
	if cfg.IngestConcurrency < 1 || cfg.IngestConcurrency > 5 {
		log.Printf("[config] INGESTION_CONCURRENCY %d out of range, using 5", cfg.IngestConcurrency)
		cfg.IngestConcurrency = 5
	}
	if cfg.EvalConcurrency < 1 {
		cfg.EvalConcurrency = 1
	}
	if cfg.MaxMonitored < 1 {
		cfg.MaxMonitored = 1
	}
	if cfg.EventBufferSize < 1 {
		cfg.EventBufferSize = 50
	}

	return cfg
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[config] invalid integer for %s: %q, using %d", key, v, fallback)
	}
	return fallback
}
