package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by CONFIG_STORE, STATE_BACKEND and RATE_LIMIT_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendS3       = "s3"
	BackendDynamoDB = "dynamodb"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Tenant configuration blob store and cache.
	ConfigStore        string
	ConfigBucket       string
	ConfigPrefix       string
	ConfigCacheTTL     time.Duration
	ConfigStaleCeiling time.Duration

	// Conversation state.
	StateBackend     string
	StateTable       string
	SessionTTL       time.Duration
	StateMaxAttempts int

	// Protected calls.
	BreakerWindow           time.Duration
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	ConfigFetchTimeout      time.Duration
	StateReadTimeout        time.Duration
	StateWriteTimeout       time.Duration
	ResponderTimeout        time.Duration
	RetryMaxAttempts        int
	RetryBaseDelay          time.Duration
	RequestTimeout          time.Duration

	MaxSecondaryCTAs int

	RateLimitBackend   string
	RateLimitPerMinute int
	RateLimitBurst     int
	// IPRateLimitPerMinute throttles public routes per client IP. Zero disables it.
	IPRateLimitPerMinute int

	// AuditSinks is a list of "log", "sqs" and "postgres".
	AuditSinks    []string
	AuditQueueURL string
	DatabaseURL   string
	// EventQueueSize bounds events waiting for delivery to the sinks.
	EventQueueSize int

	// ResponderBackend is "static" or "bedrock".
	ResponderBackend string
	BedrockModelID   string
	StaticReply      string

	AdminJWTSecret      string
	AdminJWTSecretParam string
	CORSAllowedOrigins  []string
}

// Load reads configuration from environment variables. Required values that
// are missing and values that fail to parse are all reported together; the
// caller must refuse to start when an error is returned.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		Port:     l.getEnv("PORT", "8080"),
		Env:      l.getEnv("ENV", "development"),
		LogLevel: l.getEnv("LOG_LEVEL", "info"),

		AWSRegion:           l.getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      l.getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  l.getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: l.getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     l.getEnv("REDIS_ADDR", ""),
		RedisPassword: l.getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      l.getEnvAsBool("REDIS_TLS", false),

		ConfigStore:        strings.ToLower(l.require("CONFIG_STORE")),
		ConfigBucket:       l.getEnv("CONFIG_BUCKET", ""),
		ConfigPrefix:       l.getEnv("CONFIG_PREFIX", ""),
		ConfigCacheTTL:     l.requireDuration("CONFIG_CACHE_TTL"),
		ConfigStaleCeiling: l.requireDuration("CONFIG_STALE_CEILING"),

		StateBackend:     strings.ToLower(l.require("STATE_BACKEND")),
		StateTable:       l.getEnv("STATE_TABLE", ""),
		SessionTTL:       l.requireDuration("SESSION_TTL"),
		StateMaxAttempts: l.getEnvAsInt("STATE_MAX_ATTEMPTS", 3),

		BreakerWindow:           l.getEnvAsDuration("BREAKER_WINDOW", 30*time.Second),
		BreakerFailureThreshold: l.getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         l.getEnvAsDuration("BREAKER_COOLDOWN", 15*time.Second),
		ConfigFetchTimeout:      l.getEnvAsDuration("CONFIG_FETCH_TIMEOUT", 2*time.Second),
		StateReadTimeout:        l.getEnvAsDuration("STATE_READ_TIMEOUT", 500*time.Millisecond),
		StateWriteTimeout:       l.getEnvAsDuration("STATE_WRITE_TIMEOUT", time.Second),
		ResponderTimeout:        l.getEnvAsDuration("RESPONDER_TIMEOUT", 8*time.Second),
		RetryMaxAttempts:        l.getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:          l.getEnvAsDuration("RETRY_BASE_DELAY", 50*time.Millisecond),
		RequestTimeout:          l.getEnvAsDuration("REQUEST_TIMEOUT", 12*time.Second),

		MaxSecondaryCTAs: l.getEnvAsInt("MAX_SECONDARY_CTAS", 5),

		RateLimitBackend:   strings.ToLower(l.getEnv("RATE_LIMIT_BACKEND", BackendMemory)),
		RateLimitPerMinute: l.getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBurst:     l.getEnvAsInt("RATE_LIMIT_BURST", 10),

		IPRateLimitPerMinute: l.getEnvAsInt("IP_RATE_LIMIT_PER_MINUTE", 0),

		AuditSinks:    splitList(l.getEnv("AUDIT_SINKS", "log")),
		AuditQueueURL: l.getEnv("AUDIT_QUEUE_URL", ""),
		DatabaseURL:   l.getEnv("DATABASE_URL", ""),

		EventQueueSize: l.getEnvAsInt("EVENT_QUEUE_SIZE", 1024),

		ResponderBackend: strings.ToLower(l.getEnv("RESPONDER_BACKEND", "static")),
		BedrockModelID:   l.getEnv("BEDROCK_MODEL_ID", ""),
		StaticReply:      l.getEnv("STATIC_REPLY", "Thanks for reaching out! How can we help?"),

		AdminJWTSecret:      l.getEnv("ADMIN_JWT_SECRET", ""),
		AdminJWTSecretParam: l.getEnv("ADMIN_JWT_SECRET_PARAM", ""),
		CORSAllowedOrigins:  splitList(l.getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
	cfg.validate(l)
	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate(l *loader) {
	switch c.ConfigStore {
	case "":
	case BackendS3:
		l.need("CONFIG_BUCKET", c.ConfigBucket)
	case BackendRedis:
		l.need("REDIS_ADDR", c.RedisAddr)
	case BackendMemory:
	default:
		l.fail("CONFIG_STORE: unsupported value %q", c.ConfigStore)
	}

	switch c.StateBackend {
	case "":
	case BackendDynamoDB:
		l.need("STATE_TABLE", c.StateTable)
	case BackendRedis:
		l.need("REDIS_ADDR", c.RedisAddr)
	case BackendMemory:
	default:
		l.fail("STATE_BACKEND: unsupported value %q", c.StateBackend)
	}

	switch c.RateLimitBackend {
	case BackendMemory:
	case BackendRedis:
		l.need("REDIS_ADDR", c.RedisAddr)
	default:
		l.fail("RATE_LIMIT_BACKEND: unsupported value %q", c.RateLimitBackend)
	}
	if c.IPRateLimitPerMinute < 0 {
		l.fail("IP_RATE_LIMIT_PER_MINUTE: must not be negative")
	}

	if c.EventQueueSize <= 0 {
		l.fail("EVENT_QUEUE_SIZE: must be positive")
	}
	for _, sink := range c.AuditSinks {
		switch sink {
		case "log":
		case "sqs":
			l.need("AUDIT_QUEUE_URL", c.AuditQueueURL)
		case "postgres":
			l.need("DATABASE_URL", c.DatabaseURL)
		default:
			l.fail("AUDIT_SINKS: unsupported sink %q", sink)
		}
	}

	switch c.ResponderBackend {
	case "static":
	case "bedrock":
		l.need("BEDROCK_MODEL_ID", c.BedrockModelID)
	default:
		l.fail("RESPONDER_BACKEND: unsupported value %q", c.ResponderBackend)
	}

	if c.ConfigCacheTTL > 0 && c.ConfigStaleCeiling > 0 && c.ConfigStaleCeiling <= c.ConfigCacheTTL {
		l.fail("CONFIG_STALE_CEILING (%s) must exceed CONFIG_CACHE_TTL (%s)", c.ConfigStaleCeiling, c.ConfigCacheTTL)
	}
	if c.BreakerFailureThreshold < 1 {
		l.fail("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if c.StateMaxAttempts < 1 {
		l.fail("STATE_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryMaxAttempts < 1 {
		l.fail("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxSecondaryCTAs < 1 {
		l.fail("MAX_SECONDARY_CTAS must be at least 1")
	}
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.ConfigStore == BackendRedis || c.StateBackend == BackendRedis || c.RateLimitBackend == BackendRedis
}

// loader collects problems instead of silently falling back to defaults.
type loader struct {
	errs []error
}

func (l *loader) fail(format string, args ...any) {
	l.errs = append(l.errs, fmt.Errorf(format, args...))
}

func (l *loader) need(key, value string) {
	if strings.TrimSpace(value) == "" {
		l.fail("%s is required", key)
	}
}

// getEnv retrieves an environment variable or returns a default value
func (l *loader) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (l *loader) require(key string) string {
	value := l.getEnv(key, "")
	l.need(key, value)
	return value
}

func (l *loader) requireDuration(key string) time.Duration {
	raw := l.require(key)
	if raw == "" {
		return 0
	}
	return l.parseDuration(key, raw)
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func (l *loader) getEnvAsInt(key string, defaultValue int) int {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		l.fail("%s: invalid integer %q", key, valueStr)
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func (l *loader) getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		l.fail("%s: invalid boolean %q", key, valueStr)
		return defaultValue
	}
	return value
}

func (l *loader) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return l.parseDuration(key, valueStr)
}

func (l *loader) parseDuration(key, raw string) time.Duration {
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		l.fail("%s: invalid duration %q", key, raw)
		return 0
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
