// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingRequired is wrapped by Validate when required settings are absent.
var ErrMissingRequired = errors.New("config: missing required settings")

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
	PublicURL           string // Externally reachable base URL; used to build the provider callback URL.

	// Backend settings.
	DatabaseURL string
	ServiceKey  string        // HS256 secret that signs user access tokens.
	TokenTTL    time.Duration // Lifetime of tokens minted by the token command.

	// Video provider settings.
	TavusAPIKey                string
	TavusBaseURL               string
	TavusReplicaID             string
	TavusPersonaID             string
	TavusPersonaName           string
	TavusTimeout               time.Duration
	MaxCallDuration            time.Duration
	ParticipantLeftTimeout     time.Duration
	ParticipantAbsentTimeout   time.Duration
	WebhookToken               string // Optional shared token required on the callback URL.
	OrphanReconcileInterval    time.Duration
	OrphanMaxAttempts          int
	IdempotencyCleanupInterval time.Duration
	IdempotencyCompletedTTL    time.Duration
	IdempotencyAbandonedTTL    time.Duration

	// Rate limiting on session provisioning.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	RedisURL         string // When set, limits are shared across replicas through Redis.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are reported together; missing required keys are reported
// by Validate.
func Load() (Config, error) {
	var errs []error
	str := envStr
	intv := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolv := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	floatv := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Port:                       intv("KOKORO_PORT", 8080),
		ReadTimeout:                dur("KOKORO_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:               dur("KOKORO_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:        int64(intv("KOKORO_MAX_REQUEST_BODY_BYTES", 1024*1024)), // 1 MB default
		CORSAllowedOrigins:         envList("KOKORO_CORS_ALLOWED_ORIGINS", []string{"*"}),
		PublicURL:                  strings.TrimRight(str("KOKORO_PUBLIC_URL", "http://localhost:8080"), "/"),
		DatabaseURL:                str("DATABASE_URL", ""),
		ServiceKey:                 str("KOKORO_SERVICE_KEY", ""),
		TokenTTL:                   dur("KOKORO_TOKEN_TTL", time.Hour),
		TavusAPIKey:                str("TAVUS_API_KEY", ""),
		TavusBaseURL:               str("TAVUS_BASE_URL", "https://tavusapi.com"),
		TavusReplicaID:             str("TAVUS_REPLICA_ID", "r79e1c033f"),
		TavusPersonaID:             str("TAVUS_PERSONA_ID", "p5d11710002a"),
		TavusPersonaName:           str("TAVUS_PERSONA_NAME", "Mentor"),
		TavusTimeout:               dur("TAVUS_TIMEOUT", 20*time.Second),
		MaxCallDuration:            dur("KOKORO_MAX_CALL_DURATION", 30*time.Minute),
		ParticipantLeftTimeout:     dur("KOKORO_PARTICIPANT_LEFT_TIMEOUT", 60*time.Second),
		ParticipantAbsentTimeout:   dur("KOKORO_PARTICIPANT_ABSENT_TIMEOUT", 5*time.Minute),
		WebhookToken:               str("KOKORO_WEBHOOK_TOKEN", ""),
		OrphanReconcileInterval:    dur("KOKORO_ORPHAN_RECONCILE_INTERVAL", time.Minute),
		OrphanMaxAttempts:          intv("KOKORO_ORPHAN_MAX_ATTEMPTS", 10),
		IdempotencyCleanupInterval: dur("KOKORO_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
		IdempotencyCompletedTTL:    dur("KOKORO_IDEMPOTENCY_COMPLETED_TTL", 24*time.Hour),
		IdempotencyAbandonedTTL:    dur("KOKORO_IDEMPOTENCY_ABANDONED_TTL", 10*time.Minute),
		RateLimitEnabled:           boolv("KOKORO_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:               floatv("KOKORO_RATE_LIMIT_RPS", 0.2),
		RateLimitBurst:             intv("KOKORO_RATE_LIMIT_BURST", 3),
		RedisURL:                   str("KOKORO_REDIS_URL", ""),
		OTELEndpoint:               str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:               boolv("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:                str("OTEL_SERVICE_NAME", "kokoro"),
		LogLevel:                   str("KOKORO_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.ServiceKey == "" {
		missing = append(missing, "KOKORO_SERVICE_KEY")
	}
	if c.TavusAPIKey == "" {
		missing = append(missing, "TAVUS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	if len(c.ServiceKey) < 32 {
		return fmt.Errorf("config: KOKORO_SERVICE_KEY must be at least 32 bytes")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: KOKORO_TOKEN_TTL must be positive")
	}
	if c.TavusReplicaID == "" || c.TavusPersonaID == "" {
		return fmt.Errorf("config: TAVUS_REPLICA_ID and TAVUS_PERSONA_ID must not be empty")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KOKORO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MaxCallDuration <= 0 {
		return fmt.Errorf("config: KOKORO_MAX_CALL_DURATION must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: KOKORO_RATE_LIMIT_RPS and KOKORO_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.OrphanReconcileInterval <= 0 {
		return fmt.Errorf("config: KOKORO_ORPHAN_RECONCILE_INTERVAL must be positive")
	}
	if c.IdempotencyCleanupInterval <= 0 {
		return fmt.Errorf("config: KOKORO_IDEMPOTENCY_CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// CallbackURL returns the URL the provider should post webhook events to.
func (c Config) CallbackURL() string {
	u := c.PublicURL + "/webhooks/tavus"
	if c.WebhookToken != "" {
		u += "?token=" + url.QueryEscape(c.WebhookToken)
	}
	return u
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
