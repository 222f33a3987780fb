// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings.
	DatabaseURL string // Postgres URL for the knowledge ledger.

	// Redis settings; absence disables rate-limit caching (spec §6).
	RedisURL string

	// JWT settings (spec §6: JWT_SECRET is required).
	JWTSecret     string
	JWTExpiration time.Duration

	// Model adapter endpoints and API keys, one set per council member
	// provider. Absence of a key marks that member unavailable rather than
	// failing startup (spec §4.4).
	GroqAPIKey   string
	GeminiAPIKey string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// CORS settings.
	CORSAllowedOrigins []string

	// AdminAPIKey authenticates POST /auth/token, the only endpoint that
	// mints JWTs. Required so token issuance isn't wide open.
	AdminAPIKey string

	// Web search endpoint backing HUGIN's disinformation-filtered branch.
	// Absence disables web lookups (spec §4.4 degraded-operation tolerance).
	WebSearchEndpoint string
	WebSearchAPIKey   string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	PipelineDeadline    time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if any environment variable contains an unparseable value,
// or if Validate rejects the result: DATABASE_URL, JWT_SECRET and
// YGGDRASIL_ADMIN_API_KEY have no default and must be set.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		DatabaseURL:      envStr("DATABASE_URL", ""),
		RedisURL:         envStr("REDIS_URL", ""),
		JWTSecret:        envStr("JWT_SECRET", ""),
		GroqAPIKey:       envStr("GROQ_API_KEY", ""),
		GeminiAPIKey:     envStr("GEMINI_API_KEY", ""),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "yggdrasil"),
		LogLevel:          envStr("YGGDRASIL_LOG_LEVEL", "info"),
		CORSAllowedOrigins: envStrSlice("YGGDRASIL_CORS_ALLOWED_ORIGINS", nil),
		AdminAPIKey:       envStr("YGGDRASIL_ADMIN_API_KEY", ""),
		WebSearchEndpoint: envStr("YGGDRASIL_WEB_SEARCH_ENDPOINT", ""),
		WebSearchAPIKey:   envStr("YGGDRASIL_WEB_SEARCH_API_KEY", ""),
	}

	cfg.Port, errs = collectInt(errs, "YGGDRASIL_PORT", 8080)

	var maxReqBody int
	maxReqBody, errs = collectInt(errs, "YGGDRASIL_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	cfg.MaxRequestBodyBytes = int64(maxReqBody)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	cfg.ReadTimeout, errs = collectDuration(errs, "YGGDRASIL_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "YGGDRASIL_WRITE_TIMEOUT", 30*time.Second)
	cfg.JWTExpiration, errs = collectDuration(errs, "JWT_EXPIRES_IN", 15*time.Minute)
	cfg.PipelineDeadline, errs = collectDuration(errs, "YGGDRASIL_PIPELINE_DEADLINE", 90*time.Second)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("config: JWT_SECRET is required"))
	}
	if c.AdminAPIKey == "" {
		errs = append(errs, errors.New("config: YGGDRASIL_ADMIN_API_KEY is required"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("config: YGGDRASIL_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: YGGDRASIL_PORT must be between 1 and 65535"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: YGGDRASIL_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: YGGDRASIL_WRITE_TIMEOUT must be positive"))
	}
	if c.PipelineDeadline <= 0 {
		errs = append(errs, errors.New("config: YGGDRASIL_PIPELINE_DEADLINE must be positive"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envStrSlice reads a comma-separated env var into a string slice.
// Returns fallback if the env var is empty or unset.
func envStrSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
