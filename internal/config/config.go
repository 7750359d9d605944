// Package config provides YAML configuration loading with validation,
// environment variable substitution, and environment overrides for the
// recommendation gateway.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Upstreams UpstreamsConfig `yaml:"upstreams" json:"upstreams"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// UpstreamsConfig holds the three upstream base URLs.
type UpstreamsConfig struct {
	UserProfileURL string `yaml:"user_profile_url" json:"user_profile_url"`
	ContentURL     string `yaml:"content_url" json:"content_url"`
	TrendingURL    string `yaml:"trending_url" json:"trending_url"`
}

// BreakerConfig holds circuit breaker settings, applied identically to the
// user-profile and content breakers. FailureRateThreshold is a pointer so an
// explicit 0 (trip on any failure once the window is full) is distinguishable
// from an omitted field, which defaults to 0.5.
type BreakerConfig struct {
	RequestTimeout              time.Duration `yaml:"request_timeout" json:"request_timeout"`
	WindowSize                  int           `yaml:"window_size" json:"window_size"`
	FailureRateThreshold        *float64      `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	ConsecutiveFailureThreshold int           `yaml:"consecutive_failure_threshold" json:"consecutive_failure_threshold"`
	OpenStateDuration           time.Duration `yaml:"open_state_duration" json:"open_state_duration"`
	HalfOpenMaxTrials           int           `yaml:"half_open_max_trials" json:"half_open_max_trials"`
}

// RateLimitConfig holds the per-client rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds the JWT settings guarding the admin endpoints.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
	Scope     string `yaml:"scope" json:"scope"` // required scope claim; default: "admin"
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, environment overrides, defaults, and validation.
// An empty path or a missing file yields the default configuration, so the
// service runs with nothing but environment variables set.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else {
			data = b
		}
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

// applyEnvOverrides applies the well-known environment variables on top of
// whatever the file provided.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("USER_PROFILE_URL"); v != "" {
		cfg.Upstreams.UserProfileURL = v
	}
	if v := os.Getenv("CONTENT_URL"); v != "" {
		cfg.Upstreams.ContentURL = v
	}
	if v := os.Getenv("TRENDING_URL"); v != "" {
		cfg.Upstreams.TrendingURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Upstreams.UserProfileURL == "" {
		cfg.Upstreams.UserProfileURL = "http://localhost:8081"
	}
	if cfg.Upstreams.ContentURL == "" {
		cfg.Upstreams.ContentURL = "http://localhost:8082"
	}
	if cfg.Upstreams.TrendingURL == "" {
		cfg.Upstreams.TrendingURL = "http://localhost:8083"
	}

	cb := &cfg.Breaker
	if cb.RequestTimeout == 0 {
		cb.RequestTimeout = 2 * time.Second
	}
	if cb.WindowSize == 0 {
		cb.WindowSize = 10
	}
	if cb.FailureRateThreshold == nil {
		v := 0.5
		cb.FailureRateThreshold = &v
	}
	if cb.ConsecutiveFailureThreshold == 0 {
		cb.ConsecutiveFailureThreshold = 5
	}
	if cb.OpenStateDuration == 0 {
		cb.OpenStateDuration = 30 * time.Second
	}
	if cb.HalfOpenMaxTrials == 0 {
		cb.HalfOpenMaxTrials = 3
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 50
	}

	if cfg.Auth.Scope == "" {
		cfg.Auth.Scope = "admin"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	cb := cfg.Breaker
	if cb.RequestTimeout <= 0 {
		return fmt.Errorf("breaker.request_timeout must be positive")
	}
	if cb.WindowSize <= 0 {
		return fmt.Errorf("breaker.window_size must be positive")
	}
	if t := *cb.FailureRateThreshold; t < 0 || t > 1 {
		return fmt.Errorf("breaker.failure_rate_threshold must be in [0, 1], got %g", t)
	}
	if cb.ConsecutiveFailureThreshold <= 0 {
		return fmt.Errorf("breaker.consecutive_failure_threshold must be positive")
	}
	if cb.OpenStateDuration <= 0 {
		return fmt.Errorf("breaker.open_state_duration must be positive")
	}
	if cb.HalfOpenMaxTrials <= 0 {
		return fmt.Errorf("breaker.half_open_max_trials must be positive")
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string

	if cfg.Breaker.RequestTimeout >= userFacingDeadlineFloor {
		warnings = append(warnings,
			fmt.Sprintf("breaker.request_timeout %s is at or above the caller deadlines; the breaker timeout will never fire first", cfg.Breaker.RequestTimeout))
	}
	if cfg.Auth.Enabled && len(cfg.Auth.JWTSecret) < 32 {
		warnings = append(warnings, "auth.jwt_secret is shorter than 32 bytes; use a longer secret")
	}
	if cfg.Breaker.WindowSize == 1 {
		warnings = append(warnings, "breaker.window_size of 1 makes the rate trip check fire on any single failure")
	}

	return warnings
}

// userFacingDeadlineFloor is the smallest caller-layer deadline (user-profile
// and content calls run at 3s). A breaker timeout at or above it is inert.
const userFacingDeadlineFloor = 3 * time.Second
