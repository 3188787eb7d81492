package toolrt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the runtime.
type LogLevel string

// Recognised log levels.
const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values like "60s" or "16ms" parse
// naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler using time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for the runtime, typically loaded
// from a YAML file using LoadConfig or LoadConfigFromReader.
type Config struct {
	Server   ServerConfigSection   `yaml:"server"`
	Executor ExecutorConfigSection `yaml:"executor"`
	Dispatch DispatchConfigSection `yaml:"dispatch"`
	Breaker  BreakerConfigSection  `yaml:"breaker"`
	Cache    CacheConfigSection    `yaml:"cache"`
	Health   HealthConfigSection   `yaml:"health"`
}

// ServerConfigSection holds network and logging settings.
type ServerConfigSection struct {
	// ListenAddr is the TCP address the transport listens on (e.g. ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// Name and Version identify the server in metadata responses and headers.
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PingInterval is the keep-alive cadence on SSE sessions.
	PingInterval Duration `yaml:"ping_interval"`
}

// ExecutorConfigSection tunes the cooperative executor.
type ExecutorConfigSection struct {
	TickInterval Duration `yaml:"tick_interval"`
	HighBudget   int      `yaml:"high_budget"`
	TickBudget   int      `yaml:"tick_budget"`
}

// DispatchConfigSection tunes the affine dispatch path.
type DispatchConfigSection struct {
	// Timeout bounds how long a caller waits for a queued affine call. Zero
	// waits indefinitely.
	Timeout Duration `yaml:"timeout"`
}

// BreakerConfigSection tunes the per-tool circuit breakers.
type BreakerConfigSection struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	SuccessThreshold int      `yaml:"success_threshold"`
}

// CacheConfigSection tunes the response cache.
type CacheConfigSection struct {
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries"`

	// Include restricts memoization to tools matching one of the glob
	// patterns. Empty caches every tool.
	Include []string `yaml:"include"`
}

// HealthConfigSection tunes health classification thresholds.
type HealthConfigSection struct {
	UnhealthyErrorRate   float64 `yaml:"unhealthy_error_rate"`
	DegradedErrorRate    float64 `yaml:"degraded_error_rate"`
	OpenCircuitThreshold int     `yaml:"open_circuit_threshold"`
}

// LoadConfig reads the YAML configuration file at path and returns a validated
// Config. It is a convenience wrapper around LoadConfigFromReader.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected. Useful in tests where configs are constructed
// from string literals.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found.
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error",
			cfg.Server.LogLevel))
	}
	if cfg.Executor.HighBudget < 0 {
		errs = append(errs, errors.New("executor.high_budget must not be negative"))
	}
	if cfg.Executor.TickBudget < 0 {
		errs = append(errs, errors.New("executor.tick_budget must not be negative"))
	}
	if cfg.Executor.HighBudget > 0 && cfg.Executor.TickBudget > 0 &&
		cfg.Executor.HighBudget > cfg.Executor.TickBudget {
		errs = append(errs, errors.New("executor.high_budget must not exceed executor.tick_budget"))
	}
	if cfg.Breaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must not be negative"))
	}
	if cfg.Breaker.SuccessThreshold < 0 {
		errs = append(errs, errors.New("breaker.success_threshold must not be negative"))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, errors.New("cache.max_entries must not be negative"))
	}
	if r := cfg.Health.UnhealthyErrorRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("health.unhealthy_error_rate must be within [0, 1]"))
	}
	if r := cfg.Health.DegradedErrorRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("health.degraded_error_rate must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// BreakerConfig converts the section into the runtime's breaker configuration.
func (cfg *Config) BreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Std(),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}
}

// CacheConfig converts the section into the runtime's cache configuration.
func (cfg *Config) CacheConfig() CacheConfig {
	return CacheConfig{
		TTL:             cfg.Cache.TTL.Std(),
		MaxEntries:      cfg.Cache.MaxEntries,
		IncludePatterns: cfg.Cache.Include,
	}
}

// ExecutorConfig converts the section into the runtime's executor configuration.
func (cfg *Config) ExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TickInterval: cfg.Executor.TickInterval.Std(),
		HighBudget:   cfg.Executor.HighBudget,
		TickBudget:   cfg.Executor.TickBudget,
	}
}

// HealthConfig converts the section into the runtime's health configuration.
func (cfg *Config) HealthConfig() HealthConfig {
	return HealthConfig{
		UnhealthyErrorRate:   cfg.Health.UnhealthyErrorRate,
		DegradedErrorRate:    cfg.Health.DegradedErrorRate,
		OpenCircuitThreshold: cfg.Health.OpenCircuitThreshold,
	}
}

// SlogLevel converts the configured log level into a slog level, defaulting to
// info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
