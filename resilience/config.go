package resilience

import (
	"fmt"
	"time"

	"github.com/jonwraymond/callguard/classify"
)

// DependencyType identifies the kind of external dependency a call targets.
// Defaults (timeouts, retry policy, breaker thresholds) are keyed by type;
// circuit breaker and health state are keyed by the finer-grained string key.
type DependencyType int

const (
	// Database is a relational or document store.
	Database DependencyType = iota
	// AIService is a generation/inference provider.
	AIService
	// MarketData is a market-data feed.
	MarketData
	// Cache is a remote cache tier.
	Cache
	// ExternalAPI is any other third-party HTTP API.
	ExternalAPI
)

// String returns the metric/log label for the dependency type.
func (t DependencyType) String() string {
	switch t {
	case Database:
		return "database"
	case AIService:
		return "ai_service"
	case MarketData:
		return "market_data"
	case Cache:
		return "cache"
	case ExternalAPI:
		return "external_api"
	default:
		return "unknown"
	}
}

// DependencyTypes lists every known dependency type.
var DependencyTypes = []DependencyType{Database, AIService, MarketData, Cache, ExternalAPI}

// Timeouts holds the time budgets for a dependency call. Overall bounds the
// whole protected path (all attempts plus backoff); Connect, Read, and Write
// are advisory budgets for collaborators building their transports.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
	Overall time.Duration
}

// RetryPolicy configures classified retries with exponential backoff.
type RetryPolicy struct {
	// MaxRetries is the number of re-attempts after the first call.
	// MaxRetries=3 means at most 4 invocations.
	MaxRetries int

	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff between retries.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay each attempt. Must be >= 1.
	BackoffMultiplier float64

	// JitterFraction adds uniform jitter in [0, delay*JitterFraction).
	// Must be in [0, 1].
	JitterFraction float64

	// RetryableCategories restricts which failure categories are retried.
	// Nil means the taxonomy defaults (TIMEOUT, RATE_LIMIT, NETWORK,
	// SERVER_ERROR).
	RetryableCategories []classify.Category
}

// ShouldRetry reports whether the policy retries the given error.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if p.RetryableCategories == nil {
		return classify.Retryable(err)
	}

	category := classify.Classify(err)
	for _, c := range p.RetryableCategories {
		if c == category {
			return true
		}
	}
	return false
}

// BreakerConfig configures the per-key circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive counted failures that
	// opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit.
	SuccessThreshold int

	// HalfOpenMaxCalls caps concurrent probes while half-open.
	HalfOpenMaxCalls int

	// ResetTimeout is the open-state cooldown before probing resumes.
	ResetTimeout time.Duration
}

// Config is the full resilience configuration for one dependency type.
// Registry entries are immutable after construction; per-call overrides
// produce a derived call-scoped copy.
type Config struct {
	Timeouts Timeouts
	Retry    RetryPolicy
	Breaker  BreakerConfig

	// MaxConcurrent caps in-flight calls per dependency key.
	// Zero disables the bulkhead.
	MaxConcurrent int

	// Rate and Burst configure a local token-bucket ceiling per dependency
	// type. Rate zero disables rate limiting.
	Rate  float64
	Burst int
}

// Validate checks the configuration for internally inconsistent values.
func (c Config) Validate() error {
	if c.Timeouts.Overall < 0 {
		return fmt.Errorf("%w: overall timeout is negative", ErrInvalidConfig)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries is negative", ErrInvalidConfig)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delay is negative", ErrInvalidConfig)
	}
	if c.Retry.BackoffMultiplier != 0 && c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier %v < 1", ErrInvalidConfig, c.Retry.BackoffMultiplier)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("%w: jitter fraction %v outside [0, 1]", ErrInvalidConfig, c.Retry.JitterFraction)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.SuccessThreshold < 0 || c.Breaker.HalfOpenMaxCalls < 0 {
		return fmt.Errorf("%w: breaker threshold is negative", ErrInvalidConfig)
	}
	if c.Breaker.ResetTimeout < 0 {
		return fmt.Errorf("%w: breaker reset timeout is negative", ErrInvalidConfig)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: max concurrent is negative", ErrInvalidConfig)
	}
	if c.Rate < 0 || c.Burst < 0 {
		return fmt.Errorf("%w: rate limit is negative", ErrInvalidConfig)
	}
	return nil
}

// DefaultConfig returns the built-in defaults for a dependency type.
func DefaultConfig(t DependencyType) Config {
	switch t {
	case Database:
		return Config{
			Timeouts: Timeouts{Connect: 2 * time.Second, Read: 3 * time.Second, Write: 3 * time.Second, Overall: 5 * time.Second},
			Retry:    RetryPolicy{MaxRetries: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffMultiplier: 2.0, JitterFraction: 0.25},
			Breaker:  BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenMaxCalls: 2, ResetTimeout: 30 * time.Second},
		}
	case AIService:
		return Config{
			Timeouts: Timeouts{Connect: 5 * time.Second, Read: 55 * time.Second, Write: 10 * time.Second, Overall: 60 * time.Second},
			Retry:    RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 15 * time.Second, BackoffMultiplier: 2.0, JitterFraction: 0.25},
			Breaker:  BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenMaxCalls: 1, ResetTimeout: 60 * time.Second},
			Rate:     10,
			Burst:    5,
		}
	case MarketData:
		return Config{
			Timeouts: Timeouts{Connect: 2 * time.Second, Read: 8 * time.Second, Write: 2 * time.Second, Overall: 10 * time.Second},
			Retry:    RetryPolicy{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, BackoffMultiplier: 2.0, JitterFraction: 0.25},
			Breaker:  BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenMaxCalls: 2, ResetTimeout: 60 * time.Second},
		}
	case Cache:
		return Config{
			Timeouts: Timeouts{Connect: 500 * time.Millisecond, Read: 500 * time.Millisecond, Write: 500 * time.Millisecond, Overall: time.Second},
			Retry:    RetryPolicy{MaxRetries: 1, InitialDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond, BackoffMultiplier: 2.0, JitterFraction: 0.25},
			Breaker:  BreakerConfig{FailureThreshold: 10, SuccessThreshold: 2, HalfOpenMaxCalls: 3, ResetTimeout: 10 * time.Second},
		}
	default:
		return Config{
			Timeouts: Timeouts{Connect: 3 * time.Second, Read: 10 * time.Second, Write: 5 * time.Second, Overall: 15 * time.Second},
			Retry:    RetryPolicy{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffMultiplier: 2.0, JitterFraction: 0.25},
			Breaker:  BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenMaxCalls: 1, ResetTimeout: 30 * time.Second},
		}
	}
}

// ConfigRegistry holds the per-type defaults. It is built once at startup
// and read-only afterwards, so lookups need no locking.
type ConfigRegistry struct {
	configs map[DependencyType]Config
}

// NewConfigRegistry builds a registry from the built-in defaults with the
// given per-type overrides applied. Every resulting entry is validated.
func NewConfigRegistry(overrides map[DependencyType]Config) (*ConfigRegistry, error) {
	configs := make(map[DependencyType]Config, len(DependencyTypes))
	for _, t := range DependencyTypes {
		cfg := DefaultConfig(t)
		if override, ok := overrides[t]; ok {
			cfg = override
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config for %s: %w", t, err)
		}
		configs[t] = cfg
	}
	return &ConfigRegistry{configs: configs}, nil
}

// DefaultRegistry returns a registry holding only the built-in defaults.
func DefaultRegistry() *ConfigRegistry {
	reg, err := NewConfigRegistry(nil)
	if err != nil {
		// Built-in defaults always validate.
		panic(err)
	}
	return reg
}

// For returns the configuration for a dependency type.
func (r *ConfigRegistry) For(t DependencyType) Config {
	if cfg, ok := r.configs[t]; ok {
		return cfg
	}
	return DefaultConfig(t)
}
