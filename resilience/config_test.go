package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/callguard/classify"
)

func TestDependencyTypeString(t *testing.T) {
	tests := []struct {
		t    DependencyType
		want string
	}{
		{Database, "database"},
		{AIService, "ai_service"},
		{MarketData, "market_data"},
		{Cache, "cache"},
		{ExternalAPI, "external_api"},
		{DependencyType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("DependencyType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestDefaultConfigPerType(t *testing.T) {
	db := DefaultConfig(Database)
	if db.Timeouts.Overall != 5*time.Second {
		t.Errorf("database overall timeout = %v, want 5s", db.Timeouts.Overall)
	}
	if db.Retry.MaxRetries != 3 {
		t.Errorf("database max retries = %d, want 3", db.Retry.MaxRetries)
	}

	ai := DefaultConfig(AIService)
	if ai.Timeouts.Overall != 60*time.Second {
		t.Errorf("ai_service overall timeout = %v, want 60s", ai.Timeouts.Overall)
	}
	if ai.Rate != 10 || ai.Burst != 5 {
		t.Errorf("ai_service rate/burst = %v/%d, want 10/5", ai.Rate, ai.Burst)
	}

	for _, dt := range DependencyTypes {
		if err := DefaultConfig(dt).Validate(); err != nil {
			t.Errorf("default config for %s fails validation: %v", dt, err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative overall timeout", func(c *Config) { c.Timeouts.Overall = -time.Second }},
		{"negative max retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"negative initial delay", func(c *Config) { c.Retry.InitialDelay = -time.Second }},
		{"multiplier below one", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }},
		{"jitter above one", func(c *Config) { c.Retry.JitterFraction = 1.5 }},
		{"negative jitter", func(c *Config) { c.Retry.JitterFraction = -0.1 }},
		{"negative failure threshold", func(c *Config) { c.Breaker.FailureThreshold = -1 }},
		{"negative reset timeout", func(c *Config) { c.Breaker.ResetTimeout = -time.Second }},
		{"negative max concurrent", func(c *Config) { c.MaxConcurrent = -1 }},
		{"negative rate", func(c *Config) { c.Rate = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(Database)
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigRegistryOverrides(t *testing.T) {
	custom := DefaultConfig(Database)
	custom.Retry.MaxRetries = 7

	reg, err := NewConfigRegistry(map[DependencyType]Config{Database: custom})
	if err != nil {
		t.Fatalf("NewConfigRegistry() error = %v", err)
	}

	if got := reg.For(Database).Retry.MaxRetries; got != 7 {
		t.Errorf("override not applied: MaxRetries = %d, want 7", got)
	}
	// Other types keep their defaults.
	if got := reg.For(AIService).Timeouts.Overall; got != 60*time.Second {
		t.Errorf("ai_service overall timeout = %v, want 60s", got)
	}
}

func TestConfigRegistryRejectsInvalidOverride(t *testing.T) {
	bad := DefaultConfig(Database)
	bad.Retry.MaxRetries = -1

	if _, err := NewConfigRegistry(map[DependencyType]Config{Database: bad}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewConfigRegistry() error = %v, want ErrInvalidConfig", err)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	policy := RetryPolicy{}

	retryable := classify.New("UPSTREAM_503", classify.CategoryServerError, errors.New("boom"))
	if !policy.ShouldRetry(retryable) {
		t.Error("server error should be retryable by default")
	}

	clientErr := classify.New("BAD_REQUEST", classify.CategoryClientError, errors.New("bad"))
	if policy.ShouldRetry(clientErr) {
		t.Error("client error should not be retryable")
	}

	if policy.ShouldRetry(nil) {
		t.Error("nil error should not be retryable")
	}
}

func TestRetryPolicyCategoryAllowlist(t *testing.T) {
	policy := RetryPolicy{RetryableCategories: []classify.Category{classify.CategoryTimeout}}

	timeoutErr := classify.New("TIMEOUT", classify.CategoryTimeout, errors.New("slow"))
	if !policy.ShouldRetry(timeoutErr) {
		t.Error("timeout should match the allowlist")
	}

	serverErr := classify.New("UPSTREAM_503", classify.CategoryServerError, errors.New("boom"))
	if policy.ShouldRetry(serverErr) {
		t.Error("server error is outside the allowlist")
	}
}
