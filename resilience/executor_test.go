package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/callguard/classify"
	"github.com/jonwraymond/callguard/clock"
)

// fixedRandom always returns the same draw, for deterministic shedding.
type fixedRandom struct{ v float64 }

func (r fixedRandom) Float64() float64     { return r.v }
func (r fixedRandom) Int64N(n int64) int64 { return 0 }

func testRegistry(t *testing.T, mutate func(*Config)) *ConfigRegistry {
	t.Helper()

	cfg := DefaultConfig(ExternalAPI)
	cfg.Retry.JitterFraction = 0
	cfg.Timeouts.Overall = 0
	cfg.Rate = 0
	cfg.MaxConcurrent = 0
	if mutate != nil {
		mutate(&cfg)
	}

	reg, err := NewConfigRegistry(map[DependencyType]Config{ExternalAPI: cfg})
	if err != nil {
		t.Fatalf("NewConfigRegistry() error = %v", err)
	}
	return reg
}

func newTestExecutor(t *testing.T, reg *ConfigRegistry) (*Executor, *clock.Fake) {
	t.Helper()

	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	e := NewExecutor(
		WithClock(fake),
		WithRandom(clock.SeededRandom(1)),
		WithConfigRegistry(reg),
	)
	return e, fake
}

func TestExecutorSuccess(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, nil))

	res := Do(context.Background(), e, Request[string]{
		Type:      ExternalAPI,
		Key:       "payments",
		Operation: "charge",
		Run: func(context.Context) (string, error) {
			return "charged", nil
		},
	})

	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if res.Data != "charged" {
		t.Errorf("Data = %q, want charged", res.Data)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.UsedFallback != "" {
		t.Errorf("UsedFallback = %q, want empty", res.UsedFallback)
	}

	status, ok := e.Health("payments")
	if !ok {
		t.Fatal("Health() ok = false after a call")
	}
	if !status.Healthy || status.ConsecutiveSuccesses != 1 {
		t.Errorf("health = %+v, want healthy with 1 consecutive success", status)
	}

	summary, ok := e.Metrics("payments", "charge")
	if !ok || summary.TotalCalls != 1 || summary.Failures != 0 {
		t.Errorf("metrics = %+v/%v, want 1 call and 0 failures", summary, ok)
	}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 3
		c.Retry.InitialDelay = 100 * time.Millisecond
	}))

	calls := 0
	res := Do(context.Background(), e, Request[int]{
		Type: ExternalAPI,
		Key:  "flaky",
		Run: func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
			}
			return 42, nil
		},
	})

	if !res.Success || res.Data != 42 {
		t.Fatalf("result = %+v, want success with 42", res)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestExecutorNonRetryableStopsImmediately(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, nil))

	calls := 0
	res := Do(context.Background(), e, Request[int]{
		Type: ExternalAPI,
		Key:  "strict",
		Run: func(context.Context) (int, error) {
			calls++
			return 0, classify.New("BAD_REQUEST", classify.CategoryClientError, errBoom)
		},
	})

	if res.Success {
		t.Fatal("Success = true, want failure")
	}
	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1", calls)
	}
	if res.Err.Category != classify.CategoryClientError {
		t.Errorf("Category = %v, want CLIENT_ERROR", res.Err.Category)
	}
	if res.Err.Retryable {
		t.Error("terminal error should not be flagged retryable")
	}
	if res.Err.Dependency == "" {
		t.Error("terminal error should carry dependency attribution")
	}
}

func TestExecutorCircuitOpensAndFailsFast(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
		c.Breaker.FailureThreshold = 3
	}))
	ctx := context.Background()

	fail := Request[int]{
		Type: ExternalAPI,
		Key:  "down",
		Run: func(context.Context) (int, error) {
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	}
	for i := 0; i < 3; i++ {
		Do(ctx, e, fail)
	}

	status, ok := e.CircuitStatus("down")
	if !ok || status.State != StateOpen {
		t.Fatalf("circuit status = %+v/%v, want open", status, ok)
	}

	// The next call fails fast without invoking the operation.
	invoked := false
	res := Do(ctx, e, Request[int]{
		Type: ExternalAPI,
		Key:  "down",
		Run: func(context.Context) (int, error) {
			invoked = true
			return 1, nil
		},
	})

	if invoked {
		t.Error("operation invoked while circuit open")
	}
	if res.Success {
		t.Fatal("Success = true, want circuit-open failure")
	}
	if res.Err.Code != "CIRCUIT_OPEN" || res.Err.Category != classify.CategoryCircuitOpen {
		t.Errorf("error = %v/%v, want CIRCUIT_OPEN", res.Err.Code, res.Err.Category)
	}

	health, _ := e.Health("down")
	if health.Healthy {
		t.Error("key with open circuit should be unhealthy")
	}
	if health.CircuitState != StateOpen {
		t.Errorf("CircuitState = %v, want open", health.CircuitState)
	}
}

func TestExecutorBreakerOpensMidRetryLoop(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 5
		c.Retry.InitialDelay = 10 * time.Millisecond
		c.Breaker.FailureThreshold = 3
	}))

	calls := 0
	res := Do(context.Background(), e, Request[int]{
		Type: ExternalAPI,
		Key:  "melting",
		Run: func(context.Context) (int, error) {
			calls++
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	})

	// Three attempts trip the breaker; the fourth is rejected locally and
	// the retry loop stops rather than burning the remaining budget.
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4 (three real, one rejected)", res.Attempts)
	}
	if res.Err.Category != classify.CategoryCircuitOpen {
		t.Errorf("Category = %v, want CIRCUIT_OPEN", res.Err.Category)
	}
}

func TestExecutorFallbackServesOnFailure(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
	}))

	res := Do(context.Background(), e, Request[string]{
		Type: ExternalAPI,
		Key:  "quotes",
		Run: func(context.Context) (string, error) {
			return "", classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
		Fallbacks: []Fallback[string]{
			{Name: "static", Priority: 20, Run: func(context.Context) (string, error) {
				return "stale-quote", nil
			}},
		},
	})

	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if res.UsedFallback != "static" || res.Data != "stale-quote" {
		t.Errorf("fallback result = %q/%q, want static/stale-quote", res.UsedFallback, res.Data)
	}

	// The fallback rescue must not mask the primary failure in health.
	health, _ := e.Health("quotes")
	if health.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", health.ConsecutiveFailures)
	}

	summary, _ := e.Metrics("quotes", "call")
	if summary.FallbackCalls != 1 {
		t.Errorf("FallbackCalls = %d, want 1", summary.FallbackCalls)
	}
	if summary.Failures != 0 {
		t.Errorf("Failures = %d, want 0 (the call succeeded via fallback)", summary.Failures)
	}
}

func TestExecutorFallbacksExhausted(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
	}))

	res := Do(context.Background(), e, Request[string]{
		Type: ExternalAPI,
		Key:  "quotes",
		Run: func(context.Context) (string, error) {
			return "", classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
		Fallbacks: []Fallback[string]{
			{Name: "also-down", Priority: 10, Run: func(context.Context) (string, error) {
				return "", errBoom
			}},
		},
	})

	if res.Success {
		t.Fatal("Success = true, want exhaustion failure")
	}
	if !errors.Is(res.Err, ErrFallbacksExhausted) {
		t.Errorf("error = %v, want to wrap ErrFallbacksExhausted", res.Err)
	}
}

func TestExecutorDisableFallback(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
	}))

	invoked := false
	res := Do(context.Background(), e, Request[string]{
		Type:            ExternalAPI,
		Key:             "quotes",
		DisableFallback: true,
		Run: func(context.Context) (string, error) {
			return "", classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
		Fallbacks: []Fallback[string]{
			{Name: "static", Priority: 20, Run: func(context.Context) (string, error) {
				invoked = true
				return "x", nil
			}},
		},
	})

	if res.Success || invoked {
		t.Error("fallback ran despite DisableFallback")
	}
}

func TestExecutorDegradedModeSheds(t *testing.T) {
	reg := testRegistry(t, nil)
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	e := NewExecutor(
		WithClock(fake),
		WithConfigRegistry(reg),
		WithRandom(fixedRandom{v: 0.9}), // every draw above the level: always shed
	)
	ctx := context.Background()

	if err := e.EnterDegradedMode(ExternalAPI, 0.5); err != nil {
		t.Fatalf("EnterDegradedMode() error = %v", err)
	}
	if !e.IsDegraded(ExternalAPI) {
		t.Fatal("IsDegraded() = false after entering")
	}

	invoked := false
	res := Do(ctx, e, Request[string]{
		Type: ExternalAPI,
		Key:  "quotes",
		Run: func(context.Context) (string, error) {
			invoked = true
			return "live", nil
		},
		Fallbacks: []Fallback[string]{
			{Name: "degraded-default", Priority: 10, Run: func(context.Context) (string, error) {
				return "stale", nil
			}},
		},
	})

	if invoked {
		t.Error("primary invoked despite shed")
	}
	if !res.Success || res.UsedFallback != "degraded-default" {
		t.Errorf("result = %+v, want fallback success", res)
	}
	if res.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", res.Attempts)
	}

	// Shed calls never touch the health monitor.
	if _, ok := e.Health("quotes"); ok {
		t.Error("health recorded for a shed call that never ran")
	}

	summary, _ := e.Metrics("quotes", "call")
	if summary.ShedCalls != 1 {
		t.Errorf("ShedCalls = %d, want 1", summary.ShedCalls)
	}

	// Exiting restores the primary path.
	e.ExitDegradedMode(ExternalAPI)
	res = Do(ctx, e, Request[string]{
		Type: ExternalAPI,
		Key:  "quotes",
		Run:  func(context.Context) (string, error) { return "live", nil },
	})
	if !res.Success || res.Data != "live" || res.UsedFallback != "" {
		t.Errorf("result after exit = %+v, want live primary", res)
	}
}

func TestExecutorDegradedShedWithoutFallback(t *testing.T) {
	e := NewExecutor(
		WithConfigRegistry(testRegistry(t, nil)),
		WithRandom(fixedRandom{v: 0.9}),
	)
	_ = e.EnterDegradedMode(ExternalAPI, 0.5)

	res := Do(context.Background(), e, Request[string]{
		Type: ExternalAPI,
		Key:  "quotes",
		Run:  func(context.Context) (string, error) { return "live", nil },
	})

	if res.Success {
		t.Fatal("Success = true, want shed failure")
	}
	if res.Err.Code != "DEGRADED" {
		t.Errorf("Code = %q, want DEGRADED", res.Err.Code)
	}
	if !errors.Is(res.Err, ErrDegraded) {
		t.Errorf("error = %v, want to wrap ErrDegraded", res.Err)
	}
}

func TestExecutorOverallTimeout(t *testing.T) {
	e, fake := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Timeouts.Overall = 5 * time.Second
		c.Retry.MaxRetries = 0
	}))

	type result = Result[string]
	done := make(chan result, 1)
	go func() {
		done <- Do(context.Background(), e, Request[string]{
			Type: ExternalAPI,
			Key:  "slow",
			Run: func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
		})
	}()

	for fake.PendingTimers() == 0 {
		time.Sleep(time.Millisecond)
	}
	fake.Advance(5 * time.Second)

	select {
	case res := <-done:
		if res.Success {
			t.Fatal("Success = true, want timeout failure")
		}
		if res.Err.Category != classify.CategoryTimeout {
			t.Errorf("Category = %v, want TIMEOUT", res.Err.Category)
		}
		if !errors.Is(res.Err, ErrTimeout) {
			t.Errorf("error = %v, want to wrap ErrTimeout", res.Err)
		}
		if res.Duration != 5*time.Second {
			t.Errorf("Duration = %v, want 5s of virtual time", res.Duration)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after the overall budget elapsed")
	}
}

func TestExecutorPerCallOverrides(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 5
	}))

	calls := 0
	res := Do(context.Background(), e, Request[int]{
		Type:  ExternalAPI,
		Key:   "tuned",
		Retry: &RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond},
		Run: func(context.Context) (int, error) {
			calls++
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	})

	if calls != 2 {
		t.Errorf("operation invoked %d times, want 2 (per-call MaxRetries=1)", calls)
	}
	if res.Success {
		t.Error("Success = true, want failure")
	}
}

func TestExecutorDisableRetry(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 5
	}))

	calls := 0
	Do(context.Background(), e, Request[int]{
		Type:         ExternalAPI,
		Key:          "once",
		DisableRetry: true,
		Run: func(context.Context) (int, error) {
			calls++
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	})

	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1", calls)
	}
}

func TestExecutorDisableCircuitBreaker(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
		c.Breaker.FailureThreshold = 1
	}))
	ctx := context.Background()

	req := Request[int]{
		Type:                  ExternalAPI,
		Key:                   "unguarded",
		DisableCircuitBreaker: true,
		Run: func(context.Context) (int, error) {
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	}
	for i := 0; i < 5; i++ {
		res := Do(ctx, e, req)
		if res.Err.Category == classify.CategoryCircuitOpen {
			t.Fatal("breaker engaged despite DisableCircuitBreaker")
		}
	}
	if _, ok := e.CircuitStatus("unguarded"); ok {
		t.Error("a breaker was created despite DisableCircuitBreaker")
	}
}

func TestExecutorRateLimit(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
		c.Rate = 0.001
		c.Burst = 1
	}))
	ctx := context.Background()

	ok := Do(ctx, e, Request[int]{
		Type: ExternalAPI,
		Key:  "limited",
		Run:  func(context.Context) (int, error) { return 1, nil },
	})
	if !ok.Success {
		t.Fatalf("first call failed: %v", ok.Err)
	}

	invoked := false
	res := Do(ctx, e, Request[int]{
		Type: ExternalAPI,
		Key:  "limited",
		Run: func(context.Context) (int, error) {
			invoked = true
			return 1, nil
		},
	})
	if invoked {
		t.Error("operation invoked past the rate ceiling")
	}
	if res.Success || res.Err.Code != "RATE_LIMITED" {
		t.Errorf("result = %+v, want RATE_LIMITED failure", res)
	}

	// Local rejections never count toward the breaker.
	if status, ok := e.CircuitStatus("limited"); ok && status.Failures > 0 {
		t.Errorf("breaker failures = %d, want 0", status.Failures)
	}
}

func TestExecutorInvalidOverride(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, nil))

	res := Do(context.Background(), e, Request[int]{
		Type:  ExternalAPI,
		Key:   "bad",
		Retry: &RetryPolicy{MaxRetries: -1},
		Run:   func(context.Context) (int, error) { return 1, nil },
	})

	if res.Success {
		t.Fatal("Success = true, want validation failure")
	}
	if res.Err.Code != "INVALID_CONFIG" {
		t.Errorf("Code = %q, want INVALID_CONFIG", res.Err.Code)
	}
	if !errors.Is(res.Err, ErrInvalidConfig) {
		t.Errorf("error = %v, want to wrap ErrInvalidConfig", res.Err)
	}
}

func TestExecutorKeyDefaultsToType(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, nil))

	Do(context.Background(), e, Request[int]{
		Type: ExternalAPI,
		Run:  func(context.Context) (int, error) { return 1, nil },
	})

	if _, ok := e.Health("external_api"); !ok {
		t.Error("health should be recorded under the type name when Key is empty")
	}
}

func TestExecutorResetCircuit(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
		c.Breaker.FailureThreshold = 1
	}))
	ctx := context.Background()

	Do(ctx, e, Request[int]{
		Type: ExternalAPI,
		Key:  "flappy",
		Run: func(context.Context) (int, error) {
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	})

	status, _ := e.CircuitStatus("flappy")
	if status.State != StateOpen {
		t.Fatalf("state = %v, want open", status.State)
	}

	if !e.ResetCircuit("flappy") {
		t.Fatal("ResetCircuit() = false for existing breaker")
	}
	status, _ = e.CircuitStatus("flappy")
	if status.State != StateClosed {
		t.Errorf("state after reset = %v, want closed", status.State)
	}

	if e.ResetCircuit("nonexistent") {
		t.Error("ResetCircuit() = true for unknown key")
	}
}

func TestExecutorAllHealthSorted(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, nil))
	ctx := context.Background()

	for _, key := range []string{"zeta", "alpha", "mid"} {
		Do(ctx, e, Request[int]{
			Type: ExternalAPI,
			Key:  key,
			Run:  func(context.Context) (int, error) { return 1, nil },
		})
	}

	all := e.AllHealth()
	if len(all) != 3 {
		t.Fatalf("AllHealth() returned %d entries, want 3", len(all))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, status := range all {
		if status.Key != want[i] {
			t.Errorf("AllHealth()[%d].Key = %q, want %q", i, status.Key, want[i])
		}
	}
}

func TestExecutorBreakersIsolatedPerKey(t *testing.T) {
	e, _ := newTestExecutor(t, testRegistry(t, func(c *Config) {
		c.Retry.MaxRetries = 0
		c.Breaker.FailureThreshold = 1
	}))
	ctx := context.Background()

	Do(ctx, e, Request[int]{
		Type: ExternalAPI,
		Key:  "region-a",
		Run: func(context.Context) (int, error) {
			return 0, classify.New("UPSTREAM_503", classify.CategoryServerError, errBoom)
		},
	})

	// region-a is open; region-b is untouched.
	res := Do(ctx, e, Request[int]{
		Type: ExternalAPI,
		Key:  "region-b",
		Run:  func(context.Context) (int, error) { return 1, nil },
	})
	if !res.Success {
		t.Errorf("region-b call failed: %v (breakers must be key-scoped)", res.Err)
	}
}
