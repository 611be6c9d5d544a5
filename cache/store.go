package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// ResultStore saves successful dependency call results and serves them
// back when the live dependency is unavailable. It is the producer side of
// a last-good-value fallback: call SaveResult on every success, and read
// through Lookup (or a fallback built on the underlying Cache) on failure.
type ResultStore struct {
	cache  Cache
	keyer  Keyer
	policy Policy
}

// NewResultStore creates a result store. A nil keyer defaults to the
// SHA-256 DefaultKeyer.
func NewResultStore(cache Cache, keyer Keyer, policy Policy) (*ResultStore, error) {
	if cache == nil {
		return nil, ErrNilCache
	}
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &ResultStore{
		cache:  cache,
		keyer:  keyer,
		policy: policy,
	}, nil
}

// Key derives the deterministic cache key for a call.
func (s *ResultStore) Key(depKey, operation string, params any) (string, error) {
	return s.keyer.Key(depKey, operation, params)
}

// SaveResult stores a successful call result as JSON under the call's
// derived key. A disabled policy makes this a no-op.
func (s *ResultStore) SaveResult(ctx context.Context, depKey, operation string, params, result any) error {
	if !s.policy.ShouldCache() {
		return nil
	}

	key, err := s.keyer.Key(depKey, operation, params)
	if err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: failed to encode result: %w", err)
	}

	return s.cache.Set(ctx, key, data, s.policy.EffectiveTTL(0))
}

// Lookup retrieves the last-good result for a call and decodes it into
// dst. Returns ErrMiss when no result is stored.
func (s *ResultStore) Lookup(ctx context.Context, depKey, operation string, params, dst any) error {
	key, err := s.keyer.Key(depKey, operation, params)
	if err != nil {
		return err
	}

	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMiss, key)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("cache: failed to decode result: %w", err)
	}
	return nil
}

// Invalidate removes the stored result for a call.
func (s *ResultStore) Invalidate(ctx context.Context, depKey, operation string, params any) error {
	key, err := s.keyer.Key(depKey, operation, params)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}
