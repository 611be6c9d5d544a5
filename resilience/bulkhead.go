package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/callguard/clock"
)

// BulkheadConfig configures a per-key concurrency cap.
type BulkheadConfig struct {
	// MaxConcurrent is the maximum number of in-flight calls.
	// Default: 10
	MaxConcurrent int

	// MaxWait bounds how long a caller waits for a slot.
	// Default: 0 (reject immediately when full)
	MaxWait time.Duration
}

// Bulkhead limits concurrent calls against one dependency key so a slow
// dependency cannot absorb every caller in the process.
type Bulkhead struct {
	config BulkheadConfig
	clock  clock.Clock
	sem    chan struct{}

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// BulkheadStats contains bulkhead counters.
type BulkheadStats struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}

// NewBulkhead creates a bulkhead. A nil clk falls back to the system clock.
func NewBulkhead(config BulkheadConfig, clk clock.Clock) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if clk == nil {
		clk = clock.System()
	}

	return &Bulkhead{
		config: config,
		clock:  clk,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire claims a slot, waiting up to MaxWait. Returns ErrBulkheadFull when
// no slot frees up in time.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		b.noteAcquired()
		return nil
	default:
	}

	if b.config.MaxWait <= 0 {
		b.noteRejected()
		return ErrBulkheadFull
	}

	select {
	case b.sem <- struct{}{}:
		b.noteAcquired()
		return nil
	case <-b.clock.After(b.config.MaxWait):
		b.noteRejected()
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot claimed by Acquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	default:
		// Release without a matching Acquire; nothing to free.
	}
}

// Execute runs op within the bulkhead.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// Stats returns current bulkhead counters.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadStats{
		Active:        b.active,
		MaxActive:     b.maxActive,
		Available:     b.config.MaxConcurrent - b.active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected,
	}
}

func (b *Bulkhead) noteAcquired() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) noteRejected() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}
