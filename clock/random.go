package clock

import (
	"math/rand/v2"
	"sync"
)

// Random is the randomness source used for jitter and degraded-mode
// sampling.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Float64 returns values in [0.0, 1.0).
// - Int64N returns values in [0, n) and panics if n <= 0.
type Random interface {
	Float64() float64
	Int64N(n int64) int64
}

// SystemRandom returns a Random backed by the shared math/rand/v2 source.
func SystemRandom() Random {
	return systemRandom{}
}

type systemRandom struct{}

// #nosec G404 -- jitter and shedding are non-cryptographic.
func (systemRandom) Float64() float64 {
	return rand.Float64()
}

func (systemRandom) Int64N(n int64) int64 {
	return rand.Int64N(n)
}

// SeededRandom returns a deterministic Random seeded with the given value.
// Two SeededRandom instances with the same seed produce identical sequences.
func SeededRandom(seed uint64) Random {
	return &seededRandom{rng: rand.New(rand.NewPCG(seed, seed))}
}

type seededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *seededRandom) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *seededRandom) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int64N(n)
}
