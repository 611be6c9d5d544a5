package resilience

import (
	"sync"

	"github.com/jonwraymond/callguard/clock"
)

// DegradeController sheds primary traffic per dependency type.
//
// A type in degraded mode carries a capacity level L in (0, 1]. Before each
// primary attempt the executor draws r from the injected random source; if
// r > L the primary is skipped and the call routes straight to its fallback
// chain. This approximates partial-capacity shedding without a real load
// balancer, independent of measured health.
type DegradeController struct {
	rand clock.Random

	mu     sync.RWMutex
	levels map[DependencyType]float64
}

// NewDegradeController creates a controller. A nil rnd falls back to the
// shared system source.
func NewDegradeController(rnd clock.Random) *DegradeController {
	if rnd == nil {
		rnd = clock.SystemRandom()
	}
	return &DegradeController{
		rand:   rnd,
		levels: make(map[DependencyType]float64),
	}
}

// Enter puts a dependency type into degraded mode at the given capacity
// level. Returns ErrInvalidLevel unless 0 < level <= 1.
func (d *DegradeController) Enter(t DependencyType, level float64) error {
	if level <= 0 || level > 1 {
		return ErrInvalidLevel
	}

	d.mu.Lock()
	d.levels[t] = level
	d.mu.Unlock()
	return nil
}

// Exit removes degraded mode for a dependency type. Idempotent.
func (d *DegradeController) Exit(t DependencyType) {
	d.mu.Lock()
	delete(d.levels, t)
	d.mu.Unlock()
}

// IsDegraded reports whether the dependency type is in degraded mode.
func (d *DegradeController) IsDegraded(t DependencyType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.levels[t]
	return ok
}

// Level returns the capacity level and whether the type is degraded.
func (d *DegradeController) Level(t DependencyType) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	level, ok := d.levels[t]
	return level, ok
}

// Admit draws from the random source and reports whether the primary
// attempt may proceed. Always true outside degraded mode.
func (d *DegradeController) Admit(t DependencyType) bool {
	d.mu.RLock()
	level, ok := d.levels[t]
	d.mu.RUnlock()

	if !ok {
		return true
	}
	return d.rand.Float64() <= level
}
