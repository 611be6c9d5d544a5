// Package clock provides injectable time and randomness sources.
//
// Timing-sensitive components (backoff sleeps, circuit breaker cooldowns,
// overall-call timeouts, degraded-mode sampling) take a Clock and a Random
// instead of calling the time and math/rand packages directly. Production
// code uses System and SystemRandom; tests use Fake and SeededRandom to get
// deterministic transitions without wall-clock waits.
//
//	clk := clock.NewFake(time.Unix(0, 0))
//	rnd := clock.SeededRandom(42)
//
//	ch := clk.After(time.Minute)
//	clk.Advance(time.Minute) // fires ch without waiting
package clock
