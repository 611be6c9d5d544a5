// Package resilience protects calls to external dependencies.
//
// Every call to a database, AI provider, market-data feed, cache, or other
// external API runs through an Executor that composes failure-handling
// policies around the caller-supplied operation. The policies can also be
// used standalone.
//
// # Patterns
//
//   - Circuit Breaker: per-dependency-key state machine that stops invoking
//     a failing dependency for a cooldown period, then probes recovery with
//     a bounded number of half-open calls.
//
//   - Retry: classified retries with exponential backoff and jitter.
//     Client-side errors are never retried; a tripped circuit stops the
//     retry loop immediately instead of burning budget on a dead dependency.
//
//   - Timeout: races the protected path against an overall deadline on the
//     injected clock.
//
//   - Fallback Chain: priority-ordered alternative result providers invoked
//     when the primary path is exhausted; first success wins.
//
//   - Degraded Mode: probabilistic shedding of primary traffic per
//     dependency type, routing shed calls straight to the fallbacks.
//
//   - Bulkhead / Rate Limiter: local concurrency and rate ceilings applied
//     before the circuit breaker so self-inflicted rejections never count
//     as dependency failures.
//
// # Usage
//
//	exec := resilience.NewExecutor()
//
//	res := resilience.Do(ctx, exec, resilience.Request[Quote]{
//	    Type:      resilience.MarketData,
//	    Key:       "quotes:nasdaq",
//	    Operation: "fetch_quote",
//	    Run:       fetchQuote,
//	    Fallbacks: []resilience.Fallback[Quote]{
//	        {Name: "cache", Priority: 1, Run: cachedQuote},
//	        {Name: "default", Priority: 2, Run: defaultQuote},
//	    },
//	})
//	if res.Success {
//	    quote := res.Data // res.UsedFallback tells provenance
//	}
//
// Circuit breaker state is per process and per dependency key; nothing here
// coordinates across processes.
package resilience
