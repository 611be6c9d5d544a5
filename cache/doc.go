// Package cache provides last-good result caching for dependency calls.
//
// It provides a Cache interface with a memory implementation, SHA-256
// based key derivation from call parameters, TTL policies, and a
// ResultStore that saves successful call results so fallback chains can
// serve them when the live dependency is unavailable.
package cache
