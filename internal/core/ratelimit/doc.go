// Package ratelimit provides the per-endpoint admission gates: a token bucket
// (Limiter) and an error-aware wrapper (Adaptive) with a pluggable backoff
// policy.
package ratelimit
