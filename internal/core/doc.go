// Package core holds the types and error taxonomy shared by the dispatch
// subsystem: rate limiting (core/ratelimit), endpoint pooling (core/pool),
// request queueing (core/queue) and the dispatcher (core/engine).
//
// Lock ordering
//
// Several components own a mutex. Any code path that needs state from more
// than one of them must acquire in this order and never the reverse:
//
//  1. ratelimit.Limiter / ratelimit.Adaptive (token bucket, error window)
//  2. pool.Pool (assignable set, endpoint states)
//  3. queue.Queue (pending correlation map)
//
// In practice no component holds its own lock while calling into another:
// the pool reads limiter state before locking itself, and the queue releases
// its map lock before touching leases. The ordering above is what keeps that
// safe if a future change needs to nest.
package core
