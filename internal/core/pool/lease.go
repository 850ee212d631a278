package pool

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/core/ratelimit"
)

// Lease is the holder's handle on one reserved endpoint. It must end in
// exactly one Release or Disable; whichever comes first wins and later calls
// are no-ops. A lease can be handed to another goroutine (for example the
// queue processor) without either side tracking who resolved it.
type Lease struct {
	pool     *Pool
	id       int
	resolved atomic.Bool
}

// ID returns the reserved endpoint id.
func (l *Lease) ID() int {
	return l.id
}

// Address returns the reserved endpoint address.
func (l *Lease) Address() string {
	return l.pool.Address(l.id)
}

// Limiter returns the reserved endpoint's adaptive limiter.
func (l *Lease) Limiter() *ratelimit.Adaptive {
	return l.pool.Limiter(l.id)
}

// Resolved reports whether the lease has been released or disabled.
func (l *Lease) Resolved() bool {
	return l.resolved.Load()
}

// Release gives the endpoint back. It reports whether this call resolved
// the lease.
func (l *Lease) Release() bool {
	if !l.resolved.CompareAndSwap(false, true) {
		return false
	}
	if err := l.pool.Release(l.id); err != nil {
		l.pool.logger.Error("lease release failed", zap.Int("endpoint_id", l.id), zap.Error(err))
	}
	return true
}

// Disable puts the endpoint into cooldown. It reports whether this call
// resolved the lease.
func (l *Lease) Disable(reason error) bool {
	if !l.resolved.CompareAndSwap(false, true) {
		return false
	}
	if err := l.pool.Disable(l.id, reason); err != nil {
		l.pool.logger.Error("lease disable failed", zap.Int("endpoint_id", l.id), zap.Error(err))
	}
	return true
}
