package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/solanago/solanago/internal/core/ratelimit"
)

// DefaultCooldownPeriod is how long a failed endpoint sits out by default.
const DefaultCooldownPeriod = 60 * time.Second

// Cooldown policy names accepted by ParseCooldownPolicy.
const (
	PolicyFixed    = "fixed"
	PolicyCapacity = "capacity"
)

// CooldownPolicy decides how long a disabled endpoint stays out of rotation.
// It is consulted once, when the endpoint is disabled.
type CooldownPolicy interface {
	Cooldown(limiter *ratelimit.Adaptive) time.Duration
}

// FixedCooldown keeps every disabled endpoint out for the same period.
type FixedCooldown struct {
	Period time.Duration
}

// Cooldown implements CooldownPolicy.
func (f FixedCooldown) Cooldown(*ratelimit.Adaptive) time.Duration {
	if f.Period <= 0 {
		return DefaultCooldownPeriod
	}
	return f.Period
}

// CapacityCooldown keeps an endpoint out until its token bucket is full
// again, clamped to [Min, Max]. A zero Max means no upper bound.
type CapacityCooldown struct {
	Min time.Duration
	Max time.Duration
}

// Cooldown implements CooldownPolicy.
func (c CapacityCooldown) Cooldown(limiter *ratelimit.Adaptive) time.Duration {
	var d time.Duration
	if limiter != nil {
		d = limiter.Limiter().TimeToFull()
	}
	if d < c.Min {
		d = c.Min
	}
	if c.Max > 0 && d > c.Max {
		d = c.Max
	}
	return d
}

// ParseCooldownPolicy maps a config name to a policy. period is the fixed
// duration, or the upper bound for the capacity policy.
func ParseCooldownPolicy(name string, period time.Duration) (CooldownPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyFixed:
		return FixedCooldown{Period: period}, nil
	case PolicyCapacity:
		return CapacityCooldown{Max: period}, nil
	default:
		return nil, fmt.Errorf("unknown cooldown policy %q (want %s or %s)", name, PolicyFixed, PolicyCapacity)
	}
}
