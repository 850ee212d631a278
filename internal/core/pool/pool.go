package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/ratelimit"
)

var (
	// ErrUnknownEndpoint is returned for ids outside the pool.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrNotReserved is returned when releasing an endpoint nobody holds.
	ErrNotReserved = errors.New("endpoint is not reserved")

	// ErrAlreadyDisabled is returned when disabling an endpoint that is
	// already cooling down.
	ErrAlreadyDisabled = errors.New("endpoint is already disabled")
)

// Endpoint is one RPC target and the limiter that gates it.
type Endpoint struct {
	Address string
	Limiter *ratelimit.Adaptive
}

// EndpointStatus is a point-in-time view of one endpoint.
type EndpointStatus struct {
	ID              int                `json:"id"`
	Address         string             `json:"address"`
	State           core.EndpointState `json:"state"`
	DisabledUntil   *time.Time         `json:"disabled_until,omitempty"`
	Healthy         bool               `json:"healthy"`
	TokensAvailable float64            `json:"tokens_available"`
	Capacity        float64            `json:"capacity"`
	RecentErrors    int                `json:"recent_errors"`
}

type options struct {
	clock  clock.Clock
	logger *zap.Logger
	policy CooldownPolicy
}

// Option configures a Pool.
type Option func(*options)

// WithClock injects the time source used for cooldown timers.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCooldownPolicy sets how long a disabled endpoint stays out of rotation.
func WithCooldownPolicy(policy CooldownPolicy) Option {
	return func(o *options) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// Pool tracks which endpoints are assignable, reserved or cooling down.
//
// Every endpoint id is in exactly one of the three states. Reserve hands an
// id to at most one holder at a time; the holder gives it back through its
// Lease.
type Pool struct {
	endpoints []Endpoint
	clock     clock.Clock
	logger    *zap.Logger
	policy    CooldownPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	available     []int
	states        []core.EndpointState
	disabledUntil []time.Time
	hooks         []func(core.EndpointEvent)
	closed        bool
}

// New builds a pool with every endpoint available.
func New(endpoints []Endpoint, opts ...Option) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("pool requires at least one endpoint")
	}

	o := options{
		clock:  clock.New(),
		logger: zap.NewNop(),
		policy: FixedCooldown{Period: DefaultCooldownPeriod},
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool{
		endpoints:     make([]Endpoint, len(endpoints)),
		clock:         o.clock,
		logger:        o.logger,
		policy:        o.policy,
		available:     make([]int, 0, len(endpoints)),
		states:        make([]core.EndpointState, len(endpoints)),
		disabledUntil: make([]time.Time, len(endpoints)),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for i, ep := range endpoints {
		if ep.Limiter == nil {
			return nil, fmt.Errorf("endpoint %d (%s) has no limiter", i, ep.Address)
		}
		p.endpoints[i] = ep
		p.states[i] = core.EndpointAvailable
		p.available = append(p.available, i)
	}

	return p, nil
}

// Size returns the number of endpoints, whatever their state.
func (p *Pool) Size() int {
	return len(p.endpoints)
}

// Address returns the address of endpoint id.
func (p *Pool) Address(id int) string {
	if !p.valid(id) {
		return ""
	}
	return p.endpoints[id].Address
}

// Limiter returns the adaptive limiter of endpoint id.
func (p *Pool) Limiter(id int) *ratelimit.Adaptive {
	if !p.valid(id) {
		return nil
	}
	return p.endpoints[id].Limiter
}

// AvailableCount returns how many endpoints can be reserved right now.
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// OnStateChange registers fn to be called after every state transition.
// Hooks run outside the pool lock.
func (p *Pool) OnStateChange(fn func(core.EndpointEvent)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.hooks = append(p.hooks, fn)
	p.mu.Unlock()
}

// Reserve takes an assignable endpoint out of rotation. Selection is LIFO;
// callers must not depend on which id they get.
func (p *Pool) Reserve() (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool closed: %w", core.ErrNoNodesAvailable)
	}
	if len(p.available) == 0 {
		p.mu.Unlock()
		return nil, core.ErrNoNodesAvailable
	}
	last := len(p.available) - 1
	id := p.available[last]
	p.available = p.available[:last]
	p.states[id] = core.EndpointReserved
	hooks := p.hooks
	p.mu.Unlock()

	p.emit(hooks, core.EndpointEvent{EndpointID: id, State: core.EndpointReserved})
	return &Lease{pool: p, id: id}, nil
}

// Release returns a reserved endpoint to rotation.
func (p *Pool) Release(id int) error {
	if !p.valid(id) {
		return fmt.Errorf("release %d: %w", id, ErrUnknownEndpoint)
	}

	p.mu.Lock()
	if p.states[id] != core.EndpointReserved {
		state := p.states[id]
		p.mu.Unlock()
		return fmt.Errorf("release %d (%s): %w", id, state, ErrNotReserved)
	}
	p.states[id] = core.EndpointAvailable
	p.available = append(p.available, id)
	hooks := p.hooks
	p.mu.Unlock()

	p.emit(hooks, core.EndpointEvent{EndpointID: id, State: core.EndpointAvailable})
	return nil
}

// Disable takes endpoint id out of rotation and schedules its return after
// the cooldown chosen by the pool's policy. Reserved and available endpoints
// can both be disabled.
func (p *Pool) Disable(id int, reason error) error {
	if !p.valid(id) {
		return fmt.Errorf("disable %d: %w", id, ErrUnknownEndpoint)
	}

	// Limiter state is read before the pool lock is taken.
	delay := p.policy.Cooldown(p.endpoints[id].Limiter)

	p.mu.Lock()
	if p.states[id] == core.EndpointDisabled {
		p.mu.Unlock()
		return fmt.Errorf("disable %d: %w", id, ErrAlreadyDisabled)
	}
	if p.states[id] == core.EndpointAvailable {
		p.removeAvailable(id)
	}
	until := p.clock.Now().Add(delay)
	p.states[id] = core.EndpointDisabled
	p.disabledUntil[id] = until
	closed := p.closed
	if !closed {
		// The timer is armed here so that a mock clock advanced right after
		// Disable returns still fires it.
		timer := p.clock.Timer(delay)
		p.wg.Add(1)
		go p.cooldown(id, timer)
	}
	hooks := p.hooks
	p.mu.Unlock()

	message := ""
	if reason != nil {
		message = reason.Error()
	}
	p.logger.Warn("endpoint disabled",
		zap.Int("endpoint_id", id),
		zap.String("endpoint", p.endpoints[id].Address),
		zap.Duration("cooldown", delay),
		zap.String("reason", message))

	p.emit(hooks, core.EndpointEvent{
		EndpointID:    id,
		State:         core.EndpointDisabled,
		Reason:        message,
		DisabledUntil: &until,
	})
	return nil
}

// Snapshot returns the state of every endpoint ordered by id.
func (p *Pool) Snapshot() []EndpointStatus {
	statuses := make([]EndpointStatus, len(p.endpoints))
	for i, ep := range p.endpoints {
		recent := ep.Limiter.RecentErrorCount()
		statuses[i] = EndpointStatus{
			ID:              i,
			Address:         ep.Address,
			Healthy:         recent < ep.Limiter.Threshold(),
			TokensAvailable: ep.Limiter.Limiter().Available(),
			Capacity:        ep.Limiter.Limiter().Capacity(),
			RecentErrors:    recent,
		}
	}

	p.mu.Lock()
	for i := range statuses {
		statuses[i].State = p.states[i]
		if p.states[i] == core.EndpointDisabled {
			until := p.disabledUntil[i]
			statuses[i].DisabledUntil = &until
		}
	}
	p.mu.Unlock()

	return statuses
}

// Close stops pending cooldowns and waits for them. Endpoints still
// disabled stay disabled and Reserve fails from then on.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Pool) cooldown(id int, timer *clock.Timer) {
	defer p.wg.Done()

	select {
	case <-p.ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	p.mu.Lock()
	if p.closed || p.states[id] != core.EndpointDisabled {
		p.mu.Unlock()
		return
	}
	p.states[id] = core.EndpointAvailable
	p.disabledUntil[id] = time.Time{}
	p.available = append(p.available, id)
	hooks := p.hooks
	p.mu.Unlock()

	p.logger.Info("endpoint re-enabled",
		zap.Int("endpoint_id", id),
		zap.String("endpoint", p.endpoints[id].Address))

	p.emit(hooks, core.EndpointEvent{EndpointID: id, State: core.EndpointAvailable, Reason: "cooldown elapsed"})
}

func (p *Pool) emit(hooks []func(core.EndpointEvent), event core.EndpointEvent) {
	if len(hooks) == 0 {
		return
	}
	event.Address = p.endpoints[event.EndpointID].Address
	event.OccurredAt = p.clock.Now()
	for _, hook := range hooks {
		hook(event)
	}
}

// removeAvailable drops id from the assignable set. Caller holds p.mu.
func (p *Pool) removeAvailable(id int) {
	for i, candidate := range p.available {
		if candidate == id {
			p.available = append(p.available[:i], p.available[i+1:]...)
			return
		}
	}
}

func (p *Pool) valid(id int) bool {
	return id >= 0 && id < len(p.endpoints)
}
