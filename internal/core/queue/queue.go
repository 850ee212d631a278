package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/ledger"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 1000

// Config sizes the queue.
type Config struct {
	// Capacity bounds the number of items waiting to be dequeued.
	Capacity int
	// Workers bounds how many items are processed concurrently. Zero means
	// one per endpoint.
	Workers int
}

// Work is one unit submitted through the queue.
type Work struct {
	// Tx must be signed; its signature is the correlation key.
	Tx *ledger.Transaction
	// Lease pins the work to an endpoint the caller already reserved. When
	// nil the processor reserves one and gives it back itself.
	Lease *pool.Lease
	// ResultAccount is read after confirmation when set.
	ResultAccount string
}

// Response is the correlated result of a Work item.
type Response struct {
	Signature    string
	EndpointID   int
	Address      string
	Confirmation ledger.Confirmation
	Account      []byte
	RateWait     time.Duration
}

type result struct {
	resp *Response
	err  error
}

// item carries the waiter's done channel so a stale attempt can never
// resolve a newer waiter that registered the same key.
type item struct {
	key    string
	work   Work
	ctx    context.Context
	parent context.Context
	done   chan result
}

type options struct {
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Queue.
type Option func(*options)

// WithClock injects the time source used for request deadlines.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Queue is a bounded asynchronous request queue. Submit enqueues without
// blocking, then waits on a per-request completion channel keyed by the
// transaction signature. A background processor dequeues, dispatches to an
// endpoint and resolves the waiter.
//
// Depth equals the number of pending entries at every observation: both are
// changed together under mu, and an entry is removed exactly once, by the
// processor on completion, by the waiter on timeout, or by Close.
type Queue struct {
	pool     *pool.Pool
	backends []ledger.Backend
	clock    clock.Clock
	logger   *zap.Logger

	items chan item
	sem   *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]chan result
	depth   atomic.Int64

	stopping atomic.Bool
	stopCtx  context.Context
	stop     context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closeOnce  sync.Once
}

// New starts a queue whose processor dispatches to p. backends[i] serves
// endpoint i of p.
func New(cfg Config, p *pool.Pool, backends []ledger.Backend, opts ...Option) (*Queue, error) {
	if p == nil {
		return nil, errors.New("queue requires a node pool")
	}
	if len(backends) != p.Size() {
		return nil, fmt.Errorf("queue has %d backends for %d endpoints", len(backends), p.Size())
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = p.Size()
	}

	o := options{clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	q := &Queue{
		pool:     p,
		backends: backends,
		clock:    o.clock,
		logger:   o.logger,
		items:    make(chan item, cfg.Capacity),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		pending:  make(map[string]chan result),
		loopDone: make(chan struct{}),
	}
	q.stopCtx, q.stop = context.WithCancel(context.Background())
	q.baseCtx, q.baseCancel = context.WithCancel(context.Background())

	go q.run()
	return q, nil
}

// Submit enqueues work and waits for its response for at most timeout.
//
// It fails immediately with core.ErrQueueFull when the queue is at capacity
// and with core.ErrDuplicateRequest when the same transaction is already
// pending. On expiry it returns core.ErrTimeout and cancels the backend call.
// After Shutdown it returns core.ErrChannelClosed.
func (q *Queue) Submit(ctx context.Context, work Work, timeout time.Duration) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.stopping.Load() {
		return nil, fmt.Errorf("queue shut down: %w", core.ErrChannelClosed)
	}
	if work.Tx == nil {
		return nil, errors.New("submit: transaction is required")
	}
	key := work.Tx.Signature()
	if key == "" {
		return nil, fmt.Errorf("submit: %w", ledger.ErrUnsigned)
	}

	var reqCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = q.clock.WithTimeout(ctx, timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stopOnClose := context.AfterFunc(q.baseCtx, cancel)
	defer stopOnClose()

	done := make(chan result, 1)
	q.mu.Lock()
	if _, exists := q.pending[key]; exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("submit %s: %w", key, core.ErrDuplicateRequest)
	}
	q.pending[key] = done
	q.depth.Add(1)
	q.mu.Unlock()

	select {
	case q.items <- item{key: key, work: work, ctx: reqCtx, parent: ctx, done: done}:
	default:
		q.take(key, done)
		return nil, core.ErrQueueFull
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-reqCtx.Done():
	}

	if !q.take(key, done) {
		// The processor won the race and is about to deliver.
		r := <-done
		return r.resp, r.err
	}

	switch {
	case q.baseCtx.Err() != nil:
		return nil, fmt.Errorf("queue closed while waiting for %s: %w", key, core.ErrChannelClosed)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w after %s waiting for %s", core.ErrTimeout, timeout, key)
	}
}

// Depth returns the number of accepted requests not yet completed.
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

// Pending returns the number of registered correlation entries.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown stops the processor from dequeuing further work. Items already
// handed to a worker keep running; queued items may never run.
func (q *Queue) Shutdown() {
	q.stopping.Store(true)
	q.stop()
}

// Close shuts down, cancels in-flight backend calls, waits for workers and
// fails every remaining waiter with core.ErrChannelClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.Shutdown()
		<-q.loopDone

		q.baseCancel()
		q.inflight.Wait()

	drain:
		for {
			select {
			case it := <-q.items:
				q.resolve(it, nil, fmt.Errorf("queue closed before dispatch: %w", core.ErrChannelClosed))
			default:
				break drain
			}
		}

		q.mu.Lock()
		remaining := q.pending
		q.pending = make(map[string]chan result)
		q.depth.Add(-int64(len(remaining)))
		q.mu.Unlock()
		for _, done := range remaining {
			done <- result{err: fmt.Errorf("queue closed: %w", core.ErrChannelClosed)}
		}
	})
}

func (q *Queue) run() {
	defer close(q.loopDone)

	for {
		if q.stopCtx.Err() != nil {
			return
		}

		select {
		case <-q.stopCtx.Done():
			return
		case it := <-q.items:
			if err := q.sem.Acquire(q.stopCtx, 1); err != nil {
				q.resolve(it, nil, fmt.Errorf("queue closed: %w", core.ErrChannelClosed))
				return
			}
			q.inflight.Add(1)
			go func() {
				defer q.inflight.Done()
				defer q.sem.Release(1)
				q.process(it)
			}()
		}
	}
}

func (q *Queue) process(it item) {
	if it.ctx.Err() != nil {
		// The waiter already gave up and removed its entry.
		return
	}

	lease := it.work.Lease
	owned := false
	if lease == nil {
		var err error
		lease, err = q.pool.Reserve()
		if err != nil {
			q.resolve(it, nil, err)
			return
		}
		owned = true
	}

	id := lease.ID()
	address := lease.Address()
	limiter := lease.Limiter()
	backend := q.backends[id]

	waitStart := q.clock.Now()
	if err := limiter.Wait(it.ctx, 1); err != nil {
		if owned {
			lease.Release()
		}
		q.resolve(it, nil, fmt.Errorf("rate limit wait on endpoint %d (%s): %w", id, address, err))
		return
	}
	resp := &Response{
		Signature:  it.key,
		EndpointID: id,
		Address:    address,
		RateWait:   q.clock.Since(waitStart),
	}

	confirmation, err := backend.SubmitAndConfirm(it.ctx, it.work.Tx)
	if err == nil && it.work.ResultAccount != "" {
		resp.Account, err = backend.ReadAccount(it.ctx, it.work.ResultAccount)
	}
	if err != nil {
		if it.parent.Err() != nil && q.baseCtx.Err() == nil {
			// The caller gave up; the endpoint is not at fault.
			lease.Release()
			q.resolve(it, nil, fmt.Errorf("endpoint %d (%s): %w", id, address, err))
			return
		}
		if it.ctx.Err() == nil {
			limiter.RecordError()
		}
		lease.Disable(err)
		q.logger.Warn("endpoint submission failed",
			zap.Int("endpoint_id", id),
			zap.String("endpoint", address),
			zap.String("signature", it.key),
			zap.Error(err))
		q.resolve(it, nil, fmt.Errorf("endpoint %d (%s): %w", id, address, err))
		return
	}

	resp.Confirmation = confirmation
	if owned {
		lease.Release()
	}
	q.resolve(it, resp, nil)
}

// resolve delivers to the item's own waiter if it is still registered.
func (q *Queue) resolve(it item, resp *Response, err error) {
	if !q.take(it.key, it.done) {
		return
	}
	it.done <- result{resp: resp, err: err}
}

// take removes the entry for key only while it still belongs to done, and
// reports whether this call removed it.
func (q *Queue) take(key string, done chan result) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.pending[key]; !ok || current != done {
		return false
	}
	delete(q.pending, key)
	q.depth.Add(-1)
	return true
}
