package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/core/ratelimit"
	"github.com/solanago/solanago/internal/ledger"
)

type fakeBackend struct {
	submit    func(ctx context.Context, tx *ledger.Transaction) (ledger.Confirmation, error)
	account   []byte
	calls     atomic.Int32
	cancelled atomic.Int32
}

func (f *fakeBackend) SubmitAndConfirm(ctx context.Context, tx *ledger.Transaction) (ledger.Confirmation, error) {
	f.calls.Add(1)
	if f.submit != nil {
		conf, err := f.submit(ctx, tx)
		if ctx.Err() != nil {
			f.cancelled.Add(1)
		}
		return conf, err
	}
	return ledger.Confirmation{Signature: tx.Signature(), Commitment: ledger.CommitmentConfirmed}, nil
}

func (f *fakeBackend) CurrentAnchor(context.Context) (ledger.Anchor, error) {
	return ledger.Anchor{Blockhash: "anchor"}, nil
}

func (f *fakeBackend) ReadAccount(context.Context, string) ([]byte, error) {
	return f.account, nil
}

func blockUntil(gate <-chan struct{}) func(context.Context, *ledger.Transaction) (ledger.Confirmation, error) {
	return func(ctx context.Context, tx *ledger.Transaction) (ledger.Confirmation, error) {
		select {
		case <-gate:
			return ledger.Confirmation{Signature: tx.Signature()}, nil
		case <-ctx.Done():
			return ledger.Confirmation{}, ctx.Err()
		}
	}
}

type fixture struct {
	pool     *pool.Pool
	queue    *Queue
	backends []*fakeBackend
	payer    *ledger.Keypair
	counter  atomic.Int64
}

func newFixture(t *testing.T, cfg Config, backends ...*fakeBackend) *fixture {
	t.Helper()

	endpoints := make([]pool.Endpoint, len(backends))
	ledgerBackends := make([]ledger.Backend, len(backends))
	for i, b := range backends {
		endpoints[i] = pool.Endpoint{
			Address: fmt.Sprintf("http://node-%d", i),
			Limiter: ratelimit.NewAdaptive(ratelimit.New(100, 100), ratelimit.AdaptiveConfig{Backoff: ratelimit.NoBackoff}),
		}
		ledgerBackends[i] = b
	}

	p, err := pool.New(endpoints, pool.WithCooldownPolicy(pool.FixedCooldown{Period: time.Hour}))
	require.NoError(t, err)

	q, err := New(cfg, p, ledgerBackends)
	require.NoError(t, err)

	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	t.Cleanup(func() {
		q.Close()
		p.Close()
	})
	return &fixture{pool: p, queue: q, backends: backends, payer: payer}
}

func (f *fixture) tx(t *testing.T) *ledger.Transaction {
	t.Helper()
	n := f.counter.Add(1)
	ix := ledger.Instruction{ProgramID: f.payer.PublicKey(), Data: []byte(fmt.Sprintf("work-%d", n))}
	tx := ledger.NewTransaction(f.payer.PublicKey(), ledger.Anchor{Blockhash: "anchor"}, ix)
	require.NoError(t, tx.Sign(f.payer))
	return tx
}

func TestNewValidatesBackends(t *testing.T) {
	endpoints := []pool.Endpoint{{Address: "a", Limiter: ratelimit.NewAdaptive(ratelimit.New(1, 1), ratelimit.AdaptiveConfig{})}}
	p, err := pool.New(endpoints)
	require.NoError(t, err)
	defer p.Close()

	_, err = New(Config{}, p, nil)
	require.Error(t, err)

	_, err = New(Config{Capacity: -1}, p, []ledger.Backend{&fakeBackend{}})
	require.Error(t, err)
}

func TestSubmitSuccess(t *testing.T) {
	backend := &fakeBackend{account: []byte("output")}
	f := newFixture(t, Config{Capacity: 4}, backend)
	tx := f.tx(t)

	resp, err := f.queue.Submit(context.Background(), Work{Tx: tx, ResultAccount: "result"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, tx.Signature(), resp.Signature)
	require.Equal(t, 0, resp.EndpointID)
	require.Equal(t, "http://node-0", resp.Address)
	require.Equal(t, []byte("output"), resp.Account)
	require.Equal(t, tx.Signature(), resp.Confirmation.Signature)

	require.Zero(t, f.queue.Depth())
	require.Zero(t, f.queue.Pending())
	require.Equal(t, 1, f.pool.AvailableCount(), "processor-owned lease is released")
}

func TestSubmitWithCallerLease(t *testing.T) {
	f := newFixture(t, Config{}, &fakeBackend{}, &fakeBackend{})

	lease, err := f.pool.Reserve()
	require.NoError(t, err)

	resp, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t), Lease: lease}, time.Second)
	require.NoError(t, err)
	require.Equal(t, lease.ID(), resp.EndpointID)
	require.False(t, lease.Resolved(), "caller keeps ownership on success")
	require.Equal(t, int32(1), f.backends[lease.ID()].calls.Load())

	require.True(t, lease.Release())
}

func TestSubmitTimeoutCancelsBackendCall(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{submit: blockUntil(gate)}
	f := newFixture(t, Config{}, backend)

	timeout := 50 * time.Millisecond
	start := time.Now()
	_, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, core.ErrTimeout)
	require.True(t, core.IsTimeout(err))
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+time.Second)
	require.Zero(t, f.queue.Depth())

	require.Eventually(t, func() bool { return backend.cancelled.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubmitParentContextCancellation(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, Config{}, &fakeBackend{submit: blockUntil(gate)})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.queue.Submit(ctx, Work{Tx: f.tx(t)}, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.queue.Depth())
}

func TestBackendFailureDisablesEndpoint(t *testing.T) {
	backend := &fakeBackend{
		submit: func(context.Context, *ledger.Transaction) (ledger.Confirmation, error) {
			return ledger.Confirmation{}, errors.New("node unhealthy")
		},
	}
	f := newFixture(t, Config{}, backend)

	_, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "node unhealthy")

	snapshot := f.pool.Snapshot()
	require.Equal(t, core.EndpointDisabled, snapshot[0].State)
	require.Equal(t, 1, snapshot[0].RecentErrors)
	require.Zero(t, f.queue.Depth())

	_, err = f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, time.Second)
	require.ErrorIs(t, err, core.ErrNoNodesAvailable)
}

func TestBackendFailureResolvesCallerLease(t *testing.T) {
	backend := &fakeBackend{
		submit: func(context.Context, *ledger.Transaction) (ledger.Confirmation, error) {
			return ledger.Confirmation{}, errors.New("boom")
		},
	}
	f := newFixture(t, Config{}, backend)

	lease, err := f.pool.Reserve()
	require.NoError(t, err)

	_, err = f.queue.Submit(context.Background(), Work{Tx: f.tx(t), Lease: lease}, time.Second)
	require.Error(t, err)
	require.True(t, lease.Resolved())
	require.False(t, lease.Disable(err), "second disable is a no-op")
	require.Equal(t, core.EndpointDisabled, f.pool.Snapshot()[0].State)
}

func TestQueueFullRejectsImmediately(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, Config{Capacity: 1, Workers: 1}, &fakeBackend{submit: blockUntil(gate)})

	const submitters = 10
	var full atomic.Int32
	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		tx := f.tx(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.queue.Submit(context.Background(), Work{Tx: tx}, 5*time.Second)
			switch {
			case errors.Is(err, core.ErrQueueFull):
				full.Add(1)
			case err == nil:
				succeeded.Add(1)
			}
		}()
	}

	// At most one item runs, one waits for a worker and one sits in the channel.
	require.Eventually(t, func() bool { return full.Load() >= submitters-3 }, 2*time.Second, 5*time.Millisecond)

	close(gate)
	wg.Wait()

	require.Equal(t, int32(submitters), full.Load()+succeeded.Load())
	require.Zero(t, f.queue.Depth())
	require.Zero(t, f.queue.Pending())
}

func TestDuplicateRequestRejected(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, Config{}, &fakeBackend{submit: blockUntil(gate)})
	tx := f.tx(t)

	errs := make(chan error, 1)
	go func() {
		_, err := f.queue.Submit(context.Background(), Work{Tx: tx}, 5*time.Second)
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.queue.Pending() == 1 }, time.Second, 5*time.Millisecond)

	_, err := f.queue.Submit(context.Background(), Work{Tx: tx}, time.Second)
	require.ErrorIs(t, err, core.ErrDuplicateRequest)
	require.True(t, core.IsAdmissionRejection(err))
	require.Equal(t, 1, f.queue.Depth())

	close(gate)
	require.NoError(t, <-errs)
	require.Zero(t, f.queue.Depth())
}

func TestDepthMatchesOutstandingRequests(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, Config{},
		&fakeBackend{submit: blockUntil(gate)},
		&fakeBackend{submit: blockUntil(gate)},
		&fakeBackend{submit: blockUntil(gate)},
	)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		tx := f.tx(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.queue.Submit(context.Background(), Work{Tx: tx}, 5*time.Second)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return f.queue.Depth() == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, f.queue.Pending(), f.queue.Depth())

	close(gate)
	wg.Wait()
	require.Zero(t, f.queue.Depth())
	require.Equal(t, 3, f.pool.AvailableCount())
}

func TestCloseFailsWaiters(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, Config{}, &fakeBackend{submit: blockUntil(gate)})

	tx := f.tx(t)
	errs := make(chan error, 1)
	go func() {
		_, err := f.queue.Submit(context.Background(), Work{Tx: tx}, time.Minute)
		errs <- err
	}()
	require.Eventually(t, func() bool { return f.queue.Depth() == 1 }, time.Second, 5*time.Millisecond)

	f.queue.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, core.ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by Close")
	}
	require.Zero(t, f.queue.Depth())

	_, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, time.Second)
	require.ErrorIs(t, err, core.ErrChannelClosed)
}

func TestSubmitRequiresSignedTransaction(t *testing.T) {
	f := newFixture(t, Config{}, &fakeBackend{})

	_, err := f.queue.Submit(context.Background(), Work{}, time.Second)
	require.Error(t, err)

	unsigned := ledger.NewTransaction(f.payer.PublicKey(), ledger.Anchor{Blockhash: "a"})
	_, err = f.queue.Submit(context.Background(), Work{Tx: unsigned}, time.Second)
	require.ErrorIs(t, err, ledger.ErrUnsigned)
}

func TestStaleAttemptDoesNotResolveNewerWaiter(t *testing.T) {
	unblock := make(chan struct{})
	gate := make(chan struct{})
	var attempts atomic.Int32
	submit := func(ctx context.Context, tx *ledger.Transaction) (ledger.Confirmation, error) {
		if attempts.Add(1) == 1 {
			<-ctx.Done()
			<-unblock
			return ledger.Confirmation{}, errors.New("stale attempt failed")
		}
		<-gate
		return ledger.Confirmation{Signature: tx.Signature()}, nil
	}
	f := newFixture(t, Config{}, &fakeBackend{submit: submit}, &fakeBackend{submit: submit})
	tx := f.tx(t)

	first, err := f.pool.Reserve()
	require.NoError(t, err)
	second, err := f.pool.Reserve()
	require.NoError(t, err)

	_, err = f.queue.Submit(context.Background(), Work{Tx: tx, Lease: first}, 30*time.Millisecond)
	require.ErrorIs(t, err, core.ErrTimeout)

	type outcome struct {
		resp *Response
		err  error
	}
	retried := make(chan outcome, 1)
	go func() {
		resp, err := f.queue.Submit(context.Background(), Work{Tx: tx, Lease: second}, 2*time.Second)
		retried <- outcome{resp, err}
	}()
	require.Eventually(t, func() bool { return attempts.Load() == 2 }, time.Second, 5*time.Millisecond)

	// Let the first attempt fail while the retry is still pending.
	close(unblock)
	require.Eventually(t, first.Resolved, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.queue.Pending())

	close(gate)
	got := <-retried
	require.NoError(t, got.err)
	require.Equal(t, second.ID(), got.resp.EndpointID)
	require.Zero(t, f.queue.Depth())
	require.True(t, second.Release())
}

func TestShutdownStopsDequeuing(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{submit: blockUntil(gate)}
	f := newFixture(t, Config{Workers: 1}, backend)

	inflight := make(chan error, 1)
	go func() {
		_, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, 5*time.Second)
		inflight <- err
	}()
	require.Eventually(t, func() bool { return backend.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	queued := make(chan error, 1)
	go func() {
		_, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, 300*time.Millisecond)
		queued <- err
	}()
	require.Eventually(t, func() bool { return f.queue.Depth() == 2 }, time.Second, 5*time.Millisecond)

	f.queue.Shutdown()

	_, err := f.queue.Submit(context.Background(), Work{Tx: f.tx(t)}, time.Second)
	require.ErrorIs(t, err, core.ErrChannelClosed)

	select {
	case err := <-queued:
		require.True(t, errors.Is(err, core.ErrChannelClosed) || core.IsTimeout(err), "unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued item was never resolved")
	}
	require.Equal(t, int32(1), backend.calls.Load(), "queued item must not be dispatched after shutdown")

	close(gate)
	select {
	case err := <-inflight:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight item did not complete after shutdown")
	}
	require.Zero(t, f.queue.Depth())
	require.Equal(t, 1, f.pool.AvailableCount())
}
