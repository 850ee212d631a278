package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/core/queue"
	"github.com/solanago/solanago/internal/core/ratelimit"
	"github.com/solanago/solanago/internal/ledger"
	"github.com/solanago/solanago/internal/metrics"
	"github.com/solanago/solanago/internal/model"
)

// Defaults applied by NewDispatcher to zero Config fields.
const (
	DefaultEndpointTimeout   = 30 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultBurstSize         = 20
	DefaultBatchSize         = 16
)

// Endpoint is one RPC target handed to the dispatcher.
type Endpoint struct {
	Address string
	Backend ledger.Backend
}

// Config tunes the dispatcher and the components it builds.
type Config struct {
	Program model.Program

	EndpointTimeout time.Duration
	QueueSize       int
	Workers         int
	BatchSize       int

	RequestsPerSecond float64
	BurstSize         int
	RateLimitMargin   float64
	ErrorWindow       time.Duration
	ErrorThreshold    int
	Backoff           ratelimit.BackoffPolicy
	Cooldown          pool.CooldownPolicy

	ComputeUnits uint32
	PriorityFee  uint64
}

// Recorder persists dispatch outcomes. Failures are logged, never returned
// to callers.
type Recorder interface {
	RecordPrediction(ctx context.Context, record core.PredictionRecord) error
	RecordEndpointEvent(ctx context.Context, event core.EndpointEvent) error
}

// Prediction is a successful predict result.
type Prediction struct {
	ID           string              `json:"id"`
	Output       *model.Output       `json:"output"`
	Signature    string              `json:"signature"`
	EndpointID   int                 `json:"endpoint_id"`
	Address      string              `json:"address"`
	Confirmation ledger.Confirmation `json:"confirmation"`
	Latency      time.Duration       `json:"latency"`
}

// BatchResult is one entry of a PredictBatch call.
type BatchResult struct {
	Index      int
	Prediction *Prediction
	Err        error
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Endpoints  []pool.EndpointStatus `json:"endpoints"`
	Available  int                   `json:"available"`
	QueueDepth int                   `json:"queue_depth"`
	Pending    int                   `json:"pending"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock injects the time source for limiters, cooldowns and deadlines.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger sets the dispatcher logger. It is shared with the pool and
// queue.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder persists predictions and endpoint events.
func WithRecorder(recorder Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// Dispatcher is the entry point for model initialization and predictions.
// It owns the limiters, the node pool and the request queue.
type Dispatcher struct {
	cfg       Config
	endpoints []Endpoint
	signer    ledger.Signer
	limiters  []*ratelimit.Adaptive
	pool      *pool.Pool
	queue     *queue.Queue
	clock     clock.Clock
	logger    *zap.Logger
	recorder  Recorder
	closeOnce sync.Once
}

// NewDispatcher builds limiters, pool and queue for endpoints and starts the
// queue processor.
func NewDispatcher(cfg Config, endpoints []Endpoint, signer ledger.Signer, opts ...Option) (*Dispatcher, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("dispatcher requires at least one endpoint")
	}
	if signer == nil {
		return nil, errors.New("dispatcher requires a signer")
	}
	for i, ep := range endpoints {
		if ep.Backend == nil {
			return nil, fmt.Errorf("endpoint %d (%s) has no backend", i, ep.Address)
		}
	}

	d := &Dispatcher{
		cfg:       applyDefaults(cfg),
		endpoints: endpoints,
		signer:    signer,
		clock:     clock.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	poolEndpoints := make([]pool.Endpoint, len(endpoints))
	backends := make([]ledger.Backend, len(endpoints))
	d.limiters = make([]*ratelimit.Adaptive, len(endpoints))
	for i, ep := range endpoints {
		bucket := ratelimit.New(d.cfg.BurstSize, d.cfg.RequestsPerSecond,
			ratelimit.WithClock(d.clock),
			ratelimit.WithSafetyMargin(d.cfg.RateLimitMargin))
		d.limiters[i] = ratelimit.NewAdaptive(bucket, ratelimit.AdaptiveConfig{
			Window:    d.cfg.ErrorWindow,
			Threshold: d.cfg.ErrorThreshold,
			Backoff:   d.cfg.Backoff,
		})
		poolEndpoints[i] = pool.Endpoint{Address: ep.Address, Limiter: d.limiters[i]}
		backends[i] = ep.Backend
	}

	p, err := pool.New(poolEndpoints,
		pool.WithClock(d.clock),
		pool.WithLogger(d.logger),
		pool.WithCooldownPolicy(d.cfg.Cooldown))
	if err != nil {
		return nil, err
	}
	p.OnStateChange(d.onEndpointEvent)

	q, err := queue.New(queue.Config{Capacity: d.cfg.QueueSize, Workers: d.cfg.Workers}, p, backends,
		queue.WithClock(d.clock),
		queue.WithLogger(d.logger))
	if err != nil {
		p.Close()
		return nil, err
	}

	d.pool = p
	d.queue = q
	return d, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.EndpointTimeout <= 0 {
		cfg.EndpointTimeout = DefaultEndpointTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = queue.DefaultCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = pool.FixedCooldown{Period: pool.DefaultCooldownPeriod}
	}
	return cfg
}

// Pool exposes the node pool.
func (d *Dispatcher) Pool() *pool.Pool {
	return d.pool
}

// Status returns endpoint states and queue depth.
func (d *Dispatcher) Status() Status {
	return Status{
		Endpoints:  d.pool.Snapshot(),
		Available:  d.pool.AvailableCount(),
		QueueDepth: d.queue.Depth(),
		Pending:    d.queue.Pending(),
	}
}

// Close stops the queue, failing outstanding waiters, and cancels pending
// cooldowns.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.queue.Close()
		d.pool.Close()
	})
}

// Predict evaluates one position on a single reserved endpoint.
//
// The endpoint is always resolved: released on success, and disabled for
// cooldown on timeout, backend failure or queue closure. Queue admission
// failures, local encoding errors and the caller's own cancellation or
// deadline release it instead. Every failure after reservation wraps
// core.ErrPredictionFailed together with its cause. core.ErrNoNodesAvailable
// is returned unwrapped. There is no retry on another endpoint.
func (d *Dispatcher) Predict(ctx context.Context, input model.Input) (*Prediction, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id := uuid.New()
	record := core.PredictionRecord{
		ID:          id.String(),
		EndpointID:  -1,
		RequestedAt: d.clock.Now().UTC(),
	}

	if err := input.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		d.finish(ctx, &record, core.PredictionRejected, err)
		return nil, err
	}

	lease, err := d.pool.Reserve()
	if err != nil {
		d.finish(ctx, &record, core.PredictionRejected, err)
		return nil, err
	}
	record.EndpointID = lease.ID()
	record.Address = lease.Address()

	tx, err := d.buildPredict(ctx, lease, input, id[:])
	if err != nil {
		return nil, d.fail(ctx, &record, lease, err)
	}
	record.Signature = tx.Signature()

	resp, err := d.queue.Submit(ctx, queue.Work{
		Tx:            tx,
		Lease:         lease,
		ResultAccount: d.cfg.Program.ResultAccount().String(),
	}, d.cfg.EndpointTimeout)
	if err != nil {
		return nil, d.fail(ctx, &record, lease, err)
	}
	metrics.RecordRateLimitWait(resp.RateWait)

	output, err := model.DecodeOutput(resp.Account)
	if err != nil {
		return nil, d.fail(ctx, &record, lease, err)
	}

	lease.Release()
	value := output.Value
	record.Value = &value
	d.finish(ctx, &record, core.PredictionSucceeded, nil)

	return &Prediction{
		ID:           record.ID,
		Output:       output,
		Signature:    resp.Signature,
		EndpointID:   resp.EndpointID,
		Address:      resp.Address,
		Confirmation: resp.Confirmation,
		Latency:      record.Latency,
	}, nil
}

// PredictBatch runs Predict for every input with bounded concurrency. The
// bound is the configured batch size, capped at the number of endpoints so
// that concurrent calls do not starve each other of reservations. Results
// are returned in input order; one item failing does not cancel the others.
func (d *Dispatcher) PredictBatch(ctx context.Context, inputs []model.Input) []BatchResult {
	results := make([]BatchResult, len(inputs))

	limit := d.cfg.BatchSize
	if size := d.pool.Size(); limit > size {
		limit = size
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, input := range inputs {
		g.Go(func() error {
			prediction, err := d.Predict(ctx, input)
			results[i] = BatchResult{Index: i, Prediction: prediction, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) buildPredict(ctx context.Context, lease *pool.Lease, input model.Input, nonce []byte) (*ledger.Transaction, error) {
	ix, err := d.cfg.Program.PredictInstruction(d.signer.PublicKey(), input, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	anchorCtx, cancel := d.clock.WithTimeout(ctx, d.cfg.EndpointTimeout)
	defer cancel()
	anchor, err := d.endpoints[lease.ID()].Backend.CurrentAnchor(anchorCtx)
	if err != nil {
		if ctx.Err() == nil {
			lease.Limiter().RecordError()
		}
		return nil, fmt.Errorf("fetch anchor: %w", err)
	}

	instructions := append(ledger.ComputeBudget(d.cfg.ComputeUnits, d.cfg.PriorityFee), ix)
	tx := ledger.NewTransaction(d.signer.PublicKey(), anchor, instructions...)
	if err := tx.Sign(d.signer); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	return tx, nil
}

// fail resolves the lease for a failed prediction and returns the caller
// error.
func (d *Dispatcher) fail(ctx context.Context, record *core.PredictionRecord, lease *pool.Lease, cause error) error {
	status := core.PredictionFailed
	switch {
	case core.IsAdmissionRejection(cause), errors.Is(cause, core.ErrInvalidInput):
		lease.Release()
		status = core.PredictionRejected
	case ctx.Err() != nil && errors.Is(cause, ctx.Err()):
		// The caller cancelled or ran out of time; the endpoint is not at fault.
		lease.Release()
	case core.IsTimeout(cause):
		lease.Disable(cause)
		status = core.PredictionTimedOut
	default:
		lease.Disable(cause)
	}

	err := fmt.Errorf("%w: %w", core.ErrPredictionFailed, cause)
	d.finish(ctx, record, status, err)
	return err
}

func (d *Dispatcher) finish(ctx context.Context, record *core.PredictionRecord, status core.PredictionStatus, err error) {
	record.Status = status
	record.ResolvedAt = d.clock.Now().UTC()
	record.Latency = record.ResolvedAt.Sub(record.RequestedAt)
	if err != nil {
		record.Message = err.Error()
	}

	metrics.RecordPrediction(string(status), record.Latency)
	metrics.SetQueueDepth(d.queue.Depth())

	fields := []zap.Field{
		zap.String("prediction_id", record.ID),
		zap.String("status", string(status)),
		zap.Int("endpoint_id", record.EndpointID),
		zap.String("endpoint", record.Address),
		zap.String("signature", record.Signature),
		zap.Duration("latency", record.Latency),
	}
	if err != nil {
		d.logger.Warn("prediction failed", append(fields, zap.Error(err))...)
	} else {
		d.logger.Debug("prediction completed", fields...)
	}

	if d.recorder == nil {
		return
	}
	if recErr := d.recorder.RecordPrediction(context.WithoutCancel(ctx), *record); recErr != nil {
		d.logger.Warn("failed to record prediction", zap.String("prediction_id", record.ID), zap.Error(recErr))
	}
}

func (d *Dispatcher) onEndpointEvent(event core.EndpointEvent) {
	switch event.State {
	case core.EndpointDisabled:
		metrics.RecordEndpointDisabled(event.EndpointID)
	case core.EndpointAvailable:
		metrics.RecordEndpointReleased(event.EndpointID)
	case core.EndpointReserved:
		// Reservations are too frequent to persist.
		return
	}

	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordEndpointEvent(context.Background(), event); err != nil {
		d.logger.Warn("failed to record endpoint event",
			zap.Int("endpoint_id", event.EndpointID),
			zap.Error(err))
	}
}
