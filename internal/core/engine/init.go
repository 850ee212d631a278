package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/ledger"
	"github.com/solanago/solanago/internal/metrics"
	"github.com/solanago/solanago/internal/model"
)

// InitResult is the outcome of the initialization broadcast on one endpoint.
type InitResult struct {
	EndpointID  int    `json:"endpoint_id"`
	Address     string `json:"address"`
	Attempted   bool   `json:"attempted"`
	Initialized bool   `json:"initialized"`
	Signature   string `json:"signature,omitempty"`
	Error       string `json:"error,omitempty"`
}

// InitReport lists every endpoint in pool order.
type InitReport struct {
	Results []InitResult `json:"results"`
}

// Initialized returns how many endpoints accepted the model.
func (r InitReport) Initialized() int {
	count := 0
	for _, result := range r.Results {
		if result.Initialized {
			count++
		}
	}
	return count
}

// InitModel sends the initialization transaction to every endpoint in order,
// bypassing the queue. The anchor comes from the first endpoint.
//
// The first failure aborts the broadcast with core.ErrInitialization.
// Endpoints initialized before it stay initialized and later endpoints are
// not attempted; the report shows which is which. There is no retry beyond
// what each backend does internally.
func (d *Dispatcher) InitModel(ctx context.Context, cfg model.Config) (InitReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	report := InitReport{Results: make([]InitResult, len(d.endpoints))}
	for i, ep := range d.endpoints {
		report.Results[i] = InitResult{EndpointID: i, Address: ep.Address}
	}

	if err := d.cfg.Program.Validate(); err != nil {
		return report, fmt.Errorf("%w: %w", core.ErrInitialization, err)
	}
	ix, err := d.cfg.Program.InitInstruction(d.signer.PublicKey(), cfg)
	if err != nil {
		return report, fmt.Errorf("%w: %w", core.ErrInitialization, err)
	}

	anchorCtx, cancel := d.clock.WithTimeout(ctx, d.cfg.EndpointTimeout)
	anchor, err := d.endpoints[0].Backend.CurrentAnchor(anchorCtx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("%w: fetch anchor from %s: %w", core.ErrInitialization, d.endpoints[0].Address, err)
	}

	instructions := append(ledger.ComputeBudget(d.cfg.ComputeUnits, d.cfg.PriorityFee), ix)
	tx := ledger.NewTransaction(d.signer.PublicKey(), anchor, instructions...)
	if err := tx.Sign(d.signer); err != nil {
		return report, fmt.Errorf("%w: %w", core.ErrInitialization, err)
	}

	for i, ep := range d.endpoints {
		result := &report.Results[i]
		result.Attempted = true

		if err := d.initEndpoint(ctx, i, ep, tx); err != nil {
			result.Error = err.Error()
			metrics.RecordModelInit(i, false)
			d.logger.Error("model initialization failed",
				zap.Int("endpoint_id", i),
				zap.String("endpoint", ep.Address),
				zap.Int("initialized", report.Initialized()),
				zap.Error(err))
			return report, fmt.Errorf("%w: endpoint %d (%s): %w", core.ErrInitialization, i, ep.Address, err)
		}

		result.Initialized = true
		result.Signature = tx.Signature()
		metrics.RecordModelInit(i, true)
		d.logger.Info("model initialized",
			zap.Int("endpoint_id", i),
			zap.String("endpoint", ep.Address),
			zap.String("signature", tx.Signature()))
	}

	return report, nil
}

func (d *Dispatcher) initEndpoint(ctx context.Context, id int, ep Endpoint, tx *ledger.Transaction) error {
	limiter := d.limiters[id]

	callCtx, cancel := d.clock.WithTimeout(ctx, d.cfg.EndpointTimeout)
	defer cancel()

	if err := limiter.Wait(callCtx, 1); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if _, err := ep.Backend.SubmitAndConfirm(callCtx, tx); err != nil {
		limiter.RecordError()
		return err
	}
	return nil
}
