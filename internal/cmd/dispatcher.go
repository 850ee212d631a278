package cmd

import (
	"fmt"

	"github.com/solanago/solanago/internal/config"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/core/store"
	"github.com/solanago/solanago/internal/ledger"
	"github.com/solanago/solanago/internal/model"
	"github.com/solanago/solanago/internal/observability"
)

// buildDispatcher wires RPC clients, the payer keypair and the configured
// policies into a dispatcher. db may be nil when history is disabled.
func buildDispatcher(cfg *config.Config, db *store.Store) (*engine.Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	if err := cfg.ValidateProgram(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	program, err := programFromConfig(cfg.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	payer, err := ledger.LoadKeypair(cfg.PayerKeypair)
	if err != nil {
		return nil, fmt.Errorf("load payer keypair: %w", err)
	}

	backoff, err := cfg.RateLimit.BackoffPolicy()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	cooldown, err := cfg.Cooldown.CooldownPolicy()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	opts := []engine.Option{engine.WithLogger(observability.CoreLogger)}
	if db != nil {
		opts = append(opts, engine.WithRecorder(db))
	}

	return engine.NewDispatcher(engine.Config{
		Program:           program,
		EndpointTimeout:   cfg.EndpointTimeout,
		QueueSize:         cfg.QueueSize,
		Workers:           cfg.Workers,
		BatchSize:         cfg.BatchSize,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		RateLimitMargin:   cfg.RateLimitMargin,
		ErrorWindow:       cfg.RateLimit.ErrorWindow,
		ErrorThreshold:    cfg.RateLimit.ErrorThreshold,
		Backoff:           backoff,
		Cooldown:          cooldown,
		ComputeUnits:      cfg.ComputeBudget,
		PriorityFee:       cfg.PriorityFee,
	}, rpcEndpoints(cfg), payer, opts...)
}

func rpcEndpoints(cfg *config.Config) []engine.Endpoint {
	endpoints := make([]engine.Endpoint, len(cfg.Endpoints))
	for i, address := range cfg.Endpoints {
		endpoints[i] = engine.Endpoint{
			Address: address,
			Backend: ledger.NewRPCClient(address,
				ledger.WithTimeout(cfg.EndpointTimeout),
				ledger.WithCommitment(cfg.Commitment),
				ledger.WithMaxRetries(cfg.MaxRetries),
				ledger.WithMaxTxSize(cfg.MaxTxSize)),
		}
	}
	return endpoints
}

func programFromConfig(pc config.ProgramConfig) (model.Program, error) {
	var (
		program model.Program
		err     error
	)
	if program.ProgramID, err = ledger.ParsePublicKey(pc.ProgramID); err != nil {
		return program, fmt.Errorf("program_id: %w", err)
	}
	if program.ModelAccount, err = ledger.ParsePublicKey(pc.ModelAccount); err != nil {
		return program, fmt.Errorf("model_account: %w", err)
	}
	if program.StateAccount, err = ledger.ParsePublicKey(pc.StateAccount); err != nil {
		return program, fmt.Errorf("state_account: %w", err)
	}
	if pc.OutputAccount != "" {
		if program.OutputAccount, err = ledger.ParsePublicKey(pc.OutputAccount); err != nil {
			return program, fmt.Errorf("output_account: %w", err)
		}
	}
	return program, nil
}
