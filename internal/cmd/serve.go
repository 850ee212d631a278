package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solanago/solanago/internal/config"
	errwrap "github.com/solanago/solanago/internal/errors"
	"github.com/solanago/solanago/internal/observability"
	"github.com/solanago/solanago/internal/server"
	"github.com/solanago/solanago/internal/server/handlers"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewServiceUnavailableError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction HTTP server",
	Long: `Start the prediction HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level only; restart for other changes)

Shutdown stops accepting requests, drains in-flight predictions, fails
queued requests and closes the history store.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "server host (overrides server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "server port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	overrides := map[string]any{}
	listen := map[string]any{}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		listen["host"] = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		listen["port"] = port
	}
	if len(listen) > 0 {
		overrides["server"] = listen
	}

	cfg, err := loadConfig(cmd.Context(), overrides)
	if err != nil {
		ExitWithCode(observability.CLILogger, ExitCodeFor(err), "Failed to load configuration", err)
	}

	observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
	observability.InitCoreLogger(config.AppName, cfg.Logging.Level, true)
	logger := observability.ServerLogger

	health := map[string]handlers.HealthChecker{}
	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(observability.DispatchNamespace, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}
		health["telemetry"] = telemetryHealthChecker{}
	}

	db, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to open history store")
	}
	var history handlers.History
	if db != nil {
		history = db
		health["store"] = handlers.HealthCheckerFunc(db.Ping)
	}

	dispatcher, err := buildDispatcher(cfg, db)
	if err != nil {
		_ = closeStore(db)
		ExitWithCode(observability.CLILogger, ExitCodeFor(err), "Failed to build dispatcher", err)
	}

	srv, err := server.New(cfg.Server, server.Dependencies{
		Dispatcher: dispatcher,
		History:    history,
		Health:     health,
		Version:    versionInfo.Version,
		Pprof:      cfg.Debug.Enabled && cfg.Debug.PprofEnabled,
	})
	if err != nil {
		dispatcher.Close()
		_ = closeStore(db)
		return errwrap.WrapInternal(cmd.Context(), err, "server construction failed")
	}

	logger.Info("Initializing server",
		zap.String("service", config.AppName),
		zap.String("version", versionInfo.Version),
		zap.String("network", cfg.Network),
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.String("addr", srv.Addr()),
		zap.Bool("history", db != nil),
		zap.Int("metrics_port", observability.MetricsPort()))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// shutdown runs once, from the signal handler or after the server
	// exits on its own.
	var (
		shutdownOnce sync.Once
		shutdownErr  error
	)
	shutdown := func(ctx context.Context) error {
		shutdownOnce.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			// Drain HTTP first so in-flight predictions finish before the
			// queue fails whatever is still waiting.
			shutdownErr = srv.Shutdown(shutdownCtx)
			dispatcher.Close()
			shutdownErr = multierr.Append(shutdownErr, closeStore(db))
			if shutdownErr != nil {
				logger.Warn("Shutdown completed with errors", zap.Error(shutdownErr))
			} else {
				logger.Info("Server stopped gracefully")
			}
			observability.SyncLoggers()
			_ = logger.Sync()
		})
		return shutdownErr
	}

	signals.OnShutdown(shutdown)

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: attempting config reload")

		reloaded, err := config.Load(ctx, overrides)
		if err != nil {
			logger.Error("Failed to reload config", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "config reload failed")
		}
		observability.SetCoreLevel(reloaded.Logging.Level)

		logger.Info("Configuration reloaded",
			zap.String("log_level", reloaded.Logging.Level))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The listener stops once the server is gone for any reason.
		defer cancel()
		return srv.Start()
	})
	g.Go(func() error {
		if err := signals.Listen(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Signal handler error", zap.Error(err))
			return err
		}
		return nil
	})

	runErr := g.Wait()
	if err := multierr.Append(runErr, shutdown(cmd.Context())); err != nil {
		return errwrap.WrapInternal(cmd.Context(), err, "server error")
	}
	return nil
}
