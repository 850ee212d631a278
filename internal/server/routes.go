package server

import (
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/config"
	"github.com/solanago/solanago/internal/observability"
	"github.com/solanago/solanago/internal/server/handlers"
)

// AdminTokenEnv enables POST /admin/signal when set.
const AdminTokenEnv = config.EnvPrefix + "_ADMIN_TOKEN"

func (s *Server) registerRoutes(api *handlers.DispatchHandler, pprof bool) {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.Probe("ready", 5*time.Second))
	s.router.Get("/health/startup", s.health.Probe("startup", 3*time.Second))

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/predict", api.Predict)
		r.Post("/predict/batch", api.PredictBatch)
		r.Get("/nodes", api.Nodes)
		r.Get("/nodes/{id}/events", api.NodeEvents)
		r.Get("/queue", api.Queue)
		r.Get("/history", api.History)
	})

	if pprof {
		s.router.Mount("/debug", middleware.Profiler())
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("pprof endpoints enabled", zap.String("path", "/debug/pprof"))
		}
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes signal delivery over HTTP when an admin
// token is configured.
func (s *Server) registerAdminEndpoint() {
	token := os.Getenv(AdminTokenEnv)
	logger := observability.ServerLogger

	if token == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled", zap.String("env", AdminTokenEnv))
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
