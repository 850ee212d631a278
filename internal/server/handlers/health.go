package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/metrics"
)

// Check results.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// ErrDegraded marks a checker failure that should not take the service out
// of rotation.
var ErrDegraded = errors.New("degraded")

// HealthResponse is the aggregate health body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse is the body of a single probe.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is a component that can report its health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager runs registered checkers for the health and probe routes.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

func (hm *HealthManager) runChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		names = append(names, name)
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			results[name] = StatusTimeout
			continue
		}

		start := time.Now()
		err := checkers[name].CheckHealth(ctx)
		switch {
		case err == nil:
			results[name] = StatusHealthy
		case errors.Is(err, ErrDegraded):
			results[name] = StatusDegraded
		case errors.Is(err, context.DeadlineExceeded):
			results[name] = StatusTimeout
		default:
			results[name] = StatusUnhealthy
		}
		metrics.RecordHealthCheck(name, results[name] != StatusUnhealthy, time.Since(start))
	}
	return results
}

func overallStatus(checks map[string]string) string {
	status := StatusHealthy
	for _, result := range checks {
		switch result {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

// HealthHandler handles GET /health.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runChecks(ctx)
	status := overallStatus(checks)
	if status == StatusUnhealthy {
		respondWithError(w, r, unhealthyEnvelope("aggregate", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// Probe returns the handler for one Kubernetes-style probe.
func (hm *HealthManager) Probe(name string, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks := hm.runChecks(ctx)
		status := overallStatus(checks)
		if status == StatusUnhealthy {
			respondWithError(w, r, unhealthyEnvelope(name, status, checks))
			return
		}

		writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
	}
}

// LivenessHandler reports that the process is serving. It runs no
// checkers: a drained pool must not get the process restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

func unhealthyEnvelope(probe, status string, checks map[string]string) *gferrors.ErrorEnvelope {
	envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", probe+" health check failed")

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	envelope = envelope.WithDetails(map[string]interface{}{
		"status": status,
		"probe":  probe,
		"checks": checks,
	})
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"probe":            probe,
		"unhealthy_checks": failing,
	})
	return envelope
}

// PoolChecker reports the node pool as unhealthy when every endpoint is
// cooling down and degraded when some are.
func PoolChecker(status func() engine.Status) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		snapshot := status()
		if len(snapshot.Endpoints) == 0 {
			return errors.New("no endpoints configured")
		}

		disabled := 0
		for _, ep := range snapshot.Endpoints {
			if ep.State == core.EndpointDisabled {
				disabled++
			}
		}
		switch {
		case disabled == len(snapshot.Endpoints):
			return fmt.Errorf("all %d endpoints are disabled: %w", disabled, core.ErrNoNodesAvailable)
		case disabled > 0:
			return fmt.Errorf("%d of %d endpoints are disabled: %w", disabled, len(snapshot.Endpoints), ErrDegraded)
		default:
			return nil
		}
	})
}
