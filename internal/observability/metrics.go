package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// DispatchNamespace prefixes every exported metric when no namespace is given.
const DispatchNamespace = "solanago"

var (
	// TelemetrySystem receives dispatch, HTTP and error metrics. Nil until
	// InitMetrics succeeds; recorders treat nil as disabled.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint proxied at /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port and routes telemetry to
// it. Port 0 binds a free port, which MetricsPort then reports.
func InitMetrics(namespace string, port int) error {
	if port < 0 {
		return fmt.Errorf("metrics port must not be negative, got %d", port)
	}
	if namespace == "" {
		namespace = DispatchNamespace
	}

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter on port %d: %w", port, err)
	}

	bound, err := exporterPort(exporter.GetAddr())
	if err != nil {
		if port == 0 {
			return fmt.Errorf("resolve prometheus exporter port: %w", err)
		}
		bound = port
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	metricsPort = bound
	return nil
}

// MetricsPort returns the port the exporter is bound to, or 0 before
// InitMetrics.
func MetricsPort() int {
	return metricsPort
}

func exporterPort(addr string) (int, error) {
	_, raw, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("exporter port %q: %w", raw, err)
	}
	return port, nil
}
