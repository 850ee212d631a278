package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExporterPort(t *testing.T) {
	port, err := exporterPort("[::]:9464")
	require.NoError(t, err)
	require.Equal(t, 9464, port)

	port, err = exporterPort("127.0.0.1:0")
	require.NoError(t, err)
	require.Zero(t, port)

	_, err = exporterPort("localhost")
	require.Error(t, err)

	_, err = exporterPort("localhost:http")
	require.Error(t, err)
}

func TestInitMetricsRejectsNegativePort(t *testing.T) {
	require.Error(t, InitMetrics(DispatchNamespace, -1))
	require.Nil(t, TelemetrySystem)
}
