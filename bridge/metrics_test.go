package bridge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	m := NewMetrics(nil)
	require.Nil(t, m)
	m.wroteDevice(3)
	m.sessionStarted()
	m.sessionEnded(true)
	m.channelOpen(true)
}

func TestMetricsRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.wroteDevice(5)
	m.wroteClient(7)
	m.sessionStarted()
	require.Equal(t, float64(1), testutil.ToFloat64(m.sessionActive))
	m.sessionEnded(true)
	m.openAttempt()
	m.openFailed()
	m.deviceFault()
	m.channelOpen(true)

	require.Equal(t, float64(5), testutil.ToFloat64(m.bytesToDevice))
	require.Equal(t, float64(7), testutil.ToFloat64(m.bytesToClient))
	require.Equal(t, float64(0), testutil.ToFloat64(m.sessionActive))
	require.Equal(t, float64(1), testutil.ToFloat64(m.terminations))
	require.Equal(t, float64(1), testutil.ToFloat64(m.openFailures))
	require.Equal(t, float64(1), testutil.ToFloat64(m.deviceOpen))

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 11)
}
