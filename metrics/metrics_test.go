package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserversAreSafeWithoutRegistration(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveHeapPressure(0.5)
		ObserveAlert("warning", "heap_used")
		ObserveAlertDropped()
		ObserveCacheStats(0.2, 10)
		ObserveReducerDropped(3)
		ObserveContextAdaptDuration("provider-a", 0.01)
		ObserveBlobBytesWritten(1024)
	})
}

func TestRegisterAttachesCollectors(t *testing.T) {
	registered = false
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
