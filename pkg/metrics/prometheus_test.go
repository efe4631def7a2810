package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordPattern("GAP_ZONE", "1h")
	r.RecordPattern("GAP_ZONE", "1h")
	r.RecordSignal("EURUSD", "BULLISH")
	r.RecordMemoryDegraded()
	r.RecordLatency("analyze", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.patterns.WithLabelValues("GAP_ZONE", "1h")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("EURUSD", "BULLISH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.memoryDegraded))

	n, err := testutil.GatherAndCount(reg, "patmem_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
