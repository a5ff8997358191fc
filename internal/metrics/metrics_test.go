package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("query", nil)
	m.ObserveRequest("query", errors.New("boom"))
	m.ObserveRequest("query", nil)
	m.ObserveLoad("list", true, nil)
	m.ObserveChange("ValueChange")
	m.ObserveChangeBatch(3, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("query", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("list", "true", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("ValueChange")))

	n, err := testutil.GatherAndCount(reg, "entitygraph_service_change_batch_size")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("query", nil)
		m.ObserveLoad("object", false, nil)
		m.ObserveChange("InitNew")
		m.ObserveChangeBatch(1, nil)
	})
}
