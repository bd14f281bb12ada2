package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Join("ok")
	m.Join("ok")
	m.Join("full")
	m.Pruned(2)
	m.Pruned(0)
	m.ConnOpened()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.joins.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.joins.WithLabelValues("full")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Join("ok")
		m.Signal("delivered")
		m.Roster(3)
		m.ConnOpened()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Signal("delivered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `signal_signals_total{result="delivered"} 1`))
}
