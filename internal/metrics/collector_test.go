package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()
	// Should not panic
	collector.IncrementCounter(ValidationsTotal, "level", "SAFE")
	collector.RecordHistogram(ValidationDuration, 0.01)
	collector.RecordGauge(LearnedPatterns, 3)

	timer := collector.StartTimer(ValidationDuration)
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Stop(), 0.0)
}

func TestPrometheusCollector_IncrementCounter(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.IncrementCounter(ViolationsTotal, "kind", "SQL_INJECTION")
	collector.IncrementCounter(ViolationsTotal, "kind", "SQL_INJECTION")

	counter := collector.counters[ViolationsTotal]
	require.NotNil(t, counter)
	assert.Equal(t, float64(2), testutil.ToFloat64(counter.WithLabelValues("SQL_INJECTION")))
}

func TestPrometheusCollector_RecordGauge(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.RecordGauge(LearnedPatterns, 42)

	gauge := collector.gauges[LearnedPatterns]
	require.NotNil(t, gauge)
	assert.Equal(t, 42.0, testutil.ToFloat64(gauge.WithLabelValues()))
}

func TestPrometheusCollector_TimerRecordsHistogram(t *testing.T) {
	collector := NewPrometheusCollector()
	timer := collector.StartTimer(ValidationDuration)
	assert.GreaterOrEqual(t, timer.Stop(), 0.0)

	histogram := collector.histograms[ValidationDuration]
	require.NotNil(t, histogram)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	a := NewPrometheusCollector()
	b := NewPrometheusCollector()
	// Registering the same name on two collectors must not panic.
	a.IncrementCounter(ValidationsTotal, "level", "SAFE")
	b.IncrementCounter(ValidationsTotal, "level", "SAFE")
}

func TestParseLabelPairs(t *testing.T) {
	names, values := parseLabelPairs([]string{"a", "1", "b", "2", "dangling"})
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, []string{"1", "2"}, values)

	names, values = parseLabelPairs(nil)
	assert.Empty(t, names)
	assert.Empty(t, values)
}

func TestServer_Handler(t *testing.T) {
	collector := NewPrometheusCollector()
	collector.IncrementCounter(RetryOutcomesTotal, "result", "success")

	srv := NewServer(":0", "", collector)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), RetryOutcomesTotal))
}
