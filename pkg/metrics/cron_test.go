package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	metrics := NewCronJobMetrics(prometheus.NewRegistry())
	job := "sync-drain"

	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.success.WithLabelValues(job)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failure.WithLabelValues(job)))
	assert.InDelta(t, 0.25, histogramSum(t, metrics.duration, job), 1e-9)
}

func TestCronJobMetricsLabelsEmptyJobAsUnknown(t *testing.T) {
	metrics := NewCronJobMetrics(prometheus.NewRegistry())
	metrics.IncFailure("")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failure.WithLabelValues("unknown")))
}

func TestCronJobMetricsNilRegisterer(t *testing.T) {
	metrics := NewCronJobMetrics(nil)
	metrics.ObserveDuration("sync-drain", time.Second)
	metrics.IncSuccess("sync-drain")
	metrics.IncFailure("sync-drain")
}

func histogramSum(t *testing.T, vec *prometheus.HistogramVec, labels ...string) float64 {
	t.Helper()
	observer, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	metric, ok := observer.(prometheus.Metric)
	require.True(t, ok, "histogram observer does not expose its sample state")
	var pb dto.Metric
	require.NoError(t, metric.Write(&pb))
	return pb.GetHistogram().GetSampleSum()
}
