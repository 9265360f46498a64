// Package prometheus is the concrete Prometheus implementation of
// pkg/metrics.EngineMetrics, registered with the shared registry on init.
package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func init() {
	metrics.RegisterEngineMetricsConstructor(newEngineMetrics)
}

type engineMetrics struct {
	batchesTotal      *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	batchBytes        *prometheus.HistogramVec
	backendOpsTotal   *prometheus.CounterVec
	backendOpDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	activeWorkers     prometheus.Gauge
}

func newEngineMetrics() metrics.EngineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &engineMetrics{
		batchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamer_batches_total",
				Help: "Total number of per-worker batches completed, by status",
			},
			[]string{"status"},
		),
		batchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamer_batch_duration_milliseconds",
				Help:    "Duration of a single worker's batch execution",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
			},
			[]string{"worker"},
		),
		batchBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamer_batch_bytes",
				Help:    "Distribution of bytes requested per batch",
				Buckets: []float64{4096, 65536, 1048576, 8388608, 67108864, 536870912},
			},
			[]string{"worker"},
		),
		backendOpsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamer_backend_operations_total",
				Help: "Total number of backend operations by backend kind, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),
		backendOpDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamer_backend_operation_duration_milliseconds",
				Help:    "Duration of backend operations in milliseconds",
				Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
			},
			[]string{"backend", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamer_bytes_transferred_total",
				Help: "Total bytes read from a backend",
			},
			[]string{"backend"},
		),
		activeWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "streamer_active_workers",
				Help: "Current number of worker goroutines holding a workload",
			},
		),
	}
}

func (m *engineMetrics) ObserveBatch(workerIndex int, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	worker := workerLabel(workerIndex)
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.WithLabelValues(worker).Observe(float64(duration.Milliseconds()))
	if bytes > 0 {
		m.batchBytes.WithLabelValues(worker).Observe(float64(bytes))
	}
}

func (m *engineMetrics) ObserveBackendOp(backend, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.backendOpsTotal.WithLabelValues(backend, op, status).Inc()
	m.backendOpDuration.WithLabelValues(backend, op).Observe(float64(duration.Milliseconds()))
}

func (m *engineMetrics) RecordBytesTransferred(backend string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(backend).Add(float64(bytes))
}

func (m *engineMetrics) RecordActiveWorkers(n int) {
	if m == nil {
		return
	}
	m.activeWorkers.Set(float64(n))
}

func workerLabel(idx int) string {
	if idx < 0 {
		return "unknown"
	}
	return strconv.Itoa(idx)
}
