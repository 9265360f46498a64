// Package metrics provides optional, nil-safe observability for the
// streaming engine. Every constructor returns an interface value that is
// nil when metrics were never enabled via InitRegistry, and every method
// on the concrete implementation guards against a nil receiver, so callers
// never need to check IsEnabled themselves before recording a measurement.
package metrics

import "time"

// EngineMetrics observes the Assigner/Batch/Workload/backend pipeline.
//
// Pass nil to disable metrics collection with zero overhead.
type EngineMetrics interface {
	// ObserveBatch records the completion of one worker's batch for one
	// file: total bytes covered by the batch and the wall time it took,
	// whether it finished successfully or with a response-code error.
	ObserveBatch(workerIndex int, bytes int64, duration time.Duration, err error)

	// ObserveBackendOp records a single backend call (open, read, wait,
	// cancel) against a named backend kind ("fs", "s3", "gcs", "azure").
	ObserveBackendOp(backend, op string, duration time.Duration, err error)

	// RecordBytesTransferred adds to the running total of bytes read from
	// a backend kind, independent of how the bytes were batched.
	RecordBytesTransferred(backend string, bytes int64)

	// RecordActiveWorkers sets the current gauge of worker goroutines
	// holding a Workload.
	RecordActiveWorkers(n int)
}

// New creates a new Prometheus-backed EngineMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), so
// passing the result straight to a streamer.Streamer is always safe.
func New() EngineMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusEngineMetrics()
}

// newPrometheusEngineMetrics is implemented in pkg/metrics/prometheus.
// This indirection avoids an import cycle: prometheus.go depends on this
// package for IsEnabled/GetRegistry, so it cannot be imported back here.
var newPrometheusEngineMetrics func() EngineMetrics

// RegisterEngineMetricsConstructor registers the Prometheus engine metrics
// constructor. Called by pkg/metrics/prometheus during package init.
func RegisterEngineMetricsConstructor(constructor func() EngineMetrics) {
	newPrometheusEngineMetrics = constructor
}
