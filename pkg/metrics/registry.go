package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry enables metrics collection and creates the process-wide
// Prometheus registry. Safe to call more than once; later calls replace the
// registry (mainly useful in tests).
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called. Constructors in
// this package return a nil interface when it returns false, so callers get
// zero-overhead no-op metrics by default.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the process-wide registry. Panics if metrics are not
// enabled; callers must guard with IsEnabled (all constructors in this
// package already do).
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	if registry == nil {
		panic("metrics: GetRegistry called before InitRegistry")
	}
	return registry
}
