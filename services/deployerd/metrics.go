package deployerd

import "griddeployer/observability"

// Metrics exposes Prometheus collectors for deployerd instrumentation.
type Metrics = observability.DeployerdMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Deployerd() }
