package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deployerdOnce     sync.Once
	deployerdRegistry *DeployerdMetrics
)

// DeployerdMetrics exposes Prometheus collectors for the deploy scheduler.
type DeployerdMetrics struct {
	cycles        *prometheus.CounterVec
	admitted      prometheus.Counter
	skips         *prometheus.CounterVec
	batches       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	balances      *prometheus.GaugeVec
	tableKnown    prometheus.Gauge
}

// Deployerd returns the lazily-initialised scheduler metrics registry.
func Deployerd() *DeployerdMetrics {
	deployerdOnce.Do(func() {
		deployerdRegistry = &DeployerdMetrics{
			cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "griddeployer",
				Subsystem: "scheduler",
				Name:      "cycles_total",
				Help:      "Scheduler cycles segmented by round phase.",
			}, []string{"phase"}),
			admitted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "griddeployer",
				Subsystem: "scheduler",
				Name:      "admitted_total",
				Help:      "Deployers admitted for a deploy.",
			}),
			skips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "griddeployer",
				Subsystem: "scheduler",
				Name:      "skips_total",
				Help:      "Deployers skipped, segmented by reason code.",
			}, []string{"reason"}),
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "griddeployer",
				Subsystem: "scheduler",
				Name:      "batches_total",
				Help:      "Submitted transaction batches segmented by outcome.",
			}, []string{"outcome"}),
			cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "griddeployer",
				Subsystem: "scheduler",
				Name:      "cycle_duration_seconds",
				Help:      "Wall-clock duration of a full scheduler cycle.",
				Buckets:   prometheus.DefBuckets,
			}),
			balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "griddeployer",
				Subsystem: "scheduler",
				Name:      "deployer_balance",
				Help:      "Cached deployer balance in smallest units.",
			}, []string{"deployer"}),
			tableKnown: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "griddeployer",
				Subsystem: "lookup",
				Name:      "table_known_addresses",
				Help:      "Addresses currently cached from the acceleration index.",
			}),
		}
		prometheus.MustRegister(
			deployerdRegistry.cycles,
			deployerdRegistry.admitted,
			deployerdRegistry.skips,
			deployerdRegistry.batches,
			deployerdRegistry.cycleDuration,
			deployerdRegistry.balances,
			deployerdRegistry.tableKnown,
		)
	})
	return deployerdRegistry
}

// ObserveCycle records a completed cycle for the given phase.
func (m *DeployerdMetrics) ObserveCycle(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "unknown"
	}
	m.cycles.WithLabelValues(phase).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// RecordAdmitted counts deployers admitted for a deploy this cycle.
func (m *DeployerdMetrics) RecordAdmitted(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.admitted.Add(float64(count))
}

// RecordSkip counts a skipped deployer by reason code.
func (m *DeployerdMetrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.skips.WithLabelValues(reason).Inc()
}

// RecordBatch counts one batch submission outcome, "submitted" or "failed".
func (m *DeployerdMetrics) RecordBatch(outcome string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}

// RecordBalance updates the cached balance gauge for a deployer.
func (m *DeployerdMetrics) RecordBalance(deployer string, balance uint64) {
	if m == nil {
		return
	}
	m.balances.WithLabelValues(deployer).Set(float64(balance))
}

// RecordTableSize updates the lookup-table cache size gauge.
func (m *DeployerdMetrics) RecordTableSize(known int) {
	if m == nil {
		return
	}
	m.tableKnown.Set(float64(known))
}
