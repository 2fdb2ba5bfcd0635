package production

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/coupon-engine/qc"
)

// Metrics wraps the Prometheus collectors for generation and QC.
type Metrics struct {
	registry *prometheus.Registry

	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	couponsGenerated   *prometheus.CounterVec
	repairWarnings     prometheus.Counter
	qcChecks           *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coupon"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "runs_total",
			Help:      "Batch generation runs by result",
		},
		[]string{"result"},
	)

	m.generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Time to assemble and persist one batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.couponsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "coupons_total",
			Help:      "Coupons persisted by generation, split into winners and non-winners",
		},
		[]string{"kind"},
	)

	m.repairWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "repair_warnings_total",
			Help:      "Boxes whose adjacency repair did not converge",
		},
	)

	m.qcChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qc",
			Name:      "checks_total",
			Help:      "QC checks run by type and status",
		},
		[]string{"check", "status"},
	)

	m.registry.MustRegister(
		m.generations,
		m.generationDuration,
		m.couponsGenerated,
		m.repairWarnings,
		m.qcChecks,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordGeneration records one generation attempt.
func (m *Metrics) RecordGeneration(duration time.Duration, winners, total, warnings int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.generations.WithLabelValues(result).Inc()
	m.generationDuration.Observe(duration.Seconds())
	if err != nil {
		return
	}
	m.couponsGenerated.WithLabelValues("winning").Add(float64(winners))
	m.couponsGenerated.WithLabelValues("non_winning").Add(float64(total - winners))
	m.repairWarnings.Add(float64(warnings))
}

// RecordQC records the outcome of every check in a report.
func (m *Metrics) RecordQC(report qc.Report) {
	if m == nil {
		return
	}
	for _, rec := range report.Records() {
		m.qcChecks.WithLabelValues(string(rec.Type), string(rec.Status)).Inc()
	}
}
