package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics tracks allocation and renewal outcomes.
type EngineMetrics struct {
	allocations *prometheus.CounterVec
	renewals    *prometheus.CounterVec
	poolDepth   *prometheus.GaugeVec
}

// NewEngineMetrics registers the allocation/renewal metrics on the provided
// registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocations_total",
		Help: "Allocation attempts by outcome.",
	}, []string{"outcome"})
	renewals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewals_total",
		Help: "Renewal attempts by outcome.",
	}, []string{"outcome"})
	poolDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "credential_pool_depth",
		Help: "Unclaimed pool entries per product code.",
	}, []string{"product_code"})
	reg.MustRegister(allocations, renewals, poolDepth)
	return &EngineMetrics{
		allocations: allocations,
		renewals:    renewals,
		poolDepth:   poolDepth,
	}
}

// Allocation outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeIdempotent = "idempotent_replay"
	OutcomeExhausted  = "pool_exhausted"
	OutcomePartial    = "partial_failure"
	OutcomeError      = "error"
)

// IncAllocation increments the allocation counter for the given outcome.
func (m *EngineMetrics) IncAllocation(outcome string) {
	if m == nil || m.allocations == nil {
		return
	}
	m.allocations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRenewal increments the renewal counter for the given outcome.
func (m *EngineMetrics) IncRenewal(outcome string) {
	if m == nil || m.renewals == nil {
		return
	}
	m.renewals.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetPoolDepth records the current unclaimed entry count for a product.
func (m *EngineMetrics) SetPoolDepth(productCode string, depth int64) {
	if m == nil || m.poolDepth == nil {
		return
	}
	m.poolDepth.WithLabelValues(normalizeLabel(productCode)).Set(float64(depth))
}
