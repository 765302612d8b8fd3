package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	reactiveLatency   prometheus.Histogram
	proposalsRejected *prometheus.CounterVec
)

func newCollectors() (prometheus.Histogram, *prometheus.CounterVec) {
	lat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reactive_cycle_latency_seconds",
		Help:    "Time from reactive wakeup to command dispatch",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	rej := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_proposals_rejected_total",
		Help: "Policy proposals rejected before dispatch, by reason",
	}, []string{"reason"})
	return lat, rej
}

func init() {
	reactiveLatency, proposalsRejected = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers scheduler metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(reactiveLatency, proposalsRejected)
}

// ResetMetrics reinitializes collectors for testing purposes and registers
// them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	reactiveLatency, proposalsRejected = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
