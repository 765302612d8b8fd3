package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	telemetryApplied   *prometheus.CounterVec
	telemetryDropped   *prometheus.CounterVec
	telemetryDiscarded *prometheus.CounterVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec) {
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_applied_total",
		Help: "Number of telemetry messages committed to the state store",
	}, []string{"class"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_dropped_total",
		Help: "Number of malformed telemetry messages dropped",
	}, []string{"class"})
	discarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_discarded_total",
		Help: "Number of telemetry messages discarded as stale or unknown",
	}, []string{"class"})
	return applied, dropped, discarded
}

func init() {
	telemetryApplied, telemetryDropped, telemetryDiscarded = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers ingest metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(telemetryApplied, telemetryDropped, telemetryDiscarded)
}

// ResetMetrics reinitializes collectors for testing purposes and registers
// them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	telemetryApplied, telemetryDropped, telemetryDiscarded = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
