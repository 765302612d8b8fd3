package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	commandsResolved *prometheus.CounterVec
	publishSuccess   prometheus.Counter
	publishFailure   prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter) {
	resolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_resolved_total",
		Help: "Commands finalized, by action and outcome",
	}, []string{"action", "status"})
	success := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "command_publish_success_total",
		Help: "Number of successful command publish operations",
	})
	failure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "command_publish_failure_total",
		Help: "Number of failed command publish operations",
	})
	return resolved, success, failure
}

func init() {
	commandsResolved, publishSuccess, publishFailure = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatcher metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandsResolved, publishSuccess, publishFailure)
}

// ResetMetrics reinitializes collectors for testing purposes and registers
// them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandsResolved, publishSuccess, publishFailure = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
