package metrics

import (
	coremetrics "github.com/flowline/flowline/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records coordination KPIs in Prometheus metrics.
type PromSink struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	orders   *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer. The
// metrics server is started separately on cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global one.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "line_commands_total",
		Help: "Finalized commands by line, action and outcome",
	}, []string{"line", "action", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "line_command_latency_seconds",
		Help:    "Time between command dispatch and resolution",
		Buckets: prometheus.DefBuckets,
	}, []string{"line", "action"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "line_order_events_total",
		Help: "Order lifecycle transitions by line and status",
	}, []string{"line", "status", "priority"})

	for _, c := range []prometheus.Collector{commands, latency, orders} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return &PromSink{commands: commands, latency: latency, orders: orders}, nil
}

// RecordCommandResult increments the counters for each finalized command.
func (s *PromSink) RecordCommandResult(recs []coremetrics.CommandRecord) error {
	for _, r := range recs {
		s.commands.WithLabelValues(r.LineID, string(r.Action), r.Status.String()).Inc()
		s.latency.WithLabelValues(r.LineID, string(r.Action)).Observe(r.Latency.Seconds())
	}
	return nil
}

// RecordOrderEvent counts one order lifecycle transition.
func (s *PromSink) RecordOrderEvent(rec coremetrics.OrderRecord) error {
	s.orders.WithLabelValues(rec.LineID, rec.Status.String(), rec.Priority.String()).Inc()
	return nil
}
