package metrics

import (
	"time"

	"github.com/flowline/flowline/core/model"
)

// CommandRecord is one finalized command outcome exported to sinks.
type CommandRecord struct {
	LineID    string
	CommandID string
	Target    string
	Action    model.CommandAction
	Status    model.CommandStatus
	Latency   time.Duration
	Time      time.Time
}

// OrderRecord is one order lifecycle transition exported to sinks.
type OrderRecord struct {
	LineID   string
	OrderID  string
	Status   model.OrderStatus
	Priority model.OrderPriority
	Time     time.Time
}

// Sink receives coordination KPIs. Implementations live in infra/metrics.
type Sink interface {
	RecordCommandResult(recs []CommandRecord) error
	RecordOrderEvent(rec OrderRecord) error
}

// Config selects and parameterizes the enabled sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = "2112"
	}
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordCommandResult([]CommandRecord) error { return nil }
func (NopSink) RecordOrderEvent(OrderRecord) error        { return nil }
