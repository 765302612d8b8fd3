package metrics

import coremetrics "github.com/flowline/flowline/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCommandResult forwards to all sinks, returning the first error.
func (m *MultiSink) RecordCommandResult(recs []coremetrics.CommandRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordCommandResult(recs); err != nil {
			return err
		}
	}
	return nil
}

// RecordOrderEvent forwards to all sinks, returning the first error.
func (m *MultiSink) RecordOrderEvent(rec coremetrics.OrderRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordOrderEvent(rec); err != nil {
			return err
		}
	}
	return nil
}
