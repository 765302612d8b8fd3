package model

import "time"

// Severity ranks the urgency of an event. Higher values drain first.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// EventKind names the condition that produced an event.
type EventKind string

const (
	EventBatteryCritical   EventKind = "battery_critical"
	EventBatteryLow        EventKind = "battery_low"
	EventLoadedIdle        EventKind = "agv_loaded_idle"
	EventFinishedReady     EventKind = "finished_product_ready"
	EventSecondPassWait    EventKind = "second_pass_waiting"
	EventRawAvailable      EventKind = "raw_material_available"
	EventDeviceFault       EventKind = "device_fault"
	EventStatusDelta       EventKind = "status_delta"
	EventDeliveryFailed    EventKind = "command_delivery_failed"
	EventConveyorCongested EventKind = "conveyor_congestion"
	EventDeviceAlert       EventKind = "device_alert"
)

// Alert is an emergency broadcast published on a line's alert topic by the
// devices themselves, outside the regular status streams.
type Alert struct {
	AlertType string `json:"alert_type"`
	DeviceID  string `json:"device_id"`
	Detail    string `json:"detail,omitempty"`
}

// Event is a discrete, severity-tagged observation derived from a state
// transition. Events are transient and consumed within one scheduling cycle.
type Event struct {
	ID        string
	Kind      EventKind
	Severity  Severity
	Source    string // originating device id
	LineID    string
	Timestamp time.Time
	Payload   map[string]any
}
