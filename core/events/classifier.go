package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/state"
)

// Battery thresholds from the line operating rules.
const (
	batteryCriticalPct = 20.0
	batteryLowPct      = 40.0
)

// conveyorCongestedLen is the buffer occupancy at which a transfer conveyor
// counts as congested.
const conveyorCongestedLen = 3

// ClassifyContext carries line-level facts the severity table depends on
// beyond the two snapshots.
type ClassifyContext struct {
	// BacklogAdmitted is true when the line currently holds admitted but
	// incomplete orders.
	BacklogAdmitted bool
}

// Classify derives severity-tagged events from the transition between two
// snapshots of the same line. It is a pure function: one pass per device,
// first matching severity rule wins. Deltas that do not change actionable
// eligibility (movement progress, sub-step processing) emit nothing, which is
// what suppresses re-emission under repeated polling.
func Classify(prev, next state.Snapshot, ctx ClassifyContext) []model.Event {
	var out []model.Event
	for id, dev := range next.Devices {
		before, known := prev.Devices[id]
		if known && !actionableDelta(before, dev) {
			continue
		}
		if ev, ok := classifyDevice(before, dev, known, ctx); ok {
			ev.ID = uuid.NewString()
			ev.LineID = next.LineID
			ev.Timestamp = next.At
			out = append(out, ev)
		}
	}
	return out
}

// classifyDevice applies the severity table to one device transition.
func classifyDevice(prev, dev model.Device, known bool, ctx ClassifyContext) (model.Event, bool) {
	switch {
	case dev.Kind == model.KindAGV && dev.BatteryPct < batteryCriticalPct && dev.Status != model.StatusCharging:
		return event(model.EventBatteryCritical, model.SeverityCritical, dev, map[string]any{
			"battery_pct": dev.BatteryPct,
			"position":    dev.Position,
		}), true
	case dev.Kind == model.KindAGV && dev.Status == model.StatusIdle && dev.Carrying():
		return event(model.EventLoadedIdle, model.SeverityHigh, dev, map[string]any{
			"payload":  append([]string(nil), dev.Payload...),
			"position": dev.Position,
		}), true
	case dev.ID == model.DeviceQualityCheck && len(dev.OutputBuffer) > 0:
		return event(model.EventFinishedReady, model.SeverityHigh, dev, map[string]any{
			"products": append([]string(nil), dev.OutputBuffer...),
		}), true
	case dev.Kind == model.KindConveyor && secondPassWaiting(dev):
		return event(model.EventSecondPassWait, model.SeverityHigh, dev, map[string]any{
			"upper_buffer": append([]string(nil), dev.UpperBuffer...),
			"lower_buffer": append([]string(nil), dev.LowerBuffer...),
		}), true
	case dev.ID == model.DeviceRawMaterial && len(dev.Payload) > 0 && !ctx.BacklogAdmitted:
		return event(model.EventRawAvailable, model.SeverityHigh, dev, map[string]any{
			"products": append([]string(nil), dev.Payload...),
		}), true
	case dev.Kind == model.KindAGV && dev.BatteryPct < batteryLowPct && dev.Status == model.StatusIdle:
		return event(model.EventBatteryLow, model.SeverityMedium, dev, map[string]any{
			"battery_pct": dev.BatteryPct,
		}), true
	case dev.Status == model.StatusFault || dev.Status == model.StatusBlocked:
		return event(model.EventDeviceFault, model.SeverityCritical, dev, map[string]any{
			"status": string(dev.Status),
		}), true
	case dev.Kind == model.KindConveyor && queuedProducts(dev) >= conveyorCongestedLen:
		return event(model.EventConveyorCongested, model.SeverityMedium, dev, map[string]any{
			"queued": queuedProducts(dev),
		}), true
	case known && dev.Status != prev.Status:
		return event(model.EventStatusDelta, model.SeverityLow, dev, map[string]any{
			"from": string(prev.Status),
			"to":   string(dev.Status),
		}), true
	}
	return model.Event{}, false
}

// Alert types that warrant interrupting planned work.
var alertSeverities = map[string]model.Severity{
	"device_fault":    model.SeverityCritical,
	"emergency_stop":  model.SeverityCritical,
	"fire_alarm":      model.SeverityCritical,
	"buffer_full":     model.SeverityHigh,
	"agv_battery_low": model.SeverityHigh,
}

// ClassifyAlert turns a device alert broadcast into a queued event. Alert
// types outside the known set are log-only and return false.
func ClassifyAlert(lineID string, alert model.Alert) (model.Event, bool) {
	sev, ok := alertSeverities[alert.AlertType]
	if !ok {
		return model.Event{}, false
	}
	return model.Event{
		ID:        uuid.NewString(),
		Kind:      model.EventDeviceAlert,
		Severity:  sev,
		Source:    alert.DeviceID,
		LineID:    lineID,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"alert_type": alert.AlertType,
			"detail":     alert.Detail,
		},
	}, true
}

func event(kind model.EventKind, sev model.Severity, dev model.Device, payload map[string]any) model.Event {
	return model.Event{Kind: kind, Severity: sev, Source: dev.ID, Payload: payload}
}

// secondPassWaiting reports whether a conveyor buffer holds a product that
// still needs its second pass through stations B and C.
func secondPassWaiting(dev model.Device) bool {
	for _, id := range dev.UpperBuffer {
		if model.TypeFromID(id) == model.ProductP3 {
			return true
		}
	}
	for _, id := range dev.LowerBuffer {
		if model.TypeFromID(id) == model.ProductP3 {
			return true
		}
	}
	return false
}

// queuedProducts counts every product sitting on a conveyor across its
// buffers.
func queuedProducts(dev model.Device) int {
	return len(dev.Payload) + len(dev.UpperBuffer) + len(dev.LowerBuffer)
}

// actionableDelta reports whether the transition changes anything the
// scheduler could act on. Pure movement progress and in-station processing
// sub-steps do not.
func actionableDelta(prev, next model.Device) bool {
	if prev.Status != next.Status {
		return true
	}
	if !equalStrings(prev.Payload, next.Payload) ||
		!equalStrings(prev.UpperBuffer, next.UpperBuffer) ||
		!equalStrings(prev.LowerBuffer, next.LowerBuffer) ||
		!equalStrings(prev.OutputBuffer, next.OutputBuffer) {
		return true
	}
	if crossedDown(prev.BatteryPct, next.BatteryPct, batteryCriticalPct) ||
		crossedDown(prev.BatteryPct, next.BatteryPct, batteryLowPct) {
		return true
	}
	if prev.Stale != next.Stale {
		return true
	}
	return false
}

func crossedDown(before, after, threshold float64) bool {
	return before >= threshold && after < threshold
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
