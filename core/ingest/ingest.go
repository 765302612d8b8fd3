package ingest

import (
	"encoding/json"
	"math"
	"time"

	"github.com/flowline/flowline/core/logger"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/state"
)

// DeviceClass names the telemetry stream a payload arrived on.
type DeviceClass string

const (
	ClassAGV       DeviceClass = "agv"
	ClassStation   DeviceClass = "station"
	ClassConveyor  DeviceClass = "conveyor"
	ClassWarehouse DeviceClass = "warehouse"
)

// Ingestor normalizes heterogeneous device-status payloads into typed state
// mutations. Malformed payloads are dropped and counted, never fatal. Ingest
// runs as one ordered stream per line so the store's timestamp-ordering rule
// holds; cross-line ingest is independent.
type Ingestor struct {
	store *state.Store
	log   logger.Logger

	// Applied is invoked after each committed mutation with the line id.
	// The pipeline uses it to trigger classification.
	Applied func(lineID string)
}

// New creates an Ingestor writing to the given store.
func New(store *state.Store, log logger.Logger) *Ingestor {
	return &Ingestor{store: store, log: log}
}

type agvStatus struct {
	Status       string   `json:"status"`
	CurrentPoint string   `json:"current_point"`
	BatteryLevel *float64 `json:"battery_level"`
	Payload      []string `json:"payload"`
	Timestamp    float64  `json:"timestamp"`
}

type stationStatus struct {
	Status       string   `json:"status"`
	Buffer       []string `json:"buffer"`
	OutputBuffer []string `json:"output_buffer"`
	Timestamp    float64  `json:"timestamp"`
}

type conveyorStatus struct {
	Status      string   `json:"status"`
	Buffer      []string `json:"buffer"`
	UpperBuffer []string `json:"upper_buffer"`
	LowerBuffer []string `json:"lower_buffer"`
	Timestamp   float64  `json:"timestamp"`
}

type warehouseStatus struct {
	Buffer    []string `json:"buffer"`
	Timestamp float64  `json:"timestamp"`
}

// Handle normalizes one payload from the given stream and applies it.
// Unknown classes and malformed JSON are dropped and counted.
func (i *Ingestor) Handle(class DeviceClass, lineID, deviceID string, payload []byte) {
	mut, err := i.normalize(class, lineID, deviceID, payload)
	if err != nil {
		telemetryDropped.WithLabelValues(string(class)).Inc()
		i.log.Warnf("dropping malformed %s telemetry from %s: %v", class, deviceID, err)
		return
	}
	if !i.store.Apply(mut) {
		telemetryDiscarded.WithLabelValues(string(class)).Inc()
		i.log.Debugw("telemetry discarded", map[string]any{
			"device": deviceID, "line": lineID, "class": string(class),
		})
		return
	}
	telemetryApplied.WithLabelValues(string(class)).Inc()
	if i.Applied != nil {
		i.Applied(lineID)
	}
}

func (i *Ingestor) normalize(class DeviceClass, lineID, deviceID string, payload []byte) (state.Mutation, error) {
	mut := state.Mutation{LineID: lineID, DeviceID: deviceID}
	switch class {
	case ClassAGV:
		var st agvStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return mut, err
		}
		mut.Kind = model.KindAGV
		mut.Timestamp = fromEpoch(st.Timestamp)
		if st.Status != "" {
			s := model.DeviceStatus(st.Status)
			mut.Status = &s
		}
		if st.CurrentPoint != "" {
			mut.Position = &st.CurrentPoint
		}
		if st.BatteryLevel != nil {
			mut.BatteryPct = st.BatteryLevel
		}
		if st.Payload != nil {
			mut.Payload = st.Payload
		} else {
			mut.Payload = []string{}
		}
	case ClassStation:
		var st stationStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return mut, err
		}
		mut.Kind = model.KindStation
		mut.Timestamp = fromEpoch(st.Timestamp)
		if st.Status != "" {
			s := model.DeviceStatus(st.Status)
			mut.Status = &s
		}
		mut.Payload = orEmpty(st.Buffer)
		mut.OutputBuffer = orEmpty(st.OutputBuffer)
	case ClassConveyor:
		var st conveyorStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return mut, err
		}
		mut.Kind = model.KindConveyor
		mut.Timestamp = fromEpoch(st.Timestamp)
		if st.Status != "" {
			s := model.DeviceStatus(st.Status)
			mut.Status = &s
		}
		mut.Payload = orEmpty(st.Buffer)
		mut.UpperBuffer = orEmpty(st.UpperBuffer)
		mut.LowerBuffer = orEmpty(st.LowerBuffer)
	case ClassWarehouse:
		var st warehouseStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return mut, err
		}
		mut.Kind = model.KindWarehouse
		mut.Timestamp = fromEpoch(st.Timestamp)
		mut.Payload = orEmpty(st.Buffer)
	default:
		return mut, errUnknownClass
	}
	if mut.Timestamp.IsZero() {
		mut.Timestamp = time.Now()
	}
	return mut, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// fromEpoch converts a float epoch-seconds timestamp. Zero stays zero so the
// caller can substitute arrival time.
func fromEpoch(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}
