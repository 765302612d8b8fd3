package model

import "time"

// DeviceKind identifies the class of a factory device.
type DeviceKind int

const (
	KindAGV DeviceKind = iota
	KindStation
	KindConveyor
	KindWarehouse
)

func (k DeviceKind) String() string {
	switch k {
	case KindAGV:
		return "agv"
	case KindStation:
		return "station"
	case KindConveyor:
		return "conveyor"
	case KindWarehouse:
		return "warehouse"
	}
	return "unknown"
}

// DeviceStatus is the kind-specific operating state reported by telemetry.
type DeviceStatus string

const (
	StatusIdle        DeviceStatus = "idle"
	StatusMoving      DeviceStatus = "moving"
	StatusInteracting DeviceStatus = "interacting"
	StatusCharging    DeviceStatus = "charging"
	StatusProcessing  DeviceStatus = "processing"
	StatusWorking     DeviceStatus = "working"
	StatusBlocked     DeviceStatus = "blocked"
	StatusFault       DeviceStatus = "fault"
)

// Device is the canonical state of one factory device on a line.
// Devices are created from the static topology and mutated only by ingest.
type Device struct {
	ID         string
	LineID     string
	Kind       DeviceKind
	Status     DeviceStatus
	Position   string   // current waypoint, AGVs only
	BatteryPct float64  // 0-100, AGVs only
	Payload    []string // product ids carried or buffered

	// Conveyor_CQ exposes two independently addressable buffers with
	// asymmetric AGV access rights.
	UpperBuffer []string
	LowerBuffer []string

	// OutputBuffer holds finished products at the quality check station.
	OutputBuffer []string

	Stale      bool
	LastSeen   time.Time
	ReportedAt time.Time // telemetry timestamp of the applied update
}

// Carrying returns true if the device holds at least one product.
func (d Device) Carrying() bool { return len(d.Payload) > 0 }

// Eligible returns true if the device may be targeted by a new command.
// Stale and faulted devices are excluded until they report again.
func (d Device) Eligible() bool {
	return !d.Stale && d.Status != StatusFault
}

// Clone returns a deep copy so snapshot readers never alias store memory.
func (d Device) Clone() Device {
	c := d
	c.Payload = append([]string(nil), d.Payload...)
	c.UpperBuffer = append([]string(nil), d.UpperBuffer...)
	c.LowerBuffer = append([]string(nil), d.LowerBuffer...)
	c.OutputBuffer = append([]string(nil), d.OutputBuffer...)
	return c
}
