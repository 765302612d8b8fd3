package model

// The ten named waypoints of a line, mapped 1:1 to physical locations.
const (
	PointRawMaterial  = "P0"
	PointStationA     = "P1"
	PointConveyorAB   = "P2"
	PointStationB     = "P3"
	PointConveyorBC   = "P4"
	PointStationC     = "P5"
	PointConveyorCQ   = "P6"
	PointQualityIn    = "P7"
	PointQualityCheck = "P8"
	PointWarehouse    = "P9"
)

// Well-known device ids within a line.
const (
	DeviceRawMaterial  = "RawMaterial"
	DeviceStationA     = "StationA"
	DeviceStationB     = "StationB"
	DeviceStationC     = "StationC"
	DeviceConveyorAB   = "Conveyor_AB"
	DeviceConveyorBC   = "Conveyor_BC"
	DeviceConveyorCQ   = "Conveyor_CQ"
	DeviceQualityCheck = "QualityCheck"
	DeviceWarehouse    = "Warehouse"
)

// ValidPoint reports whether p names one of the ten waypoints.
func ValidPoint(p string) bool {
	switch p {
	case PointRawMaterial, PointStationA, PointConveyorAB, PointStationB,
		PointConveyorBC, PointStationC, PointConveyorCQ, PointQualityIn,
		PointQualityCheck, PointWarehouse:
		return true
	}
	return false
}

// PointForDevice maps a well-known device id to its waypoint.
func PointForDevice(id string) string {
	switch id {
	case DeviceRawMaterial:
		return PointRawMaterial
	case DeviceStationA:
		return PointStationA
	case DeviceConveyorAB:
		return PointConveyorAB
	case DeviceStationB:
		return PointStationB
	case DeviceConveyorBC:
		return PointConveyorBC
	case DeviceStationC:
		return PointStationC
	case DeviceConveyorCQ:
		return PointConveyorCQ
	case DeviceQualityCheck:
		return PointQualityCheck
	case DeviceWarehouse:
		return PointWarehouse
	}
	return ""
}
