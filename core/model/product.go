package model

import "strings"

// ProductType distinguishes the routing variant of a product.
type ProductType string

const (
	ProductP1 ProductType = "P1"
	ProductP2 ProductType = "P2"
	ProductP3 ProductType = "P3"
)

// Stage is a step in the product routing state machine. Stages only advance
// forward; P3 products visit the second-pass stages exactly once.
type Stage int

const (
	StageCreated Stage = iota
	StageAtRawMaterial
	StageAtStationA
	StageInAutoTransit1
	StageAtStationCBuffer
	StageAtStationBSecondPass
	StageInAutoTransit2
	StageAtQualityCheck
	StageDelivered
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageAtRawMaterial:
		return "at_raw_material"
	case StageAtStationA:
		return "at_station_a"
	case StageInAutoTransit1:
		return "in_auto_transit_1"
	case StageAtStationCBuffer:
		return "at_station_c_buffer"
	case StageAtStationBSecondPass:
		return "at_station_b_second_pass"
	case StageInAutoTransit2:
		return "in_auto_transit_2"
	case StageAtQualityCheck:
		return "at_quality_check"
	case StageDelivered:
		return "delivered"
	}
	return "unknown"
}

// Product tracks one unit of material through the line. The type is immutable;
// stage and location change with observed telemetry.
type Product struct {
	ID       string
	Type     ProductType
	Stage    Stage
	Location string
	OrderID  string
}

// TypeFromID extracts the product type tag from ids of the form
// "prod_3_75a16c3d". Unknown tags default to P1.
func TypeFromID(id string) ProductType {
	parts := strings.Split(id, "_")
	if len(parts) >= 2 {
		switch parts[1] {
		case "2":
			return ProductP2
		case "3":
			return ProductP3
		}
	}
	return ProductP1
}

// Digit returns the type tag embedded in product ids ("prod_<digit>_...").
// Inverse of TypeFromID.
func (t ProductType) Digit() string { return strings.TrimPrefix(string(t), "P") }

// DoublePass reports whether the product requires the second pass through
// stations B and C before quality check.
func (p Product) DoublePass() bool { return p.Type == ProductP3 }
