package model

import (
	"testing"
	"time"
)

func TestTypeFromID(t *testing.T) {
	cases := map[string]ProductType{
		"prod_1_75a16c3d": ProductP1,
		"prod_2_00ff00aa": ProductP2,
		"prod_3_deadbeef": ProductP3,
		"garbage":         ProductP1,
		"":                ProductP1,
	}
	for id, want := range cases {
		if got := TypeFromID(id); got != want {
			t.Errorf("%q: got %s want %s", id, got, want)
		}
	}
	if ProductP3.Digit() != "3" {
		t.Errorf("digit tag: %s", ProductP3.Digit())
	}
}

func TestDoublePass(t *testing.T) {
	if (Product{Type: ProductP1}).DoublePass() || (Product{Type: ProductP2}).DoublePass() {
		t.Errorf("single-pass types flagged for double pass")
	}
	if !(Product{Type: ProductP3}).DoublePass() {
		t.Errorf("P3 must require the double pass")
	}
}

func TestPointForDevice(t *testing.T) {
	cases := map[string]string{
		DeviceRawMaterial:  PointRawMaterial,
		DeviceConveyorCQ:   PointConveyorCQ,
		DeviceWarehouse:    PointWarehouse,
		"unknown":          "",
	}
	for dev, want := range cases {
		if got := PointForDevice(dev); got != want {
			t.Errorf("%s: got %q want %q", dev, got, want)
		}
	}
	for _, p := range []string{PointRawMaterial, PointQualityIn, PointWarehouse} {
		if !ValidPoint(p) {
			t.Errorf("%s must be a valid point", p)
		}
	}
	if ValidPoint("P10") {
		t.Errorf("P10 is not a waypoint")
	}
}

func TestCommandParamHelpers(t *testing.T) {
	cmd := Command{Params: map[string]any{"target_point": "P4", "product_id": "prod_2_x"}}
	if cmd.TargetPoint() != "P4" || cmd.ProductID() != "prod_2_x" {
		t.Fatalf("param helpers: %q %q", cmd.TargetPoint(), cmd.ProductID())
	}
	empty := Command{Params: map[string]any{"target_point": 7}}
	if empty.TargetPoint() != "" || empty.ProductID() != "" {
		t.Fatalf("mistyped params must read as empty")
	}
}

func TestDeviceCloneIsDeep(t *testing.T) {
	d := Device{ID: "AGV_1", Payload: []string{"a"}, UpperBuffer: []string{"b"}}
	c := d.Clone()
	c.Payload[0] = "mutated"
	if d.Payload[0] != "a" {
		t.Fatalf("clone shares payload memory")
	}
}

func TestDeviceEligible(t *testing.T) {
	if !(Device{Status: StatusIdle}).Eligible() {
		t.Errorf("idle device must be eligible")
	}
	if (Device{Status: StatusFault}).Eligible() {
		t.Errorf("faulted device must not be eligible")
	}
	if (Device{Status: StatusIdle, Stale: true}).Eligible() {
		t.Errorf("stale device must not be eligible")
	}
}

func TestOrderUnitsAndExpiry(t *testing.T) {
	o := Order{Items: []OrderItem{{ProductType: ProductP1, Quantity: 2}, {ProductType: ProductP3, Quantity: 1}}}
	if o.Units() != 3 {
		t.Fatalf("units: %d", o.Units())
	}
	now := time.Now()
	if o.Expired(now) {
		t.Errorf("order without deadline never expires")
	}
	o.Deadline = now.Add(-time.Second)
	if !o.Expired(now) {
		t.Errorf("past deadline must expire")
	}
}

func TestParsePriority(t *testing.T) {
	if ParsePriority("critical") != PriorityCritical || ParsePriority("low") != PriorityLow {
		t.Errorf("known priorities misparsed")
	}
	if ParsePriority("urgent-ish") != PriorityMedium {
		t.Errorf("unknown priority must default to medium")
	}
}
