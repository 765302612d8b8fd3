package policy

import (
	"context"
	"sort"

	"github.com/flowline/flowline/core/flow"
	"github.com/flowline/flowline/core/model"
)

// Battery rules from the line operating procedure.
const (
	chargeCriticalPct = 20.0
	chargePreventPct  = 40.0
)

// Heuristic is a deterministic rule policy covering the three AGV duties:
// raw-material pickup, second-pass transfer and finished-goods delivery, plus
// battery management. It proposes at most one command per AGV per cycle and
// serves as the default policy and as the reference implementation for tests.
type Heuristic struct{}

// Decide implements Policy.
func (Heuristic) Decide(_ context.Context, dec Decision) ([]model.Command, error) {
	agvs := make([]model.Device, 0, 2)
	for _, d := range dec.Snapshot.Devices {
		if d.Kind == model.KindAGV && d.Eligible() {
			agvs = append(agvs, d)
		}
	}
	sort.Slice(agvs, func(i, j int) bool { return agvs[i].ID < agvs[j].ID })

	actions := append([]flow.Action(nil), dec.Actions...)
	sort.Slice(actions, func(i, j int) bool {
		// Narrow-eligibility steps first so the capable unit is not spent on
		// work any AGV could do.
		if len(actions[i].EligibleAGVs) != len(actions[j].EligibleAGVs) {
			return len(actions[i].EligibleAGVs) < len(actions[j].EligibleAGVs)
		}
		return actions[i].ProductID < actions[j].ProductID
	})

	var cmds []model.Command
	taken := make(map[string]bool) // action product ids already assigned
	for _, agv := range agvs {
		for _, pid := range agv.Payload {
			taken[pid] = true
		}
	}
	for _, agv := range agvs {
		if agv.Status == model.StatusCharging {
			continue
		}
		if agv.BatteryPct < chargeCriticalPct {
			cmds = append(cmds, charge(dec.LineID, agv))
			continue
		}
		if cmd, ok := assign(dec.LineID, agv, actions, taken); ok {
			cmds = append(cmds, cmd)
			continue
		}
		if agv.BatteryPct < chargePreventPct && agv.Status == model.StatusIdle && !agv.Carrying() {
			cmds = append(cmds, charge(dec.LineID, agv))
		}
	}
	return cmds, nil
}

// assign finds the first unclaimed action the AGV is eligible for and emits
// the next step toward it: move, load, or unload.
func assign(lineID string, agv model.Device, actions []flow.Action, taken map[string]bool) (model.Command, bool) {
	if agv.Carrying() {
		// A loaded unit finishes its delivery before anything else.
		pid := agv.Payload[0]
		for _, act := range actions {
			if act.ProductID != pid {
				continue
			}
			if agv.Position == act.Dropoff {
				return command(lineID, agv.ID, model.ActionUnload, nil), true
			}
			return command(lineID, agv.ID, model.ActionMove, map[string]any{"target_point": act.Dropoff}), true
		}
		return model.Command{}, false
	}
	if agv.Status != model.StatusIdle {
		return model.Command{}, false
	}
	for _, act := range actions {
		if taken[act.ProductID] || !eligible(act, agv.ID) {
			continue
		}
		taken[act.ProductID] = true
		if agv.Position == act.Pickup {
			params := map[string]any{}
			if act.Pickup == model.PointRawMaterial {
				// Raw-material loads name the product; pickups elsewhere
				// auto-detect.
				params["product_id"] = act.ProductID
			}
			return command(lineID, agv.ID, model.ActionLoad, params), true
		}
		return command(lineID, agv.ID, model.ActionMove, map[string]any{"target_point": act.Pickup}), true
	}
	return model.Command{}, false
}

func eligible(act flow.Action, agvID string) bool {
	for _, id := range act.EligibleAGVs {
		if id == agvID {
			return true
		}
	}
	return false
}

func charge(lineID string, agv model.Device) model.Command {
	return command(lineID, agv.ID, model.ActionCharge, map[string]any{"target_level": model.DefaultChargeTarget})
}

func command(lineID, target string, action model.CommandAction, params map[string]any) model.Command {
	if params == nil {
		params = map[string]any{}
	}
	return model.Command{Action: action, Target: target, LineID: lineID, Params: params}
}
