package flow

import (
	"fmt"
	"sync"

	"github.com/flowline/flowline/core/logger"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/state"
)

// LineConfig describes the transport units of one line and which of them may
// access the upper conveyor buffer.
type LineConfig struct {
	AGVs           []string `json:"agvs"`
	UpperBufferAGV string   `json:"upper_buffer_agv"`
}

// Action is the next transport step a product requires from an AGV.
type Action struct {
	ProductID string
	Pickup    string // waypoint
	Dropoff   string // waypoint
	// EligibleAGVs lists the units allowed to perform the pickup. For P3
	// products waiting in the conveyor CQ buffer this is exactly the
	// upper-buffer-capable unit.
	EligibleAGVs []string
}

// StageChange records one observed stage advance.
type StageChange struct {
	ProductID string
	From      model.Stage
	To        model.Stage
	Location  string
}

// Tracker maintains a per-product routing state machine. It is strictly
// observational: telemetry drives every transition, commands never do.
// It also answers eligibility questions and authorizes proposed commands
// against the buffer-access rules before dispatch.
type Tracker struct {
	mu    sync.Mutex
	lines map[string]*lineFlow
	log   logger.Logger
}

type lineFlow struct {
	cfg      LineConfig
	products map[string]*model.Product
}

// NewTracker creates a Tracker for the configured lines.
func NewTracker(lines map[string]LineConfig, log logger.Logger) *Tracker {
	t := &Tracker{lines: make(map[string]*lineFlow), log: log}
	for id, cfg := range lines {
		t.lines[id] = &lineFlow{cfg: cfg, products: make(map[string]*model.Product)}
	}
	return t
}

// chain returns the ordered stage sequence for a product type. P3 visits the
// second-pass stages exactly once; P1/P2 skip them.
func chain(t model.ProductType) []model.Stage {
	if t == model.ProductP3 {
		return []model.Stage{
			model.StageCreated, model.StageAtRawMaterial, model.StageAtStationA,
			model.StageInAutoTransit1, model.StageAtStationCBuffer,
			model.StageAtStationBSecondPass, model.StageInAutoTransit2,
			model.StageAtQualityCheck, model.StageDelivered,
		}
	}
	return []model.Stage{
		model.StageCreated, model.StageAtRawMaterial, model.StageAtStationA,
		model.StageInAutoTransit1, model.StageAtQualityCheck, model.StageDelivered,
	}
}

func chainIndex(t model.ProductType, s model.Stage) int {
	for i, st := range chain(t) {
		if st == s {
			return i
		}
	}
	return -1
}

// Observe updates product stages from one line snapshot and returns the
// resulting stage changes. Observations implying a backwards move are ignored:
// stages only advance along the product's chain.
func (t *Tracker) Observe(snap state.Snapshot) []StageChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	lf := t.lines[snap.LineID]
	if lf == nil {
		return nil
	}
	var changes []StageChange
	for _, dev := range snap.Devices {
		for _, obs := range observations(dev) {
			if ch, ok := lf.advance(obs, t.log); ok {
				changes = append(changes, ch)
			}
		}
	}
	return changes
}

type observation struct {
	productID string
	stage     model.Stage
	location  string
	transport bool // product seen on an AGV, location update only
	// exact marks sightings at locations visited on both passes (stations B
	// and C, the transfer conveyors). Those only advance the stage by one
	// step; unambiguous locations may jump forward over telemetry gaps.
	exact bool
}

// observations derives product sightings from one device record.
func observations(dev model.Device) []observation {
	var out []observation
	switch {
	case dev.Kind == model.KindAGV:
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, location: dev.ID, transport: true})
		}
	case dev.ID == model.DeviceRawMaterial:
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, stage: model.StageAtRawMaterial, location: dev.ID})
		}
	case dev.ID == model.DeviceStationA:
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, stage: model.StageAtStationA, location: dev.ID})
		}
	case dev.ID == model.DeviceStationB:
		// StationB is visited on both passes. advance() takes whichever
		// candidate is the product's immediate next step.
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, stage: model.StageInAutoTransit1, location: dev.ID, exact: true})
			if model.TypeFromID(id) == model.ProductP3 {
				out = append(out, observation{productID: id, stage: model.StageAtStationBSecondPass, location: dev.ID, exact: true})
			}
		}
	case dev.ID == model.DeviceStationC, dev.ID == model.DeviceConveyorAB, dev.ID == model.DeviceConveyorBC:
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, stage: model.StageInAutoTransit1, location: dev.ID, exact: true})
			if model.TypeFromID(id) == model.ProductP3 {
				out = append(out, observation{productID: id, stage: model.StageInAutoTransit2, location: dev.ID, exact: true})
			}
		}
	case dev.ID == model.DeviceConveyorCQ:
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, stage: model.StageInAutoTransit1, location: dev.ID, exact: true})
			if model.TypeFromID(id) == model.ProductP3 {
				out = append(out, observation{productID: id, stage: model.StageInAutoTransit2, location: dev.ID, exact: true})
			}
		}
		for _, id := range append(append([]string(nil), dev.UpperBuffer...), dev.LowerBuffer...) {
			out = append(out, observation{productID: id, stage: model.StageAtStationCBuffer, location: dev.ID})
		}
	case dev.ID == model.DeviceQualityCheck:
		for _, id := range append(append([]string(nil), dev.Payload...), dev.OutputBuffer...) {
			out = append(out, observation{productID: id, stage: model.StageAtQualityCheck, location: dev.ID})
		}
	case dev.ID == model.DeviceWarehouse:
		for _, id := range dev.Payload {
			out = append(out, observation{productID: id, stage: model.StageDelivered, location: dev.ID})
		}
	}
	return out
}

// advance applies one observation to the product state machine.
func (lf *lineFlow) advance(obs observation, log logger.Logger) (StageChange, bool) {
	p, ok := lf.products[obs.productID]
	if !ok {
		p = &model.Product{
			ID:       obs.productID,
			Type:     model.TypeFromID(obs.productID),
			Stage:    model.StageCreated,
			Location: obs.location,
		}
		lf.products[obs.productID] = p
	}
	if obs.transport {
		p.Location = obs.location
		return StageChange{}, false
	}
	cur := chainIndex(p.Type, p.Stage)
	next := chainIndex(p.Type, obs.stage)
	if next < 0 || next <= cur {
		// Stale or repeated sighting; stages never move backwards.
		return StageChange{}, false
	}
	if obs.exact && next != cur+1 {
		return StageChange{}, false
	}
	ch := StageChange{ProductID: p.ID, From: p.Stage, To: obs.stage, Location: obs.location}
	if log != nil {
		log.Debugw("product stage advance", map[string]any{
			"product": p.ID, "from": ch.From.String(), "to": ch.To.String(), "at": obs.location,
		})
	}
	p.Stage = obs.stage
	p.Location = obs.location
	return ch, true
}

// Product returns a copy of the tracked product.
func (t *Tracker) Product(lineID, productID string) (model.Product, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lf := t.lines[lineID]
	if lf == nil {
		return model.Product{}, false
	}
	p, ok := lf.products[productID]
	if !ok {
		return model.Product{}, false
	}
	return *p, true
}

// Products returns copies of all tracked products of a line.
func (t *Tracker) Products(lineID string) []model.Product {
	t.mu.Lock()
	defer t.mu.Unlock()
	lf := t.lines[lineID]
	if lf == nil {
		return nil
	}
	out := make([]model.Product, 0, len(lf.products))
	for _, p := range lf.products {
		out = append(out, *p)
	}
	return out
}

// NextRequiredAction returns the transport step the product is waiting for,
// or false when the product needs no AGV right now.
func (t *Tracker) NextRequiredAction(lineID, productID string) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lf := t.lines[lineID]
	if lf == nil {
		return Action{}, false
	}
	p, ok := lf.products[productID]
	if !ok {
		return Action{}, false
	}
	switch p.Stage {
	case model.StageAtRawMaterial:
		return Action{
			ProductID:    p.ID,
			Pickup:       model.PointRawMaterial,
			Dropoff:      model.PointStationA,
			EligibleAGVs: append([]string(nil), lf.cfg.AGVs...),
		}, true
	case model.StageAtStationCBuffer:
		// Second-pass pickup comes from the upper buffer; only the capable
		// unit may load there.
		return Action{
			ProductID:    p.ID,
			Pickup:       model.PointConveyorCQ,
			Dropoff:      model.PointStationB,
			EligibleAGVs: []string{lf.cfg.UpperBufferAGV},
		}, true
	case model.StageAtQualityCheck:
		return Action{
			ProductID:    p.ID,
			Pickup:       model.PointQualityCheck,
			Dropoff:      model.PointWarehouse,
			EligibleAGVs: append([]string(nil), lf.cfg.AGVs...),
		}, true
	}
	return Action{}, false
}

// Authorize rejects commands that would violate routing or buffer-access
// rules. The check runs before dispatch, not after.
func (t *Tracker) Authorize(cmd model.Command, snap state.Snapshot) error {
	if cmd.Action != model.ActionLoad {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	lf := t.lines[cmd.LineID]
	if lf == nil {
		return fmt.Errorf("%w: line %s", ErrUnknownLine, cmd.LineID)
	}
	agv, ok := snap.Devices[cmd.Target]
	if !ok || agv.Kind != model.KindAGV {
		return fmt.Errorf("%w: %s", ErrNotEligible, cmd.Target)
	}
	cq, _ := snap.Devices[model.DeviceConveyorCQ]
	atCQ := agv.Position == model.PointConveyorCQ
	if pid := cmd.ProductID(); pid != "" {
		if p, tracked := lf.products[pid]; tracked {
			if p.Stage == model.StageAtStationCBuffer && cmd.Target != lf.cfg.UpperBufferAGV && contains(cq.UpperBuffer, pid) {
				return fmt.Errorf("%w: %s may not load %s from the upper buffer", ErrBufferAccess, cmd.Target, pid)
			}
			if act, need := t.nextActionLocked(lf, pid); need && !contains(act.EligibleAGVs, cmd.Target) {
				return fmt.Errorf("%w: %s not in eligible set for %s", ErrNotEligible, cmd.Target, pid)
			}
		}
	} else if atCQ && cmd.Target != lf.cfg.UpperBufferAGV && len(cq.UpperBuffer) > 0 && len(cq.LowerBuffer) == 0 {
		// Unqualified load at the conveyor with only upper-buffer stock can
		// only mean an upper-buffer access by the wrong unit.
		return fmt.Errorf("%w: %s has no lower-buffer stock to load", ErrBufferAccess, cmd.Target)
	}
	return nil
}

// nextActionLocked mirrors NextRequiredAction for callers already holding the
// tracker lock.
func (t *Tracker) nextActionLocked(lf *lineFlow, productID string) (Action, bool) {
	p, ok := lf.products[productID]
	if !ok {
		return Action{}, false
	}
	switch p.Stage {
	case model.StageAtRawMaterial:
		return Action{ProductID: p.ID, Pickup: model.PointRawMaterial, Dropoff: model.PointStationA,
			EligibleAGVs: append([]string(nil), lf.cfg.AGVs...)}, true
	case model.StageAtStationCBuffer:
		return Action{ProductID: p.ID, Pickup: model.PointConveyorCQ, Dropoff: model.PointStationB,
			EligibleAGVs: []string{lf.cfg.UpperBufferAGV}}, true
	case model.StageAtQualityCheck:
		return Action{ProductID: p.ID, Pickup: model.PointQualityCheck, Dropoff: model.PointWarehouse,
			EligibleAGVs: append([]string(nil), lf.cfg.AGVs...)}, true
	}
	return Action{}, false
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
