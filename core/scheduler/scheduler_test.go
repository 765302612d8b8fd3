package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowline/flowline/core/dispatch"
	"github.com/flowline/flowline/core/events"
	"github.com/flowline/flowline/core/flow"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/orders"
	"github.com/flowline/flowline/core/policy"
	"github.com/flowline/flowline/core/state"
	"github.com/flowline/flowline/infra/logger"
	"github.com/flowline/flowline/infra/mqtt"
)

type testRig struct {
	sched   *Scheduler
	store   *state.Store
	tracker *flow.Tracker
	orders  *orders.Manager
	queue   *events.Queue
	pub     *mqtt.MockPublisher
	disp    *dispatch.Dispatcher
}

func newTestRig(pol policy.Policy) *testRig {
	store := state.NewStore(0)
	store.Register(model.Device{ID: "AGV_1", LineID: "line1", Kind: model.KindAGV, Status: model.StatusIdle, BatteryPct: 90, Position: "P5"})
	store.Register(model.Device{ID: "AGV_2", LineID: "line1", Kind: model.KindAGV, Status: model.StatusIdle, BatteryPct: 90, Position: "P5"})
	store.Register(model.Device{ID: model.DeviceRawMaterial, LineID: "line1", Kind: model.KindWarehouse})
	store.Register(model.Device{ID: model.DeviceStationA, LineID: "line1", Kind: model.KindStation, Status: model.StatusIdle})
	store.Register(model.Device{ID: model.DeviceStationB, LineID: "line1", Kind: model.KindStation, Status: model.StatusIdle})
	store.Register(model.Device{ID: model.DeviceConveyorAB, LineID: "line1", Kind: model.KindConveyor, Status: model.StatusWorking})
	store.Register(model.Device{ID: model.DeviceConveyorBC, LineID: "line1", Kind: model.KindConveyor, Status: model.StatusWorking})
	store.Register(model.Device{ID: model.DeviceConveyorCQ, LineID: "line1", Kind: model.KindConveyor, Status: model.StatusWorking})
	store.Register(model.Device{ID: model.DeviceQualityCheck, LineID: "line1", Kind: model.KindStation, Status: model.StatusIdle})
	store.Register(model.Device{ID: model.DeviceWarehouse, LineID: "line1", Kind: model.KindWarehouse})

	tracker := flow.NewTracker(map[string]flow.LineConfig{
		"line1": {AGVs: []string{"AGV_1", "AGV_2"}, UpperBufferAGV: "AGV_2"},
	}, logger.NopLogger{})
	om := orders.NewManager(2, logger.NopLogger{})
	queue := events.NewQueue()
	pub := mqtt.NewMockPublisher()
	disp := dispatch.New("line1", pub, dispatch.NewLeaseRegistry(), queue, dispatch.Config{BackoffMS: 1}, logger.NopLogger{})
	cfg := Config{PlanningIntervalSeconds: 1, ReactiveLatencySeconds: 1, PolicyTimeoutSeconds: 1}
	sched := New("line1", store, tracker, om, queue, pol, disp, cfg, logger.NopLogger{})
	return &testRig{sched: sched, store: store, tracker: tracker, orders: om, queue: queue, pub: pub, disp: disp}
}

func waitForCommands(t *testing.T, pub *mqtt.MockPublisher, n int) []model.Command {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cmds := pub.Commands(); len(cmds) >= n {
			return cmds
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d published commands, got %d", n, len(pub.Commands()))
	return nil
}

func moveProposal(target string) model.Command {
	return model.Command{Action: model.ActionMove, Target: target, Params: map[string]any{"target_point": "P0"}}
}

func TestPlanningCycleAdmitsAndDispatches(t *testing.T) {
	var seen policy.Decision
	pol := policy.Func(func(_ context.Context, dec policy.Decision) ([]model.Command, error) {
		seen = dec
		return []model.Command{moveProposal("AGV_1")}, nil
	})
	rig := newTestRig(pol)
	rig.orders.Submit(orders.Message{OrderID: "order_1", Items: []model.OrderItem{{ProductType: model.ProductP1, Quantity: 1}}, Priority: "high"})

	rig.sched.PlanningCycle(context.Background())

	cmds := waitForCommands(t, rig.pub, 1)
	if cmds[0].Target != "AGV_1" || cmds[0].Action != model.ActionMove {
		t.Fatalf("unexpected command: %+v", cmds[0])
	}
	if cmds[0].LineID != "line1" {
		t.Fatalf("command must carry the line id: %+v", cmds[0])
	}
	if len(seen.AdmittedOrders) != 1 || seen.AdmittedOrders[0].ID != "order_1" {
		t.Fatalf("policy must see the admitted backlog: %+v", seen.AdmittedOrders)
	}
	if len(seen.Snapshot.AGVs()) != 2 {
		t.Fatalf("policy must see the line snapshot")
	}
}

func TestPlanningCyclePolicyErrorDispatchesNothing(t *testing.T) {
	pol := policy.Func(func(context.Context, policy.Decision) ([]model.Command, error) {
		return nil, errors.New("solver offline")
	})
	rig := newTestRig(pol)
	rig.sched.PlanningCycle(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := rig.pub.Commands(); len(got) != 0 {
		t.Fatalf("failed policy must end the cycle with zero commands, got %+v", got)
	}
}

func TestPlanningCycleLeavesUrgentEventsForReactive(t *testing.T) {
	var seen []model.Event
	pol := policy.Func(func(_ context.Context, dec policy.Decision) ([]model.Command, error) {
		seen = dec.Events
		return nil, nil
	})
	rig := newTestRig(pol)
	rig.queue.Push(model.Event{ID: "routine", Severity: model.SeverityLow, Source: "StationA"})
	rig.queue.Push(model.Event{ID: "urgent", Severity: model.SeverityCritical, Source: "AGV_1"})

	rig.sched.PlanningCycle(context.Background())

	if len(seen) != 1 || seen[0].ID != "routine" {
		t.Fatalf("planning must drain only routine events, saw %+v", seen)
	}
	if rig.queue.Len() != 1 {
		t.Fatalf("urgent event must remain queued for the reactive pass")
	}
}

func TestReactiveCycleAnswersUrgentEvents(t *testing.T) {
	var seen []model.Event
	pol := policy.Func(func(_ context.Context, dec policy.Decision) ([]model.Command, error) {
		seen = dec.Events
		return []model.Command{{Action: model.ActionCharge, Target: "AGV_1", Params: map[string]any{"target_level": model.DefaultChargeTarget}}}, nil
	})
	rig := newTestRig(pol)
	rig.queue.Push(model.Event{ID: "ev-1", Kind: model.EventBatteryCritical, Severity: model.SeverityCritical, Source: "AGV_1"})

	rig.sched.ReactiveCycle(context.Background())

	cmds := waitForCommands(t, rig.pub, 1)
	if cmds[0].Action != model.ActionCharge || cmds[0].Target != "AGV_1" {
		t.Fatalf("unexpected reactive command: %+v", cmds[0])
	}
	if len(seen) != 1 || seen[0].ID != "ev-1" {
		t.Fatalf("policy must see the triggering events: %+v", seen)
	}
}

func TestReactiveCycleWithoutEventsSkipsPolicy(t *testing.T) {
	called := false
	pol := policy.Func(func(context.Context, policy.Decision) ([]model.Command, error) {
		called = true
		return nil, nil
	})
	rig := newTestRig(pol)
	rig.sched.ReactiveCycle(context.Background())
	if called {
		t.Fatalf("empty queue must not invoke the policy")
	}
}

func TestReactiveDecisionOutranksLaterPlanning(t *testing.T) {
	reactive := policy.Func(func(context.Context, policy.Decision) ([]model.Command, error) {
		return []model.Command{{Action: model.ActionCharge, Target: "AGV_1", Params: map[string]any{}}}, nil
	})
	rig := newTestRig(reactive)
	rig.queue.Push(model.Event{ID: "ev-1", Severity: model.SeverityCritical, Source: "AGV_1"})
	rig.sched.ReactiveCycle(context.Background())
	waitForCommands(t, rig.pub, 1)

	// The reactive command still holds AGV_1's lease; a planning proposal for
	// the same unit is dropped, an independent unit proceeds.
	rig.sched.pol = policy.Func(func(context.Context, policy.Decision) ([]model.Command, error) {
		return []model.Command{moveProposal("AGV_1"), moveProposal("AGV_2")}, nil
	})
	rig.sched.PlanningCycle(context.Background())

	cmds := waitForCommands(t, rig.pub, 2)
	for _, cmd := range cmds[1:] {
		if cmd.Target == "AGV_1" {
			t.Fatalf("busy unit received a second command: %+v", cmd)
		}
	}
	if cmds[1].Target != "AGV_2" {
		t.Fatalf("independent unit blocked: %+v", cmds)
	}
}

// TestDoublePassDeliveryEndToEnd drives a P3 unit through the whole line with
// the rule policy: every dispatched command is answered with the telemetry its
// execution would produce, until the unit reaches the warehouse. The conveyor
// system moves the product on its own between stations; the scheduler only
// commands the AGV legs.
func TestDoublePassDeliveryEndToEnd(t *testing.T) {
	const pid = "prod_3_e2e"
	rig := newTestRig(policy.Heuristic{})
	ctx := context.Background()
	ts := time.Now()

	tell := func(devID string, mut state.Mutation) {
		t.Helper()
		ts = ts.Add(time.Second)
		mut.LineID = "line1"
		mut.DeviceID = devID
		mut.Timestamp = ts
		if !rig.store.Apply(mut) {
			t.Fatalf("telemetry for %s rejected", devID)
		}
		rig.tracker.Observe(rig.store.Snapshot("line1"))
	}
	point := func(p string) *string { return &p }

	total := 0
	cycle := func(wantAction model.CommandAction, wantTarget string) model.Command {
		t.Helper()
		rig.sched.PlanningCycle(ctx)
		total++
		cmds := waitForCommands(t, rig.pub, total)
		cmd := cmds[total-1]
		if cmd.Action != wantAction || cmd.Target != wantTarget {
			t.Fatalf("command %d: got %s for %s, want %s for %s", total, cmd.Action, cmd.Target, wantAction, wantTarget)
		}
		rig.disp.HandleResponse(model.CommandResponse{CommandID: cmd.ID, Response: string(cmd.Action) + " completed"})
		return cmd
	}

	// Fresh stock appears at the raw material warehouse.
	tell(model.DeviceRawMaterial, state.Mutation{Payload: []string{pid}})

	// First pass: any unit hauls the product to station A.
	cycle(model.ActionMove, "AGV_1")
	tell("AGV_1", state.Mutation{Position: point(model.PointRawMaterial)})

	pickup := cycle(model.ActionLoad, "AGV_1")
	if pickup.ProductID() != pid {
		t.Fatalf("raw pickup must name the product: %+v", pickup.Params)
	}
	tell(model.DeviceRawMaterial, state.Mutation{Payload: []string{}})
	tell("AGV_1", state.Mutation{Payload: []string{pid}})

	cycle(model.ActionMove, "AGV_1")
	tell("AGV_1", state.Mutation{Position: point(model.PointStationA)})

	cycle(model.ActionUnload, "AGV_1")
	tell("AGV_1", state.Mutation{Payload: []string{}})
	tell(model.DeviceStationA, state.Mutation{Payload: []string{pid}})

	// The line carries the product to the conveyor CQ upper buffer by itself.
	tell(model.DeviceStationA, state.Mutation{Payload: []string{}})
	tell(model.DeviceConveyorAB, state.Mutation{Payload: []string{pid}})
	tell(model.DeviceConveyorAB, state.Mutation{Payload: []string{}})
	tell(model.DeviceConveyorCQ, state.Mutation{UpperBuffer: []string{pid}})

	// Second pass: only the capable unit is sent to the upper buffer.
	cycle(model.ActionMove, "AGV_2")
	tell("AGV_2", state.Mutation{Position: point(model.PointConveyorCQ)})

	cycle(model.ActionLoad, "AGV_2")
	tell(model.DeviceConveyorCQ, state.Mutation{UpperBuffer: []string{}})
	tell("AGV_2", state.Mutation{Payload: []string{pid}})

	cycle(model.ActionMove, "AGV_2")
	tell("AGV_2", state.Mutation{Position: point(model.PointStationB)})

	cycle(model.ActionUnload, "AGV_2")
	tell("AGV_2", state.Mutation{Payload: []string{}})
	tell(model.DeviceStationB, state.Mutation{Payload: []string{pid}})

	tell(model.DeviceStationB, state.Mutation{Payload: []string{}})
	tell(model.DeviceConveyorBC, state.Mutation{Payload: []string{pid}})
	tell(model.DeviceConveyorBC, state.Mutation{Payload: []string{}})
	tell(model.DeviceQualityCheck, state.Mutation{OutputBuffer: []string{pid}})

	// Delivery: any unit again.
	cycle(model.ActionMove, "AGV_1")
	tell("AGV_1", state.Mutation{Position: point(model.PointQualityCheck)})

	cycle(model.ActionLoad, "AGV_1")
	tell(model.DeviceQualityCheck, state.Mutation{OutputBuffer: []string{}})
	tell("AGV_1", state.Mutation{Payload: []string{pid}})

	cycle(model.ActionMove, "AGV_1")
	tell("AGV_1", state.Mutation{Position: point(model.PointWarehouse)})

	cycle(model.ActionUnload, "AGV_1")
	tell("AGV_1", state.Mutation{Payload: []string{}})
	tell(model.DeviceWarehouse, state.Mutation{Payload: []string{pid}})

	p, ok := rig.tracker.Product("line1", pid)
	if !ok || p.Stage != model.StageDelivered {
		t.Fatalf("product not delivered: %+v", p)
	}
	cmds := rig.pub.Commands()
	if len(cmds) != 12 {
		t.Fatalf("delivered via %d commands, want 12: %+v", len(cmds), cmds)
	}
	// Exactly one conveyor buffer pickup, and only by the capable unit.
	loads := map[string]int{}
	for _, c := range cmds {
		if c.Action == model.ActionLoad {
			loads[c.Target]++
		}
	}
	if loads["AGV_2"] != 1 || loads["AGV_1"] != 2 {
		t.Fatalf("unexpected load distribution: %v", loads)
	}
}

func TestProposalForFaultedDeviceRejected(t *testing.T) {
	pol := policy.Func(func(context.Context, policy.Decision) ([]model.Command, error) {
		return []model.Command{moveProposal("AGV_1")}, nil
	})
	rig := newTestRig(pol)
	fault := model.StatusFault
	rig.store.Apply(state.Mutation{LineID: "line1", DeviceID: "AGV_1", Timestamp: time.Now(), Status: &fault})

	rig.sched.PlanningCycle(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := rig.pub.Commands(); len(got) != 0 {
		t.Fatalf("faulted device must not be commanded: %+v", got)
	}
}

func TestProposalViolatingBufferAccessRejected(t *testing.T) {
	const pid = "prod_3_sched"
	bad := model.Command{Action: model.ActionLoad, Target: "AGV_1", Params: map[string]any{"product_id": pid}}
	good := model.Command{Action: model.ActionLoad, Target: "AGV_2", Params: map[string]any{"product_id": pid}}
	pol := policy.Func(func(context.Context, policy.Decision) ([]model.Command, error) {
		return []model.Command{bad, good}, nil
	})
	rig := newTestRig(pol)

	// Telemetry puts a P3 product into the upper conveyor buffer and both AGVs
	// at the conveyor.
	now := time.Now()
	pos := model.PointConveyorCQ
	rig.store.Apply(state.Mutation{LineID: "line1", DeviceID: model.DeviceConveyorCQ, Timestamp: now, UpperBuffer: []string{pid}, Payload: []string{}, LowerBuffer: []string{}})
	rig.store.Apply(state.Mutation{LineID: "line1", DeviceID: "AGV_1", Timestamp: now, Position: &pos})
	rig.store.Apply(state.Mutation{LineID: "line1", DeviceID: "AGV_2", Timestamp: now, Position: &pos})
	rig.tracker.Observe(rig.store.Snapshot("line1"))

	rig.sched.PlanningCycle(context.Background())

	cmds := waitForCommands(t, rig.pub, 1)
	time.Sleep(20 * time.Millisecond)
	cmds = rig.pub.Commands()
	if len(cmds) != 1 || cmds[0].Target != "AGV_2" {
		t.Fatalf("only the capable unit may load from the upper buffer: %+v", cmds)
	}
}
