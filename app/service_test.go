package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowline/flowline/config"
	"github.com/flowline/flowline/core/ingest"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/orders"
	"github.com/flowline/flowline/core/policy"
)

type fakeBroker struct {
	mu            sync.Mutex
	commands      []model.Command
	telemetry     map[string]*ingest.Ingestor
	responses     map[string]func(model.CommandResponse)
	alerts        map[string]func(model.Alert)
	orderHandler  func(orders.Message)
	disconnected  bool
	subscriptions int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		telemetry: make(map[string]*ingest.Ingestor),
		responses: make(map[string]func(model.CommandResponse)),
		alerts:    make(map[string]func(model.Alert)),
	}
}

func (b *fakeBroker) PublishCommand(cmd model.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, cmd)
	return nil
}

func (b *fakeBroker) SubscribeTelemetry(lineID string, ing *ingest.Ingestor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.telemetry[lineID] = ing
	b.subscriptions++
	return nil
}

func (b *fakeBroker) SubscribeResponses(lineID string, handle func(model.CommandResponse)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[lineID] = handle
	b.subscriptions++
	return nil
}

func (b *fakeBroker) SubscribeAlerts(lineID string, handle func(model.Alert)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts[lineID] = handle
	b.subscriptions++
	return nil
}

func (b *fakeBroker) SubscribeOrders(handle func(orders.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderHandler = handle
	b.subscriptions++
	return nil
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.SetDefaults()
	return cfg
}

func newTestService(t *testing.T) (*Service, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	svc, err := NewWithBroker(testConfig(), broker, policy.Heuristic{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, broker
}

func TestTopologyRegistered(t *testing.T) {
	svc, _ := newTestService(t)
	snap := svc.store.Snapshot("line1")
	for _, id := range []string{
		"AGV_1", "AGV_2",
		model.DeviceStationA, model.DeviceStationB, model.DeviceStationC,
		model.DeviceConveyorAB, model.DeviceConveyorBC, model.DeviceConveyorCQ,
		model.DeviceQualityCheck, model.DeviceRawMaterial, model.DeviceWarehouse,
	} {
		if _, ok := snap.Device(id); !ok {
			t.Errorf("device %s not registered", id)
		}
	}
}

func TestTelemetryClassificationPipeline(t *testing.T) {
	svc, _ := newTestService(t)
	line := svc.Line("line1")

	// A battery-critical report must surface as an urgent queued event.
	line.Ingestor.Handle(ingest.ClassAGV, "line1", "AGV_1",
		[]byte(`{"status":"idle","current_point":"P5","battery_level":12,"timestamp":1700000000}`))

	if line.Queue.Len() == 0 {
		t.Fatalf("classification produced no events")
	}
	ev, ok := line.Queue.PeekHighest()
	if !ok || ev.Kind != model.EventBatteryCritical {
		t.Fatalf("expected battery-critical event, got %+v", ev)
	}
	select {
	case <-line.Queue.Trigger():
	default:
		t.Fatalf("critical event must arm the reactive trigger")
	}
}

func TestRepeatedTelemetryStaysQuiet(t *testing.T) {
	svc, _ := newTestService(t)
	line := svc.Line("line1")

	line.Ingestor.Handle(ingest.ClassAGV, "line1", "AGV_1",
		[]byte(`{"status":"moving","current_point":"P2","battery_level":80,"timestamp":1700000000}`))
	line.Queue.PopAll()

	// Progress along the track with no actionable change.
	line.Ingestor.Handle(ingest.ClassAGV, "line1", "AGV_1",
		[]byte(`{"status":"moving","current_point":"P3","battery_level":79,"timestamp":1700000001}`))
	if n := line.Queue.Len(); n != 0 {
		t.Fatalf("movement progress queued %d events", n)
	}
}

func TestDeliveryCompletesOrder(t *testing.T) {
	svc, _ := newTestService(t)
	line := svc.Line("line1")

	svc.handleOrder(orders.Message{
		OrderID:  "order_1",
		Items:    []model.OrderItem{{ProductType: model.ProductP1, Quantity: 1}},
		Priority: "high",
	})
	if admitted := svc.orders.AdmitNext("line1"); len(admitted) != 1 {
		t.Fatalf("order not admitted: %+v", admitted)
	}

	// The finished product appearing in the warehouse closes the order.
	line.Ingestor.Handle(ingest.ClassWarehouse, "line1", model.DeviceWarehouse,
		[]byte(`{"buffer":["prod_1_done"],"timestamp":1700000002}`))

	if n := svc.orders.AdmittedIncomplete("line1"); n != 0 {
		t.Fatalf("delivery did not complete the order, %d still open", n)
	}
}

func TestRunSubscribesAndStops(t *testing.T) {
	svc, broker := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		broker.mu.Lock()
		n := broker.subscriptions
		broker.mu.Unlock()
		if n >= 4 { // orders + telemetry + responses + alerts for the single line
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	broker.mu.Lock()
	if broker.orderHandler == nil || broker.telemetry["line1"] == nil ||
		broker.responses["line1"] == nil || broker.alerts["line1"] == nil {
		broker.mu.Unlock()
		t.Fatalf("missing subscriptions")
	}
	broker.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on context cancel")
	}
}

func TestAlertQueuedAsUrgentEvent(t *testing.T) {
	svc, _ := newTestService(t)
	line := svc.Line("line1")
	handle := svc.alertHandler(line)

	handle(model.Alert{AlertType: "emergency_stop", DeviceID: "StationB"})
	ev, ok := line.Queue.PeekHighest()
	if !ok || ev.Kind != model.EventDeviceAlert || ev.Severity != model.SeverityCritical {
		t.Fatalf("expected critical alert event, got %+v", ev)
	}
	line.Queue.PopAll()

	// Informational alert types are logged, never queued.
	handle(model.Alert{AlertType: "door_open", DeviceID: "StationB"})
	if line.Queue.Len() != 0 {
		t.Fatalf("informational alert must not queue an event")
	}
}

func TestOrderHandlerDeduplicates(t *testing.T) {
	svc, _ := newTestService(t)
	msg := orders.Message{OrderID: "order_1", Items: []model.OrderItem{{ProductType: model.ProductP2, Quantity: 1}}}
	svc.handleOrder(msg)
	svc.handleOrder(msg)
	if admitted := svc.orders.AdmitNext("line1"); len(admitted) != 1 {
		t.Fatalf("duplicate submission admitted twice: %+v", admitted)
	}
}
