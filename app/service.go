package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowline/flowline/config"
	"github.com/flowline/flowline/core/dispatch"
	"github.com/flowline/flowline/core/events"
	"github.com/flowline/flowline/core/flow"
	"github.com/flowline/flowline/core/ingest"
	coremetrics "github.com/flowline/flowline/core/metrics"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/orders"
	"github.com/flowline/flowline/core/policy"
	"github.com/flowline/flowline/core/scheduler"
	"github.com/flowline/flowline/core/state"
	"github.com/flowline/flowline/infra/logger"
	"github.com/flowline/flowline/infra/metrics"
	"github.com/flowline/flowline/infra/mqtt"
)

// Broker is the transport surface the service needs. *mqtt.PahoClient
// implements it; tests wire a fake.
type Broker interface {
	dispatch.Publisher
	SubscribeTelemetry(lineID string, ing *ingest.Ingestor) error
	SubscribeResponses(lineID string, handle func(model.CommandResponse)) error
	SubscribeOrders(handle func(orders.Message)) error
	SubscribeAlerts(lineID string, handle func(model.Alert)) error
	Disconnect()
}

// Line bundles the per-line coordination components.
type Line struct {
	ID         string
	Queue      *events.Queue
	Dispatcher *dispatch.Dispatcher
	Scheduler  *scheduler.Scheduler
	Ingestor   *ingest.Ingestor

	mu   sync.Mutex // serializes classification per line
	prev state.Snapshot
}

// Service wires the coordination engine: one scheduler, queue and dispatcher
// per line over a shared state store, flow tracker and order backlog.
type Service struct {
	cfg     *config.Config
	broker  Broker
	store   *state.Store
	tracker *flow.Tracker
	orders  *orders.Manager
	sink    coremetrics.Sink
	lines   map[string]*Line
	log     logger.Logger
	ownsBrk bool
}

// New creates a Service from the configuration, connecting to the broker.
func New(cfg *config.Config) (*Service, error) {
	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	svc, err := NewWithBroker(cfg, client, policy.Heuristic{})
	if err != nil {
		client.Disconnect()
		return nil, err
	}
	svc.ownsBrk = true
	return svc, nil
}

// NewWithBroker creates a Service over an existing broker and policy.
func NewWithBroker(cfg *config.Config, broker Broker, pol policy.Policy) (*Service, error) {
	log := logger.New("service")

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	store := state.NewStore(time.Duration(cfg.State.StalenessSeconds * float64(time.Second)))
	tracker := flow.NewTracker(cfg.Lines, logger.New("flow"))
	om := orders.NewManager(cfg.Orders.QuotaPerLine, logger.New("orders"))
	leases := dispatch.NewLeaseRegistry()

	svc := &Service{
		cfg:     cfg,
		broker:  broker,
		store:   store,
		tracker: tracker,
		orders:  om,
		sink:    sink,
		lines:   make(map[string]*Line),
		log:     log,
	}

	for id, lineCfg := range cfg.Lines {
		registerTopology(store, id, lineCfg)
		queue := events.NewQueue()
		disp := dispatch.New(id, broker, leases, queue, cfg.Dispatch, logger.New("dispatch_"+id))
		sched := scheduler.New(id, store, tracker, om, queue, pol, disp, cfg.Scheduler, logger.New("scheduler_"+id))
		line := &Line{ID: id, Queue: queue, Dispatcher: disp, Scheduler: sched}
		ing := ingest.New(store, logger.New("ingest_"+id))
		ing.Applied = func(lineID string) { svc.onTelemetry(lineID) }
		line.Ingestor = ing
		svc.lines[id] = line
	}
	return svc, nil
}

// registerTopology creates the static device set of one line.
func registerTopology(store *state.Store, lineID string, cfg flow.LineConfig) {
	for _, agv := range cfg.AGVs {
		store.Register(model.Device{ID: agv, LineID: lineID, Kind: model.KindAGV, Status: model.StatusIdle, BatteryPct: 100})
	}
	for _, st := range []string{model.DeviceStationA, model.DeviceStationB, model.DeviceStationC, model.DeviceQualityCheck} {
		store.Register(model.Device{ID: st, LineID: lineID, Kind: model.KindStation, Status: model.StatusIdle})
	}
	for _, cv := range []string{model.DeviceConveyorAB, model.DeviceConveyorBC, model.DeviceConveyorCQ} {
		store.Register(model.Device{ID: cv, LineID: lineID, Kind: model.KindConveyor, Status: model.StatusWorking})
	}
	store.Register(model.Device{ID: model.DeviceRawMaterial, LineID: lineID, Kind: model.KindWarehouse})
	store.Register(model.Device{ID: model.DeviceWarehouse, LineID: lineID, Kind: model.KindWarehouse})
}

// onTelemetry runs the classification pipeline for one line after a
// committed mutation: snapshot, diff against the previous snapshot, queue the
// resulting events, and feed observed product movement to the flow tracker.
func (s *Service) onTelemetry(lineID string) {
	line, ok := s.lines[lineID]
	if !ok {
		return
	}
	line.mu.Lock()
	defer line.mu.Unlock()
	next := s.store.Snapshot(lineID)
	evs := events.Classify(line.prev, next, events.ClassifyContext{
		BacklogAdmitted: s.orders.BacklogAdmitted(lineID),
	})
	for _, ev := range evs {
		line.Queue.Push(ev)
	}
	for _, ch := range s.tracker.Observe(next) {
		if ch.To == model.StageDelivered {
			s.orders.RecordDelivery(lineID, model.TypeFromID(ch.ProductID))
		}
	}
	line.prev = next
}

// Line returns the named line's components, used by tests.
func (s *Service) Line(id string) *Line { return s.lines[id] }

// Orders returns the shared order backlog.
func (s *Service) Orders() *orders.Manager { return s.orders }

// Run subscribes to the broker and drives every line's cadences until the
// context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.broker.SubscribeOrders(s.handleOrder); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for id, line := range s.lines {
		if err := s.broker.SubscribeTelemetry(id, line.Ingestor); err != nil {
			return err
		}
		disp := line.Dispatcher
		if err := s.broker.SubscribeResponses(id, disp.HandleResponse); err != nil {
			return err
		}
		if err := s.broker.SubscribeAlerts(id, s.alertHandler(line)); err != nil {
			return err
		}
		wg.Add(2)
		go func(l *Line) {
			defer wg.Done()
			l.Scheduler.Run(ctx)
		}(line)
		go func(l *Line) {
			defer wg.Done()
			s.forwardOutcomes(ctx, l)
		}(line)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.log.Infof("coordinating %d lines", len(s.lines))
	wg.Wait()
	return nil
}

// forwardOutcomes exports finished command outcomes to the metrics sink.
func (s *Service) forwardOutcomes(ctx context.Context, line *Line) {
	sub := line.Dispatcher.Outcomes()
	for {
		select {
		case out, ok := <-sub:
			if !ok {
				return
			}
			rec := coremetrics.CommandRecord{
				LineID:    line.ID,
				CommandID: out.CommandID,
				Target:    out.Target,
				Action:    out.Action,
				Status:    out.Status,
				Latency:   out.Latency,
				Time:      time.Now(),
			}
			if err := s.sink.RecordCommandResult([]coremetrics.CommandRecord{rec}); err != nil {
				s.log.Errorf("metrics sink: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// alertHandler queues device alert broadcasts so the reactive cycle answers
// them ahead of planned work. Log-only alert types never reach the queue.
func (s *Service) alertHandler(line *Line) func(model.Alert) {
	return func(alert model.Alert) {
		s.log.Warnf("alert %s from %s on %s", alert.AlertType, alert.DeviceID, line.ID)
		if ev, ok := events.ClassifyAlert(line.ID, alert); ok {
			line.Queue.Push(ev)
		}
	}
}

func (s *Service) handleOrder(msg orders.Message) {
	o, ok := s.orders.Submit(msg)
	if !ok {
		s.log.Warnf("rejecting order message without id")
		return
	}
	if err := s.sink.RecordOrderEvent(coremetrics.OrderRecord{
		OrderID:  o.ID,
		LineID:   o.Line,
		Status:   o.Status,
		Priority: o.Priority,
		Time:     time.Now(),
	}); err != nil {
		s.log.Errorf("metrics sink: %v", err)
	}
}

// Close releases resources. Pending commands are left to their natural
// timeout; cadences stop scheduling new cycles via context cancellation.
func (s *Service) Close() error {
	for _, line := range s.lines {
		line.Dispatcher.Close()
	}
	if s.ownsBrk {
		s.broker.Disconnect()
	}
	return nil
}
