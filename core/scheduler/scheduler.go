package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowline/flowline/core/dispatch"
	"github.com/flowline/flowline/core/events"
	"github.com/flowline/flowline/core/flow"
	"github.com/flowline/flowline/core/logger"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/orders"
	"github.com/flowline/flowline/core/policy"
	"github.com/flowline/flowline/core/state"
)

// Config tunes the two cadences of one line.
type Config struct {
	PlanningIntervalSeconds float64 `json:"planning_interval_seconds"`
	ReactiveLatencySeconds  float64 `json:"reactive_latency_seconds"`
	PolicyTimeoutSeconds    float64 `json:"policy_timeout_seconds"`
}

// SetDefaults fills unset fields with the line operating defaults: an eight
// second planning period and a two second reactive bound.
func (c *Config) SetDefaults() {
	if c.PlanningIntervalSeconds <= 0 {
		c.PlanningIntervalSeconds = 8
	}
	if c.ReactiveLatencySeconds <= 0 {
		c.ReactiveLatencySeconds = 2
	}
	if c.PolicyTimeoutSeconds <= 0 {
		c.PolicyTimeoutSeconds = c.PlanningIntervalSeconds / 2
	}
}

// Scheduler coordinates one production line. Two cadences run concurrently:
// a fixed-period planning pass and a reactive pass woken by the dispatch
// queue whenever an event of severity high or above arrives. A reactive pass
// preempts the planning pass's not-yet-dispatched proposals for the devices
// it acts on; already-dispatched commands are left outstanding.
type Scheduler struct {
	lineID  string
	store   *state.Store
	tracker *flow.Tracker
	orders  *orders.Manager
	queue   *events.Queue
	pol     policy.Policy
	disp    *dispatch.Dispatcher
	log     logger.Logger
	cfg     Config

	mu        sync.Mutex
	planned   []model.Command // proposals awaiting dispatch
	preempted map[string]bool // devices claimed by the reactive pass this cycle
}

// New creates a Scheduler for one line.
func New(lineID string, store *state.Store, tracker *flow.Tracker, om *orders.Manager,
	queue *events.Queue, pol policy.Policy, disp *dispatch.Dispatcher, cfg Config, log logger.Logger) *Scheduler {
	cfg.SetDefaults()
	return &Scheduler{
		lineID:    lineID,
		store:     store,
		tracker:   tracker,
		orders:    om,
		queue:     queue,
		pol:       pol,
		disp:      disp,
		log:       log,
		cfg:       cfg,
		preempted: make(map[string]bool),
	}
}

// Run starts both cadences and blocks until the context is canceled. On
// shutdown no new cycles are scheduled; in-flight commands keep their natural
// ack or timeout lifecycle.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.planningLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.reactiveLoop(ctx)
	}()
	wg.Wait()
}

func (s *Scheduler) planningLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.PlanningIntervalSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.PlanningCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) reactiveLoop(ctx context.Context) {
	for {
		select {
		case <-s.queue.Trigger():
			s.ReactiveCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PlanningCycle runs one planning pass: admit orders up to quota, gather the
// snapshot and pending low/medium events, consult the policy once, and
// dispatch the filtered proposals.
func (s *Scheduler) PlanningCycle(ctx context.Context) {
	s.orders.ExpireDue()
	admitted := s.orders.AdmitNext(s.lineID)
	if len(admitted) > 0 {
		s.log.Infof("admitted %d orders to %s", len(admitted), s.lineID)
	}
	evs := s.queue.PopAllBelow(model.SeverityHigh)
	dec := s.decision(evs)

	pctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.PolicyTimeoutSeconds*float64(time.Second)))
	proposals, err := s.pol.Decide(pctx, dec)
	cancel()
	if err != nil {
		s.log.Warnf("planning policy failed on %s, cycle ends with no commands: %v", s.lineID, err)
		return
	}

	s.mu.Lock()
	s.planned = proposals
	s.preempted = make(map[string]bool)
	s.mu.Unlock()

	s.drainPlanned(dec.Snapshot)
}

// drainPlanned dispatches pending planning proposals one at a time, skipping
// any device the reactive pass claimed since the proposals were made.
func (s *Scheduler) drainPlanned(snap state.Snapshot) {
	for {
		s.mu.Lock()
		if len(s.planned) == 0 {
			s.mu.Unlock()
			return
		}
		cmd := s.planned[0]
		s.planned = s.planned[1:]
		skip := s.preempted[cmd.Target]
		s.mu.Unlock()
		if skip {
			s.log.Infof("discarding planned %s for %s: preempted by reactive pass", cmd.Action, cmd.Target)
			continue
		}
		s.dispatchFiltered(cmd, snap)
	}
}

// ReactiveCycle answers the highest-severity pending events within the
// configured latency bound. Proposals target the devices named by the events;
// planning proposals for those devices that have not been dispatched yet are
// discarded.
func (s *Scheduler) ReactiveCycle(ctx context.Context) {
	start := time.Now()
	evs := s.queue.PopAllAtOrAbove(model.SeverityHigh)
	if len(evs) == 0 {
		return
	}
	// Claim the affected devices before consulting the policy so a
	// concurrent planning drain cannot race the preemption.
	s.mu.Lock()
	for _, ev := range evs {
		s.preempted[ev.Source] = true
		kept := s.planned[:0]
		for _, cmd := range s.planned {
			if cmd.Target != ev.Source {
				kept = append(kept, cmd)
			} else {
				s.log.Infof("discarding planned %s for %s in favor of reactive decision", cmd.Action, cmd.Target)
			}
		}
		s.planned = kept
	}
	s.mu.Unlock()

	dec := s.decision(evs)
	rctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.ReactiveLatencySeconds*float64(time.Second)))
	proposals, err := s.pol.Decide(rctx, dec)
	cancel()
	if err != nil {
		s.log.Warnf("reactive policy failed on %s: %v", s.lineID, err)
		return
	}
	dispatched := 0
	for _, cmd := range proposals {
		if s.dispatchFiltered(cmd, dec.Snapshot) {
			dispatched++
		}
	}
	reactiveLatency.Observe(time.Since(start).Seconds())
	if dispatched == 0 {
		s.log.Warnf("reactive cycle on %s dispatched no commands for %d events", s.lineID, len(evs))
	}
}

// dispatchFiltered enforces flow eligibility and the one-outstanding-command
// rule before handing a proposal to the dispatcher. Violations are rejected
// and logged; scheduling continues with the remaining proposals.
func (s *Scheduler) dispatchFiltered(cmd model.Command, snap state.Snapshot) bool {
	cmd.LineID = s.lineID
	if dev, ok := snap.Devices[cmd.Target]; ok && !dev.Eligible() {
		s.log.Warnf("rejecting %s for %s: device stale or faulted", cmd.Action, cmd.Target)
		proposalsRejected.WithLabelValues("ineligible_device").Inc()
		return false
	}
	if err := s.tracker.Authorize(cmd, snap); err != nil {
		s.log.Warnf("rejecting %s for %s: %v", cmd.Action, cmd.Target, err)
		proposalsRejected.WithLabelValues("flow_violation").Inc()
		return false
	}
	if err := s.disp.Dispatch(cmd); err != nil {
		if errors.Is(err, dispatch.ErrUnitBusy) {
			s.log.Debugf("skipping %s for %s: outstanding command", cmd.Action, cmd.Target)
			proposalsRejected.WithLabelValues("unit_busy").Inc()
		} else {
			s.log.Errorf("dispatch %s for %s failed: %v", cmd.Action, cmd.Target, err)
			proposalsRejected.WithLabelValues("dispatch_error").Inc()
		}
		return false
	}
	return true
}

// decision assembles the explicit context handed to the policy.
func (s *Scheduler) decision(evs []model.Event) policy.Decision {
	snap := s.store.Snapshot(s.lineID)
	products := s.tracker.Products(s.lineID)
	var actions []flow.Action
	for _, p := range products {
		if act, ok := s.tracker.NextRequiredAction(s.lineID, p.ID); ok {
			actions = append(actions, act)
		}
	}
	return policy.Decision{
		LineID:         s.lineID,
		Snapshot:       snap,
		Products:       products,
		Actions:        actions,
		Events:         evs,
		AdmittedOrders: s.orders.Admitted(s.lineID),
		RecentOutcomes: s.disp.RecentOutcomes(16),
	}
}
