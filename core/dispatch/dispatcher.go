package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline/flowline/core/events"
	"github.com/flowline/flowline/core/logger"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/policy"
	"github.com/flowline/flowline/internal/eventbus"
)

// Publisher sends a command to the transport. Implementations live in
// infra/mqtt; tests use a mock.
type Publisher interface {
	PublishCommand(cmd model.Command) error
}

// Config tunes retry and timeout behavior.
type Config struct {
	AckTimeoutSeconds int `json:"ack_timeout_seconds"`
	MaxRetries        int `json:"max_retries"`
	BackoffMS         int `json:"backoff_ms"`
	HistorySize       int `json:"history_size"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.AckTimeoutSeconds <= 0 {
		c.AckTimeoutSeconds = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 64
	}
}

type inflight struct {
	cmd   model.Command
	timer *time.Timer
}

// Dispatcher publishes commands for one line, fire-and-forget with tracked
// outcome. It enforces the per-AGV lease, retries failed publishes with
// exponential backoff, correlates responses by command id, and times out
// unacknowledged commands so the owning unit returns to the eligible pool.
type Dispatcher struct {
	lineID  string
	pub     Publisher
	leases  *LeaseRegistry
	queue   *events.Queue
	log     logger.Logger
	bus     *eventbus.Bus[policy.Outcome]
	timeout time.Duration
	retries int
	backoff time.Duration

	mu       sync.Mutex
	inflight map[string]*inflight
	issued   map[string]struct{}
	history  []policy.Outcome
	histMax  int
	closed   bool
}

// New creates a Dispatcher for one line. The queue receives synthetic
// high-severity events when command delivery fails permanently.
func New(lineID string, pub Publisher, leases *LeaseRegistry, queue *events.Queue, cfg Config, log logger.Logger) *Dispatcher {
	cfg.SetDefaults()
	return &Dispatcher{
		lineID:   lineID,
		pub:      pub,
		leases:   leases,
		queue:    queue,
		log:      log,
		bus:      eventbus.New[policy.Outcome](16),
		timeout:  time.Duration(cfg.AckTimeoutSeconds) * time.Second,
		retries:  cfg.MaxRetries,
		backoff:  time.Duration(cfg.BackoffMS) * time.Millisecond,
		inflight: make(map[string]*inflight),
		issued:   make(map[string]struct{}),
		histMax:  cfg.HistorySize,
	}
}

// Outcomes returns a subscription for finished command outcomes.
func (d *Dispatcher) Outcomes() <-chan policy.Outcome { return d.bus.Subscribe() }

// Dispatch publishes the command. It acquires the target's lease first and
// fails fast with ErrUnitBusy when the unit already has an outstanding
// command. Publishing and outcome tracking proceed asynchronously.
func (d *Dispatcher) Dispatch(cmd model.Command) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if _, dup := d.issued[cmd.ID]; dup {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.ID)
	}
	// Reserve the id before dropping the lock so a concurrent call with the
	// same id cannot pass the duplicate check as well.
	d.issued[cmd.ID] = struct{}{}
	d.mu.Unlock()

	if !d.leases.TryAcquire(cmd.Target, cmd.ID) {
		d.mu.Lock()
		delete(d.issued, cmd.ID)
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnitBusy, cmd.Target)
	}

	cmd.LineID = d.lineID
	cmd.IssuedAt = time.Now()
	cmd.Status = model.CommandPending

	d.mu.Lock()
	inf := &inflight{cmd: cmd}
	d.inflight[cmd.ID] = inf
	inf.timer = time.AfterFunc(d.timeout, func() { d.expire(cmd.ID) })
	d.mu.Unlock()

	go d.publish(cmd)
	return nil
}

// publish retries with exponential backoff; exhaustion surfaces as a
// synthetic high-severity event, never a crash.
func (d *Dispatcher) publish(cmd model.Command) {
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if err = d.pub.PublishCommand(cmd); err == nil {
			publishSuccess.Inc()
			d.log.Infof("dispatched %s %s -> %s", cmd.Action, cmd.ID, cmd.Target)
			return
		}
		publishFailure.Inc()
		d.log.Errorf("publish attempt %d for %s failed: %v", attempt+1, cmd.ID, err)
		if attempt < d.retries {
			time.Sleep(d.backoff * time.Duration(1<<attempt))
		}
	}
	d.resolve(cmd.ID, model.CommandFailed)
	d.queue.Push(model.Event{
		ID:        uuid.NewString(),
		Kind:      model.EventDeliveryFailed,
		Severity:  model.SeverityHigh,
		Source:    cmd.Target,
		LineID:    d.lineID,
		Timestamp: time.Now(),
		Payload:   map[string]any{"command_id": cmd.ID, "action": string(cmd.Action), "error": err.Error()},
	})
}

// HandleResponse correlates a response by command id. Unmatched or repeated
// responses are logged and ignored, which makes resolution idempotent under
// replay.
func (d *Dispatcher) HandleResponse(resp model.CommandResponse) {
	d.mu.Lock()
	_, ok := d.inflight[resp.CommandID]
	d.mu.Unlock()
	if !ok {
		d.log.Warnf("ignoring response for unknown command %s", resp.CommandID)
		return
	}
	d.log.Debugw("command response", map[string]any{
		"command_id": resp.CommandID, "response": resp.Response,
	})
	d.resolve(resp.CommandID, model.CommandAcked)
}

// expire marks an unacknowledged command timed out and releases the unit back
// to the eligible pool.
func (d *Dispatcher) expire(commandID string) {
	d.mu.Lock()
	inf, ok := d.inflight[commandID]
	d.mu.Unlock()
	if !ok {
		return
	}
	d.log.Warnf("command %s to %s timed out", commandID, inf.cmd.Target)
	d.resolve(commandID, model.CommandTimedOut)
}

// resolve finalizes one command exactly once.
func (d *Dispatcher) resolve(commandID string, status model.CommandStatus) {
	d.mu.Lock()
	inf, ok := d.inflight[commandID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.inflight, commandID)
	inf.cmd.Status = status
	out := policy.Outcome{
		CommandID: inf.cmd.ID,
		Target:    inf.cmd.Target,
		Action:    inf.cmd.Action,
		Status:    status,
		Latency:   time.Since(inf.cmd.IssuedAt),
	}
	d.history = append(d.history, out)
	if len(d.history) > d.histMax {
		d.history = d.history[len(d.history)-d.histMax:]
	}
	d.mu.Unlock()

	inf.timer.Stop()
	d.leases.Release(inf.cmd.Target, commandID)
	commandsResolved.WithLabelValues(string(inf.cmd.Action), status.String()).Inc()
	d.bus.Publish(out)
}

// Outstanding reports whether the unit has an unresolved command.
func (d *Dispatcher) Outstanding(unitID string) bool {
	_, busy := d.leases.Holder(unitID)
	return busy
}

// RecentOutcomes returns up to n most recent outcomes, newest last.
func (d *Dispatcher) RecentOutcomes(n int) []policy.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.history) {
		n = len(d.history)
	}
	return append([]policy.Outcome(nil), d.history[len(d.history)-n:]...)
}

// Close stops accepting new commands. In-flight commands are left to their
// natural ack or timeout; nothing is aborted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.bus.Close()
}
