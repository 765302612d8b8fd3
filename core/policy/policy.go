package policy

import (
	"context"
	"time"

	"github.com/flowline/flowline/core/flow"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/state"
)

// Decision is the input handed to a policy for one scheduling cycle. It is
// assembled fresh per invocation; policies hold no hidden state between
// cycles.
type Decision struct {
	LineID   string
	Snapshot state.Snapshot
	Products []model.Product
	// Actions are the transport steps currently required, as exposed by the
	// flow tracker, including per-step AGV eligibility.
	Actions []flow.Action
	// Events are the classified events drained for this cycle.
	Events []model.Event
	// AdmittedOrders are the line's open orders.
	AdmittedOrders []model.Order
	// RecentOutcomes summarizes the last command outcomes for context.
	RecentOutcomes []Outcome
}

// Outcome is a compact record of a finished command.
type Outcome struct {
	CommandID string
	Target    string
	Action    model.CommandAction
	Status    model.CommandStatus
	Latency   time.Duration
}

// Policy proposes commands for one cycle. The scheduler filters every
// proposal through flow-tracker authorization and the per-AGV lease before
// dispatch; a policy violating those rules loses the proposal, nothing more.
// Implementations may be rule-based or backed by an external service; the
// context bounds how long the scheduler waits.
type Policy interface {
	Decide(ctx context.Context, dec Decision) ([]model.Command, error)
}

// Func adapts a function to the Policy interface.
type Func func(ctx context.Context, dec Decision) ([]model.Command, error)

// Decide implements Policy.
func (f Func) Decide(ctx context.Context, dec Decision) ([]model.Command, error) {
	return f(ctx, dec)
}
