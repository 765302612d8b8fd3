package model

import "time"

// CommandAction is one of the operations an AGV accepts.
type CommandAction string

const (
	ActionMove      CommandAction = "move"
	ActionLoad      CommandAction = "load"
	ActionUnload    CommandAction = "unload"
	ActionCharge    CommandAction = "charge"
	ActionGetResult CommandAction = "get_result"
)

// CommandStatus tracks the outcome of a dispatched command.
type CommandStatus int

const (
	CommandPending CommandStatus = iota
	CommandAcked
	CommandFailed
	CommandTimedOut
)

func (s CommandStatus) String() string {
	switch s {
	case CommandPending:
		return "pending"
	case CommandAcked:
		return "acked"
	case CommandFailed:
		return "failed"
	case CommandTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// DefaultChargeTarget is used when a charge command carries no target level.
const DefaultChargeTarget = 80.0

// Command instructs one device to perform an action. IDs are caller-supplied
// or generated at dispatch; within a run they are unique.
type Command struct {
	ID         string
	Action     CommandAction
	Target     string // device id
	LineID     string
	Params     map[string]any
	IssuedAt   time.Time
	Status     CommandStatus
	RetryCount int
}

// TargetPoint returns the waypoint parameter of a move command.
func (c Command) TargetPoint() string {
	if v, ok := c.Params["target_point"].(string); ok {
		return v
	}
	return ""
}

// ProductID returns the optional product id parameter of a load command.
func (c Command) ProductID() string {
	if v, ok := c.Params["product_id"].(string); ok {
		return v
	}
	return ""
}

// CommandResponse is the simulator's answer to a dispatched command,
// correlated back by command id.
type CommandResponse struct {
	Timestamp float64 `json:"timestamp"`
	CommandID string  `json:"command_id"`
	Response  string  `json:"response"`
}
