package mqtt

import (
	"fmt"
	"sync"

	"github.com/flowline/flowline/core/model"
)

// MockPublisher records published commands, used in tests and the simulate
// command.
type MockPublisher struct {
	mu          sync.Mutex
	commands    []model.Command
	FailTargets map[string]bool
	FailAll     bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailTargets: make(map[string]bool)}
}

// PublishCommand records the command or fails when configured to.
func (m *MockPublisher) PublishCommand(cmd model.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll || m.FailTargets[cmd.Target] {
		return fmt.Errorf("publish failed for %s", cmd.Target)
	}
	m.commands = append(m.commands, cmd)
	return nil
}

// Commands returns a copy of the recorded commands.
func (m *MockPublisher) Commands() []model.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Command(nil), m.commands...)
}
