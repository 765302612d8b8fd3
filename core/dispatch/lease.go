package dispatch

import "sync"

// LeaseRegistry enforces the one-outstanding-command-per-AGV rule. Acquiring
// is atomic and fails fast instead of blocking, so a scheduler can move on to
// its next proposal immediately.
type LeaseRegistry struct {
	mu     sync.Mutex
	leased map[string]string // unit id -> command id holding the lease
}

// NewLeaseRegistry creates an empty registry.
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{leased: make(map[string]string)}
}

// TryAcquire claims the unit for the given command. Returns false when the
// unit already has an outstanding command.
func (r *LeaseRegistry) TryAcquire(unitID, commandID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.leased[unitID]; busy {
		return false
	}
	r.leased[unitID] = commandID
	return true
}

// Release frees the unit if the command still holds its lease. A release for
// a superseded lease is a no-op.
func (r *LeaseRegistry) Release(unitID, commandID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leased[unitID] == commandID {
		delete(r.leased, unitID)
	}
}

// Holder returns the command currently leasing the unit, if any.
func (r *LeaseRegistry) Holder(unitID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.leased[unitID]
	return id, ok
}
