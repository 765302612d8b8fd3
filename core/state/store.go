package state

import (
	"sync"
	"time"

	"github.com/flowline/flowline/core/model"
)

// Mutation is one normalized telemetry update for a single device. All set
// fields commit atomically; nil slices leave the stored value untouched.
type Mutation struct {
	LineID    string
	DeviceID  string
	Kind      model.DeviceKind
	Timestamp time.Time

	Status     *model.DeviceStatus
	Position   *string
	BatteryPct *float64

	Payload      []string
	UpperBuffer  []string
	LowerBuffer  []string
	OutputBuffer []string
}

// Snapshot is an immutable view of one line at a point in time.
type Snapshot struct {
	LineID  string
	At      time.Time
	Devices map[string]model.Device
}

// Device returns the named device and whether it is present.
func (s Snapshot) Device(id string) (model.Device, bool) {
	d, ok := s.Devices[id]
	return d, ok
}

// AGVs returns the AGVs of the snapshot keyed by id.
func (s Snapshot) AGVs() map[string]model.Device {
	out := make(map[string]model.Device)
	for id, d := range s.Devices {
		if d.Kind == model.KindAGV {
			out[id] = d
		}
	}
	return out
}

type record struct {
	mu  sync.Mutex
	dev model.Device
}

// Store holds the canonical device state for all lines. Writers serialize per
// device record, so concurrent lines never contend on unrelated devices.
// Readers receive deep copies and never observe a partially applied update.
type Store struct {
	mu        sync.RWMutex
	records   map[string]map[string]*record // line id -> device id -> record
	staleness time.Duration
	now       func() time.Time
}

// NewStore creates an empty Store. Devices silent for longer than staleness
// are flagged stale in snapshots; zero disables the check.
func NewStore(staleness time.Duration) *Store {
	return &Store{
		records:   make(map[string]map[string]*record),
		staleness: staleness,
		now:       time.Now,
	}
}

// Register creates a device record from the static topology. Registering an
// existing device is a no-op; devices are never deleted.
func (s *Store) Register(dev model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.records[dev.LineID]
	if !ok {
		line = make(map[string]*record)
		s.records[dev.LineID] = line
	}
	if _, exists := line[dev.ID]; exists {
		return
	}
	line[dev.ID] = &record{dev: dev.Clone()}
}

func (s *Store) lookup(lineID, deviceID string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	line, ok := s.records[lineID]
	if !ok {
		return nil
	}
	return line[deviceID]
}

// Apply commits a mutation. Out-of-order messages for the same device are
// resolved by telemetry timestamp: a message older than the stored one is
// discarded. Returns false when the mutation was discarded or the device is
// unknown.
func (s *Store) Apply(mut Mutation) bool {
	rec := s.lookup(mut.LineID, mut.DeviceID)
	if rec == nil {
		// First report of a device not in the static topology is rejected;
		// devices are created once at startup.
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.dev.ReportedAt.IsZero() && mut.Timestamp.Before(rec.dev.ReportedAt) {
		return false
	}
	if mut.Status != nil {
		rec.dev.Status = *mut.Status
	}
	if mut.Position != nil {
		rec.dev.Position = *mut.Position
	}
	if mut.BatteryPct != nil {
		rec.dev.BatteryPct = *mut.BatteryPct
	}
	if mut.Payload != nil {
		rec.dev.Payload = append([]string(nil), mut.Payload...)
	}
	if mut.UpperBuffer != nil {
		rec.dev.UpperBuffer = append([]string(nil), mut.UpperBuffer...)
	}
	if mut.LowerBuffer != nil {
		rec.dev.LowerBuffer = append([]string(nil), mut.LowerBuffer...)
	}
	if mut.OutputBuffer != nil {
		rec.dev.OutputBuffer = append([]string(nil), mut.OutputBuffer...)
	}
	rec.dev.ReportedAt = mut.Timestamp
	rec.dev.LastSeen = s.now()
	rec.dev.Stale = false
	return true
}

// Snapshot assembles an immutable view of one line. Devices silent beyond the
// staleness window are flagged stale in the returned view and in the store.
func (s *Store) Snapshot(lineID string) Snapshot {
	now := s.now()
	snap := Snapshot{LineID: lineID, At: now, Devices: make(map[string]model.Device)}
	s.mu.RLock()
	line := s.records[lineID]
	recs := make([]*record, 0, len(line))
	for _, r := range line {
		recs = append(recs, r)
	}
	s.mu.RUnlock()
	for _, r := range recs {
		r.mu.Lock()
		if s.staleness > 0 && !r.dev.LastSeen.IsZero() && now.Sub(r.dev.LastSeen) > s.staleness {
			r.dev.Stale = true
		}
		snap.Devices[r.dev.ID] = r.dev.Clone()
		r.mu.Unlock()
	}
	return snap
}

// Lines returns the ids of all registered lines.
func (s *Store) Lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

// SetClock overrides the time source, used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }
