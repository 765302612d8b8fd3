package orders

import (
	"sort"
	"sync"
	"time"

	"github.com/flowline/flowline/core/logger"
	"github.com/flowline/flowline/core/model"
)

// Message is the inbound order payload.
type Message struct {
	OrderID   string            `json:"order_id"`
	CreatedAt float64           `json:"created_at"`
	Items     []model.OrderItem `json:"items"`
	Priority  string            `json:"priority"`
	// Deadline is expressed in seconds from creation.
	Deadline float64 `json:"deadline"`
}

// Manager is the cross-line order backlog. Admission decisions must be
// globally consistent, so the whole manager is one mutual-exclusion region:
// two lines can never admit the same order, and no line exceeds its quota of
// admitted-but-incomplete orders.
type Manager struct {
	mu        sync.Mutex
	orders    map[string]*model.Order
	remaining map[string]map[model.ProductType]int // open units per admitted order
	quota     int
	log       logger.Logger
	now       func() time.Time
}

// NewManager creates a Manager with the per-line-per-cycle admission quota.
func NewManager(quota int, log logger.Logger) *Manager {
	if quota <= 0 {
		quota = 2
	}
	return &Manager{
		orders:    make(map[string]*model.Order),
		remaining: make(map[string]map[model.ProductType]int),
		quota:     quota,
		log:       log,
		now:       time.Now,
	}
}

// Submit registers an inbound order. Duplicate ids return the existing order
// unchanged.
func (m *Manager) Submit(msg Message) (model.Order, bool) {
	if msg.OrderID == "" {
		return model.Order{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, exists := m.orders[msg.OrderID]; exists {
		m.log.Debugf("order %s already known", msg.OrderID)
		return *o, true
	}
	created := m.now()
	if msg.CreatedAt > 0 {
		created = time.Unix(int64(msg.CreatedAt), 0)
	}
	o := &model.Order{
		ID:        msg.OrderID,
		Items:     append([]model.OrderItem(nil), msg.Items...),
		Priority:  model.ParsePriority(msg.Priority),
		CreatedAt: created,
		Status:    model.OrderPending,
	}
	if msg.Deadline > 0 {
		o.Deadline = created.Add(time.Duration(msg.Deadline * float64(time.Second)))
	}
	m.orders[msg.OrderID] = o
	m.log.Infof("order %s accepted: %d units, priority %s", o.ID, o.Units(), o.Priority)
	return *o, true
}

// AdmitNext admits pending orders to the given line, selected by priority
// descending then deadline ascending. The line's count of admitted-but-
// incomplete orders never exceeds the quota, regardless of priority.
func (m *Manager) AdmitNext(lineID string) []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := m.quota - m.admittedIncompleteLocked(lineID)
	if free <= 0 {
		return nil
	}
	var pending []*model.Order
	now := m.now()
	for _, o := range m.orders {
		if o.Status != model.OrderPending {
			continue
		}
		if o.Expired(now) {
			o.Status = model.OrderExpired
			m.log.Warnf("order %s expired before admission", o.ID)
			continue
		}
		pending = append(pending, o)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		di, dj := pending[i].Deadline, pending[j].Deadline
		if di.IsZero() || dj.IsZero() {
			return dj.IsZero() && !di.IsZero()
		}
		return di.Before(dj)
	})
	if len(pending) > free {
		pending = pending[:free]
	}
	out := make([]model.Order, 0, len(pending))
	for _, o := range pending {
		o.Status = model.OrderAdmitted
		o.Line = lineID
		open := make(map[model.ProductType]int)
		for _, it := range o.Items {
			open[it.ProductType] += it.Quantity
		}
		m.remaining[o.ID] = open
		out = append(out, *o)
		m.log.Infof("order %s admitted to %s", o.ID, lineID)
	}
	return out
}

// RecordDelivery attributes one delivered product to the oldest admitted
// order on the line still waiting for that type. A fully delivered order is
// marked completed, freeing its admission slot.
func (m *Manager) RecordDelivery(lineID string, ptype model.ProductType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var match *model.Order
	for _, o := range m.orders {
		if o.Line != lineID || o.Status != model.OrderAdmitted {
			continue
		}
		if m.remaining[o.ID][ptype] <= 0 {
			continue
		}
		if match == nil || o.CreatedAt.Before(match.CreatedAt) {
			match = o
		}
	}
	if match == nil {
		return
	}
	m.remaining[match.ID][ptype]--
	open := 0
	for _, n := range m.remaining[match.ID] {
		open += n
	}
	if open == 0 {
		match.Status = model.OrderCompleted
		delete(m.remaining, match.ID)
		m.log.Infof("order %s completed on %s", match.ID, lineID)
	}
}

func (m *Manager) admittedIncompleteLocked(lineID string) int {
	n := 0
	for _, o := range m.orders {
		if o.Line == lineID && o.Status == model.OrderAdmitted {
			n++
		}
	}
	return n
}

// AdmittedIncomplete returns the number of admitted-but-incomplete orders on
// the line.
func (m *Manager) AdmittedIncomplete(lineID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admittedIncompleteLocked(lineID)
}

// BacklogAdmitted reports whether the line currently holds admitted orders.
func (m *Manager) BacklogAdmitted(lineID string) bool {
	return m.AdmittedIncomplete(lineID) > 0
}

// Admitted returns copies of the orders admitted to a line and still open.
func (m *Manager) Admitted(lineID string) []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.orders {
		if o.Line == lineID && o.Status == model.OrderAdmitted {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Complete marks an order completed, freeing its admission slot.
func (m *Manager) Complete(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != model.OrderAdmitted {
		return
	}
	o.Status = model.OrderCompleted
	delete(m.remaining, o.ID)
	m.log.Infof("order %s completed on %s", o.ID, o.Line)
}

// ExpireDue retires pending and admitted orders past their deadline and
// returns the ones retired.
func (m *Manager) ExpireDue() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []model.Order
	for _, o := range m.orders {
		if (o.Status == model.OrderPending || o.Status == model.OrderAdmitted) && o.Expired(now) {
			o.Status = model.OrderExpired
			delete(m.remaining, o.ID)
			out = append(out, *o)
			m.log.Warnf("order %s expired", o.ID)
		}
	}
	return out
}

// SetClock overrides the time source, used by tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }
