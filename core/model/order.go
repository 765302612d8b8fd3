package model

import "time"

// OrderPriority ranks orders for admission.
type OrderPriority int

const (
	PriorityLow OrderPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p OrderPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ParsePriority maps the wire representation to an OrderPriority.
// Unknown values fall back to medium.
func ParsePriority(s string) OrderPriority {
	switch s {
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	}
	return PriorityMedium
}

// OrderStatus tracks the order lifecycle.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderAdmitted
	OrderCompleted
	OrderExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderAdmitted:
		return "admitted"
	case OrderCompleted:
		return "completed"
	case OrderExpired:
		return "expired"
	}
	return "unknown"
}

// OrderItem requests a quantity of one product type.
type OrderItem struct {
	ProductType ProductType `json:"product_type"`
	Quantity    int         `json:"quantity"`
}

// Order is a production request admitted to exactly one line.
type Order struct {
	ID        string
	Items     []OrderItem
	Priority  OrderPriority
	CreatedAt time.Time
	Deadline  time.Time
	Status    OrderStatus
	Line      string // line the order was admitted to, empty while pending
}

// Units returns the total number of products the order requests.
func (o Order) Units() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Expired reports whether the deadline has passed at the given instant.
func (o Order) Expired(now time.Time) bool {
	return !o.Deadline.IsZero() && now.After(o.Deadline)
}
