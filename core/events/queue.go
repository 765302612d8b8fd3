package events

import (
	"sync"

	"github.com/flowline/flowline/core/model"
)

// Queue orders pending events by (severity, arrival sequence). Draining
// preserves arrival order within a severity tier. Entries are not
// deduplicated; the classifier only emits on state deltas, which bounds
// re-emission naturally.
type Queue struct {
	mu      sync.Mutex
	tiers   map[model.Severity][]entry
	seq     uint64
	trigger chan struct{}
}

type entry struct {
	seq uint64
	ev  model.Event
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tiers:   make(map[model.Severity][]entry),
		trigger: make(chan struct{}, 1),
	}
}

// Push enqueues an event. Events of severity high or above additionally
// signal the trigger channel so a reactive pass can wake without polling.
func (q *Queue) Push(ev model.Event) {
	q.mu.Lock()
	q.seq++
	q.tiers[ev.Severity] = append(q.tiers[ev.Severity], entry{seq: q.seq, ev: ev})
	q.mu.Unlock()
	if ev.Severity >= model.SeverityHigh {
		select {
		case q.trigger <- struct{}{}:
		default:
		}
	}
}

// Trigger returns a channel that receives a signal whenever an event of
// severity high or above is pushed.
func (q *Queue) Trigger() <-chan struct{} { return q.trigger }

// PeekHighest returns the highest-severity pending event without removing it.
func (q *Queue) PeekHighest() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for sev := model.SeverityCritical; sev >= model.SeverityLow; sev-- {
		if tier := q.tiers[sev]; len(tier) > 0 {
			return tier[0].ev, true
		}
	}
	return model.Event{}, false
}

// PopAllAtOrAbove drains every pending event with severity >= min, highest
// tier first, FIFO within a tier.
func (q *Queue) PopAllAtOrAbove(min model.Severity) []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.Event
	for sev := model.SeverityCritical; sev >= min; sev-- {
		for _, e := range q.tiers[sev] {
			out = append(out, e.ev)
		}
		delete(q.tiers, sev)
	}
	return out
}

// PopAll drains the whole queue.
func (q *Queue) PopAll() []model.Event {
	return q.PopAllAtOrAbove(model.SeverityLow)
}

// PopAllBelow drains every pending event with severity < max, highest tier
// first, FIFO within a tier. The planning cadence uses it to pick up low and
// medium work without touching events reserved for the reactive pass.
func (q *Queue) PopAllBelow(max model.Severity) []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.Event
	for sev := max - 1; sev >= model.SeverityLow; sev-- {
		for _, e := range q.tiers[sev] {
			out = append(out, e.ev)
		}
		delete(q.tiers, sev)
	}
	return out
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, tier := range q.tiers {
		n += len(tier)
	}
	return n
}
