// Package scheduler implements the discrete-event core: a monotone virtual
// clock and a priority queue of time-stamped events. Nothing in the
// simulator advances time except by popping the next event off this queue,
// per the single-threaded cooperative model.
package scheduler

import (
	"container/heap"

	"github.com/dantte-lp/hcsim/internal/units"
)

// Effect is the function invoked when an event fires.
type Effect func()

// Event is a time-stamped unit of work. A zero Period marks a one-shot
// event; a positive Period means the event reschedules itself at
// FireAt += Period after firing.
type Event struct {
	FireAt    units.Time
	Period    units.Time
	Sequence  uint64
	Effect    Effect
	cancelled bool
	index     int // heap bookkeeping
}

// Cancel marks the event cancelled. Cancellation cannot fail and is
// idempotent; a cancelled event's Effect is skipped when it fires.
func (e *Event) Cancel() {
	if e == nil {
		return
	}
	e.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (e *Event) Cancelled() bool {
	return e != nil && e.cancelled
}

// eventHeap orders events by (FireAt asc, Sequence asc), giving FIFO order
// among events scheduled for the same virtual time.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].FireAt != h[j].FireAt {
		return h[i].FireAt < h[j].FireAt
	}
	return h[i].Sequence < h[j].Sequence
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler owns the virtual clock and the event priority queue.
type Scheduler struct {
	now   units.Time
	queue eventHeap
	seq   uint64
}

// New returns a scheduler with the clock at zero.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.queue)
	return s
}

// Now returns the current virtual time.
func (s *Scheduler) Now() units.Time { return s.now }

// Pending reports how many events remain queued.
func (s *Scheduler) Pending() int { return s.queue.Len() }

// nextSequence returns the next value of the global monotone sequence
// counter, used across every event ever scheduled.
func (s *Scheduler) nextSequence() uint64 {
	s.seq++
	return s.seq
}

// AddEvent schedules e. If relative is true, e.FireAt is interpreted as a
// delta and is converted to an absolute time by adding Now(). The event's
// Sequence is assigned here, overriding any caller-supplied value, so that
// the global ordering counter stays monotone across every scheduled event.
func (s *Scheduler) AddEvent(e *Event, relative bool) *Event {
	if relative {
		e.FireAt += s.now
	}
	e.Sequence = s.nextSequence()
	heap.Push(&s.queue, e)
	return e
}

// After schedules a one-shot effect to run delta after Now().
func (s *Scheduler) After(delta units.Time, effect Effect) *Event {
	return s.AddEvent(&Event{FireAt: delta, Effect: effect}, true)
}

// Every schedules effect to run every period, starting at the first
// firing delta after Now().
func (s *Scheduler) Every(delta, period units.Time, effect Effect) *Event {
	return s.AddEvent(&Event{FireAt: delta, Period: period, Effect: effect}, true)
}

// Now0 schedules effect to run at the current virtual time, after every
// already-queued same-time event (used for intra-node message delivery,
// per ordering guarantee O3).
func (s *Scheduler) Now0(effect Effect) *Event {
	return s.AddEvent(&Event{FireAt: s.now, Effect: effect}, false)
}

// SimulateStep pops and fires the earliest event if its FireAt is <=
// maxTime, advancing the clock to that event's time first. It returns
// false (without firing anything) if the queue is empty or the earliest
// event's FireAt exceeds maxTime.
func (s *Scheduler) SimulateStep(maxTime units.Time) bool {
	if s.queue.Len() == 0 {
		return false
	}
	top := s.queue[0]
	if top.FireAt > maxTime {
		return false
	}

	e := heap.Pop(&s.queue).(*Event)
	s.now = e.FireAt

	if !e.cancelled && e.Effect != nil {
		e.Effect()
	}

	if e.Period > 0 && !e.cancelled {
		e.FireAt += e.Period
		s.AddEvent(e, false)
	}
	return true
}

// Simulate steps until no event remains at or before maxTime, then drains
// and discards whatever is left unfired.
func (s *Scheduler) Simulate(maxTime units.Time) {
	for s.SimulateStep(maxTime) {
	}
	s.queue = s.queue[:0]
}
