package scheduler_test

import (
	"testing"

	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

func TestFIFOAmongCoScheduledEvents(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.AddEvent(&scheduler.Event{FireAt: 10 * units.Millisecond, Effect: func() {
			order = append(order, i)
		}}, false)
	}

	s.Simulate(units.Second)
	for i, v := range order {
		if v != i {
			t.Fatalf("FIFO violated: order=%v", order)
		}
	}
}

func TestMonotoneClock(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	var times []units.Time
	s.AddEvent(&scheduler.Event{FireAt: 5 * units.Millisecond, Effect: func() {
		times = append(times, s.Now())
	}}, false)
	s.AddEvent(&scheduler.Event{FireAt: 1 * units.Millisecond, Effect: func() {
		times = append(times, s.Now())
	}}, false)

	s.Simulate(units.Second)
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			t.Fatalf("clock went backwards: %v", times)
		}
	}
}

func TestPeriodicReArming(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	count := 0
	s.AddEvent(&scheduler.Event{FireAt: 1 * units.Millisecond, Period: 1 * units.Millisecond, Effect: func() {
		count++
	}}, false)

	s.Simulate(5 * units.Millisecond)
	if count != 5 {
		t.Fatalf("got %d firings, want 5", count)
	}
}

func TestCancellationIsNoop(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	fired := false
	e := s.After(1*units.Millisecond, func() { fired = true })
	e.Cancel()

	s.Simulate(units.Second)
	if fired {
		t.Fatal("cancelled event's effect must not run")
	}
}

func TestSimulateStepReturnsFalseBeyondMaxTime(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	s.After(10*units.Millisecond, func() {})
	if s.SimulateStep(5 * units.Millisecond) {
		t.Fatal("expected false when earliest event exceeds maxTime")
	}
}

func TestNow0RunsAfterAlreadyQueuedSameTimeEvents(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	var order []string
	s.AddEvent(&scheduler.Event{FireAt: 0, Effect: func() {
		order = append(order, "queued")
		s.Now0(func() { order = append(order, "message") })
	}}, false)
	s.AddEvent(&scheduler.Event{FireAt: 0, Effect: func() {
		order = append(order, "queued2")
	}}, false)

	s.Simulate(units.Second)
	if len(order) != 3 || order[2] != "message" {
		t.Fatalf("got %v, want message delivered last", order)
	}
}
