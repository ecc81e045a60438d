package bus_test

import (
	"testing"

	"github.com/dantte-lp/hcsim/internal/bus"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	sched := scheduler.New()
	b := bus.New(sched)

	var got []string
	b.Subscribe(bus.NewRoute, func(m *bus.Message) { got = append(got, "a:"+m.Payload.(string)) })
	b.Subscribe(bus.NewRoute, func(m *bus.Message) { got = append(got, "b:"+m.Payload.(string)) })

	sched.After(0, func() { b.Publish(bus.NewRoute, "x") })
	sched.Simulate(units.Second)

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	sched := scheduler.New()
	b := bus.New(sched)

	count := 0
	id := b.Subscribe(bus.LostRoute, func(m *bus.Message) { count++ })
	b.Unsubscribe(bus.LostRoute, id)

	sched.After(0, func() { b.Publish(bus.LostRoute, nil) })
	sched.Simulate(units.Second)

	if count != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestDeliveryRunsAfterSameTimeQueuedEvents(t *testing.T) {
	t.Parallel()

	sched := scheduler.New()
	b := bus.New(sched)

	var order []string
	b.Subscribe(bus.Connected, func(m *bus.Message) { order = append(order, "delivered") })

	sched.AddEvent(&scheduler.Event{FireAt: 0, Effect: func() {
		order = append(order, "publish")
		b.Publish(bus.Connected, nil)
	}}, false)
	sched.AddEvent(&scheduler.Event{FireAt: 0, Effect: func() {
		order = append(order, "other-same-time")
	}}, false)

	sched.Simulate(units.Second)

	if len(order) != 3 || order[2] != "delivered" {
		t.Fatalf("got %v, want delivery last", order)
	}
}
