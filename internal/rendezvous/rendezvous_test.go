package rendezvous_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/metrics"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/rendezvous"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
	"github.com/prometheus/client_golang/prometheus"
)

func testParams() hypercube.Params {
	return hypercube.Params{
		AddressBitLen:          8,
		WaitPAPTimeout:         10 * units.Millisecond,
		WaitPAPRetries:         1,
		WaitPANCTimeout:        10 * units.Millisecond,
		HeardBitPeriod:         50 * units.Millisecond,
		WaitWaitMeTimeout:      5 * units.Millisecond,
		ListenHBTimeout:        50 * units.Millisecond,
		WaitSANTimeout:         10 * units.Millisecond,
		WaitPANTimeout:         10 * units.Millisecond,
		NeighboursBeforeParent: 1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// twoJoinedNodes builds a two-node network, joins both, and simulates long
// enough for the join handshake (and with it each node's RV Register) to
// settle.
func twoJoinedNodes(t *testing.T) (*scheduler.Scheduler, *hypercube.Node, *hypercube.Node) {
	t.Helper()
	sched := scheduler.New()
	logger := discardLogger()
	net := hypercube.NewNetwork(sched, logger)
	params := testParams()

	a := net.NewNode("A", params)
	b := net.NewNode("B", params)
	net.Connect(a.ID, b.ID, 0, units.Millisecond)

	rendezvous.NewServer(a, sched, "A", params.AddressBitLen, 100*units.Millisecond, logger)
	rendezvous.NewServer(b, sched, "B", params.AddressBitLen, 100*units.Millisecond, logger)

	a.JoinNetwork()
	sched.Simulate(100 * units.Millisecond)
	b.JoinNetwork()
	sched.Simulate(500 * units.Millisecond)

	return sched, a, b
}

func TestClientResolvesAndFlushesQueuedSend(t *testing.T) {
	sched, a, b := twoJoinedNodes(t)
	logger := discardLogger()
	coll := metrics.NewCollector(prometheus.NewRegistry())

	var deliveredPayload []byte
	a.OnDataReceived = func(pkt packet.DataPacket) {
		deliveredPayload = pkt.Payload
	}

	client := rendezvous.NewClient(b, sched, 8, 5*units.Second, coll, logger)

	var solved *rendezvous.Solved
	client.OnSolved = func(s rendezvous.Solved) {
		cp := s
		solved = &cp
	}

	client.Send("A", 100, 200, []byte("hello"))
	sched.Simulate(sched.Now() + units.Second)

	if solved == nil {
		t.Fatalf("expected identity A to resolve")
	}
	if solved.Identity != "A" {
		t.Fatalf("expected resolved identity A, got %q", solved.Identity)
	}
	if solved.ElapsedTime < 0 {
		t.Fatalf("expected non-negative elapsed time, got %v", solved.ElapsedTime)
	}

	sPort, dPort, data, ok := rendezvous.DecodeApplication(deliveredPayload)
	if !ok {
		t.Fatalf("expected a delivered payload at A")
	}
	if sPort != 100 || dPort != 200 || string(data) != "hello" {
		t.Fatalf("got sPort=%d dPort=%d data=%q, want 100/200/hello", sPort, dPort, data)
	}
}

func TestClientCachesSecondSendWithoutAddressSolve(t *testing.T) {
	sched, a, b := twoJoinedNodes(t)
	logger := discardLogger()
	coll := metrics.NewCollector(prometheus.NewRegistry())

	deliveries := 0
	a.OnDataReceived = func(pkt packet.DataPacket) { deliveries++ }

	client := rendezvous.NewClient(b, sched, 8, 5*units.Second, coll, logger)
	client.Send("A", 1, 2, []byte("first"))
	sched.Simulate(sched.Now() + units.Second)

	if deliveries != 1 {
		t.Fatalf("expected first send delivered, got %d deliveries", deliveries)
	}

	client.Send("A", 1, 2, []byte("second"))
	sched.Simulate(sched.Now() + units.Second)

	if deliveries != 2 {
		t.Fatalf("expected second send delivered from cache, got %d deliveries", deliveries)
	}
}

func TestServerResolvesBothDirections(t *testing.T) {
	sched, a, b := twoJoinedNodes(t)
	logger := discardLogger()
	coll := metrics.NewCollector(prometheus.NewRegistry())

	clientA := rendezvous.NewClient(a, sched, 8, 5*units.Second, coll, logger)
	clientB := rendezvous.NewClient(b, sched, 8, 5*units.Second, coll, logger)

	aReceived := 0
	bReceived := 0
	a.OnDataReceived = func(pkt packet.DataPacket) { aReceived++ }
	b.OnDataReceived = func(pkt packet.DataPacket) { bReceived++ }

	clientB.Send("A", 1, 1, []byte("b-to-a"))
	clientA.Send("B", 2, 2, []byte("a-to-b"))
	sched.Simulate(sched.Now() + units.Second)

	if aReceived != 1 {
		t.Fatalf("expected A to receive 1 data packet, got %d", aReceived)
	}
	if bReceived != 1 {
		t.Fatalf("expected B to receive 1 data packet, got %d", bReceived)
	}
}
