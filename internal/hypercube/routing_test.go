package hypercube

import (
	"testing"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/neighbor"
	"github.com/dantte-lp/hcsim/internal/packet"
)

func mustAddr(bits string) address.HypercubeAddress {
	a := address.NewHypercubeAddress(len(bits))
	for i, c := range bits {
		if c == '1' {
			a = a.SetBit(i, true)
		}
	}
	return a
}

func mac(b byte) address.MACAddress {
	return address.MACAddress{0, 0, 0, 0, 0, b}
}

func snapshot(phys address.MACAddress, addr string, role neighbor.Role) neighbor.Snapshot {
	m, _ := address.NewMaskAddress(mustAddr(addr), len(addr))
	return neighbor.Snapshot{PhysicalAddress: phys, PrimaryAddress: m, Role: role, Active: true}
}

func TestRouteDeliversLocally(t *testing.T) {
	r := NewRouter(nil, 1, 0, 0)
	self := mustAddr("000")
	pkt := &packet.DataPacket{TTL: packet.MaxTTL, Src: mustAddr("111"), Dst: self}

	d := r.Route(pkt, self, nil, nil, nil)
	if !d.Deliver {
		t.Fatalf("expected local delivery, got %+v", d)
	}
}

func TestRouteForwardsTowardsCloserNeighbour(t *testing.T) {
	r := NewRouter(nil, 1, 0, 0)
	self := mustAddr("000")
	near := snapshot(mac(1), "100", neighbor.Child)  // distance 0 from dst "100"
	far := snapshot(mac(2), "011", neighbor.Adjacent) // distance 3 from dst "100"
	neighbours := []neighbor.Snapshot{near, far}

	pkt := &packet.DataPacket{TTL: packet.MaxTTL, Src: self, Dst: mustAddr("100")}
	d := r.Route(pkt, self, nil, neighbours, nil)

	if !d.HasNextHop || d.NextHop != near.PhysicalAddress {
		t.Fatalf("expected forward to near neighbour, got %+v", d)
	}
	if pkt.TTL != packet.MaxTTL-1 {
		t.Fatalf("expected TTL decremented, got %d", pkt.TTL)
	}
}

func TestRouteLearnsReversePath(t *testing.T) {
	r := NewRouter(nil, 1, 0, 0)
	self := mustAddr("000")
	from := mac(9)

	pkt := &packet.DataPacket{TTL: 100, Src: mustAddr("111"), Dst: self}
	r.Route(pkt, self, &from, nil, nil)

	fe := r.Table.flow(pkt.Src, pkt.Dst)
	if fe.reverse == nil || !fe.reverse.HasNextHop || fe.reverse.NextHop != from {
		t.Fatalf("expected reverse route learned towards %v", from)
	}
}

func TestRouteBacktracksWhenAllNeighboursVisited(t *testing.T) {
	r := NewRouter(nil, 1, 0, 0)
	self := mustAddr("000")
	only := snapshot(mac(1), "100", neighbor.Child)
	neighbours := []neighbor.Snapshot{only}

	dst := mustAddr("100")
	src := mustAddr("111")
	from2 := mac(9) // arrives from a non-neighbour physical link, learns reverse to src

	pkt := &packet.DataPacket{TTL: packet.MaxTTL, Src: src, Dst: dst}
	d1 := r.Route(pkt, self, &from2, neighbours, nil)
	if !d1.HasNextHop || d1.NextHop != only.PhysicalAddress {
		t.Fatalf("expected forward to the only neighbour, got %+v", d1)
	}

	// "only" bounces the packet straight back (it has no further usable
	// neighbour either); every usable neighbour on this flow is now
	// visited, so the dead end must bounce back towards src via the
	// reverse route learned from the original arrival.
	pkt.Returned = true
	d2 := r.Route(pkt, self, &only.PhysicalAddress, neighbours, nil)
	if !d2.HasNextHop || d2.NextHop != from2 {
		t.Fatalf("expected dead-end bounce back to %v, got %+v", from2, d2)
	}
}

func TestRouteReturnedPacketClearsFlagAndRetries(t *testing.T) {
	r := NewRouter(nil, 1, 0, 0)
	self := mustAddr("000")
	a := snapshot(mac(1), "100", neighbor.Child)
	b := snapshot(mac(2), "010", neighbor.Adjacent)
	neighbours := []neighbor.Snapshot{a, b}

	pkt := &packet.DataPacket{TTL: packet.MaxTTL, Returned: true, Src: self, Dst: mustAddr("110")}
	from := mac(1)
	d := r.Route(pkt, self, &from, neighbours, nil)

	if pkt.Returned {
		t.Fatalf("expected Returned flag cleared before retry")
	}
	if !d.HasNextHop {
		t.Fatalf("expected a retry decision, got %+v", d)
	}
}
