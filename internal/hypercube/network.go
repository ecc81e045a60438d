package hypercube

import (
	"log/slog"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/bus"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

// link is a physical connection between two nodes: a bandwidth and a
// propagation delay, plus the per-direction "next time to send" cursor
// that serialises transmissions on it (ordering guarantee O4).
type link struct {
	bandwidth units.Bandwidth
	delay     units.Time

	nextSendA units.Time // cursor for node A -> B
	nextSendB units.Time // cursor for node B -> A
}

// frameBits is the nominal size used to compute serialization delay for a
// control frame; data frames are sized by sendDataOverLink's estimate.
const frameBits = 8 * 64

// Network is the arena owning every node by a small integer ID (spec.md
// §9 "cyclic ownership"): layers carry the node ID, never a pointer into
// another node's state.
type Network struct {
	sched  *scheduler.Scheduler
	nodes  []*Node
	byID   map[int]*Node
	links  map[[2]int]*link
	logger *slog.Logger
}

// NewNetwork returns an empty arena driven by sched.
func NewNetwork(sched *scheduler.Scheduler, logger *slog.Logger) *Network {
	return &Network{
		sched:  sched,
		byID:   make(map[int]*Node),
		links:  make(map[[2]int]*link),
		logger: logger,
	}
}

// NewNode allocates and registers a node, returning it.
func (net *Network) NewNode(identity string, params Params) *Node {
	id := len(net.nodes)
	phys := address.UniversalAddress(identity).HashToMAC()
	n := NewNode(id, phys, identity, net.sched, bus.New(net.sched), net, params, net.logger)
	net.nodes = append(net.nodes, n)
	net.byID[id] = n
	return n
}

// Nodes returns every registered node.
func (net *Network) Nodes() []*Node { return net.nodes }

// NodeByID looks up a node by its arena index.
func (net *Network) NodeByID(id int) (*Node, bool) {
	n, ok := net.byID[id]
	return n, ok
}

// NodeByPhys linear-scans for the node owning phys; the arena is small
// enough in practice (a simulation scenario's node count) that this avoids
// a second keyed index to keep in sync.
func (net *Network) NodeByPhys(phys address.MACAddress) (*Node, bool) {
	for _, n := range net.nodes {
		if n.Phys == phys {
			return n, true
		}
	}
	return nil, false
}

func linkKey(a, b int) [2]int {
	if a < b {
		return [2]int{a, b}
	}
	return [2]int{b, a}
}

// Connect establishes a bidirectional physical link between two nodes.
func (net *Network) Connect(aID, bID int, bandwidth units.Bandwidth, delay units.Time) {
	net.links[linkKey(aID, bID)] = &link{bandwidth: bandwidth, delay: delay}
}

// Broadcast implements Transport: it sends pkt to every node directly
// linked to fromNode. Ordering guarantee O4 requires a broadcast to use
// the minimum bandwidth across all of fromNode's connections: the sender
// is occupied for frameBits/minBandwidth as one shared serialization step
// covering every outgoing link, so a fast link is never freed up early
// while the sender is still busy broadcasting over a slower co-link.
func (net *Network) Broadcast(fromNode int, pkt packet.ControlPacket) {
	peers, links := net.linksFrom(fromNode)
	if len(links) == 0 {
		return
	}

	sendAt, serialization := net.reserveBroadcastSlot(fromNode, peers, links, frameBits)
	for i, l := range links {
		toID := peers[i]
		deliverAt := sendAt + serialization + l.delay
		net.sched.AddEvent(&scheduler.Event{
			FireAt: deliverAt,
			Effect: func() {
				if peer, ok := net.byID[toID]; ok {
					peer.ReceiveControlPacket(pkt)
				}
			},
		}, false)
	}
}

// linksFrom returns every peer ID and link directly connected to fromNode.
func (net *Network) linksFrom(fromNode int) ([]int, []*link) {
	var peers []int
	var links []*link
	for key, l := range net.links {
		var peer int
		switch fromNode {
		case key[0]:
			peer = key[1]
		case key[1]:
			peer = key[0]
		default:
			continue
		}
		peers = append(peers, peer)
		links = append(links, l)
	}
	return peers, links
}

// SendUnicast implements Transport: it sends pkt to a specific linked
// neighbour.
func (net *Network) SendUnicast(fromNode int, to address.MACAddress, pkt packet.ControlPacket) {
	peer, ok := net.NodeByPhys(to)
	if !ok {
		return
	}
	key := linkKey(fromNode, peer.ID)
	l, ok := net.links[key]
	if !ok {
		return
	}
	net.sendOverLink(fromNode, peer.ID, l, pkt)
}

// SendData implements Transport: it sends a data frame across the link to
// a specific neighbour, serialised the same way control frames are.
func (net *Network) SendData(fromNode int, to address.MACAddress, pkt packet.DataPacket) {
	peer, ok := net.NodeByPhys(to)
	if !ok {
		return
	}
	key := linkKey(fromNode, peer.ID)
	l, ok := net.links[key]
	if !ok {
		return
	}
	net.sendDataOverLink(fromNode, peer.ID, l, pkt)
}

// reserveSlot implements ordering guarantee O4: sendAt = max(now,
// nextTimeToSend), nextTimeToSend += bits/bandwidth, and returns the time
// the frame finishes arriving (sendAt + serialization + propagation
// delay). An infinite-bandwidth link has zero serialization delay.
func (net *Network) reserveSlot(fromID, toID int, l *link, bits int) units.Time {
	now := net.sched.Now()
	cursor := &l.nextSendA
	if fromID > toID {
		cursor = &l.nextSendB
	}

	sendAt := now
	if *cursor > sendAt {
		sendAt = *cursor
	}

	var serialization units.Time
	if !l.bandwidth.IsInfinite() {
		serialization = units.Time(bits) * units.Second / units.Time(l.bandwidth)
	}
	*cursor = sendAt + serialization

	return sendAt + serialization + l.delay
}

// reserveBroadcastSlot implements the broadcast half of ordering guarantee
// O4: every outgoing link shares one serialization step sized by the
// slowest of them (min bandwidth across the links), starting once the
// sender is free on every one of those links. It returns the shared send
// instant and serialization duration; the caller advances each link's own
// cursor and computes its own propagation delay.
func (net *Network) reserveBroadcastSlot(fromID int, peers []int, links []*link, bits int) (units.Time, units.Time) {
	now := net.sched.Now()

	sendAt := now
	minBandwidth := units.Bandwidth(0)
	haveFinite := false
	for i, l := range links {
		cursor := l.nextSendA
		if fromID > peers[i] {
			cursor = l.nextSendB
		}
		if cursor > sendAt {
			sendAt = cursor
		}
		if !l.bandwidth.IsInfinite() && (!haveFinite || l.bandwidth < minBandwidth) {
			minBandwidth = l.bandwidth
			haveFinite = true
		}
	}

	var serialization units.Time
	if haveFinite {
		serialization = units.Time(bits) * units.Second / units.Time(minBandwidth)
	}

	for i, l := range links {
		if fromID > peers[i] {
			l.nextSendB = sendAt + serialization
		} else {
			l.nextSendA = sendAt + serialization
		}
	}

	return sendAt, serialization
}

// sendOverLink schedules delivery of a control frame, serialising the
// link per ordering guarantee O4.
func (net *Network) sendOverLink(fromID, toID int, l *link, pkt packet.ControlPacket) {
	deliverAt := net.reserveSlot(fromID, toID, l, frameBits)
	net.sched.AddEvent(&scheduler.Event{
		FireAt: deliverAt,
		Effect: func() {
			if peer, ok := net.byID[toID]; ok {
				peer.ReceiveControlPacket(pkt)
			}
		},
	}, false)
}

// sendDataOverLink schedules delivery of a data frame, sized from its
// payload and route-header count plus a fixed 16-byte header allowance
// rather than the nominal control-frame size. The size is an estimate,
// not the length MarshalDataPacket would produce.
func (net *Network) sendDataOverLink(fromID, toID int, l *link, pkt packet.DataPacket) {
	bits := 8 * (len(pkt.Payload) + len(pkt.Route)*8 + 16)
	deliverAt := net.reserveSlot(fromID, toID, l, bits)
	fromPhys := net.byID[fromID].Phys
	net.sched.AddEvent(&scheduler.Event{
		FireAt: deliverAt,
		Effect: func() {
			if peer, ok := net.byID[toID]; ok {
				peer.ReceiveDataPacket(pkt, fromPhys)
			}
		},
	}, false)
}
