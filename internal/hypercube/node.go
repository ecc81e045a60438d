package hypercube

import (
	"log/slog"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/bus"
	"github.com/dantte-lp/hcsim/internal/neighbor"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

// Params collects the timeout/period/retry constants the three state
// machines are parameterised by, sourced from internal/config so a
// scenario can tune them without touching code.
type Params struct {
	AddressBitLen          int
	WaitPAPTimeout         units.Time
	WaitPAPRetries         int
	WaitPANCTimeout        units.Time
	HeardBitPeriod         units.Time
	WaitWaitMeTimeout      units.Time
	ListenHBTimeout        units.Time
	WaitSANTimeout         units.Time
	WaitPANTimeout         units.Time
	NeighboursBeforeParent int
	RoutingEntryTimeout    units.Time
	BitmapClearPeriod      units.Time
}

// Transport is the interface Node uses to emit control and data packets;
// Network implements it with the physical link/bandwidth model (module A,
// ordering guarantee O4).
type Transport interface {
	Broadcast(fromNode int, pkt packet.ControlPacket)
	SendUnicast(fromNode int, to address.MACAddress, pkt packet.ControlPacket)
	SendData(fromNode int, to address.MACAddress, pkt packet.DataPacket)
}

// papResponse is one PAP reply buffered while WaitPAP is open.
type papResponse struct {
	sender     address.MACAddress
	exhausted  bool
	proposals  []address.HypercubeMaskAddress // index 0 = primary proposal, rest = reconnect proposals
	isReconnect []bool
}

// Node owns one simulated network participant: its three state machines,
// its primary/secondary addresses, its neighbour table, and the pending
// timeout events that drive them. It is exclusively owned by the network
// arena that created it; nothing outside holds a pointer into its state
// (spec.md §9 "cyclic ownership").
type Node struct {
	ID       int
	Phys     address.MACAddress
	Identity string

	sched     *scheduler.Scheduler
	bus       *bus.Bus
	neighbors *neighbor.Table
	transport Transport
	params    Params
	logger    *slog.Logger

	MainState MainState
	PAPState  PAPState
	HBLState  HBLState

	Primary       address.HypercubeMaskAddress
	Secondary     *address.AddressSpace
	recoveredMask address.HypercubeAddress

	reconnects []address.HypercubeMaskAddress

	papRetries   int
	papResponses []papResponse
	chosenParent *papResponse

	papProposals []address.HypercubeMaskAddress

	pendingDiscIDs map[int]struct{}

	waitPAPEvent    *scheduler.Event
	waitPANCEvent   *scheduler.Event
	heardBitEvent   *scheduler.Event
	waitWaitMeEvent *scheduler.Event
	listenHBEvent   *scheduler.Event
	waitSANEvent    *scheduler.Event
	waitPANEvent    *scheduler.Event

	offerTarget address.MACAddress
	offerAddr   address.HypercubeMaskAddress

	connected bool

	router *Router

	// OnConnected, OnNewRoute, etc. let the rendez-vous layer (which owns
	// no reference into Node) observe lifecycle transitions without the
	// two packages importing each other.
	OnConnected      func(primary address.HypercubeMaskAddress, parent address.MACAddress)
	OnWillDisconnect func()
	OnAddressGiven   func(givenPrefix address.HypercubeMaskAddress, recipient address.MACAddress)
	OnDisconnected   func()

	// OnDataReceived is invoked for every non-rendez-vous DataPacket
	// addressed to this node that the router delivers locally.
	OnDataReceived func(pkt packet.DataPacket)

	// OnRVPacketReceived is invoked for every rendez-vous DataPacket the
	// router delivers locally, decoded to its RVPayload. src is the
	// packet's originating node, not necessarily the immediate sender.
	OnRVPacketReceived func(payload packet.RVPayload, src address.HypercubeAddress)

	// OnPacketDiscarded is invoked whenever this node drops a data packet
	// whose TTL hit zero before it could be delivered or forwarded.
	OnPacketDiscarded func(pkt packet.DataPacket)
}

// Connected reports whether the Main SM currently holds this node joined
// to the network.
func (n *Node) Connected() bool { return n.connected }

// NewNode constructs a node with an empty Main SM at Disconnected.
func NewNode(id int, phys address.MACAddress, identity string, sched *scheduler.Scheduler, b *bus.Bus, transport Transport, params Params, logger *slog.Logger) *Node {
	n := &Node{
		ID:             id,
		Phys:           phys,
		Identity:       identity,
		sched:          sched,
		bus:            b,
		neighbors:      neighbor.NewTable(),
		transport:      transport,
		params:         params,
		logger:         logger.With(slog.Int("node_id", id)),
		Secondary:      address.NewAddressSpace(),
		recoveredMask:  address.NewHypercubeAddress(params.AddressBitLen),
		pendingDiscIDs: make(map[int]struct{}),
		router:         NewRouter(sched, params.NeighboursBeforeParent, params.RoutingEntryTimeout, params.BitmapClearPeriod),
	}
	n.Primary, _ = address.NewMaskAddress(address.NewHypercubeAddress(params.AddressBitLen), 0)
	return n
}

// JoinNetwork starts the Main SM's join handshake.
func (n *Node) JoinNetwork() {
	n.applyMain(EventJoinNetwork, MainDecision{})
}

// LeaveNetwork starts graceful disconnection.
func (n *Node) LeaveNetwork() {
	n.applyMain(EventLeaveNetwork, MainDecision{})
}

func (n *Node) cancelMainTimeouts() {
	n.waitPAPEvent.Cancel()
	n.waitPANCEvent.Cancel()
	n.heardBitEvent.Cancel()
	n.waitWaitMeEvent.Cancel()
	n.listenHBEvent.Cancel()
	n.waitSANEvent.Cancel()
}

// applyMain runs the Main SM and dispatches its actions.
func (n *Node) applyMain(event MainEvent, d MainDecision) {
	result := ApplyMainEvent(n.MainState, event, d)
	if !result.Changed {
		return
	}
	if result.OldState != result.NewState {
		n.logger.Debug("main sm transition", slog.String("from", result.OldState.String()), slog.String("to", result.NewState.String()), slog.String("event", event.String()))
	}
	n.MainState = result.NewState
	for _, a := range result.Actions {
		n.executeMainAction(a)
	}
}

func (n *Node) executeMainAction(a MainAction) {
	switch a {
	case ActionBroadcastPAR:
		n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypePAR, PhysAddr: n.Phys, Primary: n.Primary})
	case ActionArmWaitPAPTimeout:
		n.waitPAPEvent.Cancel()
		n.papResponses = nil
		e := &scheduler.Event{FireAt: n.params.WaitPAPTimeout}
		e.Effect = func() {
			if e.Cancelled() {
				return
			}
			exhausted := n.papRetries >= n.params.WaitPAPRetries
			n.papRetries++
			best, hasOffer := n.pickBestPAPResponse()
			if hasOffer {
				n.chosenParent = best
			}
			n.applyMain(EventWaitPAPTimeout, MainDecision{
				RetriesExhausted:  exhausted,
				HasAnyResponse:    len(n.papResponses) > 0,
				HasOfferingParent: hasOffer,
			})
		}
		n.waitPAPEvent = n.sched.AddEvent(e, true)
	case ActionClaimZeroAddress:
		n.Primary, _ = address.NewMaskAddress(address.NewHypercubeAddress(n.params.AddressBitLen), 0)
	case ActionEmitConnected:
		n.connected = true
		var parent address.MACAddress
		if n.chosenParent != nil {
			parent = n.chosenParent.sender
		}
		n.bus.Publish(bus.Connected, n.Primary)
		if n.OnConnected != nil {
			n.OnConnected(n.Primary, parent)
		}
		n.startListenHBTimer()
	case ActionEmitCantConnect:
		n.bus.Publish(bus.CantConnect, nil)
	case ActionMarkChosenParentOf:
		if n.chosenParent != nil {
			n.neighbors.SetRole(n.chosenParent.sender, neighbor.ParentOf)
			n.Primary = n.chosenParent.proposals[0]
		}
	case ActionMarkOthersNotConnected:
		for _, r := range n.papResponses {
			if n.chosenParent == nil || r.sender != n.chosenParent.sender {
				n.neighbors.SetRole(r.sender, neighbor.NotConnected)
			}
		}
	case ActionBroadcastPAN:
		n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypePAN, PhysAddr: n.Phys, Primary: n.Primary})
	case ActionArmWaitPANCTimeout:
		n.waitPANCEvent.Cancel()
		e := &scheduler.Event{FireAt: n.params.WaitPANCTimeout}
		e.Effect = func() {
			if e.Cancelled() {
				return
			}
			n.applyMain(EventWaitPANCTimeout, MainDecision{})
		}
		n.waitPANCEvent = n.sched.AddEvent(e, true)
	case ActionArmHeardBitPeriod:
		n.heardBitEvent.Cancel()
		e := &scheduler.Event{FireAt: n.params.HeardBitPeriod}
		e.Effect = func() {
			if e.Cancelled() {
				return
			}
			n.applyMain(EventHeardBitTimeout, MainDecision{})
		}
		n.heardBitEvent = n.sched.AddEvent(e, true)
	case ActionBroadcastHB:
		n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypeHB, PhysAddr: n.Phys, Primary: n.Primary})
	case ActionHandleSAP:
		// Handled directly by ReceiveSAP before dispatch; nothing further here.
	case ActionHandleDISC:
		// Handled directly by ReceiveDISC before dispatch; nothing further here.
	case ActionPublishWillDisconnect:
		n.bus.Publish(bus.WillDisconnect, nil)
		if n.OnWillDisconnect != nil {
			n.OnWillDisconnect()
		}
	case ActionArmWaitWaitMeTimeout:
		n.pendingDiscIDs = make(map[int]struct{})
		e := &scheduler.Event{FireAt: n.params.WaitWaitMeTimeout}
		e.Effect = func() {
			if e.Cancelled() {
				return
			}
			n.applyMain(EventWaitWaitMeTimeout, MainDecision{PendingSetEmpty: len(n.pendingDiscIDs) == 0})
		}
		n.waitWaitMeEvent = n.sched.AddEvent(e, true)
	case ActionArmWaitReadyForDiscTimeout:
		n.applyMain(EventWaitReadyForDiscEntry, MainDecision{PendingSetEmpty: len(n.pendingDiscIDs) == 0})
	case ActionGoDisconnectedDirectly:
	case ActionBroadcastDISC:
		hasChild := n.hasChildren()
		flags := uint8(0)
		if hasChild {
			flags = packet.FlagHasChild
		}
		n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypeDISC, Flags: flags, PhysAddr: n.Phys, Primary: n.Primary})
	case ActionPublishDisconnected:
		n.connected = false
		n.cancelMainTimeouts()
		n.bus.Publish(bus.Disconnected, nil)
		if n.OnDisconnected != nil {
			n.OnDisconnected()
		}
	}
}

// WaitMe registers a hold request from a subscriber during WaitWaitMe.
func (n *Node) WaitMe(id int) {
	if n.MainState != WaitWaitMe {
		return
	}
	n.pendingDiscIDs[id] = struct{}{}
}

// ReadyForDisc acknowledges a previously registered hold.
func (n *Node) ReadyForDisc(id int) {
	delete(n.pendingDiscIDs, id)
	n.applyMain(EventReadyForDiscReceived, MainDecision{PendingSetEmpty: len(n.pendingDiscIDs) == 0})
}

// startListenHBTimer begins the periodic neighbour-aging/promotion cycle
// the HBL SM runs once a node has an address to defend. It self-rearms via
// the event's Period, independent of the Main SM's heartbeat-broadcast
// timer, since listening and broadcasting are separate concerns.
func (n *Node) startListenHBTimer() {
	n.listenHBEvent.Cancel()
	e := &scheduler.Event{FireAt: n.params.ListenHBTimeout, Period: n.params.ListenHBTimeout}
	e.Effect = func() {
		if e.Cancelled() {
			return
		}
		n.applyHBL(EventListenHBTimeout, HBLDecision{FoundOfferTarget: n.hasOfferTarget()}, hblExchange{})
		n.neighbors.MarkAllInactive()
	}
	n.listenHBEvent = n.sched.AddEvent(e, true)
}

// hasOfferTarget reports whether sendSecondaryOffer would find a
// NotConnected neighbour at distance 1 to propose a secondary address to.
func (n *Node) hasOfferTarget() bool {
	found := false
	n.neighbors.ForEach(func(nb *neighbor.Neighbour) {
		if found || nb.Role != neighbor.NotConnected {
			return
		}
		if n.Primary.DistanceWithMask(nb.PrimaryAddress) == 1 {
			found = true
		}
	})
	return found
}

// NeighbourPrimary returns the primary address this node has recorded for
// a directly-connected peer, letting a rendez-vous server address a packet
// to a known neighbour (the parent, a handoff recipient) by its hypercube
// address instead of its physical one.
func (n *Node) NeighbourPrimary(phys address.MACAddress) (address.HypercubeMaskAddress, bool) {
	nb, ok := n.neighbors.Lookup(phys)
	if !ok {
		return address.HypercubeMaskAddress{}, false
	}
	return nb.PrimaryAddress, true
}

func (n *Node) hasChildren() bool {
	hasChild := false
	n.neighbors.ForEach(func(nb *neighbor.Neighbour) {
		if nb.Role == neighbor.Child {
			hasChild = true
		}
	})
	return hasChild
}

// pickBestPAPResponse implements the Main SM's WaitPAP response-selection
// rule: prefer the reconnect proposal with the most adjacent neighbours,
// ties broken by smaller mask; otherwise the shallowest primary proposal.
func (n *Node) pickBestPAPResponse() (*papResponse, bool) {
	if len(n.papResponses) == 0 {
		return nil, false
	}

	type reconnectCandidate struct {
		resp      *papResponse
		idx       int
		adjacency int
	}
	var best *reconnectCandidate
	for i := range n.papResponses {
		r := &n.papResponses[i]
		for pi, isR := range r.isReconnect {
			if !isR {
				continue
			}
			adj := n.countAdjacentNeighbours(r.proposals[pi])
			if best == nil || adj > best.adjacency ||
				(adj == best.adjacency && r.proposals[pi].Mask < best.resp.proposals[best.idx].Mask) {
				best = &reconnectCandidate{resp: r, idx: pi, adjacency: adj}
			}
		}
	}
	if best != nil {
		chosen := *best.resp
		chosen.proposals = []address.HypercubeMaskAddress{best.resp.proposals[best.idx]}
		return &chosen, true
	}

	var shallowest *papResponse
	for i := range n.papResponses {
		r := &n.papResponses[i]
		if r.exhausted || len(r.proposals) == 0 {
			continue
		}
		if shallowest == nil || r.proposals[0].Mask < shallowest.proposals[0].Mask {
			shallowest = r
		}
	}
	if shallowest == nil {
		return nil, false
	}
	return shallowest, true
}

func (n *Node) countAdjacentNeighbours(candidate address.HypercubeMaskAddress) int {
	count := 0
	n.neighbors.ForEach(func(nb *neighbor.Neighbour) {
		if nb.PrimaryAddress.Address.BitLen() != candidate.Address.BitLen() {
			return
		}
		if d, err := nb.PrimaryAddress.Address.HammingDistance(candidate.Address); err == nil && d == 1 {
			count++
		}
	})
	return count
}

// recoverAddress restores the address bit a disconnecting leaf child
// frees: find the first index where this node's primary and childAddr
// differ, set that bit of recoveredMask, then walk backwards from
// primary.mask-1 clearing trailing recovered bits and shortening the mask.
// At primary mask 0 this is a defined no-op (spec.md §9 Open Question 2).
func (n *Node) recoverAddress(childAddr address.HypercubeAddress) {
	if n.Primary.Mask == 0 {
		return
	}

	diffIdx := -1
	for i := 0; i < n.Primary.Mask; i++ {
		if n.Primary.Address.Bit(i) != childAddr.Bit(i) {
			diffIdx = i
			break
		}
	}
	if diffIdx < 0 {
		return
	}
	n.recoveredMask = n.recoveredMask.SetBit(diffIdx, true)

	mask := n.Primary.Mask
	for mask > 0 && n.recoveredMask.Bit(mask-1) {
		n.recoveredMask = n.recoveredMask.SetBit(mask-1, false)
		mask--
	}
	n.Primary.Mask = mask
}
