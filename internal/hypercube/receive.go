package hypercube

import (
	"log/slog"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/bus"
	"github.com/dantte-lp/hcsim/internal/neighbor"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/scheduler"
)

// ReceiveControlPacket dispatches an inbound control packet to the
// relevant state machine. It is the single entry point Network calls when
// delivering a frame to this node.
func (n *Node) ReceiveControlPacket(pkt packet.ControlPacket) {
	switch pkt.Type {
	case packet.TypePAR:
		n.receivePAR(pkt)
	case packet.TypePAP:
		n.receivePAP(pkt)
	case packet.TypePAN:
		n.receivePAN(pkt)
	case packet.TypePANC:
		n.applyMain(EventPANCReceived, MainDecision{})
	case packet.TypeHB:
		n.receiveHB(pkt)
	case packet.TypeSAP:
		n.receiveSAP(pkt)
	case packet.TypeSAN:
		n.receiveSAN(pkt)
	case packet.TypeDISC:
		n.receiveDISC(pkt)
	}
}

// --- PAP SM ---

// papExchange holds the sender of whichever PAR/PAN packet is currently
// being processed, consumed by executePAPAction so the action dispatch
// loop (not the receive handlers) performs every side effect.
type papExchange struct {
	sender       address.MACAddress
	reconnectIdx int
}

func (n *Node) applyPAP(event PAPEvent, d PAPDecision, ex papExchange) {
	result := ApplyPAPEvent(n.PAPState, event, d)
	if !result.Changed {
		return
	}
	n.PAPState = result.NewState
	for _, a := range result.Actions {
		n.executePAPAction(a, ex)
	}
}

func (n *Node) receivePAR(pkt packet.ControlPacket) {
	exhausted := n.Primary.Mask == n.params.AddressBitLen
	n.applyPAP(EventPARReceived, PAPDecision{
		HBLIsWaitingSAN: n.HBLState == WaitSAN,
		SpaceExhausted:  exhausted,
	}, papExchange{sender: pkt.PhysAddr})
}

func (n *Node) receivePAP(pkt packet.ControlPacket) {
	if n.MainState != WaitPAP {
		return
	}
	exhausted := pkt.Flags&packet.FlagExhausted != 0
	resp := papResponse{sender: pkt.PhysAddr, exhausted: exhausted}
	for i, opt := range pkt.Optional {
		if opt.Type != packet.OptAdditionalAddress {
			continue
		}
		resp.proposals = append(resp.proposals, opt.Address)
		resp.isReconnect = append(resp.isReconnect, i > 0)
	}
	n.papResponses = append(n.papResponses, resp)
}

func (n *Node) receivePAN(pkt packet.ControlPacket) {
	matchesPrimary := len(n.papProposals) > 0 && pkt.Primary.Equal(n.papProposals[0])
	reconnectIdx := -1
	for i := 1; i < len(n.papProposals); i++ {
		if pkt.Primary.Equal(n.papProposals[i]) {
			reconnectIdx = i
			break
		}
	}

	n.applyPAP(EventPANReceived, PAPDecision{
		MatchesPrimary:   matchesPrimary,
		MatchesReconnect: reconnectIdx >= 0,
	}, papExchange{sender: pkt.PhysAddr, reconnectIdx: reconnectIdx})
}

func (n *Node) executePAPAction(a PAPAction, ex papExchange) {
	switch a {
	case ActionIgnorePAR:
	case ActionReplyExhausted:
		n.transport.SendUnicast(n.ID, ex.sender, packet.ControlPacket{
			Type: packet.TypePAP, Flags: packet.FlagExhausted, PhysAddr: n.Phys, Primary: n.Primary,
		})
	case ActionProposeAddresses:
		proposed := n.Primary.Address.SetBit(n.Primary.Mask, true)
		primaryProposal, _ := address.NewMaskAddress(proposed, n.Primary.Mask+1)
		n.papProposals = append([]address.HypercubeMaskAddress{primaryProposal}, n.reconnects...)

		resp := packet.ControlPacket{Type: packet.TypePAP, PhysAddr: n.Phys, Primary: n.Primary}
		for _, p := range n.papProposals {
			resp.Optional = append(resp.Optional, packet.OptionalHeader{Type: packet.OptAdditionalAddress, Address: p})
		}
		n.transport.SendUnicast(n.ID, ex.sender, resp)
	case ActionArmWaitPANTimeout:
		n.waitPANEvent.Cancel()
		e := &scheduler.Event{FireAt: n.params.WaitPANTimeout}
		e.Effect = func() {
			if e.Cancelled() {
				return
			}
			n.applyPAP(EventWaitPANTimeout, PAPDecision{}, papExchange{})
		}
		n.waitPANEvent = n.sched.AddEvent(e, true)
	case ActionSendPANCForPrimary, ActionSendPANCForReconnect:
		n.transport.SendUnicast(n.ID, ex.sender, packet.ControlPacket{Type: packet.TypePANC, PhysAddr: n.Phys, Primary: n.Primary})
	case ActionEraseReconnectEntry:
		if ex.reconnectIdx >= 1 && ex.reconnectIdx < len(n.papProposals) {
			n.reconnects = removeMaskAddress(n.reconnects, n.papProposals[ex.reconnectIdx])
		}
	case ActionAddSenderAsChild:
		n.neighbors.SetRole(ex.sender, neighbor.Child)
	case ActionPublishNewRoute:
		n.bus.Publish(bus.NewRoute, ex.sender)
	case ActionExtendOwnMask:
		n.Primary.Mask++
	case ActionPublishAddressGiven:
		if len(n.papProposals) == 0 {
			return
		}
		givenPrefix := n.papProposals[0]
		n.bus.Publish(bus.AddressGiven, givenPrefix)
		if n.OnAddressGiven != nil {
			n.OnAddressGiven(givenPrefix, ex.sender)
		}
	}
}

func removeMaskAddress(list []address.HypercubeMaskAddress, target address.HypercubeMaskAddress) []address.HypercubeMaskAddress {
	out := list[:0]
	for _, a := range list {
		if !a.Equal(target) {
			out = append(out, a)
		}
	}
	return out
}

// --- HBL SM ---

// hblExchange carries the HB sender through to executeHBLAction, the same
// way papExchange threads PAR/PAN senders through the PAP SM.
type hblExchange struct {
	sender address.MACAddress
}

func (n *Node) applyHBL(event HBLEvent, d HBLDecision, ex hblExchange) {
	result := ApplyHBLEvent(n.HBLState, event, d)
	if !result.Changed {
		return
	}
	n.HBLState = result.NewState
	for _, a := range result.Actions {
		n.executeHBLAction(a, ex)
	}
}

func (n *Node) receiveHB(pkt packet.ControlPacket) {
	nb, known := n.neighbors.Lookup(pkt.PhysAddr)
	maskChanged := known && nb.PrimaryAddress.Mask != pkt.Primary.Mask

	entry := n.neighbors.GetOrCreate(pkt.PhysAddr)
	entry.Active = true
	entry.LastSeen = n.sched.Now()
	entry.PrimaryAddress = pkt.Primary

	n.applyHBL(EventHBReceived, HBLDecision{KnownSender: known, MaskChanged: maskChanged}, hblExchange{sender: pkt.PhysAddr})
}

func (n *Node) receiveSAP(pkt packet.ControlPacket) {
	dist := n.Primary.DistanceWithMask(pkt.Primary)
	accept := dist == 1
	n.transport.SendUnicast(n.ID, pkt.PhysAddr, packet.ControlPacket{
		Type: packet.TypeSAN, Flags: flagIf(accept, packet.FlagAccepted), PhysAddr: n.Phys, Primary: n.Primary,
	})
	if accept {
		n.neighbors.SetRole(pkt.PhysAddr, neighbor.Adjacent)
		n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypeHB, PhysAddr: n.Phys, Primary: n.Primary})
	}
}

func (n *Node) receiveSAN(pkt packet.ControlPacket) {
	n.waitSANEvent.Cancel()
	accepted := pkt.Flags&packet.FlagAccepted != 0
	if !accepted {
		n.applyHBL(EventWaitSANTimeout, HBLDecision{}, hblExchange{})
		return
	}
	alreadyCovered := n.Secondary.Contains(n.offerAddr) || n.Primary.ContainsMask(n.offerAddr)
	n.applyHBL(EventSANReceived, HBLDecision{AcceptedAlreadyCovered: alreadyCovered}, hblExchange{sender: pkt.PhysAddr})
}

func (n *Node) receiveDISC(pkt packet.ControlPacket) {
	nb, ok := n.neighbors.Lookup(pkt.PhysAddr)
	hasChild := pkt.Flags&packet.FlagHasChild != 0

	if ok && nb.Role == neighbor.Child && !hasChild {
		n.recoverAddress(pkt.Primary.Address)
	} else {
		n.neighbors.SetRole(pkt.PhysAddr, neighbor.Disconnected)
		n.reconnects = append(n.reconnects, pkt.Primary)
	}
	n.bus.Publish(bus.LostRoute, pkt.PhysAddr)
}

func (n *Node) executeHBLAction(a HBLAction, ex hblExchange) {
	switch a {
	case ActionMarkActiveUpdateLastSeen, ActionAddUnknownSenderNotConnected:
		// Both handled directly in receiveHB before dispatch, same
		// simplification as ActionHandleSAP/ActionHandleDISC on the Main SM.
	case ActionPublishRouteChangedMask:
		n.bus.Publish(bus.RouteChangedMask, ex.sender)
	case ActionAgeInactiveNeighbours:
		n.neighbors.ForEach(func(nb *neighbor.Neighbour) {
			if !nb.Active && nb.Role != neighbor.NotConnected {
				nb.Role = neighbor.Disappeared
				n.bus.Publish(bus.LostRoute, nb.PhysicalAddress)
			}
		})
	case ActionPromoteAdjacentByDistance:
		n.neighbors.ForEach(func(nb *neighbor.Neighbour) {
			if nb.Role != neighbor.NotConnected {
				return
			}
			if d, err := n.Primary.Address.HammingDistance(nb.PrimaryAddress.Address); err == nil && d == 1 {
				nb.Role = neighbor.Adjacent
				n.bus.Publish(bus.NewRoute, nb.PhysicalAddress)
				n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypeHB, PhysAddr: n.Phys, Primary: n.Primary})
			}
		})
	case ActionOfferSecondary:
		n.sendSecondaryOffer()
	case ActionPromoteSenderAdjacent:
		n.neighbors.SetRole(n.offerTarget, neighbor.Adjacent)
		n.bus.Publish(bus.NewRoute, n.offerTarget)
	case ActionBroadcastOneHB:
		n.transport.Broadcast(n.ID, packet.ControlPacket{Type: packet.TypeHB, PhysAddr: n.Phys, Primary: n.Primary})
	case ActionAddSecondaryAddress:
		n.Secondary.Add(n.offerAddr)
	case ActionFillIntermediateHoles:
		n.fillIntermediateHoles(n.offerAddr)
	case ActionExtendPrimaryMask:
		n.Primary.Mask = n.offerAddr.Mask
	case ActionPublishAddressGivenHBL:
		n.bus.Publish(bus.AddressGiven, n.offerAddr)
		if n.OnAddressGiven != nil {
			n.OnAddressGiven(n.offerAddr, n.offerTarget)
		}
	}
}

// sendSecondaryOffer finds the first NotConnected neighbour at distance 1,
// constructs the secondary proposal, and sends SAP.
func (n *Node) sendSecondaryOffer() {
	var candidate *neighbor.Neighbour
	n.neighbors.ForEach(func(nb *neighbor.Neighbour) {
		if candidate != nil || nb.Role != neighbor.NotConnected {
			return
		}
		if n.Primary.DistanceWithMask(nb.PrimaryAddress) == 1 {
			candidate = nb
		}
	})
	if candidate == nil {
		return
	}

	maskSA := n.Primary.Mask + 1
	for maskSA < candidate.PrimaryAddress.Address.BitLen() && !candidate.PrimaryAddress.Address.Bit(maskSA) {
		maskSA++
	}
	proposal := n.Primary.Address.SetBit(maskSA-1, true)
	offer, _ := address.NewMaskAddress(proposal, maskSA)

	n.offerTarget = candidate.PhysicalAddress
	n.offerAddr = offer
	n.transport.SendUnicast(n.ID, candidate.PhysicalAddress, packet.ControlPacket{Type: packet.TypeSAP, PhysAddr: n.Phys, Primary: offer})

	n.waitSANEvent.Cancel()
	e := &scheduler.Event{FireAt: n.params.WaitSANTimeout}
	e.Effect = func() {
		if e.Cancelled() {
			return
		}
		n.applyHBL(EventWaitSANTimeout, HBLDecision{}, hblExchange{})
	}
	n.waitSANEvent = n.sched.AddEvent(e, true)
}

// fillIntermediateHoles adds, for each level between the node's old primary
// mask and the new secondary's mask, the sibling subcube that branches off
// the primary's path at that level, so the delegated subtree stays gap-free.
func (n *Node) fillIntermediateHoles(offer address.HypercubeMaskAddress) {
	for m := n.Primary.Mask; m < offer.Mask-1; m++ {
		hole := offer.Address.SetBit(m, !offer.Address.Bit(m))
		holeMask, err := address.NewMaskAddress(hole, m+1)
		if err == nil {
			n.Secondary.Add(holeMask)
		}
	}
}

func flagIf(cond bool, flag uint8) uint8 {
	if cond {
		return flag
	}
	return 0
}

// --- Data routing ---

// SendData originates a DataPacket from this node, routing it as if it
// had just arrived from nowhere (from == nil, so it cannot be mistaken
// for a loopback).
func (n *Node) SendData(dst address.HypercubeAddress, transportType uint8, payload []byte) {
	pkt := packet.DataPacket{
		TTL:           packet.MaxTTL,
		Src:           n.Primary.Address,
		Dst:           dst,
		TransportType: transportType,
		Payload:       payload,
	}
	n.route(&pkt, nil)
}

// SendTraceRoute originates a trace-route-flagged DataPacket, which
// records the physical address of every hop it crosses in pkt.Route.
func (n *Node) SendTraceRoute(dst address.HypercubeAddress) {
	pkt := packet.DataPacket{
		TTL:           packet.MaxTTL,
		TraceRoute:    true,
		Src:           n.Primary.Address,
		Dst:           dst,
		TransportType: packet.TransportTypeUDP,
	}
	n.route(&pkt, nil)
}

// SendRendezVous originates a rendez-vous-flagged DataPacket, which
// arrives locally anywhere a node's primary or delegated secondary
// addresses cover the destination, not only on an exact address match.
func (n *Node) SendRendezVous(dst address.HypercubeAddress, payload []byte) {
	pkt := packet.DataPacket{
		TTL:           packet.MaxTTL,
		RendezVous:    true,
		Src:           n.Primary.Address,
		Dst:           dst,
		TransportType: packet.TransportTypeUDP,
		Payload:       payload,
	}
	n.route(&pkt, nil)
}

// ReceiveDataPacket is the entry point Network calls when delivering a
// data frame from neighbour `from`.
func (n *Node) ReceiveDataPacket(pkt packet.DataPacket, from address.MACAddress) {
	n.route(&pkt, &from)
}

func (n *Node) covers(a address.HypercubeAddress) bool {
	if n.Primary.Contains(a) {
		return true
	}
	full, err := address.NewMaskAddress(a, a.BitLen())
	if err != nil {
		return false
	}
	return n.Secondary.Contains(full)
}

func (n *Node) route(pkt *packet.DataPacket, from *address.MACAddress) {
	if pkt.TTL == 0 {
		n.logger.Debug("data packet discarded, ttl exhausted", slog.String("dst", pkt.Dst.String()))
		if n.OnPacketDiscarded != nil {
			n.OnPacketDiscarded(*pkt)
		}
		return
	}

	decision := n.router.Route(pkt, n.Primary.Address, from, n.neighbors.All(), n.covers)
	switch {
	case decision.Deliver:
		if pkt.TraceRoute {
			pkt.Route = append(pkt.Route, n.Phys)
		}
		n.deliverLocally(*pkt)
	case decision.HasNextHop:
		if pkt.TraceRoute {
			pkt.Route = append(pkt.Route, decision.NextHop)
		}
		n.transport.SendData(n.ID, decision.NextHop, *pkt)
	default:
		n.logger.Debug("data packet dropped, no route", slog.String("dst", pkt.Dst.String()))
	}
}

func (n *Node) deliverLocally(pkt packet.DataPacket) {
	if pkt.RendezVous {
		if n.OnRVPacketReceived == nil {
			return
		}
		rv, err := packet.UnmarshalRVPayload(pkt.Payload)
		if err != nil {
			n.logger.Debug("dropped malformed rendez-vous payload", slog.String("err", err.Error()))
			return
		}
		n.OnRVPacketReceived(rv, pkt.Src)
		return
	}
	if n.OnDataReceived != nil {
		n.OnDataReceived(pkt)
	}
}
