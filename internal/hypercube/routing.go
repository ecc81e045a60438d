package hypercube

import (
	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/neighbor"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

// RoutingEntry is one row of a node's routing table: the next hop towards
// Dest, the distance it was learned or chosen at, and the per-(src,dst)
// visited bitmap the backtracking forwarder uses to avoid re-trying a
// neighbour that already returned a packet.
type RoutingEntry struct {
	Dest       address.HypercubeAddress
	NextHop    address.MACAddress
	HasNextHop bool
	Distance   uint16
	Visited    map[address.MACAddress]bool

	expiryTimer *scheduler.Event
	bitmapTimer *scheduler.Event
	// onExpire clears the owning flowEntry's reference to this entry once
	// the table-entry timer drops it, so the next use creates a fresh one.
	onExpire func()
}

type flowKey struct{ src, dst string }

// flowEntry pairs the reverse route learned from a packet's inbound
// direction with the forward route chosen for its outbound direction.
type flowEntry struct {
	reverse *RoutingEntry
	forward *RoutingEntry
}

// RoutingTable holds every RoutingEntry for a node: the dest-keyed
// multimap used for forward lookups, and the (src,dst)-keyed pairing used
// by the backtracking forwarder.
type RoutingTable struct {
	byDest map[string][]*RoutingEntry
	byFlow map[flowKey]*flowEntry
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{byDest: make(map[string][]*RoutingEntry), byFlow: make(map[flowKey]*flowEntry)}
}

func (t *RoutingTable) entriesFor(dest address.HypercubeAddress) []*RoutingEntry {
	return t.byDest[dest.String()]
}

func (t *RoutingTable) addEntry(dest address.HypercubeAddress, e *RoutingEntry) {
	key := dest.String()
	t.byDest[key] = append(t.byDest[key], e)
}

func (t *RoutingTable) flow(src, dst address.HypercubeAddress) *flowEntry {
	key := flowKey{src: src.String(), dst: dst.String()}
	fe, ok := t.byFlow[key]
	if !ok {
		fe = &flowEntry{}
		t.byFlow[key] = fe
	}
	return fe
}

// removeEntry drops e from dest's bucket. Used by the table-entry expiry
// timer; the caller is responsible for clearing any flowEntry pointer that
// still references e.
func (t *RoutingTable) removeEntry(dest address.HypercubeAddress, e *RoutingEntry) {
	key := dest.String()
	entries := t.byDest[key]
	for i, cand := range entries {
		if cand == e {
			t.byDest[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(t.byDest[key]) == 0 {
		delete(t.byDest, key)
	}
}

// Router is a node's reactive-routing forwarder: it has no direct-route
// knowledge of its own and instead learns routes from traffic (reverse
// path) and falls back to greedy-with-backtracking forwarding over
// whichever neighbours the caller reports as currently usable.
type Router struct {
	Table                  *RoutingTable
	NeighboursBeforeParent int

	sched               *scheduler.Scheduler
	routingEntryTimeout units.Time
	bitmapClearPeriod   units.Time
}

// NewRouter returns an empty router. neighboursBeforeParent is the
// NEIGHBOURS_BEFORE_PARENT configuration constant: how many non-parent
// neighbours the backtracking forwarder tries before it falls back to the
// parent link. sched arms the per-entry table-entry-expiry and
// bitmap-clear timers; routingEntryTimeout or bitmapClearPeriod of zero
// (or a nil sched) leaves the corresponding timer unarmed, which unit
// tests that don't exercise timer behaviour rely on.
func NewRouter(sched *scheduler.Scheduler, neighboursBeforeParent int, routingEntryTimeout, bitmapClearPeriod units.Time) *Router {
	return &Router{
		Table:                  NewRoutingTable(),
		NeighboursBeforeParent: neighboursBeforeParent,
		sched:                  sched,
		routingEntryTimeout:    routingEntryTimeout,
		bitmapClearPeriod:      bitmapClearPeriod,
	}
}

// touchEntry (re)arms dest's table-entry-expiry timer. Call on every
// lookup or update of entry so a live flow's route never expires out from
// under it.
func (r *Router) touchEntry(dest address.HypercubeAddress, entry *RoutingEntry, onExpire func()) {
	if r.sched == nil || r.routingEntryTimeout <= 0 {
		return
	}
	entry.onExpire = onExpire
	if entry.expiryTimer != nil {
		entry.expiryTimer.Cancel()
	}
	e := &scheduler.Event{FireAt: units.Time(r.routingEntryTimeout)}
	e.Effect = func() {
		if e.Cancelled() {
			return
		}
		r.Table.removeEntry(dest, entry)
		if entry.onExpire != nil {
			entry.onExpire()
		}
	}
	entry.expiryTimer = r.sched.AddEvent(e, true)
}

// markVisited marks phys visited in entry's bitmap. Per the bitmap-clear
// rule, the clear timer is armed only on the transition from an empty
// bitmap to a non-empty one, not on every mark.
func (r *Router) markVisited(entry *RoutingEntry, phys address.MACAddress) {
	wasEmpty := len(entry.Visited) == 0
	entry.Visited[phys] = true
	if wasEmpty {
		r.armBitmapClear(entry)
	}
}

func (r *Router) armBitmapClear(entry *RoutingEntry) {
	if r.sched == nil || r.bitmapClearPeriod <= 0 {
		return
	}
	if entry.bitmapTimer != nil {
		entry.bitmapTimer.Cancel()
	}
	e := &scheduler.Event{FireAt: units.Time(r.bitmapClearPeriod)}
	e.Effect = func() {
		if e.Cancelled() {
			return
		}
		entry.Visited = map[address.MACAddress]bool{}
	}
	entry.bitmapTimer = r.sched.AddEvent(e, true)
}

// Decision is the outcome of routing one packet: deliver it locally,
// forward it to NextHop, or drop it (no usable route).
type Decision struct {
	Deliver    bool
	NextHop    address.MACAddress
	HasNextHop bool
}

func routable(nb neighbor.Snapshot) bool {
	switch nb.Role {
	case neighbor.ParentOf, neighbor.Child, neighbor.Adjacent:
		return true
	default:
		return false
	}
}

// Route implements the full per-packet algorithm of the reactive router:
// the Returned preamble (undo loopback and backtrack), source-loopback
// detection, reverse-path learning from every inbound packet, the arrival
// check, and forward selection with a sendToNextNeighbour fallback when no
// learned route exists. covers reports whether one of the node's own
// addresses (primary or a delegated secondary) covers a given address;
// rendez-vous packets arrive locally on coverage, not just exact match.
// It may be nil for non-rendez-vous-aware callers.
func (r *Router) Route(pkt *packet.DataPacket, self address.HypercubeAddress, from *address.MACAddress, neighbours []neighbor.Snapshot, covers func(address.HypercubeAddress) bool) Decision {
	if pkt.Returned {
		pkt.Returned = false
		return r.sendToNextNeighbour(pkt, from, neighbours)
	}

	if pkt.Src.Equal(self) && from != nil {
		pkt.Returned = true
		pkt.TTL++
		return Decision{NextHop: *from, HasNextHop: true}
	}

	if from != nil {
		fe := r.Table.flow(pkt.Src, pkt.Dst)
		learnedDistance := uint16(int(packet.MaxTTL) - int(pkt.TTL))
		if fe.reverse != nil && fe.reverse.HasNextHop && learnedDistance > fe.reverse.Distance {
			pkt.Returned = true
			pkt.TTL++
			return Decision{NextHop: *from, HasNextHop: true}
		}
		if fe.reverse == nil {
			fe.reverse = &RoutingEntry{Dest: pkt.Src, Visited: map[address.MACAddress]bool{}}
			r.Table.addEntry(pkt.Src, fe.reverse)
		}
		fe.reverse.NextHop = *from
		fe.reverse.HasNextHop = true
		fe.reverse.Distance = learnedDistance
		r.touchEntry(pkt.Src, fe.reverse, func() { fe.reverse = nil })
	}

	arrived := pkt.Dst.Equal(self)
	if !arrived && pkt.RendezVous && covers != nil {
		arrived = covers(pkt.Dst)
	}
	if arrived {
		return Decision{Deliver: true}
	}

	if best, ok := r.bestKnownRoute(pkt.Dst); ok {
		fe := r.Table.flow(pkt.Src, pkt.Dst)
		r.touchEntry(pkt.Dst, best, func() {
			if fe.forward == best {
				fe.forward = nil
			}
		})
		if !best.HasNextHop {
			return Decision{}
		}
		if from != nil && best.NextHop == *from {
			pkt.Returned = true
			pkt.TTL++
			return Decision{NextHop: *from, HasNextHop: true}
		}
		if isAvailable(best.NextHop, neighbours) {
			pkt.TTL--
			return Decision{NextHop: best.NextHop, HasNextHop: true}
		}
		return r.sendToNextNeighbour(pkt, from, neighbours)
	}

	return r.sendToNextNeighbour(pkt, from, neighbours)
}

// bestKnownRoute picks the entry with minimum distance among every entry
// recorded for dest, whether or not it currently has a usable next hop
// (a cached "unreachable" entry with the lowest distance still wins, so
// the caller drops the packet instead of retrying from scratch).
func (r *Router) bestKnownRoute(dest address.HypercubeAddress) (*RoutingEntry, bool) {
	entries := r.Table.entriesFor(dest)
	if len(entries) == 0 {
		return nil, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Distance < best.Distance {
			best = e
		}
	}
	return best, true
}

func isAvailable(phys address.MACAddress, neighbours []neighbor.Snapshot) bool {
	for _, nb := range neighbours {
		if nb.PhysicalAddress == phys && routable(nb) {
			return true
		}
	}
	return false
}

// sendToNextNeighbour implements the greedy-with-backtracking forwarder:
// mark the inbound neighbour visited on this (src,dst) flow, detect the
// dead-end case (every usable neighbour already visited) and bounce the
// packet back the way it came, otherwise pick an unvisited neighbour
// minimising distance to dst, preferring the parent once
// NeighboursBeforeParent non-parent attempts have been made.
func (r *Router) sendToNextNeighbour(pkt *packet.DataPacket, from *address.MACAddress, neighbours []neighbor.Snapshot) Decision {
	fe := r.Table.flow(pkt.Src, pkt.Dst)
	if fe.forward == nil {
		fe.forward = &RoutingEntry{Dest: pkt.Dst, Visited: map[address.MACAddress]bool{}}
		r.Table.addEntry(pkt.Dst, fe.forward)
	}
	entry := fe.forward
	r.touchEntry(pkt.Dst, entry, func() {
		if fe.forward == entry {
			fe.forward = nil
		}
	})

	if from != nil {
		r.markVisited(entry, *from)
	}

	usable := make([]neighbor.Snapshot, 0, len(neighbours))
	for _, nb := range neighbours {
		if routable(nb) {
			usable = append(usable, nb)
		}
	}

	allVisited := true
	for _, nb := range usable {
		if !entry.Visited[nb.PhysicalAddress] {
			allVisited = false
			break
		}
	}
	if allVisited {
		entry.HasNextHop = false
		if fe.reverse != nil && fe.reverse.HasNextHop && (from == nil || fe.reverse.NextHop != *from) {
			pkt.Returned = true
			pkt.TTL++
			return Decision{NextHop: fe.reverse.NextHop, HasNextHop: true}
		}
		return Decision{}
	}

	chosen, ok := r.pickNeighbour(usable, entry, pkt.Dst, pkt.RendezVous)
	if !ok {
		return Decision{}
	}

	r.markVisited(entry, chosen.PhysicalAddress)
	entry.NextHop = chosen.PhysicalAddress
	entry.HasNextHop = true
	pkt.TTL--
	return Decision{NextHop: chosen.PhysicalAddress, HasNextHop: true}
}

func (r *Router) pickNeighbour(usable []neighbor.Snapshot, entry *RoutingEntry, dst address.HypercubeAddress, rendezVous bool) (neighbor.Snapshot, bool) {
	visitedSoFar := 0
	for _, nb := range usable {
		if entry.Visited[nb.PhysicalAddress] {
			visitedSoFar++
		}
	}

	if visitedSoFar < r.NeighboursBeforeParent {
		if best, ok := closestUnvisited(usable, entry, dst, rendezVous); ok {
			return best, true
		}
	}

	for _, nb := range usable {
		if nb.Role == neighbor.ParentOf && !entry.Visited[nb.PhysicalAddress] {
			return nb, true
		}
	}
	for _, nb := range usable {
		if !entry.Visited[nb.PhysicalAddress] {
			return nb, true
		}
	}
	return neighbor.Snapshot{}, false
}

// closestUnvisited picks the unvisited usable neighbour minimising
// distance to dst: distance-with-mask for rendez-vous packets (which may
// target a whole delegated prefix, not a single address), plain Hamming
// distance otherwise. Ties break towards the neighbour with the smaller
// mask, the shallower and so more broadly-reaching candidate.
func closestUnvisited(usable []neighbor.Snapshot, entry *RoutingEntry, dst address.HypercubeAddress, rendezVous bool) (neighbor.Snapshot, bool) {
	var best *neighbor.Snapshot
	bestDist := -1
	for i, nb := range usable {
		if entry.Visited[nb.PhysicalAddress] {
			continue
		}
		dist := neighbourDistance(nb, dst, rendezVous)
		if best == nil || dist < bestDist || (dist == bestDist && nb.PrimaryAddress.Mask < best.PrimaryAddress.Mask) {
			best = &usable[i]
			bestDist = dist
		}
	}
	if best == nil {
		return neighbor.Snapshot{}, false
	}
	return *best, true
}

func neighbourDistance(nb neighbor.Snapshot, dst address.HypercubeAddress, rendezVous bool) int {
	if rendezVous {
		return nb.PrimaryAddress.DistanceWithMask(address.HypercubeMaskAddress{Address: dst, Mask: nb.PrimaryAddress.Mask})
	}
	d, err := nb.PrimaryAddress.Address.HammingDistance(dst)
	if err != nil {
		return nb.PrimaryAddress.DistanceWithMask(address.HypercubeMaskAddress{Address: dst, Mask: nb.PrimaryAddress.Mask})
	}
	return d
}
