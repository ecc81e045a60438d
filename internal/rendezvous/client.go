package rendezvous

import (
	"log/slog"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/metrics"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

// cacheEntry is one resolved identity, with the keep-alive flag the
// cleanup timer consults before evicting it.
type cacheEntry struct {
	primary            address.HypercubeMaskAddress
	usedSinceLastTimer bool
	event              *scheduler.Event
}

// queuedSend is one application send deferred behind an unresolved
// identity, waiting on its AddressSolve round trip.
type queuedSend struct {
	srcPort    uint16
	dstPort    uint16
	data       []byte
	enqueuedAt units.Time
}

// Solved is emitted once a queued identity resolves and its backlog has
// been flushed, mirroring spec.md's node.rvclient.solved notification.
type Solved struct {
	Identity    string
	ElapsedTime units.Time
}

// Client resolves identity strings to current primary addresses for the
// local application layer, caching successful lookups and holding sends
// against identities still in flight.
type Client struct {
	node   *hypercube.Node
	sched  *scheduler.Scheduler
	logger *slog.Logger
	coll   *metrics.Collector

	bitLen       int
	cacheTimeout units.Time

	cache     map[string]*cacheEntry
	waitQueue map[string][]queuedSend

	// OnSolved is invoked once per identity after its waitQueue drains.
	OnSolved func(Solved)

	// send is the transport used to forward a resolved send; defaults to
	// the node's own SendData with a UDP transport type.
	send func(dst address.HypercubeAddress, sPort, dPort uint16, data []byte)
}

// NewClient builds a Client for node, resolving identities under a
// bitLen-bit address space and caching them for cacheTimeout after last
// use.
func NewClient(node *hypercube.Node, sched *scheduler.Scheduler, bitLen int, cacheTimeout units.Time, coll *metrics.Collector, logger *slog.Logger) *Client {
	c := &Client{
		node:         node,
		sched:        sched,
		logger:       logger,
		coll:         coll,
		bitLen:       bitLen,
		cacheTimeout: cacheTimeout,
		cache:        make(map[string]*cacheEntry),
		waitQueue:    make(map[string][]queuedSend),
	}
	c.send = func(dst address.HypercubeAddress, sPort, dPort uint16, data []byte) {
		node.SendData(dst, packet.TransportTypeUDP, encodeApplication(sPort, dPort, data))
	}

	prev := node.OnRVPacketReceived
	node.OnRVPacketReceived = func(payload packet.RVPayload, src address.HypercubeAddress) {
		c.onRVPacket(payload)
		if prev != nil {
			prev(payload, src)
		}
	}

	return c
}

// Send resolves destID to a primary address (from cache, or by querying
// its rendez-vous node) and forwards data, deferring the send if the
// identity is not yet known.
func (c *Client) Send(destID string, sPort, dPort uint16, data []byte) {
	if entry, ok := c.cache[destID]; ok {
		entry.usedSinceLastTimer = true
		c.recordLookup(true)
		c.send(entry.primary.Address, sPort, dPort, data)
		return
	}

	c.recordLookup(false)
	c.waitQueue[destID] = append(c.waitQueue[destID], queuedSend{
		srcPort:    sPort,
		dstPort:    dPort,
		data:       data,
		enqueuedAt: c.sched.Now(),
	})

	solve := packet.RVPayload{Type: packet.RVAddressSolve, Identity: destID}
	c.node.SendRendezVous(address.UniversalAddress(destID).HashToHypercube(c.bitLen), encode(solve))
}

func (c *Client) recordLookup(hit bool) {
	if c.coll != nil {
		c.coll.RecordRendezVousLookup(hit)
	}
}

func (c *Client) onRVPacket(payload packet.RVPayload) {
	if payload.Type != packet.RVAddressLookup {
		return
	}
	if payload.Flags&packet.RVFlagSolved == 0 {
		return
	}

	id := payload.Entry.Identity
	c.insertCacheEntry(id, payload.Entry.Primary)

	pending := c.waitQueue[id]
	delete(c.waitQueue, id)
	if len(pending) == 0 {
		return
	}

	minEnqueued := pending[0].enqueuedAt
	for _, q := range pending[1:] {
		if q.enqueuedAt < minEnqueued {
			minEnqueued = q.enqueuedAt
		}
	}
	for _, q := range pending {
		c.send(payload.Entry.Primary.Address, q.srcPort, q.dstPort, q.data)
	}

	if c.OnSolved != nil {
		c.OnSolved(Solved{Identity: id, ElapsedTime: c.sched.Now() - minEnqueued})
	}
}

// insertCacheEntry adds or refreshes id's cache entry and (re)arms its
// cacheTimeout keep-alive cleanup timer.
func (c *Client) insertCacheEntry(id string, primary address.HypercubeMaskAddress) {
	if old, ok := c.cache[id]; ok {
		old.event.Cancel()
	}

	entry := &cacheEntry{primary: primary}
	c.cache[id] = entry

	e := &scheduler.Event{FireAt: c.cacheTimeout}
	e.Effect = func() {
		if e.Cancelled() {
			return
		}
		c.onCleanupTimeout(id, entry)
	}
	entry.event = c.sched.AddEvent(e, true)
}

// onCleanupTimeout implements the client's LRU-ish keep-alive: an entry
// used since its timer was armed survives for another cacheTimeout
// window instead of being evicted.
func (c *Client) onCleanupTimeout(id string, entry *cacheEntry) {
	current, ok := c.cache[id]
	if !ok || current != entry {
		return
	}
	if entry.usedSinceLastTimer {
		entry.usedSinceLastTimer = false
		e := &scheduler.Event{FireAt: c.cacheTimeout}
		e.Effect = func() {
			if e.Cancelled() {
				return
			}
			c.onCleanupTimeout(id, entry)
		}
		entry.event = c.sched.AddEvent(e, true)
		return
	}
	delete(c.cache, id)
}

// encodeApplication frames an application payload behind its source and
// destination port, the minimal header testApplication needs to
// demultiplex inbound UDP-transport data packets.
func encodeApplication(sPort, dPort uint16, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	buf[0] = byte(sPort >> 8)
	buf[1] = byte(sPort)
	buf[2] = byte(dPort >> 8)
	buf[3] = byte(dPort)
	copy(buf[4:], data)
	return buf
}

// DecodeApplication reverses encodeApplication, letting testApplication
// read the ports back out of an inbound data packet's payload.
func DecodeApplication(payload []byte) (sPort, dPort uint16, data []byte, ok bool) {
	if len(payload) < 4 {
		return 0, 0, nil, false
	}
	sPort = uint16(payload[0])<<8 | uint16(payload[1])
	dPort = uint16(payload[2])<<8 | uint16(payload[3])
	return sPort, dPort, payload[4:], true
}
