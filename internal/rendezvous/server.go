// Package rendezvous implements the directory service that lets a node be
// found by a stable identity string instead of its current, mobility-prone
// hypercube address. Every node runs one Server (answering lookups for
// whichever identities hash to it) and one Client (resolving identities on
// behalf of local senders, caching the answers).
package rendezvous

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/packet"
	"github.com/dantte-lp/hcsim/internal/scheduler"
	"github.com/dantte-lp/hcsim/internal/units"
)

// holdID is the pending-disconnect hold this server registers with its
// node's Main SM during WillDisconnect; there is exactly one rendez-vous
// subsystem per node so a single fixed id is enough to disambiguate it
// from any other subscriber's hold.
const holdID = 1

// sentTable is a LookupTable batch this server sent and is waiting to be
// acknowledged before purging its entries from the local directory.
type sentTable struct {
	identities []string
}

// Server is the rendez-vous directory a node hosts for whichever identities
// hash into its covered address range. It never reaches into its node's
// state directly; all coordination flows through the node's lifecycle
// hooks and its data-path Send/Receive methods.
type Server struct {
	node   *hypercube.Node
	sched  *scheduler.Scheduler
	logger *slog.Logger

	lookupTableReceivedTimeout units.Time

	identity string
	bitLen   int

	directory map[string]address.HypercubeMaskAddress

	parent        address.MACAddress
	disconnecting bool

	pendingSentTables map[uuid.UUID]sentTable
}

// NewServer builds a Server for node, which must already carry identity as
// its stable name and bitLen as the network's address width.
func NewServer(node *hypercube.Node, sched *scheduler.Scheduler, identity string, bitLen int, lookupTableReceivedTimeout units.Time, logger *slog.Logger) *Server {
	s := &Server{
		node:                       node,
		sched:                      sched,
		logger:                     logger.With(slog.String("identity", identity)),
		lookupTableReceivedTimeout: lookupTableReceivedTimeout,
		identity:                   identity,
		bitLen:                     bitLen,
		directory:                  make(map[string]address.HypercubeMaskAddress),
		pendingSentTables:          make(map[uuid.UUID]sentTable),
	}

	node.OnConnected = s.onConnected
	node.OnWillDisconnect = s.onWillDisconnect
	node.OnAddressGiven = s.onAddressGiven
	prev := node.OnRVPacketReceived
	node.OnRVPacketReceived = func(payload packet.RVPayload, src address.HypercubeAddress) {
		s.onRVPacket(payload, src)
		if prev != nil {
			prev(payload, src)
		}
	}

	return s
}

// rvNodeFor resolves the hypercube address of the rendez-vous node
// responsible for identity under the network's current address width.
func (s *Server) rvNodeFor(identity string) address.HypercubeAddress {
	return address.UniversalAddress(identity).HashToHypercube(s.bitLen)
}

func (s *Server) onConnected(primary address.HypercubeMaskAddress, parent address.MACAddress) {
	s.parent = parent

	payload := packet.RVPayload{
		Type:  packet.RVRegister,
		Entry: packet.RVEntry{Identity: s.identity, Primary: primary},
	}
	s.node.SendRendezVous(s.rvNodeFor(s.identity), encode(payload))
}

// onWillDisconnect hands the directory this server was serving off to its
// parent (which inherits the departing node's covered address range) and
// deregisters this node's own identity from its rendez-vous node. It holds
// up the Main SM's disconnection until the handoff settles or the fixed
// timeout fires, whichever comes first.
func (s *Server) onWillDisconnect() {
	s.node.WaitMe(holdID)
	s.disconnecting = true

	payload := packet.RVPayload{
		Type:  packet.RVDeregister,
		Entry: packet.RVEntry{Identity: s.identity, Primary: s.node.Primary},
	}
	s.node.SendRendezVous(s.rvNodeFor(s.identity), encode(payload))

	s.sendLookupTable(s.allEntries(), s.parent)

	e := &scheduler.Event{FireAt: s.lookupTableReceivedTimeout}
	e.Effect = func() {
		if e.Cancelled() {
			return
		}
		s.node.ReadyForDisc(holdID)
	}
	s.sched.AddEvent(e, true)
}

// onAddressGiven fires whenever this node delegates a prefix of its
// covered range to a neighbour. Every locally-held entry whose identity
// now hashes inside that prefix moves to the recipient, tracked as a
// pending sent table so it is purged only once acknowledged.
func (s *Server) onAddressGiven(givenPrefix address.HypercubeMaskAddress, recipient address.MACAddress) {
	var moving []string
	for id := range s.directory {
		if givenPrefix.Contains(s.rvNodeFor(id)) {
			moving = append(moving, id)
		}
	}
	if len(moving) == 0 {
		return
	}
	s.sendLookupTable(moving, recipient)
}

// sendLookupTable batches the named identities into one LookupTable
// addressed to recipient and remembers it under a fresh table id pending
// acknowledgement. An empty ids sends nothing.
func (s *Server) sendLookupTable(ids []string, recipient address.MACAddress) {
	if len(ids) == 0 {
		return
	}
	to, ok := s.node.NeighbourPrimary(recipient)
	if !ok {
		s.logger.Debug("lookup table recipient not a known neighbour", slog.String("recipient", recipient.String()))
		return
	}

	entries := make([]packet.RVEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, packet.RVEntry{Identity: id, Primary: s.directory[id]})
	}

	tableID := uuid.New()
	s.pendingSentTables[tableID] = sentTable{identities: ids}

	payload := packet.RVPayload{Type: packet.RVLookupTable, TableID: tableID, Entries: entries}
	s.node.SendRendezVous(to.Address, encode(payload))
}

func (s *Server) allEntries() []string {
	ids := make([]string, 0, len(s.directory))
	for id := range s.directory {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) onRVPacket(payload packet.RVPayload, src address.HypercubeAddress) {
	switch payload.Type {
	case packet.RVRegister:
		s.directory[payload.Entry.Identity] = payload.Entry.Primary

	case packet.RVDeregister:
		delete(s.directory, payload.Entry.Identity)

	case packet.RVAddressSolve:
		primary, found := s.directory[payload.Identity]
		reply := packet.RVPayload{
			Type:  packet.RVAddressLookup,
			Entry: packet.RVEntry{Identity: payload.Identity, Primary: primary},
		}
		if found {
			reply.Flags = packet.RVFlagSolved
		}
		s.node.SendRendezVous(src, encode(reply))

	case packet.RVLookupTable:
		for _, e := range payload.Entries {
			s.directory[e.Identity] = e.Primary
		}
		ack := packet.RVPayload{Type: packet.RVLookupTableReceived, TableID: payload.TableID}
		s.node.SendRendezVous(src, encode(ack))

	case packet.RVLookupTableReceived:
		table, ok := s.pendingSentTables[payload.TableID]
		if !ok {
			return
		}
		delete(s.pendingSentTables, payload.TableID)
		for _, id := range table.identities {
			delete(s.directory, id)
		}
		if s.disconnecting {
			s.node.ReadyForDisc(holdID)
		}
	}
}

func encode(p packet.RVPayload) []byte {
	buf := make([]byte, maxRVPayloadSize(p))
	n, err := packet.MarshalRVPayload(p, buf)
	if err != nil {
		return nil
	}
	return buf[:n]
}

// maxRVPayloadSize overestimates the wire size of p so encode can allocate
// a single buffer up front instead of retrying a too-small one.
func maxRVPayloadSize(p packet.RVPayload) int {
	n := 1 + 16 + 2 + len(p.Identity) + 1
	n += rvEntrySize(p.Entry)
	for _, e := range p.Entries {
		n += rvEntrySize(e)
	}
	return n
}

func rvEntrySize(e packet.RVEntry) int {
	return 1 + len(e.Identity) + 1 + (e.Primary.Address.BitLen()+7)/8 + 1
}
