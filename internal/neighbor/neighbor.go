// Package neighbor implements a node's neighbour table: the set of other
// nodes this node has directly observed, with the role and liveness
// bookkeeping the join, heartbeat, and disconnection state machines drive.
package neighbor

import (
	"sync"

	"github.com/dantte-lp/hcsim/internal/address"
	"github.com/dantte-lp/hcsim/internal/units"
)

// Role classifies a neighbour's relationship to this node.
type Role int

const (
	NotConnected Role = iota
	ParentOf
	Child
	Adjacent
	Disappeared
	Disconnected
)

// String names the role for logging.
func (r Role) String() string {
	switch r {
	case NotConnected:
		return "NotConnected"
	case ParentOf:
		return "ParentOf"
	case Child:
		return "Child"
	case Adjacent:
		return "Adjacent"
	case Disappeared:
		return "Disappeared"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Neighbour records everything this node knows about one peer.
type Neighbour struct {
	PrimaryAddress    address.HypercubeMaskAddress
	PhysicalAddress   address.MACAddress
	Role              Role
	Active            bool
	LastSeen          units.Time
	ProposedSecondary bool
}

// Snapshot is a read-only copy of a Neighbour safe to hand to callers
// outside the owning node (mirrors the session-manager's read-only-copy
// pattern so nothing outside the table can mutate live state by reference).
type Snapshot struct {
	PhysicalAddress   address.MACAddress
	PrimaryAddress    address.HypercubeMaskAddress
	Role              Role
	Active            bool
	LastSeen          units.Time
	ProposedSecondary bool
}

// Table is a node's neighbour map, keyed by physical address. It is
// exclusively owned by its node and never shared across node boundaries.
type Table struct {
	mu      sync.Mutex
	members map[address.MACAddress]*Neighbour
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{members: make(map[address.MACAddress]*Neighbour)}
}

// GetOrCreate returns the existing neighbour for phys, creating one with
// role NotConnected and unspecified LastSeen if this is the first
// observation.
func (t *Table) GetOrCreate(phys address.MACAddress) *Neighbour {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.members[phys]
	if !ok {
		n = &Neighbour{PhysicalAddress: phys, Role: NotConnected, LastSeen: units.Unspecified}
		t.members[phys] = n
	}
	return n
}

// Lookup returns the neighbour for phys, if any.
func (t *Table) Lookup(phys address.MACAddress) (*Neighbour, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.members[phys]
	return n, ok
}

// SetRole updates phys's role, creating the entry if absent.
func (t *Table) SetRole(phys address.MACAddress, role Role) {
	n := t.GetOrCreate(phys)
	t.mu.Lock()
	n.Role = role
	t.mu.Unlock()
}

// All returns a snapshot of every neighbour, safe for the caller to range
// over without holding the table's lock.
func (t *Table) All() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.members))
	for _, n := range t.members {
		out = append(out, snapshotOf(n))
	}
	return out
}

func snapshotOf(n *Neighbour) Snapshot {
	return Snapshot{
		PhysicalAddress:   n.PhysicalAddress,
		PrimaryAddress:    n.PrimaryAddress,
		Role:              n.Role,
		Active:            n.Active,
		LastSeen:          n.LastSeen,
		ProposedSecondary: n.ProposedSecondary,
	}
}

// MarkAllInactive clears the Active flag on every neighbour, as the HBL SM
// does on entering ListenHB.
func (t *Table) MarkAllInactive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.members {
		n.Active = false
	}
}

// ForEach invokes f for every neighbour under the table's lock, letting
// callers (the HBL SM's timeout handler) mutate roles while iterating
// without a data race, since the table is single-node-owned and only ever
// touched from the scheduler's single thread in practice; the lock guards
// against accidental reentrant access, not concurrency.
func (t *Table) ForEach(f func(*Neighbour)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.members {
		f(n)
	}
}
