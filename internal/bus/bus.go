// Package bus implements the per-node intra-node publish/subscribe
// mechanism: handlers register against a message kind, and a publish fans
// the message out to every subscriber via zero-delay scheduler events so
// delivery runs after all already-queued same-time events (ordering
// guarantee O3).
package bus

import "github.com/dantte-lp/hcsim/internal/scheduler"

// Kind tags the shape of a Message's Payload. The hypercube state machines
// communicate exclusively through these, never by direct field access
// across node boundaries.
type Kind int

const (
	Connected Kind = iota
	NewRoute
	LostRoute
	RouteChangedMask
	LeaveNetwork
	WillDisconnect
	WaitMe
	ReadyForDisc
	Disconnected
	AddressGiven
	CantConnect
)

// String names the kind for logging.
func (k Kind) String() string {
	switch k {
	case Connected:
		return "Connected"
	case NewRoute:
		return "NewRoute"
	case LostRoute:
		return "LostRoute"
	case RouteChangedMask:
		return "RouteChangedMask"
	case LeaveNetwork:
		return "LeaveNetwork"
	case WillDisconnect:
		return "WillDisconnect"
	case WaitMe:
		return "WaitMe"
	case ReadyForDisc:
		return "ReadyForDisc"
	case Disconnected:
		return "Disconnected"
	case AddressGiven:
		return "AddressGiven"
	case CantConnect:
		return "CantConnect"
	default:
		return "Unknown"
	}
}

// Message is a small refcounted value: one instance may be delivered to
// several subscribers and is only eligible for reclamation once every
// delivery has run. The refcount is advisory (Go's GC reclaims the
// backing memory regardless) but is kept so deliveries can detect the
// last-reader case the way the original pointer-refcounted payloads did.
type Message struct {
	Kind     Kind
	Payload  any
	refcount int32
}

func (m *Message) release() {
	m.refcount--
}

// Remaining reports how many deliveries have not yet run.
func (m *Message) Remaining() int32 { return m.refcount }

// SubscriberID identifies a registered handler.
type SubscriberID int

// Handler processes a delivered message.
type Handler func(msg *Message)

type subscription struct {
	id      SubscriberID
	handler Handler
}

// Bus is one node's publish/subscribe table.
type Bus struct {
	sched *scheduler.Scheduler
	subs  map[Kind][]subscription
	next  SubscriberID
}

// New returns an empty bus driven by sched.
func New(sched *scheduler.Scheduler) *Bus {
	return &Bus{sched: sched, subs: make(map[Kind][]subscription)}
}

// Subscribe registers handler for kind and returns its SubscriberID.
func (b *Bus) Subscribe(kind Kind, handler Handler) SubscriberID {
	b.next++
	id := b.next
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(kind Kind, id SubscriberID) {
	list := b.subs[kind]
	for i, s := range list {
		if s.id == id {
			b.subs[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish fans payload out to every subscriber of kind, each delivery
// scheduled as a ReceiveMessageEvent at the current virtual time (relative
// delta 0), so it runs strictly after every event already queued for now.
func (b *Bus) Publish(kind Kind, payload any) {
	subscribers := b.subs[kind]
	if len(subscribers) == 0 {
		return
	}
	msg := &Message{Kind: kind, Payload: payload, refcount: int32(len(subscribers))}
	for _, s := range subscribers {
		handler := s.handler
		b.sched.Now0(func() {
			handler(msg)
			msg.release()
		})
	}
}
