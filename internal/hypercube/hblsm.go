package hypercube

// HBLState is the HBL SM's state: it listens for heart-beats, ages
// neighbours, and offers secondary addresses to level the space.
type HBLState uint8

const (
	ListenHB HBLState = iota
	WaitSAN
)

// String names the state for logging.
func (s HBLState) String() string {
	switch s {
	case ListenHB:
		return "ListenHB"
	case WaitSAN:
		return "WaitSAN"
	default:
		return "Unknown"
	}
}

// HBLEvent tags what triggered an HBL SM transition.
type HBLEvent uint8

const (
	EventHBReceived HBLEvent = iota
	EventListenHBTimeout
	EventSANReceived
	EventWaitSANTimeout
)

// String names the event for logging.
func (e HBLEvent) String() string {
	switch e {
	case EventHBReceived:
		return "HBReceived"
	case EventListenHBTimeout:
		return "ListenHBTimeout"
	case EventSANReceived:
		return "SANReceived"
	case EventWaitSANTimeout:
		return "WaitSANTimeout"
	default:
		return "Unknown"
	}
}

// HBLAction is one side effect the Node must execute after an HBL
// transition.
type HBLAction uint8

const (
	ActionMarkActiveUpdateLastSeen HBLAction = iota
	ActionPublishRouteChangedMask
	ActionAddUnknownSenderNotConnected
	ActionAgeInactiveNeighbours
	ActionPromoteAdjacentByDistance
	ActionOfferSecondary
	ActionPromoteSenderAdjacent
	ActionBroadcastOneHB
	ActionAddSecondaryAddress
	ActionFillIntermediateHoles
	ActionExtendPrimaryMask
	ActionPublishAddressGivenHBL
)

// String names the action for logging.
func (a HBLAction) String() string {
	switch a {
	case ActionMarkActiveUpdateLastSeen:
		return "MarkActiveUpdateLastSeen"
	case ActionPublishRouteChangedMask:
		return "PublishRouteChangedMask"
	case ActionAddUnknownSenderNotConnected:
		return "AddUnknownSenderNotConnected"
	case ActionAgeInactiveNeighbours:
		return "AgeInactiveNeighbours"
	case ActionPromoteAdjacentByDistance:
		return "PromoteAdjacentByDistance"
	case ActionOfferSecondary:
		return "OfferSecondary"
	case ActionPromoteSenderAdjacent:
		return "PromoteSenderAdjacent"
	case ActionBroadcastOneHB:
		return "BroadcastOneHB"
	case ActionAddSecondaryAddress:
		return "AddSecondaryAddress"
	case ActionFillIntermediateHoles:
		return "FillIntermediateHoles"
	case ActionExtendPrimaryMask:
		return "ExtendPrimaryMask"
	case ActionPublishAddressGivenHBL:
		return "PublishAddressGivenHBL"
	default:
		return "Unknown"
	}
}

// HBLResult is the outcome of applying one event to the HBL SM.
type HBLResult struct {
	OldState HBLState
	NewState HBLState
	Actions  []HBLAction
	Changed  bool
}

func hblUnchanged(s HBLState) HBLResult {
	return HBLResult{OldState: s, NewState: s, Changed: false}
}

// HBLDecision carries the data-dependent inputs for the ListenHB timeout
// (who to age, who to offer a secondary to) and the WaitSAN outcome.
type HBLDecision struct {
	KnownSender       bool // HB sender already has a table entry
	MaskChanged       bool
	FoundOfferTarget  bool // a NotConnected neighbour at distance 1 was found to offer a secondary
	AcceptedAlreadyCovered bool // SAN accepted, but proposed secondary is already covered
}

// ApplyHBLEvent is the HBL SM's pure transition function.
func ApplyHBLEvent(state HBLState, event HBLEvent, d HBLDecision) HBLResult {
	switch state {
	case ListenHB:
		switch event {
		case EventHBReceived:
			actions := []HBLAction{ActionMarkActiveUpdateLastSeen}
			if !d.KnownSender {
				actions = append(actions, ActionAddUnknownSenderNotConnected)
			} else if d.MaskChanged {
				actions = append(actions, ActionPublishRouteChangedMask)
			}
			return HBLResult{ListenHB, ListenHB, actions, true}
		case EventListenHBTimeout:
			actions := []HBLAction{ActionAgeInactiveNeighbours, ActionPromoteAdjacentByDistance}
			if d.FoundOfferTarget {
				actions = append(actions, ActionOfferSecondary)
				return HBLResult{ListenHB, WaitSAN, actions, true}
			}
			return HBLResult{ListenHB, ListenHB, actions, true}
		}

	case WaitSAN:
		switch event {
		case EventSANReceived:
			actions := []HBLAction{ActionPromoteSenderAdjacent, ActionBroadcastOneHB}
			if !d.AcceptedAlreadyCovered {
				actions = append(actions,
					ActionAddSecondaryAddress, ActionFillIntermediateHoles,
					ActionExtendPrimaryMask, ActionPublishAddressGivenHBL,
				)
			}
			return HBLResult{WaitSAN, ListenHB, actions, true}
		case EventWaitSANTimeout:
			return HBLResult{WaitSAN, ListenHB, nil, true}
		}
	}

	return hblUnchanged(state)
}
