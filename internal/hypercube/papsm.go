package hypercube

// PAPState is the PAP SM's state: it answers address requests from
// joiners.
type PAPState uint8

const (
	WaitPAR PAPState = iota
	WaitPAN
)

// String names the state for logging.
func (s PAPState) String() string {
	switch s {
	case WaitPAR:
		return "WaitPAR"
	case WaitPAN:
		return "WaitPAN"
	default:
		return "Unknown"
	}
}

// PAPEvent tags what triggered a PAP SM transition.
type PAPEvent uint8

const (
	EventPARReceived PAPEvent = iota
	EventPANReceived
	EventWaitPANTimeout
)

// String names the event for logging.
func (e PAPEvent) String() string {
	switch e {
	case EventPARReceived:
		return "PARReceived"
	case EventPANReceived:
		return "PANReceived"
	case EventWaitPANTimeout:
		return "WaitPANTimeout"
	default:
		return "Unknown"
	}
}

// PAPAction is one side effect the Node must execute after a PAP
// transition.
type PAPAction uint8

const (
	ActionIgnorePAR PAPAction = iota
	ActionReplyExhausted
	ActionProposeAddresses
	ActionArmWaitPANTimeout
	ActionSendPANCForPrimary
	ActionSendPANCForReconnect
	ActionEraseReconnectEntry
	ActionAddSenderAsChild
	ActionPublishNewRoute
	ActionExtendOwnMask
	ActionPublishAddressGiven
)

// String names the action for logging.
func (a PAPAction) String() string {
	switch a {
	case ActionIgnorePAR:
		return "IgnorePAR"
	case ActionReplyExhausted:
		return "ReplyExhausted"
	case ActionProposeAddresses:
		return "ProposeAddresses"
	case ActionArmWaitPANTimeout:
		return "ArmWaitPANTimeout"
	case ActionSendPANCForPrimary:
		return "SendPANCForPrimary"
	case ActionSendPANCForReconnect:
		return "SendPANCForReconnect"
	case ActionEraseReconnectEntry:
		return "EraseReconnectEntry"
	case ActionAddSenderAsChild:
		return "AddSenderAsChild"
	case ActionPublishNewRoute:
		return "PublishNewRoute"
	case ActionExtendOwnMask:
		return "ExtendOwnMask"
	case ActionPublishAddressGiven:
		return "PublishAddressGiven"
	default:
		return "Unknown"
	}
}

// PAPResult is the outcome of applying one event to the PAP SM.
type PAPResult struct {
	OldState PAPState
	NewState PAPState
	Actions  []PAPAction
	Changed  bool
}

func papUnchanged(s PAPState) PAPResult {
	return PAPResult{OldState: s, NewState: s, Changed: false}
}

// PAPDecision carries the data-dependent inputs the WaitPAR/WaitPAN
// transitions need.
type PAPDecision struct {
	HBLIsWaitingSAN   bool // avoid double-allocating while HBL SM holds WaitSAN
	SpaceExhausted    bool // node's own primary mask == address length
	MatchesPrimary    bool // PAN's chosen address matches the index-0 proposal
	MatchesReconnect  bool // PAN's chosen address matches a remembered reconnect proposal
}

// ApplyPAPEvent is the PAP SM's pure transition function.
func ApplyPAPEvent(state PAPState, event PAPEvent, d PAPDecision) PAPResult {
	switch state {
	case WaitPAR:
		if event == EventPARReceived {
			if d.HBLIsWaitingSAN {
				return PAPResult{WaitPAR, WaitPAR, []PAPAction{ActionIgnorePAR}, false}
			}
			if d.SpaceExhausted {
				return PAPResult{WaitPAR, WaitPAR, []PAPAction{ActionReplyExhausted}, true}
			}
			return PAPResult{WaitPAR, WaitPAN, []PAPAction{ActionProposeAddresses, ActionArmWaitPANTimeout}, true}
		}

	case WaitPAN:
		switch event {
		case EventPANReceived:
			if d.MatchesPrimary {
				return PAPResult{WaitPAN, WaitPAR, []PAPAction{
					ActionSendPANCForPrimary, ActionAddSenderAsChild, ActionPublishNewRoute,
					ActionExtendOwnMask, ActionPublishAddressGiven,
				}, true}
			}
			if d.MatchesReconnect {
				return PAPResult{WaitPAN, WaitPAR, []PAPAction{
					ActionEraseReconnectEntry, ActionSendPANCForReconnect,
					ActionAddSenderAsChild, ActionPublishNewRoute,
				}, true}
			}
			return PAPResult{WaitPAN, WaitPAR, nil, true}
		case EventWaitPANTimeout:
			return PAPResult{WaitPAN, WaitPAR, nil, true}
		}
	}

	return papUnchanged(state)
}
