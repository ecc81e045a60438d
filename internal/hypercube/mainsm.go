// Package hypercube implements the three per-node protocol state machines
// (Main, PAP, HBL), the Node that owns and drives them, the reactive
// routing forwarder, and the network arena that holds every node.
//
// Each state machine is modelled as spec.md §9 prescribes: a tagged sum of
// states, a tagged sum of events, and a pure function from (state, event,
// decision input) to a result carrying the new state and the actions the
// caller must execute. Unlike a fixed two-field lookup table, several
// transitions here depend on accumulated data (which PAP responses came
// in, which neighbour is the best reconnect candidate) that a bare
// map[stateEvent]transition cannot express; those transitions are still
// pure functions, just switch-built instead of map-built. Node.applyX
// dispatches actions exactly as the teacher's executeFSMActions does.
package hypercube

// MainState is the Main SM's state.
type MainState uint8

const (
	Disconnected MainState = iota
	WaitPAP
	WaitPANC
	StableAddress
	WaitWaitMe
	WaitReadyForDisc
)

// String names the state for logging.
func (s MainState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case WaitPAP:
		return "WaitPAP"
	case WaitPANC:
		return "WaitPANC"
	case StableAddress:
		return "StableAddress"
	case WaitWaitMe:
		return "WaitWaitMe"
	case WaitReadyForDisc:
		return "WaitReadyForDisc"
	default:
		return "Unknown"
	}
}

// MainEvent tags what triggered a Main SM transition.
type MainEvent uint8

const (
	EventJoinNetwork MainEvent = iota
	EventWaitPAPTimeout
	EventPANCReceived
	EventWaitPANCTimeout
	EventHeardBitTimeout
	EventSAPReceived
	EventDISCReceived
	EventLeaveNetwork
	EventWaitWaitMeTimeout
	EventWaitMeReceived
	EventWaitReadyForDiscEntry
	EventReadyForDiscReceived
)

// String names the event for logging.
func (e MainEvent) String() string {
	switch e {
	case EventJoinNetwork:
		return "JoinNetwork"
	case EventWaitPAPTimeout:
		return "WaitPAPTimeout"
	case EventPANCReceived:
		return "PANCReceived"
	case EventWaitPANCTimeout:
		return "WaitPANCTimeout"
	case EventHeardBitTimeout:
		return "HeardBitTimeout"
	case EventSAPReceived:
		return "SAPReceived"
	case EventDISCReceived:
		return "DISCReceived"
	case EventLeaveNetwork:
		return "LeaveNetwork"
	case EventWaitWaitMeTimeout:
		return "WaitWaitMeTimeout"
	case EventWaitMeReceived:
		return "WaitMeReceived"
	case EventWaitReadyForDiscEntry:
		return "WaitReadyForDiscEntry"
	case EventReadyForDiscReceived:
		return "ReadyForDiscReceived"
	default:
		return "Unknown"
	}
}

// MainAction is one side effect the Node must execute after a transition.
type MainAction uint8

const (
	ActionBroadcastPAR MainAction = iota
	ActionArmWaitPAPTimeout
	ActionClaimZeroAddress
	ActionEmitConnected
	ActionEmitCantConnect
	ActionMarkChosenParentOf
	ActionMarkOthersNotConnected
	ActionBroadcastPAN
	ActionArmWaitPANCTimeout
	ActionArmHeardBitPeriod
	ActionBroadcastHB
	ActionHandleSAP
	ActionHandleDISC
	ActionPublishWillDisconnect
	ActionArmWaitWaitMeTimeout
	ActionArmWaitReadyForDiscTimeout
	ActionGoDisconnectedDirectly
	ActionBroadcastDISC
	ActionPublishDisconnected
)

// String names the action for logging.
func (a MainAction) String() string {
	switch a {
	case ActionBroadcastPAR:
		return "BroadcastPAR"
	case ActionArmWaitPAPTimeout:
		return "ArmWaitPAPTimeout"
	case ActionClaimZeroAddress:
		return "ClaimZeroAddress"
	case ActionEmitConnected:
		return "EmitConnected"
	case ActionEmitCantConnect:
		return "EmitCantConnect"
	case ActionMarkChosenParentOf:
		return "MarkChosenParentOf"
	case ActionMarkOthersNotConnected:
		return "MarkOthersNotConnected"
	case ActionBroadcastPAN:
		return "BroadcastPAN"
	case ActionArmWaitPANCTimeout:
		return "ArmWaitPANCTimeout"
	case ActionArmHeardBitPeriod:
		return "ArmHeardBitPeriod"
	case ActionBroadcastHB:
		return "BroadcastHB"
	case ActionHandleSAP:
		return "HandleSAP"
	case ActionHandleDISC:
		return "HandleDISC"
	case ActionPublishWillDisconnect:
		return "PublishWillDisconnect"
	case ActionArmWaitWaitMeTimeout:
		return "ArmWaitWaitMeTimeout"
	case ActionArmWaitReadyForDiscTimeout:
		return "ArmWaitReadyForDiscTimeout"
	case ActionGoDisconnectedDirectly:
		return "GoDisconnectedDirectly"
	case ActionBroadcastDISC:
		return "BroadcastDISC"
	case ActionPublishDisconnected:
		return "PublishDisconnected"
	default:
		return "Unknown"
	}
}

// MainResult is the outcome of applying one event to the Main SM.
type MainResult struct {
	OldState MainState
	NewState MainState
	Actions  []MainAction
	Changed  bool
}

func mainUnchanged(s MainState) MainResult {
	return MainResult{OldState: s, NewState: s, Changed: false}
}

// MainDecision carries the data-dependent inputs a handful of Main SM
// transitions need: whether any PAP response arrived, whether retries are
// exhausted, and whether a reconnect/primary candidate was found. Node
// computes this before calling ApplyMainEvent; the SM itself stays pure.
type MainDecision struct {
	RetriesExhausted  bool
	HasAnyResponse    bool
	HasOfferingParent bool // at least one responder offered a primary or reconnect
	PendingSetEmpty   bool
}

// ApplyMainEvent is the Main SM's pure transition function.
func ApplyMainEvent(state MainState, event MainEvent, d MainDecision) MainResult {
	switch state {
	case Disconnected:
		if event == EventJoinNetwork {
			return MainResult{Disconnected, WaitPAP, []MainAction{ActionBroadcastPAR, ActionArmWaitPAPTimeout}, true}
		}

	case WaitPAP:
		switch event {
		case EventWaitPAPTimeout:
			if !d.HasAnyResponse {
				if !d.RetriesExhausted {
					return MainResult{WaitPAP, WaitPAP, []MainAction{ActionBroadcastPAR, ActionArmWaitPAPTimeout}, true}
				}
				return MainResult{WaitPAP, StableAddress, []MainAction{ActionClaimZeroAddress, ActionEmitConnected, ActionArmHeardBitPeriod}, true}
			}
			if !d.HasOfferingParent {
				if !d.RetriesExhausted {
					return MainResult{WaitPAP, WaitPAP, []MainAction{ActionBroadcastPAR, ActionArmWaitPAPTimeout}, true}
				}
				return MainResult{WaitPAP, Disconnected, []MainAction{ActionEmitCantConnect}, true}
			}
			return MainResult{WaitPAP, WaitPANC, []MainAction{
				ActionMarkChosenParentOf, ActionMarkOthersNotConnected,
				ActionBroadcastPAN, ActionArmWaitPANCTimeout,
			}, true}
		}

	case WaitPANC:
		switch event {
		case EventPANCReceived:
			return MainResult{WaitPANC, StableAddress, []MainAction{ActionEmitConnected, ActionArmHeardBitPeriod}, true}
		case EventWaitPANCTimeout:
			return MainResult{WaitPANC, WaitPAP, []MainAction{ActionBroadcastPAR, ActionArmWaitPAPTimeout}, true}
		}

	case StableAddress:
		switch event {
		case EventHeardBitTimeout:
			return MainResult{StableAddress, StableAddress, []MainAction{ActionBroadcastHB, ActionArmHeardBitPeriod}, true}
		case EventSAPReceived:
			return MainResult{StableAddress, StableAddress, []MainAction{ActionHandleSAP}, true}
		case EventDISCReceived:
			return MainResult{StableAddress, StableAddress, []MainAction{ActionHandleDISC}, true}
		case EventLeaveNetwork:
			return MainResult{StableAddress, WaitWaitMe, []MainAction{ActionPublishWillDisconnect, ActionArmWaitWaitMeTimeout}, true}
		}

	case WaitWaitMe:
		switch event {
		case EventWaitMeReceived:
			return mainUnchanged(WaitWaitMe)
		case EventWaitWaitMeTimeout:
			if d.PendingSetEmpty {
				return MainResult{WaitWaitMe, Disconnected, []MainAction{ActionBroadcastDISC, ActionPublishDisconnected}, true}
			}
			return MainResult{WaitWaitMe, WaitReadyForDisc, nil, true}
		}

	case WaitReadyForDisc:
		switch event {
		case EventWaitReadyForDiscEntry:
			if d.PendingSetEmpty {
				return MainResult{WaitReadyForDisc, Disconnected, nil, true}
			}
			return mainUnchanged(WaitReadyForDisc)
		case EventReadyForDiscReceived:
			if d.PendingSetEmpty {
				return MainResult{WaitReadyForDisc, Disconnected, []MainAction{ActionBroadcastDISC, ActionPublishDisconnected}, true}
			}
			return mainUnchanged(WaitReadyForDisc)
		}
	}

	return mainUnchanged(state)
}
