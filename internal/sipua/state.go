package sipua

import "fmt"

// CallState represents the lifecycle state of a SIP dialog.
type CallState int

const (
	// StateCalling is the initial state: INVITE received or sent.
	StateCalling CallState = iota
	// StateRinging is after a 180/183 provisional response.
	StateRinging
	// StateEstablished is after a 200 OK; media is flowing.
	StateEstablished
	// StateTerminated is the final state after the dialog ends.
	StateTerminated
)

// String returns the string representation of the state.
func (s CallState) String() string {
	switch s {
	case StateCalling:
		return "Calling"
	case StateRinging:
		return "Ringing"
	case StateEstablished:
		return "Established"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[CallState][]CallState{
	StateCalling:     {StateRinging, StateEstablished, StateTerminated},
	StateRinging:     {StateEstablished, StateTerminated},
	StateEstablished: {StateTerminated},
	StateTerminated:  {},
}

// CanTransitionTo checks if a transition to next is valid.
func (s CallState) CanTransitionTo(next CallState) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s CallState) IsTerminal() bool {
	return s == StateTerminated
}

// TerminateReason explains why a dialog was terminated.
type TerminateReason int

const (
	// ReasonLocalBYE means we initiated the hangup.
	ReasonLocalBYE TerminateReason = iota
	// ReasonRemoteBYE means the remote party sent BYE.
	ReasonRemoteBYE
	// ReasonCancel means CANCEL arrived during an early dialog.
	ReasonCancel
	// ReasonRejected means the remote answered with a failure response.
	ReasonRejected
	// ReasonError means a local error tore the dialog down.
	ReasonError
)

// String returns the string representation of the termination reason.
func (r TerminateReason) String() string {
	switch r {
	case ReasonLocalBYE:
		return "LocalBYE"
	case ReasonRemoteBYE:
		return "RemoteBYE"
	case ReasonCancel:
		return "Cancel"
	case ReasonRejected:
		return "Rejected"
	case ReasonError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// Direction indicates whether we initiated or received the dialog.
type Direction int

const (
	// DirectionInbound - we received the INVITE (UAS role).
	DirectionInbound Direction = iota
	// DirectionOutbound - we sent the INVITE (UAC role).
	DirectionOutbound
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}
