package reservation

import (
	"fmt"

	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// State is the lifecycle state of a reservation request
type State uint8

const (
	StateRequested State = iota + 1
	StateAccepted
	StateRejected
	StateCancelled
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateRequested: "Requested",
	StateAccepted:  "Accepted",
	StateRejected:  "Rejected",
	StateCancelled: "Cancelled",
	StateClosing:   "Closing",
	StateClosed:    "Closed",
}

// States lists every state in declaration order
func States() []State {
	return []State{StateRequested, StateAccepted, StateRejected, StateCancelled, StateClosing, StateClosed}
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState converts a persisted state name back to a State
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown reservation state %q", name)
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateCancelled || s == StateClosed
}

// IsActive reports whether the request blocks its period for other requests
func (s State) IsActive() bool {
	return s == StateRequested || s == StateAccepted
}

// Action is a lifecycle command
type Action uint8

const (
	ActionAccept Action = iota + 1
	ActionReject
	ActionCancel
	ActionRequestClose
)

// Actions lists every action
func Actions() []Action {
	return []Action{ActionAccept, ActionReject, ActionCancel, ActionRequestClose}
}

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionCancel:
		return "cancel"
	case ActionRequestClose:
		return "request close of"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// next returns the target state of applying a to s. For ActionRequestClose
// the result is StateClosing; the aggregate promotes it to StateClosed once
// both parties asked.
func next(s State, a Action) (State, error) {
	switch s {
	case StateRequested:
		switch a {
		case ActionAccept:
			return StateAccepted, nil
		case ActionReject:
			return StateRejected, nil
		case ActionCancel:
			return StateCancelled, nil
		}
	case StateAccepted:
		switch a {
		case ActionCancel:
			return StateCancelled, nil
		case ActionRequestClose:
			return StateClosing, nil
		}
	case StateClosing:
		if a == ActionRequestClose {
			return StateClosing, nil
		}
	case StateRejected, StateCancelled, StateClosed:
		return s, &types.StateError{From: s.String(), Action: a.String(), Reason: "request is final"}
	}
	return s, &types.StateError{From: s.String(), Action: a.String()}
}

// CanTransition reports whether a is legal from s
func CanTransition(s State, a Action) bool {
	_, err := next(s, a)
	return err == nil
}
