package domain

import "fmt"

// ActorState tracks one actor's participation in a group roll.
type ActorState int

const (
	StatePending ActorState = iota
	StateDelegated
	StateLocalInProgress
	StateReported
	StateCancelled
	StateTimedOutUnreported
)

var actorStateNames = map[ActorState]string{
	StatePending:            "pending",
	StateDelegated:          "delegated",
	StateLocalInProgress:    "local_in_progress",
	StateReported:           "reported",
	StateCancelled:          "cancelled",
	StateTimedOutUnreported: "timed_out_unreported",
}

// String returns the snake_case state name.
func (s ActorState) String() string {
	if name, ok := actorStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("actor_state(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s ActorState) Terminal() bool {
	return s == StateReported || s == StateCancelled || s == StateTimedOutUnreported
}

var actorTransitions = map[ActorState][]ActorState{
	StatePending:         {StateDelegated, StateLocalInProgress, StateReported, StateTimedOutUnreported},
	StateDelegated:       {StateReported, StateCancelled, StateTimedOutUnreported},
	StateLocalInProgress: {StateReported, StateCancelled, StateTimedOutUnreported},
}

// CanTransition reports whether s may move to next. Repeating the current
// state is allowed so duplicate deliveries stay idempotent.
func (s ActorState) CanTransition(next ActorState) bool {
	if s == next {
		return true
	}
	for _, allowed := range actorTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next when allowed, or an error naming both states.
func (s ActorState) Transition(next ActorState) (ActorState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("actor state %s cannot move to %s", s, next)
	}
	return next, nil
}
