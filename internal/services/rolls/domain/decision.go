package domain

// DecisionKind is the outcome of routing one actor.
type DecisionKind int

const (
	// DecisionRollLocally means the coordinator runs the executor itself.
	DecisionRollLocally DecisionKind = iota
	// DecisionDelegate means a request is sent to the owning participant.
	DecisionDelegate
)

// String returns a stable label for logs and metrics.
func (k DecisionKind) String() string {
	if k == DecisionDelegate {
		return "delegate"
	}
	return "local"
}

// Reasons an actor is rolled locally.
const (
	ReasonDelegated          = "delegated"
	ReasonNoOwner            = "no_owner"
	ReasonOwnerOffline       = "owner_offline"
	ReasonCoordinatorOwned   = "coordinator_owned"
	ReasonDelegationDisabled = "delegation_disabled"
	ReasonForcedLocal        = "forced_local"
)

// DelegationDecision is the per-actor routing result. ParticipantID is set
// only for delegated decisions.
type DelegationDecision struct {
	ActorID       string
	Kind          DecisionKind
	ParticipantID string
	Reason        string
}

// Delegate builds a decision forwarding actorID to participantID.
func Delegate(actorID, participantID string) DelegationDecision {
	return DelegationDecision{
		ActorID:       actorID,
		Kind:          DecisionDelegate,
		ParticipantID: participantID,
		Reason:        ReasonDelegated,
	}
}

// RollLocally builds a local decision with the given reason.
func RollLocally(actorID, reason string) DelegationDecision {
	return DelegationDecision{
		ActorID: actorID,
		Kind:    DecisionRollLocally,
		Reason:  reason,
	}
}

// Delegated reports whether the decision forwards to a participant.
func (d DelegationDecision) Delegated() bool {
	return d.Kind == DecisionDelegate
}
