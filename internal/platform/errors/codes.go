// Package errors provides structured error handling for roll orchestration.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Directory errors
	CodeActorNotFound       Code = "ACTOR_NOT_FOUND"
	CodeParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"

	// Request errors
	CodeUnknownRollType          Code = "UNKNOWN_ROLL_TYPE"
	CodeInvalidRollRequest       Code = "INVALID_ROLL_REQUEST"
	CodeUnsupportedSchemaVersion Code = "UNSUPPORTED_SCHEMA_VERSION"
	CodeInvalidFormula           Code = "INVALID_FORMULA"
	CodeNotOwner                 Code = "NOT_OWNER"

	// Transport errors
	CodeTransportDeliveryFailure Code = "TRANSPORT_DELIVERY_FAILURE"
	CodeSelfTarget               Code = "SELF_TARGET"
	CodeInvalidFrame             Code = "INVALID_FRAME"
	CodeNotJoined                Code = "NOT_JOINED"
	CodeRateLimited              Code = "RATE_LIMITED"

	// Session and artifact errors
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeActorNotInSession     Code = "ACTOR_NOT_IN_SESSION"
	CodeDuplicateArtifactRace Code = "DUPLICATE_ARTIFACT_RACE"
	CodeArtifactNotFound      Code = "ARTIFACT_NOT_FOUND"
	CodeStaleDeletionAttempt  Code = "STALE_DELETION_ATTEMPT"
	CodeArtifactConflict      Code = "ARTIFACT_CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes. Relay error frames carry
// the status name next to the domain code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeUnknownRollType,
		CodeInvalidRollRequest,
		CodeUnsupportedSchemaVersion,
		CodeInvalidFormula,
		CodeInvalidFrame:
		return codes.InvalidArgument

	case CodeNotOwner,
		CodeSelfTarget:
		return codes.PermissionDenied

	case CodeActorNotFound,
		CodeParticipantNotFound,
		CodeSessionNotFound,
		CodeArtifactNotFound:
		return codes.NotFound

	case CodeActorNotInSession,
		CodeStaleDeletionAttempt,
		CodeNotJoined:
		return codes.FailedPrecondition

	case CodeDuplicateArtifactRace:
		return codes.AlreadyExists

	case CodeArtifactConflict:
		return codes.Aborted

	case CodeTransportDeliveryFailure:
		return codes.Unavailable

	case CodeRateLimited:
		return codes.ResourceExhausted

	default:
		return codes.Internal
	}
}
