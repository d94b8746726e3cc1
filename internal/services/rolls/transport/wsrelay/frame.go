// Package wsrelay carries roll traffic, the shared artifact store and
// participant presence over one WebSocket connection per process. The hub
// side owns the store and relays roll envelopes between participants; the
// client side implements transport.Transport, artifact.Store and presence
// on top of the hub.
package wsrelay

import (
	"encoding/json"
	"errors"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Frame types.
const (
	frameJoin     = "hub.join"
	frameJoined   = "hub.joined"
	frameAck      = "hub.ack"
	frameError    = "hub.error"
	framePresence = "presence"

	frameRollRequest = "roll.request"
	frameRollResult  = "roll.result"

	frameArtifactCreate  = "artifact.create"
	frameArtifactUpdate  = "artifact.update"
	frameArtifactGet     = "artifact.get"
	frameArtifactFind    = "artifact.find"
	frameArtifactList    = "artifact.list"
	frameArtifactDelete  = "artifact.delete"
	frameArtifactChanged = "artifact.changed"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string            `json:"code"`
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type joinPayload struct {
	ParticipantID string `json:"participant_id"`
	Coordinator   bool   `json:"coordinator,omitempty"`
}

type joinedPayload struct {
	ParticipantID string   `json:"participant_id"`
	CoordinatorID string   `json:"coordinator_id,omitempty"`
	Online        []string `json:"online"`
}

type presencePayload struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
}

type artifactRequest struct {
	ID          string            `json:"id,omitempty"`
	Revision    int64             `json:"revision,omitempty"`
	GroupRollID string            `json:"group_roll_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	Metadata    artifact.Metadata `json:"metadata"`
}

type artifactResult struct {
	ID        string              `json:"id,omitempty"`
	Found     bool                `json:"found,omitempty"`
	Artifact  *artifact.Artifact  `json:"artifact,omitempty"`
	Artifacts []artifact.Artifact `json:"artifacts,omitempty"`
}

// errorFrame converts err into the wire error. Errors without a code are
// reported as UNKNOWN.
func errorFrame(requestID string, err error) wsFrame {
	code := apperrors.CodeOf(err)
	werr := wsError{
		Code:    string(code),
		Status:  code.GRPCCode().String(),
		Message: err.Error(),
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		werr.Message = appErr.Message
		werr.Metadata = appErr.Metadata
	}
	werr.Retryable = code == apperrors.CodeTransportDeliveryFailure
	return wsFrame{Type: frameError, RequestID: requestID, Payload: mustJSON(wsErrorEnvelope{Error: werr})}
}

func protocolError(requestID string, code apperrors.Code, message string) wsFrame {
	return errorFrame(requestID, apperrors.New(code, message))
}

// decodeError rebuilds an *apperrors.Error from a wire error so errors.Is
// matches the package sentinels on the client side.
func decodeError(payload json.RawMessage) error {
	var env wsErrorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "decode hub error", err)
	}
	return &apperrors.Error{
		Code:     apperrors.Code(env.Error.Code),
		Message:  env.Error.Message,
		Metadata: env.Error.Metadata,
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
