package transport

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

// EnvelopeVersion is the wire version of Envelope.
const EnvelopeVersion = 1

// Kind names the payload carried by an Envelope.
type Kind string

const (
	KindRollRequest Kind = "roll.request"
	KindRollResult  Kind = "roll.result"
)

// Envelope is the transport-neutral wire form of one roll message. To is
// empty for results, which always go to the coordinator.
type Envelope struct {
	Version int             `json:"version"`
	Kind    Kind            `json:"kind"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RequestEnvelope wraps a validated request for participantID.
func RequestEnvelope(from, participantID string, req domain.RollRequest) (Envelope, error) {
	if err := req.Validate(); err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode roll request: %w", err)
	}
	return Envelope{Version: EnvelopeVersion, Kind: KindRollRequest, From: from, To: participantID, Payload: payload}, nil
}

// ResultEnvelope wraps a validated result report.
func ResultEnvelope(from string, report domain.ResultReport) (Envelope, error) {
	if err := report.Validate(); err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode result report: %w", err)
	}
	return Envelope{Version: EnvelopeVersion, Kind: KindRollResult, From: from, Payload: payload}, nil
}

// Encode marshals the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals an envelope and checks its version and kind.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, apperrors.Wrap(apperrors.CodeInvalidRollRequest, "decode envelope", err)
	}
	if env.Version != EnvelopeVersion {
		return Envelope{}, apperrors.WithMetadata(apperrors.CodeUnsupportedSchemaVersion,
			fmt.Sprintf("envelope version %d is not supported", env.Version),
			map[string]string{"version": fmt.Sprint(env.Version)})
	}
	switch env.Kind {
	case KindRollRequest, KindRollResult:
	default:
		return Envelope{}, apperrors.New(apperrors.CodeInvalidRollRequest, fmt.Sprintf("unknown envelope kind %q", env.Kind))
	}
	return env, nil
}

// Deliver decodes env's payload and hands it to h.
func Deliver(ctx context.Context, h Handler, env Envelope) error {
	switch env.Kind {
	case KindRollRequest:
		req, err := domain.DecodeRollRequest(env.Payload)
		if err != nil {
			return err
		}
		return h.HandleRollRequest(ctx, env.From, req)
	case KindRollResult:
		report, err := domain.DecodeResultReport(env.Payload)
		if err != nil {
			return err
		}
		return h.HandleRollResult(ctx, env.From, report)
	default:
		return apperrors.New(apperrors.CodeInvalidRollRequest, fmt.Sprintf("unknown envelope kind %q", env.Kind))
	}
}
