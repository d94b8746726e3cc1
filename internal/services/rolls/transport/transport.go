// Package transport defines how roll requests reach participants and how
// results travel back to the coordinator, plus the envelope every concrete
// transport puts on the wire.
package transport

import (
	"context"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

var (
	// ErrDeliveryFailure matches sends that could not reach their target.
	ErrDeliveryFailure = apperrors.New(apperrors.CodeTransportDeliveryFailure, "roll message could not be delivered")
	// ErrSelfTarget marks sends addressed to the sending process.
	ErrSelfTarget = apperrors.New(apperrors.CodeSelfTarget, "roll message addressed to self")
)

// Transport moves roll traffic between the coordinator and participants.
// SendRollRequest is fire-and-forget: completion arrives later through a
// result report or the artifact store, never through its return value.
type Transport interface {
	SendRollRequest(ctx context.Context, participantID string, req domain.RollRequest) error
	ReportRollResult(ctx context.Context, report domain.ResultReport) error
}

// Handler consumes inbound roll traffic. from is the sender's participant id.
type Handler interface {
	HandleRollRequest(ctx context.Context, from string, req domain.RollRequest) error
	HandleRollResult(ctx context.Context, from string, report domain.ResultReport) error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields ignore the
// message.
type HandlerFuncs struct {
	Request func(ctx context.Context, from string, req domain.RollRequest) error
	Result  func(ctx context.Context, from string, report domain.ResultReport) error
}

// HandleRollRequest implements Handler.
func (h HandlerFuncs) HandleRollRequest(ctx context.Context, from string, req domain.RollRequest) error {
	if h.Request == nil {
		return nil
	}
	return h.Request(ctx, from, req)
}

// HandleRollResult implements Handler.
func (h HandlerFuncs) HandleRollResult(ctx context.Context, from string, report domain.ResultReport) error {
	if h.Result == nil {
		return nil
	}
	return h.Result(ctx, from, report)
}

// DeliveryError wraps a send failure with the delivery failure code.
func DeliveryError(target string, cause error) error {
	return &apperrors.Error{
		Code:     apperrors.CodeTransportDeliveryFailure,
		Message:  "deliver to " + target,
		Metadata: map[string]string{"target": target},
		Cause:    cause,
	}
}
