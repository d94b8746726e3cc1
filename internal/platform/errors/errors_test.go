package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeActorNotFound, "actor not found")
	err := fmt.Errorf("dispatch: %w", WithMetadata(CodeActorNotFound, "actor a1 not found", map[string]string{"ActorID": "a1"}))
	if !stderrors.Is(err, sentinel) {
		t.Fatal("expected wrapped error to match sentinel by code")
	}
	if stderrors.Is(err, New(CodeSessionNotFound, "other")) {
		t.Fatal("expected different code not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(CodeTransportDeliveryFailure, "send roll request", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "send roll request: connection reset" {
		t.Fatalf("error = %q", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", New(CodeInvalidFormula, "bad"))); got != CodeInvalidFormula {
		t.Fatalf("CodeOf = %s, want %s", got, CodeInvalidFormula)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf = %s, want %s", got, CodeUnknown)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidFormula, codes.InvalidArgument},
		{CodeActorNotFound, codes.NotFound},
		{CodeActorNotInSession, codes.FailedPrecondition},
		{CodeTransportDeliveryFailure, codes.Unavailable},
		{CodeSelfTarget, codes.PermissionDenied},
		{CodeRateLimited, codes.ResourceExhausted},
		{CodeNotJoined, codes.FailedPrecondition},
		{CodeArtifactConflict, codes.Aborted},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("%s.GRPCCode() = %v, want %v", tc.code, got, tc.want)
		}
	}
}
