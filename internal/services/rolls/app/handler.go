package app

import (
	"context"
	"sync/atomic"

	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
)

// HandlerSlot is a transport.Handler whose target is set after the
// connection that feeds it exists. Messages arriving before Set are dropped.
type HandlerSlot struct {
	target atomic.Pointer[transport.Handler]
}

// Set points the slot at h.
func (s *HandlerSlot) Set(h transport.Handler) {
	s.target.Store(&h)
}

// HandleRollRequest implements transport.Handler.
func (s *HandlerSlot) HandleRollRequest(ctx context.Context, from string, req domain.RollRequest) error {
	if h := s.target.Load(); h != nil {
		return (*h).HandleRollRequest(ctx, from, req)
	}
	return nil
}

// HandleRollResult implements transport.Handler.
func (s *HandlerSlot) HandleRollResult(ctx context.Context, from string, report domain.ResultReport) error {
	if h := s.target.Load(); h != nil {
		return (*h).HandleRollResult(ctx, from, report)
	}
	return nil
}
