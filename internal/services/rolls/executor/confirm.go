package executor

import (
	"context"

	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

// ConfirmRequest is what a confirmation dialog shows. ActorIDs has one
// entry for a single roll; the router passes the whole batch with the
// representative actor first.
type ConfirmRequest struct {
	ActorIDs []string
	RollType domain.RollType
	RollKey  string
	Config   domain.RollConfig
}

// Confirmer asks the local user to approve a roll. It returns the config
// to roll with, which may differ from the one proposed, and false when the
// user cancels.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (domain.RollConfig, bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (domain.RollConfig, bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, req ConfirmRequest) (domain.RollConfig, bool, error) {
	return f(ctx, req)
}

// AutoConfirm approves every roll unchanged.
type AutoConfirm struct{}

// Confirm implements Confirmer.
func (AutoConfirm) Confirm(_ context.Context, req ConfirmRequest) (domain.RollConfig, bool, error) {
	return req.Config, true, nil
}
