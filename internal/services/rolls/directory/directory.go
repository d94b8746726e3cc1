// Package directory resolves actors, the participants who own them, and
// whether those participants are online.
package directory

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
)

var (
	// ErrActorNotFound is returned when an actor id does not resolve.
	ErrActorNotFound = apperrors.New(apperrors.CodeActorNotFound, "actor not found")
	// ErrParticipantNotFound is returned when a participant id does not resolve.
	ErrParticipantNotFound = apperrors.New(apperrors.CodeParticipantNotFound, "participant not found")
)

// Actor is a rollable character. OwnerID is empty for unowned actors.
type Actor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id,omitempty"`
}

// Participant is a connected user. Coordinators are never delegated to.
type Participant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Coordinator bool   `json:"coordinator,omitempty"`
	Online      bool   `json:"online,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// DisplayName falls back to the id when no name is set.
func (p Participant) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return p.ID
}

// Directory is the read-only lookup the router and agents consume.
type Directory interface {
	Actor(ctx context.Context, actorID string) (Actor, error)
	Participant(ctx context.Context, participantID string) (Participant, error)
	// OwningParticipant returns ok=false for actors without an owner and
	// ErrParticipantNotFound when the owner id no longer resolves.
	OwningParticipant(ctx context.Context, actorID string) (owner Participant, ok bool, err error)
	IsOnline(ctx context.Context, participantID string) (bool, error)
}

// Presence reports live connection state for participants.
type Presence interface {
	IsOnline(ctx context.Context, participantID string) (bool, error)
}

// Owns reports whether participantID owns actorID.
func Owns(ctx context.Context, dir Directory, participantID, actorID string) (bool, error) {
	owner, ok, err := dir.OwningParticipant(ctx, actorID)
	if err != nil {
		return false, err
	}
	return ok && owner.ID == participantID, nil
}

// WithPresence overlays a live presence source on dir. Lookups other than
// IsOnline go to dir; unknown participants still fail with
// ErrParticipantNotFound.
func WithPresence(dir Directory, presence Presence) Directory {
	if presence == nil {
		return dir
	}
	return presenceDirectory{Directory: dir, presence: presence}
}

type presenceDirectory struct {
	Directory
	presence Presence
}

func (d presenceDirectory) IsOnline(ctx context.Context, participantID string) (bool, error) {
	if _, err := d.Directory.Participant(ctx, participantID); err != nil {
		return false, err
	}
	return d.presence.IsOnline(ctx, participantID)
}

func (d presenceDirectory) OwningParticipant(ctx context.Context, actorID string) (Participant, bool, error) {
	owner, ok, err := d.Directory.OwningParticipant(ctx, actorID)
	if err != nil || !ok {
		return owner, ok, err
	}
	online, err := d.presence.IsOnline(ctx, owner.ID)
	if err != nil {
		return Participant{}, false, err
	}
	owner.Online = online
	return owner, true, nil
}
