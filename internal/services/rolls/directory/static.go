package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
)

// Roster is the JSON document a Static directory is loaded from.
type Roster struct {
	Participants []Participant `json:"participants"`
	Actors       []Actor       `json:"actors"`
}

// Static is an in-memory directory. Online flags start from the roster and
// can be flipped with SetOnline.
type Static struct {
	mu           sync.RWMutex
	actors       map[string]Actor
	participants map[string]Participant
}

// NewStatic validates roster and builds a directory from it.
func NewStatic(roster Roster) (*Static, error) {
	dir := &Static{
		actors:       make(map[string]Actor, len(roster.Actors)),
		participants: make(map[string]Participant, len(roster.Participants)),
	}
	for _, participant := range roster.Participants {
		participant.ID = strings.TrimSpace(participant.ID)
		if participant.ID == "" {
			return nil, fmt.Errorf("participant id is required")
		}
		if _, dup := dir.participants[participant.ID]; dup {
			return nil, fmt.Errorf("duplicate participant %q", participant.ID)
		}
		dir.participants[participant.ID] = participant
	}
	for _, actor := range roster.Actors {
		actor.ID = strings.TrimSpace(actor.ID)
		actor.OwnerID = strings.TrimSpace(actor.OwnerID)
		if actor.ID == "" {
			return nil, fmt.Errorf("actor id is required")
		}
		if _, dup := dir.actors[actor.ID]; dup {
			return nil, fmt.Errorf("duplicate actor %q", actor.ID)
		}
		dir.actors[actor.ID] = actor
	}
	return dir, nil
}

// LoadRoster decodes a roster document.
func LoadRoster(r io.Reader) (Roster, error) {
	var roster Roster
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&roster); err != nil {
		return Roster{}, fmt.Errorf("decode roster: %w", err)
	}
	return roster, nil
}

// LoadFile reads a roster from path and builds a Static directory.
func LoadFile(path string) (*Static, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer file.Close()
	roster, err := LoadRoster(file)
	if err != nil {
		return nil, err
	}
	return NewStatic(roster)
}

// Actor implements Directory.
func (d *Static) Actor(_ context.Context, actorID string) (Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actor, ok := d.actors[actorID]
	if !ok {
		return Actor{}, actorNotFound(actorID)
	}
	return actor, nil
}

// Participant implements Directory.
func (d *Static) Participant(_ context.Context, participantID string) (Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	participant, ok := d.participants[participantID]
	if !ok {
		return Participant{}, participantNotFound(participantID)
	}
	return participant, nil
}

// OwningParticipant implements Directory.
func (d *Static) OwningParticipant(_ context.Context, actorID string) (Participant, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actor, ok := d.actors[actorID]
	if !ok {
		return Participant{}, false, actorNotFound(actorID)
	}
	if actor.OwnerID == "" {
		return Participant{}, false, nil
	}
	owner, ok := d.participants[actor.OwnerID]
	if !ok {
		return Participant{}, false, participantNotFound(actor.OwnerID)
	}
	return owner, true, nil
}

// IsOnline implements Directory.
func (d *Static) IsOnline(_ context.Context, participantID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	participant, ok := d.participants[participantID]
	if !ok {
		return false, participantNotFound(participantID)
	}
	return participant.Online, nil
}

// SetOnline updates a participant's online flag.
func (d *Static) SetOnline(participantID string, online bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	participant, ok := d.participants[participantID]
	if !ok {
		return participantNotFound(participantID)
	}
	participant.Online = online
	d.participants[participantID] = participant
	return nil
}

// ActorsOwnedBy lists the ids of actors owned by participantID.
func (d *Static) ActorsOwnedBy(participantID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for id, actor := range d.actors {
		if actor.OwnerID == participantID {
			ids = append(ids, id)
		}
	}
	return ids
}

func actorNotFound(actorID string) error {
	return apperrors.WithMetadata(apperrors.CodeActorNotFound,
		fmt.Sprintf("actor %q not found", actorID),
		map[string]string{"actor_id": actorID})
}

func participantNotFound(participantID string) error {
	return apperrors.WithMetadata(apperrors.CodeParticipantNotFound,
		fmt.Sprintf("participant %q not found", participantID),
		map[string]string{"participant_id": participantID})
}

var _ Directory = (*Static)(nil)
