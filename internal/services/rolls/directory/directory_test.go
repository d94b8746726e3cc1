package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const rosterJSON = `{
  "participants": [
    {"id": "gm", "name": "Game Master", "coordinator": true, "online": true},
    {"id": "p1", "name": "Ana", "online": true},
    {"id": "p2", "online": false}
  ],
  "actors": [
    {"id": "a1", "name": "Aria", "owner_id": "p1"},
    {"id": "a2", "name": "Bram", "owner_id": "p2"},
    {"id": "a3", "name": "Goblin"},
    {"id": "a4", "name": "Lost", "owner_id": "ghost"}
  ]
}`

func newTestDirectory(t *testing.T) *Static {
	t.Helper()
	roster, err := LoadRoster(strings.NewReader(rosterJSON))
	if err != nil {
		t.Fatalf("load roster: %v", err)
	}
	dir, err := NewStatic(roster)
	if err != nil {
		t.Fatalf("new static: %v", err)
	}
	return dir
}

type fakePresence map[string]bool

func (f fakePresence) IsOnline(_ context.Context, participantID string) (bool, error) {
	return f[participantID], nil
}

func TestStaticLookups(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	owner, ok, err := dir.OwningParticipant(ctx, "a1")
	if err != nil || !ok || owner.ID != "p1" {
		t.Fatalf("owner of a1 = %+v, %v, %v", owner, ok, err)
	}
	if _, ok, err := dir.OwningParticipant(ctx, "a3"); err != nil || ok {
		t.Fatalf("unowned actor should report ok=false, got %v, %v", ok, err)
	}
	if _, _, err := dir.OwningParticipant(ctx, "missing"); !errors.Is(err, ErrActorNotFound) {
		t.Fatalf("expected actor not found, got %v", err)
	}
	if _, _, err := dir.OwningParticipant(ctx, "a4"); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
	online, err := dir.IsOnline(ctx, "p2")
	if err != nil || online {
		t.Fatalf("p2 online = %v, %v", online, err)
	}
	participant, err := dir.Participant(ctx, "p2")
	if err != nil || participant.DisplayName() != "p2" {
		t.Fatalf("participant p2 = %+v, %v", participant, err)
	}
}

func TestStaticSetOnline(t *testing.T) {
	dir := newTestDirectory(t)
	if err := dir.SetOnline("p2", true); err != nil {
		t.Fatalf("set online: %v", err)
	}
	online, _ := dir.IsOnline(context.Background(), "p2")
	if !online {
		t.Fatal("expected p2 online after SetOnline")
	}
	if err := dir.SetOnline("nobody", true); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestStaticRejectsDuplicates(t *testing.T) {
	_, err := NewStatic(Roster{Actors: []Actor{{ID: "a"}, {ID: "a"}}})
	if err == nil {
		t.Fatal("expected duplicate actor error")
	}
	_, err = NewStatic(Roster{Participants: []Participant{{ID: " "}}})
	if err == nil {
		t.Fatal("expected empty participant id error")
	}
}

func TestLoadRosterRejectsUnknownFields(t *testing.T) {
	if _, err := LoadRoster(strings.NewReader(`{"players": []}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	if err := os.WriteFile(path, []byte(rosterJSON), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	dir, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	owned := dir.ActorsOwnedBy("p1")
	sort.Strings(owned)
	if len(owned) != 1 || owned[0] != "a1" {
		t.Fatalf("owned by p1 = %v", owned)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestWithPresenceOverridesOnline(t *testing.T) {
	dir := WithPresence(newTestDirectory(t), fakePresence{"p2": true})
	ctx := context.Background()

	online, err := dir.IsOnline(ctx, "p1")
	if err != nil || online {
		t.Fatalf("p1 should be offline per presence, got %v, %v", online, err)
	}
	owner, ok, err := dir.OwningParticipant(ctx, "a2")
	if err != nil || !ok || !owner.Online {
		t.Fatalf("a2 owner should be online, got %+v, %v, %v", owner, ok, err)
	}
	if _, err := dir.IsOnline(ctx, "nobody"); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestOwns(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()
	if owns, err := Owns(ctx, dir, "p1", "a1"); err != nil || !owns {
		t.Fatalf("p1 should own a1: %v, %v", owns, err)
	}
	if owns, err := Owns(ctx, dir, "p2", "a1"); err != nil || owns {
		t.Fatalf("p2 should not own a1: %v, %v", owns, err)
	}
	if owns, err := Owns(ctx, dir, "p1", "a3"); err != nil || owns {
		t.Fatalf("nobody owns a3: %v, %v", owns, err)
	}
}
