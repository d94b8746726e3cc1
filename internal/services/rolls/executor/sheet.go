package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
)

// Attack is one weapon or spell attack on a sheet.
type Attack struct {
	Bonus  int    `json:"bonus"`
	Damage string `json:"damage"`
}

// Sheet holds the modifiers the rules engine would compute for an actor.
// Missing skill, tool and save entries fall back to the ability modifier
// or zero.
type Sheet struct {
	Abilities  map[string]int    `json:"abilities,omitempty"`
	Saves      map[string]int    `json:"saves,omitempty"`
	Skills     map[string]int    `json:"skills,omitempty"`
	Tools      map[string]int    `json:"tools,omitempty"`
	Attacks    map[string]Attack `json:"attacks,omitempty"`
	Initiative *int              `json:"initiative,omitempty"`
	HitDie     string            `json:"hit_die,omitempty"`
}

// SheetSource supplies actor sheets.
type SheetSource interface {
	Sheet(ctx context.Context, actorID string) (Sheet, error)
}

// StaticSheets is an in-memory SheetSource. Actors without a sheet get an
// empty one, so every modifier is zero.
type StaticSheets struct {
	mu     sync.RWMutex
	sheets map[string]Sheet
}

// NewStaticSheets builds a source from sheets keyed by actor id.
func NewStaticSheets(sheets map[string]Sheet) *StaticSheets {
	copied := make(map[string]Sheet, len(sheets))
	for actorID, sheet := range sheets {
		copied[actorID] = sheet
	}
	return &StaticSheets{sheets: copied}
}

// LoadSheets reads a JSON object of sheets keyed by actor id.
func LoadSheets(r io.Reader) (*StaticSheets, error) {
	var sheets map[string]Sheet
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&sheets); err != nil {
		return nil, fmt.Errorf("decode sheets: %w", err)
	}
	return NewStaticSheets(sheets), nil
}

// LoadSheetsFile reads sheets from path.
func LoadSheetsFile(path string) (*StaticSheets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sheets: %w", err)
	}
	defer f.Close()
	return LoadSheets(f)
}

// Sheet implements SheetSource.
func (s *StaticSheets) Sheet(_ context.Context, actorID string) (Sheet, error) {
	if actorID == "" {
		return Sheet{}, directory.ErrActorNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sheets[actorID], nil
}

// Put replaces the sheet for actorID.
func (s *StaticSheets) Put(actorID string, sheet Sheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[actorID] = sheet
}

func (s Sheet) ability(key string) int {
	return s.Abilities[key]
}

func (s Sheet) save(key string) int {
	if value, ok := s.Saves[key]; ok {
		return value
	}
	return s.ability(key)
}

func (s Sheet) initiative() int {
	if s.Initiative != nil {
		return *s.Initiative
	}
	return s.ability("dex")
}
