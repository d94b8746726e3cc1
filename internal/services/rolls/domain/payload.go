package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadVersion is the current GroupRollPayload version.
const PayloadVersion = 1

// Outcome is a result compared against a DC.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Evaluate compares total against dc. Without a DC there is no outcome.
func Evaluate(total int, dc *int) Outcome {
	if dc == nil {
		return OutcomeNone
	}
	if total >= *dc {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// ActorResult is one reported total.
type ActorResult struct {
	Total   int     `json:"total"`
	Outcome Outcome `json:"outcome,omitempty"`
}

// GroupRollPayload is stored on the group artifact and is enough to rebuild
// a session from the artifact alone.
type GroupRollPayload struct {
	Version     int                    `json:"version"`
	GroupRollID string                 `json:"group_roll_id"`
	RollType    RollType               `json:"roll_type,omitempty"`
	RollKey     string                 `json:"roll_key,omitempty"`
	ActorIDs    []string               `json:"actor_ids"`
	Results     map[string]ActorResult `json:"results,omitempty"`
	DC          *int                   `json:"dc,omitempty"`
}

// Validate checks the payload identifies a group with unique members and
// carries no orphan results.
func (p GroupRollPayload) Validate() error {
	if p.Version != PayloadVersion {
		return versionError(p.Version)
	}
	if strings.TrimSpace(p.GroupRollID) == "" {
		return invalidRequest("group roll id is required")
	}
	seen := make(map[string]struct{}, len(p.ActorIDs))
	for _, actorID := range p.ActorIDs {
		if strings.TrimSpace(actorID) == "" {
			return invalidRequest("actor ids must not be empty")
		}
		if _, dup := seen[actorID]; dup {
			return invalidRequest(fmt.Sprintf("duplicate actor id %q", actorID))
		}
		seen[actorID] = struct{}{}
	}
	for actorID := range p.Results {
		if _, ok := seen[actorID]; !ok {
			return invalidRequest(fmt.Sprintf("result for unknown actor %q", actorID))
		}
	}
	return nil
}

// Has reports whether actorID is an expected member.
func (p GroupRollPayload) Has(actorID string) bool {
	for _, candidate := range p.ActorIDs {
		if candidate == actorID {
			return true
		}
	}
	return false
}

// Complete reports whether every member has a result.
func (p GroupRollPayload) Complete() bool {
	if len(p.ActorIDs) == 0 {
		return false
	}
	for _, actorID := range p.ActorIDs {
		if _, ok := p.Results[actorID]; !ok {
			return false
		}
	}
	return true
}

// Pending returns members without a result, in display order.
func (p GroupRollPayload) Pending() []string {
	var pending []string
	for _, actorID := range p.ActorIDs {
		if _, ok := p.Results[actorID]; !ok {
			pending = append(pending, actorID)
		}
	}
	return pending
}

// Clone returns a deep copy.
func (p GroupRollPayload) Clone() GroupRollPayload {
	out := p
	out.ActorIDs = append([]string(nil), p.ActorIDs...)
	out.Results = make(map[string]ActorResult, len(p.Results))
	for actorID, result := range p.Results {
		out.Results[actorID] = result
	}
	if p.DC != nil {
		dc := *p.DC
		out.DC = &dc
	}
	return out
}

// Merge returns p with results from other filled in for members p has no
// result for yet. Results already in p win; results for non-members are
// dropped.
func (p GroupRollPayload) Merge(other GroupRollPayload) GroupRollPayload {
	out := p.Clone()
	for actorID, result := range other.Results {
		if _, ok := out.Results[actorID]; ok || !out.Has(actorID) {
			continue
		}
		out.Results[actorID] = ActorResult{Total: result.Total, Outcome: Evaluate(result.Total, out.DC)}
	}
	return out
}

// EncodePayload marshals p for artifact metadata.
func EncodePayload(p GroupRollPayload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode group roll payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals and validates a stored payload.
func DecodePayload(data []byte) (GroupRollPayload, error) {
	var payload GroupRollPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return GroupRollPayload{}, fmt.Errorf("decode group roll payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return GroupRollPayload{}, err
	}
	if payload.Results == nil {
		payload.Results = map[string]ActorResult{}
	}
	return payload, nil
}
