package domain

import (
	"fmt"
	"strings"
)

// Visibility controls who may see a roll's artifact.
type Visibility string

const (
	VisibilityPublic Visibility = "public"
	VisibilityGM     Visibility = "gm"
	VisibilityBlind  Visibility = "blind"
	VisibilitySelf   Visibility = "self"
)

// ParseVisibility maps raw to a Visibility. Empty input means public.
func ParseVisibility(raw string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(raw))); v {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityGM, VisibilityBlind, VisibilitySelf:
		return v, nil
	default:
		return "", fmt.Errorf("unknown visibility %q", raw)
	}
}

// AttackConfig carries attack-specific roll options.
type AttackConfig struct {
	Mode       string `json:"mode,omitempty"`
	Ammunition string `json:"ammunition,omitempty"`
}

// RollConfig is the bag of modifiers attached to a roll request.
type RollConfig struct {
	Advantage    bool          `json:"advantage,omitempty"`
	Disadvantage bool          `json:"disadvantage,omitempty"`
	Bonus        string        `json:"bonus,omitempty"`
	DC           *int          `json:"dc,omitempty"`
	Visibility   Visibility    `json:"visibility,omitempty"`
	RequestedBy  string        `json:"requested_by,omitempty"`
	Formula      string        `json:"formula,omitempty"`
	Attack       *AttackConfig `json:"attack,omitempty"`
}

// Clone returns a deep copy so callers can adjust a config without sharing
// pointers with the original.
func (c RollConfig) Clone() RollConfig {
	out := c
	if c.DC != nil {
		dc := *c.DC
		out.DC = &dc
	}
	if c.Attack != nil {
		attack := *c.Attack
		out.Attack = &attack
	}
	return out
}

// EffectiveMode resolves advantage and disadvantage; both set cancel out.
func (c RollConfig) EffectiveMode() (advantage, disadvantage bool) {
	if c.Advantage && c.Disadvantage {
		return false, false
	}
	return c.Advantage, c.Disadvantage
}

// IntPtr returns a pointer to v, for filling optional DC fields.
func IntPtr(v int) *int {
	return &v
}
