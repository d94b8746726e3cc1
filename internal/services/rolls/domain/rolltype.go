package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
)

// RollType is the closed set of roll categories a request may carry.
type RollType string

const (
	RollAbility       RollType = "ability"
	RollSave          RollType = "save"
	RollSkill         RollType = "skill"
	RollTool          RollType = "tool"
	RollAttack        RollType = "attack"
	RollDamage        RollType = "damage"
	RollInitiative    RollType = "initiative"
	RollDeathSave     RollType = "death_save"
	RollHitDie        RollType = "hit_die"
	RollConcentration RollType = "concentration"
	RollCustom        RollType = "custom"
)

var rollTypes = []RollType{
	RollAbility,
	RollSave,
	RollSkill,
	RollTool,
	RollAttack,
	RollDamage,
	RollInitiative,
	RollDeathSave,
	RollHitDie,
	RollConcentration,
	RollCustom,
}

// ErrUnknownRollType matches any error raised for a roll type outside the set.
var ErrUnknownRollType = apperrors.New(apperrors.CodeUnknownRollType, "unknown roll type")

// RollTypes returns every known roll type in declaration order.
func RollTypes() []RollType {
	out := make([]RollType, len(rollTypes))
	copy(out, rollTypes)
	return out
}

// ParseRollType normalizes raw and rejects values outside the known set.
func ParseRollType(raw string) (RollType, error) {
	candidate := RollType(strings.ToLower(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", apperrors.WithMetadata(
		apperrors.CodeUnknownRollType,
		fmt.Sprintf("unknown roll type %q", raw),
		map[string]string{"roll_type": raw},
	)
}

// Valid reports whether t is one of the known roll types.
func (t RollType) Valid() bool {
	for _, known := range rollTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsD20Test reports whether the roll is a single d20 test that honors
// advantage, disadvantage, and a DC.
func (t RollType) IsD20Test() bool {
	switch t {
	case RollAbility, RollSave, RollSkill, RollTool, RollAttack,
		RollInitiative, RollDeathSave, RollConcentration:
		return true
	default:
		return false
	}
}

// RequiresKey reports whether the roll needs a sub-selector such as the
// ability or skill name.
func (t RollType) RequiresKey() bool {
	switch t {
	case RollAbility, RollSave, RollSkill, RollTool, RollAttack, RollDamage:
		return true
	default:
		return false
	}
}
