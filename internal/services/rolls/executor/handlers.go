package executor

import (
	"fmt"
	"strings"

	"github.com/louisbranch/grouproll/internal/platform/dice"
	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

const (
	defaultDeathSaveDC     = 10
	defaultConcentrationDC = 10
	defaultHitDie          = "1d8"
)

var abilityKeys = map[string]bool{
	"str": true, "dex": true, "con": true,
	"int": true, "wis": true, "cha": true,
}

// Plan is what a handler decides: whether the roll is a d20 test, the
// formula added to it, and the DC to compare against.
type Plan struct {
	D20     bool
	Formula dice.Formula
	DC      *int
}

// Handler turns a request and sheet into a roll plan.
type Handler func(req domain.RollRequest, sheet Sheet) (Plan, error)

// Handlers returns the table covering every roll type.
func Handlers() map[domain.RollType]Handler {
	return map[domain.RollType]Handler{
		domain.RollAbility:       abilityCheck,
		domain.RollSave:          savingThrow,
		domain.RollSkill:         d20With(func(s Sheet, key string) int { return s.Skills[key] }),
		domain.RollTool:          d20With(func(s Sheet, key string) int { return s.Tools[key] }),
		domain.RollAttack:        attackRoll,
		domain.RollDamage:        damageRoll,
		domain.RollInitiative:    d20With(func(s Sheet, _ string) int { return s.initiative() }),
		domain.RollDeathSave:     deathSave,
		domain.RollHitDie:        hitDie,
		domain.RollConcentration: concentration,
		domain.RollCustom:        customRoll,
	}
}

func d20With(modifier func(Sheet, string) int) Handler {
	return func(req domain.RollRequest, sheet Sheet) (Plan, error) {
		return Plan{D20: true, Formula: dice.Constant(modifier(sheet, req.RollKey)), DC: req.Config.DC}, nil
	}
}

func abilityCheck(req domain.RollRequest, sheet Sheet) (Plan, error) {
	if err := requireAbility(req.RollKey); err != nil {
		return Plan{}, err
	}
	return Plan{D20: true, Formula: dice.Constant(sheet.ability(req.RollKey)), DC: req.Config.DC}, nil
}

func savingThrow(req domain.RollRequest, sheet Sheet) (Plan, error) {
	if err := requireAbility(req.RollKey); err != nil {
		return Plan{}, err
	}
	return Plan{D20: true, Formula: dice.Constant(sheet.save(req.RollKey)), DC: req.Config.DC}, nil
}

func attackRoll(req domain.RollRequest, sheet Sheet) (Plan, error) {
	attack, ok := sheet.Attacks[req.RollKey]
	if !ok {
		return Plan{}, unknownKey(req)
	}
	return Plan{D20: true, Formula: dice.Constant(attack.Bonus), DC: req.Config.DC}, nil
}

func damageRoll(req domain.RollRequest, sheet Sheet) (Plan, error) {
	attack, ok := sheet.Attacks[req.RollKey]
	if !ok {
		return Plan{}, unknownKey(req)
	}
	formula, err := parseFormula(attack.Damage)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Formula: formula}, nil
}

func deathSave(req domain.RollRequest, _ Sheet) (Plan, error) {
	dc := req.Config.DC
	if dc == nil {
		dc = domain.IntPtr(defaultDeathSaveDC)
	}
	return Plan{D20: true, DC: dc}, nil
}

func hitDie(req domain.RollRequest, sheet Sheet) (Plan, error) {
	die := sheet.HitDie
	if strings.TrimSpace(die) == "" {
		die = defaultHitDie
	}
	formula, err := parseFormula(die)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Formula: formula.Plus(dice.Constant(sheet.ability("con")))}, nil
}

func concentration(req domain.RollRequest, sheet Sheet) (Plan, error) {
	dc := req.Config.DC
	if dc == nil {
		dc = domain.IntPtr(defaultConcentrationDC)
	}
	return Plan{D20: true, Formula: dice.Constant(sheet.save("con")), DC: dc}, nil
}

func customRoll(req domain.RollRequest, _ Sheet) (Plan, error) {
	formula, err := parseFormula(req.Config.Formula)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Formula: formula, DC: req.Config.DC}, nil
}

func requireAbility(key string) error {
	if !abilityKeys[key] {
		return apperrors.WithMetadata(apperrors.CodeInvalidRollRequest,
			fmt.Sprintf("unknown ability %q", key),
			map[string]string{"roll_key": key})
	}
	return nil
}

func unknownKey(req domain.RollRequest) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidRollRequest,
		fmt.Sprintf("actor %s has no %s %q", req.ActorID, req.RollType, req.RollKey),
		map[string]string{"roll_key": req.RollKey})
}

func parseFormula(input string) (dice.Formula, error) {
	formula, err := dice.ParseFormula(input)
	if err != nil {
		return dice.Formula{}, &apperrors.Error{
			Code:     apperrors.CodeInvalidFormula,
			Message:  "parse roll formula",
			Metadata: map[string]string{"formula": input},
			Cause:    err,
		}
	}
	return formula, nil
}
