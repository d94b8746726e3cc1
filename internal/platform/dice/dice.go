// Package dice implements seeded dice rolling and dice-notation formulas.
package dice

import (
	"errors"
	"math/rand"
)

// ErrMissingDice indicates a roll request had no dice specified.
var ErrMissingDice = errors.New("at least one die must be provided")

// ErrInvalidDiceSpec indicates a die specification has invalid fields.
var ErrInvalidDiceSpec = errors.New("dice must have positive sides and count")

// Keep selects which dice of a spec count toward its total.
type Keep int

const (
	// KeepAll sums every die.
	KeepAll Keep = iota
	// KeepHighest keeps only the highest die.
	KeepHighest
	// KeepLowest keeps only the lowest die.
	KeepLowest
)

// DiceSpec describes a die to roll and how many times to roll it.
type DiceSpec struct {
	Sides int
	Count int
	Keep  Keep
	// Negative subtracts the kept total instead of adding it.
	Negative bool
}

// DieRoll captures the results for a single dice spec.
type DieRoll struct {
	Sides   int
	Results []int
	Kept    []int
	Total   int
}

// RollRequest describes a request to roll one or more dice.
type RollRequest struct {
	Dice     []DiceSpec
	Modifier int
	Seed     int64
}

// RollResult captures the results from rolling multiple dice.
type RollResult struct {
	Rolls    []DieRoll
	Modifier int
	Total    int
}

// RollDice rolls dice based on the provided request.
//
// RollDice is deterministic with respect to Seed: the same Seed and Dice
// slice always produce the same result. Specs are rolled in slice order and
// Rolls mirrors that order. Total is the signed sum of every spec's kept
// dice plus Modifier.
func RollDice(request RollRequest) (RollResult, error) {
	if len(request.Dice) == 0 {
		return RollResult{}, ErrMissingDice
	}

	rng := rand.New(rand.NewSource(request.Seed))
	rolls := make([]DieRoll, 0, len(request.Dice))
	total := request.Modifier

	for _, spec := range request.Dice {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return RollResult{}, ErrInvalidDiceSpec
		}

		results := make([]int, spec.Count)
		for i := 0; i < spec.Count; i++ {
			results[i] = rollDie(rng, spec.Sides)
		}
		kept := keep(results, spec.Keep)
		rollTotal := 0
		for _, value := range kept {
			rollTotal += value
		}
		if spec.Negative {
			rollTotal = -rollTotal
		}

		rolls = append(rolls, DieRoll{
			Sides:   spec.Sides,
			Results: results,
			Kept:    kept,
			Total:   rollTotal,
		})
		total += rollTotal
	}

	return RollResult{
		Rolls:    rolls,
		Modifier: request.Modifier,
		Total:    total,
	}, nil
}

// D20Request describes a d20 test with optional advantage or disadvantage.
type D20Request struct {
	Advantage    bool
	Disadvantage bool
	Modifier     int
	Seed         int64
}

// RollD20 rolls a d20 test. Advantage keeps the higher of two dice,
// disadvantage the lower; when both are set they cancel out.
func RollD20(request D20Request) RollResult {
	result, err := RollDice(RollRequest{
		Dice:     D20(request.Advantage, request.Disadvantage).Dice,
		Modifier: request.Modifier,
		Seed:     request.Seed,
	})
	if err != nil {
		// Unreachable: the spec is built above and always valid.
		panic(err)
	}
	return result
}

func keep(results []int, mode Keep) []int {
	if len(results) == 0 || mode == KeepAll {
		out := make([]int, len(results))
		copy(out, results)
		return out
	}
	best := results[0]
	for _, value := range results[1:] {
		if (mode == KeepHighest && value > best) || (mode == KeepLowest && value < best) {
			best = value
		}
	}
	return []int{best}
}

// rollDie rolls a die with the provided number of sides.
func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
