package dice

import (
	"errors"
	"math/rand"
	"testing"
)

// TestRollDiceReturnsResults ensures roll results are deterministic and aggregated.
func TestRollDiceReturnsResults(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	first, second := rng.Intn(12)+1, rng.Intn(12)+1

	result, err := RollDice(RollRequest{
		Dice: []DiceSpec{{Sides: 12, Count: 2}},
		Seed: 0,
	})
	if err != nil {
		t.Fatalf("RollDice returned error: %v", err)
	}
	if len(result.Rolls) != 1 {
		t.Fatalf("expected 1 roll, got %d", len(result.Rolls))
	}
	if result.Rolls[0].Results[0] != first || result.Rolls[0].Results[1] != second {
		t.Fatalf("unexpected results: %v", result.Rolls[0].Results)
	}
	if result.Total != first+second {
		t.Fatalf("expected total %d, got %d", first+second, result.Total)
	}
}

// TestRollDiceAppliesModifierAndSign ensures negative specs subtract and modifiers add.
func TestRollDiceAppliesModifierAndSign(t *testing.T) {
	seed := int64(7)
	rng := rand.New(rand.NewSource(seed))
	d6 := rng.Intn(6) + 1
	d4 := rng.Intn(4) + 1

	result, err := RollDice(RollRequest{
		Dice: []DiceSpec{
			{Sides: 6, Count: 1},
			{Sides: 4, Count: 1, Negative: true},
		},
		Modifier: 3,
		Seed:     seed,
	})
	if err != nil {
		t.Fatalf("RollDice returned error: %v", err)
	}
	if want := d6 - d4 + 3; result.Total != want {
		t.Fatalf("total = %d, want %d", result.Total, want)
	}
	if result.Rolls[1].Total != -d4 {
		t.Fatalf("negative roll total = %d, want %d", result.Rolls[1].Total, -d4)
	}
}

// TestRollDiceRejectsMissingDice ensures empty requests return an error.
func TestRollDiceRejectsMissingDice(t *testing.T) {
	_, err := RollDice(RollRequest{Seed: 1})
	if !errors.Is(err, ErrMissingDice) {
		t.Fatalf("RollDice error = %v, want %v", err, ErrMissingDice)
	}
}

// TestRollDiceRejectsInvalidDiceSpec ensures invalid dice specs are rejected.
func TestRollDiceRejectsInvalidDiceSpec(t *testing.T) {
	tcs := []DiceSpec{
		{Sides: 0, Count: 2},
		{Sides: -1, Count: 2},
		{Sides: 6, Count: 0},
	}
	for _, tc := range tcs {
		_, err := RollDice(RollRequest{Dice: []DiceSpec{tc}, Seed: 1})
		if !errors.Is(err, ErrInvalidDiceSpec) {
			t.Fatalf("RollDice(%+v) error = %v, want %v", tc, err, ErrInvalidDiceSpec)
		}
	}
}

func TestRollD20AdvantageKeepsHighest(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		result := RollD20(D20Request{Advantage: true, Modifier: 2, Seed: seed})
		roll := result.Rolls[0]
		if len(roll.Results) != 2 {
			t.Fatalf("seed %d: expected 2 dice, got %d", seed, len(roll.Results))
		}
		high := max(roll.Results[0], roll.Results[1])
		if roll.Total != high || result.Total != high+2 {
			t.Fatalf("seed %d: total = %d (die %d), want die %d", seed, result.Total, roll.Total, high)
		}
	}
}

func TestRollD20DisadvantageKeepsLowest(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		roll := RollD20(D20Request{Disadvantage: true, Seed: seed}).Rolls[0]
		low := min(roll.Results[0], roll.Results[1])
		if roll.Total != low {
			t.Fatalf("seed %d: total = %d, want %d", seed, roll.Total, low)
		}
	}
}

func TestRollD20AdvantageAndDisadvantageCancel(t *testing.T) {
	roll := RollD20(D20Request{Advantage: true, Disadvantage: true, Seed: 3}).Rolls[0]
	if len(roll.Results) != 1 {
		t.Fatalf("expected a single die, got %d", len(roll.Results))
	}
}
