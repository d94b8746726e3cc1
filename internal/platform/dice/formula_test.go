package dice

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseFormula(t *testing.T) {
	tests := []struct {
		input string
		want  Formula
		text  string
	}{
		{
			input: "2d6+3",
			want:  Formula{Dice: []DiceSpec{{Sides: 6, Count: 2}}, Modifier: 3},
			text:  "2d6+3",
		},
		{
			input: " d8 ",
			want:  Formula{Dice: []DiceSpec{{Sides: 8, Count: 1}}},
			text:  "d8",
		},
		{
			input: "1d20 - 1d4 - 1",
			want: Formula{
				Dice:     []DiceSpec{{Sides: 20, Count: 1}, {Sides: 4, Count: 1, Negative: true}},
				Modifier: -1,
			},
			text: "1d20-1d4-1",
		},
		{
			input: "2d20kh+5",
			want:  Formula{Dice: []DiceSpec{{Sides: 20, Count: 2, Keep: KeepHighest}}, Modifier: 5},
			text:  "2d20kh+5",
		},
		{
			input: "-2",
			want:  Formula{Modifier: -2},
			text:  "-2",
		},
	}
	for _, tc := range tests {
		got, err := ParseFormula(tc.input)
		if err != nil {
			t.Fatalf("ParseFormula(%q): %v", tc.input, err)
		}
		if diff := cmp.Diff(tc.want, got, cmpopts.IgnoreUnexported(Formula{})); diff != "" {
			t.Fatalf("ParseFormula(%q) mismatch (-want +got):\n%s", tc.input, diff)
		}
		if got.String() != tc.text {
			t.Fatalf("ParseFormula(%q).String() = %q, want %q", tc.input, got.String(), tc.text)
		}
	}
}

func TestParseFormulaRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "abc", "2d", "d0", "1d6+", "1d6++2", "101d6", "3x4", "1d6kq"} {
		if _, err := ParseFormula(input); !errors.Is(err, ErrInvalidFormula) {
			t.Fatalf("ParseFormula(%q) error = %v, want %v", input, err, ErrInvalidFormula)
		}
	}
}

func TestFormulaPlusAndRoll(t *testing.T) {
	base, err := ParseFormula("1d6")
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}
	bonus, err := ParseFormula("-1")
	if err != nil {
		t.Fatalf("parse bonus: %v", err)
	}
	combined := base.Plus(bonus)
	if combined.String() != "1d6-1" {
		t.Fatalf("combined = %q", combined.String())
	}
	result, err := combined.Roll(11)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if result.Total != result.Rolls[0].Total-1 {
		t.Fatalf("total = %d, die total = %d", result.Total, result.Rolls[0].Total)
	}

	constant, _ := ParseFormula("4")
	flat, err := constant.Roll(1)
	if err != nil || flat.Total != 4 {
		t.Fatalf("constant roll = %d, %v", flat.Total, err)
	}
}

func TestD20AndConstantSources(t *testing.T) {
	tests := []struct {
		name    string
		formula Formula
		want    string
	}{
		{name: "straight", formula: D20(false, false), want: "1d20"},
		{name: "advantage", formula: D20(true, false), want: "2d20kh"},
		{name: "disadvantage", formula: D20(false, true), want: "2d20kl"},
		{name: "cancelled", formula: D20(true, true), want: "1d20"},
		{name: "plus modifier", formula: D20(false, false).Plus(Constant(5)), want: "1d20+5"},
		{name: "minus modifier", formula: D20(true, false).Plus(Constant(-2)), want: "2d20kh-2"},
		{name: "zero modifier", formula: D20(false, false).Plus(Constant(0)), want: "1d20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.formula.String(); got != tt.want {
				t.Fatalf("source = %q, want %q", got, tt.want)
			}
		})
	}
	if !Constant(0).IsZero() {
		t.Fatal("Constant(0) is not zero")
	}
}
