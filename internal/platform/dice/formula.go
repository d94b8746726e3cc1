package dice

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxDiceCount = 100
	maxDieSides  = 1000
)

// ErrInvalidFormula indicates dice notation that could not be parsed.
var ErrInvalidFormula = errors.New("invalid dice formula")

// Formula is parsed dice notation such as "2d6+3" or "1d20kh - 1".
type Formula struct {
	Dice     []DiceSpec
	Modifier int
	source   string
}

// String returns the normalized source of the formula.
func (f Formula) String() string {
	return f.source
}

// IsZero reports whether the formula has neither dice nor modifier.
func (f Formula) IsZero() bool {
	return len(f.Dice) == 0 && f.Modifier == 0
}

// Plus returns a formula combining f and other.
func (f Formula) Plus(other Formula) Formula {
	combined := Formula{
		Dice:     append(append([]DiceSpec{}, f.Dice...), other.Dice...),
		Modifier: f.Modifier + other.Modifier,
	}
	switch {
	case f.source == "":
		combined.source = other.source
	case other.source == "":
		combined.source = f.source
	case strings.HasPrefix(other.source, "-"):
		combined.source = f.source + other.source
	default:
		combined.source = f.source + "+" + other.source
	}
	return combined
}

// Roll rolls the formula with the given seed. A formula without dice
// returns its modifier.
func (f Formula) Roll(seed int64) (RollResult, error) {
	if len(f.Dice) == 0 {
		return RollResult{Modifier: f.Modifier, Total: f.Modifier}, nil
	}
	return RollDice(RollRequest{Dice: f.Dice, Modifier: f.Modifier, Seed: seed})
}

// D20 returns the d20 of a test: 2d20kh with advantage, 2d20kl with
// disadvantage, 1d20 when neither or both are set.
func D20(advantage, disadvantage bool) Formula {
	switch {
	case advantage && !disadvantage:
		return Formula{Dice: []DiceSpec{{Sides: 20, Count: 2, Keep: KeepHighest}}, source: "2d20kh"}
	case disadvantage && !advantage:
		return Formula{Dice: []DiceSpec{{Sides: 20, Count: 2, Keep: KeepLowest}}, source: "2d20kl"}
	default:
		return Formula{Dice: []DiceSpec{{Sides: 20, Count: 1}}, source: "1d20"}
	}
}

// Constant returns a formula adding n. Zero yields the zero formula.
func Constant(n int) Formula {
	if n == 0 {
		return Formula{}
	}
	return Formula{Modifier: n, source: strconv.Itoa(n)}
}

// ParseFormula parses dice notation. Terms are joined by + or -; each term
// is an integer or NdS with an optional kh/kl suffix. Whitespace is ignored.
func ParseFormula(input string) (Formula, error) {
	compact := strings.ToLower(strings.Join(strings.Fields(input), ""))
	if compact == "" {
		return Formula{}, fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}

	var formula Formula
	var normalized strings.Builder
	pos := 0
	for pos < len(compact) {
		negative := false
		switch compact[pos] {
		case '+':
			pos++
		case '-':
			negative = true
			pos++
		default:
			if pos > 0 {
				return Formula{}, fmt.Errorf("%w: expected + or - at %d in %q", ErrInvalidFormula, pos, input)
			}
		}
		end := pos
		for end < len(compact) && compact[end] != '+' && compact[end] != '-' {
			end++
		}
		term := compact[pos:end]
		if term == "" {
			return Formula{}, fmt.Errorf("%w: dangling operator in %q", ErrInvalidFormula, input)
		}
		if err := formula.addTerm(term, negative); err != nil {
			return Formula{}, fmt.Errorf("%w: %v in %q", ErrInvalidFormula, err, input)
		}
		if negative {
			normalized.WriteByte('-')
		} else if normalized.Len() > 0 {
			normalized.WriteByte('+')
		}
		normalized.WriteString(term)
		pos = end
	}
	formula.source = normalized.String()
	return formula, nil
}

func (f *Formula) addTerm(term string, negative bool) error {
	idx := strings.IndexByte(term, 'd')
	if idx < 0 {
		value, err := strconv.Atoi(term)
		if err != nil {
			return fmt.Errorf("bad constant %q", term)
		}
		if negative {
			value = -value
		}
		f.Modifier += value
		return nil
	}

	count := 1
	if idx > 0 {
		parsed, err := strconv.Atoi(term[:idx])
		if err != nil {
			return fmt.Errorf("bad dice count %q", term[:idx])
		}
		count = parsed
	}
	sidesPart := term[idx+1:]
	mode := KeepAll
	switch {
	case strings.HasSuffix(sidesPart, "kh"):
		mode = KeepHighest
		sidesPart = strings.TrimSuffix(sidesPart, "kh")
	case strings.HasSuffix(sidesPart, "kl"):
		mode = KeepLowest
		sidesPart = strings.TrimSuffix(sidesPart, "kl")
	}
	sides, err := strconv.Atoi(sidesPart)
	if err != nil {
		return fmt.Errorf("bad die sides %q", sidesPart)
	}
	if count <= 0 || count > maxDiceCount {
		return fmt.Errorf("dice count %d out of range", count)
	}
	if sides <= 0 || sides > maxDieSides {
		return fmt.Errorf("die sides %d out of range", sides)
	}
	f.Dice = append(f.Dice, DiceSpec{Sides: sides, Count: count, Keep: mode, Negative: negative})
	return nil
}
