package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

// Names resolves actor ids to display names. A nil Names shows ids.
type Names func(actorID string) string

func (n Names) name(actorID string) string {
	if n == nil {
		return actorID
	}
	if name := strings.TrimSpace(n(actorID)); name != "" {
		return name
	}
	return actorID
}

var rollLabels = map[domain.RollType]string{
	domain.RollAbility:       "Ability check",
	domain.RollSave:          "Saving throw",
	domain.RollSkill:         "Skill check",
	domain.RollTool:          "Tool check",
	domain.RollAttack:        "Attack roll",
	domain.RollDamage:        "Damage roll",
	domain.RollInitiative:    "Initiative",
	domain.RollDeathSave:     "Death saving throw",
	domain.RollHitDie:        "Hit die",
	domain.RollConcentration: "Concentration check",
	domain.RollCustom:        "Roll",
}

// RollLabel is the heading shown for a roll type and key.
func RollLabel(rollType domain.RollType, rollKey string) string {
	label, ok := rollLabels[rollType]
	if !ok {
		label = "Roll"
	}
	if rollKey = strings.TrimSpace(rollKey); rollKey != "" {
		label += " (" + rollKey + ")"
	}
	return label
}

// GroupRoll renders the shared group artifact. Members are listed in
// display order; members without a result show as pending.
func GroupRoll(payload domain.GroupRollPayload, names Names) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<section class="group-roll" data-group-roll-id="`)
		b.WriteString(templ.EscapeString(payload.GroupRollID))
		b.WriteString(`"><header><h3>`)
		b.WriteString(templ.EscapeString(RollLabel(payload.RollType, payload.RollKey)))
		b.WriteString(`</h3>`)
		if payload.DC != nil {
			b.WriteString(`<span class="dc">DC `)
			b.WriteString(strconv.Itoa(*payload.DC))
			b.WriteString(`</span>`)
		}
		b.WriteString(`</header><ol class="results">`)
		for _, actorID := range payload.ActorIDs {
			result, reported := payload.Results[actorID]
			state := "pending"
			if reported {
				state = "reported"
				if result.Outcome != domain.OutcomeNone {
					state = string(result.Outcome)
				}
			}
			fmt.Fprintf(&b, `<li class="%s" data-actor-id="%s"><span class="name">%s</span>`,
				state, templ.EscapeString(actorID), templ.EscapeString(names.name(actorID)))
			if reported {
				fmt.Fprintf(&b, `<span class="total">%d</span>`, result.Total)
			} else {
				b.WriteString(`<span class="pending">&hellip;</span>`)
			}
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ol></section>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// IndividualView is what an individual roll artifact shows.
type IndividualView struct {
	ActorID   string
	ActorName string
	RollType  domain.RollType
	RollKey   string
	Formula   string
	Dice      []int
	Total     int
	DC        *int
}

// Individual renders a single actor's roll artifact.
func Individual(view IndividualView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		name := view.ActorName
		if strings.TrimSpace(name) == "" {
			name = view.ActorID
		}
		outcome := domain.Evaluate(view.Total, view.DC)
		class := "roll"
		if outcome != domain.OutcomeNone {
			class += " " + string(outcome)
		}

		var b strings.Builder
		fmt.Fprintf(&b, `<article class="%s" data-actor-id="%s"><header><span class="name">%s</span> <h3>%s</h3></header>`,
			class,
			templ.EscapeString(view.ActorID),
			templ.EscapeString(name),
			templ.EscapeString(RollLabel(view.RollType, view.RollKey)))
		if view.Formula != "" {
			fmt.Fprintf(&b, `<code class="formula">%s</code>`, templ.EscapeString(view.Formula))
		}
		if len(view.Dice) > 0 {
			b.WriteString(`<ul class="dice">`)
			for _, die := range view.Dice {
				fmt.Fprintf(&b, `<li>%d</li>`, die)
			}
			b.WriteString(`</ul>`)
		}
		fmt.Fprintf(&b, `<span class="total">%d</span></article>`, view.Total)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// RenderString renders c into a string.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render artifact: %w", err)
	}
	return buf.String(), nil
}
