package artifact

import (
	"context"
	"strings"
	"testing"

	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

func TestGroupRollRendersPendingAndResults(t *testing.T) {
	payload := domain.GroupRollPayload{
		Version:     domain.PayloadVersion,
		GroupRollID: "grp-1",
		RollType:    domain.RollSkill,
		RollKey:     "ath",
		ActorIDs:    []string{"a1", "a2"},
		Results:     map[string]domain.ActorResult{"a1": {Total: 15, Outcome: domain.OutcomeSuccess}},
		DC:          domain.IntPtr(12),
	}
	names := Names(func(actorID string) string {
		if actorID == "a1" {
			return "<Aria>"
		}
		return ""
	})

	html, err := RenderString(context.Background(), GroupRoll(payload, names))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		`data-group-roll-id="grp-1"`,
		`Skill check (ath)`,
		`DC 12`,
		`<li class="success" data-actor-id="a1"><span class="name">&lt;Aria&gt;</span><span class="total">15</span></li>`,
		`<li class="pending" data-actor-id="a2"><span class="name">a2</span><span class="pending">&hellip;</span></li>`,
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q:\n%s", want, html)
		}
	}
	if strings.Count(html, `data-actor-id="a1"`) != 1 {
		t.Fatalf("actor rendered more than once:\n%s", html)
	}
}

func TestIndividualRendersOutcome(t *testing.T) {
	html, err := RenderString(context.Background(), Individual(IndividualView{
		ActorID:  "a1",
		RollType: domain.RollSave,
		RollKey:  "dex",
		Formula:  "1d20+3",
		Dice:     []int{9},
		Total:    12,
		DC:       domain.IntPtr(13),
	}))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{`class="roll failure"`, `Saving throw (dex)`, `<code class="formula">1d20+3</code>`, `<li>9</li>`, `<span class="total">12</span>`} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q:\n%s", want, html)
		}
	}
}

func TestRollLabelFallsBack(t *testing.T) {
	if got := RollLabel("mystery", ""); got != "Roll" {
		t.Fatalf("label = %q", got)
	}
	if got := RollLabel(domain.RollInitiative, " "); got != "Initiative" {
		t.Fatalf("label = %q", got)
	}
}
