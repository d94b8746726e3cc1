package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithComponentAnnotatesEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str(FieldComponent, "tracker").Logger()
	logger.Info().Str(FieldGroupRollID, "g1").Msg("recorded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry[FieldComponent] != "tracker" {
		t.Fatalf("component = %v, want tracker", entry[FieldComponent])
	}
	if entry[FieldGroupRollID] != "g1" {
		t.Fatalf("group_roll_id = %v, want g1", entry[FieldGroupRollID])
	}
}

func TestOrComponentPrefersExplicitLogger(t *testing.T) {
	nop := zerolog.Nop()
	got := OrComponent(&nop, "router")
	if got.GetLevel() != zerolog.Disabled {
		t.Fatalf("level = %v, want disabled", got.GetLevel())
	}
}

func TestOrComponentFallsBackToBase(t *testing.T) {
	got := OrComponent(nil, "router")
	if got.GetLevel() == zerolog.Disabled {
		t.Fatal("expected base-derived logger")
	}
}
