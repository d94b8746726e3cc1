package domain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func samplePayload() GroupRollPayload {
	return GroupRollPayload{
		Version:     PayloadVersion,
		GroupRollID: "grp-1",
		RollType:    RollSave,
		RollKey:     "dex",
		ActorIDs:    []string{"a1", "a2", "a3"},
		Results:     map[string]ActorResult{"a1": {Total: 14, Outcome: OutcomeSuccess}},
		DC:          IntPtr(12),
	}
}

func TestEvaluate(t *testing.T) {
	if Evaluate(11, IntPtr(12)) != OutcomeFailure {
		t.Fatal("11 vs 12 should fail")
	}
	if Evaluate(12, IntPtr(12)) != OutcomeSuccess {
		t.Fatal("meeting the DC should succeed")
	}
	if Evaluate(30, nil) != OutcomeNone {
		t.Fatal("no DC means no outcome")
	}
}

func TestPayloadCompleteAndPending(t *testing.T) {
	payload := samplePayload()
	if payload.Complete() {
		t.Fatal("payload should be incomplete")
	}
	if diff := cmp.Diff([]string{"a2", "a3"}, payload.Pending()); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}
	payload.Results["a2"] = ActorResult{Total: 3}
	payload.Results["a3"] = ActorResult{Total: 9}
	if !payload.Complete() {
		t.Fatal("payload should be complete")
	}
	if (GroupRollPayload{}).Complete() {
		t.Fatal("empty payload must never be complete")
	}
}

func TestPayloadValidateRejectsOrphanResults(t *testing.T) {
	payload := samplePayload()
	payload.Results["zz"] = ActorResult{Total: 1}
	if err := payload.Validate(); !errors.Is(err, ErrInvalidRollRequest) {
		t.Fatalf("expected orphan result rejection, got %v", err)
	}
}

func TestPayloadValidateRejectsDuplicateMembers(t *testing.T) {
	payload := samplePayload()
	payload.ActorIDs = []string{"a1", "a1"}
	if err := payload.Validate(); err == nil {
		t.Fatal("expected duplicate member rejection")
	}
}

func TestPayloadMergeKeepsOwnResults(t *testing.T) {
	mine := samplePayload()
	theirs := samplePayload()
	theirs.Results = map[string]ActorResult{
		"a1": {Total: 2},
		"a2": {Total: 8},
		"zz": {Total: 20},
	}

	merged := mine.Merge(theirs)
	want := map[string]ActorResult{
		"a1": {Total: 14, Outcome: OutcomeSuccess},
		"a2": {Total: 8, Outcome: OutcomeFailure},
	}
	if diff := cmp.Diff(want, merged.Results); diff != "" {
		t.Fatalf("merged results mismatch (-want +got):\n%s", diff)
	}
	if len(mine.Results) != 1 {
		t.Fatal("merge must not mutate the receiver")
	}
}

func TestPayloadEncodeDecode(t *testing.T) {
	want := samplePayload()
	data, err := EncodePayload(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	empty, err := DecodePayload([]byte(`{"version":1,"group_roll_id":"g","actor_ids":["a"]}`))
	if err != nil {
		t.Fatalf("decode without results: %v", err)
	}
	if empty.Results == nil {
		t.Fatal("decoded payload should have a non-nil results map")
	}
	if _, err := DecodePayload([]byte(`{"version":9,"group_roll_id":"g"}`)); !errors.Is(err, ErrUnsupportedSchemaVersion) {
		t.Fatalf("expected version rejection, got %v", err)
	}
}
