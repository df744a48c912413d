package canonical_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/canonical"
	"github.com/ILLUVRSE/auditchain/internal/model"
)

func TestMarshalSortedKeys(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	ca, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal(a) error: %v", err)
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal(b) error: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical outputs differ:\nA: %s\nB: %s", ca, cb)
	}

	var tmp interface{}
	if err := json.Unmarshal(ca, &tmp); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v", err)
	}
}

func TestMarshalRejectsNaN(t *testing.T) {
	_, err := canonical.Marshal(map[string]interface{}{"x": math.NaN()})
	if err == nil {
		t.Fatalf("expected error canonicalizing NaN")
	}
}

func TestEventDeterministic(t *testing.T) {
	base := func() *model.Event {
		return &model.Event{
			ID:            "evt-1",
			Action:        "user.update",
			CRUD:          model.CRUDUpdate,
			ActorID:       "u1",
			ActorFields:   map[string]string{"b": "2", "a": "1"},
			TargetID:      "u1",
			TargetType:    "user",
			Fields:        map[string]interface{}{"z": 1, "a": 2},
			CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
			ReceivedAt:    time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
			ProjectID:     "p1",
			EnvironmentID: "e1",
		}
	}

	c1, err := canonical.Event(base())
	if err != nil {
		t.Fatalf("Event error: %v", err)
	}
	c2, err := canonical.Event(base())
	if err != nil {
		t.Fatalf("Event error: %v", err)
	}
	if string(c1) != string(c2) {
		t.Fatalf("canonical.Event is not deterministic:\n%s\nvs\n%s", c1, c2)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(c1, &decoded); err != nil {
		t.Fatalf("unmarshal canonical event: %v", err)
	}
	if decoded["createdAt"] != "2026-01-02T03:04:05.006Z" {
		t.Fatalf("unexpected createdAt encoding: %#v", decoded["createdAt"])
	}
	// missing optional fields are explicit nulls, not omitted
	if _, ok := decoded["externalId"]; !ok {
		t.Fatalf("expected explicit externalId key")
	}
	if decoded["externalId"] != nil {
		t.Fatalf("expected externalId null, got %#v", decoded["externalId"])
	}
	// hash/signature/metadata never appear in the signable surface
	for _, k := range []string{"hash", "signature", "metadata"} {
		if _, ok := decoded[k]; ok {
			t.Fatalf("canonical form must not include %q", k)
		}
	}
}

func TestEventExcludesHashAndSignatureEvenWhenSet(t *testing.T) {
	ev := &model.Event{
		Action:        "a",
		CRUD:          model.CRUDCreate,
		ProjectID:     "p",
		EnvironmentID: "e",
		Hash:          "deadbeef",
		Signature:     "sig",
		Metadata:      map[string]interface{}{"internal": true},
	}
	c, err := canonical.Event(ev)
	if err != nil {
		t.Fatalf("Event error: %v", err)
	}
	if containsSubstring(string(c), "deadbeef") || containsSubstring(string(c), "sig") {
		t.Fatalf("canonical form leaked hash/signature: %s", c)
	}
}

func containsSubstring(s, sub string) bool {
	return len(sub) > 0 && (len(s) >= len(sub)) && (indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
