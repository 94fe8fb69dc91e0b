package nlu

import (
	"testing"

	"github.com/qpaper/qpe/internal/paper"
)

func TestParseNavigationBareNumber(t *testing.T) {
	raw := []byte(`{"top_intent":"Navigation","Entities":[{"entity":"question_number","CHILD":[{"value":3}]}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentRead || intent.Read.Kind != paper.ReadQuestion {
		t.Fatalf("intent = %+v", intent)
	}
	if intent.Read.Ref != paper.StartRef(3) {
		t.Fatalf("ref = %+v, want Start(3)", intent.Read.Ref)
	}
}

func TestParseNavigationStringNumber(t *testing.T) {
	raw := []byte(`{"top_intent":"Navigation","Entities":[{"entity":"section_ordinal","CHILD":[{"value":"2"}]}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Read.Kind != paper.ReadSection {
		t.Fatalf("read kind = %v, want ReadSection", intent.Read.Kind)
	}
	if intent.Read.Ref != paper.StartRef(2) {
		t.Fatalf("ref = %+v, want Start(2)", intent.Read.Ref)
	}
}

func TestParseNavigationRelativeObject(t *testing.T) {
	raw := []byte(`{"top_intent":"Navigation","Entities":[{"entity":"question_number","CHILD":[{"value":{"offset":5,"relativeTo":"current"}}]}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Read.Ref != paper.CurrentRef(5) {
		t.Fatalf("ref = %+v, want Current(5)", intent.Read.Ref)
	}
}

func TestParseNavigationNoEntityDefaultsToStartZero(t *testing.T) {
	raw := []byte(`{"top_intent":"Navigation","Entities":[]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentRead || intent.Read.Kind != paper.ReadQuestion || intent.Read.Ref != paper.StartRef(0) {
		t.Fatalf("intent = %+v, want Read(Question, Start(0))", intent)
	}
}

func TestParseBooleanPositionCheckIsARead(t *testing.T) {
	raw := []byte(`{"top_intent":"boolean_position_check","Entities":[{"entity":"question_number","CHILD":[{"value":7}]}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentRead {
		t.Fatalf("intent kind = %v, want IntentRead", intent.Kind)
	}
}

func TestParseSecondNavigationalEntityIsRelativeToCurrent(t *testing.T) {
	raw := []byte(`{"top_intent":"mark_for_review","Entities":[
		{"entity":"question_number","CHILD":[{"value":1}]},
		{"entity":"question_number","CHILD":[{"value":2}]}
	]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentWrite || len(intent.Write.Reads) != 2 {
		t.Fatalf("intent = %+v", intent)
	}
	if intent.Write.Reads[0].Ref != paper.StartRef(1) {
		t.Fatalf("first read ref = %+v, want Start(1)", intent.Write.Reads[0].Ref)
	}
	if intent.Write.Reads[1].Ref != paper.CurrentRef(2) {
		t.Fatalf("second read ref = %+v, want Current(2)", intent.Write.Reads[1].Ref)
	}
}

func TestParseMarkIntent(t *testing.T) {
	raw := []byte(`{"top_intent":"mark_for_review","Entities":[{"entity":"mark"},{"entity":"question_number","CHILD":[{"value":4}]}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentWrite || intent.Write.Kind != paper.WriteMark {
		t.Fatalf("intent = %+v, want a mark write", intent)
	}
}

func TestParseSkipIntent(t *testing.T) {
	raw := []byte(`{"top_intent":"skip_question","Entities":[{"entity":"skip"},{"entity":"question_number","CHILD":[{"value":4}]}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Write.Kind != paper.WriteSkip {
		t.Fatalf("write kind = %v, want WriteSkip", intent.Write.Kind)
	}
}

func TestParseWriteWithNoNavigationalEntityDefaultsToCurrent(t *testing.T) {
	raw := []byte(`{"top_intent":"mark_for_review","Entities":[{"entity":"mark"}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(intent.Write.Reads) != 1 || intent.Write.Reads[0].Ref != paper.CurrentRef(0) {
		t.Fatalf("reads = %+v, want a single Current(0) operand", intent.Write.Reads)
	}
}

func TestParseMarkedMetaIntent(t *testing.T) {
	raw := []byte(`{"top_intent":"query_marked","Entities":[{"entity":"marked"}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentMeta || intent.Meta != paper.MetaMarked {
		t.Fatalf("intent = %+v, want Meta(MetaMarked)", intent)
	}
}

func TestParseSkippedMetaIntent(t *testing.T) {
	raw := []byte(`{"top_intent":"query_skipped","Entities":[{"entity":"skipped"}]}`)

	intent, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if intent.Kind != paper.IntentMeta || intent.Meta != paper.MetaSkipped {
		t.Fatalf("intent = %+v, want Meta(MetaSkipped)", intent)
	}
}

func TestParseMalformedJSONIsAnError(t *testing.T) {
	if _, err := NewParser().Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestParseEntityWithMultipleChildrenIsAnError(t *testing.T) {
	raw := []byte(`{"top_intent":"Navigation","Entities":[{"entity":"question_number","CHILD":[{"value":1},{"value":2}]}]}`)
	if _, err := NewParser().Parse(raw); err == nil {
		t.Fatal("expected an error when an entity has more than one CHILD")
	}
}

func TestParseUnparsableReferenceValueIsAnError(t *testing.T) {
	raw := []byte(`{"top_intent":"Navigation","Entities":[{"entity":"question_number","CHILD":[{"value":"not-a-number"}]}]}`)
	if _, err := NewParser().Parse(raw); err == nil {
		t.Fatal("expected an error for a non-numeric reference value")
	}
}
