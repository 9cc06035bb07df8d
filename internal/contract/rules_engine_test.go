package contract

import (
	"context"
	"testing"
)

const testSchema = `
field_value(Field, Value) :- field_value(Field, Value).
decl field_value(Field, Value).

conflicting_power(Field) :- field_value(Field, Value), Value < 0.

decl conflicting_power(Field).
`

func TestRuleEngineAssertsAndQueriesDerivedFacts(t *testing.T) {
	e := NewRuleEngine(DefaultRuleEngineConfig())
	if err := e.LoadSchemaString(testSchema); err != nil {
		t.Fatalf("LoadSchemaString: %v", err)
	}

	if err := e.AddFact("field_value", "battery_capacity_wh", -5.0); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	result, err := e.Query(context.Background(), "conflicting_power(Field)")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d: %+v", len(result.Bindings), result.Bindings)
	}
	if result.Bindings[0]["Field"] != "battery_capacity_wh" {
		t.Errorf("Field binding = %v, want battery_capacity_wh", result.Bindings[0]["Field"])
	}
}

func TestRuleEngineResetClearsFacts(t *testing.T) {
	e := NewRuleEngine(DefaultRuleEngineConfig())
	if err := e.LoadSchemaString(testSchema); err != nil {
		t.Fatalf("LoadSchemaString: %v", err)
	}
	if err := e.AddFact("field_value", "x", 1.0); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	e.Reset()

	facts, err := e.GetFacts("field_value")
	if err != nil {
		t.Fatalf("GetFacts: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("expected 0 facts after Reset, got %d", len(facts))
	}
}

func TestRuleEngineRejectsFactsBeforeSchemaLoaded(t *testing.T) {
	e := NewRuleEngine(DefaultRuleEngineConfig())
	if err := e.AddFact("field_value", "x", 1.0); err == nil {
		t.Fatal("expected error asserting a fact before any schema is loaded")
	}
}
