package needset

import "testing"

func TestComputeOmitsFieldsWithNoReasons(t *testing.T) {
	rows := Compute(Params{
		FieldOrder: []string{"color"},
		Provenance: map[string]ProvenanceEntry{"color": {Confidence: 0.95, BestTier: 1}},
		FieldRules: map[string]FieldRule{"color": {RequiredLevel: "required", PassTarget: 0.8}},
		IdentityContext: IdentityContext{Status: StatusLocked},
	})
	if len(rows) != 0 {
		t.Fatalf("expected no rows for a fully satisfied field, got %+v", rows)
	}
}

func TestComputeFlagsMissingField(t *testing.T) {
	rows := Compute(Params{
		FieldOrder: []string{"battery_capacity_wh"},
		Provenance: map[string]ProvenanceEntry{"battery_capacity_wh": {}},
		FieldRules: map[string]FieldRule{"battery_capacity_wh": {RequiredLevel: "required", PassTarget: 0.8}},
		IdentityContext: IdentityContext{Status: StatusLocked},
	})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !hasReason(rows[0].Reasons, ReasonMissing) {
		t.Errorf("expected missing reason, got %v", rows[0].Reasons)
	}
}

func TestComputeCapsEffectiveConfidenceByIdentityStatus(t *testing.T) {
	rows := Compute(Params{
		FieldOrder: []string{"color"},
		Provenance: map[string]ProvenanceEntry{"color": {Confidence: 0.99, BestTier: 1}},
		FieldRules: map[string]FieldRule{"color": {RequiredLevel: "required", PassTarget: 0.8}},
		IdentityContext: IdentityContext{Status: StatusAmbiguous},
	})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row (capped confidence below pass_target), got %d", len(rows))
	}
	if rows[0].EffectiveConfidence != 0.50 {
		t.Errorf("EffectiveConfidence = %v, want 0.50 (ambiguous cap)", rows[0].EffectiveConfidence)
	}
	if !hasReason(rows[0].Reasons, ReasonLowConf) {
		t.Errorf("expected low_conf reason, got %v", rows[0].Reasons)
	}
}

func TestComputeFlagsTierPreferenceUnmet(t *testing.T) {
	rows := Compute(Params{
		FieldOrder: []string{"battery_capacity_wh"},
		Provenance: map[string]ProvenanceEntry{"battery_capacity_wh": {Confidence: 0.9, BestTier: 3}},
		FieldRules: map[string]FieldRule{"battery_capacity_wh": {RequiredLevel: "required", PassTarget: 0.5, PreferredTier: 1}},
		IdentityContext: IdentityContext{Status: StatusLocked},
	})
	if len(rows) != 1 || !hasReason(rows[0].Reasons, ReasonTierPrefUnmet) {
		t.Fatalf("expected tier_pref_unmet, got %+v", rows)
	}
}

func TestComputeFlagsConflict(t *testing.T) {
	rows := Compute(Params{
		FieldOrder: []string{"color"},
		Provenance: map[string]ProvenanceEntry{"color": {Confidence: 0.9, BestTier: 1, HasConflict: true}},
		FieldRules: map[string]FieldRule{"color": {RequiredLevel: "required", PassTarget: 0.5}},
		IdentityContext: IdentityContext{Status: StatusLocked},
	})
	if len(rows) != 1 || !hasReason(rows[0].Reasons, ReasonConflict) {
		t.Fatalf("expected conflict reason, got %+v", rows)
	}
}

func TestComputeSortsByNeedScoreDescending(t *testing.T) {
	rows := Compute(Params{
		FieldOrder: []string{"optional_field", "identity_field"},
		Provenance: map[string]ProvenanceEntry{
			"optional_field": {},
			"identity_field": {},
		},
		FieldRules: map[string]FieldRule{
			"optional_field": {RequiredLevel: "optional", PassTarget: 0.5},
			"identity_field": {RequiredLevel: "identity", PassTarget: 0.5},
		},
		IdentityContext: IdentityContext{Status: StatusLocked},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].FieldKey != "identity_field" {
		t.Errorf("expected identity_field (level_weight 1.5) ranked first, got %s", rows[0].FieldKey)
	}
}

func hasReason(reasons []Reason, want Reason) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
