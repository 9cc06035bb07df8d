package gate

import (
	"context"
	"fmt"

	"github.com/CdubVentures/spec-harvester-sub001/internal/contract"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// CrossValidationRule pairs a trigger field with the derived Mangle
// predicate that, if it has any facts, means the rule failed for that
// field — e.g. predicate "conflicting_power" derived from
// field_value(Field, Value), Value < 0.
type CrossValidationRule struct {
	TriggerField string
	Predicate    string
}

// Params bundles applyRuntimeFieldRules's inputs.
type Params struct {
	Engine               *contract.Engine
	Fields               map[string]interface{}
	Provenance           map[string][]EvidenceRef
	FieldOrder           []string
	EvidenceRules        map[string]FieldEvidenceRule
	Priorities           map[string]Priority
	CrossValidationRules []CrossValidationRule
	EnforceEvidence      bool
	// RespectPerFieldEvidence defaults to true per field; pass a
	// explicit false to opt a whole run out. EnforceEvidence always
	// overrides an opt-out.
	RespectPerFieldEvidence *bool
	PublishMode          PublishMode
	// EvidencePackSnippets, when EnforceEvidence is true, must contain
	// every snippet_id a provenance row claims to quote.
	EvidencePackSnippets map[string]bool
}

// ApplyRuntimeFieldRules runs the six-stage pipeline over Fields in
// FieldOrder, in order, each stage capable of rewriting a field to
// UnknownValue and recording a Failure/Change.
func ApplyRuntimeFieldRules(p Params) Result {
	res := Result{
		Applied: true,
		Fields:  map[string]interface{}{},
	}
	for k, v := range p.Fields {
		res.Fields[k] = v
	}

	respectPerField := true
	if p.RespectPerFieldEvidence != nil {
		respectPerField = *p.RespectPerFieldEvidence
	}

	order := p.FieldOrder
	if len(order) == 0 {
		order = p.Engine.GetFieldOrder()
	}

	for _, field := range order {
		val, present := res.Fields[field]
		if !present || val == UnknownValue {
			continue
		}

		// Stage 1: normalize.
		normResult := p.Engine.NormalizeCandidate(field, val)
		if !normResult.OK {
			switch normResult.Reason {
			case contract.ReasonOutOfRange:
				res.reject(field, "normalize", ReasonOutOfRange, "value out of declared range", val)
			case contract.ReasonEnumNotAllowed:
				res.reject(field, "enum", ReasonEnumValueNotAllowed, "value not in closed enum catalog", val)
			case contract.ReasonComponentUnresolved:
				res.reject(field, "component", ReasonComponentNotFound, "component reference did not resolve", val)
			default:
				res.reject(field, "normalize", ReasonOutOfRange, string(normResult.Reason), val)
			}
			continue
		}
		res.Fields[field] = normResult.Normalized
		if normResult.CurationSuggested {
			res.CurationSuggestions = append(res.CurationSuggestions, CurationSuggestion{
				FieldKey: field, SuggestedValue: fmt.Sprintf("%v", normResult.Normalized),
			})
		}

		// Stage 3: component sibling inference.
		if rule, ok := p.Engine.GetFieldRule(field); ok {
			if _, isComponent := rule.Type.(contract.ComponentRefType); isComponent {
				applyComponentInference(p, &res, field, normResult.Normalized)
			}
		}
	}

	// Stage 4: cross-validation.
	applyCrossValidation(p, &res)

	// Stage 5: evidence audit.
	for _, field := range order {
		val, ok := res.Fields[field]
		if !ok || val == UnknownValue {
			continue
		}
		auditEvidence(p, &res, field, respectPerField)
	}

	// Stage 6: publish gate.
	mode := p.PublishMode
	if mode == "" {
		mode = PublishRequiredComplete
	}
	res.Blockers = evaluatePublishGate(mode, order, res.Fields, p.Priorities, res.Failures, p.Provenance, p.EvidenceRules)
	res.Blockers = append(res.Blockers, checkPublishBlockers(order, res.Fields, p.Priorities)...)
	res.Published = len(res.Blockers) == 0

	return res
}

func (r *Result) reject(field, stage string, reason ReasonCode, detail string, before interface{}) {
	r.Failures = append(r.Failures, Failure{Field: field, Stage: stage, Reason: reason, Detail: detail})
	r.Changes = append(r.Changes, Change{Field: field, Stage: stage, Before: before, After: UnknownValue})
	r.Fields[field] = UnknownValue
}

// applyComponentInference adds sibling fields implied by a resolved
// component's declared attributes (e.g. sensor=PAW3395 implies
// dpi_max=26000), sharing the triggering field's evidence refs unless
// a higher-priority candidate is already present.
func applyComponentInference(p Params, res *Result, field string, componentID interface{}) {
	rule, ok := p.Engine.GetFieldRule(field)
	if !ok {
		return
	}
	compType, ok := rule.Type.(contract.ComponentRefType)
	if !ok {
		return
	}
	idStr, ok := componentID.(string)
	if !ok {
		return
	}
	item := p.Engine.FindComponentByAlias(compType.ComponentCategory, idStr)
	if item == nil || item.Attributes == nil {
		return
	}
	for siblingField, siblingValue := range item.Attributes {
		if existing, present := res.Fields[siblingField]; present && existing != UnknownValue {
			continue // higher-priority candidate already present
		}
		res.Fields[siblingField] = siblingValue
		if p.Provenance != nil {
			if refs, ok := p.Provenance[field]; ok {
				p.Provenance[siblingField] = refs
			}
		}
		logging.GateDebug("field %s inferred %s=%v via component_db_inference from %s", siblingField, siblingField, siblingValue, field)
	}
}

func applyCrossValidation(p Params, res *Result) {
	if p.Engine == nil || p.Engine.Rules() == nil {
		return
	}
	rules := p.Engine.Rules()
	for _, rule := range p.CrossValidationRules {
		val, ok := res.Fields[rule.TriggerField]
		if !ok || val == UnknownValue {
			continue
		}
		result, err := rules.Query(context.Background(), fmt.Sprintf("%s(X)", rule.Predicate))
		if err != nil {
			logging.GateWarn("cross-validation query for %s failed: %v", rule.Predicate, err)
			continue
		}
		if len(result.Bindings) > 0 {
			res.reject(rule.TriggerField, "cross_validation", ReasonCrossValidationFailed,
				fmt.Sprintf("derived predicate %s has %d violating fact(s)", rule.Predicate, len(result.Bindings)), val)
		}
	}
}

func auditEvidence(p Params, res *Result, field string, respectPerField bool) {
	rule := p.EvidenceRules[field]
	shouldAudit := p.EnforceEvidence || (respectPerField && (rule.Required || rule.MinEvidenceRefs > 0))
	if !shouldAudit {
		return
	}

	refs := p.Provenance[field]
	for _, ref := range refs {
		if !ref.wellFormed() {
			res.reject(field, "evidence_audit", ReasonEvidenceMissing, "provenance row missing url/snippet_id/snippet_hash/quote", res.Fields[field])
			return
		}
		if p.EnforceEvidence && !p.EvidencePackSnippets[ref.SnippetID] {
			res.reject(field, "evidence_audit", ReasonEvidenceNotInPack, "snippet_id not present in evidence pack", res.Fields[field])
			return
		}
	}
	if len(refs) == 0 {
		res.reject(field, "evidence_audit", ReasonEvidenceMissing, "no provenance evidence for a field requiring it", res.Fields[field])
		return
	}

	if rule.MinEvidenceRefs > 1 && (p.EnforceEvidence || respectPerField) {
		distinct := map[string]bool{}
		for _, ref := range refs {
			if ref.SnippetID != "" {
				distinct[ref.URL+"|"+ref.SnippetID] = true
			}
		}
		if len(distinct) < rule.MinEvidenceRefs {
			res.reject(field, "evidence_audit", ReasonEvidenceInsufficientRefs,
				fmt.Sprintf("need %d distinct refs, have %d", rule.MinEvidenceRefs, len(distinct)), res.Fields[field])
		}
	}
}
