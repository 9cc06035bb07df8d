package gate

// evaluatePublishGate applies the categorical publish policy and
// returns any blockers it raises. It does not itself rewrite fields;
// it only reports whether the accumulated state is publishable.
func evaluatePublishGate(mode PublishMode, order []string, fields map[string]interface{}, priorities map[string]Priority, failures []Failure, provenance map[string][]EvidenceRef, evidenceRules map[string]FieldEvidenceRule) []Blocker {
	var blockers []Blocker

	switch mode {
	case PublishNone:
		return nil

	case PublishIdentityComplete:
		for _, field := range order {
			if priorities[field].RequiredLevel == "identity" && isUnk(fields[field]) {
				blockers = append(blockers, Blocker{Field: field, GateCheck: string(mode), Reason: "identity field unresolved"})
			}
		}

	case PublishEvidenceComplete:
		for _, field := range order {
			if !evidenceRules[field].Required || isUnk(fields[field]) {
				continue
			}
			if !hasWellFormedEvidence(provenance[field]) {
				blockers = append(blockers, Blocker{Field: field, GateCheck: string(mode), Reason: "evidence-required field has no well-formed evidence row"})
			}
		}

	case PublishAllValidationsPass:
		if len(failures) > 0 {
			blockers = append(blockers, Blocker{GateCheck: string(mode), Reason: "runtime gate has unresolved failures"})
		}

	case PublishStrict:
		if len(failures) > 0 {
			blockers = append(blockers, Blocker{GateCheck: string(mode), Reason: "strict mode: failures present"})
		}

	default: // PublishRequiredComplete
		for _, field := range order {
			level := priorities[field].RequiredLevel
			if (level == "identity" || level == "required" || level == "critical") && isUnk(fields[field]) {
				blockers = append(blockers, Blocker{Field: field, GateCheck: string(mode), Reason: "required/critical/identity field unresolved"})
			}
		}
	}

	return blockers
}

// checkPublishBlockers scans for fields whose priority declares
// block_publish_when_unk and whose resolved value is one of the
// unknown-token spellings, attaching the rule's own publish_gate_reason.
func checkPublishBlockers(order []string, fields map[string]interface{}, priorities map[string]Priority) []Blocker {
	var blockers []Blocker
	for _, field := range order {
		pr, ok := priorities[field]
		if !ok || !pr.BlockPublishWhenUnk {
			continue
		}
		if isUnknownToken(fields[field]) {
			reason := pr.PublishGateReason
			if reason == "" {
				reason = "field resolved to an unknown-token value"
			}
			blockers = append(blockers, Blocker{Field: field, GateCheck: "block_publish_when_unk", Reason: reason})
		}
	}
	return blockers
}

func hasWellFormedEvidence(refs []EvidenceRef) bool {
	for _, r := range refs {
		if r.wellFormed() {
			return true
		}
	}
	return false
}

func isUnk(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && (s == UnknownValue || s == "")
}

func isUnknownToken(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return unknownTokens[normalizeToken(s)]
}

func normalizeToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
