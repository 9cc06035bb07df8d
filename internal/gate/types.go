// Package gate implements the Runtime Validation Gate: the
// six-stage pipeline (normalize, enum, component, cross-validation,
// evidence audit, publish gate) that turns raw harvested candidates
// into a published, provenance-annotated spec sheet.
package gate

const UnknownValue = "unk"

// unknownTokens is the case-insensitive set of values checkPublishBlockers
// treats as "no real value", even when a field wasn't itself rewritten
// to UnknownValue by an earlier stage.
var unknownTokens = map[string]bool{
	"unk": true, "unknown": true, "n/a": true, "null": true, "": true, "-": true,
}

// ReasonCode is the closed failure taxonomy the gate reports.
type ReasonCode string

const (
	ReasonOutOfRange           ReasonCode = "out_of_range"
	ReasonEnumValueNotAllowed  ReasonCode = "enum_value_not_allowed"
	ReasonComponentNotFound    ReasonCode = "component_not_found"
	ReasonCrossValidationFailed ReasonCode = "cross_validation_failed"
	ReasonEvidenceMissing      ReasonCode = "evidence_missing"
	ReasonEvidenceNotInPack    ReasonCode = "evidence_not_in_pack"
	ReasonEvidenceInsufficientRefs ReasonCode = "evidence_insufficient_refs"
	ReasonPublishBlocked       ReasonCode = "publish_blocked"
)

// EvidenceRef is one provenance row backing a field's value.
type EvidenceRef struct {
	URL         string
	SnippetID   string
	SnippetHash string
	Quote       string
}

func (r EvidenceRef) wellFormed() bool {
	return r.URL != "" && r.SnippetID != "" && r.SnippetHash != "" && r.Quote != ""
}

// FieldEvidenceRule is the evidence-requirement subset of a field's
// contract the gate's audit stage consults.
type FieldEvidenceRule struct {
	Required      bool
	MinEvidenceRefs int
}

// Priority captures the publish-blocking and effort-scoring
// properties the scheduler and publish gate read from a field rule.
type Priority struct {
	RequiredLevel         string // "identity", "required", "critical", "expected", "optional"
	Effort                float64
	BlockPublishWhenUnk   bool
	PublishGateReason     string
}

// Failure is one stage's rejection of a field's candidate value.
type Failure struct {
	Field  string
	Stage  string
	Reason ReasonCode
	Detail string
}

// Change records a field rewrite for audit trails (e.g. "out-of-range
// value replaced with unk").
type Change struct {
	Field  string
	Stage  string
	Before interface{}
	After  interface{}
}

// CurationSuggestion is emitted when an open/open_prefer_known enum
// field sees a value outside its known-value catalog.
type CurationSuggestion struct {
	FieldKey       string
	SuggestedValue string
}

// Blocker is one reason the publish gate refused to publish.
type Blocker struct {
	Field     string
	GateCheck string
	Reason    string
}

// PublishMode selects which publish-gate policy evaluatePublishGate
// applies.
type PublishMode string

const (
	PublishNone             PublishMode = "none"
	PublishIdentityComplete PublishMode = "identity_complete"
	PublishRequiredComplete PublishMode = "required_complete" // default
	PublishEvidenceComplete PublishMode = "evidence_complete"
	PublishAllValidationsPass PublishMode = "all_validations_pass"
	PublishStrict           PublishMode = "strict"
)

// Result is the full output of applyRuntimeFieldRules.
type Result struct {
	Applied             bool
	Fields              map[string]interface{}
	Failures            []Failure
	Changes             []Change
	CurationSuggestions []CurationSuggestion
	Blockers            []Blocker
	Published           bool
}
