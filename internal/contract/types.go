package contract

import (
	"encoding/json"
	"fmt"
)

// FieldType is a closed sum type for what a Field Contract declares a
// field's value space to be. The unexported marker method keeps callers
// from defining new cases outside this package.
type FieldType interface {
	isFieldType()
}

// NumberType accepts any float64, optionally bounded.
type NumberType struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	Unit string  `json:"unit,omitempty"`
}

func (NumberType) isFieldType() {}

// IntegerType accepts whole numbers, optionally bounded.
type IntegerType struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

func (IntegerType) isFieldType() {}

// StringType accepts free text, optionally length-bounded.
type StringType struct {
	MaxLength int `json:"max_length,omitempty"`
}

func (StringType) isFieldType() {}

// BooleanType accepts true/false.
type BooleanType struct{}

func (BooleanType) isFieldType() {}

// EnumType restricts a value to a catalog of allowed strings. Mode
// selects what happens to a value outside that catalog: "closed"
// (the default) rejects it, "open" passes it through unchanged, and
// "open_prefer_known" canonicalizes it when the known-value catalog
// recognizes it and otherwise passes it through.
type EnumType struct {
	Allowed []string `json:"allowed"`
	Mode    string   `json:"mode,omitempty"`
}

func (EnumType) isFieldType() {}

// ComponentRefType means the field's value must resolve to an entry in
// the category's Component Database (e.g. a named SoC or display panel).
type ComponentRefType struct {
	ComponentCategory string `json:"component_category"`
}

func (ComponentRefType) isFieldType() {}

// FieldContract declares one field a category expects to harvest: its
// type, whether it's required for publish, and a pass-target confidence
// used by the Runtime Validation Gate's coverage accounting.
type FieldContract struct {
	Name              string    `json:"name"`
	DisplayName       string    `json:"display_name"`
	Type              FieldType `json:"-"`
	Required          bool      `json:"required"`
	Critical          bool      `json:"critical"`
	PassTargetConf    float64   `json:"pass_target_confidence"`
	AllowedTierScores map[int]float64 `json:"allowed_tier_scores,omitempty"`
}

// fieldTypeWire is the on-disk discriminated-union shape for FieldType:
// {"kind": "number", "min": 0, "max": 100, "unit": "Wh"}.
type fieldTypeWire struct {
	Kind    string   `json:"kind"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	IntMin  *int64   `json:"int_min,omitempty"`
	IntMax  *int64   `json:"int_max,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	MaxLen  int      `json:"max_length,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	ComponentCategory string `json:"component_category,omitempty"`
}

// fieldContractWire mirrors FieldContract but with Type as the wire
// shape, letting encoding/json round-trip the otherwise-unexported sum
// type.
type fieldContractWire struct {
	Name              string          `json:"name"`
	DisplayName       string          `json:"display_name"`
	Type              fieldTypeWire   `json:"type"`
	Required          bool            `json:"required"`
	Critical          bool            `json:"critical"`
	PassTargetConf    float64         `json:"pass_target_confidence"`
	AllowedTierScores map[int]float64 `json:"allowed_tier_scores,omitempty"`
}

// UnmarshalJSON decodes the wire shape and builds the concrete FieldType.
func (f *FieldContract) UnmarshalJSON(data []byte) error {
	var wire fieldContractWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	f.Name = wire.Name
	f.DisplayName = wire.DisplayName
	f.Required = wire.Required
	f.Critical = wire.Critical
	f.PassTargetConf = wire.PassTargetConf
	f.AllowedTierScores = wire.AllowedTierScores

	switch wire.Type.Kind {
	case "number":
		f.Type = NumberType{Min: wire.Type.Min, Max: wire.Type.Max, Unit: wire.Type.Unit}
	case "integer":
		f.Type = IntegerType{Min: wire.Type.IntMin, Max: wire.Type.IntMax}
	case "string":
		f.Type = StringType{MaxLength: wire.Type.MaxLen}
	case "boolean":
		f.Type = BooleanType{}
	case "enum":
		f.Type = EnumType{Allowed: wire.Type.Allowed, Mode: wire.Type.Mode}
	case "component_ref":
		f.Type = ComponentRefType{ComponentCategory: wire.Type.ComponentCategory}
	default:
		return fmt.Errorf("field %q: unknown type kind %q", f.Name, wire.Type.Kind)
	}
	return nil
}

// MarshalJSON encodes FieldContract back to the discriminated wire shape.
func (f FieldContract) MarshalJSON() ([]byte, error) {
	wire := fieldContractWire{
		Name:              f.Name,
		DisplayName:       f.DisplayName,
		Required:          f.Required,
		Critical:          f.Critical,
		PassTargetConf:    f.PassTargetConf,
		AllowedTierScores: f.AllowedTierScores,
	}
	switch t := f.Type.(type) {
	case NumberType:
		wire.Type = fieldTypeWire{Kind: "number", Min: t.Min, Max: t.Max, Unit: t.Unit}
	case IntegerType:
		wire.Type = fieldTypeWire{Kind: "integer", IntMin: t.Min, IntMax: t.Max}
	case StringType:
		wire.Type = fieldTypeWire{Kind: "string", MaxLen: t.MaxLength}
	case BooleanType:
		wire.Type = fieldTypeWire{Kind: "boolean"}
	case EnumType:
		wire.Type = fieldTypeWire{Kind: "enum", Allowed: t.Allowed, Mode: t.Mode}
	case ComponentRefType:
		wire.Type = fieldTypeWire{Kind: "component_ref", ComponentCategory: t.ComponentCategory}
	}
	return json.Marshal(wire)
}

// ComponentItem is one row of a category's Component Database: a
// canonical component identity plus the surface-form aliases that the
// Tier-Aware Retriever and Field Rules Engine fuzzy-match against raw
// evidence text.
type ComponentItem struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Canonical string  `json:"canonical_name"`
	Aliases  []string `json:"aliases"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Contract is everything the Field Rules Engine needs for one product
// category: field contracts, the component database, the known-value
// catalog, and the Mangle cross-validation rule source.
type Contract struct {
	Category        string                     `json:"category"`
	Fields          []FieldContract            `json:"fields"`
	Components      []ComponentItem            `json:"components"`
	KnownValues     map[string][]string        `json:"known_values"`
	RuleSchema      string                     `json:"rule_schema"`
	TierPreference  []int                      `json:"tier_preference,omitempty"`
}

// FieldByName returns the contract for name, or false if the category
// does not declare that field.
func (c *Contract) FieldByName(name string) (FieldContract, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldContract{}, false
}

// DefaultTierPreference is used when a contract omits tier_preference,
// per the Open Question resolution: manufacturer and lab/review sources
// outrank retail by default, and "other" is never preferred.
var DefaultTierPreference = []int{1, 2, 3}

// EffectiveTierPreference returns the contract's tier_preference, or
// DefaultTierPreference if unset.
func (c *Contract) EffectiveTierPreference() []int {
	if len(c.TierPreference) > 0 {
		return c.TierPreference
	}
	return DefaultTierPreference
}

// ValidationError reports a single stage-tagged failure in the gate
// pipeline, with a dotted path identifying exactly which field/stage
// failed — grounded on the teacher's path-qualified spec errors.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// NewValidationError builds a ValidationError for a dotted path.
func NewValidationError(path, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
