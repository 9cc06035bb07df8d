package contract

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// ReasonCode is the closed taxonomy of normalization outcomes a field
// value can fail with.
type ReasonCode string

const (
	ReasonOK                 ReasonCode = ""
	ReasonTypeMismatch       ReasonCode = "type_mismatch"
	ReasonOutOfRange         ReasonCode = "out_of_range"
	ReasonEnumNotAllowed     ReasonCode = "enum_not_allowed"
	ReasonComponentUnresolved ReasonCode = "component_unresolved"
	ReasonUnparsable         ReasonCode = "unparsable"
)

// NormalizeResult is what normalizeCandidate returns: whether the raw
// value survived, its canonical form, and why it failed when it didn't.
// CurationSuggested is set by an open/open_prefer_known enum field when
// the raw value fell outside the known-value catalog — the Gate turns
// this into a curation suggestion rather than a failure.
type NormalizeResult struct {
	OK                bool
	Normalized        interface{}
	Reason            ReasonCode
	CurationSuggested bool
}

// EnumMode controls how EnumType validation treats values outside the
// allowed set.
type EnumMode string

const (
	EnumClosed          EnumMode = "closed"           // must match canonical or alias
	EnumOpen            EnumMode = "open"              // any value passes through
	EnumOpenPreferKnown EnumMode = "open_prefer_known" // canonicalize if known, else passthrough
)

// ComponentMatch is the result of a fuzzy component lookup: the matched
// item (nil if none cleared the threshold) and its similarity score.
type ComponentMatch struct {
	Match *ComponentItem
	Score float64
}

const defaultFuzzyThreshold = 0.75

// Engine is the Field Rules Engine's synchronous, read-only query
// surface over one category's compiled contract.
type Engine struct {
	contract   *Contract
	fieldOrder []string
	aliasIdx   map[string]*AliasIndex // component db name -> index
	knownVals  *KnownValueSet
	rules      *RuleEngine
}

// NewEngine builds the read-only query surface for contract. Components
// are grouped into per-category alias indices (e.g. "soc", "display")
// because findComponentByAlias is always scoped to one component
// database at a time.
func NewEngine(c *Contract, rules *RuleEngine) *Engine {
	byCategory := make(map[string][]ComponentItem)
	for _, comp := range c.Components {
		byCategory[comp.Category] = append(byCategory[comp.Category], comp)
	}
	aliasIdx := make(map[string]*AliasIndex, len(byCategory))
	for category, items := range byCategory {
		aliasIdx[category] = BuildAliasIndex(items)
	}

	order := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		order[i] = f.Name
	}

	return &Engine{
		contract:   c,
		fieldOrder: order,
		aliasIdx:   aliasIdx,
		knownVals:  BuildKnownValueSet(c.KnownValues),
		rules:      rules,
	}
}

// GetFieldRule returns the declared contract for fieldKey, if any.
func (e *Engine) GetFieldRule(fieldKey string) (FieldContract, bool) {
	return e.contract.FieldByName(fieldKey)
}

// GetFieldOrder returns the category's declared field order, used to
// drive deterministic NeedSet iteration and published-artifact ordering.
func (e *Engine) GetFieldOrder() []string {
	return e.fieldOrder
}

// Fields returns every field contract the category declares, in
// declared order.
func (e *Engine) Fields() []FieldContract {
	return e.contract.Fields
}

// TierPreference returns the category's declared tier preference, or
// DefaultTierPreference if the contract omits one.
func (e *Engine) TierPreference() []int {
	if len(e.contract.TierPreference) > 0 {
		return e.contract.TierPreference
	}
	return DefaultTierPreference
}

// GetEnumCatalog returns the raw known-value list for name, if declared.
func (e *Engine) GetEnumCatalog(name string) ([]string, bool) {
	vals, ok := e.contract.KnownValues[name]
	return vals, ok
}

// FindComponentByAlias resolves query to a ComponentItem in component
// database dbName, trying the canonical/alias index both as-given and
// with whitespace stripped.
func (e *Engine) FindComponentByAlias(dbName, query string) *ComponentItem {
	idx, ok := e.aliasIdx[dbName]
	if !ok {
		return nil
	}
	if item := idx.Resolve(query); item != nil {
		return item
	}
	return idx.Resolve(strings.Join(strings.Fields(query), ""))
}

// FuzzyMatchComponent finds the best-scoring component in dbName for
// query using normalized Levenshtein similarity, applying threshold (or
// defaultFuzzyThreshold when threshold is NaN/nil/out of [0,1]).
func (e *Engine) FuzzyMatchComponent(dbName, query string, threshold *float64) ComponentMatch {
	effective := defaultFuzzyThreshold
	if threshold != nil && !math.IsNaN(*threshold) && *threshold >= 0 && *threshold <= 1 {
		effective = *threshold
	}

	idx, ok := e.aliasIdx[dbName]
	if !ok {
		return ComponentMatch{}
	}

	normalizedQuery := normalizeAlias(query)
	var best *ComponentItem
	bestScore := 0.0
	for key, item := range idx.byKey {
		score := stringSimilarity(normalizedQuery, key)
		if score > bestScore {
			bestScore = score
			best = item
		}
	}
	if best == nil || bestScore < effective {
		return ComponentMatch{Score: bestScore}
	}
	return ComponentMatch{Match: best, Score: bestScore}
}

// stringSimilarity returns 1 - (levenshtein distance / max length), a
// value in [0,1].
func stringSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	rows, cols := len(ra)+1, len(rb)+1
	prev := make([]int, cols)
	curr := make([]int, cols)
	for j := 0; j < cols; j++ {
		prev[j] = j
	}
	for i := 1; i < rows; i++ {
		curr[0] = i
		for j := 1; j < cols; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(del, minInt(ins, sub))
		}
		prev, curr = curr, prev
	}
	return prev[cols-1]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// NormalizeCandidate applies the field's declared type to raw, returning
// the canonicalized value or a reason code explaining why it was
// rejected. Callers (the Runtime Validation Gate) rewrite rejected values
// to "unk" rather than propagating the raw text.
func (e *Engine) NormalizeCandidate(fieldKey string, raw interface{}) NormalizeResult {
	rule, ok := e.GetFieldRule(fieldKey)
	if !ok {
		return NormalizeResult{OK: false, Reason: ReasonTypeMismatch}
	}

	switch t := rule.Type.(type) {
	case NumberType:
		return e.normalizeNumber(raw, t)
	case IntegerType:
		return e.normalizeInteger(raw, t)
	case StringType:
		return e.normalizeString(raw, t)
	case BooleanType:
		return e.normalizeBoolean(raw)
	case EnumType:
		return e.normalizeEnum(fieldKey, raw, t)
	case ComponentRefType:
		return e.normalizeComponentRef(raw, t)
	default:
		return NormalizeResult{OK: false, Reason: ReasonTypeMismatch}
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func (e *Engine) normalizeNumber(raw interface{}, t NumberType) NormalizeResult {
	f, ok := toFloat(raw)
	if !ok {
		return NormalizeResult{OK: false, Reason: ReasonUnparsable}
	}
	if t.Min != nil && f < *t.Min {
		return NormalizeResult{OK: false, Reason: ReasonOutOfRange}
	}
	if t.Max != nil && f > *t.Max {
		return NormalizeResult{OK: false, Reason: ReasonOutOfRange}
	}
	return NormalizeResult{OK: true, Normalized: f}
}

func (e *Engine) normalizeInteger(raw interface{}, t IntegerType) NormalizeResult {
	f, ok := toFloat(raw)
	if !ok || f != math.Trunc(f) {
		return NormalizeResult{OK: false, Reason: ReasonUnparsable}
	}
	n := int64(f)
	if t.Min != nil && n < *t.Min {
		return NormalizeResult{OK: false, Reason: ReasonOutOfRange}
	}
	if t.Max != nil && n > *t.Max {
		return NormalizeResult{OK: false, Reason: ReasonOutOfRange}
	}
	return NormalizeResult{OK: true, Normalized: n}
}

func (e *Engine) normalizeString(raw interface{}, t StringType) NormalizeResult {
	s, ok := raw.(string)
	if !ok {
		return NormalizeResult{OK: false, Reason: ReasonTypeMismatch}
	}
	s = strings.TrimSpace(s)
	if t.MaxLength > 0 && len(s) > t.MaxLength {
		return NormalizeResult{OK: false, Reason: ReasonOutOfRange}
	}
	return NormalizeResult{OK: true, Normalized: s}
}

func (e *Engine) normalizeBoolean(raw interface{}) NormalizeResult {
	switch v := raw.(type) {
	case bool:
		return NormalizeResult{OK: true, Normalized: v}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return NormalizeResult{OK: true, Normalized: true}
		case "false", "no", "0":
			return NormalizeResult{OK: true, Normalized: false}
		}
	}
	return NormalizeResult{OK: false, Reason: ReasonUnparsable}
}

func (e *Engine) normalizeEnum(fieldKey string, raw interface{}, t EnumType) NormalizeResult {
	s, ok := raw.(string)
	if !ok {
		return NormalizeResult{OK: false, Reason: ReasonTypeMismatch}
	}

	canonical, known := e.knownVals.Canonical(fieldKey, s)
	if known {
		return NormalizeResult{OK: true, Normalized: canonical}
	}
	for _, allowed := range t.Allowed {
		if strings.EqualFold(allowed, s) {
			return NormalizeResult{OK: true, Normalized: allowed}
		}
	}

	mode := EnumMode(t.Mode)
	if mode == "" {
		mode = EnumClosed
	}
	switch mode {
	case EnumOpen:
		return NormalizeResult{OK: true, Normalized: s}
	case EnumOpenPreferKnown:
		return NormalizeResult{OK: true, Normalized: s, CurationSuggested: true}
	default: // EnumClosed
		return NormalizeResult{OK: false, Reason: ReasonEnumNotAllowed}
	}
}

func (e *Engine) normalizeComponentRef(raw interface{}, t ComponentRefType) NormalizeResult {
	s, ok := raw.(string)
	if !ok {
		return NormalizeResult{OK: false, Reason: ReasonTypeMismatch}
	}
	if item := e.FindComponentByAlias(t.ComponentCategory, s); item != nil {
		return NormalizeResult{OK: true, Normalized: item.ID}
	}
	match := e.FuzzyMatchComponent(t.ComponentCategory, s, nil)
	if match.Match != nil {
		logging.ContractDebug("fuzzy-resolved %q to component %s (score %.2f)", s, match.Match.ID, match.Score)
		return NormalizeResult{OK: true, Normalized: match.Match.ID}
	}
	return NormalizeResult{OK: false, Reason: ReasonComponentUnresolved}
}

// Rules returns the underlying cross-validation rule engine so the gate
// can assert facts and query for conflicts after normalization.
func (e *Engine) Rules() *RuleEngine {
	return e.rules
}

// SortedFieldNames returns field names sorted for deterministic output,
// used when a caller needs stable ordering but not the authored order.
func (e *Engine) SortedFieldNames() []string {
	names := make([]string, len(e.fieldOrder))
	copy(names, e.fieldOrder)
	sort.Strings(names)
	return names
}
