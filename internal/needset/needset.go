// Package needset implements the NeedSet Planner: for each contract
// field, it scores how badly the harvester still needs better
// evidence, so the Bandit Scheduler and Convergence Scheduler can
// decide what to fetch or re-fetch next.
package needset

import "sort"

// IdentityStatus is the accepted-identity confidence bucket a product
// run currently sits in.
type IdentityStatus string

const (
	StatusLocked       IdentityStatus = "locked"
	StatusProvisional  IdentityStatus = "provisional"
	StatusAmbiguous    IdentityStatus = "ambiguous"
	StatusContradicted IdentityStatus = "contradicted"
)

// defaultCap is the confidence ceiling effective_confidence cannot
// exceed for a given identity status, applied when identityCaps omits
// an explicit override.
var defaultCap = map[IdentityStatus]float64{
	StatusLocked:       1.0,
	StatusProvisional:  0.74,
	StatusAmbiguous:    0.50,
	StatusContradicted: 0.20,
}

// Reason is one cause a field still needs work.
type Reason string

const (
	ReasonMissing      Reason = "missing"
	ReasonLowConf      Reason = "low_conf"
	ReasonTierPrefUnmet Reason = "tier_pref_unmet"
	ReasonConflict     Reason = "conflict"
)

// levelWeight is the per-required-level multiplier in the need_score
// formula.
var levelWeight = map[string]float64{
	"required": 1.0,
	"critical": 1.2,
	"identity": 1.5,
	"expected": 0.6,
	"optional": 0.2,
}

// Weights are the need_score formula's tunable coefficients.
// Concrete values are a scheduling-policy decision rather than part
// of the contracted algorithm; defaults below favor missing and
// low-confidence fields roughly equally, with conflict and tier gaps
// as smaller tie-breaking nudges.
type Weights struct {
	Required float64
	Missing  float64
	LowConf  float64
	Conflict float64
	Tier     float64
}

// DefaultWeights returns the weight set used when a caller has no
// override.
func DefaultWeights() Weights {
	return Weights{Required: 1.0, Missing: 1.0, LowConf: 1.0, Conflict: 0.5, Tier: 0.3}
}

// ProvenanceEntry is the subset of a field's provenance the planner
// reads: its resolved confidence, whether multiple non-equal values
// were seen across sources, and the best tier backing it.
type ProvenanceEntry struct {
	Confidence float64
	HasConflict bool
	BestTier   int // 0 means no evidence at all
}

// FieldRule is the subset of a field's contract the planner consults.
type FieldRule struct {
	RequiredLevel  string // "required", "critical", "identity", "expected", "optional"
	PassTarget     float64
	PreferredTier  int // 0 means no tier preference declared
}

// IdentityContext carries the current run's identity status and, when
// set, an override of the default confidence caps.
type IdentityContext struct {
	Status        IdentityStatus
	IdentityCaps  map[IdentityStatus]float64
}

// Params bundles computeNeedSet's inputs.
type Params struct {
	FieldOrder      []string
	Provenance      map[string]ProvenanceEntry
	FieldRules      map[string]FieldRule
	IdentityContext IdentityContext
	Weights         Weights
}

// Row is one field's computed need, with the reasons driving its
// need_score. A field with zero reasons is omitted from Compute's
// output entirely.
type Row struct {
	FieldKey           string
	EffectiveConfidence float64
	Reasons            []Reason
	NeedScore          float64
}

// Compute implements computeNeedSet: for every field in order, derive
// effective_confidence and applicable reasons, score, and return rows
// with at least one reason, sorted by need_score descending.
func Compute(p Params) []Row {
	weights := p.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}

	var rows []Row
	for _, field := range p.FieldOrder {
		prov := p.Provenance[field]
		rule := p.FieldRules[field]

		confCap := resolveCap(p.IdentityContext)
		effectiveConf := prov.Confidence
		if effectiveConf > confCap {
			effectiveConf = confCap
		}

		var reasons []Reason
		isMissing := prov.BestTier == 0 && prov.Confidence == 0
		if isMissing {
			reasons = append(reasons, ReasonMissing)
		}
		passTarget := rule.PassTarget
		deficit := 0.0
		if passTarget > 0 && effectiveConf < passTarget {
			reasons = append(reasons, ReasonLowConf)
			deficit = passTarget - effectiveConf
		}
		tierGap := 0
		if rule.PreferredTier > 0 && prov.BestTier > 0 && prov.BestTier > rule.PreferredTier {
			reasons = append(reasons, ReasonTierPrefUnmet)
			tierGap = prov.BestTier - rule.PreferredTier
		}
		if prov.HasConflict {
			reasons = append(reasons, ReasonConflict)
		}

		if len(reasons) == 0 {
			continue
		}

		lw, ok := levelWeight[rule.RequiredLevel]
		if !ok {
			lw = levelWeight["optional"]
		}

		hasConflict := 0.0
		if prov.HasConflict {
			hasConflict = 1.0
		}
		missing := 0.0
		if isMissing {
			missing = 1.0
		}

		score := weights.Required*lw +
			weights.Missing*missing +
			weights.LowConf*deficit +
			weights.Conflict*hasConflict +
			weights.Tier*float64(tierGap)

		rows = append(rows, Row{
			FieldKey:            field,
			EffectiveConfidence: effectiveConf,
			Reasons:             reasons,
			NeedScore:           score,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].NeedScore > rows[j].NeedScore
	})
	return rows
}

func resolveCap(ic IdentityContext) float64 {
	if ic.IdentityCaps != nil {
		if v, ok := ic.IdentityCaps[ic.Status]; ok {
			return v
		}
	}
	if v, ok := defaultCap[ic.Status]; ok {
		return v
	}
	return defaultCap[StatusProvisional]
}
