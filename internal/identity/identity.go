// Package identity implements the Identity Gate: it scores how
// confident the harvester is that accepted sources actually describe
// the product being harvested, and flags contradictions severe enough
// to block that confidence outright. Grounded on the same
// rule-per-check, structured-reason shape the contract package's rule
// engine uses for cross-validation, applied here to a fixed set of
// identity-critical checks instead of a compiled rule set.
package identity

import (
	"strconv"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// Tier mirrors the evidence package's tier numbering without
// importing it, since identity evaluation only needs to distinguish
// manufacturer-tier from every other tier.
type Tier int

const (
	TierManufacturer Tier = 1
)

// Source is one piece of evidence the Identity Gate considers —
// enough of it to decide acceptance and, separately, to compare
// identity-critical fields across sources for contradictions.
type Source struct {
	URL            string
	Domain         string
	Tier           Tier
	ApprovedDomain bool
	IdentityMatch  bool

	ConnectionClass string
	SensorFamily    string
	DimensionsMM    float64
	HasDimensions   bool
	SKU             string
}

// ContradictionKind names which identity-critical check fired.
type ContradictionKind string

const (
	ContradictionConnectionClass ContradictionKind = "connection_class"
	ContradictionSensorFamily    ContradictionKind = "sensor_family"
	ContradictionDimensions      ContradictionKind = "dimensions"
	ContradictionSKU             ContradictionKind = "sku"
)

// Contradiction is one identity-critical disagreement between two
// accepted sources.
type Contradiction struct {
	Kind   ContradictionKind
	SourceA, SourceB string
	Detail string
}

// Result is evaluateIdentityGate's return value.
type Result struct {
	Certainty           float64
	Validated           bool
	AcceptedSourceCount int
	Contradictions       []Contradiction
}

const certaintyCapWithoutContradictions = 0.95

// Evaluate implements evaluateIdentityGate: it scores certainty from
// accepted sources and reports whether identity is validated.
func Evaluate(sources []Source) Result {
	accepted := acceptedSources(sources)
	contradictions := buildIdentityCriticalContradictions(accepted)

	hasManufacturer := false
	additionalCount := 0
	for _, s := range accepted {
		if s.Tier == TierManufacturer {
			hasManufacturer = true
		} else {
			additionalCount++
		}
	}

	certainty := 0.0
	if hasManufacturer {
		certainty += 0.5
	}
	if additionalCount >= 2 {
		certainty += 0.45
	}
	if len(contradictions) == 0 && certainty > certaintyCapWithoutContradictions {
		certainty = certaintyCapWithoutContradictions
	}
	if certainty > 1.0 {
		certainty = 1.0
	}

	validated := hasManufacturer && additionalCount >= 2 && len(contradictions) == 0

	logging.IdentityDebug("identity gate: accepted=%d manufacturer=%v additional=%d contradictions=%d certainty=%.2f",
		len(accepted), hasManufacturer, additionalCount, len(contradictions), certainty)

	return Result{
		Certainty:           certainty,
		Validated:           validated,
		AcceptedSourceCount: len(accepted),
		Contradictions:      contradictions,
	}
}

// acceptedSources filters to sources whose identity matched and whose
// domain is approved — the only sources that count toward certainty
// or participate in contradiction checks.
func acceptedSources(sources []Source) []Source {
	var out []Source
	for _, s := range sources {
		if s.IdentityMatch && s.ApprovedDomain {
			out = append(out, s)
		}
	}
	return out
}

// buildIdentityCriticalContradictions surfaces only semantically
// significant disagreements between accepted sources, per field:
// connection class, sensor family, dimensions, and SKU.
func buildIdentityCriticalContradictions(accepted []Source) []Contradiction {
	var out []Contradiction
	for i := 0; i < len(accepted); i++ {
		for j := i + 1; j < len(accepted); j++ {
			a, b := accepted[i], accepted[j]
			if c, ok := connectionClassContradiction(a, b); ok {
				out = append(out, c)
			}
			if c, ok := sensorFamilyContradiction(a, b); ok {
				out = append(out, c)
			}
			if c, ok := dimensionsContradiction(a, b); ok {
				out = append(out, c)
			}
			if c, ok := skuContradiction(a, b); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func connectionClassContradiction(a, b Source) (Contradiction, bool) {
	ac, bc := strings.TrimSpace(a.ConnectionClass), strings.TrimSpace(b.ConnectionClass)
	if ac == "" || bc == "" {
		return Contradiction{}, false
	}
	if aliasOrSubstring(ac, bc) {
		return Contradiction{}, false
	}
	return Contradiction{
		Kind: ContradictionConnectionClass, SourceA: a.URL, SourceB: b.URL,
		Detail: ac + " vs " + bc,
	}, true
}

// aliasOrSubstring treats two connection-class strings as the same
// canonical value when one is a substring of the other after
// case-folding — e.g. "2.4GHz wireless" and "wireless" do not
// contradict, but "2.4GHz wireless" and "Bluetooth" do.
func aliasOrSubstring(a, b string) bool {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	return al == bl || strings.Contains(al, bl) || strings.Contains(bl, al)
}

func sensorFamilyContradiction(a, b Source) (Contradiction, bool) {
	af, bf := normalizeToken(a.SensorFamily), normalizeToken(b.SensorFamily)
	if af == "" || bf == "" || af == bf {
		return Contradiction{}, false
	}
	return Contradiction{
		Kind: ContradictionSensorFamily, SourceA: a.URL, SourceB: b.URL,
		Detail: a.SensorFamily + " vs " + b.SensorFamily,
	}, true
}

// normalizeToken upper-cases and strips everything but letters and
// digits, so "PAW 3395" and "paw-3395" compare equal.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const dimensionsContradictionThresholdMM = 3.0

func dimensionsContradiction(a, b Source) (Contradiction, bool) {
	if !a.HasDimensions || !b.HasDimensions {
		return Contradiction{}, false
	}
	gap := a.DimensionsMM - b.DimensionsMM
	if gap < 0 {
		gap = -gap
	}
	if gap < dimensionsContradictionThresholdMM {
		return Contradiction{}, false
	}
	return Contradiction{
		Kind: ContradictionDimensions, SourceA: a.URL, SourceB: b.URL,
		Detail: strconv.FormatFloat(a.DimensionsMM, 'f', 1, 64) + "mm vs " + strconv.FormatFloat(b.DimensionsMM, 'f', 1, 64) + "mm",
	}, true
}

const skuSharedPrefixLen = 12

func skuContradiction(a, b Source) (Contradiction, bool) {
	as, bs := strings.TrimSpace(a.SKU), strings.TrimSpace(b.SKU)
	if as == "" || bs == "" {
		return Contradiction{}, false
	}
	if sharesPrefix(as, bs, skuSharedPrefixLen) {
		return Contradiction{}, false
	}
	return Contradiction{
		Kind: ContradictionSKU, SourceA: a.URL, SourceB: b.URL,
		Detail: as + " vs " + bs,
	}, true
}

func sharesPrefix(a, b string, n int) bool {
	al, bl := strings.ToUpper(a), strings.ToUpper(b)
	minLen := n
	if len(al) < minLen {
		minLen = len(al)
	}
	if len(bl) < minLen {
		minLen = len(bl)
	}
	if minLen == 0 {
		return false
	}
	return al[:minLen] == bl[:minLen]
}
