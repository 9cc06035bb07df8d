// Package retriever implements the Tier-Aware Retriever: given a
// field and its NeedSet row, it assembles an ordered, deduplicated
// set of evidence hits honoring tier preference and minimum-reference
// quorums, without itself fetching anything new.
package retriever

import (
	"context"
	"sort"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub001/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// extractionMethodRank orders extraction methods by how trustworthy
// the method itself is, independent of score — a value lifted from a
// manufacturer's literal spec table beats the same value reached by
// an LLM guessing at unstructured prose.
var extractionMethodRank = map[string]int{
	"spec_table_match": 0,
	"kv":               1,
	"table":            2,
	"readability":      3,
	"llm_extract":      4,
}

func methodRank(method string) int {
	if r, ok := extractionMethodRank[method]; ok {
		return r
	}
	return len(extractionMethodRank)
}

// NeedRow is the subset of a NeedSet entry the retriever consumes.
type NeedRow struct {
	FieldKey      string
	TierPreference []int
	MinRefs       int
}

// FieldRule is the subset of a field's contract the retriever uses to
// build a fallback query and recognize anchor/unit heuristics when no
// FTS query function is supplied.
type FieldRule struct {
	Anchors []string
	UnitHint string
}

// Identity carries the accepted brand/model strings used for the
// identity-match sort criterion.
type Identity struct {
	Brand string
	Model string
}

// Hit is one piece of retrieved evidence for a field.
type Hit struct {
	URL              string
	SnippetID        string
	Tier             evidence.Tier
	ExtractionMethod string
	Score            float64
	IdentityMatch    bool
	Quote            string
}

// Debug carries retrieval diagnostics, including any min_refs
// shortfall — the retriever reports a shortfall, it never fabricates
// hits to satisfy one.
type Debug struct {
	CandidatesConsidered int
	UsedFTSQuery         bool
	MinRefsShortfall     bool
	DistinctRefsFound    int
}

// Result is the return value of BuildTierAwareFieldRetrieval.
type Result struct {
	Hits  []Hit
	Debug Debug
}

// FTSQueryFunc mirrors the optional ftsQueryFn collaborator: given a
// field and its anchors/unit hint, it returns a candidate pool ranked
// however the search backend ranks it. A nil func means always fall
// back to the supplied evidence pool.
type FTSQueryFunc func(ctx context.Context, fieldKey string, anchors []string, unitHint string) ([]Hit, error)

// Params bundles BuildTierAwareFieldRetrieval's inputs.
type Params struct {
	FieldKey     string
	NeedRow      NeedRow
	FieldRule    FieldRule
	EvidencePool []Hit
	Identity     Identity
	MaxHits      int
	FTSQueryFn   FTSQueryFunc
}

// BuildTierAwareFieldRetrieval implements the algorithm: pool
// selection, tier grouping, within-tier ranking, tier-ordered
// emission up to MaxHits, and (url, snippet_id) deduplication.
func BuildTierAwareFieldRetrieval(ctx context.Context, p Params) Result {
	candidates, usedFTS := selectCandidatePool(ctx, p)

	byTier := map[evidence.Tier][]Hit{}
	for _, h := range candidates {
		byTier[h.Tier] = append(byTier[h.Tier], h)
	}
	for tier := range byTier {
		sortWithinTier(byTier[tier])
	}

	tierPref := p.NeedRow.TierPreference
	if len(tierPref) == 0 {
		tierPref = []int{1, 2, 3}
	}

	seen := map[string]bool{}
	var hits []Hit
	maxHits := p.MaxHits
	if maxHits <= 0 {
		maxHits = len(candidates)
	}

	emit := func(tier evidence.Tier) {
		for _, h := range byTier[tier] {
			if len(hits) >= maxHits {
				return
			}
			key := h.URL + "|" + h.SnippetID
			if seen[key] {
				continue
			}
			seen[key] = true
			hits = append(hits, h)
		}
	}
	for _, t := range tierPref {
		if len(hits) >= maxHits {
			break
		}
		emit(evidence.Tier(t))
	}
	// Any tier not named in tier_preference is still eligible, appended
	// last, so a field never silently drops evidence outside the
	// preferred tiers when maxHits has room.
	for t := evidence.TierManufacturer; t <= evidence.TierOther && len(hits) < maxHits; t++ {
		inPref := false
		for _, pt := range tierPref {
			if evidence.Tier(pt) == t {
				inPref = true
				break
			}
		}
		if !inPref {
			emit(t)
		}
	}

	shortfall := false
	if p.NeedRow.MinRefs > 1 && len(hits) < p.NeedRow.MinRefs {
		shortfall = true
		logging.RetrieverDebug("field %s: min_refs=%d but only %d distinct hits available", p.FieldKey, p.NeedRow.MinRefs, len(hits))
	}

	return Result{
		Hits: hits,
		Debug: Debug{
			CandidatesConsidered: len(candidates),
			UsedFTSQuery:         usedFTS,
			MinRefsShortfall:     shortfall,
			DistinctRefsFound:    len(hits),
		},
	}
}

func selectCandidatePool(ctx context.Context, p Params) ([]Hit, bool) {
	if p.FTSQueryFn != nil {
		hits, err := p.FTSQueryFn(ctx, p.FieldKey, p.FieldRule.Anchors, p.FieldRule.UnitHint)
		if err != nil {
			logging.RetrieverDebug("fts query for %s failed, falling back to evidence pool: %v", p.FieldKey, err)
		} else if len(hits) > 0 {
			return hits, true
		}
	}
	return filterEvidencePool(p), false
}

// filterEvidencePool performs the linear-scan fallback: keep hits
// whose quote mentions one of the field's anchors or unit hint, or
// keep everything when no anchors are declared (the caller already
// scoped the pool to this field).
func filterEvidencePool(p Params) []Hit {
	if len(p.FieldRule.Anchors) == 0 && p.FieldRule.UnitHint == "" {
		return p.EvidencePool
	}
	var out []Hit
	for _, h := range p.EvidencePool {
		lower := strings.ToLower(h.Quote)
		matched := false
		for _, a := range p.FieldRule.Anchors {
			if a != "" && strings.Contains(lower, strings.ToLower(a)) {
				matched = true
				break
			}
		}
		if !matched && p.FieldRule.UnitHint != "" && strings.Contains(lower, strings.ToLower(p.FieldRule.UnitHint)) {
			matched = true
		}
		if matched {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return p.EvidencePool
	}
	return out
}

func sortWithinTier(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].IdentityMatch != hits[j].IdentityMatch {
			return hits[i].IdentityMatch
		}
		ri, rj := methodRank(hits[i].ExtractionMethod), methodRank(hits[j].ExtractionMethod)
		if ri != rj {
			return ri < rj
		}
		return hits[i].Score > hits[j].Score
	})
}

// MatchesIdentity reports whether a quote or host mentions the given
// brand/model, the substring heuristic used for the identity-match
// sort criterion.
func MatchesIdentity(id Identity, quoteOrHost string) bool {
	lower := strings.ToLower(quoteOrHost)
	if id.Brand != "" && strings.Contains(lower, strings.ToLower(id.Brand)) {
		return true
	}
	if id.Model != "" && strings.Contains(lower, strings.ToLower(id.Model)) {
		return true
	}
	return false
}
