// Package bandit implements the Bandit Scheduler: it ranks a batch of
// candidate work rows (one per product/field) by a weighted mix of
// how badly each is needed, how close it already is to done, and a
// deterministic exploration bonus — the same tiered-relevance-score
// shape the research context builder uses to rank candidate files,
// generalized here to field work instead of files.
package bandit

import (
	"math/rand/v2"
	"sort"
)

// Mode selects which term of the bandit_score formula dominates.
type Mode string

const (
	ModeExplore  Mode = "explore"
	ModeExploit  Mode = "exploit"
	ModeBalanced Mode = "balanced"
)

// Weights are the per-mode α (info_need), β (exploit_score), γ
// (explore_bonus) coefficients.
type Weights struct {
	Alpha, Beta, Gamma float64
}

// weightsByMode gives each mode the coefficient profile the spec
// names: exploit weighs beta highest, explore weighs gamma highest,
// balanced weighs alpha highest. The exact magnitudes are a scheduling
// policy decision, not a contracted constant.
var weightsByMode = map[Mode]Weights{
	ModeExploit:  {Alpha: 0.3, Beta: 0.6, Gamma: 0.1},
	ModeExplore:  {Alpha: 0.2, Beta: 0.2, Gamma: 0.6},
	ModeBalanced: {Alpha: 0.5, Beta: 0.3, Gamma: 0.2},
}

// Row is one candidate unit of work the scheduler could dispatch
// next.
type Row struct {
	ProductID string
	Brand     string
	Key       string

	MissingCritical   bool
	BelowPass         bool
	HasContradictions bool
	HasHypotheses     bool // queued hypothesis needing confirmation

	Validated       bool
	HighConfidence  bool
}

// Scored is one row's computed score breakdown.
type Scored struct {
	Row        Row
	InfoNeed   float64
	ExploitScore float64
	ExploreBonus float64
	BanditScore  float64
}

// Params bundles rankBatchWithBandit's inputs.
type Params struct {
	Seed             uint64
	Mode             Mode
	BrandRewardIndex map[string]float64
	Rows             []Row
}

// Result is rankBatchWithBandit's return value.
type Result struct {
	OrderedKeys []string
	Scored      []Scored
}

// Rank implements rankBatchWithBandit: scores every row, breaks ties
// deterministically by (productId, brand, key), and returns the
// ordered keys plus the full score breakdown.
func Rank(p Params) Result {
	weights, ok := weightsByMode[p.Mode]
	if !ok {
		weights = weightsByMode[ModeBalanced]
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9E3779B97F4A7C15))

	scored := make([]Scored, len(p.Rows))
	for i, row := range p.Rows {
		infoNeed := computeInfoNeed(row)
		exploitScore := computeExploitScore(row)
		exploreBonus := rng.Float64()

		score := weights.Alpha*infoNeed + weights.Beta*exploitScore + weights.Gamma*exploreBonus
		if p.BrandRewardIndex != nil {
			score += p.BrandRewardIndex[row.Brand]
		}

		scored[i] = Scored{
			Row: row, InfoNeed: infoNeed, ExploitScore: exploitScore,
			ExploreBonus: exploreBonus, BanditScore: score,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].BanditScore != scored[j].BanditScore {
			return scored[i].BanditScore > scored[j].BanditScore
		}
		return lessTiebreak(scored[i].Row, scored[j].Row)
	})

	keys := make([]string, len(scored))
	for i, s := range scored {
		keys[i] = s.Row.Key
	}
	return Result{OrderedKeys: keys, Scored: scored}
}

func computeInfoNeed(r Row) float64 {
	score := 0.0
	if r.MissingCritical {
		score += 1.0
	}
	if r.BelowPass {
		score += 0.5
	}
	if r.HasContradictions {
		score += 0.75
	}
	if r.HasHypotheses {
		score += 0.25
	}
	return score
}

func computeExploitScore(r Row) float64 {
	if r.Validated && r.HighConfidence {
		return 1.0
	}
	if r.Validated || r.HighConfidence {
		return 0.5
	}
	return 0.0
}

func lessTiebreak(a, b Row) bool {
	if a.ProductID != b.ProductID {
		return a.ProductID < b.ProductID
	}
	if a.Brand != b.Brand {
		return a.Brand < b.Brand
	}
	return a.Key < b.Key
}
