// Package scheduler implements the Convergence Scheduler: the
// per-product round loop that dispatches retrieval work, applies the
// Runtime Validation Gate's output, and decides when a product's
// specification has converged — grounded on the teacher's campaign
// orchestrator's phase/task control loop (Mangle-queried eligibility,
// mutex-guarded Pause/Resume/Stop, a Progress snapshot), generalized
// from campaign phases to harvest rounds.
package scheduler

import "time"

// Mode selects the scheduler's dispatch aggressiveness, mirroring the
// bandit package's explore/exploit/balanced split.
type Mode string

const (
	ModeStandard   Mode = "standard"
	ModeAggressive Mode = "aggressive"
	ModeThorough   Mode = "thorough"
)

// RoundContext is passed to runProductFn once per round.
type RoundContext struct {
	Round            int
	Mode             Mode
	LLMTargetFields  []string
	ExtraQueries     []Query
	EscalatedFields  []string
}

// Query is one dispatched search query, optionally scoped to fields
// whose evidence is tier-deficient.
type Query struct {
	Text          string
	TargetFields  []string
}

// MissingReason classifies why a required field is still unk at the
// end of a round — shouldForceExpectedFieldRetry inspects this.
type MissingReason string

const (
	ReasonNotFoundAfterSearch MissingReason = "not_found_after_search"
	ReasonBudgetExhausted     MissingReason = "budget_exhausted"
	ReasonIdentityBlocked     MissingReason = "identity_blocked"
)

// MissingField is one required-level-or-above field still unresolved
// at round end, classified by FieldRule.RequiredLevel from the
// needset package.
type MissingField struct {
	FieldKey      string
	RequiredLevel string
	Reason        MissingReason
}

// Progress is computed after every round from the product's current
// field/provenance state.
type Progress struct {
	MissingRequiredCount int
	CriticalCount        int
	ContradictionCount   int
	Confidence           float64
	Validated            bool

	NewURLCount   int
	NewFieldCount int

	MissingFields []MissingField
}

// Improved reports whether p represents favourable movement relative
// to prev: fewer missing/critical/contradictions, or higher
// confidence, with nothing regressing.
func (p Progress) Improved(prev Progress) bool {
	betterOrEqual := p.MissingRequiredCount <= prev.MissingRequiredCount &&
		p.CriticalCount <= prev.CriticalCount &&
		p.ContradictionCount <= prev.ContradictionCount &&
		p.Confidence >= prev.Confidence
	strictlyBetter := p.MissingRequiredCount < prev.MissingRequiredCount ||
		p.CriticalCount < prev.CriticalCount ||
		p.ContradictionCount < prev.ContradictionCount ||
		p.Confidence > prev.Confidence
	return betterOrEqual && strictlyBetter
}

// RoundResult is what runProductFn returns for one round.
type RoundResult struct {
	Progress   Progress
	Provenance map[string]FieldProvenance
	Summary    map[string]FieldProvenance // fallback source when Provenance is empty
}

// FieldProvenance is the subset of a field's provenance the NeedSet
// computation and dispatch-building need.
type FieldProvenance struct {
	Confidence    float64
	BestTier      int
	HasConflict   bool
	RequiredLevel string
	PassTarget    float64
	PreferredTier int
}

// StopReason names why runConvergenceLoop stopped, in the priority
// order the stop conditions are checked.
type StopReason string

const (
	StopComplete                    StopReason = "complete"
	StopMaxRoundsReached             StopReason = "max_rounds_reached"
	StopRequiredSearchExhausted      StopReason = "required_search_exhausted_no_new_urls_or_fields"
	StopNoProgress                   StopReason = "no_progress"
	StopRepeatedLowQuality           StopReason = "repeated_low_quality"
	StopIdentityGateStuck            StopReason = "identity_gate_stuck"
)

// StopConfig bundles the thresholds config.Config exposes for the
// stop-condition checks, so the scheduler package has no dependency
// on internal/config.
type StopConfig struct {
	MaxRounds                     int
	RequiredSearchExhaustedLimit  int // default 2
	NoProgressLimit               int
	LowQualityConfidence          float64
	MaxLowQualityRounds           int
	IdentityFailFastRounds        int
	MaxDispatchQueries            int // default 15 per spec; overridable
}

// DefaultStopConfig mirrors the spec's named defaults (distinct from
// config.DefaultConfig's tuned operational defaults).
func DefaultStopConfig() StopConfig {
	return StopConfig{
		MaxRounds:                    3,
		RequiredSearchExhaustedLimit: 2,
		NoProgressLimit:              2,
		LowQualityConfidence:         0.1,
		MaxLowQualityRounds:          2,
		IdentityFailFastRounds:       1,
		MaxDispatchQueries:           15,
	}
}

// RunProductFn executes one round of retrieval/gating for a product
// and returns its outcome.
type RunProductFn func(ctx RoundContext) (RoundResult, error)

// ComputeNeedSetFn computes a fresh NeedSet from a round's provenance;
// the scheduler translates the resulting rows into a Dispatch.
type ComputeNeedSetFn func(provenance map[string]FieldProvenance) []NeedRow

// NeedRow is the subset of needset.Row the scheduler consumes to
// build a round's dispatch.
type NeedRow struct {
	FieldKey      string
	NeedScore     float64
	TierGap       bool
	RequiredLevel string
}

// Dispatch is what the scheduler decides to ask for in the next
// round, derived from the fresh NeedSet.
type Dispatch struct {
	LLMTargetFields []string
	ExtraQueries    []Query
	EscalatedFields []string
}

// RoundRecord is one round's context, result, and elapsed time, kept
// for the final RunResult.
type RoundRecord struct {
	Context  RoundContext
	Result   RoundResult
	Elapsed  time.Duration
}

// RunResult is runConvergenceLoop's return value.
type RunResult struct {
	Rounds      []RoundRecord
	FinalResult RoundResult
	RoundCount  int
	Complete    bool
	StopReason  StopReason
}

// IdentityContext carries the Identity Gate's latest verdict into the
// stop-condition check for identity_gate_stuck.
type IdentityContext struct {
	Validated bool
	Certainty float64
}
