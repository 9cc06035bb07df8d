package scheduler

import (
	"context"
	"testing"
)

func TestRunConvergenceLoopStopsOnComplete(t *testing.T) {
	runFn := func(rc RoundContext) (RoundResult, error) {
		return RoundResult{Progress: Progress{Validated: true, Confidence: 1.0}}, nil
	}
	res := RunConvergenceLoop(context.Background(), Params{
		RunProductFn: runFn, JobID: "p1", StopConfig: DefaultStopConfig(),
	})
	if res.StopReason != StopComplete || !res.Complete {
		t.Fatalf("expected complete, got %+v", res)
	}
	if res.RoundCount != 1 {
		t.Errorf("RoundCount = %d, want 1", res.RoundCount)
	}
}

func TestRunConvergenceLoopStopsAtMaxRounds(t *testing.T) {
	calls := 0
	runFn := func(rc RoundContext) (RoundResult, error) {
		calls++
		return RoundResult{Progress: Progress{MissingRequiredCount: 1, Confidence: 0.5, NewFieldCount: 1}}, nil
	}
	cfg := DefaultStopConfig()
	cfg.MaxRounds = 3
	res := RunConvergenceLoop(context.Background(), Params{RunProductFn: runFn, JobID: "p1", StopConfig: cfg})
	if res.StopReason != StopMaxRoundsReached {
		t.Fatalf("expected max_rounds_reached, got %s", res.StopReason)
	}
	if calls != 3 {
		t.Errorf("expected 3 rounds run, got %d", calls)
	}
}

func TestRunConvergenceLoopStopsOnRequiredSearchExhausted(t *testing.T) {
	runFn := func(rc RoundContext) (RoundResult, error) {
		return RoundResult{Progress: Progress{MissingRequiredCount: 2, Confidence: 0.5, NewURLCount: 0, NewFieldCount: 0}}, nil
	}
	cfg := DefaultStopConfig()
	cfg.RequiredSearchExhaustedLimit = 2
	cfg.NoProgressLimit = 100 // isolate this condition
	cfg.MaxRounds = 100       // round 0 is exempt from the exhausted count, so this needs headroom
	res := RunConvergenceLoop(context.Background(), Params{RunProductFn: runFn, JobID: "p1", StopConfig: cfg})
	if res.StopReason != StopRequiredSearchExhausted {
		t.Fatalf("expected required_search_exhausted, got %s", res.StopReason)
	}
	if res.RoundCount != 3 {
		t.Errorf("RoundCount = %d, want 3", res.RoundCount)
	}
}

// TestRunConvergenceLoopNoProgressBeatsRequiredSearchExhaustedAtDefaults
// reproduces the default-threshold collision at round_count=2: round 0 is
// exempt from the required-search-exhausted count (mirroring its exemption
// from no-progress), so a stable, unvalidated summary crosses
// NoProgressLimit before it crosses the default RequiredSearchExhaustedLimit.
func TestRunConvergenceLoopNoProgressBeatsRequiredSearchExhaustedAtDefaults(t *testing.T) {
	runFn := func(rc RoundContext) (RoundResult, error) {
		return RoundResult{Progress: Progress{MissingRequiredCount: 1, Confidence: 0.5}}, nil
	}
	cfg := DefaultStopConfig()
	cfg.NoProgressLimit = 1
	res := RunConvergenceLoop(context.Background(), Params{RunProductFn: runFn, JobID: "p1", StopConfig: cfg})
	if res.StopReason != StopNoProgress {
		t.Fatalf("expected no_progress, got %s", res.StopReason)
	}
	if res.RoundCount != 2 {
		t.Errorf("RoundCount = %d, want 2", res.RoundCount)
	}
}

func TestRunConvergenceLoopStopsOnNoProgress(t *testing.T) {
	runFn := func(rc RoundContext) (RoundResult, error) {
		return RoundResult{Progress: Progress{MissingRequiredCount: 1, Confidence: 0.5, NewFieldCount: 0, NewURLCount: 1}}, nil
	}
	cfg := DefaultStopConfig()
	cfg.MaxRounds = 100
	cfg.NoProgressLimit = 2
	cfg.RequiredSearchExhaustedLimit = 100
	res := RunConvergenceLoop(context.Background(), Params{RunProductFn: runFn, JobID: "p1", StopConfig: cfg})
	if res.StopReason != StopNoProgress {
		t.Fatalf("expected no_progress, got %s", res.StopReason)
	}
}

func TestRunConvergenceLoopStopsOnRepeatedLowQuality(t *testing.T) {
	runFn := func(rc RoundContext) (RoundResult, error) {
		return RoundResult{Progress: Progress{MissingRequiredCount: 1, Confidence: 0.05, NewFieldCount: 1, NewURLCount: 1}}, nil
	}
	cfg := DefaultStopConfig()
	cfg.LowQualityConfidence = 0.1
	cfg.MaxLowQualityRounds = 2
	cfg.NoProgressLimit = 100
	cfg.RequiredSearchExhaustedLimit = 100
	res := RunConvergenceLoop(context.Background(), Params{RunProductFn: runFn, JobID: "p1", StopConfig: cfg})
	if res.StopReason != StopRepeatedLowQuality {
		t.Fatalf("expected repeated_low_quality, got %s", res.StopReason)
	}
}

func TestRunConvergenceLoopStopsOnIdentityGateStuck(t *testing.T) {
	runFn := func(rc RoundContext) (RoundResult, error) {
		return RoundResult{Progress: Progress{MissingRequiredCount: 1, Confidence: 0.5, NewFieldCount: 1, NewURLCount: 1}}, nil
	}
	cfg := DefaultStopConfig()
	cfg.IdentityFailFastRounds = 1
	cfg.NoProgressLimit = 100
	cfg.RequiredSearchExhaustedLimit = 100
	cfg.MaxLowQualityRounds = 100
	res := RunConvergenceLoop(context.Background(), Params{
		RunProductFn: runFn, JobID: "p1", StopConfig: cfg,
		IdentityFn: func() IdentityContext { return IdentityContext{Validated: false} },
	})
	if res.StopReason != StopIdentityGateStuck {
		t.Fatalf("expected identity_gate_stuck, got %s", res.StopReason)
	}
	if res.RoundCount != 1 {
		t.Errorf("RoundCount = %d, want 1", res.RoundCount)
	}
}

func TestRunConvergenceLoopDispatchesTierDeficientQueriesOncePerField(t *testing.T) {
	round := 0
	runFn := func(rc RoundContext) (RoundResult, error) {
		round++
		if round >= 3 {
			return RoundResult{Progress: Progress{Validated: true, Confidence: 1.0}}, nil
		}
		return RoundResult{Progress: Progress{MissingRequiredCount: 1, Confidence: 0.5, NewFieldCount: 1, NewURLCount: 1}}, nil
	}
	needFn := func(provenance map[string]FieldProvenance) []NeedRow {
		return []NeedRow{{FieldKey: "battery_capacity_wh", TierGap: true, RequiredLevel: "required"}}
	}
	res := RunConvergenceLoop(context.Background(), Params{
		RunProductFn: runFn, ComputeNeedSetFn: needFn, JobID: "p1", StopConfig: DefaultStopConfig(),
	})
	if res.StopReason != StopComplete {
		t.Fatalf("expected complete, got %s", res.StopReason)
	}
	// Round 2's context should carry the dispatched query built from round 1's NeedSet.
	if len(res.Rounds) < 2 {
		t.Fatalf("expected at least 2 rounds, got %d", len(res.Rounds))
	}
	if len(res.Rounds[1].Context.ExtraQueries) != 1 {
		t.Errorf("expected 1 dispatched query in round 2, got %+v", res.Rounds[1].Context.ExtraQueries)
	}
}

func TestBuildDispatchCapsAtMaxDispatch(t *testing.T) {
	rows := []NeedRow{
		{FieldKey: "a", TierGap: true}, {FieldKey: "b", TierGap: true}, {FieldKey: "c", TierGap: true},
	}
	d := buildDispatch(rows, map[string]issuedQuery{}, 2)
	if len(d.ExtraQueries) != 2 {
		t.Errorf("expected 2 queries (capped), got %d", len(d.ExtraQueries))
	}
}

func TestBuildRoundConfigDisablesDiscoveryWhenNoMissingRequired(t *testing.T) {
	rc := BuildRoundConfig(BaseConfig{DiscoveryEnabled: true, MaxURLsPerProduct: 40, MaxCandidateURLs: 200, DuckDuckGoEnabled: true},
		RoundState{Round: 1, MissingRequiredCount: 0, MissingExpectedCount: 2})
	if rc.DiscoveryEnabled {
		t.Error("expected discovery disabled when no required fields are missing")
	}
	if rc.SearchProvider != "none" {
		t.Errorf("SearchProvider = %q, want none", rc.SearchProvider)
	}
	if rc.MaxURLsPerProduct != 20 {
		t.Errorf("MaxURLsPerProduct = %d, want 20 (halved)", rc.MaxURLsPerProduct)
	}
	if !rc.AllowExpectedPass {
		t.Error("expected one expected-field search pass to be allowed")
	}
}

func TestBuildRoundConfigSelectsDualProviderWhenBothConfigured(t *testing.T) {
	rc := BuildRoundConfig(BaseConfig{
		BingConfigured: true, SearxngConfigured: true, DuckDuckGoEnabled: true,
	}, RoundState{Round: 1, MissingRequiredCount: 1})
	if rc.SearchProvider != "dual" {
		t.Errorf("SearchProvider = %q, want dual", rc.SearchProvider)
	}
}

func TestBuildRoundConfigRound0UsesFastProfile(t *testing.T) {
	rc := BuildRoundConfig(BaseConfig{LLMMaxCallsPerRound: 10}, RoundState{Round: 0})
	if rc.LLMMaxCallsPerRound != fastProfileLLMCap {
		t.Errorf("LLMMaxCallsPerRound = %d, want %d on round 0", rc.LLMMaxCallsPerRound, fastProfileLLMCap)
	}
}

func TestBuildRoundConfigEscalatesFromAggressiveRound(t *testing.T) {
	rc := BuildRoundConfig(BaseConfig{
		MaxURLsPerProduct: 10, MaxCandidateURLs: 50, LLMMaxCallsPerRound: 4, AggressiveThoroughFromRound: 4,
	}, RoundState{Round: 4, MissingRequiredCount: 1})
	if rc.MaxURLsPerProduct != 20 || rc.MaxCandidateURLs != 100 || rc.LLMMaxCallsPerRound != 8 {
		t.Errorf("expected doubled caps at aggressive round, got %+v", rc)
	}
}

func TestShouldForceExpectedFieldRetryRequiresAllExpectedNotFound(t *testing.T) {
	allExpected := []MissingField{
		{FieldKey: "a", RequiredLevel: "expected", Reason: ReasonNotFoundAfterSearch},
		{FieldKey: "b", RequiredLevel: "expected", Reason: ReasonNotFoundAfterSearch},
	}
	if !ShouldForceExpectedFieldRetry(allExpected) {
		t.Error("expected force-retry when all missing fields are expected/not_found_after_search")
	}

	mixed := append(allExpected, MissingField{FieldKey: "c", RequiredLevel: "required", Reason: ReasonNotFoundAfterSearch})
	if ShouldForceExpectedFieldRetry(mixed) {
		t.Error("expected no force-retry when a non-expected field is missing")
	}

	budgetExhausted := []MissingField{{FieldKey: "a", RequiredLevel: "expected", Reason: ReasonBudgetExhausted}}
	if ShouldForceExpectedFieldRetry(budgetExhausted) {
		t.Error("expected no force-retry on budget_exhausted")
	}
}
