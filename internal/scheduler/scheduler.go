package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// Params bundles runConvergenceLoop's inputs.
type Params struct {
	RunProductFn     RunProductFn
	ComputeNeedSetFn ComputeNeedSetFn
	JobID            string
	Mode             Mode
	StopConfig       StopConfig
	IdentityFn       func() IdentityContext // polled after each round; nil disables the identity_gate_stuck check
	Fleet            *FleetMonitor          // optional; nil-safe, records lifecycle events onto the event log
}

// issuedQuery dedups dispatched queries across rounds within one
// product run — per spec §9, query dedup is within-product only.
type issuedQuery struct{}

// RunConvergenceLoop implements runConvergenceLoop: it drives rounds
// until one of the six ordered stop conditions fires.
func RunConvergenceLoop(ctx context.Context, p Params) RunResult {
	issued := map[string]issuedQuery{}
	seenURLCount, seenFieldCount := 0, 0

	var (
		rounds                []RoundRecord
		prevProgress          Progress
		havePrevProgress      bool
		noProgressStreak      int
		requiredExhaustedRuns int
		lowQualityRounds      int
		identityStuckRounds   int
		lastResult            RoundResult
	)

	roundCtx := RoundContext{Round: 0, Mode: p.Mode}
	p.Fleet.started(p.Mode)

	for round := 0; ; round++ {
		roundCtx.Round = round
		start := time.Now()

		result, err := p.RunProductFn(roundCtx)
		elapsed := time.Since(start)
		if err != nil {
			logging.SchedulerDebug("job %s round %d failed: %v", p.JobID, round, err)
			p.Fleet.failed(round, err)
		}
		rounds = append(rounds, RoundRecord{Context: roundCtx, Result: result, Elapsed: elapsed})
		lastResult = result

		progress := result.Progress
		improved := havePrevProgress && progress.Improved(prevProgress)
		if round == 0 {
			improved = true // no prior round to compare against
		}

		exhausted := progress.NewURLCount == 0 && progress.NewFieldCount == 0 && progress.MissingRequiredCount > 0
		if round == 0 {
			exhausted = false // no prior round's search effort to have exhausted yet
		}
		if exhausted {
			requiredExhaustedRuns++
		} else {
			requiredExhaustedRuns = 0
		}

		if improved {
			noProgressStreak = 0
		} else {
			noProgressStreak++
		}

		if progress.Confidence < p.StopConfig.LowQualityConfidence {
			lowQualityRounds++
		} else {
			lowQualityRounds = 0
		}

		if p.IdentityFn != nil {
			idc := p.IdentityFn()
			if !idc.Validated {
				identityStuckRounds++
			} else {
				identityStuckRounds = 0
			}
		}

		roundCount := round + 1
		p.Fleet.roundCompleted(round, progress)

		if reason, stopped := checkStopConditions(progress, roundCount, p.StopConfig,
			requiredExhaustedRuns, noProgressStreak, lowQualityRounds, identityStuckRounds); stopped {
			logging.SchedulerDebug("job %s stopped after round %d: %s", p.JobID, round, reason)
			result := RunResult{
				Rounds: rounds, FinalResult: lastResult, RoundCount: roundCount,
				Complete: reason == StopComplete, StopReason: reason,
			}
			p.Fleet.finished(result)
			return result
		}

		provenance := result.Provenance
		if len(provenance) == 0 {
			provenance = result.Summary
		}
		needRows := []NeedRow{}
		if p.ComputeNeedSetFn != nil {
			needRows = p.ComputeNeedSetFn(provenance)
		}
		dispatch := buildDispatch(needRows, issued, p.StopConfig.MaxDispatchQueries)
		for _, q := range dispatch.ExtraQueries {
			issued[q.Text] = issuedQuery{}
		}

		prevProgress = progress
		havePrevProgress = true
		seenURLCount += progress.NewURLCount
		seenFieldCount += progress.NewFieldCount

		roundCtx = RoundContext{
			Round:           round + 1,
			Mode:            p.Mode,
			LLMTargetFields: dispatch.LLMTargetFields,
			ExtraQueries:    dispatch.ExtraQueries,
			EscalatedFields: dispatch.EscalatedFields,
		}
	}
}

// checkStopConditions evaluates the six stop conditions in the exact
// priority order the spec names; the first match wins.
func checkStopConditions(progress Progress, roundCount int, cfg StopConfig,
	requiredExhaustedRuns, noProgressStreak, lowQualityRounds, identityStuckRounds int) (StopReason, bool) {

	if progress.Validated {
		return StopComplete, true
	}
	if roundCount >= cfg.MaxRounds {
		return StopMaxRoundsReached, true
	}
	if requiredExhaustedRuns >= cfg.RequiredSearchExhaustedLimit {
		return StopRequiredSearchExhausted, true
	}
	if noProgressStreak >= cfg.NoProgressLimit {
		return StopNoProgress, true
	}
	if lowQualityRounds >= cfg.MaxLowQualityRounds {
		return StopRepeatedLowQuality, true
	}
	if identityStuckRounds >= cfg.IdentityFailFastRounds {
		return StopIdentityGateStuck, true
	}
	return "", false
}

// buildDispatch derives the next round's dispatch from a fresh
// NeedSet, filtering out queries already issued in prior rounds and
// capping at maxDispatch.
func buildDispatch(rows []NeedRow, issued map[string]issuedQuery, maxDispatch int) Dispatch {
	if maxDispatch <= 0 {
		maxDispatch = 15
	}

	var llmTargets, escalated []string
	var queries []Query
	for _, row := range rows {
		if len(queries) >= maxDispatch {
			break
		}
		if row.TierGap {
			text := fmt.Sprintf("%s tier-deficient evidence", row.FieldKey)
			if _, already := issued[text]; already {
				continue
			}
			queries = append(queries, Query{Text: text, TargetFields: []string{row.FieldKey}})
		}
		if row.RequiredLevel == "critical" || row.RequiredLevel == "identity" {
			escalated = append(escalated, row.FieldKey)
		}
		llmTargets = append(llmTargets, row.FieldKey)
	}

	return Dispatch{LLMTargetFields: llmTargets, ExtraQueries: queries, EscalatedFields: escalated}
}
