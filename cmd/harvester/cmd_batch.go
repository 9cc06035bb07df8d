package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CdubVentures/spec-harvester-sub001/internal/bandit"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub001/internal/scheduler"
)

var (
	batchContractPath string
	batchListPath      string
	batchMode          string
)

// batchProduct is one row of the --list JSON file: a brand/model pair
// plus the same per-round signals bandit.Row scores on, refreshed
// from each product's own evidence/frontier state by a prior run.
type batchProduct struct {
	Brand             string `json:"brand"`
	Model             string `json:"model"`
	MissingCritical   bool   `json:"missing_critical"`
	BelowPass         bool   `json:"below_pass"`
	HasContradictions bool   `json:"has_contradictions"`
	HasHypotheses     bool   `json:"has_hypotheses"`
	Validated         bool   `json:"validated"`
	HighConfidence    bool   `json:"high_confidence"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Bandit-ordered harvest across a product list",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchContractPath, "contract", "c", "", "Path to the category's compiled contract JSON (required)")
	batchCmd.Flags().StringVarP(&batchListPath, "list", "l", "", "Path to a JSON file listing products to harvest (required)")
	batchCmd.Flags().StringVar(&batchMode, "bandit-mode", string(bandit.ModeBalanced), "Bandit mode: explore, exploit, balanced")
	_ = batchCmd.MarkFlagRequired("contract")
	_ = batchCmd.MarkFlagRequired("list")
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(batchListPath)
	if err != nil {
		return fmt.Errorf("read product list %s: %w", batchListPath, err)
	}
	var products []batchProduct
	if err := json.Unmarshal(data, &products); err != nil {
		return fmt.Errorf("parse product list %s: %w", batchListPath, err)
	}
	if len(products) == 0 {
		logging.CLI("batch: product list %s is empty, nothing to do", batchListPath)
		return nil
	}

	rows := make([]bandit.Row, len(products))
	byKey := make(map[string]batchProduct, len(products))
	for i, p := range products {
		key := slugify(p.Brand + "-" + p.Model)
		byKey[key] = p
		rows[i] = bandit.Row{
			ProductID: key, Brand: p.Brand, Key: key,
			MissingCritical: p.MissingCritical, BelowPass: p.BelowPass,
			HasContradictions: p.HasContradictions, HasHypotheses: p.HasHypotheses,
			Validated: p.Validated, HighConfidence: p.HighConfidence,
		}
	}

	ranked := bandit.Rank(bandit.Params{Mode: bandit.Mode(batchMode), Rows: rows})
	logging.CLI("batch: ranked %d product(s) in %s mode", len(ranked.OrderedKeys), batchMode)
	logger.Info("batch ranked", zap.Int("product_count", len(ranked.OrderedKeys)), zap.String("mode", batchMode))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var failures []string
	for _, key := range ranked.OrderedKeys {
		p := byKey[key]
		logging.CLI("batch: harvesting %s %s (product_id=%s)", p.Brand, p.Model, key)
		logger.Info("harvesting product", zap.String("product_id", key), zap.String("brand", p.Brand), zap.String("model", p.Model))

		runContractPath = batchContractPath
		runBrand = p.Brand
		runModel = p.Model
		runProductID = key
		runSeedURLs = nil
		runMode = string(scheduler.ModeStandard)

		deps, err := buildProductDeps(ctx, key)
		if err != nil {
			logging.CLI("batch: %s: %v", key, err)
			logger.Warn("product setup failed", zap.String("product_id", key), zap.Error(err))
			emitEvent(logging.EventProductFailed, key, map[string]interface{}{"error": err.Error(), "stage": "setup"})
			failures = append(failures, key)
			continue
		}
		runFn := buildRunProductFn(ctx, deps, key)
		needFn := buildComputeNeedSetFn(deps)
		result := scheduler.RunConvergenceLoop(ctx, scheduler.Params{
			RunProductFn: runFn, ComputeNeedSetFn: needFn, JobID: key,
			StopConfig: stopConfigFromCfg(cfg),
			IdentityFn: func() scheduler.IdentityContext {
				return scheduler.IdentityContext{Validated: deps.lastIdentity.Validated, Certainty: deps.lastIdentity.Certainty}
			},
			Fleet: fleetMonitor(key),
		})
		if err := publishResult(ctx, deps, key, result); err != nil {
			logging.CLI("batch: %s: publish failed: %v", key, err)
			failures = append(failures, key)
		}
		deps.Close()
	}

	if len(failures) > 0 {
		return fmt.Errorf("batch: %d product(s) failed: %v", len(failures), failures)
	}
	return nil
}
