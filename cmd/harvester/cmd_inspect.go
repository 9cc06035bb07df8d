package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CdubVentures/spec-harvester-sub001/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier/frontieropen"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/storagefs"
)

var (
	inspectProductID string
	inspectField     string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump evidence/frontier state for a product",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectProductID, "product-id", "p", "", "Product identifier (required)")
	inspectCmd.Flags().StringVar(&inspectField, "field", "", "Show supporting facts for one field instead of the inventory summary")
	_ = inspectCmd.MarkFlagRequired("product-id")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	productRoot := filepath.Join(cfg.Workspace, cfg.LocalOutputRoot, "products", inspectProductID)

	evidenceIdx, err := evidence.Open(filepath.Join(productRoot, "evidence.db"))
	if err != nil {
		return fmt.Errorf("open evidence index: %w", err)
	}
	defer evidenceIdx.Close()

	storage, err := storagefs.New(productRoot)
	if err != nil {
		return err
	}
	frontierCfg := frontier.Config{
		QueryCooldown:       cfg.FrontierQueryCooldown(),
		StripTrackingParams: cfg.FrontierStripTrackingParams,
	}
	frontierSt, err := frontieropen.Open(ctx, frontierCfg, storage, filepath.Join(productRoot, "frontier.db"), cfg.FrontierEnableSqlite)
	if err != nil {
		return fmt.Errorf("open frontier store: %w", err)
	}
	defer frontierSt.Close()

	snap := frontierSt.SnapshotForProduct(inspectProductID)
	fmt.Printf("product: %s\n", inspectProductID)
	fmt.Printf("frontier: %d quer(ies), %d url(s), %d field(s) yielded\n", snap.QueryCount, snap.URLCount, snap.FieldYield)

	if inspectField != "" {
		facts, err := evidenceIdx.GetFactsForField(ctx, inspectField)
		if err != nil {
			return fmt.Errorf("get facts for %s: %w", inspectField, err)
		}
		fmt.Printf("field %s: %d fact(s)\n", inspectField, len(facts))
		for _, f := range facts {
			fmt.Printf("  tier=%d method=%s score=%.2f url=%s value=%q\n", f.Tier, f.ExtractionMethod, f.Score, f.URL, f.RawValue)
		}
		return nil
	}

	inv, err := evidenceIdx.GetEvidenceInventory(ctx)
	if err != nil {
		return fmt.Errorf("get evidence inventory: %w", err)
	}
	fmt.Printf("evidence: %d document(s), %d snippet(s)\n", inv.DocumentCount, inv.SnippetCount)
	for field, n := range inv.FieldCoverage {
		fmt.Printf("  %s: %d supporting fact(s)\n", field, n)
	}
	return nil
}
