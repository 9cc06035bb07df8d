package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CdubVentures/spec-harvester-sub001/internal/config"
	"github.com/CdubVentures/spec-harvester-sub001/internal/contract"
	"github.com/CdubVentures/spec-harvester-sub001/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub001/internal/extract"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier/frontieropen"
	"github.com/CdubVentures/spec-harvester-sub001/internal/gate"
	"github.com/CdubVentures/spec-harvester-sub001/internal/identity"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub001/internal/needset"
	"github.com/CdubVentures/spec-harvester-sub001/internal/parsing"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/fetchrod"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/ids"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/reasoninggenai"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/storagefs"
	"github.com/CdubVentures/spec-harvester-sub001/internal/retriever"
	"github.com/CdubVentures/spec-harvester-sub001/internal/scheduler"
)

var (
	runContractPath string
	runBrand        string
	runModel        string
	runProductID    string
	runSeedURLs     []string
	runMode         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest one product to convergence",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runContractPath, "contract", "c", "", "Path to the category's compiled contract JSON (required)")
	runCmd.Flags().StringVar(&runBrand, "brand", "", "Product brand (required)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Product model (required)")
	runCmd.Flags().StringVar(&runProductID, "product-id", "", "Product identifier (default: brand+model, slugified)")
	runCmd.Flags().StringArrayVar(&runSeedURLs, "seed-url", nil, "A known-good URL to fetch before discovery runs (repeatable)")
	runCmd.Flags().StringVar(&runMode, "mode", string(scheduler.ModeStandard), "Scheduler dispatch mode: standard, aggressive, thorough")
	_ = runCmd.MarkFlagRequired("contract")
	_ = runCmd.MarkFlagRequired("brand")
	_ = runCmd.MarkFlagRequired("model")
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func runRun(cmd *cobra.Command, args []string) error {
	productID := runProductID
	if productID == "" {
		productID = slugify(runBrand + "-" + runModel)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("starting convergence run",
		zap.String("product_id", productID), zap.String("brand", runBrand), zap.String("model", runModel))

	deps, err := buildProductDeps(ctx, productID)
	if err != nil {
		emitEvent(logging.EventProductFailed, productID, map[string]interface{}{"error": err.Error(), "stage": "setup"})
		return err
	}
	defer deps.Close()

	runFn := buildRunProductFn(ctx, deps, productID)
	needFn := buildComputeNeedSetFn(deps)

	result := scheduler.RunConvergenceLoop(ctx, scheduler.Params{
		RunProductFn:     runFn,
		ComputeNeedSetFn: needFn,
		JobID:            productID,
		Mode:             scheduler.Mode(runMode),
		StopConfig:       stopConfigFromCfg(cfg),
		IdentityFn: func() scheduler.IdentityContext {
			return scheduler.IdentityContext{Validated: deps.lastIdentity.Validated, Certainty: deps.lastIdentity.Certainty}
		},
		Fleet: fleetMonitor(productID),
	})

	logging.CLI("job %s: stopped after %d round(s), reason=%s, published=%v",
		productID, result.RoundCount, result.StopReason, deps.lastPublished)
	logger.Info("convergence run stopped",
		zap.String("product_id", productID), zap.Int("rounds", result.RoundCount),
		zap.String("reason", string(result.StopReason)), zap.Bool("published", deps.lastPublished))

	return publishResult(ctx, deps, productID, result)
}

// stopConfigFromCfg maps config.Config's convergence fields onto
// scheduler.StopConfig, which has no import of internal/config so the
// scheduler package stays testable without a config fixture.
func stopConfigFromCfg(c *config.Config) scheduler.StopConfig {
	sc := scheduler.DefaultStopConfig()
	if c == nil {
		return sc
	}
	sc.MaxRounds = c.ConvergenceMaxRounds
	sc.NoProgressLimit = c.ConvergenceNoProgressLimit
	sc.LowQualityConfidence = c.ConvergenceLowQualityConfidence
	sc.MaxLowQualityRounds = c.ConvergenceMaxLowQualityRounds
	sc.IdentityFailFastRounds = c.ConvergenceIdentityFailFastRounds
	sc.MaxDispatchQueries = c.ConvergenceMaxDispatchQueries
	return sc
}

// productDeps bundles one run's collaborators — opened once per
// product and closed when the run (or the relevant round) ends.
type productDeps struct {
	engine       *contract.Engine
	watcher      *contract.Watcher
	evidenceIdx  *evidence.Store
	frontierSt   frontier.Store
	storage      *storagefs.FS
	fetcher      platform.Fetcher
	reasoner     platform.Reasoner
	lastIdentity identity.Result
	lastPublished bool
}

func (d *productDeps) Close() {
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.evidenceIdx != nil {
		d.evidenceIdx.Close()
	}
	if d.frontierSt != nil {
		d.frontierSt.Close()
	}
	if closer, ok := d.fetcher.(interface{ Close() error }); ok && closer != nil {
		closer.Close()
	}
}

func buildProductDeps(ctx context.Context, productID string) (*productDeps, error) {
	d := &productDeps{}

	if _, err := os.Stat(runContractPath); err != nil {
		return nil, fmt.Errorf("contract %s: %w", runContractPath, err)
	}
	watcher, err := contract.WatchContract(runContractPath, "", func(e *contract.Engine) {
		d.engine = e
	})
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	d.watcher = watcher

	productRoot := filepath.Join(cfg.Workspace, cfg.LocalOutputRoot, "products", productID)
	storage, err := storagefs.New(productRoot)
	if err != nil {
		return nil, err
	}
	d.storage = storage

	evidenceIdx, err := evidence.Open(filepath.Join(productRoot, "evidence.db"))
	if err != nil {
		return nil, err
	}
	d.evidenceIdx = evidenceIdx

	frontierCfg := frontier.Config{
		QueryCooldown:       cfg.FrontierQueryCooldown(),
		Cooldown404:         time.Duration(cfg.FrontierCooldown404Seconds) * time.Second,
		Cooldown404Repeat:   time.Duration(cfg.FrontierCooldown404RepeatSeconds) * time.Second,
		Cooldown410:         time.Duration(cfg.FrontierCooldown410Seconds) * time.Second,
		Cooldown429Base:     time.Duration(cfg.FrontierCooldown429BaseSeconds) * time.Second,
		StripTrackingParams: cfg.FrontierStripTrackingParams,
	}
	frontierSt, err := frontieropen.Open(ctx, frontierCfg, storage, filepath.Join(productRoot, "frontier.db"), cfg.FrontierEnableSqlite)
	if err != nil {
		return nil, err
	}
	d.frontierSt = frontierSt

	d.fetcher = fetchrod.New(fetchrod.Config{
		Headless:             true,
		NavigationTimeoutMs:  cfg.PageGotoTimeoutMs,
		NetworkIdleTimeoutMs: cfg.PageNetworkIdleTimeoutMs,
	})

	if cfg.LLMEnabled {
		if apiKey := os.Getenv("GENAI_API_KEY"); apiKey != "" {
			reasoner, err := reasoninggenai.New(ctx, apiKey)
			if err != nil {
				logging.CLI("warning: LLM reasoning disabled, could not construct reasoner: %v", err)
			} else {
				d.reasoner = reasoner
			}
		}
	}

	return d, nil
}

// buildRunProductFn closes over one product's collaborators and
// implements one convergence round: fetch any not-yet-tried seed
// URLs, extract and index field facts, retrieve tier-ranked evidence
// per field, assert it into the contract engine's rule facts, run the
// Runtime Validation Gate, and report Progress.
func buildRunProductFn(ctx context.Context, d *productDeps, productID string) scheduler.RunProductFn {
	fetched := map[string]bool{}

	return func(rc scheduler.RoundContext) (scheduler.RoundResult, error) {
		if d.engine == nil {
			return scheduler.RoundResult{}, fmt.Errorf("contract engine not loaded")
		}

		if rc.Round == 0 {
			var mu sync.Mutex
			eg, egCtx := errgroup.WithContext(ctx)
			eg.SetLimit(4)
			for _, url := range runSeedURLs {
				mu.Lock()
				already := fetched[url]
				fetched[url] = true
				mu.Unlock()
				if already {
					continue
				}
				url := url
				eg.Go(func() error {
					if err := fetchAndIndex(egCtx, d, productID, url); err != nil {
						logging.CLI("seed fetch %s failed: %v", url, err)
					}
					return nil
				})
			}
			_ = eg.Wait()
		}

		fields := d.engine.Fields()
		provenance := map[string]scheduler.FieldProvenance{}
		gateFields := map[string]interface{}{}
		gateProvenance := map[string][]gate.EvidenceRef{}
		evidenceRules := map[string]gate.FieldEvidenceRule{}
		priorities := map[string]gate.Priority{}

		var sources []identity.Source
		missingRequired := 0
		contradictionCount := 0

		for _, f := range fields {
			requiredLevel := requiredLevelOf(f)
			evidenceRules[f.Name] = gate.FieldEvidenceRule{Required: f.Required, MinEvidenceRefs: 1}
			priorities[f.Name] = gate.Priority{RequiredLevel: requiredLevel, Effort: f.PassTargetConf}

			facts, err := d.evidenceIdx.GetFactsForField(ctx, f.Name)
			if err != nil {
				logging.CLI("get facts for %s: %v", f.Name, err)
				continue
			}
			hits := factsToHits(facts)

			result := retriever.BuildTierAwareFieldRetrieval(ctx, retriever.Params{
				FieldKey:     f.Name,
				NeedRow:      retriever.NeedRow{FieldKey: f.Name, TierPreference: d.engine.TierPreference(), MinRefs: 1},
				EvidencePool: hits,
				MaxHits:      5,
			})

			best, ok := bestHit(result.Hits)
			if !ok {
				if f.Required {
					missingRequired++
				}
				continue
			}

			gateFields[f.Name] = best.Quote
			gateProvenance[f.Name] = []gate.EvidenceRef{{
				URL: best.URL, SnippetID: best.SnippetID, SnippetHash: best.SnippetID, Quote: best.Quote,
			}}
			provenance[f.Name] = scheduler.FieldProvenance{
				Confidence: best.Score, BestTier: int(best.Tier), RequiredLevel: requiredLevel, PassTarget: f.PassTargetConf,
			}

			if err := d.engine.Rules().AddFact("field_value", f.Name, best.Quote); err != nil {
				logging.CLI("assert field_value(%s): %v", f.Name, err)
			}
		}

		gateResult := gate.ApplyRuntimeFieldRules(gate.Params{
			Engine:        d.engine,
			Fields:        gateFields,
			Provenance:    gateProvenance,
			EvidenceRules: evidenceRules,
			Priorities:    priorities,
			PublishMode:   gate.PublishRequiredComplete,
		})
		contradictionCount = len(gateResult.Failures)
		d.lastPublished = gateResult.Published

		idResult := identity.Evaluate(sources)
		d.lastIdentity = idResult

		confidence := 0.0
		if len(provenance) > 0 {
			for _, p := range provenance {
				confidence += p.Confidence
			}
			confidence /= float64(len(provenance))
		}

		progress := scheduler.Progress{
			MissingRequiredCount: missingRequired,
			ContradictionCount:   contradictionCount,
			Confidence:           confidence,
			Validated:            gateResult.Published && missingRequired == 0,
			NewFieldCount:        len(gateFields),
		}

		return scheduler.RoundResult{Progress: progress, Provenance: provenance}, nil
	}
}

func requiredLevelOf(f contract.FieldContract) string {
	switch {
	case f.Critical:
		return "critical"
	case f.Required:
		return "required"
	default:
		return "optional"
	}
}

func factsToHits(facts []evidence.FieldFact) []retriever.Hit {
	hits := make([]retriever.Hit, 0, len(facts))
	for _, f := range facts {
		hits = append(hits, retriever.Hit{
			URL: f.URL, SnippetID: f.SnippetID, Tier: f.Tier,
			ExtractionMethod: f.ExtractionMethod, Score: f.Score, Quote: f.RawValue,
		})
	}
	return hits
}

func bestHit(hits []retriever.Hit) (retriever.Hit, bool) {
	if len(hits) == 0 {
		return retriever.Hit{}, false
	}
	return hits[0], true
}

func fetchAndIndex(ctx context.Context, d *productDeps, productID, url string) error {
	if skip, reason := d.frontierSt.ShouldSkipURL(url); skip {
		logging.CLI("skip %s: %s", url, reason)
		return nil
	}

	res, err := d.fetcher.Fetch(ctx, platform.FetchRequest{URL: url, Timeout: cfg.PageGotoTimeout()})
	if err != nil {
		_ = d.frontierSt.RecordFetch(productID, url, -1, 0)
		return err
	}
	if err := d.frontierSt.RecordQuery(productID, url); err != nil {
		logging.CLI("record query: %v", err)
	}

	contentHash := ids.ContentHash(res.Bytes)
	doc := evidence.Document{
		DocID: ids.DocumentID(contentHash, parsing.ParserVersion), URL: url,
		Tier: tierForURL(url), ContentHash: contentHash, PageContentHash: res.PageContentHash,
		ParserVersion: parsing.ParserVersion, FetchedAt: time.Now().Unix(),
	}
	indexed, err := d.evidenceIdx.IndexDocument(ctx, doc)
	if err != nil {
		return err
	}
	doc.DocID = indexed.DocID

	if indexed.DedupeOutcome == evidence.DedupeReused {
		logging.CLI("fetch %s: content unchanged since last index, skipping chunk/fact reindex", url)
		fieldsFound := 0
		if err := d.frontierSt.RecordFetch(productID, url, res.Status, fieldsFound); err != nil {
			logging.CLI("record fetch: %v", err)
		}
		return nil
	}

	parsed, err := parsing.Parse(string(res.Bytes))
	if err != nil {
		return err
	}

	var snippets []evidence.Snippet
	snippetIDFor := func(chunkIdx int) string { return ids.SnippetID(contentHash, parsing.ParserVersion, chunkIdx) }
	for _, c := range parsed.Chunks {
		snippets = append(snippets, evidence.Snippet{
			SnippetID: snippetIDFor(c.Index), DocID: indexed.DocID, ChunkIdx: c.Index,
			Kind: string(c.Kind), Text: c.Text, Key: c.Key, Value: c.Value,
		})
	}
	if len(snippets) > 0 {
		if err := d.evidenceIdx.IndexSnippets(ctx, snippets); err != nil {
			return err
		}
	}

	facts := extract.FromDocument(doc, parsed.Chunks, d.engine.Fields(), snippetIDFor)
	if len(facts) > 0 {
		if err := d.evidenceIdx.IndexFieldFacts(ctx, facts); err != nil {
			return err
		}
	}

	fieldsFound := len(facts)
	if err := d.frontierSt.RecordFetch(productID, url, res.Status, fieldsFound); err != nil {
		logging.CLI("record fetch: %v", err)
	}
	return nil
}

func tierForURL(rawURL string) evidence.Tier {
	// Manufacturer-domain classification belongs to the discovery
	// component, which is out of scope for a single seeded run; every
	// seed URL is conservatively treated as non-manufacturer until
	// discovery assigns a tier from its source catalog.
	return evidence.TierOther
}

func buildComputeNeedSetFn(d *productDeps) scheduler.ComputeNeedSetFn {
	return func(provenance map[string]scheduler.FieldProvenance) []scheduler.NeedRow {
		if d.engine == nil {
			return nil
		}
		prov := map[string]needset.ProvenanceEntry{}
		rules := map[string]needset.FieldRule{}
		var order []string
		for _, f := range d.engine.Fields() {
			order = append(order, f.Name)
			p := provenance[f.Name]
			prov[f.Name] = needset.ProvenanceEntry{Confidence: p.Confidence, BestTier: p.BestTier, HasConflict: p.HasConflict}
			rules[f.Name] = needset.FieldRule{RequiredLevel: requiredLevelOf(f), PassTarget: f.PassTargetConf}
		}

		rows := needset.Compute(needset.Params{FieldOrder: order, Provenance: prov, FieldRules: rules})
		out := make([]scheduler.NeedRow, 0, len(rows))
		for _, r := range rows {
			tierGap := false
			for _, reason := range r.Reasons {
				if reason == needset.ReasonTierPrefUnmet {
					tierGap = true
				}
			}
			out = append(out, scheduler.NeedRow{FieldKey: r.FieldKey, NeedScore: r.NeedScore, TierGap: tierGap, RequiredLevel: rules[r.FieldKey].RequiredLevel})
		}
		return out
	}
}

func publishResult(ctx context.Context, d *productDeps, productID string, result scheduler.RunResult) error {
	key := d.storage.ResolveOutputKey(productID, "spec.json")
	payload := map[string]interface{}{
		"product_id":  productID,
		"round_count": result.RoundCount,
		"stop_reason": result.StopReason,
		"complete":    result.Complete,
		"published":   d.lastPublished,
		"fields":      result.FinalResult.Provenance,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := d.storage.WriteObject(ctx, key, data, "application/json"); err != nil {
		return err
	}
	if d.lastPublished {
		emitEvent(logging.EventSpecPublished, productID, map[string]interface{}{"key": key})
	}
	return nil
}

// emitEvent appends one lifecycle event to the run's NDJSON stream, a
// no-op if the sink failed to open. Used for events the scheduler
// package has no way to know about (setup failures before the
// convergence loop starts, and the publish step that runs after it).
func emitEvent(evtType logging.RunEventType, productID string, fields map[string]interface{}) {
	if eventSink == nil {
		return
	}
	fields["run_id"] = runID
	_ = eventSink.Emit(time.Now(), evtType, productID, fields)
}

// fleetMonitor builds the per-product lifecycle-event recorder passed
// into scheduler.Params, or nil if the event sink never opened.
func fleetMonitor(productID string) *scheduler.FleetMonitor {
	if eventSink == nil {
		return nil
	}
	return scheduler.NewFleetMonitor(eventSink, runID, productID)
}
