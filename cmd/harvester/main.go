// Package main implements the harvester CLI.
//
// File index:
//   - main.go       - entry point, rootCmd, global flags, init()
//   - cmd_run.go    - run: harvest one product to convergence
//   - cmd_batch.go  - batch: bandit-ordered harvest across a product list
//   - cmd_inspect.go - inspect: dump evidence/frontier state for a product
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CdubVentures/spec-harvester-sub001/internal/config"
	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

var (
	configPath string
	workspace  string
	verbose    bool

	cfg *config.Config

	// logger is the structured CLI-output logger, distinct from the
	// internal/logging file categories: it reports round-by-round
	// progress to the operator's terminal, while logging.* writes the
	// durable per-category log files under the workspace.
	logger *zap.Logger

	// eventSink records the invocation's lifecycle as NDJSON, independent
	// of the zap/file loggers above.
	eventSink *logging.EventSink

	// runID identifies this invocation in the event stream, the same
	// way a campaign ID ties together one assault's events.
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Contract-driven specification harvester",
	Long: `harvester crawls public sources for a product identity, extracts
typed field values against a category's field contract, resolves
component references, and publishes a validated, provenance-annotated
spec sheet.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if workspace != "" {
			loaded.Workspace = workspace
		}
		if verbose {
			loaded.DebugMode = true
			loaded.LogLevel = "debug"
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var zerr error
		logger, zerr = zapCfg.Build()
		if zerr != nil {
			return fmt.Errorf("initialize logger: %w", zerr)
		}

		if err := logging.Initialize(cfg.Workspace, cfg.DebugMode, cfg.LogLevel, cfg.LogJSON); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize logging: %v\n", err)
		}

		runID = uuid.New().String()[:8]
		sink, err := logging.NewEventSink(cfg.Workspace)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to open event sink: %v\n", err)
		} else {
			eventSink = sink
			_ = eventSink.Emit(time.Now(), logging.EventRunStarted, "", map[string]interface{}{
				"run_id": runID, "command": cmd.Name(),
			})
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eventSink != nil {
			_ = eventSink.Emit(time.Now(), logging.EventRunFinished, "", map[string]interface{}{"run_id": runID})
			_ = eventSink.Close()
		}
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "harvester.yaml", "Path to the harvester config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd, batchCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
