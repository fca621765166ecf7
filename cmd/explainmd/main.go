// Package main implements the explainmd CLI: the six evaluators (ingest,
// quality-harness, release-gate, summary-security, research-dossier, and
// the network-probing live-provider-check) plus build/verify/serve, wired
// over the internal/* core packages.
//
// This file is the entry point and command-registration hub, mirroring
// the teacher's cmd/nerd/main.go: rootCmd, global flags, init(), and a
// File Index comment pointing at the per-command files.
//
// # File Index
//
//   - main.go              - entry point, rootCmd, global flags, init()
//   - cmd_ingest.go        - ingestCmd: leaf-snapshot ingestion + --watch loop
//   - cmd_build.go         - buildCmd: tree build over the ingestion record
//   - cmd_verify.go        - verifyCmd family: verification ledger CLI
//   - cmd_serve.go         - serveCmd: verification HTTP surface
//   - cmd_quality.go       - qualityHarnessCmd
//   - cmd_release.go       - releaseGateCmd
//   - cmd_summary_security.go - summarySecurityCmd
//   - cmd_research.go      - researchDossierCmd
//   - cmd_live_check.go    - liveProviderCheckCmd
//   - report.go            - shared flag registration + evaluator exit-code mapping
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	cfgFile   string
	apiKey    string
	timeout   time.Duration

	// Loaded once in PersistentPreRunE, consumed by every subcommand.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "explainmd",
	Short: "explain.md - deterministic recursive explanation trees over verified theorem corpora",
	Long: `explainmd ingests a corpus of formally-verified theorem declarations and
builds a deterministic, content-addressed explanation tree: a bottom-up
hierarchy of natural-language summaries in which every internal node is
grounded in, and provably supported by, its children.

Run "explainmd <command> --help" for details on a specific evaluator or
pipeline stage.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		if err := logging.Initialize(ws, cfg.Logging.DebugMode || verbose, cfg.Logging.Level); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "explainmd.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Summarizer API key (or set the config-selected env var)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(
		ingestCmd,
		buildCmd,
		verifyCmd,
		serveCmd,
		qualityHarnessCmd,
		releaseGateCmd,
		summarySecurityCmd,
		researchDossierCmd,
		liveProviderCheckCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
