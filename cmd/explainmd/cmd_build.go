// This file implements the build pipeline stage: loads an ingestion
// record, constructs the leaf/prerequisite inputs, and drives
// internal/tree.Build with a Summarizer chosen from --offline or the
// configured live summarizer port, checking internal/cache first.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/cache"
	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/leaf"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
	"github.com/Th0rgal/explain.md-sub002/internal/summary"
	"github.com/Th0rgal/explain.md-sub002/internal/tree"
)

var (
	buildOut     string
	buildOffline bool
	buildNoCache bool
)

var buildCmd = &cobra.Command{
	Use:   "build --include <ingestion-record.json>",
	Short: "Build the explanation tree from an ingestion record",
	Long: `Loads the ingestion record produced by "explainmd ingest", builds the
recursive explanation tree (spec §4.8), and writes it to --out. The tree
cache (internal/cache) is consulted first unless --no-cache is set; a hit
short-circuits the build entirely.

--offline uses a deterministic, LM-free summarizer (internal/summary's
OfflineSummarizer) instead of calling the configured summarizer port.`,
	RunE: runBuild,
}

var buildInclude string

func init() {
	buildCmd.Flags().StringVar(&buildInclude, "include", "", "Path to the ingestion record JSON (required)")
	buildCmd.Flags().StringVar(&buildOut, "out", "", "Tree output path (default: stdout)")
	buildCmd.Flags().BoolVar(&buildOffline, "offline", false, "Use the deterministic offline summarizer instead of a live LM")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Skip the tree cache")
}

func loadIngestionRecord(path string) (ingestionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ingestionRecord{}, fmt.Errorf("read ingestion record %s: %w", path, err)
	}
	var rec ingestionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ingestionRecord{}, fmt.Errorf("parse ingestion record %s: %w", path, err)
	}
	return rec, nil
}

func buildPrereqsByID(leaves []leaf.Leaf) map[string][]string {
	known := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		known[l.ID] = true
	}
	prereqs := make(map[string][]string, len(leaves))
	for _, l := range leaves {
		var inLayer []string
		for _, dep := range l.DependencyIDs {
			if known[dep] {
				inLayer = append(inLayer, dep)
			}
		}
		prereqs[l.ID] = inLayer
	}
	return prereqs
}

func selectSummarizer(ctx context.Context) (tree.Summarizer, error) {
	if buildOffline {
		return summary.OfflineSummarizer{}, nil
	}

	key := apiKey
	envVar := cfg.ModelProvider.APIKeyEnvVar
	if key == "" && envVar != "" {
		key = os.Getenv(envVar)
	}
	if key == "" {
		logging.BootDebug("build: no summarizer API key configured, falling back to --offline mode")
		return summary.OfflineSummarizer{}, nil
	}

	port, err := summary.NewGenAIPort(ctx, cfg, key)
	if err != nil {
		return nil, fmt.Errorf("construct summarizer port: %w", err)
	}
	return summary.NewPortSummarizer(port, cfg), nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	if buildInclude == "" {
		return fmt.Errorf("build: --include <ingestion-record.json> is required")
	}

	rec, err := loadIngestionRecord(buildInclude)
	if err != nil {
		return err
	}
	if len(rec.Leaves) == 0 {
		return fmt.Errorf("build: ingestion record has no leaves")
	}

	configHash := config.ComputeConfigHash(cfg)
	cacheKey := config.CacheKey(rec.LeafSetHash, configHash, cfg)

	var store *cache.Store
	if !buildNoCache {
		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		store, err = cache.Open(ws)
		if err != nil {
			return fmt.Errorf("open tree cache: %w", err)
		}
		defer store.Close()

		if cached, err := store.Get(cacheKey); err == nil && cached != nil {
			logging.Boot("build: cache hit for %s", cacheKey)
			return writeTree(buildOut, cached)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summarizer, err := selectSummarizer(ctx)
	if err != nil {
		return err
	}

	prereqs := buildPrereqsByID(rec.Leaves)
	opts := tree.BuildOptions{
		MaxChildrenPerParent:   cfg.MaxChildrenPerParent,
		ComplexityBandWidth:    cfg.ComplexityBandWidth,
		TargetComplexity:       cfg.ComplexityLevel,
		TermIntroductionBudget: cfg.TermIntroductionBudget,
		AudienceLevel:          cfg.AudienceLevel,
		ProofDetailMode:        cfg.ProofDetailMode,
		EntailmentMode:         cfg.EntailmentMode,
		ConfigHash:             configHash,
	}

	t, err := tree.Build(rec.Leaves, prereqs, summarizer, opts)
	if err != nil {
		return fmt.Errorf("build tree: %w", err)
	}

	if store != nil {
		if err := store.Put(cacheKey, rec.LeafSetHash, configHash, cfg.Language, string(cfg.AudienceLevel), t); err != nil {
			logging.Get(logging.CategoryCache).Warn("build: failed to populate cache: %v", err)
		}
	}

	return writeTree(buildOut, t)
}

func writeTree(path string, t *tree.Tree) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
