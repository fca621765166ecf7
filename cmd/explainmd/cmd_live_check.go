// This file implements the live-provider-check evaluator: the one place
// this module makes live network calls and runs them concurrently (spec
// §5 keeps the core single-threaded; SPEC_FULL.md's domain stack carves
// this evaluator out as the explicit exception). Concurrency is grounded
// on golang.org/x/sync/errgroup; this file is its only user in the module.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
	"github.com/Th0rgal/explain.md-sub002/internal/summary"
)

var liveCheckFlags *evalreport.CommonFlags
var liveCheckEndpoints []string
var liveCheckMaxFailures int

var liveProviderCheckCmd = &cobra.Command{
	Use:   "live-provider-check",
	Short: "Probe configured summarizer provider endpoints concurrently",
	Long: `Sends one minimal real completion request to each --endpoint (or to
the single endpoint from config if none is given), concurrently via an
errgroup, and reports per-endpoint latency and success. This is the only
evaluator that performs live network I/O; it exists to catch provider
outages or credential problems before a build is attempted. Fails (exit
2) when more than --max-failures endpoints are unreachable or error.`,
	RunE: runLiveProviderCheck,
}

func init() {
	liveCheckFlags = registerEvaluatorFlags(liveProviderCheckCmd)
	liveProviderCheckCmd.Flags().StringArrayVar(&liveCheckEndpoints, "endpoint", nil, "Provider endpoint to probe (repeatable; defaults to the configured endpoint)")
	liveProviderCheckCmd.Flags().IntVar(&liveCheckMaxFailures, "max-failures", 0, "Maximum tolerated endpoint failures")
}

type providerProbeResult struct {
	Endpoint   string `json:"endpoint"`
	Ok         bool   `json:"ok"`
	LatencyMs  int64  `json:"latencyMs"`
	Error      string `json:"error,omitempty"`
}

func probeEndpoint(ctx context.Context, baseCfg *config.Config, endpoint, key string) providerProbeResult {
	cfgCopy := *baseCfg
	cfgCopy.ModelProvider.Endpoint = endpoint

	start := time.Now()
	port, err := summary.NewGenAIPort(ctx, &cfgCopy, key)
	if err != nil {
		return providerProbeResult{Endpoint: endpoint, Ok: false, Error: err.Error()}
	}

	probeReq := summary.Request{
		Messages: []summary.Message{
			{Role: "system", Content: "Respond with the single word: ok"},
			{Role: "user", Content: "ping"},
		},
		Model:           baseCfg.ModelProvider.Model,
		Temperature:     0,
		MaxOutputTokens: 8,
	}
	_, err = port.Complete(ctx, probeReq)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return providerProbeResult{Endpoint: endpoint, Ok: false, LatencyMs: elapsed, Error: err.Error()}
	}
	return providerProbeResult{Endpoint: endpoint, Ok: true, LatencyMs: elapsed}
}

func runLiveProviderCheck(cmd *cobra.Command, args []string) error {
	endpoints := liveCheckEndpoints
	if len(endpoints) == 0 {
		if cfg.ModelProvider.Endpoint == "" {
			return fmt.Errorf("live-provider-check: no --endpoint given and no model_provider.endpoint configured")
		}
		endpoints = []string{cfg.ModelProvider.Endpoint}
	}

	key := apiKey
	if key == "" && cfg.ModelProvider.APIKeyEnvVar != "" {
		key = os.Getenv(cfg.ModelProvider.APIKeyEnvVar)
	}
	if key == "" {
		return fmt.Errorf("live-provider-check: no API key resolvable (--api-key or %s)", cfg.ModelProvider.APIKeyEnvVar)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results := make([]providerProbeResult, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = probeEndpoint(gctx, cfg, ep, key)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Endpoint < results[j].Endpoint })

	var failures int
	var totalLatency int64
	var violations []evalreport.Violation
	for _, r := range results {
		if !r.Ok {
			failures++
			violations = append(violations, evalreport.Violation{
				Code:    "endpoint_unreachable",
				Message: fmt.Sprintf("%s: %s", r.Endpoint, r.Error),
			})
		}
		totalLatency += r.LatencyMs
	}

	metrics := map[string]float64{
		"endpointCount":   float64(len(endpoints)),
		"failureCount":    float64(failures),
		"avgLatencyMs":    0,
	}
	if len(endpoints) > 0 {
		metrics["avgLatencyMs"] = evalreport.Round4(float64(totalLatency) / float64(len(endpoints)))
	}

	pass := failures <= liveCheckMaxFailures
	report := evalreport.Report{
		SchemaVersion: evalreport.SchemaVersion,
		Evaluator:     "live-provider-check",
		Pass:          pass,
		Metrics:       metrics,
		Violations:    violations,
	}
	if err := evalreport.WriteReport(liveCheckFlags.Out, report); err != nil {
		return err
	}
	if !pass {
		return evalreport.ErrThresholdMismatch
	}
	return nil
}
