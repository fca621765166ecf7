// This file implements the quality-harness evaluator: structural and
// policy-compliance metrics over a built tree, diffed against a baseline
// (spec §6: schemaVersion "quality baseline 1.0.0").
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
	"github.com/Th0rgal/explain.md-sub002/internal/tree"
)

var qualityFlags *evalreport.CommonFlags

var qualityHarnessCmd = &cobra.Command{
	Use:   "quality-harness",
	Short: "Evaluate structural and policy-compliance metrics over a built tree",
	Long: `Loads a built tree from --include, computes branching/depth/policy
metrics, and either writes them as a new baseline (--write-baseline) or
diffs the current run against a previously saved --baseline, failing with
exit code 2 on regression beyond tolerance.`,
	RunE: runQualityHarness,
}

func init() {
	qualityFlags = registerEvaluatorFlags(qualityHarnessCmd)
}

func loadTreeFile(path string) (*tree.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", path, err)
	}
	var t tree.Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tree %s: %w", path, err)
	}
	return &t, nil
}

func qualityMetrics(t *tree.Tree) map[string]float64 {
	var parentCount, totalChildren, totalViolations, fullyEvidencedParents int
	for _, n := range t.Nodes {
		if n.IsLeaf {
			continue
		}
		parentCount++
		totalChildren += len(n.ChildIDs)

		childSet := make(map[string]bool, len(n.ChildIDs))
		for _, c := range n.ChildIDs {
			childSet[c] = true
		}
		coversAll := true
		for id := range childSet {
			found := false
			for _, ref := range n.EvidenceRefs {
				if ref == id {
					found = true
					break
				}
			}
			if !found {
				coversAll = false
				break
			}
		}
		if coversAll {
			fullyEvidencedParents++
		}
	}
	for _, diag := range t.PolicyDiagnosticsByParent {
		totalViolations += len(diag.PreViolations) + len(diag.PostViolations)
	}

	metrics := map[string]float64{
		"maxDepth":            float64(t.MaxDepth),
		"parentCount":         float64(parentCount),
		"avgBranchingFactor":  0,
		"violationRate":       0,
		"evidenceCoverage":    1,
	}
	if parentCount > 0 {
		metrics["avgBranchingFactor"] = evalreport.Round4(float64(totalChildren) / float64(parentCount))
		metrics["violationRate"] = evalreport.Round4(float64(totalViolations) / float64(parentCount))
		metrics["evidenceCoverage"] = evalreport.Round4(float64(fullyEvidencedParents) / float64(parentCount))
	}
	return metrics
}

func runQualityHarness(cmd *cobra.Command, args []string) error {
	if qualityFlags.Include == "" {
		return fmt.Errorf("quality-harness: --include <tree.json> is required")
	}
	t, err := loadTreeFile(qualityFlags.Include)
	if err != nil {
		return err
	}
	metrics := qualityMetrics(t)

	if qualityFlags.WriteBaseline {
		return evalreport.WriteBaseline(qualityFlags.Baseline, "quality-harness", metrics)
	}

	baseline, err := evalreport.LoadBaseline(qualityFlags.Baseline)
	if err != nil {
		return err
	}
	violations := evalreport.CompareAgainstBaseline(metrics, baseline,
		map[string]float64{"violationRate": 0.02, "evidenceCoverage": 0.02},
		0.1,
		map[string]bool{"violationRate": true, "evidenceCoverage": false},
	)

	report := evalreport.Report{
		SchemaVersion: evalreport.SchemaVersion,
		Evaluator:     "quality-harness",
		Pass:          len(violations) == 0,
		Metrics:       metrics,
	}
	for _, v := range violations {
		report.Violations = append(report.Violations, v)
	}
	if err := evalreport.WriteReport(qualityFlags.Out, report); err != nil {
		return err
	}
	if !report.Pass {
		return evalreport.ErrThresholdMismatch
	}
	return nil
}
