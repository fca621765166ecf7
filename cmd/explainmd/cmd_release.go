// This file implements the release-gate evaluator: a set of hard
// pass/fail thresholds a tree must clear before release (spec §6:
// schemaVersion "release-gate 1.0.0").
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
)

var releaseFlags *evalreport.CommonFlags

var (
	releaseMaxViolationRate    float64
	releaseMinEvidenceCoverage float64
	releaseMaxDepth            int
)

var releaseGateCmd = &cobra.Command{
	Use:   "release-gate",
	Short: "Gate a release on hard quality thresholds",
	Long: `Loads a built tree from --include and fails (exit 2) if any threshold
is violated: --max-violation-rate, --min-evidence-coverage, --max-depth.
--write-baseline records the passing run's metrics for drift tracking by
quality-harness; it does not change gating behavior.`,
	RunE: runReleaseGate,
}

func init() {
	releaseFlags = registerEvaluatorFlags(releaseGateCmd)
	releaseGateCmd.Flags().Float64Var(&releaseMaxViolationRate, "max-violation-rate", 0.0, "Maximum allowed policy-violation rate across parents")
	releaseGateCmd.Flags().Float64Var(&releaseMinEvidenceCoverage, "min-evidence-coverage", 1.0, "Minimum required evidence-ref coverage across parents")
	releaseGateCmd.Flags().IntVar(&releaseMaxDepth, "max-depth", 0, "Maximum allowed tree depth (0 = unbounded)")
}

func runReleaseGate(cmd *cobra.Command, args []string) error {
	if releaseFlags.Include == "" {
		return fmt.Errorf("release-gate: --include <tree.json> is required")
	}
	t, err := loadTreeFile(releaseFlags.Include)
	if err != nil {
		return err
	}
	metrics := qualityMetrics(t)

	var violations []evalreport.Violation
	if metrics["violationRate"] > releaseMaxViolationRate {
		violations = append(violations, evalreport.Violation{
			Code:    "violation_rate_exceeded",
			Message: fmt.Sprintf("violationRate %.4f exceeds max %.4f", metrics["violationRate"], releaseMaxViolationRate),
		})
	}
	if metrics["evidenceCoverage"] < releaseMinEvidenceCoverage {
		violations = append(violations, evalreport.Violation{
			Code:    "evidence_coverage_below_minimum",
			Message: fmt.Sprintf("evidenceCoverage %.4f below minimum %.4f", metrics["evidenceCoverage"], releaseMinEvidenceCoverage),
		})
	}
	if releaseMaxDepth > 0 && int(metrics["maxDepth"]) > releaseMaxDepth {
		violations = append(violations, evalreport.Violation{
			Code:    "max_depth_exceeded",
			Message: fmt.Sprintf("maxDepth %d exceeds limit %d", int(metrics["maxDepth"]), releaseMaxDepth),
		})
	}

	report := evalreport.Report{
		SchemaVersion: evalreport.SchemaVersion,
		Evaluator:     "release-gate",
		Pass:          len(violations) == 0,
		Metrics:       metrics,
		Violations:    violations,
	}
	if err := evalreport.WriteReport(releaseFlags.Out, report); err != nil {
		return err
	}

	if releaseFlags.WriteBaseline && report.Pass {
		if err := evalreport.WriteBaseline(releaseFlags.Baseline, "release-gate", metrics); err != nil {
			return err
		}
	}

	if !report.Pass {
		return evalreport.ErrThresholdMismatch
	}
	return nil
}
