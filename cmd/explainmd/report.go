package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
)

// registerEvaluatorFlags wires spec §6's four common evaluator flags onto
// cmd and returns the bound struct.
func registerEvaluatorFlags(cmd *cobra.Command) *evalreport.CommonFlags {
	f := &evalreport.CommonFlags{}
	cmd.Flags().StringVar(&f.Out, "out", "", "Report output path (default: stdout)")
	cmd.Flags().StringVar(&f.Baseline, "baseline", "", "Baseline JSON path to diff current metrics against")
	cmd.Flags().BoolVar(&f.WriteBaseline, "write-baseline", false, "Write current metrics as the new baseline instead of diffing")
	cmd.Flags().StringVar(&f.Include, "include", "", "Evaluator-specific input path")
	return f
}

// exitCodeFor maps an evaluator's returned error to spec §6's exit codes:
// 0 success, 1 internal error, 2 threshold/baseline mismatch.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, evalreport.ErrThresholdMismatch) {
		return 2
	}
	return 1
}
