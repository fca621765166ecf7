// This file implements the summary-security evaluator: a defense-in-depth
// sweep of a built tree's generated text for secret-like and
// prompt-injection-like patterns, reusing internal/summary.Sanitize's
// regex set (spec §4.7) rather than re-deriving it.
package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
	"github.com/Th0rgal/explain.md-sub002/internal/summary"
)

var summarySecurityFlags *evalreport.CommonFlags
var summarySecurityMaxRedactions int

var summarySecurityCmd = &cobra.Command{
	Use:   "summary-security",
	Short: "Scan a built tree's generated text for secret/injection patterns",
	Long: `Loads a built tree from --include and runs every non-leaf node's
statement and why_true_from_children text through the same
secret/prompt-injection pattern set the summary pipeline sanitizes child
input with (internal/summary.Sanitize), on the theory that a compromised
or adversarial summarizer could smuggle such content into its own output.
Fails (exit 2) when the redaction count exceeds --max-redactions.`,
	RunE: runSummarySecurity,
}

func init() {
	summarySecurityFlags = registerEvaluatorFlags(summarySecurityCmd)
	summarySecurityCmd.Flags().IntVar(&summarySecurityMaxRedactions, "max-redactions", 0, "Maximum tolerated secret/injection pattern matches")
}

func runSummarySecurity(cmd *cobra.Command, args []string) error {
	if summarySecurityFlags.Include == "" {
		return fmt.Errorf("summary-security: --include <tree.json> is required")
	}
	t, err := loadTreeFile(summarySecurityFlags.Include)
	if err != nil {
		return err
	}

	var violations []evalreport.Violation
	var totalSecrets, totalInstructions int

	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := t.Nodes[id]
		if n.IsLeaf {
			continue
		}
		for _, text := range []string{n.Statement, n.WhyTrueFromChildren} {
			_, counts := summary.Sanitize(text)
			if counts.RedactedSecrets > 0 || counts.RedactedInstructions > 0 {
				totalSecrets += counts.RedactedSecrets
				totalInstructions += counts.RedactedInstructions
				violations = append(violations, evalreport.Violation{
					Code:    "generated_text_flagged",
					Message: fmt.Sprintf("node %s: %d secret-like, %d injection-like match(es)", id, counts.RedactedSecrets, counts.RedactedInstructions),
				})
			}
		}
	}

	metrics := map[string]float64{
		"redactedSecrets":      float64(totalSecrets),
		"redactedInstructions": float64(totalInstructions),
		"flaggedNodeCount":     float64(len(violations)),
	}

	if summarySecurityFlags.WriteBaseline {
		return evalreport.WriteBaseline(summarySecurityFlags.Baseline, "summary-security", metrics)
	}

	pass := (totalSecrets + totalInstructions) <= summarySecurityMaxRedactions
	report := evalreport.Report{
		SchemaVersion: evalreport.SchemaVersion,
		Evaluator:     "summary-security",
		Pass:          pass,
		Metrics:       metrics,
		Violations:    violations,
	}
	if err := evalreport.WriteReport(summarySecurityFlags.Out, report); err != nil {
		return err
	}
	if !pass {
		return evalreport.ErrThresholdMismatch
	}
	return nil
}
