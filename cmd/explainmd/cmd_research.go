// This file implements the research-dossier evaluator: a descriptive
// statistics report over a built tree (depth distribution, evidence ref
// totals, new-term introductions), informational rather than gating, with
// an optional --pretty Markdown rendering via charmbracelet/glamour
// (grounded on the teacher's TUI renderer construction in
// cmd/nerd/chat.go, repurposed here for one-shot terminal output instead
// of a live Bubbletea view).
package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/evalreport"
	"github.com/Th0rgal/explain.md-sub002/internal/tree"
)

var researchFlags *evalreport.CommonFlags
var researchPretty bool

var researchDossierCmd = &cobra.Command{
	Use:   "research-dossier",
	Short: "Compile a descriptive-statistics dossier over a built tree",
	Long: `Loads a built tree from --include and reports node counts per depth,
total evidence references, and total newly-introduced terms. This
evaluator never fails the run: it is informational, tracked via
--baseline/--write-baseline purely for drift visibility. --pretty renders
the same figures as Markdown through glamour instead of raw JSON.`,
	RunE: runResearchDossier,
}

func init() {
	researchFlags = registerEvaluatorFlags(researchDossierCmd)
	researchDossierCmd.Flags().BoolVar(&researchPretty, "pretty", false, "Render the dossier as Markdown instead of JSON")
}

func researchMetrics(t *tree.Tree) (map[string]float64, map[int]int) {
	nodesByDepth := map[int]int{}
	var totalEvidenceRefs, totalNewTerms int
	for _, n := range t.Nodes {
		nodesByDepth[n.Depth]++
		totalEvidenceRefs += len(n.EvidenceRefs)
		totalNewTerms += len(n.NewTermsIntroduced)
	}
	return map[string]float64{
		"leafCount":         float64(len(t.LeafIDs)),
		"maxDepth":          float64(t.MaxDepth),
		"totalEvidenceRefs": float64(totalEvidenceRefs),
		"totalNewTerms":     float64(totalNewTerms),
	}, nodesByDepth
}

func renderDossierMarkdown(metrics map[string]float64, nodesByDepth map[int]int) string {
	var sb strings.Builder
	sb.WriteString("# Research Dossier\n\n")
	fmt.Fprintf(&sb, "- Leaf count: %d\n", int(metrics["leafCount"]))
	fmt.Fprintf(&sb, "- Max depth: %d\n", int(metrics["maxDepth"]))
	fmt.Fprintf(&sb, "- Total evidence refs: %d\n", int(metrics["totalEvidenceRefs"]))
	fmt.Fprintf(&sb, "- Total new terms introduced: %d\n\n", int(metrics["totalNewTerms"]))

	sb.WriteString("## Nodes per depth\n\n| Depth | Count |\n|---|---|\n")
	depths := make([]int, 0, len(nodesByDepth))
	for d := range nodesByDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	for _, d := range depths {
		fmt.Fprintf(&sb, "| %d | %d |\n", d, nodesByDepth[d])
	}
	return sb.String()
}

func runResearchDossier(cmd *cobra.Command, args []string) error {
	if researchFlags.Include == "" {
		return fmt.Errorf("research-dossier: --include <tree.json> is required")
	}
	t, err := loadTreeFile(researchFlags.Include)
	if err != nil {
		return err
	}
	metrics, nodesByDepth := researchMetrics(t)

	if researchFlags.WriteBaseline {
		return evalreport.WriteBaseline(researchFlags.Baseline, "research-dossier", metrics)
	}

	baseline, err := evalreport.LoadBaseline(researchFlags.Baseline)
	if err != nil {
		return err
	}
	// Informational only: drift is reported as violations for visibility
	// but never flips Pass to false (spec §6's exit code 2 is reserved for
	// gating evaluators; the dossier is descriptive).
	drift := evalreport.CompareAgainstBaseline(metrics, baseline, nil, 0, nil)

	if researchPretty {
		md := renderDossierMarkdown(metrics, nodesByDepth)
		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return fmt.Errorf("research-dossier: construct renderer: %w", err)
		}
		rendered, err := renderer.Render(md)
		if err != nil {
			return fmt.Errorf("research-dossier: render markdown: %w", err)
		}
		fmt.Print(rendered)
		return nil
	}

	report := evalreport.Report{
		SchemaVersion: evalreport.SchemaVersion,
		Evaluator:     "research-dossier",
		Pass:          true,
		Metrics:       metrics,
		Violations:    drift,
	}
	return evalreport.WriteReport(researchFlags.Out, report)
}
