package summary

import (
	"sort"
	"strings"
)

// OfflineSummarizer is a deterministic, LM-free Summarizer used when no
// live summarizer port is configured (cmd/explainmd build --offline, or
// build when no API key resolves). It cites every child id and introduces
// no new terms, so post-summary policy trivially passes regardless of
// tightened, matching internal/tree/tree_test.go's
// passthroughSummarizer fixture pattern generalized into a
// real build path rather than a test-only stub.
type OfflineSummarizer struct{}

func (OfflineSummarizer) Summarize(children []ChildRef, tightened bool) (ParsedSummary, error) {
	sorted := append([]ChildRef(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	statements := make([]string, len(sorted))
	ids := make([]string, len(sorted))
	complexitySum := 0
	for i, c := range sorted {
		statements[i] = c.Statement
		ids[i] = c.ID
		if c.Complexity != nil {
			complexitySum += *c.Complexity
		} else {
			complexitySum += 3
		}
	}

	return ParsedSummary{
		ParentStatement:     strings.Join(statements, " "),
		WhyTrueFromChildren: strings.Join(statements, " "),
		EvidenceRefs:        ids,
		ComplexityScore:     float64(complexitySum) / float64(len(sorted)),
		AbstractionScore:    2,
		Confidence:          0.9,
	}, nil
}
