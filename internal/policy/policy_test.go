package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
)

func TestVocabularyFloor_ClampedRange(t *testing.T) {
	assert.Equal(t, 0.72, VocabularyFloor(config.AudienceNovice, config.ProofDetailBalanced))
	assert.InDelta(t, 0.76, VocabularyFloor(config.AudienceNovice, config.ProofDetailFormal), 1e-9)
	assert.InDelta(t, 0.48, VocabularyFloor(config.AudienceExpert, config.ProofDetailMinimal), 1e-9)
}

func TestPreSummary_ComplexitySpreadViolation(t *testing.T) {
	members := []GroupMember{{ID: "a", Complexity: 1}, {ID: "b", Complexity: 5}}
	res := PreSummary(members, []string{"a", "b"}, 1, nil)
	require.False(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, ViolationSiblingComplexitySpread, res.Violations[0].Code)
}

func TestPreSummary_WithinBandPasses(t *testing.T) {
	members := []GroupMember{{ID: "a", Complexity: 2}, {ID: "b", Complexity: 3}}
	res := PreSummary(members, []string{"a", "b"}, 1, nil)
	assert.True(t, res.OK)
}

func TestPostSummary_EvidenceCoverageViolation(t *testing.T) {
	out := SummaryOutput{
		ParentStatement:     "groups combine multiplication results",
		WhyTrueFromChildren: "because multiplication commutes across elements",
		EvidenceRefs:        []string{"child_a"},
	}
	opts := PostSummaryOptions{
		ChildIDs:            []string{"child_a", "child_b"},
		ChildStatementsByID: map[string]string{"child_a": "multiplication commutes", "child_b": "addition commutes"},
		AudienceLevel:       config.AudienceIntermediate,
		ProofDetailMode:     config.ProofDetailBalanced,
		EntailmentMode:      config.EntailmentLenient,
	}
	res := PostSummary(out, opts)
	require.False(t, res.OK)
	found := false
	for _, v := range res.Violations {
		if v.Code == ViolationEvidenceCoverage {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPostSummary_TermBudgetExceeded(t *testing.T) {
	out := SummaryOutput{
		ParentStatement:    "multiplication commutes across elements",
		EvidenceRefs:       []string{"child_a", "child_b"},
		NewTermsIntroduced: []string{"monoid", "homomorphism", "isomorphism"},
	}
	opts := PostSummaryOptions{
		ChildIDs:               []string{"child_a", "child_b"},
		ChildStatementsByID:    map[string]string{"child_a": "multiplication commutes", "child_b": "addition commutes"},
		AudienceLevel:          config.AudienceIntermediate,
		ProofDetailMode:        config.ProofDetailBalanced,
		TermIntroductionBudget: 2,
		EntailmentMode:         config.EntailmentLenient,
	}
	res := PostSummary(out, opts)
	require.False(t, res.OK)
	found := false
	for _, v := range res.Violations {
		if v.Code == ViolationTermBudget {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPostSummary_StrictModeForbidsAnyNewTerm(t *testing.T) {
	out := SummaryOutput{
		ParentStatement:    "multiplication commutes",
		EvidenceRefs:       []string{"child_a"},
		NewTermsIntroduced: []string{"monoid"},
	}
	opts := PostSummaryOptions{
		ChildIDs:               []string{"child_a"},
		ChildStatementsByID:    map[string]string{"child_a": "multiplication commutes"},
		AudienceLevel:          config.AudienceIntermediate,
		ProofDetailMode:        config.ProofDetailBalanced,
		TermIntroductionBudget: 5,
		EntailmentMode:         config.EntailmentStrict,
	}
	res := PostSummary(out, opts)
	require.False(t, res.OK)
}

func TestStem_Rules(t *testing.T) {
	assert.Equal(t, "category", stem("categories"))
	assert.Equal(t, "multiply", stem("multiplying"))
	assert.Equal(t, "commut", stem("commuted"))
	assert.Equal(t, "element", stem("elements"))
	assert.Equal(t, "class", stem("class"))
}

func TestTokenize_DropsStopWordsAndShortTokens(t *testing.T) {
	toks := tokenizeParent("The parent claim jointly entails multiplication commutes")
	assert.NotContains(t, toks, "the")
	assert.NotContains(t, toks, "parent")
	assert.Contains(t, toks, "multiplication")
}
