package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsNormalizedAlready(t *testing.T) {
	cfg := DefaultConfig()
	before := ComputeConfigHash(cfg)
	Normalize(cfg)
	after := ComputeConfigHash(cfg)
	assert.Equal(t, before, after, "Normalize must be idempotent on defaults")
}

func TestResolveExplanationLanguage(t *testing.T) {
	cases := map[string]string{
		"EN":      "en",
		" fr-CA ": "fr",
		"fr_CA":   "fr",
		"xx":      "en",
		"xx-YY":   "en",
		"":        "en",
		"de-DE":   "de",
	}
	for in, want := range cases {
		assert.Equal(t, want, ResolveExplanationLanguage(in), "input %q", in)
	}
}

func TestNormalize_ClampsOutOfRangeNumerics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ComplexityLevel = 99
	cfg.ComplexityBandWidth = -3
	cfg.MaxChildrenPerParent = 0
	cfg.TermIntroductionBudget = -5
	Normalize(cfg)

	assert.Equal(t, 5, cfg.ComplexityLevel)
	assert.Equal(t, 0, cfg.ComplexityBandWidth)
	assert.Equal(t, 2, cfg.MaxChildrenPerParent)
	assert.Equal(t, 0, cfg.TermIntroductionBudget)
}

func TestNormalize_RejectsInvalidEnum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AudienceLevel = "bogus"
	cfg.ProofDetailMode = "bogus"
	Normalize(cfg)

	assert.Equal(t, AudienceIntermediate, cfg.AudienceLevel)
	assert.Equal(t, ProofDetailBalanced, cfg.ProofDetailMode)
}

func TestComputeConfigHash_StableAfterFieldRevert(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.AudienceLevel = AudienceNovice
	b.AudienceLevel = AudienceIntermediate // revert; hashes must match again
	require.Equal(t, ComputeConfigHash(a), ComputeConfigHash(b))
}

func TestCacheKey_Format(t *testing.T) {
	cfg := DefaultConfig()
	key := CacheKey("leafhash", "cfghash", cfg)
	require.Equal(t, "leafhash:cfghash:en:intermediate", key)
}

func TestPlanRegeneration_None(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Equal(t, RegenerationNone, PlanRegeneration(a, b))
}

func TestPlanRegeneration_StructuralDominatesSemantic(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.Language = "es"                  // semantic
	b.MaxChildrenPerParent = 8         // structural
	assert.Equal(t, RegenerationFull, PlanRegeneration(a, b))
}

func TestPlanRegeneration_CosmeticOnlyIsPartial(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.ModelProvider.Temperature = 0.9
	assert.Equal(t, RegenerationPartial, PlanRegeneration(a, b))
}

func TestPlanRegeneration_SemanticOnlyIsPartial(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.ReadingLevelTarget = ReadingGrade12
	assert.Equal(t, RegenerationPartial, PlanRegeneration(a, b))
}
