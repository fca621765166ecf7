package evalreport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBaseline_MissingFileReturnsNilNoError(t *testing.T) {
	b, err := LoadBaseline(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestWriteBaseline_ThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, WriteBaseline(path, "quality-harness", map[string]float64{"avgBranchingFactor": 3.5}))

	got, err := LoadBaseline(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, 3.5, got.Metrics["avgBranchingFactor"])
}

func TestCompareAgainstBaseline_FlagsRegressionInWorseDirection(t *testing.T) {
	baseline := &Baseline{Metrics: map[string]float64{"violationRate": 0.1}}
	violations := CompareAgainstBaseline(
		map[string]float64{"violationRate": 0.3},
		baseline,
		nil, 0.05,
		map[string]bool{"violationRate": true},
	)
	require.Len(t, violations, 1)
	assert.Equal(t, "metric_regression:violationRate", violations[0].Code)
}

func TestCompareAgainstBaseline_WithinToleranceNoViolation(t *testing.T) {
	baseline := &Baseline{Metrics: map[string]float64{"violationRate": 0.10}}
	violations := CompareAgainstBaseline(
		map[string]float64{"violationRate": 0.12},
		baseline,
		nil, 0.05,
		map[string]bool{"violationRate": true},
	)
	assert.Empty(t, violations)
}

func TestCompareAgainstBaseline_LowerIsWorseDirection(t *testing.T) {
	baseline := &Baseline{Metrics: map[string]float64{"evidenceCoverage": 0.95}}
	violations := CompareAgainstBaseline(
		map[string]float64{"evidenceCoverage": 0.80},
		baseline,
		nil, 0.05,
		map[string]bool{"evidenceCoverage": false},
	)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "evidenceCoverage")
}

func TestCompareAgainstBaseline_NilBaselineNoViolations(t *testing.T) {
	violations := CompareAgainstBaseline(map[string]float64{"x": 1}, nil, nil, 0, nil)
	assert.Nil(t, violations)
}
