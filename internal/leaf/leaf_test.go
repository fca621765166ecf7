package leaf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLeaf() Leaf {
	return Leaf{
		ModulePath:      "Mathlib\\Algebra\\Group",
		DeclarationName: " mul_comm ",
		TheoremKind:     KindTheorem,
		StatementText:   " a * b = b * a ",
		SourceSpan: SourceSpan{
			FilePath:    "Mathlib/Algebra/Group.lean",
			StartLine:   10,
			StartColumn: 1,
			EndLine:     12,
			EndColumn:   5,
		},
		DependencyIDs: []string{"lean:a:b:1:1", "lean:a:b:1:1", "lean:c:d:2:2"},
		Tags:          []string{"zeta", "alpha"},
	}
}

func TestCanonicalize_NormalizesAndComputesID(t *testing.T) {
	out, issues := Canonicalize(validLeaf())
	require.Empty(t, issues)
	assert.Equal(t, "Mathlib/Algebra/Group", out.ModulePath)
	assert.Equal(t, "mul_comm", out.DeclarationName)
	assert.Equal(t, "a * b = b * a", out.StatementText)
	assert.Equal(t, []string{"lean:a:b:1:1", "lean:c:d:2:2"}, out.DependencyIDs)
	assert.Equal(t, []string{"alpha", "zeta"}, out.Tags)
	assert.Equal(t, "lean:Mathlib/Algebra/Group:mul_comm:10:1", out.ID)
}

func TestCanonicalize_RejectsEmptyRequiredFields(t *testing.T) {
	l := validLeaf()
	l.DeclarationName = "   "
	_, issues := Canonicalize(l)
	require.NotEmpty(t, issues)
}

func TestCanonicalize_RejectsInvalidTheoremKind(t *testing.T) {
	l := validLeaf()
	l.TheoremKind = "conjecture"
	_, issues := Canonicalize(l)
	require.NotEmpty(t, issues)
}

func TestCanonicalize_RejectsNonMonotoneSpan(t *testing.T) {
	l := validLeaf()
	l.SourceSpan.StartLine = 20
	l.SourceSpan.EndLine = 10
	_, issues := Canonicalize(l)
	require.NotEmpty(t, issues)
}

func TestHash_StableUnderDependencyReordering(t *testing.T) {
	a := validLeaf()
	b := validLeaf()
	b.DependencyIDs = []string{"lean:c:d:2:2", "lean:a:b:1:1"}

	outA, issuesA := Canonicalize(a)
	outB, issuesB := Canonicalize(b)
	require.Empty(t, issuesA)
	require.Empty(t, issuesB)
	assert.Equal(t, outA.Hash(), outB.Hash())
}

func TestAggregateHash_OrderIndependent(t *testing.T) {
	l1, _ := Canonicalize(validLeaf())
	l2in := validLeaf()
	l2in.DeclarationName = "mul_assoc"
	l2in.SourceSpan.StartLine = 20
	l2in.SourceSpan.EndLine = 22
	l2, _ := Canonicalize(l2in)

	h1 := AggregateHash([]Leaf{l1, l2})
	h2 := AggregateHash([]Leaf{l2, l1})
	assert.Equal(t, h1, h2)
}
