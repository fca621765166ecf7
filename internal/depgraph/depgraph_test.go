package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_RejectsDuplicateIDs(t *testing.T) {
	_, err := Build([]Node{{ID: "a"}, {ID: "a"}}, Options{})
	require.Error(t, err)
}

func TestBuild_MissingDependencyRefsRecordedAndDropped(t *testing.T) {
	g, err := Build([]Node{
		{ID: "a", DependencyIDs: []string{"ghost"}},
	}, Options{RetainExternal: false})
	require.NoError(t, err)
	require.Len(t, g.MissingDependencyRefs, 1)
	assert.Equal(t, "a", g.MissingDependencyRefs[0].DeclarationID)
	assert.Equal(t, "ghost", g.MissingDependencyRefs[0].DependencyID)
	assert.Equal(t, 0, g.ExternalNodeCount)
	assert.Equal(t, 0, g.EdgeCount)
}

func TestBuild_RetainExternalKeepsNode(t *testing.T) {
	g, err := Build([]Node{
		{ID: "a", DependencyIDs: []string{"ghost"}},
	}, Options{RetainExternal: true})
	require.NoError(t, err)
	assert.Equal(t, 1, g.ExternalNodeCount)
	assert.Equal(t, 1, g.EdgeCount)
	assert.Contains(t, g.NodeIDs, "ghost")
}

func TestBuild_CyclicSCCsDeterministicOrder(t *testing.T) {
	g, err := Build([]Node{
		{ID: "b", DependencyIDs: []string{"a"}},
		{ID: "a", DependencyIDs: []string{"b"}},
		{ID: "c", DependencyIDs: []string{"c"}}, // self loop
		{ID: "d"},
	}, Options{})
	require.NoError(t, err)
	require.Len(t, g.CyclicSCCs, 2)
	assert.Equal(t, []string{"a", "b"}, g.CyclicSCCs[0].Members)
	assert.Equal(t, []string{"c"}, g.CyclicSCCs[1].Members)
}

func TestGetSupportingDeclarations_PostOrderDeterministic(t *testing.T) {
	g, err := Build([]Node{
		{ID: "root", DependencyIDs: []string{"b", "a"}},
		{ID: "a", DependencyIDs: []string{"c"}},
		{ID: "b", DependencyIDs: []string{"c"}},
		{ID: "c"},
	}, Options{})
	require.NoError(t, err)

	got, err := g.GetSupportingDeclarations("root", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestGetSupportingDeclarations_UnknownIDFails(t *testing.T) {
	g, err := Build([]Node{{ID: "a"}}, Options{})
	require.NoError(t, err)
	_, err = g.GetSupportingDeclarations("nope", false)
	require.Error(t, err)
}
