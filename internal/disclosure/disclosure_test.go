package disclosure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/tree"
)

func TestComputeStatementDelta_SingleWordSwap(t *testing.T) {
	d := ComputeStatementDelta("alpha beta1 gamma", "alpha delta2 gamma")
	assert.Equal(t, "alpha ", d.Prefix)
	assert.Equal(t, "beta1", d.BeforeChanged)
	assert.Equal(t, "delta2", d.AfterChanged)
	assert.Equal(t, " gamma", d.Suffix)
}

func TestComputeStatementDelta_InsertionOnly(t *testing.T) {
	d := ComputeStatementDelta("A -> C", "A -> B -> C")
	assert.Equal(t, "A -> ", d.Prefix)
	assert.Equal(t, "", d.BeforeChanged)
	assert.Equal(t, "B -> ", d.AfterChanged)
	assert.Equal(t, "C", d.Suffix)
}

func TestComputeStatementDelta_Identical(t *testing.T) {
	d := ComputeStatementDelta("same text", "same text")
	assert.Equal(t, "same text", d.Prefix)
	assert.Empty(t, d.BeforeChanged)
	assert.Empty(t, d.AfterChanged)
	assert.Empty(t, d.Suffix)
}

func sampleTree(leafStatement, parentStatement string) *tree.Tree {
	return &tree.Tree{
		RootID:  "p",
		LeafIDs: []string{"l1", "l2"},
		Nodes: map[string]*tree.Node{
			"l1": {ID: "l1", Depth: 0, IsLeaf: true, Statement: leafStatement},
			"l2": {ID: "l2", Depth: 0, IsLeaf: true, Statement: "second leaf"},
			"p":  {ID: "p", Depth: 1, IsLeaf: false, ChildIDs: []string{"l1", "l2"}, Statement: parentStatement, EvidenceRefs: []string{"l1", "l2"}},
		},
	}
}

func TestProject_ExpandsRequestedParentsInRootDownOrder(t *testing.T) {
	tr := sampleTree("first leaf", "parent statement")
	view := Project(tr, map[string]bool{"p": true}, 0)
	require.Empty(t, view.Issues)
	require.Len(t, view.Entries, 3)
	assert.Equal(t, "p", view.Entries[0].NodeID)
	assert.ElementsMatch(t, []string{"l1", "l2"}, []string{view.Entries[1].NodeID, view.Entries[2].NodeID})
}

func TestProject_UnexpandedParentDoesNotReachChildren(t *testing.T) {
	tr := sampleTree("first leaf", "parent statement")
	view := Project(tr, map[string]bool{}, 0)
	require.Empty(t, view.Issues)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "p", view.Entries[0].NodeID)
}

func TestProject_UnknownExpansionReportsIssueWithoutThrowing(t *testing.T) {
	tr := sampleTree("first leaf", "parent statement")
	view := Project(tr, map[string]bool{"missing": true}, 0)
	require.Len(t, view.Issues, 1)
	assert.Equal(t, "unknown_node", view.Issues[0].Code)
}

func TestProject_LeafExpansionReportsNonParentIssue(t *testing.T) {
	tr := sampleTree("first leaf", "parent statement")
	view := Project(tr, map[string]bool{"l1": true}, 0)
	require.Len(t, view.Issues, 1)
	assert.Equal(t, "non_parent_expansion", view.Issues[0].Code)
}

func TestProject_MaxChildrenCapsExpansion(t *testing.T) {
	tr := sampleTree("first leaf", "parent statement")
	view := Project(tr, map[string]bool{"p": true}, 1)
	require.Len(t, view.Entries, 2)
}

func TestDiff_DetectsChangedStatementAtSameSupportSignature(t *testing.T) {
	baseline := sampleTree("first leaf", "parent statement original")
	candidate := sampleTree("first leaf", "parent statement revised")

	report := Diff(baseline, candidate, "base-hash", "cand-hash", config.RegenerationPartial)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, ChangeChanged, report.Changes[0].Type)
	assert.Equal(t, "p", report.Changes[0].BaselineNodeID)
	assert.Equal(t, "p", report.Changes[0].CandidateNodeID)
	require.NotNil(t, report.Changes[0].Delta)
	assert.Equal(t, "parent statement ", report.Changes[0].Delta.Prefix)
}

func TestDiff_IdenticalTreesProduceNoChanges(t *testing.T) {
	baseline := sampleTree("first leaf", "parent statement")
	candidate := sampleTree("first leaf", "parent statement")

	report := Diff(baseline, candidate, "h", "h", config.RegenerationNone)
	assert.Empty(t, report.Changes)
}

func TestDiff_AddedNodeWhenCandidateSupportSignatureIsNew(t *testing.T) {
	baseline := &tree.Tree{
		RootID:  "l1",
		LeafIDs: []string{"l1"},
		Nodes: map[string]*tree.Node{
			"l1": {ID: "l1", Depth: 0, IsLeaf: true, Statement: "only leaf"},
		},
	}
	candidate := sampleTree("first leaf", "parent statement")

	report := Diff(baseline, candidate, "base-hash", "cand-hash", config.RegenerationFull)
	var kinds []ChangeType
	for _, c := range report.Changes {
		kinds = append(kinds, c.Type)
	}
	assert.Contains(t, kinds, ChangeAdded)
}
