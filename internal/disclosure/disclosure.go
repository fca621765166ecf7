// Package disclosure implements progressive disclosure views and the
// tree-diff report (spec §4.9), including the rune-level prefix/suffix
// statement delta primitive (§8 S1) and a WordLevelDiffs helper grounded
// on the teacher's internal/diff/diff.go Engine, which wraps
// sergi/go-diff/diffmatchpatch.
package disclosure

import (
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Th0rgal/explain.md-sub002/internal/canon"
	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/tree"
)

// DisclosureIssue reports a non-fatal finding from a disclosure request.
type DisclosureIssue struct {
	Code    string // "unknown_node" | "cyclic" | "non_parent_expansion"
	NodeID  string
	Message string
}

// DisclosureEntry is one flattened row of a projected tree.
type DisclosureEntry struct {
	NodeID   string
	Depth    int
	IsLeaf   bool
	ParentID string // empty for root
}

// View is the disclosure projection output.
type View struct {
	Entries  []DisclosureEntry
	Issues   []DisclosureIssue
}

// Project flattens t to a list filtered by expandedNodeIds, preserving
// root-down traversal order. maxChildrenPerExpandedNode, if > 0, caps how
// many children of an expanded node are included (the first
// maxChildrenPerExpandedNode in the node's own child order). Missing,
// cyclic, or non-parent expansion requests are reported as issues rather
// than raising an error.
func Project(t *tree.Tree, expandedNodeIds map[string]bool, maxChildrenPerExpandedNode int) View {
	var view View

	for id := range expandedNodeIds {
		n, ok := t.Nodes[id]
		if !ok {
			view.Issues = append(view.Issues, DisclosureIssue{Code: "unknown_node", NodeID: id, Message: "expansion requested for unknown node id"})
			continue
		}
		if n.IsLeaf {
			view.Issues = append(view.Issues, DisclosureIssue{Code: "non_parent_expansion", NodeID: id, Message: "expansion requested for a leaf node"})
		}
	}

	visited := map[string]bool{}
	var walk func(id, parentID string, depth int)
	walk = func(id, parentID string, depth int) {
		if visited[id] {
			view.Issues = append(view.Issues, DisclosureIssue{Code: "cyclic", NodeID: id, Message: "cycle detected during projection"})
			return
		}
		visited[id] = true

		n, ok := t.Nodes[id]
		if !ok {
			return
		}
		view.Entries = append(view.Entries, DisclosureEntry{NodeID: id, Depth: depth, IsLeaf: n.IsLeaf, ParentID: parentID})

		if n.IsLeaf || !expandedNodeIds[id] {
			return
		}
		children := n.ChildIDs
		if maxChildrenPerExpandedNode > 0 && len(children) > maxChildrenPerExpandedNode {
			children = children[:maxChildrenPerExpandedNode]
		}
		for _, c := range children {
			walk(c, id, depth+1)
		}
	}
	walk(t.RootID, "", 0)

	sort.Slice(view.Issues, func(i, j int) bool {
		if view.Issues[i].Code != view.Issues[j].Code {
			return view.Issues[i].Code < view.Issues[j].Code
		}
		return view.Issues[i].NodeID < view.Issues[j].NodeID
	})

	return view
}

// CanonicalBytes renders the view per spec §4.1's discipline.
func (v View) CanonicalBytes() []byte {
	b := canon.NewBuilder()
	for _, e := range v.Entries {
		b.Raw("entry:" + e.ParentID + ">" + e.NodeID)
	}
	for _, i := range v.Issues {
		b.Raw("issue:" + i.Code + ":" + i.NodeID)
	}
	return b.Bytes()
}

// StatementDelta is computeStatementDelta's output (spec §8 S1).
type StatementDelta struct {
	Prefix        string
	BeforeChanged string
	AfterChanged  string
	Suffix        string
}

// ComputeStatementDelta decomposes old and new statement text into a
// common prefix, common suffix, and the differing middle portion on each
// side (spec §8 S1). Decomposition is by rune, not by word, matching the
// worked examples exactly.
func ComputeStatementDelta(oldText, newText string) StatementDelta {
	a := []rune(oldText)
	b := []rune(newText)

	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}

	j := 0
	for j < len(a)-i && j < len(b)-i && a[len(a)-1-j] == b[len(b)-1-j] {
		j++
	}

	return StatementDelta{
		Prefix:        string(a[:i]),
		BeforeChanged: string(a[i : len(a)-j]),
		AfterChanged:  string(b[i : len(b)-j]),
		Suffix:        string(a[len(a)-j:]),
	}
}

var wordDiffEngine = diffmatchpatch.New()

// WordLevelDiffs returns the raw word/char-level diff ops between two
// statements, for callers that want the full diffmatchpatch operation
// list rather than the collapsed prefix/suffix form (grounded on the
// teacher's Engine.ComputeWordLevelDiff).
func WordLevelDiffs(oldText, newText string) []diffmatchpatch.Diff {
	diffs := wordDiffEngine.DiffMain(oldText, newText, false)
	return wordDiffEngine.DiffCleanupSemantic(diffs)
}

// ChangeType classifies one diff record.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
	ChangeChanged ChangeType = "changed"
)

// ChangeRecord is one emitted diff-report entry.
type ChangeRecord struct {
	Type            ChangeType
	Key             string // support signature
	BaselineNodeID  string
	CandidateNodeID string
	SupportLeafIDs  []string
	Delta           *StatementDelta
}

// Report is the full diff-report output (spec §4.9).
type Report struct {
	Changes             []ChangeRecord
	RegenerationScope    config.RegenerationScope
	BaselineConfigHash   string
	CandidateConfigHash  string
}

// supportSignature computes "leaf:<id>" for leaves and
// "parent:<sorted-support-leaf-ids>" for parents, where support is the
// transitive closure of leaves reachable from the node.
func supportSignature(t *tree.Tree, nodeID string) (string, []string) {
	n := t.Nodes[nodeID]
	if n == nil {
		return "", nil
	}
	if n.IsLeaf {
		return "leaf:" + nodeID, []string{nodeID}
	}

	leaves := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		node := t.Nodes[id]
		if node == nil {
			return
		}
		if node.IsLeaf {
			leaves[id] = true
			return
		}
		for _, c := range node.ChildIDs {
			walk(c)
		}
	}
	walk(nodeID)

	sorted := canon.SortUnique(keys(leaves))
	sig := "parent:"
	for i, id := range sorted {
		if i > 0 {
			sig += canon.UnitSeparator
		}
		sig += id
	}
	return sig, sorted
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Diff compares baseline and candidate trees and configs (spec §4.9).
func Diff(baseline, candidate *tree.Tree, baselineConfigHash, candidateConfigHash string, regenScope config.RegenerationScope) Report {
	baseBySig := bucketBySignature(baseline)
	candBySig := bucketBySignature(candidate)

	allSigs := map[string]bool{}
	for sig := range baseBySig {
		allSigs[sig] = true
	}
	for sig := range candBySig {
		allSigs[sig] = true
	}
	sortedSigs := canon.SortUnique(keys(allSigs))

	var changes []ChangeRecord
	for _, sig := range sortedSigs {
		baseIDs := baseBySig[sig]
		candIDs := candBySig[sig]
		sort.Strings(baseIDs)
		sort.Strings(candIDs)

		max := len(baseIDs)
		if len(candIDs) > max {
			max = len(candIDs)
		}
		for idx := 0; idx < max; idx++ {
			var baseID, candID string
			if idx < len(baseIDs) {
				baseID = baseIDs[idx]
			}
			if idx < len(candIDs) {
				candID = candIDs[idx]
			}

			switch {
			case baseID == "" && candID != "":
				_, support := supportSignature(candidate, candID)
				changes = append(changes, ChangeRecord{Type: ChangeAdded, Key: sig, CandidateNodeID: candID, SupportLeafIDs: support})
			case baseID != "" && candID == "":
				_, support := supportSignature(baseline, baseID)
				changes = append(changes, ChangeRecord{Type: ChangeRemoved, Key: sig, BaselineNodeID: baseID, SupportLeafIDs: support})
			default:
				baseNode := baseline.Nodes[baseID]
				candNode := candidate.Nodes[candID]
				if baseNode.Statement != candNode.Statement || baseNode.Depth != candNode.Depth {
					_, support := supportSignature(candidate, candID)
					delta := ComputeStatementDelta(baseNode.Statement, candNode.Statement)
					changes = append(changes, ChangeRecord{
						Type:            ChangeChanged,
						Key:             sig,
						BaselineNodeID:  baseID,
						CandidateNodeID: candID,
						SupportLeafIDs:  support,
						Delta:           &delta,
					})
				}
			}
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.BaselineNodeID != b.BaselineNodeID {
			return a.BaselineNodeID < b.BaselineNodeID
		}
		return a.CandidateNodeID < b.CandidateNodeID
	})

	return Report{
		Changes:             changes,
		RegenerationScope:   regenScope,
		BaselineConfigHash:  baselineConfigHash,
		CandidateConfigHash: candidateConfigHash,
	}
}

func bucketBySignature(t *tree.Tree) map[string][]string {
	out := map[string][]string{}
	for id := range t.Nodes {
		sig, _ := supportSignature(t, id)
		out[sig] = append(out[sig], id)
	}
	return out
}

// CanonicalBytes renders the diff report per spec §4.1's discipline,
// ordering changes by (key, type, baselineNodeId, candidateNodeId) as
// required by spec §4.9 (the Changes slice is already sorted that way by
// Diff, so this renders in-order).
func (r Report) CanonicalBytes() []byte {
	b := canon.NewBuilder()
	b.Field("baselineConfigHash", r.BaselineConfigHash)
	b.Field("candidateConfigHash", r.CandidateConfigHash)
	b.Field("regenerationScope", string(r.RegenerationScope))
	for _, c := range r.Changes {
		b.Raw("change:" + string(c.Type) + ":" + c.Key + ":" + c.BaselineNodeID + ":" + c.CandidateNodeID)
	}
	return b.Bytes()
}
