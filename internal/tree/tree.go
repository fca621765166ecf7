// Package tree implements the recursive explanation-tree builder (spec
// §4.8): layer-by-layer construction over the child grouper and
// pedagogical policy, deterministic repartition on policy failure,
// monotone-progress and branching-bound enforcement, and parent-id
// minting via truncated content hashing (spec §3).
package tree

import (
	"fmt"
	"math"
	"sort"

	"github.com/Th0rgal/explain.md-sub002/internal/canon"
	"github.com/Th0rgal/explain.md-sub002/internal/config"
	"github.com/Th0rgal/explain.md-sub002/internal/grouping"
	"github.com/Th0rgal/explain.md-sub002/internal/leaf"
	"github.com/Th0rgal/explain.md-sub002/internal/policy"
	"github.com/Th0rgal/explain.md-sub002/internal/summary"
)

// Node is either a leaf mirror (Depth 0) or a parent (Depth >= 1).
type Node struct {
	ID                  string
	Depth               int
	IsLeaf              bool
	ChildIDs            []string // ordered: topologically-resolved prerequisite order, then lexicographic
	Statement           string
	WhyTrueFromChildren string
	NewTermsIntroduced  []string
	ComplexityScore     float64
	AbstractionScore    float64
	Confidence          float64
	EvidenceRefs        []string
	PolicyDiagnostics   *ParentPolicyDiagnostics
}

// ParentPolicyDiagnostics carries the policy evaluation trail for one
// parent (spec §7).
type ParentPolicyDiagnostics struct {
	Depth             int
	GroupIndex        int
	RetriesUsed       int
	PreViolations     []policy.Violation
	PostViolations    []policy.Violation
	RepartitionEvents []RepartitionEvent
}

// RepartitionEvent records a deterministic group split caused by policy
// failure.
type RepartitionEvent struct {
	Reason         string // "pre_summary_policy" | "post_summary_policy"
	Round          int
	ViolationCodes []string
}

// GroupPlanEntry reconstructs tree topology from the leaves (spec §3).
type GroupPlanEntry struct {
	Depth            int
	Index            int
	InputNodeIDs     []string
	OutputNodeID     string
	ComplexitySpread int
}

// Tree is the full explanation tree output (spec §3).
type Tree struct {
	RootID                    string
	LeafIDs                   []string
	Nodes                     map[string]*Node
	ConfigHash                string
	GroupPlan                 []GroupPlanEntry
	GroupingDiagnostics       []grouping.Diagnostics
	PolicyDiagnosticsByParent map[string]*ParentPolicyDiagnostics
	MaxDepth                  int
}

// TreePolicyError is the hard error raised when a repartition split cannot
// restore a policy-satisfying group (e.g. a single-node group still fails
// pre-summary policy).
type TreePolicyError struct {
	Depth      int
	GroupIndex int
	Message    string
}

func (e *TreePolicyError) Error() string {
	return fmt.Sprintf("tree: policy error at depth %d group %d: %s", e.Depth, e.GroupIndex, e.Message)
}

// MonotoneProgressError is raised when a layer fails to contract.
type MonotoneProgressError struct {
	Depth        int
	PriorCount   int
	CurrentCount int
}

func (e *MonotoneProgressError) Error() string {
	return fmt.Sprintf("tree: layer at depth %d did not contract (prior=%d, current=%d)", e.Depth, e.PriorCount, e.CurrentCount)
}

// DepthLimit computes max(ceil(log_b(N))+2, min(2048, N)) with
// b = max(2, maxChildrenPerParent) (spec §4.8).
func DepthLimit(n, maxChildrenPerParent int) int {
	b := maxChildrenPerParent
	if b < 2 {
		b = 2
	}
	if n < 1 {
		n = 1
	}
	logB := math.Log(float64(n)) / math.Log(float64(b))
	a := int(math.Ceil(logB)) + 2
	bound := n
	if bound > 2048 {
		bound = 2048
	}
	if a > bound {
		return a
	}
	return bound
}

// ParentIDHex16 truncates a hash of "depth:groupIndex:sorted-child-id-list"
// to 16 hex characters for use in the parent id.
func ParentIDHex16(depth, groupIndex int, sortedChildIDs []string) string {
	b := canon.NewBuilder()
	b.Field("depth", fmt.Sprintf("%d", depth))
	b.Field("groupIndex", fmt.Sprintf("%d", groupIndex))
	b.SortedFields("childIds", sortedChildIDs)
	full := b.Hash()
	return full[:16]
}

// MintParentID returns "p_<depth>_<groupIndex>_<hex16>".
func MintParentID(depth, groupIndex int, sortedChildIDs []string) string {
	return fmt.Sprintf("p_%d_%d_%s", depth, groupIndex, ParentIDHex16(depth, groupIndex, sortedChildIDs))
}

// Summarizer abstracts the one-retry summary-generation call a builder
// round needs; callers normally supply a concrete summary.Port wrapped
// with prompt assembly and parsing (kept as a narrow interface here so the
// builder's control flow stays decoupled from HTTP transport details).
type Summarizer interface {
	Summarize(children []summary.ChildRef, tightened bool) (summary.ParsedSummary, error)
}

// BuildOptions bundles builder-time parameters derived from config.
type BuildOptions struct {
	MaxChildrenPerParent   int
	ComplexityBandWidth    int
	TargetComplexity       int
	TermIntroductionBudget int
	AudienceLevel          config.AudienceLevel
	ProofDetailMode        config.ProofDetailMode
	EntailmentMode         config.EntailmentMode
	ConfigHash             string
}

// layerNode is the builder's internal working representation of one node
// in the current active layer, whether leaf or already-built parent.
type layerNode struct {
	ID              string
	Complexity      int
	Statement       string
	PrerequisiteIDs []string // in-layer prerequisite edges only
}

// builder holds the shared, mutable state threaded through one Build call.
type builder struct {
	nodes         map[string]*Node
	diagsByParent map[string]*ParentPolicyDiagnostics
	groupPlan     []GroupPlanEntry
	summarizer    Summarizer
	opts          BuildOptions
	nextGroupIdx  int // global counter used so repartition sub-groups get distinct indices within a layer
}

// Build constructs the explanation tree from the leaf set, recursively
// layer by layer, until exactly one node remains (spec §4.8).
func Build(leaves []leaf.Leaf, prereqsByID map[string][]string, summarizer Summarizer, opts BuildOptions) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("tree: no leaves to build from")
	}

	nodes := make(map[string]*Node, len(leaves))
	leafIDs := make([]string, 0, len(leaves))
	active := make([]layerNode, 0, len(leaves))
	for _, l := range leaves {
		leafIDs = append(leafIDs, l.ID)
		nodes[l.ID] = &Node{ID: l.ID, Depth: 0, IsLeaf: true, Statement: l.StatementText}
		active = append(active, layerNode{ID: l.ID, Complexity: opts.TargetComplexity, Statement: l.StatementText, PrerequisiteIDs: prereqsByID[l.ID]})
	}
	sort.Strings(leafIDs)

	if len(active) == 1 {
		return &Tree{
			RootID:                    active[0].ID,
			LeafIDs:                   leafIDs,
			Nodes:                     nodes,
			ConfigHash:                opts.ConfigHash,
			PolicyDiagnosticsByParent: map[string]*ParentPolicyDiagnostics{},
			MaxDepth:                  0,
		}, nil
	}

	depthLimit := DepthLimit(len(active), opts.MaxChildrenPerParent)

	b := &builder{
		nodes:         nodes,
		diagsByParent: map[string]*ParentPolicyDiagnostics{},
		summarizer:    summarizer,
		opts:          opts,
	}

	depth := 1
	var groupingDiagnostics []grouping.Diagnostics
	for {
		if depth > depthLimit {
			return nil, fmt.Errorf("tree: exceeded depth limit %d at depth %d", depthLimit, depth)
		}

		nodeInputs := make([]grouping.NodeInput, len(active))
		byID := make(map[string]layerNode, len(active))
		for i, n := range active {
			c := n.Complexity
			nodeInputs[i] = grouping.NodeInput{ID: n.ID, Complexity: &c, PrerequisiteIDs: n.PrerequisiteIDs}
			byID[n.ID] = n
		}

		plan := grouping.Group(nodeInputs, opts.MaxChildrenPerParent, opts.ComplexityBandWidth, opts.TargetComplexity)
		groupingDiagnostics = append(groupingDiagnostics, plan.Diagnostics)

		var nextActive []layerNode
		b.nextGroupIdx = 0

		for gi, g := range plan.Groups {
			if len(g.NodeIDs) == 1 {
				nextActive = append(nextActive, byID[g.NodeIDs[0]])
				continue
			}

			outputs, err := b.buildGroup(g.NodeIDs, byID, plan.OrderedNodeIDs, plan.Diagnostics, depth, gi, 0)
			if err != nil {
				return nil, err
			}
			for _, out := range outputs {
				nextActive = append(nextActive, out)
			}
		}

		if len(nextActive) >= len(active) {
			return nil, &MonotoneProgressError{Depth: depth, PriorCount: len(active), CurrentCount: len(nextActive)}
		}

		active = nextActive
		if len(active) == 1 {
			return &Tree{
				RootID:                    active[0].ID,
				LeafIDs:                   leafIDs,
				Nodes:                     nodes,
				ConfigHash:                opts.ConfigHash,
				GroupPlan:                 b.groupPlan,
				GroupingDiagnostics:       groupingDiagnostics,
				PolicyDiagnosticsByParent: b.diagsByParent,
				MaxDepth:                  depth,
			}, nil
		}
		depth++
	}
}

// buildGroup implements spec §4.8 step 3 for one candidate group, either
// producing a single parent node or, on policy failure, a deterministic
// pivot-at-ceil(n/2) split recursed on independently; each recursion may
// itself split further, so the returned slice can contain more than two
// entries. round counts nested repartition depth for diagnostics.
func (b *builder) buildGroup(groupIDs []string, byID map[string]layerNode, orderedIDs []string, groupDiag grouping.Diagnostics, depth, groupIndex, round int) ([]layerNode, error) {
	members := make([]policy.GroupMember, len(groupIDs))
	for i, id := range groupIDs {
		members[i] = policy.GroupMember{ID: id, Complexity: byID[id].Complexity}
	}

	preResult := policy.PreSummary(members, orderedIDs, b.opts.ComplexityBandWidth, groupDiag.CyclicMembers)
	if !preResult.OK {
		if len(groupIDs) == 1 {
			return nil, &TreePolicyError{Depth: depth, GroupIndex: groupIndex, Message: "single-node group still fails pre-summary policy"}
		}
		return b.repartition(groupIDs, byID, orderedIDs, groupDiag, depth, groupIndex, round, "pre_summary_policy", preResult.Violations)
	}

	children := make([]summary.ChildRef, len(groupIDs))
	for i, id := range groupIDs {
		c := byID[id].Complexity
		children[i] = summary.ChildRef{ID: id, Complexity: &c, Statement: byID[id].Statement}
	}

	parsed, postResult, retriesUsed, err := summarizeWithRetry(b.summarizer, children, b.opts)
	if err != nil {
		return nil, err
	}
	if !postResult.OK {
		if len(groupIDs) == 1 {
			return nil, &TreePolicyError{Depth: depth, GroupIndex: groupIndex, Message: "single-node group still fails post-summary policy"}
		}
		return b.repartition(groupIDs, byID, orderedIDs, groupDiag, depth, groupIndex, round, "post_summary_policy", postResult.Violations)
	}

	sortedChildren := append([]string(nil), groupIDs...)
	sort.Strings(sortedChildren)
	parentID := MintParentID(depth, groupIndex, sortedChildren)

	diag := &ParentPolicyDiagnostics{
		Depth:          depth,
		GroupIndex:     groupIndex,
		RetriesUsed:    retriesUsed,
		PreViolations:  preResult.Violations,
		PostViolations: postResult.Violations,
	}
	b.diagsByParent[parentID] = diag

	node := &Node{
		ID:                  parentID,
		Depth:               depth,
		IsLeaf:              false,
		ChildIDs:            groupIDs,
		Statement:           parsed.ParentStatement,
		WhyTrueFromChildren: parsed.WhyTrueFromChildren,
		NewTermsIntroduced:  canon.SortUnique(parsed.NewTermsIntroduced),
		ComplexityScore:     parsed.ComplexityScore,
		AbstractionScore:    parsed.AbstractionScore,
		Confidence:          parsed.Confidence,
		EvidenceRefs:        canon.SortUnique(parsed.EvidenceRefs),
		PolicyDiagnostics:   diag,
	}
	b.nodes[parentID] = node

	min, max := byID[groupIDs[0]].Complexity, byID[groupIDs[0]].Complexity
	for _, id := range groupIDs {
		c := byID[id].Complexity
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	b.groupPlan = append(b.groupPlan, GroupPlanEntry{
		Depth:            depth,
		Index:            groupIndex,
		InputNodeIDs:     sortedChildren,
		OutputNodeID:     parentID,
		ComplexitySpread: max - min,
	})

	return []layerNode{{ID: parentID, Complexity: int(parsed.ComplexityScore), Statement: parsed.ParentStatement}}, nil
}

// summarizeWithRetry generates a summary and evaluates post-summary
// policy, retrying once with a tightened prompt on failure (spec §4.7).
func summarizeWithRetry(summarizer Summarizer, children []summary.ChildRef, opts BuildOptions) (summary.ParsedSummary, policy.Result, int, error) {
	childStatements := make(map[string]string, len(children))
	childIDs := make([]string, len(children))
	for i, c := range children {
		childStatements[c.ID] = c.Statement
		childIDs[i] = c.ID
	}

	var lastParsed summary.ParsedSummary
	var lastResult policy.Result
	for attempt := 0; attempt < 2; attempt++ {
		parsed, err := summarizer.Summarize(children, attempt > 0)
		if err != nil {
			return summary.ParsedSummary{}, policy.Result{}, attempt, err
		}
		result := policy.PostSummary(policy.SummaryOutput{
			ParentStatement:     parsed.ParentStatement,
			WhyTrueFromChildren: parsed.WhyTrueFromChildren,
			NewTermsIntroduced:  parsed.NewTermsIntroduced,
			EvidenceRefs:        parsed.EvidenceRefs,
		}, policy.PostSummaryOptions{
			ChildIDs:               childIDs,
			ChildStatementsByID:    childStatements,
			AudienceLevel:          opts.AudienceLevel,
			ProofDetailMode:        opts.ProofDetailMode,
			TermIntroductionBudget: opts.TermIntroductionBudget,
			EntailmentMode:         opts.EntailmentMode,
		})
		lastParsed, lastResult = parsed, result
		if result.OK {
			return parsed, result, attempt, nil
		}
	}
	return lastParsed, lastResult, 1, nil
}

// repartition splits a group deterministically at ceil(n/2) and recurses
// on each half independently (spec §4.8 step 3a/3b). Each half that
// resolves to a built parent gets the triggering RepartitionEvent appended
// to its diagnostics for audit; halves of size 1 pass through as-is (they
// rejoin the grouper on the next layer rather than being forced through
// policy as a singleton).
func (b *builder) repartition(groupIDs []string, byID map[string]layerNode, orderedIDs []string, groupDiag grouping.Diagnostics, depth, groupIndex, round int, reason string, violations []policy.Violation) ([]layerNode, error) {
	if len(groupIDs) <= 1 {
		return nil, &TreePolicyError{Depth: depth, GroupIndex: groupIndex, Message: "repartition impossible: group already minimal"}
	}

	pivot := (len(groupIDs) + 1) / 2 // ceil(n/2)
	left := groupIDs[:pivot]
	right := groupIDs[pivot:]

	codes := make([]string, len(violations))
	for i, v := range violations {
		codes[i] = string(v.Code)
	}
	event := RepartitionEvent{Reason: reason, Round: round + 1, ViolationCodes: codes}

	var out []layerNode

	leftOut, err := b.buildHalf(left, byID, orderedIDs, groupDiag, depth, groupIndex, round, event)
	if err != nil {
		return nil, err
	}
	out = append(out, leftOut...)

	b.nextGroupIdx++
	rightOut, err := b.buildHalf(right, byID, orderedIDs, groupDiag, depth, groupIndex+1000+b.nextGroupIdx, round, event)
	if err != nil {
		return nil, err
	}
	out = append(out, rightOut...)

	return out, nil
}

// buildHalf resolves one repartition half: a singleton passes through
// unchanged; a larger half recurses into buildGroup, with the triggering
// event recorded on the resulting parent's diagnostics.
func (b *builder) buildHalf(half []string, byID map[string]layerNode, orderedIDs []string, groupDiag grouping.Diagnostics, depth, groupIndex, round int, event RepartitionEvent) ([]layerNode, error) {
	if len(half) == 1 {
		return []layerNode{byID[half[0]]}, nil
	}
	outputs, err := b.buildGroup(half, byID, orderedIDs, groupDiag, depth, groupIndex, round+1)
	if err != nil {
		return nil, err
	}
	for _, out := range outputs {
		if diag, ok := b.diagsByParent[out.ID]; ok {
			diag.RepartitionEvents = append(diag.RepartitionEvents, event)
		}
	}
	return outputs, nil
}
