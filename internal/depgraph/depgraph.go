// Package depgraph builds the declaration dependency graph, computes
// strongly-connected components (Tarjan), and answers transitive
// support-closure queries (spec §4.4). Graph algorithms here are hand
// rolled on the standard library rather than imported from a library: the
// only graph-shaped dependency anywhere in the retrieval pack was a
// re-export shim of dubious provenance (see DESIGN.md), so this package
// treats Tarjan/Kahn as ordinary algorithmic code, the same way the
// teacher hand-rolls its own tree/graph walks.
package depgraph

import (
	"fmt"
	"sort"
)

// Node is one declaration's id plus its declared dependency ids.
type Node struct {
	ID            string
	DependencyIDs []string
}

// Options controls how unknown dependency ids are handled.
type Options struct {
	// RetainExternal, when true, keeps dependency ids with no matching
	// declaration as external nodes instead of dropping the edge.
	RetainExternal bool
}

// MissingRef names a declared dependency edge with no definition.
type MissingRef struct {
	DeclarationID string
	DependencyID  string
}

// SCC is a strongly-connected component, size >= 2, or a singleton with a
// self-loop.
type SCC struct {
	Members []string // sorted
}

// Graph is the constructed, queryable dependency graph.
type Graph struct {
	NodeIDs              []string // sorted
	EdgeCount             int
	IndexedNodeCount      int
	ExternalNodeCount     int
	MissingDependencyRefs []MissingRef
	CyclicSCCs            []SCC

	adjacency map[string][]string // declared node id -> sorted dependency ids actually retained
	indexed   map[string]bool
}

// BuildError reports a structural problem with the input (duplicate ids).
type BuildError struct {
	Message string
}

func (e *BuildError) Error() string { return e.Message }

// Build constructs a Graph from a flat node list (spec §4.4).
func Build(nodes []Node, opts Options) (*Graph, error) {
	indexed := make(map[string]bool, len(nodes))
	declOrder := make([]string, 0, len(nodes))
	deps := make(map[string][]string, len(nodes))

	for _, n := range nodes {
		if indexed[n.ID] {
			return nil, &BuildError{Message: fmt.Sprintf("duplicate declaration id %q", n.ID)}
		}
		indexed[n.ID] = true
		declOrder = append(declOrder, n.ID)
		deps[n.ID] = append([]string(nil), n.DependencyIDs...)
	}

	g := &Graph{
		adjacency: make(map[string][]string, len(nodes)),
		indexed:   indexed,
	}

	external := map[string]bool{}
	for _, id := range declOrder {
		depIDs := deps[id]
		sort.Strings(depIDs)
		retained := make([]string, 0, len(depIDs))
		for _, d := range depIDs {
			if indexed[d] {
				retained = append(retained, d)
				g.EdgeCount++
				continue
			}
			g.MissingDependencyRefs = append(g.MissingDependencyRefs, MissingRef{DeclarationID: id, DependencyID: d})
			if opts.RetainExternal {
				retained = append(retained, d)
				g.EdgeCount++
				if !external[d] {
					external[d] = true
					g.ExternalNodeCount++
				}
			}
		}
		g.adjacency[id] = retained
	}
	for ext := range external {
		if _, ok := g.adjacency[ext]; !ok {
			g.adjacency[ext] = nil
		}
	}

	sort.Slice(g.MissingDependencyRefs, func(i, j int) bool {
		a, b := g.MissingDependencyRefs[i], g.MissingDependencyRefs[j]
		if a.DeclarationID != b.DeclarationID {
			return a.DeclarationID < b.DeclarationID
		}
		return a.DependencyID < b.DependencyID
	})

	allIDs := make([]string, 0, len(g.adjacency))
	for id := range g.adjacency {
		allIDs = append(allIDs, id)
	}
	sort.Strings(allIDs)
	g.NodeIDs = allIDs
	g.IndexedNodeCount = len(declOrder)

	g.CyclicSCCs = tarjanSCCs(g.adjacency)

	return g, nil
}

// tarjanSCCs computes every SCC of size >= 2 plus every self-loop
// singleton, returned in deterministic order (by lexicographically
// minimum member).
func tarjanSCCs(adj map[string][]string) []SCC {
	nodeIDs := make([]string, 0, len(adj))
	for id := range adj {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	index := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	counter := 0
	var sccs []SCC

	hasSelfLoop := func(id string) bool {
		for _, d := range adj[id] {
			if d == id {
				return true
			}
		}
		return false
	}

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		neighbors := append([]string(nil), adj[v]...)
		sort.Strings(neighbors)
		for _, w := range neighbors {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var members []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				members = append(members, w)
				if w == v {
					break
				}
			}
			sort.Strings(members)
			if len(members) >= 2 || (len(members) == 1 && hasSelfLoop(members[0])) {
				sccs = append(sccs, SCC{Members: members})
			}
		}
	}

	for _, id := range nodeIDs {
		if _, seen := index[id]; !seen {
			strongconnect(id)
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i].Members[0] < sccs[j].Members[0] })
	return sccs
}

// GetSupportingDeclarations returns the full transitive closure of id's
// dependencies in deterministic post-order: at each visit, children are
// walked in sorted order, results are produced post-order, and duplicates
// suppressed on first emission. includeExternal controls whether
// dependency ids with no declaration (only present when Options.RetainExternal
// was set at Build time) are included in the walk and output.
func (g *Graph) GetSupportingDeclarations(id string, includeExternal bool) ([]string, error) {
	if _, ok := g.adjacency[id]; !ok {
		return nil, fmt.Errorf("depgraph: unknown declaration id %q", id)
	}

	visited := map[string]bool{}
	var order []string

	var visit func(n string)
	visit = func(n string) {
		children := append([]string(nil), g.adjacency[n]...)
		sort.Strings(children)
		for _, c := range children {
			if !g.indexed[c] && !includeExternal {
				continue
			}
			if visited[c] {
				continue
			}
			visited[c] = true
			visit(c)
			order = append(order, c)
		}
	}
	visit(id)
	return order, nil
}
