// Package grouping implements the deterministic child grouper (spec §4.5):
// cycle-safe topological linearization of one layer's nodes followed by
// complexity-banded packing into groups bounded by maxChildrenPerParent.
package grouping

import (
	"sort"
)

// NodeInput is one layer node's grouping-relevant attributes.
type NodeInput struct {
	ID         string
	Complexity *int // nil means "missing"; imputed from targetComplexity
	// PrerequisiteIDs lists in-layer prerequisite edges only; edges
	// pointing outside the current layer must already be filtered out by
	// the caller before calling Group.
	PrerequisiteIDs []string
}

// Group is an ordered subset of one layer's nodes under a prospective
// parent.
type Group struct {
	NodeIDs []string // in linearized order
}

// Diagnostics records non-fatal findings from the linearization pass.
type Diagnostics struct {
	CycleDetected  bool
	CyclicMembers  []string // sorted, union of all in-layer cyclic SCC members
}

// Plan is the grouper's full output.
type Plan struct {
	Groups          []Group
	OrderedNodeIDs  []string // the cycle-safe linear order, pre-packing
	Diagnostics     Diagnostics
}

// Group partitions nodes into groups of size <= maxChildrenPerParent such
// that every prerequisite appears before its dependents in the underlying
// linear order (except across an in-layer cycle) and the complexity spread
// within each group is <= bandWidth. The result is deterministic
// regardless of the input node order.
func Group(nodes []NodeInput, maxChildrenPerParent, bandWidth, targetComplexity int) Plan {
	order, diag := linearize(nodes)
	complexity := make(map[string]int, len(nodes))
	for _, n := range nodes {
		if n.Complexity != nil {
			complexity[n.ID] = *n.Complexity
		} else {
			complexity[n.ID] = targetComplexity
		}
	}

	var groups []Group
	var current []string
	curMin, curMax := 0, 0

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, Group{NodeIDs: current})
			current = nil
		}
	}

	for _, id := range order {
		c := complexity[id]
		if len(current) == 0 {
			current = []string{id}
			curMin, curMax = c, c
			continue
		}
		newMin, newMax := curMin, curMax
		if c < newMin {
			newMin = c
		}
		if c > newMax {
			newMax = c
		}
		if len(current)+1 > maxChildrenPerParent || (newMax-newMin) > bandWidth {
			flush()
			current = []string{id}
			curMin, curMax = c, c
			continue
		}
		current = append(current, id)
		curMin, curMax = newMin, newMax
	}
	flush()

	return Plan{Groups: groups, OrderedNodeIDs: order, Diagnostics: diag}
}

// linearize computes SCCs over in-layer prerequisite edges; within a
// cyclic SCC, members are sorted lexicographically and internal
// prerequisite edges are treated as non-binding (a cycle_detected warning
// is recorded); outside SCCs, Kahn's algorithm with lexicographic
// tie-break on ready nodes yields the total order.
func linearize(nodes []NodeInput) ([]string, Diagnostics) {
	adj := make(map[string][]string, len(nodes)) // id -> prerequisite ids (edges, not yet collapsed)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
		adj[n.ID] = append([]string(nil), n.PrerequisiteIDs...)
	}
	sort.Strings(ids)

	sccOf, sccMembers := computeSCCs(ids, adj)

	// Build a condensed DAG over SCC representatives (lexicographically
	// minimum member of each SCC), with edges between distinct SCCs.
	condensedAdj := map[string]map[string]bool{}
	for _, id := range ids {
		repA := sccOf[id]
		if _, ok := condensedAdj[repA]; !ok {
			condensedAdj[repA] = map[string]bool{}
		}
		for _, dep := range adj[id] {
			repB := sccOf[dep]
			if repB != repA {
				// dep is a prerequisite of id: edge dep -> id in Kahn terms
				// (dep must come first). We track it the other direction
				// below via indegree computed from "prereq" sets.
				condensedAdj[repA][repB] = true
			}
		}
	}

	// Kahn's algorithm over condensed graph: condensedAdj[rep] is the set
	// of prerequisite reps of rep. Indegree of rep = number of reps that
	// must precede it = len(condensedAdj[rep]) collapsed to unique deps
	// not yet satisfied.
	reps := make([]string, 0, len(condensedAdj))
	for rep := range condensedAdj {
		reps = append(reps, rep)
	}
	sort.Strings(reps)

	remaining := map[string]map[string]bool{}
	for rep, deps := range condensedAdj {
		cp := map[string]bool{}
		for d := range deps {
			cp[d] = true
		}
		remaining[rep] = cp
	}

	var repOrder []string
	done := map[string]bool{}
	for len(repOrder) < len(reps) {
		var ready []string
		for _, rep := range reps {
			if done[rep] {
				continue
			}
			if len(remaining[rep]) == 0 {
				ready = append(ready, rep)
			}
		}
		if len(ready) == 0 {
			// Residual cycle across condensation should not happen since
			// SCCs were already collapsed; break defensively to avoid an
			// infinite loop on malformed input.
			for _, rep := range reps {
				if !done[rep] {
					ready = append(ready, rep)
				}
			}
			sort.Strings(ready)
			ready = ready[:1]
		}
		sort.Strings(ready)
		pick := ready[0]
		repOrder = append(repOrder, pick)
		done[pick] = true
		for rep := range remaining {
			delete(remaining[rep], pick)
		}
	}

	var order []string
	diag := Diagnostics{}
	var cyclicAll []string
	for _, rep := range repOrder {
		members := sccMembers[rep]
		if len(members) > 1 {
			diag.CycleDetected = true
			cyclicAll = append(cyclicAll, members...)
			sorted := append([]string(nil), members...)
			sort.Strings(sorted)
			order = append(order, sorted...)
		} else {
			order = append(order, members[0])
		}
	}
	if len(cyclicAll) > 0 {
		sort.Strings(cyclicAll)
		diag.CyclicMembers = cyclicAll
	}

	return order, diag
}

// computeSCCs runs Tarjan's algorithm restricted to the in-layer edge set
// given by adj, returning a map from node id to its SCC representative
// (lexicographically minimum member) and the representative-to-members
// index.
func computeSCCs(ids []string, adj map[string][]string) (map[string]string, map[string][]string) {
	index := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	counter := 0

	sccOf := map[string]string{}
	sccMembers := map[string][]string{}

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
			rep := members[0]
			for _, m := range members {
				sccOf[m] = rep
			}
			sccMembers[rep] = members
		}
	}

	for _, id := range ids {
		if _, seen := index[id]; !seen {
			strongconnect(id)
		}
	}

	return sccOf, sccMembers
}
