package project

import (
	"sort"

	"github.com/Ekleog/risuto/internal/event"
)

// Graph tracks active dependency edges across all tasks. An edge from blocker
// to blocked means blocked waits on blocker. The committed edge set is always
// acyclic; WouldCycle is the commit-time check that keeps it that way.
type Graph struct {
	// out[blocker] is the set of tasks blocked by blocker.
	out map[event.TaskID]map[event.TaskID]struct{}
}

// NewGraph returns an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{out: make(map[event.TaskID]map[event.TaskID]struct{})}
}

// Has reports whether the edge blocker -> blocked is active.
func (g *Graph) Has(blocker, blocked event.TaskID) bool {
	_, ok := g.out[blocker][blocked]
	return ok
}

// Add activates the edge blocker -> blocked. Callers must have established
// via WouldCycle that the edge keeps the graph acyclic.
func (g *Graph) Add(blocker, blocked event.TaskID) {
	set := g.out[blocker]
	if set == nil {
		set = make(map[event.TaskID]struct{})
		g.out[blocker] = set
	}
	set[blocked] = struct{}{}
}

// Remove deactivates the edge blocker -> blocked.
func (g *Graph) Remove(blocker, blocked event.TaskID) {
	set := g.out[blocker]
	delete(set, blocked)
	if len(set) == 0 {
		delete(g.out, blocker)
	}
}

// Edges returns every active edge as (blocker, blocked) pairs in a stable
// order.
func (g *Graph) Edges() [][2]event.TaskID {
	var edges [][2]event.TaskID
	for blocker, set := range g.out {
		for blocked := range set {
			edges = append(edges, [2]event.TaskID{blocker, blocked})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// WouldCycle reports whether adding blocker -> blocked would close a cycle,
// and if so returns a witness path blocked -> ... -> blocker along active
// edges. A self-dependency is the trivial cycle.
func (g *Graph) WouldCycle(blocker, blocked event.TaskID) (path []event.TaskID, cycles bool) {
	if blocker == blocked {
		return []event.TaskID{blocked}, true
	}
	// The new edge closes a cycle iff blocker is already reachable from
	// blocked. Neighbors are visited in sorted order so the witness path
	// is deterministic.
	seen := map[event.TaskID]struct{}{blocked: {}}
	var dfs func(from event.TaskID, trail []event.TaskID) []event.TaskID
	dfs = func(from event.TaskID, trail []event.TaskID) []event.TaskID {
		if from == blocker {
			return trail
		}
		next := make([]event.TaskID, 0, len(g.out[from]))
		for to := range g.out[from] {
			next = append(next, to)
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, to := range next {
			if _, ok := seen[to]; ok {
				continue
			}
			seen[to] = struct{}{}
			if found := dfs(to, append(trail, to)); found != nil {
				return found
			}
		}
		return nil
	}
	if found := dfs(blocked, []event.TaskID{blocked}); found != nil {
		return found, true
	}
	return nil, false
}
