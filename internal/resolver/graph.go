package resolver

import "sort"

// Node is a single resolved package as it appears in a DependencyGraph.
type Node struct {
	ID     PackageId
	Action NodeAction
}

// DependencyGraph is the resolved dependency DAG. Edges run
// dependency -> dependent: an edge from B to A records that A depends on B,
// i.e. B must be installed (or at least completed) before A — the direction
// installs must execute in.
type DependencyGraph struct {
	nodes map[string]*Node
	edges map[string][]string // dependency key -> dependent keys
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]string),
	}
}

// AddNode registers a package in the graph. Calling AddNode twice for the
// same id overwrites its action.
func (g *DependencyGraph) AddNode(id PackageId, action NodeAction) {
	g.nodes[id.key()] = &Node{ID: id, Action: action}
}

// AddEdge records that dependent depends on dependency.
func (g *DependencyGraph) AddEdge(dependency, dependent PackageId) {
	k := dependency.key()
	g.edges[k] = append(g.edges[k], dependent.key())
}

// Node returns the node registered for id, if any.
func (g *DependencyGraph) Node(id PackageId) (*Node, bool) {
	n, ok := g.nodes[id.key()]
	return n, ok
}

// Packages returns every package registered in the graph, sorted by name
// then version for deterministic iteration.
func (g *DependencyGraph) Packages() []PackageId {
	out := make([]PackageId, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.ID)
	}
	sortPackageIds(out)
	return out
}

// hasCycle reports whether the graph contains a cycle, via Kahn's algorithm
// over the dependency -> dependent edges: a true topological sort must be
// able to consume every node.
func (g *DependencyGraph) hasCycle() bool {
	inDegree := make(map[string]int, len(g.nodes))
	for k := range g.nodes {
		inDegree[k] = 0
	}
	for _, dependents := range g.edges {
		for _, d := range dependents {
			inDegree[d]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for k, d := range inDegree {
		if d == 0 {
			queue = append(queue, k)
		}
	}

	visited := 0
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		visited++
		for _, d := range g.edges[k] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	return visited != len(g.nodes)
}

// topoSort returns a valid topological order of the graph's packages.
// Ties (nodes that become ready in the same wavefront) break by key for
// determinism. Callers must check hasCycle first; topoSort silently
// truncates on a cycle.
func topoSort(graph *DependencyGraph) []PackageId {
	inDegree := make(map[string]int, len(graph.nodes))
	for k := range graph.nodes {
		inDegree[k] = 0
	}
	for _, dependents := range graph.edges {
		for _, d := range dependents {
			inDegree[d]++
		}
	}

	var ready []string
	for k, d := range inDegree {
		if d == 0 {
			ready = append(ready, k)
		}
	}
	sort.Strings(ready)

	out := make([]PackageId, 0, len(graph.nodes))
	for len(ready) > 0 {
		k := ready[0]
		ready = ready[1:]
		out = append(out, graph.nodes[k].ID)

		var newlyReady []string
		for _, d := range graph.edges[k] {
			inDegree[d]--
			if inDegree[d] == 0 {
				newlyReady = append(newlyReady, d)
			}
		}
		if len(newlyReady) > 0 {
			sort.Strings(newlyReady)
			ready = append(ready, newlyReady...)
			sort.Strings(ready)
		}
	}

	return out
}
