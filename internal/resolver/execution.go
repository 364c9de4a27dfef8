package resolver

import "sync/atomic"

// NodeMeta carries the per-package bookkeeping an installer consults while
// walking an ExecutionPlan: how many of its dependencies are still
// outstanding, and which packages become unblocked once it completes.
type NodeMeta struct {
	ID      PackageId
	Action  NodeAction
	Parents []PackageId // packages that depend on this one

	inDegree atomic.Int64
}

func newNodeMeta(id PackageId, action NodeAction, inDegree int) *NodeMeta {
	m := &NodeMeta{ID: id, Action: action}
	m.inDegree.Store(int64(inDegree))
	return m
}

// DecrementInDegree decrements the in-degree counter and returns its new
// value, saturating at zero so a racing double-decrement can never go
// negative.
func (m *NodeMeta) DecrementInDegree() int64 {
	for {
		cur := m.inDegree.Load()
		if cur <= 0 {
			return 0
		}
		if m.inDegree.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// InDegree returns the current number of unresolved dependencies.
func (m *NodeMeta) InDegree() int64 {
	return m.inDegree.Load()
}

func (m *NodeMeta) addParent(parent PackageId) {
	m.Parents = append(m.Parents, parent)
}

// ExecutionPlan is a batched topological order of a resolved DependencyGraph,
// suitable for bounded-parallel execution: every package in batch N depends
// only on packages in batches strictly before N.
type ExecutionPlan struct {
	batches  [][]PackageId
	metadata map[string]*NodeMeta
}

// FromSortedPackages builds an ExecutionPlan from a topologically sorted
// package list and the graph it was sorted from. It computes each package's
// in-degree (the number of its own dependencies) and parent list (the
// packages that depend on it), then repeatedly peels off the subset of
// remaining packages with zero unresolved dependencies into successive
// batches.
func FromSortedPackages(sorted []PackageId, graph *DependencyGraph) *ExecutionPlan {
	metadata := make(map[string]*NodeMeta, len(sorted))
	remaining := make(map[string]PackageId, len(sorted))
	for _, id := range sorted {
		remaining[id.key()] = id
	}

	for _, id := range sorted {
		node, ok := graph.Node(id)
		if !ok {
			continue
		}
		inDegree := 0
		for _, dependents := range graph.edges {
			for _, d := range dependents {
				if d == id.key() {
					inDegree++
				}
			}
		}
		metadata[id.key()] = newNodeMeta(id, node.Action, inDegree)
	}

	for depKey, dependents := range graph.edges {
		meta, ok := metadata[depKey]
		if !ok {
			continue
		}
		for _, dKey := range dependents {
			dNode, ok := graph.nodes[dKey]
			if !ok {
				continue
			}
			meta.addParent(dNode.ID)
		}
	}

	var batches [][]PackageId
	for len(remaining) > 0 {
		var batch []PackageId
		for k, id := range remaining {
			depsCount := 0
			for depKey, dependents := range graph.edges {
				if _, stillRemaining := remaining[depKey]; !stillRemaining {
					continue
				}
				for _, d := range dependents {
					if d == k {
						depsCount++
						break
					}
				}
			}
			if depsCount == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			// Only reachable with an invalid, cyclic graph; Solve rejects
			// those before ever calling FromSortedPackages.
			break
		}

		sortPackageIds(batch)
		for _, id := range batch {
			delete(remaining, id.key())
		}
		batches = append(batches, batch)
	}

	return &ExecutionPlan{batches: batches, metadata: metadata}
}

// Batches returns the plan's execution batches in dependency order.
func (p *ExecutionPlan) Batches() [][]PackageId {
	return p.batches
}

// Metadata returns the bookkeeping for a package in the plan.
func (p *ExecutionPlan) Metadata(id PackageId) (*NodeMeta, bool) {
	m, ok := p.metadata[id.key()]
	return m, ok
}

// ReadyPackages returns every package with no unresolved dependencies.
func (p *ExecutionPlan) ReadyPackages() []PackageId {
	var out []PackageId
	for _, m := range p.metadata {
		if m.InDegree() == 0 {
			out = append(out, m.ID)
		}
	}
	sortPackageIds(out)
	return out
}

// CompletePackage marks id as finished and decrements the in-degree of
// every package that depends on it, returning those that just reached zero
// (newly ready to run).
func (p *ExecutionPlan) CompletePackage(id PackageId) []PackageId {
	meta, ok := p.metadata[id.key()]
	if !ok {
		return nil
	}

	var newlyReady []PackageId
	for _, parentID := range meta.Parents {
		parentMeta, ok := p.metadata[parentID.key()]
		if !ok {
			continue
		}
		if parentMeta.DecrementInDegree() == 0 {
			newlyReady = append(newlyReady, parentID)
		}
	}

	sortPackageIds(newlyReady)
	return newlyReady
}

// PackageCount returns the total number of packages in the plan.
func (p *ExecutionPlan) PackageCount() int {
	return len(p.metadata)
}

// IsComplete reports whether every package's in-degree has reached zero.
func (p *ExecutionPlan) IsComplete() bool {
	for _, m := range p.metadata {
		if m.InDegree() != 0 {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of packages whose in-degree is zero.
func (p *ExecutionPlan) CompletedCount() int {
	n := 0
	for _, m := range p.metadata {
		if m.InDegree() == 0 {
			n++
		}
	}
	return n
}

// ExecutionStats summarizes a plan for progress reporting.
type ExecutionStats struct {
	TotalPackages int
	Downloaded    int
	Local         int
	BatchCount    int
	MaxBatchSize  int
}

// StatsFromPlan computes summary statistics from an ExecutionPlan.
func StatsFromPlan(plan *ExecutionPlan) ExecutionStats {
	stats := ExecutionStats{
		TotalPackages: plan.PackageCount(),
		BatchCount:    len(plan.batches),
	}
	for _, batch := range plan.batches {
		if len(batch) > stats.MaxBatchSize {
			stats.MaxBatchSize = len(batch)
		}
	}
	for _, m := range plan.metadata {
		switch m.Action {
		case ActionDownload:
			stats.Downloaded++
		case ActionLocal:
			stats.Local++
		}
	}
	return stats
}
