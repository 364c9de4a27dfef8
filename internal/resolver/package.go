// Package resolver implements constraint-based version selection over a
// dependency graph and partitions the result into a batched, parallel
// execution plan.
//
// Resolution is a backtracking search: for each unmet requirement, it picks
// the highest available version satisfying every active constraint,
// recurses into that version's own dependencies, and backtracks to the most
// recently introduced decision on conflict. The result is a DAG of
// PackageIds, which ExecutionPlan then partitions into topological batches
// so an installer can fetch and install within a batch in parallel.
package resolver

import (
	"sort"

	"github.com/opt-pm/pm/internal/version"
)

// NodeAction distinguishes a package that must be downloaded from one
// already available on disk as a local, pinned archive.
type NodeAction int

const (
	ActionDownload NodeAction = iota
	ActionLocal
)

func (a NodeAction) String() string {
	if a == ActionLocal {
		return "local"
	}
	return "download"
}

// PackageId identifies a single resolved package: a name plus the exact
// version selected for it. Equality is structural.
type PackageId struct {
	Name    string
	Version version.Version
}

func (id PackageId) String() string {
	return id.Name + "@" + id.Version.String()
}

// key returns the string form used to index PackageId in maps. version.Version
// wraps a pointer (github.com/Masterminds/semver/v3), so two PackageId values
// built from separately-parsed but equal versions are not == comparable;
// every map in this package keys on this string form instead of the struct
// itself.
func (id PackageId) key() string {
	return id.String()
}

func sortPackageIds(ids []PackageId) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Version.Compare(ids[j].Version) < 0
	})
}
