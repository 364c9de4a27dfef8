package resolver

import (
	"sort"

	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/version"
)

// Requirement names a package and the version constraint it must satisfy.
type Requirement struct {
	Name string
	Spec version.Spec
}

// PackageMeta describes one version of a package as reported by an Index.
type PackageMeta struct {
	Version      version.Version
	Dependencies []Requirement
}

// Index resolves the versions available for a package name. It decouples
// the solver from the remote registry protocol; internal/registryindex
// satisfies it against the local index cache.
type Index interface {
	Versions(name string) ([]PackageMeta, error)
}

// LocalPin hard-pins a package to a specific version carried by a local
// archive, bypassing the index for that name entirely.
type LocalPin struct {
	Name         string
	Version      version.Version
	Dependencies []Requirement
}

// Input is the root set of requirements and local pins a Solve call must
// satisfy.
type Input struct {
	Requirements []Requirement
	Pins         []LocalPin
}

type decision struct {
	id     PackageId
	action NodeAction
	deps   []Requirement
}

type solverState struct {
	idx       Index
	pins      map[string]LocalPin
	decisions map[string]decision
	order     []string
}

type solverSnapshot struct {
	decisions map[string]decision
	order     []string
}

func (s *solverState) snapshot() solverSnapshot {
	decisions := make(map[string]decision, len(s.decisions))
	for k, v := range s.decisions {
		decisions[k] = v
	}
	order := append([]string(nil), s.order...)
	return solverSnapshot{decisions: decisions, order: order}
}

func (s *solverState) restore(snap solverSnapshot) {
	s.decisions = snap.decisions
	s.order = snap.order
}

// Solve resolves input against idx into an ExecutionPlan.
//
// Algorithm: PubGrub-style backtracking over the index's available versions
// per name. For each unmet requirement it picks the highest version
// satisfying every active constraint, recurses into that version's declared
// dependencies, and backtracks to the most recently introduced decision
// (the innermost still-unexhausted candidate list, by construction of the
// recursion) on conflict. Local pins act as hard pins that never consult
// the index. This is a depth-first search with full state snapshot/restore
// per candidate rather than PubGrub's incompatibility-clause bookkeeping;
// it is simpler to verify correct and is adequate at the package counts a
// single install resolves.
func Solve(idx Index, input Input) (*ExecutionPlan, error) {
	s := &solverState{
		idx:       idx,
		pins:      make(map[string]LocalPin, len(input.Pins)),
		decisions: make(map[string]decision),
	}
	for _, pin := range input.Pins {
		s.pins[pin.Name] = pin
	}

	queue := append([]Requirement(nil), input.Requirements...)
	if err := resolve(s, queue); err != nil {
		return nil, err
	}

	graph := NewDependencyGraph()
	for _, name := range s.order {
		d := s.decisions[name]
		graph.AddNode(d.id, d.action)
	}
	for _, name := range s.order {
		d := s.decisions[name]
		for _, dep := range d.deps {
			depDecision, ok := s.decisions[dep.Name]
			if !ok {
				continue
			}
			graph.AddEdge(depDecision.id, d.id)
		}
	}

	if graph.hasCycle() {
		return nil, pmerrors.New(pmerrors.KindConflict, "resolver.Solve",
			"CircularDependency: dependency graph contains a cycle")
	}

	sorted := topoSort(graph)
	return FromSortedPackages(sorted, graph), nil
}

func resolve(s *solverState, queue []Requirement) error {
	if len(queue) == 0 {
		return nil
	}
	req, rest := queue[0], queue[1:]

	if existing, ok := s.decisions[req.Name]; ok {
		if !req.Spec.Matches(existing.id.Version) {
			return pmerrors.New(pmerrors.KindConflict, "resolver.Solve",
				"ConflictingConstraints: %s requires %s but %s is already selected",
				req.Name, req.Spec, existing.id.Version)
		}
		return resolve(s, rest)
	}

	if pin, ok := s.pins[req.Name]; ok {
		if !req.Spec.Matches(pin.Version) {
			return pmerrors.New(pmerrors.KindConflict, "resolver.Solve",
				"ConflictingConstraints: pinned %s@%s does not satisfy %s",
				pin.Name, pin.Version, req.Spec)
		}
		return decideAndRecurse(s, req.Name, pin.Version, ActionLocal, pin.Dependencies, rest)
	}

	available, err := s.idx.Versions(req.Name)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "resolver.Solve", err, "looking up %s in index", req.Name)
	}
	if len(available) == 0 {
		return pmerrors.New(pmerrors.KindNotFound, "resolver.Solve",
			"UnknownPackage: %s has no published versions", req.Name)
	}

	candidates := make([]PackageMeta, 0, len(available))
	for _, m := range available {
		if req.Spec.Matches(m.Version) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return pmerrors.New(pmerrors.KindConflict, "resolver.Solve",
			"ConflictingConstraints: no version of %s satisfies %s", req.Name, req.Spec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Version.GreaterThan(candidates[j].Version)
	})

	var lastErr error
	for _, candidate := range candidates {
		snap := s.snapshot()
		err := decideAndRecurse(s, req.Name, candidate.Version, ActionDownload, candidate.Dependencies, rest)
		if err == nil {
			return nil
		}
		lastErr = err
		s.restore(snap)
	}
	return lastErr
}

func decideAndRecurse(s *solverState, name string, v version.Version, action NodeAction, deps []Requirement, rest []Requirement) error {
	s.decisions[name] = decision{id: PackageId{Name: name, Version: v}, action: action, deps: deps}
	s.order = append(s.order, name)

	next := make([]Requirement, 0, len(rest)+len(deps))
	next = append(next, rest...)
	next = append(next, deps...)
	return resolve(s, next)
}
