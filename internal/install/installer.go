package install

import (
	"context"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opt-pm/pm/internal/guard"
	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/resolver"
	"github.com/opt-pm/pm/internal/resource"
	"github.com/opt-pm/pm/internal/state"
	"github.com/opt-pm/pm/internal/store"
	"github.com/opt-pm/pm/internal/version"
)

// ArtifactFetcher resolves a downloadable package's PackageId to a local
// .sp file Installer can Ingest. The remote registry/artifact protocol
// itself is out of scope for this module — callers that need real
// downloads supply their own implementation via WithArtifactFetcher; the
// zero value refuses every download-action package, which keeps
// local-file installs fully usable without one.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, id resolver.PackageId) (path string, cleanup func(), err error)
}

type noFetcher struct{}

func (noFetcher) Fetch(_ context.Context, id resolver.PackageId) (string, func(), error) {
	return "", nil, pmerrors.New(pmerrors.KindPolicy, "install.ArtifactFetcher", "no artifact fetcher configured to download %s", id)
}

// Config carries the policy knobs Installer needs beyond its
// collaborators.
type Config struct {
	// StateRetention is how many states CleanupOldStates keeps after a
	// successful install/uninstall/update, always in addition to whichever
	// one is current.
	StateRetention int
	// VerificationLevel is how thoroughly the guard checks a newly
	// activated state before Install/Uninstall/Update return.
	VerificationLevel guard.VerificationLevel
	// RecoveryStrategy governs how ingesting a .sp archive reacts to
	// per-file validation errors.
	RecoveryStrategy RecoveryStrategy
}

// DefaultConfig returns a Config retaining 10 states and verifying newly
// activated states at the Standard level, mirroring the teacher/original's
// own defaults (state_retention: 10).
func DefaultConfig() Config {
	return Config{StateRetention: 10, VerificationLevel: guard.Standard, RecoveryStrategy: ContinueWithWarnings}
}

// Installer drives install/uninstall/update/rollback, wiring the resolver,
// content store, state engine, and verification guard together — the one
// place all four meet, since internal/state deliberately never imports
// internal/guard on its own.
type Installer struct {
	cfg      Config
	idx      resolver.Index
	states   *state.Manager
	store    *store.Store
	guard    *guard.Guard
	fetcher  ArtifactFetcher
	resource *resource.Manager
	logger   log.Logger
}

// Option configures an Installer at construction time.
type Option func(*Installer)

// WithArtifactFetcher overrides how download-action packages are fetched.
func WithArtifactFetcher(f ArtifactFetcher) Option {
	return func(in *Installer) { in.fetcher = f }
}

// WithResourceManager overrides the semaphore/memory governor bounding
// concurrent batch execution. Defaults to resource.FromSystem().
func WithResourceManager(m *resource.Manager) Option {
	return func(in *Installer) { in.resource = m }
}

// WithLogger overrides the Installer's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(in *Installer) { in.logger = l }
}

// New constructs an Installer ready to run install/uninstall/update
// operations.
func New(cfg Config, idx resolver.Index, states *state.Manager, st *store.Store, g *guard.Guard, opts ...Option) *Installer {
	in := &Installer{
		cfg:      cfg,
		idx:      idx,
		states:   states,
		store:    st,
		guard:    g,
		fetcher:  noFetcher{},
		resource: resource.FromSystem(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// InstallContext names what Install should add to the current state:
// Packages by name (any available version, resolved against the index)
// and/or LocalFiles, each a path to a .sp archive pinned to exactly the
// version it contains.
type InstallContext struct {
	Packages   []string
	LocalFiles []string
}

// UninstallContext names the packages Uninstall should remove from the
// current state.
type UninstallContext struct {
	Packages []string
}

// UpdateContext names the packages Update should re-resolve to their
// latest satisfying version; an empty Packages list means update
// everything in the current state.
type UpdateContext struct {
	Packages []string
}

// Result is what a successful Install/Uninstall/Update returns.
type Result struct {
	StateID       uuid.UUID
	Packages      []state.PackageManifest
	Warnings      []string
	Discrepancies []guard.Discrepancy
}

// Install resolves ctx's requirements against the index (and ingests any
// local .sp pins), merges the result into the current package set, and
// transitions to a new state holding the union.
func (in *Installer) Install(ctx context.Context, ictx InstallContext) (*Result, error) {
	if len(ictx.Packages) == 0 && len(ictx.LocalFiles) == 0 {
		return nil, pmerrors.New(pmerrors.KindInvalidInput, "install.Install", "no packages or local files specified")
	}
	for _, path := range ictx.LocalFiles {
		if _, err := os.Stat(path); err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindNotFound, "install.Install", err, "local package file %s", path)
		}
		if err := ValidatePackageExtension(path); err != nil {
			return nil, err
		}
	}

	recovery := NewErrorRecoveryManager(in.cfg.RecoveryStrategy)

	ingested := make(map[string]IngestResult, len(ictx.LocalFiles))
	var pins []resolver.LocalPin
	var warnings []string
	for _, path := range ictx.LocalFiles {
		result, err := Ingest(in.store, path, recovery)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, result.Warnings...)

		v, err := version.Parse(result.Manifest.Version)
		if err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindInvalidInput, "install.Install", err, "%s: parsing package version", path)
		}
		ingested[result.Manifest.Name] = result
		pins = append(pins, resolver.LocalPin{
			Name:         result.Manifest.Name,
			Version:      v,
			Dependencies: requirementsFor(result.Dependencies),
		})
	}

	requirements := make([]resolver.Requirement, len(ictx.Packages))
	for i, name := range ictx.Packages {
		requirements[i] = resolver.Requirement{Name: name, Spec: version.Spec{}}
	}

	plan, err := resolver.Solve(in.idx, resolver.Input{Requirements: requirements, Pins: pins})
	if err != nil {
		return nil, err
	}

	resolved, err := in.executePlan(ctx, plan, ingested)
	if err != nil {
		return nil, err
	}

	current, err := in.currentPackages(ctx)
	if err != nil {
		return nil, err
	}
	merged := mergePackages(current, resolved)

	result, err := in.transition(ctx, merged)
	if err != nil {
		return nil, err
	}
	result.Warnings = warnings
	return result, nil
}

// executePlan materializes every package in plan's batches into a
// PackageManifest, pulling local pins from the already-ingested map and
// everything else through the configured ArtifactFetcher. Each batch runs
// concurrently (packages within a batch share no dependency by
// construction) bounded by the resource manager's installation semaphore.
func (in *Installer) executePlan(ctx context.Context, plan *resolver.ExecutionPlan, ingested map[string]IngestResult) ([]state.PackageManifest, error) {
	var out []state.PackageManifest
	for _, batch := range plan.Batches() {
		batch := batch
		results := make([]state.PackageManifest, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range batch {
			i, id := i, id
			g.Go(func() error {
				m, err := in.materialize(gctx, id, ingested)
				if err != nil {
					return err
				}
				results[i] = m
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

func (in *Installer) materialize(ctx context.Context, id resolver.PackageId, ingested map[string]IngestResult) (state.PackageManifest, error) {
	if pre, ok := ingested[id.Name]; ok {
		return pre.Manifest, nil
	}

	path, cleanup, err := in.fetchArtifact(ctx, id)
	if err != nil {
		return state.PackageManifest{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	installPermit, err := in.resource.AcquireInstallationPermit(ctx)
	if err != nil {
		return state.PackageManifest{}, err
	}
	defer installPermit.Release()

	result, err := Ingest(in.store, path, NewErrorRecoveryManager(in.cfg.RecoveryStrategy))
	if err != nil {
		return state.PackageManifest{}, err
	}
	return result.Manifest, nil
}

// fetchArtifact acquires a download permit for the lifetime of the
// fetcher call: the permit bounds how many transfers run at once,
// independent of the installation semaphore that separately bounds how
// many packages are being unpacked into the store at once.
func (in *Installer) fetchArtifact(ctx context.Context, id resolver.PackageId) (string, func(), error) {
	downloadPermit, err := in.resource.AcquireDownloadPermit(ctx)
	if err != nil {
		return "", nil, err
	}
	defer downloadPermit.Release()

	return in.fetcher.Fetch(ctx, id)
}

// Uninstall removes the named packages from the current state's package
// set and transitions to a new state without them.
func (in *Installer) Uninstall(ctx context.Context, uctx UninstallContext) (*Result, error) {
	if len(uctx.Packages) == 0 {
		return nil, pmerrors.New(pmerrors.KindInvalidInput, "install.Uninstall", "no packages specified")
	}
	remove := make(map[string]bool, len(uctx.Packages))
	for _, name := range uctx.Packages {
		remove[name] = true
	}

	current, err := in.currentPackages(ctx)
	if err != nil {
		return nil, err
	}

	var kept []state.PackageManifest
	for _, pkg := range current {
		if !remove[pkg.Name] {
			kept = append(kept, pkg)
		}
	}
	if len(kept) == len(current) {
		return nil, pmerrors.New(pmerrors.KindNotFound, "install.Uninstall", "none of the specified packages are installed")
	}

	return in.transition(ctx, kept)
}

// Update re-resolves ctx's named packages (or every currently installed
// package when Packages is empty) to their latest satisfying version and
// transitions to the result.
func (in *Installer) Update(ctx context.Context, uctx UpdateContext) (*Result, error) {
	current, err := in.currentPackages(ctx)
	if err != nil {
		return nil, err
	}

	targets := uctx.Packages
	if len(targets) == 0 {
		for _, pkg := range current {
			targets = append(targets, pkg.Name)
		}
	}

	requirements := make([]resolver.Requirement, len(targets))
	for i, name := range targets {
		requirements[i] = resolver.Requirement{Name: name, Spec: version.Spec{}}
	}
	plan, err := resolver.Solve(in.idx, resolver.Input{Requirements: requirements})
	if err != nil {
		return nil, err
	}

	resolved, err := in.executePlan(ctx, plan, nil)
	if err != nil {
		return nil, err
	}

	updatedNames := make(map[string]bool, len(resolved))
	for _, pkg := range resolved {
		updatedNames[pkg.Name] = true
	}
	var merged []state.PackageManifest
	for _, pkg := range current {
		if !updatedNames[pkg.Name] {
			merged = append(merged, pkg)
		}
	}
	merged = append(merged, resolved...)

	return in.transition(ctx, merged)
}

// Rollback makes targetID the current state, re-activates the live
// prefix, and runs the guard against it the same way Install/Uninstall/
// Update do for a freshly materialized state.
func (in *Installer) Rollback(ctx context.Context, targetID uuid.UUID) (*Result, error) {
	exists, err := in.states.StateExists(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, pmerrors.New(pmerrors.KindNotFound, "install.Rollback", "state %s does not exist", targetID)
	}
	if err := in.states.Rollback(ctx, targetID); err != nil {
		return nil, err
	}
	return in.verifyAndFinish(ctx, targetID)
}

func (in *Installer) currentPackages(ctx context.Context) ([]state.PackageManifest, error) {
	id, ok, err := in.states.CurrentStateID(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return in.states.GetStatePackages(ctx, id)
}

func (in *Installer) transition(ctx context.Context, packages []state.PackageManifest) (*Result, error) {
	newState, err := in.states.Transition(ctx, state.TransitionInput{Packages: packages})
	if err != nil {
		return nil, err
	}
	result, err := in.verifyAndFinish(ctx, newState.ID)
	if err != nil {
		return nil, err
	}
	result.Packages = packages
	return result, nil
}

// verifyAndFinish runs the guard against the just-activated state (step 8)
// and prunes old states (step 9), the two steps state.Transition/Rollback
// deliberately leave to their caller.
func (in *Installer) verifyAndFinish(ctx context.Context, id uuid.UUID) (*Result, error) {
	discrepancies, err := in.guard.Run(ctx, id, in.cfg.VerificationLevel)
	if err != nil {
		return &Result{StateID: id, Discrepancies: discrepancies}, err
	}

	if _, err := in.states.CleanupOldStates(ctx, in.cfg.StateRetention); err != nil {
		in.logger.Warn("retention cleanup failed", "error", err)
	}
	if _, err := in.GarbageCollect(ctx); err != nil {
		in.logger.Warn("store garbage collection failed", "error", err)
	}

	return &Result{StateID: id, Discrepancies: discrepancies}, nil
}

// GarbageCollect reclaims store objects unreferenced by any surviving
// state, using every state's recorded file hashes as GC roots, and
// returns the number of objects removed. Install/Uninstall/Update/
// Rollback call this automatically after each transition; it is also
// exposed directly for an explicit "gc" operation.
func (in *Installer) GarbageCollect(ctx context.Context) (int, error) {
	states, err := in.states.ListStates(ctx)
	if err != nil {
		return 0, err
	}
	roots := make(map[store.Hash]struct{})
	for _, s := range states {
		packages, err := in.states.GetStatePackages(ctx, s.ID)
		if err != nil {
			return 0, err
		}
		for _, pkg := range packages {
			for _, f := range pkg.Files {
				if !f.IsSymlink() {
					roots[f.Hash] = struct{}{}
				}
			}
		}
	}
	return in.store.GarbageCollect(roots)
}

// ListStates returns every retained state, most recent parentage first as
// state.Manager records it.
func (in *Installer) ListStates(ctx context.Context) ([]state.State, error) {
	return in.states.ListStates(ctx)
}

// CurrentState returns the id of the currently active state, or false if
// nothing has been installed yet.
func (in *Installer) CurrentState(ctx context.Context) (uuid.UUID, bool, error) {
	return in.states.CurrentStateID(ctx)
}

func requirementsFor(names []string) []resolver.Requirement {
	reqs := make([]resolver.Requirement, len(names))
	for i, name := range names {
		reqs[i] = resolver.Requirement{Name: name, Spec: version.Spec{}}
	}
	return reqs
}

func mergePackages(current, incoming []state.PackageManifest) []state.PackageManifest {
	byName := make(map[string]state.PackageManifest, len(current)+len(incoming))
	var order []string
	for _, pkg := range current {
		if _, ok := byName[pkg.Name]; !ok {
			order = append(order, pkg.Name)
		}
		byName[pkg.Name] = pkg
	}
	for _, pkg := range incoming {
		if _, ok := byName[pkg.Name]; !ok {
			order = append(order, pkg.Name)
		}
		byName[pkg.Name] = pkg
	}
	merged := make([]state.PackageManifest, len(order))
	for i, name := range order {
		merged[i] = byName[name]
	}
	return merged
}
