// Package builder orchestrates the full recipe-to-archive build pipeline:
// it drives a recipe's BuildSteps through internal/recipe, relocates the
// staged install tree's binaries and headers with internal/binfmt,
// generates SBOM documents with internal/sbom, and packages the result
// into a .sp archive with internal/archive. It is the single place that
// sequences those packages against the build state machine; each of them
// stays usable on its own.
package builder

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opt-pm/pm/internal/archive"
	"github.com/opt-pm/pm/internal/binfmt"
	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/recipe"
	"github.com/opt-pm/pm/internal/sbom"
	"github.com/opt-pm/pm/internal/store"
)

// State names a point in the build's state machine. Transitions are
// strictly ordered; a failure at any state aborts the build with the
// staging tree discarded rather than resuming from the last good state.
type State int

const (
	Loaded State = iota
	Fetched
	Extracted
	Configured
	Built
	Tested
	Staged
	Patched
	SBomed
	Packaged
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "Loaded"
	case Fetched:
		return "Fetched"
	case Extracted:
		return "Extracted"
	case Configured:
		return "Configured"
	case Built:
		return "Built"
	case Tested:
		return "Tested"
	case Staged:
		return "Staged"
	case Patched:
		return "Patched"
	case SBomed:
		return "SBomed"
	case Packaged:
		return "Packaged"
	default:
		return "Unknown"
	}
}

// Result is what a successful Build produces.
type Result struct {
	// FinalState is always Packaged on success.
	FinalState State

	// ArchivePath is the .sp file written under Config.ArchiveOutputDir
	// (the caller is responsible for Store.Put-ing it).
	ArchivePath string
	ArchiveHash store.Hash

	Manifest archive.Manifest
	SBOM     sbom.Files
}

// Error reports the build state at which the pipeline aborted, so a
// caller's logs can tell "failed fetching sources" from "failed
// packaging" without parsing the wrapped error's message.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return "build failed at " + e.State.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Config carries the paths and policy a Builder needs that don't come
// from the recipe itself.
type Config struct {
	// WorkDir is the per-build scratch directory (sources, build trees).
	WorkDir string
	// StagingDir is the DESTDIR-equivalent root every build-system
	// driver installs into.
	StagingDir string
	// LivePrefix is the prefix binaries will actually run from once
	// installed, e.g. "/opt/pm/live".
	LivePrefix string
	// ArchiveOutputDir is where the packaged .sp file is written.
	ArchiveOutputDir string
	// Jobs bounds build parallelism; <= 1 means serial.
	Jobs int
	// SourceDateEpoch pins both SBOM and archive timestamps for
	// byte-identical output across rebuilds of the same inputs.
	SourceDateEpoch int64
}

// Builder runs the build pipeline. It owns no long-lived state beyond its
// collaborators, so a single Builder can run many builds sequentially.
type Builder struct {
	interpreter *recipe.Interpreter
	sbomGen     func(name, version string) *sbom.Generator
	logger      log.Logger
}

// Option configures a Builder at construction time, the same
// functional-options shape the teacher's OrchestratorOption uses.
type Option func(*Builder)

// WithInterpreter overrides the recipe.Interpreter used to run BuildSteps.
func WithInterpreter(it *recipe.Interpreter) Option {
	return func(b *Builder) { b.interpreter = it }
}

// WithSBOMGenerator overrides how a sbom.Generator is constructed for a
// given package name/version. Defaults to sbom.New(name, version).
func WithSBOMGenerator(f func(name, version string) *sbom.Generator) Option {
	return func(b *Builder) { b.sbomGen = f }
}

// WithLogger overrides the Builder's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New returns a Builder ready to run builds.
func New(opts ...Option) *Builder {
	b := &Builder{
		interpreter: recipe.New(),
		sbomGen:     func(name, version string) *sbom.Generator { return sbom.New(name, version) },
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs every phase of the pipeline against an already-evaluated
// recipe result (recipe evaluation itself is the out-of-scope
// embedded-language evaluator's job; Build only consumes its output).
func (b *Builder) Build(ctx context.Context, rr recipe.RecipeResult, cfg Config) (_ *Result, err error) {
	defer func() {
		if err != nil {
			os.RemoveAll(cfg.StagingDir)
		}
	}()

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, &Error{Loaded, pmerrors.Wrap(pmerrors.KindTransient, "builder.Build", err, "creating work dir")}
	}
	if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
		return nil, &Error{Loaded, pmerrors.Wrap(pmerrors.KindTransient, "builder.Build", err, "creating staging dir")}
	}

	state := recipe.NewState(cfg.WorkDir, cfg.StagingDir, cfg.LivePrefix, cfg.Jobs, nil)

	// Phases 2-4 (and the optional Tested transition): source
	// acquisition, archive stripping, and the build-system driver all
	// happen step by step inside the interpreter, since the steps
	// themselves (fetch/git/a build-system name/configure/make/test/
	// install) are what carry that granularity — not something Build
	// can observe from the outside without re-deriving the recipe's own
	// step list.
	if err := b.interpreter.Run(ctx, rr.Steps, state); err != nil {
		return nil, &Error{Fetched, err}
	}

	// Phase 5: post-install path relocation.
	if err := b.patch(ctx, cfg); err != nil {
		return nil, &Error{Patched, err}
	}

	// Phase 6: SBOM.
	sbomFiles, err := b.generateSBOM(ctx, rr, state, cfg)
	if err != nil {
		return nil, &Error{SBomed, err}
	}

	// Phase 7: packaging.
	manifest, archivePath, archiveHash, err := b.packageArchive(rr, sbomFiles, cfg)
	if err != nil {
		return nil, &Error{Packaged, err}
	}

	return &Result{
		FinalState:  Packaged,
		ArchivePath: archivePath,
		ArchiveHash: archiveHash,
		Manifest:    manifest,
		SBOM:        sbomFiles,
	}, nil
}

func (b *Builder) patch(ctx context.Context, cfg Config) error {
	livePrefixLib := filepath.Join(cfg.LivePrefix, "lib")

	if err := binfmt.RewriteHeaders(cfg.StagingDir, cfg.WorkDir); err != nil {
		return err
	}

	return filepath.WalkDir(cfg.StagingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		return binfmt.NormalizeInstallPaths(ctx, path, cfg.WorkDir, livePrefixLib, b.logger)
	})
}

func (b *Builder) generateSBOM(ctx context.Context, rr recipe.RecipeResult, state *recipe.State, cfg Config) (sbom.Files, error) {
	if !state.AutoSBOM {
		return sbom.Files{}, nil
	}

	gen := b.sbomGen(rr.Name, rr.Version)
	policy := sbom.Policy{Format: sbom.FormatAll, Excludes: state.SBOMExcludes}
	return gen.Generate(ctx, cfg.StagingDir, cfg.WorkDir, policy)
}

func (b *Builder) packageArchive(rr recipe.RecipeResult, sbomFiles sbom.Files, cfg Config) (archive.Manifest, string, store.Hash, error) {
	files, err := manifestFiles(cfg.StagingDir)
	if err != nil {
		return archive.Manifest{}, "", store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "builder.packageArchive", err, "hashing staged files")
	}

	manifest := archive.Manifest{
		Name:         rr.Name,
		Version:      rr.Version,
		Dependencies: rr.Dependencies,
		Files:        files,
	}

	if err := os.MkdirAll(cfg.ArchiveOutputDir, 0755); err != nil {
		return archive.Manifest{}, "", store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "builder.packageArchive", err, "creating archive output dir")
	}
	archivePath := filepath.Join(cfg.ArchiveOutputDir, rr.Name+"-"+rr.Version+".sp")

	hash, err := archive.Pack(cfg.StagingDir, archivePath, manifest, cfg.SourceDateEpoch)
	if err != nil {
		return archive.Manifest{}, "", store.Hash{}, err
	}
	return manifest, archivePath, hash, nil
}

func manifestFiles(stagingDir string) ([]archive.FileEntry, error) {
	var entries []archive.FileEntry
	err := filepath.WalkDir(stagingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		hash, err := store.HashReader(f)
		if err != nil {
			return err
		}
		entries = append(entries, archive.FileEntry{Path: filepath.ToSlash(rel), Hash: hash.String()})
		return nil
	})
	return entries, err
}
