package guard

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/state"
	"github.com/opt-pm/pm/internal/store"
)

// Guard compares a state's recorded package manifests against what is
// materialized on disk and repairs the difference. It never mutates the
// state database — only the files under a state's own directory — so it
// can run concurrently with ordinary reads of the live prefix. It must
// not run concurrently with a Transition or Rollback against the same
// state, which both hold the state lock for exactly this reason.
type Guard struct {
	states *state.Manager
	store  *store.Store
	policy Policy
	logger log.Logger
}

// Option configures a Guard at construction time.
type Option func(*Guard)

// WithPolicy overrides the guard's verification and healing policy.
// Defaults to DefaultPolicy().
func WithPolicy(p Policy) Option {
	return func(g *Guard) { g.policy = p.ApplyLegacyFields() }
}

// WithLogger overrides the guard's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New constructs a Guard. This is a plain options record plus validation
// at the call site, not a chained mutation builder: states and st are
// required collaborators passed directly, and everything else is an
// Option with a sensible default.
func New(states *state.Manager, st *store.Store, opts ...Option) *Guard {
	g := &Guard{states: states, store: st, policy: DefaultPolicy(), logger: log.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify compares state id's recorded manifests against its materialized
// directory and returns every discrepancy found. It never writes to disk
// and never consults DiscrepancyHandling — that policy decision belongs
// to Run, which wraps Verify with the configured repair behavior.
func (g *Guard) Verify(ctx context.Context, id uuid.UUID, level VerificationLevel) ([]Discrepancy, error) {
	packages, err := g.states.GetStatePackages(ctx, id)
	if err != nil {
		return nil, err
	}
	stateDir := g.states.StateDir(id)

	expected := make(map[string]state.FileEntry)
	order := make([]string, 0)
	for _, pkg := range packages {
		for _, f := range pkg.Files {
			expected[f.Path] = f
			order = append(order, f.Path)
		}
	}

	var discrepancies []Discrepancy
	for i, relPath := range order {
		f := expected[relPath]
		d, checked, err := g.verifyOne(stateDir, f, level, i)
		if err != nil {
			return nil, err
		}
		if checked && d != nil {
			discrepancies = append(discrepancies, *d)
		}
	}

	extras, err := g.findExtras(stateDir, expected)
	if err != nil {
		return nil, err
	}
	discrepancies = append(discrepancies, extras...)
	return discrepancies, nil
}

// verifyOne checks a single recorded entry. checked reports whether the
// entry was actually inspected (false for files skipped by a Standard
// spot-check sampling decision).
func (g *Guard) verifyOne(stateDir string, f state.FileEntry, level VerificationLevel, index int) (d *Discrepancy, checked bool, err error) {
	full := filepath.Join(stateDir, f.Path)
	info, statErr := os.Lstat(full)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return &Discrepancy{Kind: Missing, Path: f.Path, Expected: expectedDesc(f)}, true, nil
		}
		return nil, true, pmerrors.Wrap(pmerrors.KindTransient, "guard.Verify", statErr, "stat %s", f.Path)
	}

	if f.IsSymlink() {
		if g.policy.SymlinkPolicy == Ignore {
			return nil, false, nil
		}
		if info.Mode()&os.ModeSymlink == 0 {
			if g.symlinkTolerated(f.Path) {
				return nil, false, nil
			}
			return &Discrepancy{Kind: WrongSymlinkTarget, Path: f.Path, Expected: f.SymlinkTarget, Actual: "not a symlink"}, true, nil
		}
		target, err := os.Readlink(full)
		if err != nil {
			return nil, true, pmerrors.Wrap(pmerrors.KindTransient, "guard.Verify", err, "reading symlink %s", f.Path)
		}
		if target != f.SymlinkTarget && !g.symlinkTolerated(f.Path) {
			return &Discrepancy{Kind: WrongSymlinkTarget, Path: f.Path, Expected: f.SymlinkTarget, Actual: target}, true, nil
		}
		return nil, true, nil
	}

	switch {
	case level == Quick:
		return nil, false, nil
	case level == Standard && index%3 != 0:
		return nil, false, nil
	}

	actual, err := g.hashFile(full)
	if err != nil {
		return nil, true, err
	}
	if actual != f.Hash {
		return &Discrepancy{Kind: Corrupted, Path: f.Path, Expected: f.Hash.String(), Actual: actual.String()}, true, nil
	}
	return nil, true, nil
}

func expectedDesc(f state.FileEntry) string {
	if f.IsSymlink() {
		return f.SymlinkTarget
	}
	return f.Hash.String()
}

func (g *Guard) hashFile(path string) (store.Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "guard.Verify", err, "opening %s", path)
	}
	defer file.Close()

	h, err := store.HashReader(file)
	if err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "guard.Verify", err, "hashing %s", path)
	}
	return h, nil
}

func (g *Guard) symlinkTolerated(relPath string) bool {
	switch g.policy.SymlinkPolicy {
	case LenientAll:
		return true
	case LenientBootstrap:
		top := strings.SplitN(filepath.ToSlash(relPath), "/", 2)[0]
		for _, dir := range g.policy.LenientDirs {
			if top == dir {
				return true
			}
		}
	}
	return false
}

// findExtras walks stateDir for files not named by any manifest entry.
// pm materializes a fresh directory per state rather than mutating one in
// place, so a file orphaned by a removed package never lingers in a later
// state's directory — only genuinely unrecognized files (left by a user,
// or by a process outside pm) turn up here, hence they are always
// reported as Extra rather than Orphaned.
func (g *Guard) findExtras(stateDir string, expected map[string]state.FileEntry) ([]Discrepancy, error) {
	var extras []Discrepancy
	err := filepath.WalkDir(stateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == guardBackupDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(stateDir, path)
		if err != nil {
			return err
		}
		if _, ok := expected[rel]; ok {
			return nil
		}
		extras = append(extras, Discrepancy{Kind: Extra, Path: rel, Actual: rel})
		return nil
	})
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "guard.Verify", err, "walking state directory %s", stateDir)
	}
	return extras, nil
}

// Run executes one verification pass and, depending on the configured
// DiscrepancyHandling, acts on what it finds: ReportOnly returns the
// discrepancies unchanged, FailFast returns them alongside an error,
// AutoHeal repairs everything it can and returns whatever remains, and
// AutoHealOrFail does the same but turns a non-empty remainder into an
// error. Healing is idempotent: calling Run again immediately afterward
// re-verifies from scratch and finds nothing left to fix.
func (g *Guard) Run(ctx context.Context, id uuid.UUID, level VerificationLevel) ([]Discrepancy, error) {
	discrepancies, err := g.Verify(ctx, id, level)
	if err != nil {
		return nil, err
	}
	if len(discrepancies) == 0 {
		return nil, nil
	}

	switch g.policy.DiscrepancyHandling {
	case FailFast:
		return discrepancies, pmerrors.New(pmerrors.KindPolicy, "guard.Run", "state %s has %d discrepancies under fail-fast policy", id, len(discrepancies))
	case ReportOnly:
		return discrepancies, nil
	case AutoHeal, AutoHealOrFail:
		if err := g.Heal(ctx, id, discrepancies); err != nil {
			return discrepancies, err
		}
		remaining, err := g.Verify(ctx, id, level)
		if err != nil {
			return nil, err
		}
		if len(remaining) > 0 && g.policy.DiscrepancyHandling == AutoHealOrFail {
			return remaining, pmerrors.New(pmerrors.KindIntegrity, "guard.Run", "state %s has %d unrepaired discrepancies", id, len(remaining))
		}
		return remaining, nil
	default:
		return discrepancies, nil
	}
}
