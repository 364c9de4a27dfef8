package guard

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/state"
)

// guardBackupDirName holds files moved aside under a Backup disposition,
// nested inside the state directory so it participates in that state's
// own lifecycle (removed along with the state by retention GC).
const guardBackupDirName = ".guard-backup"

// disposition is the three-way outcome UserFilePolicy and
// OrphanedFileAction both reduce to once applied to a concrete path.
type disposition int

const (
	dispPreserve disposition = iota
	dispRemove
	dispBackup
)

func (g *Guard) dispositionFor(kind DiscrepancyKind) disposition {
	if kind == Orphaned {
		switch g.policy.OrphanedFileAction {
		case OrphanedRemove:
			return dispRemove
		case OrphanedBackup:
			return dispBackup
		default:
			return dispPreserve
		}
	}
	switch g.policy.UserFilePolicy {
	case Remove:
		return dispRemove
	case Backup:
		return dispBackup
	default:
		return dispPreserve
	}
}

// Heal repairs every discrepancy it can: missing and corrupted files are
// re-linked from the store, wrong symlink targets are retargeted, and
// extra or orphaned files are disposed of per the configured policy.
// Repairs it cannot make (an expectation Heal has no manifest entry for,
// or a store object that has itself gone missing) are logged and skipped
// rather than treated as a hard failure — Run decides whether a surviving
// discrepancy after Heal should become an error.
func (g *Guard) Heal(ctx context.Context, id uuid.UUID, discrepancies []Discrepancy) error {
	packages, err := g.states.GetStatePackages(ctx, id)
	if err != nil {
		return err
	}
	stateDir := g.states.StateDir(id)

	expected := make(map[string]state.FileEntry)
	for _, pkg := range packages {
		for _, f := range pkg.Files {
			expected[f.Path] = f
		}
	}

	for _, d := range discrepancies {
		full := filepath.Join(stateDir, d.Path)
		var err error
		switch d.Kind {
		case Missing, Corrupted:
			f, ok := expected[d.Path]
			if !ok {
				g.logger.Warn("guard: no manifest entry to heal from", "path", d.Path)
				continue
			}
			err = g.relink(f, full)
		case WrongSymlinkTarget:
			f, ok := expected[d.Path]
			if !ok || !f.IsSymlink() {
				g.logger.Warn("guard: no symlink manifest entry to heal from", "path", d.Path)
				continue
			}
			err = g.retarget(f, full)
		case Extra, Orphaned:
			err = g.disposeExtra(full, stateDir, g.dispositionFor(d.Kind))
		}
		if err != nil {
			g.logger.Warn("guard: failed to heal discrepancy", "path", d.Path, "kind", d.Kind, "error", err)
		}
	}
	return nil
}

// relink re-links full from the store object named by f.Hash, replacing
// whatever (if anything) is currently at full.
func (g *Guard) relink(f state.FileEntry, full string) error {
	os.Remove(full) // best effort: clears a stale or corrupted file; no-op if already missing
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "guard.Heal", err, "creating parent directory for %s", full)
	}
	return g.store.LinkInto(f.Hash, full)
}

func (g *Guard) retarget(f state.FileEntry, full string) error {
	os.Remove(full)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "guard.Heal", err, "creating parent directory for %s", full)
	}
	if err := os.Symlink(f.SymlinkTarget, full); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "guard.Heal", err, "retargeting symlink %s", full)
	}
	return nil
}

func (g *Guard) disposeExtra(full, stateDir string, action disposition) error {
	switch action {
	case dispRemove:
		return os.RemoveAll(full)
	case dispBackup:
		rel, err := filepath.Rel(stateDir, full)
		if err != nil {
			return err
		}
		backupRoot := g.policy.OrphanedBackupDir
		if backupRoot == "" {
			backupRoot = filepath.Join(stateDir, guardBackupDirName)
		} else if !filepath.IsAbs(backupRoot) {
			backupRoot = filepath.Join(stateDir, backupRoot)
		}
		dest := filepath.Join(backupRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		return os.Rename(full, dest)
	default: // dispPreserve
		return nil
	}
}
