package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/pmerrors"
)

func marshalManifest(p PackageManifest) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalManifest(s string) (PackageManifest, error) {
	var p PackageManifest
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}

// TransitionInput describes the target package set for a new state, each
// with the store objects that must already be (or will be made) present.
type TransitionInput struct {
	// Packages is the full target set for the new state — not a delta.
	// Install/update/uninstall all compute this set before calling
	// Transition; Transition only materializes and activates it.
	Packages []PackageManifest
}

// Transition executes spec.md §4.7 steps 1–7: it takes the state lock,
// materializes a new state directory by hard-linking store objects into
// place, persists the new state record (with the current state as parent)
// inside a database transaction, atomically flips the live-prefix symlink,
// and releases the lock. Steps 8 (verification) and 9 (retention GC) are
// the caller's responsibility — they need the guard and belong to the
// install pipeline that sits above both state and guard, so state itself
// never imports guard.
//
// On any failure before the symlink flip, the new state directory and any
// partially-written database row are cleaned up and the live prefix is left
// untouched, matching the "abort without observable effect" contract.
func (m *Manager) Transition(ctx context.Context, input TransitionInput) (*State, error) {
	var result *State
	err := m.withLock(func() error {
		newID := uuid.New()
		parentID, hasParent, err := m.CurrentStateID(ctx)
		if err != nil {
			return err
		}

		stateDir := m.cfg.StatePath(newID.String())
		if err := m.materialize(stateDir, input.Packages); err != nil {
			os.RemoveAll(stateDir)
			return err
		}

		if err := m.persistState(ctx, newID, parentID, hasParent, input.Packages); err != nil {
			os.RemoveAll(stateDir)
			return err
		}

		if err := m.activate(stateDir); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.Transition", err, "activating state %s", newID)
		}

		result = &State{ID: newID, ParentID: parentID, Current: true, Packages: input.Packages}
		return nil
	})
	return result, err
}

// materialize hard-links every regular file of every package in packages
// into stateDir and creates any symlink entries, reproducing each
// package's recorded layout (step 4).
func (m *Manager) materialize(stateDir string, packages []PackageManifest) error {
	for _, pkg := range packages {
		for _, f := range pkg.Files {
			dest := filepath.Join(stateDir, f.Path)
			if f.IsSymlink() {
				if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
					return pmerrors.Wrap(pmerrors.KindTransient, "state.materialize", err, "creating parent directory for %s", f.Path)
				}
				os.Remove(dest) // best effort: replace a stale symlink from a previous attempt
				if err := os.Symlink(f.SymlinkTarget, dest); err != nil {
					return pmerrors.Wrap(pmerrors.KindTransient, "state.materialize", err, "linking %s to %s", dest, f.SymlinkTarget)
				}
				continue
			}
			if err := m.store.LinkInto(f.Hash, dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// persistState writes the new state row and its package manifests, and
// clears is_current off the previous state, all inside one transaction
// (step 5 — "the database update is itself transactional").
func (m *Manager) persistState(ctx context.Context, id, parentID uuid.UUID, hasParent bool, packages []PackageManifest) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.persistState", err, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE states SET is_current = 0 WHERE is_current = 1`); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.persistState", err, "clearing previous current state")
	}

	var parentArg sql.NullString
	if hasParent {
		parentArg = sql.NullString{String: parentID.String(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO states (id, parent_id, created_at, is_current) VALUES (?, ?, ?, 1)`,
		id.String(), parentArg, time.Now().Unix(),
	); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.persistState", err, "inserting state %s", id)
	}

	for _, pkg := range packages {
		manifestJSON, err := marshalManifest(pkg)
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindInternal, "state.persistState", err, "marshaling manifest for %s", pkg.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_packages (state_id, name, version, manifest_json) VALUES (?, ?, ?, ?)`,
			id.String(), pkg.Name, pkg.Version, manifestJSON,
		); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.persistState", err, "inserting package %s for state %s", pkg.Name, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.persistState", err, "committing state %s", id)
	}
	return nil
}

// activate performs step 6: the atomic live-prefix symlink swap.
func (m *Manager) activate(stateDir string) error {
	tmpLink := m.cfg.LiveLink + ".tmp"
	os.Remove(tmpLink) // best effort: clear any stale tmp link from a crashed prior attempt
	if err := os.Symlink(stateDir, tmpLink); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.activate", err, "creating temporary live link")
	}
	return activateLiveLink(tmpLink, m.cfg.LiveLink)
}

// Rollback makes targetID the current state and re-activates the live
// prefix to point at it, per spec.md §4.7's "identical to step 6 with
// target_id as the new current." The guard is expected to run afterward;
// Rollback itself only flips state.
func (m *Manager) Rollback(ctx context.Context, targetID uuid.UUID) error {
	return m.withLock(func() error {
		exists, err := m.StateExists(ctx, targetID)
		if err != nil {
			return err
		}
		if !exists {
			return pmerrors.New(pmerrors.KindNotFound, "state.Rollback", "state %s does not exist", targetID)
		}

		stateDir := m.cfg.StatePath(targetID.String())
		if _, err := os.Stat(stateDir); err != nil {
			return pmerrors.Wrap(pmerrors.KindIntegrity, "state.Rollback", err, "state directory for %s is missing", targetID)
		}

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.Rollback", err, "beginning transaction")
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `UPDATE states SET is_current = 0 WHERE is_current = 1`); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.Rollback", err, "clearing current state")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE states SET is_current = 1 WHERE id = ?`, targetID.String()); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.Rollback", err, "marking %s current", targetID)
		}
		if err := tx.Commit(); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.Rollback", err, "committing rollback to %s", targetID)
		}

		if err := m.activate(stateDir); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.Rollback", err, "activating state %s", targetID)
		}
		return nil
	})
}
