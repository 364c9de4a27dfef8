package state

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// CleanupOldStates removes every state beyond the retain most recent ones,
// always keeping the current state regardless of age (step 9: "run
// retention GC, keep N most recent states"). It removes each pruned
// state's row, its package manifests, and its on-disk directory; store
// objects are reclaimed separately by the caller's store.GarbageCollect
// pass once every surviving state's file hashes are known as roots.
func (m *Manager) CleanupOldStates(ctx context.Context, retain int) ([]uuid.UUID, error) {
	if retain < 1 {
		retain = 1
	}

	states, err := m.ListStates(ctx)
	if err != nil {
		return nil, err
	}
	if len(states) <= retain {
		return nil, nil
	}

	// ListStates returns oldest first; keep the newest `retain` plus
	// whichever one is current even if it happens to be older (shouldn't
	// normally happen, since new states are always newest, but the
	// invariant is cheap to guarantee explicitly).
	keep := make(map[uuid.UUID]bool, retain)
	for i := len(states) - retain; i < len(states); i++ {
		keep[states[i].ID] = true
	}
	for _, s := range states {
		if s.Current {
			keep[s.ID] = true
		}
	}

	var removed []uuid.UUID
	for _, s := range states {
		if keep[s.ID] {
			continue
		}
		if err := m.removeState(ctx, s.ID); err != nil {
			return removed, err
		}
		removed = append(removed, s.ID)
	}
	return removed, nil
}

func (m *Manager) removeState(ctx context.Context, id uuid.UUID) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.removeState", err, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_packages WHERE state_id = ?`, id.String()); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.removeState", err, "deleting packages for state %s", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM states WHERE id = ?`, id.String()); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.removeState", err, "deleting state %s", id)
	}
	if err := tx.Commit(); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.removeState", err, "committing removal of state %s", id)
	}

	if err := os.RemoveAll(m.cfg.StatePath(id.String())); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.removeState", err, "removing state directory for %s", id)
	}
	return nil
}
