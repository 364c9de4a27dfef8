// Package state implements pm's atomic installer: immutable, UUID-keyed
// states recorded in a single-writer SQLite database, activated by an
// atomic live-prefix symlink swap. Every mutation — install, uninstall,
// update, rollback — goes through Manager.Transition or Manager.Rollback,
// which together are the sole place pm's on-disk layout changes.
package state

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/config"
	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS states (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	created_at INTEGER NOT NULL,
	is_current INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS state_packages (
	state_id TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	manifest_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_state_packages_state_id ON state_packages(state_id);
`

// Manager owns the state database, the state lock, and the live-prefix
// symlink for one pm home directory. A Manager is safe for concurrent use
// by multiple goroutines in this process; the file lock additionally
// excludes other pm processes pointed at the same home directory.
type Manager struct {
	cfg    *config.Config
	store  *store.Store
	db     *sql.DB
	logger log.Logger

	mu sync.Mutex // serializes Transition/Rollback within this process
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the Manager's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Open opens (creating if necessary) the state database at cfg.StateDBPath
// and ensures its schema exists.
func Open(cfg *config.Config, st *store.Store, opts ...Option) (*Manager, error) {
	db, err := sql.Open("sqlite", cfg.StateDBPath)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.Open", err, "opening state database")
	}
	db.SetMaxOpenConns(1) // single-writer invariant; modernc.org/sqlite serializes anyway, this makes it explicit

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.Open", err, "creating state schema")
	}

	m := &Manager{cfg: cfg, store: st, db: db, logger: log.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Close closes the underlying database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}

// withLock acquires both the in-process mutex and the cross-process file
// lock over cfg.StateLockPath for the duration of fn — spec.md §4.7 step 1
// and step 7.
func (m *Manager) withLock(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fl, err := acquireFileLock(m.cfg.StateLockPath)
	if err != nil {
		return err
	}
	defer fl.release()

	return fn()
}

// CurrentStateID returns the UUID of the state currently marked live, and
// false if no state has ever been installed.
func (m *Manager) CurrentStateID(ctx context.Context) (uuid.UUID, bool, error) {
	var idStr string
	err := m.db.QueryRowContext(ctx, `SELECT id FROM states WHERE is_current = 1 LIMIT 1`).Scan(&idStr)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, pmerrors.Wrap(pmerrors.KindTransient, "state.CurrentStateID", err, "querying current state")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false, pmerrors.Wrap(pmerrors.KindIntegrity, "state.CurrentStateID", err, "parsing stored state id %q", idStr)
	}
	return id, true, nil
}

// StateDir returns the on-disk directory a materialized state lives in,
// for callers (the verification guard) that need to walk it directly.
func (m *Manager) StateDir(id uuid.UUID) string {
	return m.cfg.StatePath(id.String())
}

// StateExists reports whether id names a recorded state.
func (m *Manager) StateExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM states WHERE id = ?`, id.String()).Scan(&count)
	if err != nil {
		return false, pmerrors.Wrap(pmerrors.KindTransient, "state.StateExists", err, "querying state %s", id)
	}
	return count > 0, nil
}

// ListStates returns every recorded state, ordered oldest first, without
// their package manifests (use GetStatePackages for those).
func (m *Manager) ListStates(ctx context.Context) ([]State, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, parent_id, created_at, is_current FROM states ORDER BY created_at ASC`)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.ListStates", err, "querying states")
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		var idStr string
		var parentStr sql.NullString
		var createdAt int64
		var isCurrent int
		if err := rows.Scan(&idStr, &parentStr, &createdAt, &isCurrent); err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.ListStates", err, "scanning state row")
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindIntegrity, "state.ListStates", err, "parsing state id %q", idStr)
		}
		var parentID uuid.UUID
		if parentStr.Valid && parentStr.String != "" {
			if parentID, err = uuid.Parse(parentStr.String); err != nil {
				return nil, pmerrors.Wrap(pmerrors.KindIntegrity, "state.ListStates", err, "parsing parent state id %q", parentStr.String)
			}
		}

		out = append(out, State{
			ID:        id,
			ParentID:  parentID,
			CreatedAt: time.Unix(createdAt, 0).UTC(),
			Current:   isCurrent != 0,
		})
	}
	return out, rows.Err()
}

// GetStatePackages returns the package manifests recorded for state id.
func (m *Manager) GetStatePackages(ctx context.Context, id uuid.UUID) ([]PackageManifest, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT manifest_json FROM state_packages WHERE state_id = ? ORDER BY name`, id.String())
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.GetStatePackages", err, "querying packages for state %s", id)
	}
	defer rows.Close()

	var out []PackageManifest
	for rows.Next() {
		var manifestJSON string
		if err := rows.Scan(&manifestJSON); err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.GetStatePackages", err, "scanning package row")
		}
		pkg, err := unmarshalManifest(manifestJSON)
		if err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindIntegrity, "state.GetStatePackages", err, "parsing manifest for state %s", id)
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}
