package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/store"
)

// FileEntry is one file belonging to an installed package, as materialized
// into a state directory. Most entries are regular files hard-linked from
// the store; an entry with a non-empty SymlinkTarget is materialized as a
// symlink instead (e.g. a <live>/bin wrapper pointing into a package's own
// directory), and Hash/Mode are unused for it.
type FileEntry struct {
	Path          string     `json:"path"` // relative to the state root
	Hash          store.Hash `json:"hash"`
	Mode          uint32     `json:"mode"`
	SymlinkTarget string     `json:"symlink_target,omitempty"`
}

// IsSymlink reports whether this entry materializes as a symlink rather
// than a hard-linked regular file.
func (f FileEntry) IsSymlink() bool {
	return f.SymlinkTarget != ""
}

// PackageManifest is everything a state remembers about one installed
// package: enough to reconstruct its files (for the guard) or remove them
// (for uninstall) without touching the recipe or build system again.
type PackageManifest struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Files   []FileEntry `json:"files"`
}

// State is one immutable point in pm's install history.
type State struct {
	ID        uuid.UUID
	ParentID  uuid.UUID // uuid.Nil for the root state
	CreatedAt time.Time
	Current   bool
	Packages  []PackageManifest
}

// HasParent reports whether this state was derived from an earlier one.
func (s State) HasParent() bool {
	return s.ParentID != uuid.Nil
}
