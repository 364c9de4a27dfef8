//go:build !linux

package state

import (
	"os"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// activateLiveLink points liveLink at tmpLink's target via a plain rename,
// atomic on any POSIX filesystem. RENAME_EXCHANGE is Linux-specific; other
// platforms (darwin, BSD) get the two-rename sequence spec.md describes
// directly rather than the no-gap variant.
func activateLiveLink(tmpLink, liveLink string) error {
	if err := os.Rename(tmpLink, liveLink); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "state.activateLiveLink", err, "activating live prefix")
	}
	return nil
}
