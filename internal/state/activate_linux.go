//go:build linux

package state

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// activateLiveLink points liveLink at tmpLink's target. When liveLink
// already exists, it uses RENAME_EXCHANGE so there is no instant at which
// neither name resolves to a state directory; tmpLink ends up holding the
// previous live target afterward and is discarded. A filesystem that
// rejects RENAME_EXCHANGE (not all of them implement it) falls back to a
// plain rename, which is still atomic, just without the no-gap guarantee.
func activateLiveLink(tmpLink, liveLink string) error {
	if _, err := os.Lstat(liveLink); err != nil {
		if err := os.Rename(tmpLink, liveLink); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.activateLiveLink", err, "activating live prefix")
		}
		return nil
	}

	if err := unix.Renameat2(unix.AT_FDCWD, tmpLink, unix.AT_FDCWD, liveLink, unix.RENAME_EXCHANGE); err != nil {
		if err := os.Rename(tmpLink, liveLink); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "state.activateLiveLink", err, "activating live prefix")
		}
		return nil
	}

	os.Remove(tmpLink)
	return nil
}
