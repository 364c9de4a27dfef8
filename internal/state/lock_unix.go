//go:build !windows

package state

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// fileLock is an OS-level advisory lock over the state lock file, excluding
// other pm process instances the way the in-process mutex excludes other
// goroutines within this one.
type fileLock struct {
	f *os.File
}

func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.acquireFileLock", err, "opening state lock file")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.acquireFileLock", err, "acquiring state lock")
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return pmerrors.Wrap(pmerrors.KindTransient, "state.fileLock.release", err, "releasing state lock")
	}
	return l.f.Close()
}
