//go:build windows

package state

import (
	"os"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// fileLock on Windows only opens the lock file; it takes no OS lock and
// does not open the file exclusively, so single-writer isolation comes
// from the in-process mutex alone and other pm processes are not excluded.
type fileLock struct {
	f *os.File
}

func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "state.acquireFileLock", err, "opening state lock file")
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	return l.f.Close()
}
