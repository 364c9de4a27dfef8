package main

import (
	"errors"
	"os"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// Exit codes, mapping pmerrors.Kind onto the four-way split spec.md §6
// leaves to "the driver": 0 success, 1 user error, 2 transient, 3
// verification failure. Everything else not cleanly one of those three
// falls back to the general error code, the same way the teacher's own
// exitcodes.go reserves a catch-all below its more specific codes.
const (
	ExitSuccess   = 0
	ExitUsage     = 1
	ExitTransient = 2
	ExitVerify    = 3
	ExitGeneral   = 4
)

func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	kind, ok := pmerrors.KindOf(err)
	if !ok {
		return ExitGeneral
	}
	switch kind {
	case pmerrors.KindInvalidInput, pmerrors.KindNotFound, pmerrors.KindConflict:
		return ExitUsage
	case pmerrors.KindTransient, pmerrors.KindExternal:
		return ExitTransient
	case pmerrors.KindIntegrity, pmerrors.KindPolicy:
		return ExitVerify
	default:
		return ExitGeneral
	}
}

func fail(err error) {
	var pmErr *pmerrors.Error
	if errors.As(err, &pmErr) {
		os.Stderr.WriteString(pmErr.Error() + "\n")
	} else {
		os.Stderr.WriteString(err.Error() + "\n")
	}
	os.Exit(exitCodeFor(err))
}
