package install

import (
	"strings"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// RecoveryStrategy selects how ErrorRecoveryManager reacts to a validation
// error.
type RecoveryStrategy int

const (
	// FailFast aborts validation on the first error.
	FailFast RecoveryStrategy = iota
	// ContinueWithWarnings converts recoverable errors into warnings and
	// keeps going.
	ContinueWithWarnings
	// AutoRecover marks permission and path errors (messages containing
	// "permission", "too long" or "path") as ActionCustomFix and keeps the
	// entry unchanged; it applies no fix itself. Every other error gets
	// ContinueWithWarnings' behavior.
	AutoRecover
	// SkipProblematic drops the offending file or section entirely rather
	// than fixing or merely warning about it.
	SkipProblematic
)

// RecoveryAction is what ErrorRecoveryManager decided to do about one
// error.
type RecoveryAction struct {
	Kind    RecoveryActionKind
	Warning string
}

// RecoveryActionKind distinguishes the shapes a RecoveryAction can take.
type RecoveryActionKind int

const (
	ActionFail RecoveryActionKind = iota
	ActionConvertToWarning
	ActionSkip
	ActionCustomFix
)

// RecoveryStats tracks how many errors a validation run has recovered
// from, for a final warning summary.
type RecoveryStats struct {
	TotalErrors     int
	RecoveredErrors int
	SkippedFiles    int
	SuccessRate     float64
}

// ErrorRecoveryManager applies a RecoveryStrategy to validation errors as
// they occur, bounding how many it will tolerate before giving up
// entirely.
type ErrorRecoveryManager struct {
	strategy   RecoveryStrategy
	maxErrors  int
	errorCount int
	stats      RecoveryStats
}

// NewErrorRecoveryManager returns a manager applying strategy, tolerating
// up to 10 errors before HandleError starts failing regardless of
// strategy.
func NewErrorRecoveryManager(strategy RecoveryStrategy) *ErrorRecoveryManager {
	return &ErrorRecoveryManager{strategy: strategy, maxErrors: 10}
}

// WithMaxErrors overrides the default error tolerance.
func (m *ErrorRecoveryManager) WithMaxErrors(max int) *ErrorRecoveryManager {
	m.maxErrors = max
	return m
}

// HandleError records err and decides what to do about it under the
// manager's strategy. It returns an error itself only once the error
// budget is exhausted.
func (m *ErrorRecoveryManager) HandleError(err error) (RecoveryAction, error) {
	m.errorCount++
	m.stats.TotalErrors++

	if m.errorCount > m.maxErrors {
		return RecoveryAction{}, pmerrors.Wrap(pmerrors.KindPolicy, "install.HandleError", err, "too many errors during validation (%d)", m.errorCount)
	}

	var action RecoveryAction
	switch m.strategy {
	case FailFast:
		action = RecoveryAction{Kind: ActionFail}
	case ContinueWithWarnings:
		action = warningAction(err)
	case AutoRecover:
		action = autoRecoverAction(err)
	case SkipProblematic:
		action = skipAction(err)
	default:
		action = warningAction(err)
	}

	m.applyStats(action)
	return action, nil
}

func warningAction(err error) RecoveryAction {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "corrupt") || strings.Contains(msg, "invalid"):
		return RecoveryAction{Kind: ActionConvertToWarning, Warning: "package has corruption issues but validation is continuing: " + err.Error()}
	case strings.Contains(msg, "checksum") || strings.Contains(msg, "hash mismatch"):
		return RecoveryAction{Kind: ActionConvertToWarning, Warning: "package has checksum issues but validation is continuing: " + err.Error()}
	default:
		return RecoveryAction{Kind: ActionConvertToWarning, Warning: "non-critical validation error: " + err.Error()}
	}
}

func autoRecoverAction(err error) RecoveryAction {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return RecoveryAction{Kind: ActionCustomFix, Warning: "permission issue detected, entry kept unchanged: " + err.Error()}
	case strings.Contains(msg, "too long") || strings.Contains(msg, "path"):
		return RecoveryAction{Kind: ActionCustomFix, Warning: "path issue detected, entry kept unchanged: " + err.Error()}
	default:
		return warningAction(err)
	}
}

func skipAction(err error) RecoveryAction {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "manifest") {
		// Manifest errors are never skippable: without a manifest there is
		// nothing left to install.
		return RecoveryAction{Kind: ActionConvertToWarning, Warning: "manifest issue detected but continuing: " + err.Error()}
	}
	return RecoveryAction{Kind: ActionSkip, Warning: "skipped problematic entry: " + err.Error()}
}

func (m *ErrorRecoveryManager) applyStats(action RecoveryAction) {
	switch action.Kind {
	case ActionConvertToWarning, ActionCustomFix:
		m.stats.RecoveredErrors++
	case ActionSkip:
		m.stats.RecoveredErrors++
		m.stats.SkippedFiles++
	}
	if m.stats.TotalErrors > 0 {
		m.stats.SuccessRate = float64(m.stats.RecoveredErrors) / float64(m.stats.TotalErrors)
	}
}

// Stats returns a snapshot of the manager's recovery statistics.
func (m *ErrorRecoveryManager) Stats() RecoveryStats { return m.stats }

// Viable reports whether recovery is still worth attempting: the error
// budget hasn't been exhausted, and once errors have occurred, at least
// half of them have been recovered from.
func (m *ErrorRecoveryManager) Viable() bool {
	if m.stats.TotalErrors == 0 {
		return m.errorCount <= m.maxErrors
	}
	return m.errorCount <= m.maxErrors && m.stats.SuccessRate >= 0.5
}
