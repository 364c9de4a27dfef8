// Package errfmt provides enhanced error message formatting with actionable
// suggestions, layered on top of the typed errors pm's subsystems return.
package errfmt

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/version"
)

// Context provides additional context for error formatting.
type Context struct {
	PackageName string // the package being operated on (for suggestions)
}

// Format returns a formatted error message with possible causes and
// suggestions. ctx is optional; pass nil for generic formatting.
func Format(err error, ctx *Context) string {
	if err == nil {
		return ""
	}

	errMsg := err.Error()

	var resolverErr *version.ResolverError
	if errors.As(err, &resolverErr) {
		return formatResolverError(resolverErr, ctx)
	}

	var pmErr *pmerrors.Error
	if errors.As(err, &pmErr) {
		return formatPMError(pmErr, ctx)
	}

	if isRateLimitError(errMsg) {
		return formatRateLimitError(errMsg, ctx)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return formatNetworkError(netErr, ctx)
	}

	if isNetworkError(errMsg) {
		return formatGenericNetworkError(errMsg, ctx)
	}

	if isNotFoundError(errMsg) {
		return formatNotFoundError(errMsg, ctx)
	}

	if isPermissionError(errMsg) {
		return formatPermissionError(errMsg, ctx)
	}

	return errMsg
}

func formatPMError(err *pmerrors.Error, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	switch err.Kind {
	case pmerrors.KindNotFound:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The package or version does not exist in the index\n")
		sb.WriteString("  - Typo in the package name\n")
		sb.WriteString("\nSuggestions:\n")
		if ctx != nil && ctx.PackageName != "" {
			sb.WriteString(fmt.Sprintf("  - Run 'pm search %s' to see available packages\n", ctx.PackageName))
		} else {
			sb.WriteString("  - Run 'pm search <name>' to see available packages\n")
		}

	case pmerrors.KindConflict:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - No version assignment satisfies every dependency constraint\n")
		sb.WriteString("  - Another process holds the state lock\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Relax version constraints in the request\n")
		sb.WriteString("  - Check for another pm process running against the same home directory\n")

	case pmerrors.KindIntegrity:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A downloaded or stored artifact was corrupted\n")
		sb.WriteString("  - The on-disk state diverged from the recorded manifest\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Re-run the operation; downloads are re-verified from scratch\n")
		sb.WriteString("  - Run 'pm verify --heal' to reconcile the live prefix\n")

	case pmerrors.KindPolicy:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A configured guard or recovery policy refused to proceed\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Review the verification policy (DiscrepancyHandling, SymlinkPolicy)\n")

	case pmerrors.KindExternal:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A build system driver or external tool exited non-zero\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Inspect the build log for the failing step\n")

	case pmerrors.KindTransient:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again; this failure may not recur\n")

	default:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again in a few minutes\n")
	}

	return sb.String()
}

func formatResolverError(err *version.ResolverError, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	switch err.Type {
	case version.ErrTypeNetwork:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Network connectivity issue\n")
		sb.WriteString("  - Service temporarily unavailable\n")
		sb.WriteString("  - Registry API rate limit exceeded\n")

		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check your internet connection\n")
		sb.WriteString("  - Try again in a few minutes\n")

	case version.ErrTypeNotFound:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The version does not exist\n")
		sb.WriteString("  - The source no longer provides this version\n")

		sb.WriteString("\nSuggestions:\n")
		if ctx != nil && ctx.PackageName != "" {
			sb.WriteString(fmt.Sprintf("  - Run 'pm versions %s' to see available versions\n", ctx.PackageName))
		} else {
			sb.WriteString("  - Run 'pm versions <package>' to see available versions\n")
		}
		sb.WriteString("  - Use 'latest' to get the most recent version\n")

	case version.ErrTypeValidation:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Invalid version format\n")
		sb.WriteString("  - Unexpected data from the version source\n")

		sb.WriteString("\nSuggestions:\n")
		if ctx != nil && ctx.PackageName != "" {
			sb.WriteString(fmt.Sprintf("  - Run 'pm versions %s' to see available versions\n", ctx.PackageName))
		} else {
			sb.WriteString("  - Run 'pm versions <package>' to see available versions\n")
		}

	case version.ErrTypeUnknownSource:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Recipe uses an unsupported version source\n")
		sb.WriteString("  - Recipe configuration error\n")

		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check the recipe configuration\n")

	default:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again in a few minutes\n")
	}

	return sb.String()
}

func formatRateLimitError(errMsg string, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Too many requests to the registry API\n")
	sb.WriteString("  - Unauthenticated requests have lower limits\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Wait a few minutes before retrying\n")
	if ctx != nil && ctx.PackageName != "" {
		sb.WriteString(fmt.Sprintf("  - Use 'pm install %s@<version>' to specify a version directly\n", ctx.PackageName))
	}

	return sb.String()
}

func formatNetworkError(err net.Error, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	if err.Timeout() {
		sb.WriteString("  - Request timed out\n")
		sb.WriteString("  - Slow or unstable network connection\n")
	} else {
		sb.WriteString("  - Network connectivity issue\n")
		sb.WriteString("  - DNS resolution failure\n")
	}
	sb.WriteString("  - Firewall or proxy blocking the connection\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")
	if err.Timeout() {
		sb.WriteString("  - Check if you're behind a slow proxy\n")
	}

	return sb.String()
}

func formatGenericNetworkError(errMsg string, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Network connectivity issue\n")
	sb.WriteString("  - DNS resolution failure\n")
	sb.WriteString("  - Service temporarily unavailable\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")

	return sb.String()
}

func formatNotFoundError(errMsg string, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Package does not exist in the registry\n")
	sb.WriteString("  - Typo in the package name\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check the spelling of the package name\n")
	sb.WriteString("  - Run 'pm search' to see available packages\n")

	return sb.String()
}

func formatPermissionError(errMsg string, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Insufficient permissions on $PM_HOME directory\n")
	sb.WriteString("  - File or directory owned by a different user\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check permissions on ~/.pm directory\n")
	sb.WriteString("  - Ensure you own the pm directories: ls -la ~/.pm\n")

	return sb.String()
}

func isRateLimitError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate-limit") ||
		strings.Contains(lower, "too many requests")
}

func isNetworkError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "dial tcp") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "i/o timeout")
}

func isNotFoundError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "404") ||
		strings.Contains(lower, "does not exist")
}

func isPermissionError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "operation not permitted")
}
