package binfmt

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
)

// NormalizeInstallPaths rewrites a binary's build-time RPATH and (on
// Mach-O) its own install name to point at livePrefixLib instead of
// buildPrefix. It shells out to patchelf on ELF and install_name_tool on
// Mach-O — neither format's write side is supported by the standard
// library's debug/elf or debug/macho, and both tools are the platform's
// own sanctioned way to rewrite these fields in place. A binary that
// still references buildPrefix, or carries no RPATH entry for
// livePrefixLib, after the rewrite is a fatal error: it would resolve
// its dependencies against a directory that won't exist once the build
// sandbox is torn down.
func NormalizeInstallPaths(ctx context.Context, path, buildPrefix, livePrefixLib string, logger log.Logger) error {
	format, err := DetectFormat(path)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "binfmt.NormalizeInstallPaths", err, "detecting format of %s", path)
	}

	switch format {
	case ELF:
		return normalizeELF(ctx, path, livePrefixLib, logger)
	case MachO, MachOFat:
		return normalizeMachO(ctx, path, buildPrefix, livePrefixLib, logger)
	default:
		return nil
	}
}

func normalizeELF(ctx context.Context, path, livePrefixLib string, logger log.Logger) error {
	patchelf, err := exec.LookPath("patchelf")
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindExternal, "binfmt.normalizeELF", err, "patchelf not found")
	}
	// --force-rpath sets DT_RPATH rather than patchelf's default
	// DT_RUNPATH: DT_RPATH takes precedence over LD_LIBRARY_PATH, so an
	// installed binary can't be redirected at runtime by the caller's
	// environment.
	if err := runTool(ctx, logger, patchelf, "--force-rpath", "--set-rpath", livePrefixLib, path); err != nil {
		return pmerrors.Wrap(pmerrors.KindExternal, "binfmt.normalizeELF", err, "setting rpath on %s", path)
	}

	rpaths, err := ExtractRPaths(path)
	if err != nil {
		return err
	}
	for _, r := range rpaths {
		if r == livePrefixLib {
			return nil
		}
	}
	return pmerrors.New(pmerrors.KindIntegrity, "binfmt.NormalizeInstallPaths", "%s has no RPATH entry for %s after rewrite", path, livePrefixLib)
}

func normalizeMachO(ctx context.Context, path, buildPrefix, livePrefixLib string, logger log.Logger) error {
	installNameTool, err := exec.LookPath("install_name_tool")
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindExternal, "binfmt.normalizeMachO", err, "install_name_tool not found")
	}

	if name, err := MachOInstallName(path); err == nil && name != "" {
		newName := filepath.Join(livePrefixLib, filepath.Base(name))
		if newName != name {
			if err := runTool(ctx, logger, installNameTool, "-id", newName, path); err != nil {
				return pmerrors.Wrap(pmerrors.KindExternal, "binfmt.normalizeMachO", err, "setting install name on %s", path)
			}
		}
	}

	rpaths, err := ExtractRPaths(path)
	if err != nil {
		return err
	}
	haveLive := false
	for _, r := range rpaths {
		switch {
		case strings.HasPrefix(r, buildPrefix):
			// Best effort: a binary built without an RPATH matching
			// buildPrefix still needs the add_rpath step below.
			_ = runTool(ctx, logger, installNameTool, "-delete_rpath", r, path)
		case r == livePrefixLib:
			haveLive = true
		}
	}
	if !haveLive {
		if err := runTool(ctx, logger, installNameTool, "-add_rpath", livePrefixLib, path); err != nil {
			return pmerrors.Wrap(pmerrors.KindExternal, "binfmt.normalizeMachO", err, "adding rpath to %s", path)
		}
	}

	return verifyMachORewritten(path, buildPrefix, livePrefixLib)
}

func verifyMachORewritten(path, buildPrefix, livePrefixLib string) error {
	rpaths, err := ExtractRPaths(path)
	if err != nil {
		return err
	}
	foundLive := false
	for _, r := range rpaths {
		if strings.HasPrefix(r, buildPrefix) {
			return pmerrors.New(pmerrors.KindIntegrity, "binfmt.NormalizeInstallPaths", "%s still references build prefix in RPATH %s", path, r)
		}
		if r == livePrefixLib {
			foundLive = true
		}
	}
	if !foundLive {
		return pmerrors.New(pmerrors.KindIntegrity, "binfmt.NormalizeInstallPaths", "%s has no RPATH entry for %s after rewrite", path, livePrefixLib)
	}

	if name, err := MachOInstallName(path); err == nil && name != "" && strings.HasPrefix(name, buildPrefix) {
		return pmerrors.New(pmerrors.KindIntegrity, "binfmt.NormalizeInstallPaths", "%s install name %s still references build prefix", path, name)
	}
	return nil
}

func runTool(ctx context.Context, logger log.Logger, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, strings.TrimSpace(string(out)))
	}
	logger.Debug("binfmt: ran relocation tool", "tool", name, "args", args)
	return nil
}
