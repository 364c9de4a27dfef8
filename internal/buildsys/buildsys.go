// Package buildsys drives the seven source build systems pm recipes can
// invoke from a BuildStep: Autotools, CMake, Meson, Cargo, Go, Python, and
// Node.js. Each driver configures, builds, tests, and installs a source
// tree staged under a DESTDIR-equivalent root, so nothing escapes the
// staging directory before post-install path relocation runs.
package buildsys

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
)

// BuildPlaceholderPrefix is the token a recipe step may embed in a command
// argument or environment value in place of the eventual build prefix,
// which isn't known until the recipe interpreter assembles the Context for
// a given step. run substitutes it for bctx.LivePrefix immediately before
// exec, the same way the original source's BuildEnvironment::
// replace_placeholder_paths_in_{args,env} do it just before spawning.
const BuildPlaceholderPrefix = "BUILD_PLACEHOLDER_PREFIX"

// Context carries the paths and settings every driver needs. SourceDir is
// where the unpacked/cloned sources live; BuildDir is where configuration
// and compilation happen (equal to SourceDir for in-source builds);
// StagingDir is the DESTDIR-equivalent root the install step must stage
// into; LivePrefix is the path the software will actually run from once
// installed (baked into --prefix/RPATH/install-name at configure time, not
// the staging root).
type Context struct {
	SourceDir    string
	BuildDir     string
	StagingDir   string
	LivePrefix   string
	Jobs         int
	Env          []string
	AllowNetwork bool
	Logger       log.Logger
}

// logger returns c.Logger, falling back to the package default.
func (c *Context) logger() log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// BuildSystem is implemented by each of the seven build-system drivers.
// Configure/Build/Install are always called in that order by the recipe
// interpreter; Test is only called when a recipe opts in.
type BuildSystem interface {
	// Name identifies the driver for logging and recipe dispatch (e.g. "cmake").
	Name() string

	// Detect reports whether sourceDir looks like a project this driver builds.
	Detect(sourceDir string) bool

	// PrefersOutOfSource reports whether this driver should be given a
	// BuildDir distinct from SourceDir.
	PrefersOutOfSource() bool

	// Configure runs the driver's configuration step (./configure, cmake,
	// meson setup, ...) with the recipe's extra args appended.
	Configure(ctx context.Context, bctx *Context, args []string) error

	// Build compiles the project.
	Build(ctx context.Context, bctx *Context, args []string) error

	// Test runs the project's test suite, if it has one runnable without
	// additional configuration.
	Test(ctx context.Context, bctx *Context) error

	// Install stages built artifacts under bctx.StagingDir.
	Install(ctx context.Context, bctx *Context) error
}

// All returns every driver in detection priority order. Detection order
// matters when a source tree carries leftover build files from more than
// one system (e.g. a CMake project vendoring an autotools dependency);
// the more specific, less commonly colocated markers are tried first.
func All() []BuildSystem {
	return []BuildSystem{
		&Cargo{},
		&Go{},
		&NodeJs{},
		&Python{},
		&CMake{},
		&Meson{},
		&Autotools{},
	}
}

// Detect returns the first driver in All whose marker file exists in
// sourceDir, or nil if none match.
func Detect(sourceDir string) BuildSystem {
	for _, bs := range All() {
		if bs.Detect(sourceDir) {
			return bs
		}
	}
	return nil
}

// ByName returns the driver registered under name, or nil.
func ByName(name string) BuildSystem {
	for _, bs := range All() {
		if bs.Name() == name {
			return bs
		}
	}
	return nil
}

// run executes name with args in dir using env, streaming stdout/stderr
// line by line into bctx's logger rather than buffering the whole output —
// the same pattern fetch.Git uses for its subprocess, and the pattern the
// teacher's build actions use via fmt.Printf progress lines. args and env
// are scanned for BuildPlaceholderPrefix and substituted with bctx's live
// prefix before exec.
func run(ctx context.Context, bctx *Context, dir string, env []string, name string, args ...string) error {
	args, env = replacePlaceholder(args, env, bctx.LivePrefix)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	logger := bctx.logger()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInternal, "buildsys.run", err, "attaching stdout pipe for %s", name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInternal, "buildsys.run", err, "attaching stderr pipe for %s", name)
	}

	if err := cmd.Start(); err != nil {
		return pmerrors.Wrap(pmerrors.KindExternal, "buildsys.run", err, "starting %s", name)
	}

	done := make(chan struct{}, 2)
	go streamLines(stdout, logger, done)
	go streamLines(stderr, logger, done)
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		return pmerrors.Wrap(pmerrors.KindExternal, "buildsys.run", err, "%s %v failed", name, args)
	}
	return nil
}

// replacePlaceholder substitutes every occurrence of BuildPlaceholderPrefix
// in args and env with prefix, leaving entries that don't contain it
// untouched.
func replacePlaceholder(args []string, env []string, prefix string) ([]string, []string) {
	outArgs := make([]string, len(args))
	for i, a := range args {
		outArgs[i] = strings.ReplaceAll(a, BuildPlaceholderPrefix, prefix)
	}
	var outEnv []string
	if env != nil {
		outEnv = make([]string, len(env))
		for i, e := range env {
			outEnv[i] = strings.ReplaceAll(e, BuildPlaceholderPrefix, prefix)
		}
	}
	return outArgs, outEnv
}

// lookupEnv returns the value of key within env (a "KEY=value" slice, the
// build-local analogue of os.Environ), without falling back to the host
// process environment — env vars a driver consumes must arrive through
// Context explicitly, per the same rule that keeps the live prefix out of
// os.Getenv.
func lookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):], true
		}
	}
	return "", false
}

func streamLines(r io.Reader, logger log.Logger, done chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("buildsys", "line", scanner.Text())
	}
	done <- struct{}{}
}

// hasArgPrefix reports whether any entry in args begins with prefix, used
// by drivers to avoid double-specifying a flag the recipe already passed.
func hasArgPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// copyExecutables copies every regular, executable top-level file in
// srcDir into destDir, preserving its mode. Used by drivers (Cargo, Go)
// whose build step produces binaries directly rather than running a
// separate install step of their own.
func copyExecutables(srcDir, destDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "buildsys.copyExecutables", err, "reading %s", srcDir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0111 == 0 {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, e.Name()), filepath.Join(destDir, e.Name()), info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "buildsys.copyFile", err, "opening %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "buildsys.copyFile", err, "creating %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "buildsys.copyFile", err, "copying %s to %s", src, dest)
	}
	return nil
}
