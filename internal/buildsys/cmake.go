package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// CMake drives `cmake -S -B`, `cmake --build`, and `cmake --install`.
// Grounded on the original source's CMakeBuildSystem: same default
// configure args, the same macOS RPATH/install-name flags so a library
// built here can be relocated cleanly from BUILD_PREFIX to LIVE_PREFIX by
// internal/binfmt afterward, and the same cmake-install-falls-back-to-
// make-install behavior for older CMake releases.
type CMake struct{}

func (CMake) Name() string              { return "cmake" }
func (CMake) PrefersOutOfSource() bool  { return true }
func (CMake) Detect(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, "CMakeLists.txt"))
	return err == nil
}

func (c CMake) configureArgs(bctx *Context, args []string) []string {
	out := []string{"-S", bctx.SourceDir, "-B", bctx.BuildDir}

	if !hasArgPrefix(args, "-DCMAKE_INSTALL_PREFIX=") {
		out = append(out, "-DCMAKE_INSTALL_PREFIX="+bctx.LivePrefix)
	}
	if !hasArgPrefix(args, "-DCMAKE_BUILD_TYPE=") {
		out = append(out, "-DCMAKE_BUILD_TYPE=Release")
	}
	if !hasArgPrefix(args, "-DCMAKE_COLOR_MAKEFILE=") {
		out = append(out, "-DCMAKE_COLOR_MAKEFILE=ON")
	}
	if !hasArgPrefix(args, "-DCMAKE_FIND_PACKAGE_PREFER_CONFIG=") {
		out = append(out, "-DCMAKE_FIND_PACKAGE_PREFER_CONFIG=ON")
	}

	if pcPath, ok := lookupEnv(bctx.Env, "PKG_CONFIG_PATH"); ok && pcPath != "" && !hasArgPrefix(args, "-DCMAKE_PREFIX_PATH=") {
		out = append(out, "-DCMAKE_PREFIX_PATH="+pcPath)
	}

	if runtime.GOOS == "darwin" {
		if !hasArgPrefix(args, "-DCMAKE_INSTALL_RPATH=") {
			out = append(out, "-DCMAKE_INSTALL_RPATH="+filepath.Join(bctx.LivePrefix, "lib"))
		}
		if !hasArgPrefix(args, "-DCMAKE_MACOSX_RPATH=") {
			out = append(out, "-DCMAKE_MACOSX_RPATH=ON")
		}
		if !hasArgPrefix(args, "-DCMAKE_BUILD_WITH_INSTALL_RPATH=") {
			out = append(out, "-DCMAKE_BUILD_WITH_INSTALL_RPATH=OFF")
		}
		if !hasArgPrefix(args, "-DCMAKE_INSTALL_RPATH_USE_LINK_PATH=") {
			out = append(out, "-DCMAKE_INSTALL_RPATH_USE_LINK_PATH=ON")
		}
	}

	return append(out, args...)
}

func (c CMake) Configure(ctx context.Context, bctx *Context, args []string) error {
	if err := os.MkdirAll(bctx.BuildDir, 0755); err != nil {
		return err
	}
	return run(ctx, bctx, bctx.BuildDir, bctx.Env, "cmake", c.configureArgs(bctx, args)...)
}

func (CMake) Build(ctx context.Context, bctx *Context, args []string) error {
	cmakeArgs := []string{"--build", bctx.BuildDir}
	if bctx.Jobs > 1 {
		cmakeArgs = append(cmakeArgs, "--parallel", strconv.Itoa(bctx.Jobs))
	}
	if len(args) > 0 {
		cmakeArgs = append(cmakeArgs, "--")
		cmakeArgs = append(cmakeArgs, args...)
	}
	return run(ctx, bctx, bctx.BuildDir, bctx.Env, "cmake", cmakeArgs...)
}

func (CMake) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.BuildDir, bctx.Env, "ctest", "--output-on-failure", "--parallel", strconv.Itoa(bctx.Jobs))
}

func (CMake) Install(ctx context.Context, bctx *Context) error {
	env := append(append([]string{}, bctx.Env...), "DESTDIR="+bctx.StagingDir)
	if err := run(ctx, bctx, bctx.BuildDir, env, "cmake", "--install", bctx.BuildDir); err == nil {
		return nil
	}
	// Older CMake releases don't support `cmake --install`; fall back to
	// make install, matching the original source's fallback.
	return run(ctx, bctx, bctx.BuildDir, env, "make", "install")
}
