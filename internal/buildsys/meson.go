package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
)

// Meson drives `meson setup`, `meson compile`, and `meson install`.
// Grounded on the original source's MesonBuildSystem, including its
// --wrap-mode=nodownload default whenever network access isn't allowed
// (Meson's wrap subsystem otherwise fetches subproject sources on its own,
// bypassing the recipe's declared dependency/network policy).
type Meson struct{}

func (Meson) Name() string             { return "meson" }
func (Meson) PrefersOutOfSource() bool { return true }
func (Meson) Detect(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, "meson.build"))
	return err == nil
}

func (Meson) Configure(ctx context.Context, bctx *Context, args []string) error {
	setupArgs := []string{"setup", bctx.BuildDir, bctx.SourceDir}

	if !hasArgPrefix(args, "--prefix=") {
		setupArgs = append(setupArgs, "--prefix="+bctx.LivePrefix)
	}
	if !hasArgPrefix(args, "--buildtype=") {
		setupArgs = append(setupArgs, "--buildtype=release")
	}
	if !hasArgPrefix(args, "--wrap-mode=") && !bctx.AllowNetwork {
		setupArgs = append(setupArgs, "--wrap-mode=nodownload")
	}
	if pcPath, ok := lookupEnv(bctx.Env, "PKG_CONFIG_PATH"); ok && pcPath != "" && !hasArgPrefix(args, "--pkg-config-path=") {
		setupArgs = append(setupArgs, "--pkg-config-path="+pcPath)
	}
	setupArgs = append(setupArgs, args...)

	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "meson", setupArgs...)
}

func (Meson) Build(ctx context.Context, bctx *Context, args []string) error {
	compileArgs := []string{"compile", "-C", bctx.BuildDir}
	if bctx.Jobs > 1 {
		compileArgs = append(compileArgs, "-j", strconv.Itoa(bctx.Jobs))
	}
	compileArgs = append(compileArgs, args...)
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "meson", compileArgs...)
}

func (Meson) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "meson", "test", "-C", bctx.BuildDir,
		"--print-errorlogs", "--num-processes", strconv.Itoa(bctx.Jobs))
}

func (Meson) Install(ctx context.Context, bctx *Context) error {
	env := append(append([]string{}, bctx.Env...), "DESTDIR="+bctx.StagingDir)
	return run(ctx, bctx, bctx.SourceDir, env, "meson", "install", "-C", bctx.BuildDir)
}
