package buildsys

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// Autotools drives the classic ./configure && make && make install flow.
// Grounded on the teacher's ConfigureMakeAction, which runs the same three
// steps against a DESTDIR-less prefix; here the install step targets
// StagingDir via DESTDIR so nothing escapes the staging root.
type Autotools struct{}

func (Autotools) Name() string               { return "autotools" }
func (Autotools) PrefersOutOfSource() bool    { return false }
func (Autotools) Detect(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, "configure"))
	return err == nil
}

func (Autotools) Configure(ctx context.Context, bctx *Context, args []string) error {
	script := filepath.Join(bctx.SourceDir, "configure")
	if _, err := os.Stat(script); err != nil {
		return pmerrors.Wrap(pmerrors.KindInvalidInput, "buildsys.Autotools.Configure", err, "configure script not found in %s", bctx.SourceDir)
	}

	configureArgs := []string{}
	if !hasArgPrefix(args, "--prefix=") {
		configureArgs = append(configureArgs, "--prefix="+bctx.LivePrefix)
	}
	configureArgs = append(configureArgs, args...)

	return run(ctx, bctx, bctx.SourceDir, bctx.Env, script, configureArgs...)
}

func (Autotools) Build(ctx context.Context, bctx *Context, args []string) error {
	makeArgs := append([]string{}, args...)
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "make", makeArgs...)
}

func (Autotools) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "make", "check")
}

func (Autotools) Install(ctx context.Context, bctx *Context) error {
	env := append(append([]string{}, bctx.Env...), "DESTDIR="+bctx.StagingDir)
	return run(ctx, bctx, bctx.SourceDir, env, "make", "install")
}
