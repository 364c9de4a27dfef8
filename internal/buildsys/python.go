package buildsys

import (
	"context"
	"os"
	"path/filepath"
)

// Python drives `pip install --root <staging>` against a source
// distribution or wheel-buildable project. Grounded on the teacher's
// PipInstallAction: the same SOURCE_DATE_EPOCH/PYTHONHASHSEED=0 pinning
// for reproducible bytecode, and --no-deps so dependency resolution stays
// the recipe's responsibility rather than pip's at build time.
type Python struct{}

func (Python) Name() string             { return "python" }
func (Python) PrefersOutOfSource() bool { return false }
func (Python) Detect(sourceDir string) bool {
	for _, marker := range []string{"pyproject.toml", "setup.py"} {
		if _, err := os.Stat(filepath.Join(sourceDir, marker)); err == nil {
			return true
		}
	}
	return false
}

func (Python) env(bctx *Context) []string {
	env := append([]string{}, bctx.Env...)
	return append(env, "SOURCE_DATE_EPOCH=0", "PYTHONDONTWRITEBYTECODE=1", "PYTHONHASHSEED=0")
}

func (Python) Configure(ctx context.Context, bctx *Context, args []string) error {
	return nil
}

func (p Python) Build(ctx context.Context, bctx *Context, args []string) error {
	buildArgs := []string{"-m", "build", "--wheel", "--no-isolation", "--outdir", filepath.Join(bctx.SourceDir, "dist")}
	return run(ctx, bctx, bctx.SourceDir, p.env(bctx), "python3", buildArgs...)
}

func (Python) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "python3", "-m", "pytest")
}

func (p Python) Install(ctx context.Context, bctx *Context) error {
	installArgs := []string{
		"-m", "pip", "install",
		"--no-deps", "--no-build-isolation",
		"--root", bctx.StagingDir,
		"--prefix", bctx.LivePrefix,
		filepath.Join(bctx.SourceDir, "dist"),
	}
	return run(ctx, bctx, bctx.SourceDir, p.env(bctx), "python3", installArgs...)
}
