package buildsys

import (
	"context"
	"os"
	"path/filepath"
)

// Go drives `go build -trimpath` over every main package in the module,
// producing binaries directly into BuildDir and copying them into staging.
// Grounded on the teacher's GoBuildAction environment-isolation contract
// (GOPROXY off once dependencies are vendored or cached,
// CGO_ENABLED=0 by default, -trimpath for reproducible binaries) without
// its go.sum-capture machinery, which belongs to the out-of-scope recipe
// evaluator rather than this driver.
type Go struct{}

func (Go) Name() string             { return "go" }
func (Go) PrefersOutOfSource() bool { return false }
func (Go) Detect(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, "go.mod"))
	return err == nil
}

func (Go) env(bctx *Context) []string {
	env := append([]string{}, bctx.Env...)
	env = append(env, "CGO_ENABLED=0")
	if !bctx.AllowNetwork {
		env = append(env, "GOPROXY=off", "GOFLAGS=-mod=mod")
	}
	return env
}

func (g Go) Configure(ctx context.Context, bctx *Context, args []string) error {
	if !bctx.AllowNetwork {
		return nil
	}
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "go", "mod", "download")
}

func (g Go) Build(ctx context.Context, bctx *Context, args []string) error {
	if err := os.MkdirAll(bctx.BuildDir, 0755); err != nil {
		return err
	}
	buildArgs := []string{"build", "-trimpath", "-buildvcs=false", "-o", bctx.BuildDir + string(filepath.Separator)}
	buildArgs = append(buildArgs, args...)
	if len(args) == 0 {
		buildArgs = append(buildArgs, "./...")
	}
	return run(ctx, bctx, bctx.SourceDir, g.env(bctx), "go", buildArgs...)
}

func (Go) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "go", "test", "./...")
}

func (Go) Install(ctx context.Context, bctx *Context) error {
	destBin := filepath.Join(bctx.StagingDir, "bin")
	if err := os.MkdirAll(destBin, 0755); err != nil {
		return err
	}
	return copyExecutables(bctx.BuildDir, destBin)
}
