package buildsys

import (
	"context"
	"os"
	"path/filepath"
)

// Cargo drives `cargo build --locked --offline` followed by a binary copy
// into staging. Grounded on the teacher's CargoBuildAction: the same
// --locked/--offline determinism contract (dependencies are pre-fetched,
// the build itself never touches the network once configured) and the
// same SOURCE_DATE_EPOCH/CARGO_INCREMENTAL=0 pinning for reproducible
// output.
type Cargo struct{}

func (Cargo) Name() string             { return "cargo" }
func (Cargo) PrefersOutOfSource() bool { return false }
func (Cargo) Detect(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, "Cargo.toml"))
	return err == nil
}

func (Cargo) env(bctx *Context) []string {
	env := append([]string{}, bctx.Env...)
	env = append(env, "CARGO_INCREMENTAL=0", "SOURCE_DATE_EPOCH=0")
	if !bctx.AllowNetwork {
		env = append(env, "CARGO_NET_OFFLINE=true")
	}
	return env
}

func (Cargo) Configure(ctx context.Context, bctx *Context, args []string) error {
	if !bctx.AllowNetwork {
		return nil
	}
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "cargo", "fetch", "--locked")
}

func (c Cargo) Build(ctx context.Context, bctx *Context, args []string) error {
	buildArgs := []string{"build", "--release", "--locked"}
	if !bctx.AllowNetwork {
		buildArgs = append(buildArgs, "--offline")
	}
	buildArgs = append(buildArgs, args...)
	return run(ctx, bctx, bctx.SourceDir, c.env(bctx), "cargo", buildArgs...)
}

func (Cargo) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "cargo", "test", "--release", "--locked")
}

func (c Cargo) Install(ctx context.Context, bctx *Context) error {
	destBin := filepath.Join(bctx.StagingDir, "bin")
	if err := os.MkdirAll(destBin, 0755); err != nil {
		return err
	}
	releaseDir := filepath.Join(bctx.SourceDir, "target", "release")
	return copyExecutables(releaseDir, destBin)
}
