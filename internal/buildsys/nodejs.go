package buildsys

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// NodeJs drives `npm ci` / `npm run build` / a staged `npm install
// --global --prefix`, grounded on the teacher's NpmInstallAction use of
// --prefix isolation (here retargeted at the staging root instead of the
// live tools directory, since install must not touch anything outside
// StagingDir).
type NodeJs struct{}

func (NodeJs) Name() string             { return "nodejs" }
func (NodeJs) PrefersOutOfSource() bool { return false }
func (NodeJs) Detect(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, "package.json"))
	return err == nil
}

func (NodeJs) Configure(ctx context.Context, bctx *Context, args []string) error {
	lockfile := filepath.Join(bctx.SourceDir, "package-lock.json")
	if _, err := os.Stat(lockfile); err == nil {
		ciArgs := []string{"ci"}
		if !bctx.AllowNetwork {
			ciArgs = append(ciArgs, "--offline")
		}
		return run(ctx, bctx, bctx.SourceDir, bctx.Env, "npm", ciArgs...)
	}
	installArgs := []string{"install"}
	if !bctx.AllowNetwork {
		installArgs = append(installArgs, "--offline")
	}
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "npm", installArgs...)
}

func (NodeJs) Build(ctx context.Context, bctx *Context, args []string) error {
	data, err := os.ReadFile(filepath.Join(bctx.SourceDir, "package.json"))
	if err != nil || !hasBuildScript(data) {
		return nil
	}
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "npm", "run", "build")
}

func (NodeJs) Test(ctx context.Context, bctx *Context) error {
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "npm", "test")
}

func (NodeJs) Install(ctx context.Context, bctx *Context) error {
	prefix := filepath.Join(bctx.StagingDir, stripLeadingSlash(bctx.LivePrefix))
	if err := os.MkdirAll(prefix, 0755); err != nil {
		return err
	}
	return run(ctx, bctx, bctx.SourceDir, bctx.Env, "npm", "install", "--global", "--prefix", prefix, bctx.SourceDir)
}

// hasBuildScript reports whether package.json declares a "build" entry
// under "scripts".
func hasBuildScript(packageJSON []byte) bool {
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(packageJSON, &manifest); err != nil {
		return false
	}
	_, ok := manifest.Scripts["build"]
	return ok
}

func stripLeadingSlash(p string) string {
	return strings.TrimLeft(p, "/")
}
