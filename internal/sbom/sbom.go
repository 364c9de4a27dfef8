// Package sbom generates software bill-of-materials files for a staged
// install tree by shelling out to Syft, the way internal/binfmt shells out
// to patchelf/install_name_tool: no Go library in the pack scans a
// filesystem tree for package metadata across this many ecosystems, and
// Syft is the tool's own sanctioned way to do it.
package sbom

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/store"
)

// Format selects which SBOM document(s) Generate writes.
type Format string

const (
	FormatSPDX       Format = "spdx-json"
	FormatCycloneDX  Format = "cyclone-dx"
	FormatAll        Format = "all"
)

// Policy is the SBOM generation policy read from build configuration:
// which format(s) to emit and which paths within the staged tree to
// exclude from the scan (e.g. test fixtures bundled under share/doc).
type Policy struct {
	Format    Format
	Excludes  []string
}

// Files records the SBOM documents Generate produced, alongside their
// content hashes so a caller can fold them into a package's manifest the
// same way it folds in any other staged file's hash.
type Files struct {
	SPDXPath        string
	SPDXHash        store.Hash
	CycloneDXPath   string
	CycloneDXHash   store.Hash
}

// HasFiles reports whether Generate produced at least one document.
func (f Files) HasFiles() bool {
	return f.SPDXPath != "" || f.CycloneDXPath != ""
}

// Generator wraps a Syft binary, pinned to a fixed package name/version
// so every emitted document identifies the package being built rather
// than the path it was scanned from.
type Generator struct {
	syftPath       string
	packageName    string
	packageVersion string
	logger         log.Logger
}

// Option configures a Generator at construction time.
type Option func(*Generator)

// WithSyftPath overrides the syft binary looked up on PATH.
func WithSyftPath(path string) Option {
	return func(g *Generator) { g.syftPath = path }
}

// WithLogger overrides the Generator's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New returns a Generator for the named package.
func New(packageName, packageVersion string, opts ...Option) *Generator {
	g := &Generator{
		syftPath:       "syft",
		packageName:    packageName,
		packageVersion: packageVersion,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether syft can be invoked at all. It treats a
// missing binary or a non-zero exit as "unavailable" rather than an
// error: callers decide whether that's fatal (a recipe that insists on
// auto_sbom) or skippable.
func (g *Generator) Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, g.syftPath, "--version")
	return cmd.Run() == nil
}

// sourceDateEpoch is the fixed timestamp passed to Syft so two scans of
// byte-identical trees produce byte-identical documents; it has no
// relationship to the actual build time.
const sourceDateEpoch = "1704067200"

// Generate scans sourceDir and writes the SBOM document(s) named by
// policy.Format into outputDir as sbom.spdx.json and/or sbom.cdx.json.
func (g *Generator) Generate(ctx context.Context, sourceDir, outputDir string, policy Policy) (Files, error) {
	if !g.Available(ctx) {
		return Files{}, pmerrors.New(pmerrors.KindExternal, "sbom.Generate", "syft not found on PATH; SBOM generation requires syft")
	}

	var files Files

	if policy.Format == FormatSPDX || policy.Format == FormatAll {
		path := filepath.Join(outputDir, "sbom.spdx.json")
		if err := g.scan(ctx, sourceDir, path, "spdx-json", policy.Excludes); err != nil {
			return Files{}, err
		}
		hash, err := hashFile(path)
		if err != nil {
			return Files{}, pmerrors.Wrap(pmerrors.KindTransient, "sbom.Generate", err, "hashing %s", path)
		}
		files.SPDXPath = path
		files.SPDXHash = hash
	}

	if policy.Format == FormatCycloneDX || policy.Format == FormatAll {
		path := filepath.Join(outputDir, "sbom.cdx.json")
		if err := g.scan(ctx, sourceDir, path, "cyclonedx-json", policy.Excludes); err != nil {
			return Files{}, err
		}
		hash, err := hashFile(path)
		if err != nil {
			return Files{}, pmerrors.Wrap(pmerrors.KindTransient, "sbom.Generate", err, "hashing %s", path)
		}
		files.CycloneDXPath = path
		files.CycloneDXHash = hash
	}

	return files, nil
}

func hashFile(path string) (store.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Hash{}, err
	}
	defer f.Close()
	return store.HashReader(f)
}

func (g *Generator) scan(ctx context.Context, sourceDir, outputPath, outputFormat string, excludes []string) error {
	args := []string{
		"scan",
		"-o", outputFormat + "=" + outputPath,
		sourceDir,
		"--source-name", g.packageName,
		"--source-version", g.packageVersion,
	}
	for _, pattern := range excludes {
		args = append(args, "--exclude", pattern)
	}

	cmd := exec.CommandContext(ctx, g.syftPath, args...)
	cmd.Env = append(cmd.Environ(),
		"SOURCE_DATE_EPOCH="+sourceDateEpoch,
		"SYFT_SPDX_CREATION_INFO_CREATED=2024-01-01T00:00:00Z",
		"SYFT_DISABLE_METADATA_TIMESTAMP=true",
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindExternal, "sbom.scan", err, "syft scan failed: %s", string(out))
	}
	return nil
}
