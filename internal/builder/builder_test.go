package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opt-pm/pm/internal/recipe"
)

func TestBuildProducesPackagedArchive(t *testing.T) {
	root := t.TempDir()

	// A recipe whose only step drops a pre-built file straight into the
	// staging root — standing in for a build-system driver's install
	// step without requiring a real compiler toolchain in the test
	// environment.
	workDir := filepath.Join(root, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "widget.txt"), []byte("a staged file"), 0644); err != nil {
		t.Fatal(err)
	}

	rr := recipe.RecipeResult{
		Name:    "widget",
		Version: "1.0.0",
		Steps: []recipe.BuildStep{
			{Name: "auto_sbom", Args: map[string]any{"enable": false}},
			{Name: "copy", Args: map[string]any{"src": "widget.txt", "dst": "share/widget.txt"}},
		},
	}

	cfg := Config{
		WorkDir:          workDir,
		StagingDir:       filepath.Join(root, "staging"),
		LivePrefix:       "/opt/pm/live",
		ArchiveOutputDir: filepath.Join(root, "out"),
		Jobs:             1,
		SourceDateEpoch:  1704067200,
	}

	b := New()
	result, err := b.Build(context.Background(), rr, cfg)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	if result.FinalState != Packaged {
		t.Errorf("FinalState = %v, want Packaged", result.FinalState)
	}
	if result.Manifest.Name != "widget" || result.Manifest.Version != "1.0.0" {
		t.Errorf("Manifest = %+v", result.Manifest)
	}
	if len(result.Manifest.Files) != 1 || result.Manifest.Files[0].Path != "share/widget.txt" {
		t.Errorf("Manifest.Files = %+v", result.Manifest.Files)
	}
	if _, err := os.Stat(result.ArchivePath); err != nil {
		t.Errorf("expected archive file to exist: %v", err)
	}
	var zeroHash [32]byte
	if [32]byte(result.ArchiveHash) == zeroHash {
		t.Error("expected a non-zero archive hash")
	}
}

func TestBuildFailsWhenStepFails(t *testing.T) {
	root := t.TempDir()
	rr := recipe.RecipeResult{
		Name:    "widget",
		Version: "1.0.0",
		Steps: []recipe.BuildStep{
			{Name: "copy", Args: map[string]any{"src": "does-not-exist", "dst": "out"}},
		},
	}
	cfg := Config{
		WorkDir:          filepath.Join(root, "work"),
		StagingDir:       filepath.Join(root, "staging"),
		LivePrefix:       "/opt/pm/live",
		ArchiveOutputDir: filepath.Join(root, "out"),
	}

	b := New()
	_, err := b.Build(context.Background(), rr, cfg)
	if err == nil {
		t.Fatal("expected an error for a failing copy step")
	}
	buildErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected a *builder.Error, got %T", err)
	}
	if buildErr.State != Fetched {
		t.Errorf("State = %v, want Fetched", buildErr.State)
	}
}

func TestStateString(t *testing.T) {
	if Loaded.String() != "Loaded" || Packaged.String() != "Packaged" {
		t.Error("expected named states to stringify")
	}
	if State(999).String() != "Unknown" {
		t.Error("expected an out-of-range state to stringify as Unknown")
	}
}
