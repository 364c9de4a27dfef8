package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/opt-pm/pm/internal/archive"
	"github.com/opt-pm/pm/internal/config"
	"github.com/opt-pm/pm/internal/guard"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/resolver"
	"github.com/opt-pm/pm/internal/state"
	"github.com/opt-pm/pm/internal/store"
	"github.com/opt-pm/pm/internal/version"
)

// fakeIndex serves a fixed, in-memory package universe to the solver so
// installer tests never need a real registry cache.
type fakeIndex struct {
	versions map[string][]resolver.PackageMeta
}

func (f *fakeIndex) Versions(name string) ([]resolver.PackageMeta, error) {
	return f.versions[name], nil
}

func mustVersion(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("version.Parse(%q): %v", s, err)
	}
	return v
}

// fakeFetcher serves pre-baked .sp files for download-action packages, so
// Install/Update exercise the concurrent batch path without a real
// artifact source.
type fakeFetcher struct {
	paths map[string]string // name@version -> .sp path
}

func (f *fakeFetcher) Fetch(_ context.Context, id resolver.PackageId) (string, func(), error) {
	path, ok := f.paths[id.String()]
	if !ok {
		return "", nil, pmerrors.New(pmerrors.KindNotFound, "fakeFetcher.Fetch", "no fetcher entry for %s", id)
	}
	return path, nil, nil
}

func newTestInstaller(t *testing.T, idx resolver.Index, fetcher ArtifactFetcher) (*Installer, *store.Store, *state.Manager) {
	t.Helper()

	cfg := config.NewConfig(t.TempDir())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st, err := store.New(cfg.StoreDir)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	sm, err := state.Open(cfg, st)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { sm.Close() })

	g := guard.New(sm, st)

	opts := []Option{}
	if fetcher != nil {
		opts = append(opts, WithArtifactFetcher(fetcher))
	}
	in := New(DefaultConfig(), idx, sm, st, g, opts...)
	return in, st, sm
}

func writePackage(t *testing.T, name, ver string, deps []string, content string) string {
	t.Helper()
	stagingDir := t.TempDir()
	relPath := "bin/" + name
	full := filepath.Join(stagingDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	h := store.HashBytes([]byte(content))
	manifest := archive.Manifest{
		Name:         name,
		Version:      ver,
		Dependencies: deps,
		Files:        []archive.FileEntry{{Path: relPath, Hash: h.String()}},
	}
	outPath := filepath.Join(t.TempDir(), name+"-"+ver+".sp")
	if _, err := archive.Pack(stagingDir, outPath, manifest, 1700000000); err != nil {
		t.Fatalf("archive.Pack: %v", err)
	}
	return outPath
}

func TestInstallRejectsEmptyContext(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)
	if _, err := in.Install(context.Background(), InstallContext{}); err == nil {
		t.Fatal("expected an error for an empty install context")
	}
}

func TestInstallLocalFileCreatesState(t *testing.T) {
	in, _, sm := newTestInstaller(t, &fakeIndex{}, nil)
	path := writePackage(t, "widget", "1.0.0", nil, "#!/bin/sh\necho widget\n")

	result, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(result.Packages) != 1 || result.Packages[0].Name != "widget" {
		t.Fatalf("unexpected packages: %+v", result.Packages)
	}

	current, ok, err := sm.CurrentStateID(context.Background())
	if err != nil || !ok {
		t.Fatalf("CurrentStateID: %v, %v", ok, err)
	}
	if current != result.StateID {
		t.Fatalf("expected current state to be %s, got %s", result.StateID, current)
	}
}

func TestInstallRejectsWrongExtension(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)
	path := filepath.Join(t.TempDir(), "widget.tar.gz")
	if err := os.WriteFile(path, []byte("not a package"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path}}); err == nil {
		t.Fatal("expected an extension validation error")
	}
}

func TestInstallDownloadsFromIndexThroughFetcher(t *testing.T) {
	v := mustVersion(t, "2.0.0")
	idx := &fakeIndex{versions: map[string][]resolver.PackageMeta{
		"gadget": {{Version: v}},
	}}
	path := writePackage(t, "gadget", "2.0.0", nil, "gadget binary")
	fetcher := &fakeFetcher{paths: map[string]string{"gadget@2.0.0": path}}

	in, st, _ := newTestInstaller(t, idx, fetcher)
	result, err := in.Install(context.Background(), InstallContext{Packages: []string{"gadget"}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(result.Packages) != 1 || result.Packages[0].Name != "gadget" {
		t.Fatalf("unexpected packages: %+v", result.Packages)
	}
	for _, f := range result.Packages[0].Files {
		if !st.Exists(f.Hash) {
			t.Fatalf("file %s not stored", f.Path)
		}
	}
}

func TestInstallWithoutFetcherFailsOnDownloadAction(t *testing.T) {
	v := mustVersion(t, "1.0.0")
	idx := &fakeIndex{versions: map[string][]resolver.PackageMeta{
		"gadget": {{Version: v}},
	}}
	in, _, _ := newTestInstaller(t, idx, nil)
	if _, err := in.Install(context.Background(), InstallContext{Packages: []string{"gadget"}}); err == nil {
		t.Fatal("expected an error when no fetcher is configured")
	}
}

func TestUninstallRemovesPackageFromState(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)
	path := writePackage(t, "widget", "1.0.0", nil, "widget contents")
	if _, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path}}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	result, err := in.Uninstall(context.Background(), UninstallContext{Packages: []string{"widget"}})
	if err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	for _, pkg := range result.Packages {
		if pkg.Name == "widget" {
			t.Fatal("expected widget to be removed")
		}
	}
}

func TestUninstallRejectsUnknownPackage(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)
	path := writePackage(t, "widget", "1.0.0", nil, "widget contents")
	if _, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path}}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := in.Uninstall(context.Background(), UninstallContext{Packages: []string{"nonexistent"}}); err == nil {
		t.Fatal("expected an error for a package that is not installed")
	}
}

func TestUpdateReResolvesInstalledPackages(t *testing.T) {
	v1 := mustVersion(t, "1.0.0")
	v2 := mustVersion(t, "1.1.0")
	idx := &fakeIndex{versions: map[string][]resolver.PackageMeta{
		"gadget": {{Version: v1}, {Version: v2}},
	}}
	pathV2 := writePackage(t, "gadget", "1.1.0", nil, "gadget v2")
	fetcher := &fakeFetcher{paths: map[string]string{"gadget@1.1.0": pathV2}}

	in, _, _ := newTestInstaller(t, idx, fetcher)
	if _, err := in.Install(context.Background(), InstallContext{Packages: []string{"gadget"}}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	result, err := in.Update(context.Background(), UpdateContext{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	found := false
	for _, pkg := range result.Packages {
		if pkg.Name == "gadget" && pkg.Version == "1.1.0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected gadget to be updated to 1.1.0, got %+v", result.Packages)
	}
}

func TestRollbackRejectsUnknownState(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)
	if _, err := in.Rollback(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected an error for an unknown state id")
	}
}

func TestRollbackReturnsToPriorState(t *testing.T) {
	in, _, sm := newTestInstaller(t, &fakeIndex{}, nil)
	path1 := writePackage(t, "widget", "1.0.0", nil, "widget v1")
	first, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path1}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	path2 := writePackage(t, "gizmo", "1.0.0", nil, "gizmo v1")
	if _, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path2}}); err != nil {
		t.Fatalf("second Install: %v", err)
	}

	if _, err := in.Rollback(context.Background(), first.StateID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	current, ok, err := sm.CurrentStateID(context.Background())
	if err != nil || !ok {
		t.Fatalf("CurrentStateID: %v, %v", ok, err)
	}
	if current != first.StateID {
		t.Fatalf("expected current state to be %s after rollback, got %s", first.StateID, current)
	}
}

func TestListStatesAndCurrentState(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)

	if _, ok, err := in.CurrentState(context.Background()); err != nil || ok {
		t.Fatalf("expected no current state before any install, got ok=%v err=%v", ok, err)
	}

	path := writePackage(t, "widget", "1.0.0", nil, "widget contents")
	result, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	states, err := in.ListStates(context.Background())
	if err != nil {
		t.Fatalf("ListStates: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}

	current, ok, err := in.CurrentState(context.Background())
	if err != nil || !ok || current != result.StateID {
		t.Fatalf("CurrentState() = %v, %v, %v, want %v, true, nil", current, ok, err, result.StateID)
	}
}

func TestGarbageCollectRunsCleanlyOverRetainedStates(t *testing.T) {
	in, _, _ := newTestInstaller(t, &fakeIndex{}, nil)

	path1 := writePackage(t, "widget", "1.0.0", nil, "widget v1")
	if _, err := in.Install(context.Background(), InstallContext{LocalFiles: []string{path1}}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := in.Uninstall(context.Background(), UninstallContext{Packages: []string{"widget"}}); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	// DefaultConfig retains 10 states, so nothing is eligible for
	// collection yet; this exercises that GarbageCollect still runs
	// cleanly (install/uninstall already call it internally after every
	// transition) rather than asserting a specific reclaimed count.
	if _, err := in.GarbageCollect(context.Background()); err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
}
