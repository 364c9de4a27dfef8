package install

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/opt-pm/pm/internal/archive"
	"github.com/opt-pm/pm/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

// buildPackage stages files under a fresh directory, hashes them the same
// way archive.Pack's manifest expects, and returns the path to a packed
// .sp archive ready for Ingest.
func buildPackage(t *testing.T, name, version string, deps []string, files map[string]string) string {
	t.Helper()
	stagingDir := t.TempDir()
	var entries []archive.FileEntry
	for rel, content := range files {
		full := filepath.Join(stagingDir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		h := store.HashBytes([]byte(content))
		entries = append(entries, archive.FileEntry{Path: rel, Hash: h.String()})
	}

	manifest := archive.Manifest{Name: name, Version: version, Dependencies: deps, Files: entries}
	outPath := filepath.Join(t.TempDir(), name+"-"+version+".sp")
	if _, err := archive.Pack(stagingDir, outPath, manifest, 1700000000); err != nil {
		t.Fatalf("archive.Pack: %v", err)
	}
	return outPath
}

func TestIngestProducesManifestAndDependencies(t *testing.T) {
	st := newTestStore(t)
	path := buildPackage(t, "libfoo", "1.2.3", []string{"libbar"}, map[string]string{
		"bin/foo":       "#!/bin/sh\necho foo\n",
		"lib/libfoo.so": "not really an elf",
	})

	result, err := Ingest(st, path, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Manifest.Name != "libfoo" || result.Manifest.Version != "1.2.3" {
		t.Fatalf("unexpected manifest: %+v", result.Manifest)
	}
	if len(result.Dependencies) != 1 || result.Dependencies[0] != "libbar" {
		t.Fatalf("unexpected dependencies: %v", result.Dependencies)
	}
	if len(result.Manifest.Files) != 2 {
		t.Fatalf("expected 2 files, got %d: %+v", len(result.Manifest.Files), result.Manifest.Files)
	}
	for _, f := range result.Manifest.Files {
		if !st.Exists(f.Hash) {
			t.Fatalf("file %s was not stored", f.Path)
		}
	}
}

func TestIngestRejectsCorruptFormat(t *testing.T) {
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "bad.sp")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Ingest(st, path, nil); err == nil {
		t.Fatal("expected an error for a corrupt archive")
	}
}

func TestIngestFailFastOnHashMismatch(t *testing.T) {
	st := newTestStore(t)
	path := buildMismatchedPlainTarPackage(t)

	if _, err := Ingest(st, path, NewErrorRecoveryManager(FailFast)); err == nil {
		t.Fatal("expected FailFast to abort on a hash mismatch")
	}
}

func TestIngestContinueWithWarningsOnHashMismatch(t *testing.T) {
	st := newTestStore(t)
	path := buildMismatchedPlainTarPackage(t)

	result, err := Ingest(st, path, NewErrorRecoveryManager(ContinueWithWarnings))
	if err != nil {
		t.Fatalf("expected recovery to avoid a hard failure, got: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about the hash mismatch")
	}
	if len(result.Manifest.Files) != 1 {
		t.Fatalf("expected the file to still be kept, got %+v", result.Manifest.Files)
	}
}

func TestIngestSkipProblematicDropsTheFile(t *testing.T) {
	st := newTestStore(t)
	path := buildMismatchedPlainTarPackage(t)

	result, err := Ingest(st, path, NewErrorRecoveryManager(SkipProblematic))
	if err != nil {
		t.Fatalf("expected recovery to avoid a hard failure, got: %v", err)
	}
	if len(result.Manifest.Files) != 0 {
		t.Fatalf("expected the mismatched file to be dropped, got %+v", result.Manifest.Files)
	}
}

// buildMismatchedPlainTarPackage writes an uncompressed .sp archive by
// hand (rather than through archive.Pack, which always zstd-compresses —
// flipping bytes inside a compressed frame would just break
// decompression, not simulate a believable content mismatch) whose
// manifest.toml declares a hash that does not match bin/foo's actual
// content.
func buildMismatchedPlainTarPackage(t *testing.T) string {
	t.Helper()
	wrongHash := store.HashBytes([]byte("something else entirely"))
	manifest := archive.Manifest{
		Name:    "libfoo",
		Version: "1.0.0",
		Files:   []archive.FileEntry{{Path: "bin/foo", Hash: wrongHash.String()}},
	}
	manifestBytes, err := manifest.Encode()
	if err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(t.TempDir(), "libfoo-1.0.0.sp")
	f, err := os.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	writeTarString(t, tw, "manifest.toml", manifestBytes)
	writeTarString(t, tw, "bin/foo", []byte("original"))
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return outPath
}

func writeTarString(t *testing.T, tw *tar.Writer, name string, data []byte) {
	t.Helper()
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatal(err)
	}
}
