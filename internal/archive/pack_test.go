package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPackProducesZstdArchiveAndStableHash(t *testing.T) {
	staging := t.TempDir()
	if err := os.MkdirAll(filepath.Join(staging, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "bin", "widget"), []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}

	manifest := Manifest{Name: "widget", Version: "1.0.0"}

	out1 := filepath.Join(t.TempDir(), "widget-1.0.0.sp")
	hash1, err := Pack(staging, out1, manifest, 1704067200)
	if err != nil {
		t.Fatalf("Pack() failed: %v", err)
	}

	out2 := filepath.Join(t.TempDir(), "widget-1.0.0-again.sp")
	hash2, err := Pack(staging, out2, manifest, 1704067200)
	if err != nil {
		t.Fatalf("second Pack() failed: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("expected identical hashes for repeated packing, got %s and %s", hash1, hash2)
	}

	data, err := os.ReadFile(out1)
	if err != nil {
		t.Fatal(err)
	}
	if !IsZstd(data) {
		t.Error("expected packed archive to carry the zstd magic number")
	}
}

func TestPackDifferentContentProducesDifferentHash(t *testing.T) {
	stagingA := t.TempDir()
	if err := os.WriteFile(filepath.Join(stagingA, "data"), []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	stagingB := t.TempDir()
	if err := os.WriteFile(filepath.Join(stagingB, "data"), []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}

	manifest := Manifest{Name: "widget", Version: "1.0.0"}

	hashA, err := Pack(stagingA, filepath.Join(t.TempDir(), "a.sp"), manifest, 1704067200)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := Pack(stagingB, filepath.Join(t.TempDir(), "b.sp"), manifest, 1704067200)
	if err != nil {
		t.Fatal(err)
	}
	if hashA == hashB {
		t.Error("expected different content to produce different hashes")
	}
}
