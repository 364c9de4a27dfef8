package archive

import (
	"bytes"

	"github.com/BurntSushi/toml"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// FileEntry records one payload file's path (relative to the install
// prefix) and content hash, the unit the state engine and guard verify
// against.
type FileEntry struct {
	Path string `toml:"path"`
	Hash string `toml:"hash"`
}

// Manifest is the .sp archive's root-level manifest.toml: package
// identity, declared run-time dependencies, and the hash of every
// payload file.
type Manifest struct {
	Name         string      `toml:"name"`
	Version      string      `toml:"version"`
	Dependencies []string    `toml:"dependencies"`
	Files        []FileEntry `toml:"files"`
}

// Encode serializes m as TOML.
func (m Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindInternal, "archive.Manifest.Encode", err, "encoding manifest for %s@%s", m.Name, m.Version)
	}
	return buf.Bytes(), nil
}

// DecodeManifest parses a manifest.toml document.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return Manifest{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.DecodeManifest", err, "parsing manifest.toml")
	}
	if m.Name == "" {
		return Manifest{}, pmerrors.New(pmerrors.KindInvalidInput, "archive.DecodeManifest", "manifest is missing a name")
	}
	if m.Version == "" {
		return Manifest{}, pmerrors.New(pmerrors.KindInvalidInput, "archive.DecodeManifest", "manifest is missing a version")
	}
	return m, nil
}
