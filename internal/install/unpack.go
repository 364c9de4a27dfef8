package install

import (
	"archive/tar"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/opt-pm/pm/internal/archive"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/state"
	"github.com/opt-pm/pm/internal/store"
)

// IngestResult is what Ingest recovers from one .sp archive: the manifest
// the state engine needs to materialize it, the package names it declares
// a run-time dependency on, and any warnings recovery produced along the
// way.
type IngestResult struct {
	Manifest     state.PackageManifest
	Dependencies []string
	Warnings     []string
}

// Ingest validates and unpacks the .sp archive at path, content-addressing
// every payload file into st and returning the package manifest the state
// engine needs to materialize it. Hash mismatches are handled per
// recovery's configured strategy rather than always aborting the whole
// install, matching spec.md §4.9's per-file recovery behavior; a nil
// recovery runs FailFast.
func Ingest(st *store.Store, path string, recovery *ErrorRecoveryManager) (IngestResult, error) {
	if recovery == nil {
		recovery = NewErrorRecoveryManager(FailFast)
	}

	format, err := ValidateFormat(path)
	if err != nil {
		return IngestResult{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return IngestResult{}, pmerrors.Wrap(pmerrors.KindNotFound, "install.Ingest", err, "opening %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if format == FormatZstd {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return IngestResult{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "install.Ingest", err, "opening zstd stream in %s", path)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)

	header, err := tr.Next()
	if err != nil {
		return IngestResult{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "install.Ingest", err, "%s: reading manifest entry", path)
	}
	if header.Name != "manifest.toml" {
		return IngestResult{}, pmerrors.New(pmerrors.KindInvalidInput, "install.Ingest", "%s: first archive entry must be manifest.toml, got %q", path, header.Name)
	}
	manifestBytes, err := io.ReadAll(tr)
	if err != nil {
		return IngestResult{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "install.Ingest", err, "%s: reading manifest.toml", path)
	}
	manifest, err := archive.DecodeManifest(manifestBytes)
	if err != nil {
		return IngestResult{}, err
	}

	declared := make(map[string]archive.FileEntry, len(manifest.Files))
	for _, fe := range manifest.Files {
		declared[fe.Path] = fe
	}

	tmpDir, err := os.MkdirTemp("", "pm-ingest-*")
	if err != nil {
		return IngestResult{}, pmerrors.Wrap(pmerrors.KindTransient, "install.Ingest", err, "creating ingest scratch directory")
	}
	defer os.RemoveAll(tmpDir)

	var files []state.FileEntry
	var warnings []string

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return IngestResult{Warnings: warnings}, pmerrors.Wrap(pmerrors.KindInvalidInput, "install.Ingest", err, "%s: reading archive entry", path)
		}

		switch header.Typeflag {
		case tar.TypeSymlink:
			files = append(files, state.FileEntry{Path: header.Name, SymlinkTarget: header.Linkname})
		case tar.TypeReg:
			entry, warned, err := ingestFile(st, tmpDir, tr, header, declared[header.Name], recovery)
			if err != nil {
				return IngestResult{Warnings: warnings}, err
			}
			if warned != "" {
				warnings = append(warnings, warned)
			}
			if entry != nil {
				files = append(files, *entry)
			}
		default:
			// directories and anything else carry no state of their own
		}
	}

	return IngestResult{
		Manifest:     state.PackageManifest{Name: manifest.Name, Version: manifest.Version, Files: files},
		Dependencies: manifest.Dependencies,
		Warnings:     warnings,
	}, nil
}

// ingestFile writes one regular tar entry to a scratch file, hashes it
// into the store, and checks the result against the manifest's declared
// hash — applying recovery's strategy rather than failing outright when
// they disagree.
func ingestFile(st *store.Store, tmpDir string, r io.Reader, header *tar.Header, declared archive.FileEntry, recovery *ErrorRecoveryManager) (*state.FileEntry, string, error) {
	tmp, err := os.CreateTemp(tmpDir, "entry-*")
	if err != nil {
		return nil, "", pmerrors.Wrap(pmerrors.KindTransient, "install.ingestFile", err, "creating scratch file for %s", header.Name)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, "", pmerrors.Wrap(pmerrors.KindTransient, "install.ingestFile", err, "writing %s", header.Name)
	}
	tmp.Close()

	hash, err := st.Put(tmpPath)
	if err != nil {
		return nil, "", pmerrors.Wrap(pmerrors.KindTransient, "install.ingestFile", err, "storing %s", header.Name)
	}

	if declared.Path == "" {
		mismatch := pmerrors.New(pmerrors.KindInvalidInput, "install.ingestFile", "%s: not listed in manifest.toml", header.Name)
		return recoverFileError(hash, header, mismatch, recovery)
	}

	expected, err := store.ParseHash(declared.Hash)
	if err != nil {
		return nil, "", pmerrors.Wrap(pmerrors.KindInvalidInput, "install.ingestFile", err, "%s: parsing manifest hash", header.Name)
	}
	if hash != expected {
		mismatch := pmerrors.New(pmerrors.KindIntegrity, "install.ingestFile", "%s: content hash %s does not match declared hash %s", header.Name, hash, expected)
		return recoverFileError(hash, header, mismatch, recovery)
	}

	return &state.FileEntry{Path: header.Name, Hash: hash, Mode: uint32(header.Mode)}, "", nil
}

func recoverFileError(hash store.Hash, header *tar.Header, cause error, recovery *ErrorRecoveryManager) (*state.FileEntry, string, error) {
	action, err := recovery.HandleError(cause)
	if err != nil {
		return nil, "", err
	}
	switch action.Kind {
	case ActionFail:
		return nil, "", cause
	case ActionSkip:
		return nil, action.Warning, nil
	default: // ActionConvertToWarning, ActionCustomFix
		return &state.FileEntry{Path: header.Name, Hash: hash, Mode: uint32(header.Mode)}, action.Warning, nil
	}
}
