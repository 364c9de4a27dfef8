package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/store"
)

func timeFromEpoch(sourceDateEpoch int64) time.Time {
	return time.Unix(sourceDateEpoch, 0).UTC()
}

// Pack builds a deterministic zstd-compressed tar of stagingDir rooted
// at manifest.toml plus every payload file, writes it to outPath, and
// returns the hash of the resulting archive. Entries are sorted, and
// every header's mtime/uid/gid/mode is pinned so two packings of a
// byte-identical staging tree produce byte-identical archives —
// matching the same SOURCE_DATE_EPOCH-driven determinism internal/sbom
// pins its own output to.
func Pack(stagingDir, outPath string, manifest Manifest, sourceDateEpoch int64) (store.Hash, error) {
	manifestBytes, err := manifest.Encode()
	if err != nil {
		return store.Hash{}, err
	}

	paths, err := sortedPaths(stagingDir)
	if err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "walking %s", stagingDir)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "creating %s", outPath)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindInternal, "archive.Pack", err, "creating zstd writer")
	}
	tw := tar.NewWriter(zw)

	if err := writeTarEntry(tw, "manifest.toml", manifestBytes, 0644, sourceDateEpoch); err != nil {
		return store.Hash{}, err
	}

	for _, p := range paths {
		rel, err := filepath.Rel(stagingDir, p)
		if err != nil {
			return store.Hash{}, err
		}
		info, err := os.Lstat(p)
		if err != nil {
			return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "stat %s", p)
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "reading %s", p)
		}
		mode := int64(0644)
		if info.Mode()&0111 != 0 {
			mode = 0755
		}
		if err := writeTarEntry(tw, filepath.ToSlash(rel), data, mode, sourceDateEpoch); err != nil {
			return store.Hash{}, err
		}
	}

	if err := tw.Close(); err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "closing tar writer")
	}
	if err := zw.Close(); err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "closing zstd writer")
	}
	if err := out.Close(); err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "closing %s", outPath)
	}

	written, err := os.Open(outPath)
	if err != nil {
		return store.Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "reopening %s to hash", outPath)
	}
	defer written.Close()
	return store.HashReader(written)
}

func writeTarEntry(tw *tar.Writer, name string, data []byte, mode, sourceDateEpoch int64) error {
	header := &tar.Header{
		Name:     name,
		Mode:     mode,
		Size:     int64(len(data)),
		ModTime:  timeFromEpoch(sourceDateEpoch),
		Uid:      0,
		Gid:      0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "writing header for %s", name)
	}
	if _, err := tw.Write(data); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "archive.Pack", err, "writing content of %s", name)
	}
	return nil
}

func sortedPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
