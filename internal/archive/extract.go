package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// Extract unpacks archivePath into destPath, auto-detecting the format
// from its filename extension and stripping a single shared top-level
// directory the way spec'd archive stripping requires. destPath must
// already exist.
func Extract(archivePath, destPath string) error {
	format := DetectFormat(archivePath)

	f, err := os.Open(archivePath)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "archive.Extract", err, "opening %s", archivePath)
	}
	defer f.Close()

	switch format {
	case "tar.gz":
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.Extract", err, "reading gzip header of %s", archivePath)
		}
		defer gzr.Close()
		return extractTar(tar.NewReader(gzr), destPath)
	case "tar.bz2":
		return extractTar(tar.NewReader(bzip2.NewReader(f)), destPath)
	case "tar.xz":
		xzr, err := xz.NewReader(f)
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.Extract", err, "reading xz header of %s", archivePath)
		}
		return extractTar(tar.NewReader(xzr), destPath)
	case "tar.zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.Extract", err, "reading zstd header of %s", archivePath)
		}
		defer zr.Close()
		return extractTar(tar.NewReader(zr), destPath)
	case "tar":
		return extractTar(tar.NewReader(f), destPath)
	case "zip":
		return extractZip(archivePath, destPath)
	default:
		return pmerrors.New(pmerrors.KindInvalidInput, "archive.Extract", "unrecognized archive extension: %s", archivePath)
	}
}

// DetectFormat returns the archive format implied by name's extension, or
// "unknown" if none of the recognized suffixes match.
func DetectFormat(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tbz"):
		return "tar.bz2"
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return "tar.xz"
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return "tar.zst"
	case strings.HasSuffix(lower, ".tar"):
		return "tar"
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	default:
		return "unknown"
	}
}

// isWithin reports whether target is path or a descendant of base, the
// path-traversal guard every archive entry is checked against before
// it's written.
func isWithin(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

func validateSymlinkTarget(linkTarget, linkLocation, destPath string) error {
	if filepath.IsAbs(linkTarget) {
		return pmerrors.New(pmerrors.KindInvalidInput, "archive.extractTar", "absolute symlink targets are not allowed: %s -> %s", linkLocation, linkTarget)
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isWithin(resolved, destPath) {
		return pmerrors.New(pmerrors.KindInvalidInput, "archive.extractTar", "symlink target escapes destination: %s -> %s", linkLocation, linkTarget)
	}
	return nil
}

func extractTar(tr *tar.Reader, destPath string) error {
	entries, err := readAllTarEntries(tr)
	if err != nil {
		return err
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.header.Name
	}
	top := stripComponent(names)

	for _, e := range entries {
		rel := stripName(e.header.Name, top)
		if rel == "" {
			continue
		}
		target := filepath.Join(destPath, rel)
		if !isWithin(target, destPath) {
			return pmerrors.New(pmerrors.KindInvalidInput, "archive.extractTar", "entry escapes destination: %s", e.header.Name)
		}

		switch e.header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(target, e.data, os.FileMode(e.header.Mode)); err != nil {
				return pmerrors.Wrap(pmerrors.KindTransient, "archive.extractTar", err, "writing %s", target)
			}
		case tar.TypeSymlink:
			if err := validateSymlinkTarget(e.header.Linkname, target, destPath); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(e.header.Linkname, target); err != nil {
				return pmerrors.Wrap(pmerrors.KindTransient, "archive.extractTar", err, "symlinking %s", target)
			}
		}
	}
	return nil
}

type tarEntry struct {
	header *tar.Header
	data   []byte
}

func readAllTarEntries(tr *tar.Reader) ([]tarEntry, error) {
	var entries []tarEntry
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.extractTar", err, "reading tar header")
		}
		var data []byte
		if header.Typeflag == tar.TypeReg {
			data, err = io.ReadAll(tr)
			if err != nil {
				return nil, pmerrors.Wrap(pmerrors.KindTransient, "archive.extractTar", err, "reading %s", header.Name)
			}
		}
		entries = append(entries, tarEntry{header: header, data: data})
	}
	return entries, nil
}

func extractZip(archivePath, destPath string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.extractZip", err, "opening %s", archivePath)
	}
	defer r.Close()

	names := make([]string, len(r.File))
	for i, zf := range r.File {
		names[i] = zf.Name
	}
	top := stripComponent(names)

	for _, zf := range r.File {
		rel := stripName(zf.Name, top)
		if rel == "" {
			continue
		}
		target := filepath.Join(destPath, rel)
		if !isWithin(target, destPath) {
			return pmerrors.New(pmerrors.KindInvalidInput, "archive.extractZip", "entry escapes destination: %s", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		rc, err := zf.Open()
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindInvalidInput, "archive.extractZip", err, "opening %s in zip", zf.Name)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode())
		if err != nil {
			rc.Close()
			return pmerrors.Wrap(pmerrors.KindTransient, "archive.extractZip", err, "creating %s", target)
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "archive.extractZip", err, "writing %s", target)
		}
	}
	return nil
}
