// Package install validates .sp package archives and drives the
// install/uninstall/update/rollback pipeline that sits above
// internal/resolver, internal/store, internal/state, and internal/guard —
// the one place all four are wired together, since internal/state
// deliberately never imports internal/guard itself.
package install

import (
	"bytes"
	"os"
	"strings"

	"github.com/opt-pm/pm/internal/archive"
	"github.com/opt-pm/pm/internal/pmerrors"
)

// PackageFormat is the on-disk framing a validated .sp file was found to
// use.
type PackageFormat int

const (
	// FormatZstd is a zstd-compressed tar, the format internal/archive.Pack
	// produces.
	FormatZstd PackageFormat = iota
	// FormatTar is a plain, uncompressed tar — accepted for archives
	// assembled by hand or by a tool that chose not to compress.
	FormatTar
)

func (f PackageFormat) String() string {
	if f == FormatZstd {
		return "zstd"
	}
	return "tar"
}

const (
	// minPackageSize rejects empty or truncated archives before any
	// extraction work begins.
	minPackageSize = 64
	// maxPackageSize bounds how large a single .sp file this pipeline will
	// attempt to validate, guarding against a hostile or corrupt archive
	// claiming an unbounded size.
	maxPackageSize = 8 << 30 // 8 GiB
)

var tarMagic = []byte("ustar")

// ValidatePackageExtension requires path to end in ".sp".
func ValidatePackageExtension(path string) error {
	if !strings.HasSuffix(path, ".sp") {
		return pmerrors.New(pmerrors.KindInvalidInput, "install.ValidatePackageExtension", "%s: file must have a .sp extension", path)
	}
	return nil
}

// ValidateFileSize stats path and rejects it if empty or implausibly large.
func ValidateFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, pmerrors.Wrap(pmerrors.KindNotFound, "install.ValidateFileSize", err, "stat %s", path)
	}
	size := info.Size()
	if size < minPackageSize {
		return 0, pmerrors.New(pmerrors.KindInvalidInput, "install.ValidateFileSize", "%s: file is too small (%d bytes) to be a valid package", path, size)
	}
	if size > maxPackageSize {
		return 0, pmerrors.New(pmerrors.KindInvalidInput, "install.ValidateFileSize", "%s: file is too large (%d bytes, limit %d)", path, size, maxPackageSize)
	}
	return size, nil
}

// DetectPackageFormat reads path's leading bytes and reports whether it is
// zstd-compressed or a plain tar, per spec.md's "zstd magic 28 B5 2F FD"
// framing for the .sp format.
func DetectPackageFormat(path string) (PackageFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, pmerrors.Wrap(pmerrors.KindNotFound, "install.DetectPackageFormat", err, "opening %s", path)
	}
	defer f.Close()

	header := make([]byte, 262) // tar's magic lives at offset 257
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return 0, pmerrors.Wrap(pmerrors.KindInvalidInput, "install.DetectPackageFormat", err, "reading %s", path)
	}
	header = header[:n]

	if archive.IsZstd(header) {
		return FormatZstd, nil
	}
	if len(header) >= 262 && bytes.Equal(header[257:262], tarMagic) {
		return FormatTar, nil
	}
	return 0, pmerrors.New(pmerrors.KindInvalidInput, "install.DetectPackageFormat", "%s: unrecognized package format (not zstd or tar)", path)
}

// ValidateFormat runs the extension, size, and magic-byte checks in
// sequence, the three steps spec.md §4.9 names before a package's manifest
// is ever parsed.
func ValidateFormat(path string) (PackageFormat, error) {
	if err := ValidatePackageExtension(path); err != nil {
		return 0, err
	}
	if _, err := ValidateFileSize(path); err != nil {
		return 0, err
	}
	return DetectPackageFormat(path)
}
