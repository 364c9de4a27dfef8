// Package archive implements the .sp package format: extracting a
// fetched source archive into a per-build working directory (with the
// same single-top-level-directory stripping heuristic for both tar and
// zip), and packaging a staged install tree into a deterministic
// tar+zstd archive alongside its manifest.toml.
package archive

import "bytes"

// zstdMagic is the four leading bytes of a zstd frame, used to tell a
// zstd-compressed .sp archive apart from a raw tar one without relying
// on a file extension.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// IsZstd reports whether data begins with the zstd frame magic number.
func IsZstd(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// IsArchive reports whether name's extension is one of the source-archive
// formats Extract knows how to unpack, per the fetch step's
// auto-extraction rule: ".tar.gz|.tgz|.tar.bz2|.tar.xz|.zip", generalized
// to also recognize the plain ".tar" and ".tar.zst" forms Extract
// supports for completeness.
func IsArchive(name string) bool {
	return DetectFormat(name) != "unknown"
}
