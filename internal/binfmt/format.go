// Package binfmt detects ELF/Mach-O binaries, extracts and rewrites their
// runtime search paths and install names, and rewrites build-prefix
// references left behind in installed headers — the post-install path
// relocation phase between a build-system driver's install step and
// packaging.
package binfmt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format identifies a recognized binary container.
type Format int

const (
	Unknown Format = iota
	ELF
	MachO
	MachOFat
	Archive // ar(1) static archive — not a relocation target, reported so callers can skip it cleanly
)

func (f Format) String() string {
	switch f {
	case ELF:
		return "elf"
	case MachO:
		return "macho"
	case MachOFat:
		return "macho-fat"
	case Archive:
		return "archive"
	default:
		return "unknown"
	}
}

var (
	elfMagic   = []byte{0x7f, 'E', 'L', 'F'}
	machO32    = []byte{0xfe, 0xed, 0xfa, 0xce}
	machO64    = []byte{0xfe, 0xed, 0xfa, 0xcf}
	machO32Rev = []byte{0xce, 0xfa, 0xed, 0xfe}
	machO64Rev = []byte{0xcf, 0xfa, 0xed, 0xfe}
	fatMagic   = []byte{0xca, 0xfe, 0xba, 0xbe}
	arMagic    = []byte{'!', '<', 'a', 'r', 'c', 'h', '>', '\n'}
)

// DetectFormat reads path's magic bytes and classifies its container.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()

	magic := make([]byte, 8)
	n, err := f.Read(magic)
	if err != nil && !errors.Is(err, io.EOF) {
		return Unknown, fmt.Errorf("binfmt: reading magic: %w", err)
	}
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, elfMagic):
		return ELF, nil
	case len(magic) >= 4 && (bytes.Equal(magic[:4], machO32) || bytes.Equal(magic[:4], machO32Rev) ||
		bytes.Equal(magic[:4], machO64) || bytes.Equal(magic[:4], machO64Rev)):
		return MachO, nil
	case len(magic) >= 4 && bytes.Equal(magic[:4], fatMagic):
		return MachOFat, nil
	case len(magic) >= 8 && bytes.Equal(magic, arMagic):
		return Archive, nil
	default:
		return Unknown, nil
	}
}
