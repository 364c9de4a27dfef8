package binfmt

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"strings"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// lcRpath is Mach-O's LC_RPATH load command; not exported by debug/macho.
const lcRpath macho.LoadCmd = 0x8000001c

// ExtractRPaths reads the runtime search path entries recorded in path.
// For ELF it prefers DT_RUNPATH over the legacy DT_RPATH; for Mach-O it
// reads every LC_RPATH load command; for a fat binary it reads the first
// architecture slice, since pm's own builds never vary RPATH by arch.
// Returns a nil slice, not an error, for a binary with no RPATH entries.
func ExtractRPaths(path string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "binfmt.ExtractRPaths", err, "detecting format of %s", path)
	}

	switch format {
	case ELF:
		return extractELFRPaths(path)
	case MachO:
		return extractMachORPaths(path)
	case MachOFat:
		return extractFatRPaths(path)
	default:
		return nil, nil
	}
}

func extractELFRPaths(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindExternal, "binfmt.ExtractRPaths", err, "opening ELF %s", path)
	}
	defer f.Close()

	if runpaths, err := f.DynString(elf.DT_RUNPATH); err == nil && len(runpaths) > 0 {
		return splitRPath(runpaths[0]), nil
	}
	if rpaths, err := f.DynString(elf.DT_RPATH); err == nil && len(rpaths) > 0 {
		return splitRPath(rpaths[0]), nil
	}
	return nil, nil
}

func splitRPath(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ":") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extractMachORPaths(path string) ([]string, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindExternal, "binfmt.ExtractRPaths", err, "opening Mach-O %s", path)
	}
	defer f.Close()
	return rpathsFromLoads(f), nil
}

func extractFatRPaths(path string) ([]string, error) {
	ff, err := macho.OpenFat(path)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindExternal, "binfmt.ExtractRPaths", err, "opening fat binary %s", path)
	}
	defer ff.Close()
	if len(ff.Arches) == 0 {
		return nil, nil
	}
	return rpathsFromLoads(ff.Arches[0].File), nil
}

// rpathsFromLoads walks f's raw load commands looking for LC_RPATH,
// since debug/macho does not expose RPATH entries through typed fields.
func rpathsFromLoads(f *macho.File) []string {
	var rpaths []string
	for _, load := range f.Loads {
		raw := load.Raw()
		if len(raw) < 12 {
			continue
		}
		if macho.LoadCmd(f.ByteOrder.Uint32(raw[0:4])) != lcRpath {
			continue
		}
		pathOffset := f.ByteOrder.Uint32(raw[8:12])
		if int(pathOffset) >= len(raw) {
			continue
		}
		pathBytes := raw[pathOffset:]
		if idx := bytes.IndexByte(pathBytes, 0); idx >= 0 {
			pathBytes = pathBytes[:idx]
		}
		rpaths = append(rpaths, string(pathBytes))
	}
	return rpaths
}

// lcIDDylib is Mach-O's LC_ID_DYLIB load command, carrying a dylib's own
// install name. debug/macho only parses the dependency-side LC_DYLIB
// command into a typed Dylib struct, so this one is read from raw bytes
// the same way ExtractRPaths reads LC_RPATH.
const lcIDDylib macho.LoadCmd = 0xd

// MachOInstallName returns the LC_ID_DYLIB install name recorded in a
// Mach-O shared library, or "" if path carries no such command (e.g. an
// executable rather than a dylib).
func MachOInstallName(path string) (string, error) {
	f, err := macho.Open(path)
	if err != nil {
		return "", pmerrors.Wrap(pmerrors.KindExternal, "binfmt.MachOInstallName", err, "opening Mach-O %s", path)
	}
	defer f.Close()

	for _, load := range f.Loads {
		raw := load.Raw()
		if len(raw) < 12 {
			continue
		}
		if macho.LoadCmd(f.ByteOrder.Uint32(raw[0:4])) != lcIDDylib {
			continue
		}
		nameOffset := f.ByteOrder.Uint32(raw[8:12])
		if int(nameOffset) >= len(raw) {
			continue
		}
		nameBytes := raw[nameOffset:]
		if idx := bytes.IndexByte(nameBytes, 0); idx >= 0 {
			nameBytes = nameBytes[:idx]
		}
		return string(nameBytes), nil
	}
	return "", nil
}
