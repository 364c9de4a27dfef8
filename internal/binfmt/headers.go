package binfmt

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// headerDirs are the staging subdirectories RewriteHeaders scans: the
// Unix convention and the macOS framework convention.
var headerDirs = []string{"include", "Headers"}

// RewriteHeaders rewrites quoted #include lines under <staging>/include
// and <staging>/Headers that reference buildPrefix into a path relative
// to the including file, so the header no longer depends on the build
// sandbox existing after the build completes. Only the quoted include
// form (#include "...") is handled, matching how headers in this
// ecosystem are actually written for intra-package includes; an
// angle-bracket include naming the build prefix is left unchanged.
func RewriteHeaders(stagingDir, buildPrefix string) error {
	for _, sub := range headerDirs {
		dir := filepath.Join(stagingDir, sub)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return rewriteHeaderFile(path, stagingDir, buildPrefix)
		})
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "binfmt.RewriteHeaders", err, "walking %s", dir)
		}
	}
	return nil
}

func rewriteHeaderFile(path, stagingDir, buildPrefix string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	relPath, err := filepath.Rel(stagingDir, path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	prefix := buildPrefix + "/"
	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		rewritten, ok := rewriteIncludeLine(line, relPath, prefix)
		if ok {
			lines[i] = rewritten
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), info.Mode())
}

// rewriteIncludeLine rewrites a single #include "<buildPrefix>/..." line
// to reference the same file by a path relative to path's own directory.
// path is the including file's path relative to the staging root, and
// the included file is taken to sit at the same position under the
// staging root as it does under the build prefix.
func rewriteIncludeLine(line, path, prefix string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, `#include "`) {
		return line, false
	}
	start := strings.Index(trimmed, `"`) + 1
	rest := trimmed[start:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return line, false
	}
	included := rest[:end]
	if !strings.HasPrefix(included, prefix) {
		return line, false
	}

	rel, err := filepath.Rel(filepath.Dir(path), strings.TrimPrefix(included, prefix))
	if err != nil {
		return line, false
	}
	return strings.Replace(line, included, filepath.ToSlash(rel), 1), true
}
