package recipe

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// copyTree recursively copies src into dst, preserving file modes and
// symlinks, for the "copy" build step.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if d.Type()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return pmerrors.Wrap(pmerrors.KindTransient, "recipe.copyTree", err, "reading symlink %s", path)
			}
			return os.Symlink(linkTarget, target)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "recipe.copyFile", err, "opening %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "recipe.copyFile", err, "creating %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "recipe.copyFile", err, "copying %s to %s", src, dst)
	}
	return nil
}
