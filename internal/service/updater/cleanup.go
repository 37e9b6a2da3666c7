package updater

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

// Cleanup removes what earlier updates left in dir: files replaced by Apply
// (kept with OldSuffix while the old binary was still running) and the work
// directory with abandoned downloads and staging directories. It reports how
// many entries were removed.
func Cleanup(ctx context.Context, dir string) (int, error) {
	ctx = logger.WithName(ctx, "updater")

	var (
		removed int
		errs    []error
	)

	work := filepath.Join(dir, WorkDirName)

	if _, err := os.Stat(work); err == nil {
		if err = os.RemoveAll(work); err != nil {
			errs = append(errs, err)
		} else {
			removed++
		}
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path == work {
				return fs.SkipDir
			}

			return nil
		}

		if !strings.HasSuffix(d.Name(), OldSuffix) {
			return nil
		}

		if err = os.Remove(path); err != nil {
			// A still-running old binary on Windows cannot be removed yet.
			logger.WarnKV(ctx, "Unable to remove leftover file", "path", path, "error", err)
			errs = append(errs, err)

			return nil
		}

		removed++

		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}

	if removed > 0 {
		logger.InfoKV(ctx, "Removed update leftovers", "dir", dir, "count", removed)
	}

	return removed, errors.Join(errs...)
}
