package updater

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/dtq1997/steamshelf-updater/internal/archive"
	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

// Staged is an extracted release waiting to be applied.
type Staged struct {
	// Dir holds the extracted files.
	Dir string
	// Files are slash-separated paths relative to Dir.
	Files []string
	// Version is the staged release.
	Version release.Version
}

// Discard removes the staging directory.
func (s *Staged) Discard() error {
	return os.RemoveAll(s.Dir)
}

// Stage extracts a verified download into a fresh staging directory inside
// the installation's work directory.
func (u *Updater) Stage(ctx context.Context, d *Download) (staged *Staged, err error) {
	ctx = logger.WithName(ctx, "updater")

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(u.workDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	dir, err := os.MkdirTemp(u.workDir(), "staging-"+d.Version.String()+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	files, err := archive.Extract(d.Path, dir)
	if err != nil {
		return nil, fmt.Errorf("extract update: %w", err)
	}

	if len(files) == 0 {
		return nil, ErrNothingStaged
	}

	logger.InfoKV(ctx, "Update staged", "version", d.Version.String(), "files", len(files), "dir", dir)

	return &Staged{Dir: dir, Files: files, Version: d.Version}, nil
}

// replaced remembers one applied file for rollback.
type replaced struct {
	target  string
	created bool
}

// Apply replaces the installed files with the staged ones. It refuses to run
// while other instances of the application are running. Every replaced file
// keeps its previous contents next to it with OldSuffix; if any file fails,
// the files replaced so far are restored from those copies.
func (u *Updater) Apply(ctx context.Context, staged *Staged) (err error) {
	ctx = logger.WithName(ctx, "updater")

	pids, err := runningInstances(u.opts.Processes, u.opts.Executable)
	if err != nil {
		return err
	}

	if len(pids) > 0 {
		return fmt.Errorf("%w: %s (pid %v)", ErrAppRunning, u.opts.Executable, pids)
	}

	done := make([]replaced, 0, len(staged.Files))

	defer func() {
		if err == nil {
			return
		}

		logger.WarnKV(ctx, "Applying update failed, restoring previous files", "error", err, "replaced", len(done))

		if rollbackErr := rollback(done); rollbackErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rollbackErr))
		}
	}()

	for _, name := range staged.Files {
		if err = ctx.Err(); err != nil {
			return err
		}

		var r replaced

		r, err = u.applyFile(ctx, staged.Dir, name)
		if r.target != "" {
			done = append(done, r)
		}

		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}

	logger.InfoKV(ctx, "Update applied", "version", staged.Version.String(), "files", len(done))

	return nil
}

// applyFile swaps one file into place with go-update, checksum verified.
func (u *Updater) applyFile(ctx context.Context, stagingDir, name string) (replaced, error) {
	source := filepath.Join(stagingDir, filepath.FromSlash(name))
	target := filepath.Join(u.opts.InstallDir, filepath.FromSlash(name))

	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return replaced{}, err
	}

	info, err := os.Stat(source)
	if err != nil {
		return replaced{}, err
	}

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = DefaultFileMode
	}

	r := replaced{target: target}

	// A leftover from an earlier update must not be mistaken for this file's backup.
	if err = os.Remove(target + OldSuffix); err != nil && !os.IsNotExist(err) {
		return replaced{}, err
	}

	// go-update renames the old file away, so a new file needs a placeholder.
	if _, err = os.Stat(target); os.IsNotExist(err) {
		if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return replaced{}, err
		}

		if err = os.WriteFile(target, nil, mode); err != nil {
			return replaced{}, err
		}

		r.created = true
	}

	checksum := sha256.Sum256(data)

	logger.DebugKV(ctx, "Replacing file", "file", name)

	options := goupdate.Options{
		TargetPath:  target,
		TargetMode:  mode,
		Checksum:    checksum[:],
		Hash:        ChecksumFunction,
		OldSavePath: target + OldSuffix,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		// go-update may have moved the old file away before failing.
		return r, err
	}

	return r, nil
}

// rollback restores replaced files in reverse order.
func rollback(done []replaced) error {
	var errs []error

	for i := len(done) - 1; i >= 0; i-- {
		r := done[i]
		old := r.target + OldSuffix

		if r.created {
			if err := os.Remove(r.target); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}

			if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}

			continue
		}

		if _, err := os.Stat(old); err != nil {
			// Never moved away, so the target still holds the old contents.
			continue
		}

		if err := os.Rename(old, r.target); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", r.target, err))
		}
	}

	return errors.Join(errs...)
}
